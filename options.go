package client

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultBaseURL is the production Meridian API endpoint.
	DefaultBaseURL = "https://api.meridian.dev/v1"

	// DefaultTokenURL is the OAuth token endpoint used for the
	// client_credentials grant.
	DefaultTokenURL = "https://auth.meridian.dev/oauth/token"

	// DefaultAudience is the audience claim requested for issued tokens.
	DefaultAudience = "https://api.meridian.dev/"

	// DefaultExpirationBuffer is how long before actual expiry a cached
	// token is treated as stale.
	DefaultExpirationBuffer = time.Minute
)

// Environment variables consulted when the corresponding option is not set.
const (
	EnvToken        = "MERIDIAN_TOKEN"
	EnvClientID     = "MERIDIAN_CLIENT_ID"
	EnvClientSecret = "MERIDIAN_CLIENT_SECRET"
)

type Option func(*Options)

type Options struct {
	httpClient         *http.Client
	executor           Executor
	tokenURL           string
	audience           string
	scopes             []string
	token              string
	tokenFunc          func(context.Context) (string, error)
	clientID           string
	clientIDFunc       func(context.Context) (string, error)
	clientSecret       string
	clientSecretFunc   func(context.Context) (string, error)
	expirationBuffer   time.Duration
	defaultHeaders     map[string]string
	defaultHeadersFunc func(context.Context) (map[string]string, error)
	environment        func(string) (string, bool)
	requestLogger      RequestLogger
	retryCount         int
	retryWaitTime      time.Duration
	retryMaxWaitTime   time.Duration
	retryPolicy        func(*resty.Response, error) bool
}

func newClientOptions() *Options {
	return &Options{
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		tokenURL:         DefaultTokenURL,
		audience:         DefaultAudience,
		expirationBuffer: DefaultExpirationBuffer,
		defaultHeaders:   map[string]string{},
		environment:      os.LookupEnv,
		requestLogger:    &NoopLogger{},
		retryCount:       3,
		retryWaitTime:    500 * time.Millisecond,
		retryMaxWaitTime: 3 * time.Second,
		retryPolicy:      DefaultRetryPolicy,
	}
}

// WithHTTPClient sets the underlying HTTP client used for both token
// acquisition and API requests. Passing nil clears the transport entirely;
// [New] then fails with [ErrTransportMissing] unless a custom executor is
// supplied via [WithExecutor].
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *Options) {
		o.httpClient = httpClient
	}
}

// WithExecutor replaces the built-in resty executor with a custom one, e.g.
// a schema-generated API client. The client composes headers and delegates
// every verb call to it unchanged.
func WithExecutor(executor Executor) Option {
	return func(o *Options) {
		if executor != nil {
			o.executor = executor
		}
	}
}

// WithTokenURL overrides the OAuth token endpoint.
func WithTokenURL(tokenURL string) Option {
	return func(o *Options) {
		if strings.TrimSpace(tokenURL) != "" {
			o.tokenURL = tokenURL
		}
	}
}

// WithAudience overrides the audience requested for issued tokens.
func WithAudience(audience string) Option {
	return func(o *Options) {
		if strings.TrimSpace(audience) != "" {
			o.audience = audience
		}
	}
}

// WithScopes sets the OAuth scopes requested for issued tokens. Scopes are
// joined with single spaces in the grant request; when none are set the
// scope field is omitted.
func WithScopes(scopes ...string) Option {
	return func(o *Options) {
		o.scopes = scopes
	}
}

// WithToken sets a manual override token. When set, the token provider
// returns it on every call without consulting the cache or the network.
func WithToken(token string) Option {
	return func(o *Options) {
		o.token = token
	}
}

// WithTokenFunc sets a factory for the override token. The factory is
// re-invoked on every token acquisition; its result is never cached.
func WithTokenFunc(fn func(context.Context) (string, error)) Option {
	return func(o *Options) {
		o.tokenFunc = fn
	}
}

// WithClientID sets the OAuth client id used for the client_credentials
// grant.
func WithClientID(clientID string) Option {
	return func(o *Options) {
		o.clientID = clientID
	}
}

// WithClientIDFunc sets a factory for the OAuth client id, re-invoked on
// every token refresh.
func WithClientIDFunc(fn func(context.Context) (string, error)) Option {
	return func(o *Options) {
		o.clientIDFunc = fn
	}
}

// WithClientSecret sets the OAuth client secret used for the
// client_credentials grant.
func WithClientSecret(clientSecret string) Option {
	return func(o *Options) {
		o.clientSecret = clientSecret
	}
}

// WithClientSecretFunc sets a factory for the OAuth client secret,
// re-invoked on every token refresh.
func WithClientSecretFunc(fn func(context.Context) (string, error)) Option {
	return func(o *Options) {
		o.clientSecretFunc = fn
	}
}

// WithExpirationBuffer sets how long before actual expiry a cached token is
// treated as stale. Regardless of the buffer, a freshly issued token is
// cached for at least five seconds.
func WithExpirationBuffer(buffer time.Duration) Option {
	return func(o *Options) {
		if buffer >= 0 {
			o.expirationBuffer = buffer
		}
	}
}

// WithDefaultHeader adds a header sent with every API request. Caller
// headers and the Authorization header set by the client take precedence on
// collision.
func WithDefaultHeader(header, value string) Option {
	return func(o *Options) {
		header = strings.TrimSpace(header)

		if header == "" {
			return
		}

		o.defaultHeaders[header] = value
	}
}

// WithDefaultHeaders replaces the default header set sent with every API
// request.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(o *Options) {
		if headers == nil {
			return
		}

		o.defaultHeaders = make(map[string]string, len(headers))
		for header, value := range headers {
			o.defaultHeaders[header] = value
		}
	}
}

// WithDefaultHeadersFunc sets a factory for the default header set,
// re-invoked on every request. When set it takes precedence over
// [WithDefaultHeader] and [WithDefaultHeaders].
func WithDefaultHeadersFunc(fn func(context.Context) (map[string]string, error)) Option {
	return func(o *Options) {
		o.defaultHeadersFunc = fn
	}
}

// WithEnvironment replaces the environment reader consulted for credential
// fallbacks. The default reads the process environment via os.LookupEnv.
func WithEnvironment(lookup func(string) (string, bool)) Option {
	return func(o *Options) {
		if lookup != nil {
			o.environment = lookup
		}
	}
}

func WithRequestLogger(logger RequestLogger) Option {
	return func(o *Options) {
		if logger != nil {
			o.requestLogger = logger
		}
	}
}

// WithRetryCount sets how many times a failed token-endpoint request is
// retried. API requests are never retried.
func WithRetryCount(count int) Option {
	return func(o *Options) {
		if count >= 0 {
			o.retryCount = count
		}
	}
}

func WithRetryWaitTime(waitTime time.Duration) Option {
	return func(o *Options) {
		if waitTime >= 100*time.Millisecond {
			o.retryWaitTime = waitTime
		}
	}
}

func WithRetryMaxWaitTime(maxWaitTime time.Duration) Option {
	return func(o *Options) {
		if maxWaitTime >= 100*time.Millisecond {
			o.retryMaxWaitTime = maxWaitTime
		}
	}
}

func WithRetryPolicy(policy func(*resty.Response, error) bool) Option {
	return func(o *Options) {
		if policy != nil {
			o.retryPolicy = policy
		}
	}
}

// authConfigured reports whether any token source is available: an override
// token, client credentials, or their environment fallbacks. When nothing is
// configured the client issues unauthenticated requests.
func (o *Options) authConfigured() bool {
	if o.token != "" || o.tokenFunc != nil {
		return true
	}

	if o.clientID != "" || o.clientIDFunc != nil || o.clientSecret != "" || o.clientSecretFunc != nil {
		return true
	}

	if o.environment != nil {
		for _, name := range []string{EnvToken, EnvClientID, EnvClientSecret} {
			if value, ok := o.environment(name); ok && value != "" {
				return true
			}
		}
	}

	return false
}
