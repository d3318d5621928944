package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"
)

const (
	// defaultTokenLifetime is assumed when the token endpoint omits
	// expires_in.
	defaultTokenLifetime = 3600 * time.Second

	// minTokenTTL is the floor on cache lifetime, even under an aggressive
	// expiration buffer.
	minTokenTTL = 5 * time.Second
)

// credential is the cached result of a token refresh. It is replaced as a
// whole under the mutex, never mutated in place.
type credential struct {
	token     string
	expiresAt time.Time
}

// tokenRequest is the client_credentials grant body.
type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Audience     string `json:"audience"`
	GrantType    string `json:"grant_type"`
	Scope        string `json:"scope,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// TokenProvider produces bearer tokens for the Meridian API. It caches the
// last issued token until shortly before expiry and coalesces concurrent
// refreshes into a single token-endpoint request. It is safe for concurrent
// use.
//
// A configured override token ([WithToken], [WithTokenFunc], or the
// MERIDIAN_TOKEN environment variable) is resolved on every call before the
// cache is consulted, so it permanently bypasses caching and refresh for
// this provider instance.
type TokenProvider struct {
	options *Options
	resty   *resty.Client

	mu    sync.RWMutex
	cred  *credential
	group singleflight.Group
	now   func() time.Time
}

// NewTokenProvider creates a standalone token provider for callers that need
// tokens without the request client. It fails with [ErrTransportMissing]
// when the HTTP transport has been cleared via WithHTTPClient(nil).
func NewTokenProvider(opts ...Option) (*TokenProvider, error) {
	options := newClientOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.httpClient == nil {
		return nil, ErrTransportMissing
	}

	return newTokenProvider(options), nil
}

func newTokenProvider(options *Options) *TokenProvider {
	var rc *resty.Client
	if options.httpClient != nil {
		rc = resty.NewWithClient(options.httpClient).
			SetRetryCount(options.retryCount).
			SetRetryWaitTime(options.retryWaitTime).
			SetRetryMaxWaitTime(options.retryMaxWaitTime).
			AddRetryCondition(options.retryPolicy)
	}

	return &TokenProvider{
		options: options,
		resty:   rc,
		now:     time.Now,
	}
}

// Token returns a valid bearer token, fetching or refreshing if necessary.
// Resolution order: override token, cached credential, network refresh.
// Concurrent callers arriving while a refresh is in flight share its result;
// at most one token-endpoint request is outstanding at any instant.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	override, err := p.overrideToken(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve override token: %w", err)
	}

	if override != "" {
		return override, nil
	}

	p.mu.RLock()
	if p.validLocked() {
		token := p.cred.token
		p.mu.RUnlock()
		return token, nil
	}
	p.mu.RUnlock()

	// The singleflight key is constant: one provider, one credential. The
	// flight is forgotten when it settles, so a failed refresh is retried by
	// the next call rather than replayed.
	result, err, _ := p.group.Do("refresh", func() (any, error) {
		// Double-check after winning the flight; a previous flight may have
		// refreshed while this caller was waiting.
		p.mu.RLock()
		if p.validLocked() {
			token := p.cred.token
			p.mu.RUnlock()
			return token, nil
		}
		p.mu.RUnlock()

		return p.refresh(ctx)
	})
	if err != nil {
		return "", err
	}

	return result.(string), nil
}

// overrideToken resolves the manual token: factory, then literal, then
// environment. Empty result means no override is configured.
func (p *TokenProvider) overrideToken(ctx context.Context) (string, error) {
	return resolveString(ctx, p.options.tokenFunc, p.options.token, p.options.environment, EnvToken)
}

// validLocked reports whether the cached credential is still usable. Callers
// must hold p.mu.
func (p *TokenProvider) validLocked() bool {
	return p.cred != nil && p.cred.expiresAt.After(p.now())
}

// refresh performs the client_credentials grant and replaces the cached
// credential on success.
func (p *TokenProvider) refresh(ctx context.Context) (string, error) {
	if p.resty == nil {
		return "", ErrTransportMissing
	}

	clientID, err := resolveString(ctx, p.options.clientIDFunc, p.options.clientID, p.options.environment, EnvClientID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve client id: %w", err)
	}

	if clientID == "" {
		return "", ErrMissingClientID
	}

	clientSecret, err := resolveString(ctx, p.options.clientSecretFunc, p.options.clientSecret, p.options.environment, EnvClientSecret)
	if err != nil {
		return "", fmt.Errorf("failed to resolve client secret: %w", err)
	}

	if clientSecret == "" {
		return "", ErrMissingClientSecret
	}

	grant := tokenRequest{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Audience:     p.options.audience,
		GrantType:    "client_credentials",
		Scope:        strings.Join(p.options.scopes, " "),
	}

	resp, err := p.resty.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(grant).
		Post(p.options.tokenURL)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}

	if !resp.IsSuccess() {
		endpointErr := &TokenEndpointError{
			StatusCode: resp.StatusCode(),
			Body:       errorBodySnippet(resp.Body()),
		}
		p.options.requestLogger.Warnf("token refresh failed: %v", endpointErr)

		return "", endpointErr
	}

	var payload tokenResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil || payload.AccessToken == "" {
		return "", &TokenEndpointError{
			StatusCode: resp.StatusCode(),
			Body:       "response missing access_token",
		}
	}

	expiresAt := p.now().Add(tokenTTL(payload.ExpiresIn, p.options.expirationBuffer))

	p.mu.Lock()
	p.cred = &credential{token: payload.AccessToken, expiresAt: expiresAt}
	p.mu.Unlock()

	p.options.requestLogger.Debugf("obtained new access token (expires: %s)", expiresAt.Format(time.RFC3339))

	return payload.AccessToken, nil
}

// tokenTTL computes the cache lifetime: the endpoint's expires_in (or the
// default lifetime when omitted) minus the expiration buffer, floored at
// minTokenTTL.
func tokenTTL(expiresIn int64, buffer time.Duration) time.Duration {
	lifetime := defaultTokenLifetime
	if expiresIn > 0 {
		lifetime = time.Duration(expiresIn) * time.Second
	}

	ttl := lifetime - buffer
	if ttl < minTokenTTL {
		ttl = minTokenTTL
	}

	return ttl
}

// resolveString resolves a value-or-factory configuration slot: the factory
// wins, then the literal, then the environment reader. Factories are invoked
// on every call; nothing is cached here.
func resolveString(ctx context.Context, fn func(context.Context) (string, error), literal string, env func(string) (string, bool), envName string) (string, error) {
	if fn != nil {
		return fn(ctx)
	}

	if literal != "" {
		return literal, nil
	}

	if env != nil {
		if value, ok := env(envName); ok {
			return value, nil
		}
	}

	return "", nil
}

// errorBodySnippet extracts a readable message from a failed token-endpoint
// response body.
func errorBodySnippet(body []byte) string {
	if len(body) == 0 {
		return "(empty error body)"
	}

	return string(body)
}
