// Package client provides an HTTP client for the Meridian API.
//
// The client wraps [github.com/go-resty/resty/v2] and manages OAuth2
// client-credentials tokens transparently: tokens are fetched on first use,
// cached until shortly before expiry, and refreshed with concurrent callers
// coalesced into a single token-endpoint request.
//
// # Basic Usage
//
//	c, err := client.New(client.DefaultBaseURL,
//	    client.WithClientID("my-client-id"),
//	    client.WithClientSecret("my-client-secret"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := c.Get(ctx, "/projects", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Configuration
//
// All configuration is supplied as [Option] functions passed to [New].
// Invalid values are silently ignored and the default is retained.
// Credentials may be given as literals ([WithClientID], [WithClientSecret]),
// as factories re-invoked on every token acquisition ([WithClientIDFunc],
// [WithClientSecretFunc]), or through the environment variables
// MERIDIAN_CLIENT_ID and MERIDIAN_CLIENT_SECRET.
//
// # Authentication
//
// A manually supplied token ([WithToken], [WithTokenFunc], or the
// MERIDIAN_TOKEN environment variable) always wins: it is resolved on every
// call before the cache is consulted, so a configured override token
// bypasses caching and refresh entirely. Without an override, the client
// performs the client_credentials grant against the Meridian token endpoint
// and caches the result until one minute (configurable via
// [WithExpirationBuffer]) before expiry.
//
// # Retry Behaviour
//
// Only the token-endpoint call is retried; API calls themselves are issued
// exactly once. [DefaultRetryPolicy] retries on HTTP 429 (rate limit) and
// 5xx server errors, and on transient connection errors. It respects the
// Retry-After response header for rate-limit backoff. Context cancellation,
// deadline exceeded, and DNS resolution errors are never retried. Supply a
// custom function via [WithRetryPolicy] to override this behaviour.
//
// # Logging
//
// Implement [RequestLogger] and supply it via [WithRequestLogger] to
// integrate with your logging library, or wrap a *slog.Logger with
// [NewSlogLogger]. The default [NoopLogger] discards all log output. Ensure
// your implementation redacts credentials and tokens from request and
// response bodies before persisting logs.
package client
