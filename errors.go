package client

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingEndpoint is returned by the verb methods when called with an
	// empty endpoint path.
	ErrMissingEndpoint = errors.New("endpoint path must be set")

	// ErrTransportMissing is returned by [New] and [NewTokenProvider] when
	// the HTTP transport has been cleared and no custom executor is
	// available to carry requests.
	ErrTransportMissing = errors.New("no HTTP transport available - supply an http.Client or a custom Executor")

	// ErrMissingClientID is returned by token acquisition when no client id
	// could be resolved from options, factories, or the environment.
	ErrMissingClientID = errors.New("client id not configured")

	// ErrMissingClientSecret is returned by token acquisition when no client
	// secret could be resolved from options, factories, or the environment.
	ErrMissingClientSecret = errors.New("client secret not configured")
)

// TokenEndpointError reports a failed or malformed response from the OAuth
// token endpoint. StatusCode is the HTTP status and Body a best-effort
// snippet of the response body.
type TokenEndpointError struct {
	StatusCode int
	Body       string
}

func (e *TokenEndpointError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Body)
}
