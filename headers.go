package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// HeadersFromMap converts a plain header map into an [http.Header] for use
// in [RequestOptions].
func HeadersFromMap(headers map[string]string) http.Header {
	h := http.Header{}
	for name, value := range headers {
		h.Set(name, value)
	}

	return h
}

// HeadersFromPairs converts an ordered list of name/value pairs into an
// [http.Header]. Repeated names accumulate as multiple values.
func HeadersFromPairs(pairs [][2]string) http.Header {
	h := http.Header{}
	for _, pair := range pairs {
		h.Add(pair[0], pair[1])
	}

	return h
}

// bearerValue prefixes token with "Bearer " unless it already carries the
// scheme.
func bearerValue(token string) string {
	if strings.HasPrefix(token, "Bearer ") {
		return token
	}

	return "Bearer " + token
}

// composeHeaders builds the outgoing header set for one request: default
// headers, then the Authorization header, then caller headers. Later entries
// win on name collision, compared case-insensitively via canonical header
// keys. An empty result means the request carries no headers at all.
func (c *Client) composeHeaders(ctx context.Context, caller http.Header) (http.Header, error) {
	composed := http.Header{}

	defaults, err := c.resolveDefaultHeaders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default headers: %w", err)
	}

	for name, value := range defaults {
		composed.Set(name, value)
	}

	if c.options.authConfigured() {
		token, err := c.provider.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve access token: %w", err)
		}

		if token != "" {
			composed.Set("Authorization", bearerValue(token))
		}
	}

	for name, values := range caller {
		composed.Del(name)
		for _, value := range values {
			composed.Add(name, value)
		}
	}

	return composed, nil
}

// resolveDefaultHeaders returns the configured default headers, invoking the
// factory per request when one is set.
func (c *Client) resolveDefaultHeaders(ctx context.Context) (map[string]string, error) {
	if c.options.defaultHeadersFunc != nil {
		return c.options.defaultHeadersFunc(ctx)
	}

	return c.options.defaultHeaders, nil
}
