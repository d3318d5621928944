package client

import (
	"context"
	"net/http"
	"strings"
)

// Client is an authenticated Meridian API client. Each verb method composes
// the request headers (defaults, then Authorization, then caller headers)
// and delegates to the configured [Executor]; the executor's result is
// returned untouched. Safe for concurrent use.
type Client struct {
	baseURL  string
	options  *Options
	provider *TokenProvider
	executor Executor
}

// New creates a Meridian API client. An empty baseURL selects
// [DefaultBaseURL]. It fails with [ErrTransportMissing] when the HTTP
// transport has been cleared and no custom executor is supplied.
func New(baseURL string, opts ...Option) (*Client, error) {
	options := newClientOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.httpClient == nil && options.executor == nil {
		return nil, ErrTransportMissing
	}

	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}

	provider := newTokenProvider(options)

	executor := options.executor
	if executor == nil {
		executor = newRestyExecutor(baseURL, options)
	}

	return &Client{
		baseURL:  baseURL,
		options:  options,
		provider: provider,
		executor: executor,
	}, nil
}

// TokenProvider exposes the client's token provider, e.g. to pre-warm the
// token cache or to share tokens with other transports.
func (c *Client) TokenProvider() *TokenProvider {
	return c.provider
}

func (c *Client) Get(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	opts, err := c.prepare(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	return c.executor.Get(ctx, path, opts)
}

func (c *Client) Put(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	opts, err := c.prepare(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	return c.executor.Put(ctx, path, opts)
}

func (c *Client) Post(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	opts, err := c.prepare(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	return c.executor.Post(ctx, path, opts)
}

func (c *Client) Patch(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	opts, err := c.prepare(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	return c.executor.Patch(ctx, path, opts)
}

func (c *Client) Delete(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	opts, err := c.prepare(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	return c.executor.Delete(ctx, path, opts)
}

func (c *Client) Options(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	opts, err := c.prepare(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	return c.executor.Options(ctx, path, opts)
}

func (c *Client) Head(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	opts, err := c.prepare(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	return c.executor.Head(ctx, path, opts)
}

// prepare validates the path and attaches the composed header set. The
// caller's options are left untouched: when headers were composed a shallow
// copy carries them, and when the composed set is empty the options pass
// through as-is so the executor sees no headers field at all.
func (c *Client) prepare(ctx context.Context, path string, opts *RequestOptions) (*RequestOptions, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrMissingEndpoint
	}

	var caller http.Header
	if opts != nil {
		caller = opts.Headers
	}

	composed, err := c.composeHeaders(ctx, caller)
	if err != nil {
		return nil, err
	}

	if len(composed) == 0 {
		return opts, nil
	}

	prepared := RequestOptions{}
	if opts != nil {
		prepared = *opts
	}
	prepared.Headers = composed

	return &prepared, nil
}
