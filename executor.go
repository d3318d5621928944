package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
)

// RequestOptions carries the per-request inputs passed to the verb methods:
// query parameters, a JSON-marshalled body, and extra headers. Headers may
// be built directly as an [http.Header] or converted via [HeadersFromMap]
// and [HeadersFromPairs].
type RequestOptions struct {
	Query   url.Values
	Body    any
	Headers http.Header
}

// APIError is the error half of a [Result]: a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// Result is the outcome of an executed API request: either Data (2xx) or Err
// (any other status). Transport failures are returned as ordinary errors by
// the verb methods instead.
type Result struct {
	StatusCode int
	Data       json.RawMessage
	Err        *APIError
}

// Unmarshal decodes the response body into v, or returns the API error when
// the request did not succeed.
func (r *Result) Unmarshal(v any) error {
	if r.Err != nil {
		return r.Err
	}

	if len(r.Data) == 0 {
		return nil
	}

	return json.Unmarshal(r.Data, v)
}

// Executor performs the actual API request for each HTTP verb. The default
// implementation is resty-backed; supply a schema-generated client via
// [WithExecutor] to replace it. The [Client] composes headers and delegates
// to the executor without inspecting its results.
type Executor interface {
	Get(ctx context.Context, path string, opts *RequestOptions) (*Result, error)
	Put(ctx context.Context, path string, opts *RequestOptions) (*Result, error)
	Post(ctx context.Context, path string, opts *RequestOptions) (*Result, error)
	Patch(ctx context.Context, path string, opts *RequestOptions) (*Result, error)
	Delete(ctx context.Context, path string, opts *RequestOptions) (*Result, error)
	Options(ctx context.Context, path string, opts *RequestOptions) (*Result, error)
	Head(ctx context.Context, path string, opts *RequestOptions) (*Result, error)
}

// restyExecutor is the default [Executor]. API requests are issued exactly
// once; retry behaviour is reserved for token acquisition.
type restyExecutor struct {
	client *resty.Client
	logger RequestLogger
}

func newRestyExecutor(baseURL string, options *Options) *restyExecutor {
	rc := resty.NewWithClient(options.httpClient).SetBaseURL(baseURL)

	return &restyExecutor{
		client: rc,
		logger: options.requestLogger,
	}
}

func (e *restyExecutor) Get(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	return e.execute(ctx, http.MethodGet, path, opts)
}

func (e *restyExecutor) Put(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	return e.execute(ctx, http.MethodPut, path, opts)
}

func (e *restyExecutor) Post(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	return e.execute(ctx, http.MethodPost, path, opts)
}

func (e *restyExecutor) Patch(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	return e.execute(ctx, http.MethodPatch, path, opts)
}

func (e *restyExecutor) Delete(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	return e.execute(ctx, http.MethodDelete, path, opts)
}

func (e *restyExecutor) Options(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	return e.execute(ctx, http.MethodOptions, path, opts)
}

func (e *restyExecutor) Head(ctx context.Context, path string, opts *RequestOptions) (*Result, error) {
	return e.execute(ctx, http.MethodHead, path, opts)
}

func (e *restyExecutor) execute(ctx context.Context, method, path string, opts *RequestOptions) (*Result, error) {
	req := e.client.R().SetContext(ctx)

	if opts != nil {
		if len(opts.Query) > 0 {
			req.SetQueryParamsFromValues(opts.Query)
		}

		if opts.Body != nil {
			req.SetBody(opts.Body)
		}

		for name, values := range opts.Headers {
			for _, value := range values {
				req.Header.Add(name, value)
			}
		}
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		e.logger.Errorf("%s %s failed: %v", method, path, err)

		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	e.logger.Debugf("%s %s -> %d", method, path, resp.StatusCode())

	if !resp.IsSuccess() {
		return &Result{
			StatusCode: resp.StatusCode(),
			Err: &APIError{
				StatusCode: resp.StatusCode(),
				Message:    apiErrorMessage(resp.Body()),
			},
		}, nil
	}

	return &Result{
		StatusCode: resp.StatusCode(),
		Data:       append(json.RawMessage(nil), resp.Body()...),
	}, nil
}

// apiErrorMessage extracts a readable message from an error response body.
// JSON bodies with an "error" field yield that field; anything else falls
// back to the raw body.
func apiErrorMessage(body []byte) string {
	if len(body) == 0 {
		return "(empty error body)"
	}

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}

	return string(body)
}
