package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// emptyEnv is an environment reader with no variables set, so tests never
// pick up credentials from the real process environment.
func emptyEnv(_ string) (string, bool) {
	return "", false
}

func mapEnv(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, ok := vars[name]
		return value, ok
	}
}

// newTokenServer returns an httptest server that issues tokens and counts
// requests. Each response carries a distinct access token.
func newTokenServer(t *testing.T, expiresIn int64, delay time.Duration) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var requests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := requests.Add(1)
		time.Sleep(delay)

		w.Header().Set("Content-Type", "application/json")

		body := map[string]any{"access_token": fmt.Sprintf("token-%d", n), "token_type": "Bearer"}
		if expiresIn > 0 {
			body["expires_in"] = expiresIn
		}

		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)

	return server, &requests
}

func newTestProvider(t *testing.T, tokenURL string, opts ...Option) *TokenProvider {
	t.Helper()

	base := []Option{
		WithTokenURL(tokenURL),
		WithClientID("test-client"),
		WithClientSecret("test-secret"),
		WithEnvironment(emptyEnv),
		WithRetryCount(0),
	}

	provider, err := NewTokenProvider(append(base, opts...)...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return provider
}

func TestNewTokenProvider_TransportMissing(t *testing.T) {
	t.Parallel()

	_, err := NewTokenProvider(WithHTTPClient(nil))

	if !errors.Is(err, ErrTransportMissing) {
		t.Errorf("expected ErrTransportMissing, got %v", err)
	}
}

func TestToken_SingleFlight(t *testing.T) {
	t.Parallel()

	server, requests := newTokenServer(t, 3600, 200*time.Millisecond)
	provider := newTestProvider(t, server.URL)

	const callers = 20

	tokens := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			tokens[i], errs[i] = provider.Token(context.Background())
		}()
	}

	close(start)
	wg.Wait()

	if got := requests.Load(); got != 1 {
		t.Errorf("expected 1 token request, got %d", got)
	}

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}

		if tokens[i] != tokens[0] {
			t.Errorf("caller %d: expected token %q, got %q", i, tokens[0], tokens[i])
		}
	}
}

func TestToken_CachedWithinTTL(t *testing.T) {
	t.Parallel()

	server, requests := newTokenServer(t, 3600, 0)
	provider := newTestProvider(t, server.URL)

	first, err := provider.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := provider.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Errorf("expected cached token %q, got %q", first, second)
	}

	if got := requests.Load(); got != 1 {
		t.Errorf("expected 1 token request, got %d", got)
	}
}

func TestToken_RefreshAfterExpiry(t *testing.T) {
	t.Parallel()

	server, requests := newTokenServer(t, 3600, 0)
	provider := newTestProvider(t, server.URL)

	now := time.Now()
	provider.now = func() time.Time { return now }

	first, err := provider.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Jump past expiresAt; the next call must hit the network again.
	now = now.Add(2 * time.Hour)

	second, err := provider.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first == second {
		t.Errorf("expected a fresh token after expiry, got %q twice", first)
	}

	if got := requests.Load(); got != 2 {
		t.Errorf("expected 2 token requests, got %d", got)
	}
}

func TestToken_OverrideSkipsNetwork(t *testing.T) {
	t.Parallel()

	server, requests := newTokenServer(t, 3600, 0)
	provider := newTestProvider(t, server.URL, WithToken("manual-token"))

	for i := 0; i < 3; i++ {
		token, err := provider.Token(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if token != "manual-token" {
			t.Errorf("expected manual-token, got %q", token)
		}
	}

	if got := requests.Load(); got != 0 {
		t.Errorf("expected 0 token requests, got %d", got)
	}
}

func TestToken_OverrideFromEnvironment(t *testing.T) {
	t.Parallel()

	server, requests := newTokenServer(t, 3600, 0)

	provider, err := NewTokenProvider(
		WithTokenURL(server.URL),
		WithEnvironment(mapEnv(map[string]string{EnvToken: "env-token"})),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token, err := provider.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if token != "env-token" {
		t.Errorf("expected env-token, got %q", token)
	}

	if got := requests.Load(); got != 0 {
		t.Errorf("expected 0 token requests, got %d", got)
	}
}

func TestToken_OverrideFuncResolvedEveryCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64

	provider := newTestProvider(t, "http://localhost:1", WithTokenFunc(func(_ context.Context) (string, error) {
		n := calls.Add(1)
		return fmt.Sprintf("supplied-%d", n), nil
	}))

	first, err := provider.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := provider.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != "supplied-1" || second != "supplied-2" {
		t.Errorf("expected factory re-invocation per call, got %q then %q", first, second)
	}
}

func TestToken_CredentialFactoriesResolvedPerRefresh(t *testing.T) {
	t.Parallel()

	server, _ := newTokenServer(t, 3600, 0)

	var idCalls atomic.Int64

	provider := newTestProvider(t, server.URL, WithClientIDFunc(func(_ context.Context) (string, error) {
		idCalls.Add(1)
		return "rotated-id", nil
	}))

	now := time.Now()
	provider.now = func() time.Time { return now }

	if _, err := provider.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now = now.Add(2 * time.Hour)

	if _, err := provider.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := idCalls.Load(); got != 2 {
		t.Errorf("expected client id factory to run once per refresh, got %d", got)
	}
}

func TestToken_MissingCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     []Option
		expected error
	}{
		{"no client id", []Option{WithClientSecret("s"), WithEnvironment(emptyEnv)}, ErrMissingClientID},
		{"no client secret", []Option{WithClientID("c"), WithEnvironment(emptyEnv)}, ErrMissingClientSecret},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			provider, err := NewTokenProvider(append(tt.opts, WithTokenURL("http://localhost:1"))...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			_, err = provider.Token(context.Background())

			if !errors.Is(err, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestToken_EndpointErrorSurfacesAndRetriesNextCall(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)

	_, err := provider.Token(context.Background())
	if err == nil {
		t.Fatal("expected error for failing token endpoint")
	}

	var endpointErr *TokenEndpointError
	if !errors.As(err, &endpointErr) {
		t.Fatalf("expected TokenEndpointError, got %T: %v", err, err)
	}

	if endpointErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", endpointErr.StatusCode)
	}

	if !strings.Contains(endpointErr.Body, "upstream down") {
		t.Errorf("expected body snippet, got %q", endpointErr.Body)
	}

	// A failed refresh leaves no in-flight marker behind; the next call must
	// hit the network again.
	_, err = provider.Token(context.Background())
	if err == nil {
		t.Fatal("expected error on retry")
	}

	if got := requests.Load(); got != 2 {
		t.Errorf("expected 2 token requests, got %d", got)
	}
}

func TestToken_EmptyErrorBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)

	_, err := provider.Token(context.Background())

	var endpointErr *TokenEndpointError
	if !errors.As(err, &endpointErr) {
		t.Fatalf("expected TokenEndpointError, got %v", err)
	}

	if endpointErr.Body != "(empty error body)" {
		t.Errorf("expected placeholder body, got %q", endpointErr.Body)
	}
}

func TestToken_MalformedResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type": "Bearer"}`))
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)

	_, err := provider.Token(context.Background())

	var endpointErr *TokenEndpointError
	if !errors.As(err, &endpointErr) {
		t.Fatalf("expected TokenEndpointError, got %v", err)
	}

	if endpointErr.Body != "response missing access_token" {
		t.Errorf("unexpected body: %q", endpointErr.Body)
	}
}

func TestToken_GrantRequestBody(t *testing.T) {
	t.Parallel()

	var captured tokenRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "abc", "expires_in": 3600}`))
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL, WithScopes("read:projects", "write:projects"))

	if _, err := provider.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured.ClientID != "test-client" {
		t.Errorf("expected client_id=test-client, got %q", captured.ClientID)
	}

	if captured.ClientSecret != "test-secret" {
		t.Errorf("expected client_secret=test-secret, got %q", captured.ClientSecret)
	}

	if captured.Audience != DefaultAudience {
		t.Errorf("expected audience=%q, got %q", DefaultAudience, captured.Audience)
	}

	if captured.GrantType != "client_credentials" {
		t.Errorf("expected grant_type=client_credentials, got %q", captured.GrantType)
	}

	if captured.Scope != "read:projects write:projects" {
		t.Errorf("expected space-joined scope, got %q", captured.Scope)
	}
}

func TestToken_ScopeOmittedWhenUnset(t *testing.T) {
	t.Parallel()

	var rawBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&rawBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "abc"}`))
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)

	if _, err := provider.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, present := rawBody["scope"]; present {
		t.Error("expected scope field to be omitted")
	}
}

func TestToken_TTLFloor(t *testing.T) {
	t.Parallel()

	server, _ := newTokenServer(t, 1, 0)
	provider := newTestProvider(t, server.URL)

	now := time.Now()
	provider.now = func() time.Time { return now }

	if _, err := provider.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := provider.cred.expiresAt.Sub(now); got != minTokenTTL {
		t.Errorf("expected TTL floored at %v, got %v", minTokenTTL, got)
	}
}

func TestToken_DefaultLifetimeWhenExpiresInOmitted(t *testing.T) {
	t.Parallel()

	server, _ := newTokenServer(t, 0, 0)
	provider := newTestProvider(t, server.URL)

	now := time.Now()
	provider.now = func() time.Time { return now }

	if _, err := provider.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := defaultTokenLifetime - DefaultExpirationBuffer
	if got := provider.cred.expiresAt.Sub(now); got != expected {
		t.Errorf("expected TTL %v, got %v", expected, got)
	}
}

func TestTokenTTL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		expiresIn int64
		buffer    time.Duration
		expected  time.Duration
	}{
		{"normal", 3600, time.Minute, 59 * time.Minute},
		{"omitted uses default lifetime", 0, time.Minute, 59 * time.Minute},
		{"short expiry floored", 1, time.Minute, minTokenTTL},
		{"aggressive buffer floored", 3600, 2 * time.Hour, minTokenTTL},
		{"zero buffer", 120, 0, 2 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tokenTTL(tt.expiresIn, tt.buffer); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestToken_CredentialsFromEnvironment(t *testing.T) {
	t.Parallel()

	server, requests := newTokenServer(t, 3600, 0)

	provider, err := NewTokenProvider(
		WithTokenURL(server.URL),
		WithEnvironment(mapEnv(map[string]string{
			EnvClientID:     "env-client",
			EnvClientSecret: "env-secret",
		})),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token, err := provider.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if token != "token-1" {
		t.Errorf("expected token-1, got %q", token)
	}

	if got := requests.Load(); got != 1 {
		t.Errorf("expected 1 token request, got %d", got)
	}
}
