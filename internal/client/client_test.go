package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/focustime/focustime/internal/auth/taskflow"
	"github.com/focustime/focustime/internal/config"
	"github.com/focustime/focustime/internal/store"
)

type testEnv struct {
	client   *Client
	auth     *taskflow.TaskflowAuth
	sessions *store.MemoryStore
	server   *httptest.Server
	hits     atomic.Int32

	mu       sync.Mutex
	navs     []taskflow.Destination
	lastReq  *http.Request
	lastBody string
}

func (e *testEnv) destinations() []taskflow.Destination {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]taskflow.Destination(nil), e.navs...)
}

func (e *testEnv) request() (*http.Request, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReq, e.lastBody
}

// newTestEnv serves handler as the API and returns a client over an in-memory session.
func newTestEnv(t *testing.T, handler http.HandlerFunc) *testEnv {
	t.Helper()
	env := &testEnv{sessions: store.NewMemoryStore()}
	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		env.mu.Lock()
		env.lastReq = r
		env.lastBody = string(body)
		env.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(env.server.Close)

	cfg := &config.Config{
		ProviderURL: env.server.URL,
		ClientID:    "focustime-test",
		RedirectURI: "http://localhost:3001/auth/callback",
		APIURL:      env.server.URL + "/api",
		Scopes:      append([]string(nil), config.DefaultScopes...),
	}
	nav := taskflow.NavigatorFunc(func(dest taskflow.Destination) {
		env.mu.Lock()
		env.navs = append(env.navs, dest)
		env.mu.Unlock()
	})
	env.auth = taskflow.NewTaskflowAuth(cfg, env.sessions, nav)
	env.client = NewClient(env.auth)
	return env
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	err := e.auth.Tokens().Save(context.Background(), &taskflow.TokenResponse{AccessToken: "abc", TokenType: "bearer", ExpiresIn: 3600, RefreshToken: "r"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestRequestWithoutTokenDoesNoIO(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {})

	resp, err := env.client.Request(context.Background(), "/tasks", nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if !errors.Is(err, taskflow.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if env.hits.Load() != 0 {
		t.Fatalf("network request issued %d times", env.hits.Load())
	}
}

func TestRequestWithExpiredTokenDoesNoIO(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {})
	_ = env.auth.Tokens().Save(context.Background(), &taskflow.TokenResponse{AccessToken: "abc", ExpiresIn: 0})

	if _, err := env.client.Request(context.Background(), "/tasks", nil); !errors.Is(err, taskflow.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if env.hits.Load() != 0 {
		t.Fatal("expired token reached the network")
	}
}

func TestRequestUnauthorizedEndsSession(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
	})
	env.login(t)

	_, err := env.client.Request(context.Background(), "/tasks", nil)
	if !errors.Is(err, taskflow.ErrAuthenticationExpired) {
		t.Fatalf("expected ErrAuthenticationExpired, got %v", err)
	}
	if env.sessions.Len() != 0 {
		t.Fatal("session not cleared after 401")
	}
	if dests := env.destinations(); len(dests) != 1 || dests[0] != taskflow.DestinationStart {
		t.Fatalf("expected exactly one start navigation, got %v", dests)
	}

	// The next call fails locally.
	if _, err = env.client.Request(context.Background(), "/tasks", nil); !errors.Is(err, taskflow.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated after logout, got %v", err)
	}
	if env.hits.Load() != 1 {
		t.Fatalf("expected a single network request, got %d", env.hits.Load())
	}
}

func TestRequestHeaders(t *testing.T) {
	tests := []struct {
		name            string
		header          http.Header
		wantContentType string
		wantCustom      string
	}{
		{"defaults", nil, "application/json", ""},
		{"override", http.Header{"Content-Type": {"text/plain"}, "X-Trace": {"1"}}, "text/plain", "1"},
		{"remove default", http.Header{"Content-Type": nil}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
			env.login(t)

			resp, err := env.client.Request(context.Background(), "/tasks", &RequestOptions{Header: tt.header})
			if err != nil {
				t.Fatalf("Request: %v", err)
			}
			_ = resp.Body.Close()

			req, _ := env.request()
			if got := req.Header.Get("Authorization"); got != "Bearer abc" {
				t.Fatalf("Authorization = %q", got)
			}
			if got := req.Header.Get("Content-Type"); got != tt.wantContentType {
				t.Fatalf("Content-Type = %q, want %q", got, tt.wantContentType)
			}
			if got := req.Header.Get("X-Trace"); got != tt.wantCustom {
				t.Fatalf("X-Trace = %q, want %q", got, tt.wantCustom)
			}
		})
	}
}

func TestRequestResolvesPaths(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	env.login(t)
	ctx := context.Background()

	tests := []struct {
		path     string
		wantPath string
	}{
		{"/tasks", "/api/tasks"},
		{"tasks/7", "/api/tasks/7"},
		{env.server.URL + "/elsewhere", "/elsewhere"},
	}
	for _, tt := range tests {
		resp, err := env.client.Request(ctx, tt.path, nil)
		if err != nil {
			t.Fatalf("Request(%q): %v", tt.path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusTeapot {
			t.Fatalf("status not passed through: %d", resp.StatusCode)
		}
		if req, _ := env.request(); req.URL.Path != tt.wantPath {
			t.Fatalf("Request(%q) hit %q, want %q", tt.path, req.URL.Path, tt.wantPath)
		}
	}
}
