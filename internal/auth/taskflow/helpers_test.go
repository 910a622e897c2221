package taskflow

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/focustime/focustime/internal/config"
	"github.com/focustime/focustime/internal/store"
)

// recordingNavigator remembers every destination it was asked to show.
type recordingNavigator struct {
	mu    sync.Mutex
	dests []Destination
}

func (n *recordingNavigator) Navigate(dest Destination) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dests = append(n.dests, dest)
}

func (n *recordingNavigator) Destinations() []Destination {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Destination(nil), n.dests...)
}

// fakeProvider serves the token endpoint and the user endpoint.
type fakeProvider struct {
	server     *httptest.Server
	tokenHits  atomic.Int32
	userHits   atomic.Int32
	tokenFunc  func(w http.ResponseWriter, r *http.Request)
	userFunc   func(w http.ResponseWriter, r *http.Request)
	lastTokenQ atomic.Value
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		p.tokenHits.Add(1)
		if err := r.ParseForm(); err == nil {
			p.lastTokenQ.Store(r.PostForm)
		}
		if p.tokenFunc != nil {
			p.tokenFunc(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"bearer","expires_in":3600,"scope":"profile:read"}`))
	})
	mux.HandleFunc("/api/user", func(w http.ResponseWriter, r *http.Request) {
		p.userHits.Add(1)
		if p.userFunc != nil {
			p.userFunc(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user":{"id":"u-1","email":"ada@example.com","created_at":"2024-01-01T00:00:00Z"},"scopes":["profile:read"]}`))
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func testConfig(providerURL string) *config.Config {
	return &config.Config{
		ProviderURL: providerURL,
		ClientID:    "focustime-test",
		SiteURL:     "http://localhost:3001",
		RedirectURI: "http://localhost:3001/auth/callback",
		APIURL:      providerURL + "/api",
		Scopes:      append([]string(nil), config.DefaultScopes...),
	}
}

// newTestAuth wires a TaskflowAuth against p with an in-memory session.
func newTestAuth(t *testing.T, p *fakeProvider) (*TaskflowAuth, *store.MemoryStore, *recordingNavigator) {
	t.Helper()
	sessions := store.NewMemoryStore()
	nav := &recordingNavigator{}
	auth := NewTaskflowAuth(testConfig(p.server.URL), sessions, nav)
	return auth, sessions, nav
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
