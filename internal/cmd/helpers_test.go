package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/focustime/focustime/internal/auth/taskflow"
	"github.com/focustime/focustime/internal/client"
	"github.com/focustime/focustime/internal/config"
	"github.com/focustime/focustime/internal/store"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
	successPageGrace = 0
}

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeTaskflow serves the token endpoint, the user endpoint and the tasks API.
type fakeTaskflow struct {
	server    *httptest.Server
	tokenHits atomic.Int32
	// revoked makes the resource endpoints reject every token.
	revoked atomic.Bool

	mu    sync.Mutex
	tasks []client.Task
	next  int
}

func newFakeTaskflow(t *testing.T) *fakeTaskflow {
	t.Helper()
	f := &fakeTaskflow{
		tasks: []client.Task{
			{ID: "1", Title: "Write report"},
			{ID: "2", Title: "Review PR", Completed: true},
			{ID: "3", Title: "Plan sprint"},
		},
		next: 4,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenHits.Add(1)
		_ = r.ParseForm()
		if r.PostForm.Get("code_verifier") == "" && r.PostForm.Get("grant_type") == "authorization_code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"bearer","expires_in":3600,"scope":"profile:read","refresh_token":"r1"}`))
	})
	mux.HandleFunc("GET /api/user", func(w http.ResponseWriter, _ *http.Request) {
		if f.revoked.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"user":{"id":"u-1","email":"ada@example.com","created_at":"2024-01-01T00:00:00Z"}}`))
	})
	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, _ *http.Request) {
		if f.revoked.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": f.tasks})
	})
	mux.HandleFunc("POST /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		var task client.Task
		_ = json.NewDecoder(r.Body).Decode(&task)
		f.mu.Lock()
		defer f.mu.Unlock()
		task.ID = fmt.Sprint(f.next)
		f.next++
		f.tasks = append(f.tasks, task)
		writeJSON(w, http.StatusCreated, task)
	})
	mux.HandleFunc("PUT /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		var patch struct {
			Completed bool `json:"completed"`
		}
		_ = json.NewDecoder(r.Body).Decode(&patch)
		f.mu.Lock()
		defer f.mu.Unlock()
		for i := range f.tasks {
			if f.tasks[i].ID == r.PathValue("id") {
				f.tasks[i].Completed = patch.Completed
				writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": f.tasks[i], "message": "updated"})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Task not found"})
	})
	mux.HandleFunc("DELETE /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i := range f.tasks {
			if f.tasks[i].ID == r.PathValue("id") {
				f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
				writeJSON(w, http.StatusOK, map[string]any{"success": true})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Task not found"})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeTaskflow) task(id string) (client.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		if task.ID == id {
			return task, true
		}
	}
	return client.Task{}, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot reserve a port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

// loadTestConfig writes a config file pointing at f and loads it through LoadConfig.
func loadTestConfig(t *testing.T, f *fakeTaskflow) *config.Config {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`provider-url: %[1]s
client-id: focustime-test
redirect-uri: http://localhost:%[2]d/auth/callback
api-url: %[1]s/api
session:
  backend: file
  path: %[3]s
callback:
  success-delay: 1ms
  timeout: 5s
  manual-prompt-after: 20ms
focus:
  duration: 40ms
  break: 10ms
`, f.server.URL, freePort(t), filepath.Join(dir, "session.json"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	return cfg
}

// sessionFile opens a second handle on the configured session file, like another process would.
func sessionFile(t *testing.T, cfg *config.Config) *store.FileStore {
	t.Helper()
	fs, err := store.NewFileStore(cfg.Session.Path, nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return fs
}

// signIn stores a valid session directly.
func signIn(t *testing.T, cfg *config.Config) {
	t.Helper()
	err := taskflow.NewTokenStore(sessionFile(t, cfg)).Save(context.Background(), &taskflow.TokenResponse{
		AccessToken: "abc", TokenType: "bearer", ExpiresIn: 3600, RefreshToken: "r1",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
}
