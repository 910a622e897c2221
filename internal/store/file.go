package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// fileReloadDebounce coalesces the burst of events produced by a tmp+rename write.
const fileReloadDebounce = 50 * time.Millisecond

// FileStore persists the session as a single JSON object on disk.
// Every write replaces the file atomically, so concurrent processes observe either the
// old or the new session, never a partial one.
type FileStore struct {
	mu     sync.Mutex
	path   string
	sealer *Sealer
}

// NewFileStore creates a store backed by path. The parent directory is created with 0700.
func NewFileStore(path string, sealer *Sealer) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store: session path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("store: resolve session path: %w", err)
	}
	if err = os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("store: create session directory: %w", err)
	}
	return &FileStore{path: abs, sealer: sealer}, nil
}

// Path returns the absolute session file path.
func (s *FileStore) Path() string { return s.path }

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.load()
	if err != nil {
		return "", false, err
	}
	value, ok := snapshot[key]
	return value, ok, nil
}

// Set implements Store.
func (s *FileStore) Set(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.load()
	if err != nil {
		return err
	}
	if changed := applyValues(snapshot, values); len(changed) == 0 {
		return nil
	}
	return s.save(snapshot)
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.load()
	if err != nil {
		return err
	}
	removed := false
	for _, key := range keys {
		if _, ok := snapshot[key]; ok {
			delete(snapshot, key)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	if len(snapshot) == 0 {
		if errRemove := os.Remove(s.path); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
			return fmt.Errorf("store: remove session file: %w", errRemove)
		}
		return nil
	}
	return s.save(snapshot)
}

// Watch implements Notifier. It reports changes made by any process writing the same file.
func (s *FileStore) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("store: create watcher: %w", err)
	}
	// Watch the directory: atomic replace swaps the inode under a file watch.
	if err = watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("store: watch session directory: %w", err)
	}

	s.mu.Lock()
	last, errLoad := s.load()
	s.mu.Unlock()
	if errLoad != nil {
		log.Debugf("session watch: initial load failed: %v", errLoad)
		last = map[string]string{}
	}

	out := make(chan Change, 8)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Close() }()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != s.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(fileReloadDebounce)
				} else {
					timer.Reset(fileReloadDebounce)
				}
				fire = timer.C
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("session file watcher error: %v", errWatch)
			case <-fire:
				fire = nil
				s.mu.Lock()
				current, errReload := s.load()
				s.mu.Unlock()
				if errReload != nil {
					log.Debugf("session watch: reload failed: %v", errReload)
					continue
				}
				changed := diffKeys(last, current)
				last = current
				if len(changed) == 0 {
					continue
				}
				select {
				case out <- Change{Keys: changed}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("store: read session file: %w", err)
	}
	if len(data) == 0 {
		return map[string]string{}, nil
	}
	plain, err := s.sealer.Open(data)
	if err != nil {
		return nil, err
	}
	snapshot := map[string]string{}
	if err = json.Unmarshal(plain, &snapshot); err != nil {
		return nil, fmt.Errorf("store: decode session file: %w", err)
	}
	return snapshot, nil
}

func (s *FileStore) save(snapshot map[string]string) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("store: encode session: %w", err)
	}
	data, err := s.sealer.Seal(raw)
	if err != nil {
		return err
	}
	// Each writer gets its own temp file; another process may be saving concurrently.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	if err = writeTemp(tmp, data); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write temp session file: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: replace session file: %w", err)
	}
	return nil
}

func writeTemp(f *os.File, data []byte) error {
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
