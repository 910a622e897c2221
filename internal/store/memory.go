package store

import (
	"context"
	"sync"
)

// MemoryStore keeps the session in process memory. Watch observes writes made through
// the same instance, which is enough for several components sharing one store.
type MemoryStore struct {
	mu          sync.RWMutex
	values      map[string]string
	subscribers map[chan Change]struct{}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:      make(map[string]string),
		subscribers: make(map[chan Change]struct{}),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	changed := applyValues(s.values, values)
	s.mu.Unlock()
	s.publish(changed)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	changed := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := s.values[key]; ok {
			delete(s.values, key)
			changed = append(changed, key)
		}
	}
	s.mu.Unlock()
	s.publish(changed)
	return nil
}

// Len reports how many keys are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Watch implements Notifier.
func (s *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 16)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

func (s *MemoryStore) publish(keys []string) {
	if len(keys) == 0 {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- Change{Keys: keys}:
		default:
			// Slow subscribers miss intermediate changes; they re-read the store anyway.
		}
	}
}
