// Package store provides the session-scoped key/value storage used by the OAuth client.
// A Store holds the handful of keys that make up one login session (tokens, expiry,
// the pending PKCE verifier and state, the cached profile). Backends are interchangeable:
// an in-memory map, a JSON file on disk, a PostgreSQL table or an S3-compatible bucket.
package store

import (
	"context"
	"fmt"

	"github.com/focustime/focustime/internal/config"
)

// Store is a session-scoped key/value space.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set applies all values in a single atomic write. An empty value removes the key.
	Set(ctx context.Context, values map[string]string) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// Change describes keys whose values changed, as observed by a Notifier.
type Change struct {
	Keys []string
}

// Notifier is implemented by stores that can report writes made by other processes
// sharing the same backend.
type Notifier interface {
	// Watch streams changes until ctx is done. The channel is closed on return.
	Watch(ctx context.Context) (<-chan Change, error)
}

// Open builds the store selected by the session configuration.
// The returned close function releases backend resources and is never nil.
func Open(ctx context.Context, cfg *config.Config) (Store, func() error, error) {
	noop := func() error { return nil }
	if cfg == nil {
		return nil, noop, fmt.Errorf("store: configuration is required")
	}
	sealer, err := NewSealer(cfg.Session.EncryptionKey)
	if err != nil {
		return nil, noop, err
	}

	switch cfg.Session.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), noop, nil
	case config.BackendFile, "":
		s, errFile := NewFileStore(cfg.Session.Path, sealer)
		if errFile != nil {
			return nil, noop, errFile
		}
		return s, noop, nil
	case config.BackendPostgres:
		s, errPg := NewPostgresStore(ctx, PostgresStoreConfig{
			DSN:       cfg.Session.Postgres.DSN,
			Schema:    cfg.Session.Postgres.Schema,
			Table:     cfg.Session.Postgres.Table,
			Namespace: cfg.Session.Namespace,
		})
		if errPg != nil {
			return nil, noop, errPg
		}
		if errSchema := s.EnsureSchema(ctx); errSchema != nil {
			_ = s.Close()
			return nil, noop, errSchema
		}
		return s, s.Close, nil
	case config.BackendObject:
		s, errObj := NewObjectStore(ObjectStoreConfig{
			Endpoint:  cfg.Session.Object.Endpoint,
			Bucket:    cfg.Session.Object.Bucket,
			AccessKey: cfg.Session.Object.AccessKey,
			SecretKey: cfg.Session.Object.SecretKey,
			Region:    cfg.Session.Object.Region,
			Prefix:    cfg.Session.Object.Prefix,
			Namespace: cfg.Session.Namespace,
			UseSSL:    cfg.Session.Object.UseSSL,
			PathStyle: cfg.Session.Object.PathStyle,
		}, sealer)
		if errObj != nil {
			return nil, noop, errObj
		}
		if errBucket := s.EnsureBucket(ctx); errBucket != nil {
			return nil, noop, errBucket
		}
		return s, noop, nil
	default:
		return nil, noop, fmt.Errorf("store: unknown backend %q", cfg.Session.Backend)
	}
}

// applyValues mutates snapshot according to Set semantics and returns the keys that changed.
func applyValues(snapshot map[string]string, values map[string]string) []string {
	changed := make([]string, 0, len(values))
	for key, value := range values {
		old, exists := snapshot[key]
		if value == "" {
			if exists {
				delete(snapshot, key)
				changed = append(changed, key)
			}
			continue
		}
		if !exists || old != value {
			snapshot[key] = value
			changed = append(changed, key)
		}
	}
	return changed
}

// diffKeys returns keys whose values differ between two snapshots.
func diffKeys(before, after map[string]string) []string {
	var changed []string
	for key, value := range after {
		if old, ok := before[key]; !ok || old != value {
			changed = append(changed, key)
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			changed = append(changed, key)
		}
	}
	return changed
}
