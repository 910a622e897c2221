package taskflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/focustime/focustime/internal/store"
	log "github.com/sirupsen/logrus"
)

// AuthSnapshot is the derived authentication state seen by the application.
type AuthSnapshot struct {
	Authenticated bool
	User          *UserProfile
}

// AuthState derives and caches whether the user is signed in and who they are.
// It re-derives itself when another process changes the shared session.
type AuthState struct {
	auth *TaskflowAuth

	mu       sync.RWMutex
	snapshot AuthSnapshot
}

// NewAuthState creates an AuthState backed by auth. Call Reinitialize to populate it.
func NewAuthState(auth *TaskflowAuth) *AuthState {
	return &AuthState{auth: auth}
}

// Reinitialize re-derives the state from the session, using the cached profile when present.
func (a *AuthState) Reinitialize(ctx context.Context) AuthSnapshot {
	return a.derive(ctx, false)
}

// RefreshUser re-derives the state, forcing a fresh profile fetch.
func (a *AuthState) RefreshUser(ctx context.Context) AuthSnapshot {
	return a.derive(ctx, true)
}

func (a *AuthState) derive(ctx context.Context, forceProfile bool) AuthSnapshot {
	next := AuthSnapshot{}
	if a.auth.IsAuthenticated(ctx) {
		next.User = a.auth.UserProfile(ctx, forceProfile)
		// The profile fetch may have logged the user out.
		next.Authenticated = a.auth.IsAuthenticated(ctx)
		if !next.Authenticated {
			next.User = nil
		}
	}
	a.mu.Lock()
	a.snapshot = next
	a.mu.Unlock()
	return next
}

// Snapshot returns the last derived state.
func (a *AuthState) Snapshot() AuthSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}

// Logout clears the session, resets the derived state and navigates to the start view.
func (a *AuthState) Logout(ctx context.Context) error {
	err := a.auth.Logout(ctx)
	a.mu.Lock()
	a.snapshot = AuthSnapshot{}
	a.mu.Unlock()
	return err
}

// Watch re-derives the state whenever a session key changes in notifier, invoking
// onChange with the new snapshot. The current state is reported once the subscription
// is established. It blocks until ctx is done.
func (a *AuthState) Watch(ctx context.Context, notifier store.Notifier, onChange func(AuthSnapshot)) error {
	if notifier == nil {
		return fmt.Errorf("auth state: session backend does not support change notification")
	}
	changes, err := notifier.Watch(ctx)
	if err != nil {
		return fmt.Errorf("auth state: watch session: %w", err)
	}
	if snapshot := a.Reinitialize(ctx); onChange != nil {
		onChange(snapshot)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			if !touchesSession(change.Keys) {
				continue
			}
			log.Debugf("session changed (%s), re-deriving auth state", strings.Join(change.Keys, ", "))
			snapshot := a.Reinitialize(ctx)
			if onChange != nil {
				onChange(snapshot)
			}
		}
	}
}

func touchesSession(keys []string) bool {
	for _, key := range keys {
		if strings.HasPrefix(key, KeyPrefix) {
			return true
		}
	}
	return false
}
