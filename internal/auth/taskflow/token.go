package taskflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/focustime/focustime/internal/store"
	log "github.com/sirupsen/logrus"
)

// TokenStore reads and writes the session keys of one login session.
// It performs no network I/O.
type TokenStore struct {
	store store.Store
	now   func() time.Time
}

// NewTokenStore wraps s.
func NewTokenStore(s store.Store) *TokenStore {
	return &TokenStore{store: s, now: time.Now}
}

// Backend returns the underlying store.
func (ts *TokenStore) Backend() store.Store { return ts.store }

// Save writes the access token, refresh token and absolute expiry in one batch.
// The expiry is now + expires_in - ExpirySafetyMargin, in unix milliseconds.
// A record without a refresh token removes any previously stored one.
func (ts *TokenStore) Save(ctx context.Context, token *TokenResponse) error {
	return ts.save(ctx, token, false)
}

// SaveLogin is Save for a freshly authorized session: the cached profile of any
// previous session is dropped in the same batch.
func (ts *TokenStore) SaveLogin(ctx context.Context, token *TokenResponse) error {
	return ts.save(ctx, token, true)
}

func (ts *TokenStore) save(ctx context.Context, token *TokenResponse, dropProfile bool) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("token store: access token is required")
	}
	expiry := ts.now().Add(time.Duration(token.ExpiresIn)*time.Second - ExpirySafetyMargin)
	values := map[string]string{
		KeyAccessToken:  token.AccessToken,
		KeyRefreshToken: token.RefreshToken,
		KeyTokenExpiry:  strconv.FormatInt(expiry.UnixMilli(), 10),
	}
	if dropProfile {
		values[KeyUserProfile] = ""
	}
	if err := ts.store.Set(ctx, values); err != nil {
		return fmt.Errorf("token store: save tokens: %w", err)
	}
	return nil
}

// AccessToken returns the stored token while it is still valid.
// It returns "" when no token is stored. When the expiry has been reached (or is unreadable)
// every session key is cleared and "" is returned.
func (ts *TokenStore) AccessToken(ctx context.Context) (string, error) {
	token, ok, err := ts.store.Get(ctx, KeyAccessToken)
	if err != nil {
		return "", fmt.Errorf("token store: read access token: %w", err)
	}
	if !ok || token == "" {
		return "", nil
	}
	expiry, ok, err := ts.Expiry(ctx)
	if err != nil {
		return "", err
	}
	if !ok || !ts.now().Before(expiry) {
		log.Debug("stored access token expired, clearing session")
		if errClear := ts.Clear(ctx); errClear != nil {
			return "", errClear
		}
		return "", nil
	}
	return token, nil
}

// Expiry returns the stored absolute expiry. ok is false when it is missing or unparsable.
func (ts *TokenStore) Expiry(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := ts.store.Get(ctx, KeyTokenExpiry)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("token store: read expiry: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	ms, errParse := strconv.ParseInt(raw, 10, 64)
	if errParse != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// RefreshToken returns the stored refresh token, if any.
func (ts *TokenStore) RefreshToken(ctx context.Context) (string, bool, error) {
	token, ok, err := ts.store.Get(ctx, KeyRefreshToken)
	if err != nil {
		return "", false, fmt.Errorf("token store: read refresh token: %w", err)
	}
	return token, ok && token != "", nil
}

// Clear removes every session key. Calling it on an empty session is a no-op.
func (ts *TokenStore) Clear(ctx context.Context) error {
	if err := ts.store.Delete(ctx, sessionKeys...); err != nil {
		return fmt.Errorf("token store: clear session: %w", err)
	}
	return nil
}

// CacheProfile stores profile as JSON.
func (ts *TokenStore) CacheProfile(ctx context.Context, profile *UserProfile) error {
	if profile == nil {
		return ts.store.Delete(ctx, KeyUserProfile)
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("token store: encode profile: %w", err)
	}
	if err = ts.store.Set(ctx, map[string]string{KeyUserProfile: string(data)}); err != nil {
		return fmt.Errorf("token store: cache profile: %w", err)
	}
	return nil
}

// CachedProfile returns the cached profile. Corrupt JSON is reported as a cache miss.
func (ts *TokenStore) CachedProfile(ctx context.Context) (*UserProfile, error) {
	raw, ok, err := ts.store.Get(ctx, KeyUserProfile)
	if err != nil {
		return nil, fmt.Errorf("token store: read profile: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var profile UserProfile
	if errUnmarshal := json.Unmarshal([]byte(raw), &profile); errUnmarshal != nil {
		log.Debugf("ignoring corrupt cached profile: %v", errUnmarshal)
		return nil, nil
	}
	return &profile, nil
}

// SavePending persists the verifier and state of a login attempt.
func (ts *TokenStore) SavePending(ctx context.Context, verifier, state string) error {
	if err := ts.store.Set(ctx, map[string]string{
		KeyCodeVerifier: verifier,
		KeyOAuthState:   state,
	}); err != nil {
		return fmt.Errorf("token store: save pending login: %w", err)
	}
	return nil
}

// TakeVerifier returns the pending verifier and removes it, so it can never be replayed.
func (ts *TokenStore) TakeVerifier(ctx context.Context) (string, bool, error) {
	verifier, ok, err := ts.store.Get(ctx, KeyCodeVerifier)
	if err != nil {
		return "", false, fmt.Errorf("token store: read verifier: %w", err)
	}
	if !ok || verifier == "" {
		return "", false, nil
	}
	if err = ts.store.Delete(ctx, KeyCodeVerifier); err != nil {
		return "", false, fmt.Errorf("token store: consume verifier: %w", err)
	}
	return verifier, true, nil
}

// PendingState returns the state persisted for the current login attempt.
func (ts *TokenStore) PendingState(ctx context.Context) (string, bool, error) {
	state, ok, err := ts.store.Get(ctx, KeyOAuthState)
	if err != nil {
		return "", false, fmt.Errorf("token store: read state: %w", err)
	}
	return state, ok && state != "", nil
}

// ClearPending drops the verifier and state of an abandoned or finished login attempt.
func (ts *TokenStore) ClearPending(ctx context.Context) error {
	if err := ts.store.Delete(ctx, KeyCodeVerifier, KeyOAuthState); err != nil {
		return fmt.Errorf("token store: clear pending login: %w", err)
	}
	return nil
}
