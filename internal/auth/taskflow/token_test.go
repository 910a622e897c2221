package taskflow

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/focustime/focustime/internal/store"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		refresh string
	}{
		{"with refresh token", "refresh-1"},
		{"without refresh token", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ts := NewTokenStore(store.NewMemoryStore())
			if err := ts.Save(ctx, &TokenResponse{AccessToken: "abc", ExpiresIn: 3600, RefreshToken: tt.refresh}); err != nil {
				t.Fatalf("Save: %v", err)
			}
			token, err := ts.AccessToken(ctx)
			if err != nil || token != "abc" {
				t.Fatalf("AccessToken = %q, %v", token, err)
			}
			refresh, ok, err := ts.RefreshToken(ctx)
			if err != nil {
				t.Fatalf("RefreshToken: %v", err)
			}
			if ok != (tt.refresh != "") || refresh != tt.refresh {
				t.Fatalf("RefreshToken = %q %v, want %q", refresh, ok, tt.refresh)
			}
		})
	}
}

func TestTokenStoreSaveDropsStaleRefreshToken(t *testing.T) {
	ctx := context.Background()
	ts := NewTokenStore(store.NewMemoryStore())
	_ = ts.Save(ctx, &TokenResponse{AccessToken: "one", ExpiresIn: 3600, RefreshToken: "r1"})
	_ = ts.Save(ctx, &TokenResponse{AccessToken: "two", ExpiresIn: 3600})
	if _, ok, _ := ts.RefreshToken(ctx); ok {
		t.Fatal("refresh token from the previous session survived")
	}
}

func TestTokenStoreExpiryIncludesSafetyMargin(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := store.NewMemoryStore()
	ts := NewTokenStore(sessions)
	ts.now = fixedClock(now)

	if err := ts.Save(ctx, &TokenResponse{AccessToken: "abc", ExpiresIn: 3600}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, _, _ := sessions.Get(ctx, KeyTokenExpiry)
	want := now.Add(3300 * time.Second).UnixMilli()
	if raw != strconv.FormatInt(want, 10) {
		t.Fatalf("expiry = %s, want %d", raw, want)
	}
}

func TestTokenStoreExpiredTokenClearsSession(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := store.NewMemoryStore()
	ts := NewTokenStore(sessions)
	ts.now = fixedClock(now)

	_ = ts.Save(ctx, &TokenResponse{AccessToken: "abc", ExpiresIn: 3600, RefreshToken: "r"})
	_ = ts.CacheProfile(ctx, &UserProfile{ID: "u"})
	_ = ts.SavePending(ctx, "verifier", "state")

	// Exactly at the expiry instant the token is no longer valid.
	ts.now = fixedClock(now.Add(3300 * time.Second))
	for i := 0; i < 2; i++ {
		token, err := ts.AccessToken(ctx)
		if err != nil {
			t.Fatalf("AccessToken call %d: %v", i, err)
		}
		if token != "" {
			t.Fatalf("AccessToken call %d returned expired token", i)
		}
	}
	if n := sessions.Len(); n != 0 {
		t.Fatalf("expected every session key cleared, %d remain", n)
	}
}

func TestTokenStoreUnreadableExpiryClearsSession(t *testing.T) {
	ctx := context.Background()
	sessions := store.NewMemoryStore()
	_ = sessions.Set(ctx, map[string]string{KeyAccessToken: "abc", KeyTokenExpiry: "soon"})
	ts := NewTokenStore(sessions)
	if token, err := ts.AccessToken(ctx); err != nil || token != "" {
		t.Fatalf("AccessToken = %q, %v", token, err)
	}
	if sessions.Len() != 0 {
		t.Fatal("session not cleared")
	}
}

func TestTokenStoreMissingTokenKeepsPendingLogin(t *testing.T) {
	ctx := context.Background()
	ts := NewTokenStore(store.NewMemoryStore())
	_ = ts.SavePending(ctx, "verifier", "state")
	if token, err := ts.AccessToken(ctx); err != nil || token != "" {
		t.Fatalf("AccessToken = %q, %v", token, err)
	}
	if state, ok, _ := ts.PendingState(ctx); !ok || state != "state" {
		t.Fatal("pending login was discarded")
	}
}

func TestTokenStoreProfileCache(t *testing.T) {
	ctx := context.Background()
	sessions := store.NewMemoryStore()
	ts := NewTokenStore(sessions)

	if p, err := ts.CachedProfile(ctx); err != nil || p != nil {
		t.Fatalf("empty cache = %+v, %v", p, err)
	}
	want := &UserProfile{ID: "u-1", Email: "ada@example.com", CreatedAt: "2024-01-01"}
	if err := ts.CacheProfile(ctx, want); err != nil {
		t.Fatalf("CacheProfile: %v", err)
	}
	got, err := ts.CachedProfile(ctx)
	if err != nil || got == nil || *got != *want {
		t.Fatalf("CachedProfile = %+v, %v", got, err)
	}

	_ = sessions.Set(ctx, map[string]string{KeyUserProfile: "{not json"})
	if p, errCorrupt := ts.CachedProfile(ctx); errCorrupt != nil || p != nil {
		t.Fatalf("corrupt cache = %+v, %v", p, errCorrupt)
	}
}

func TestTokenStoreTakeVerifierIsOneShot(t *testing.T) {
	ctx := context.Background()
	ts := NewTokenStore(store.NewMemoryStore())
	_ = ts.SavePending(ctx, "verifier-1", "state-1")

	verifier, ok, err := ts.TakeVerifier(ctx)
	if err != nil || !ok || verifier != "verifier-1" {
		t.Fatalf("TakeVerifier = %q %v %v", verifier, ok, err)
	}
	if _, ok, _ = ts.TakeVerifier(ctx); ok {
		t.Fatal("verifier returned twice")
	}
	if err = ts.ClearPending(ctx); err != nil {
		t.Fatalf("ClearPending: %v", err)
	}
	if _, ok, _ = ts.PendingState(ctx); ok {
		t.Fatal("state survived ClearPending")
	}
}

func TestTokenStoreClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ts := NewTokenStore(store.NewMemoryStore())
	_ = ts.Save(ctx, &TokenResponse{AccessToken: "abc", ExpiresIn: 3600})
	for i := 0; i < 2; i++ {
		if err := ts.Clear(ctx); err != nil {
			t.Fatalf("Clear call %d: %v", i, err)
		}
	}
	if token, _ := ts.AccessToken(ctx); token != "" {
		t.Fatal("token survived Clear")
	}
}

func TestTokenStoreSaveRejectsEmptyToken(t *testing.T) {
	ts := NewTokenStore(store.NewMemoryStore())
	if err := ts.Save(context.Background(), &TokenResponse{}); err == nil {
		t.Fatal("expected error for empty access token")
	}
}

func TestTokenStoreSaveLoginDropsCachedProfile(t *testing.T) {
	ctx := context.Background()
	ts := NewTokenStore(store.NewMemoryStore())
	_ = ts.Save(ctx, &TokenResponse{AccessToken: "one", ExpiresIn: 3600})
	_ = ts.CacheProfile(ctx, &UserProfile{ID: "u-1"})

	// A refresh keeps the same user.
	if err := ts.Save(ctx, &TokenResponse{AccessToken: "two", ExpiresIn: 3600}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if p, _ := ts.CachedProfile(ctx); p == nil || p.ID != "u-1" {
		t.Fatalf("profile lost on token save: %+v", p)
	}

	if err := ts.SaveLogin(ctx, &TokenResponse{AccessToken: "three", ExpiresIn: 3600}); err != nil {
		t.Fatalf("SaveLogin: %v", err)
	}
	if p, _ := ts.CachedProfile(ctx); p != nil {
		t.Fatalf("profile survived a new login: %+v", p)
	}
	if token, _ := ts.AccessToken(ctx); token != "three" {
		t.Fatalf("AccessToken = %q", token)
	}
}
