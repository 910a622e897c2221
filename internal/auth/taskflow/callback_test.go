package taskflow

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"
)

func callbackQuery(pairs ...string) url.Values {
	q := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		q.Set(pairs[i], pairs[i+1])
	}
	return q
}

func TestCallbackProviderErrorRedirectsToStart(t *testing.T) {
	p := newFakeProvider(t)
	auth, _, nav := newTestAuth(t, p)
	ctx := context.Background()
	_ = auth.Tokens().SavePending(ctx, "verifier", "state-1")
	h := NewCallbackHandler(auth, nil, nav, 0)

	result, err := h.Handle(ctx, callbackQuery("error", "access_denied", "error_description", "User denied access"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Status != StatusRedirected || result.Destination != DestinationStart {
		t.Fatalf("unexpected result %+v", result)
	}
	if !errors.Is(result.Err, ErrProviderDenied) {
		t.Fatalf("expected ErrProviderDenied reason, got %v", result.Err)
	}
	if p.tokenHits.Load() != 0 {
		t.Fatalf("exchange attempted %d times", p.tokenHits.Load())
	}
	if dests := nav.Destinations(); len(dests) != 1 || dests[0] != DestinationStart {
		t.Fatalf("unexpected navigation %v", dests)
	}
}

func TestCallbackMissingParametersRedirectsToStart(t *testing.T) {
	tests := []struct {
		name  string
		query url.Values
	}{
		{"no parameters", url.Values{}},
		{"code only", callbackQuery("code", "c")},
		{"state only", callbackQuery("state", "s")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider(t)
			auth, _, nav := newTestAuth(t, p)
			h := NewCallbackHandler(auth, nil, nav, 0)

			result, err := h.Handle(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if result.Destination != DestinationStart || !errors.Is(result.Err, ErrMissingCallbackParameters) {
				t.Fatalf("unexpected result %+v", result)
			}
			if p.tokenHits.Load() != 0 {
				t.Fatal("no exchange expected")
			}
		})
	}
}

func TestCallbackWithoutPersistedVerifierRedirectsToStart(t *testing.T) {
	t.Run("nothing persisted", func(t *testing.T) {
		p := newFakeProvider(t)
		auth, _, nav := newTestAuth(t, p)
		h := NewCallbackHandler(auth, nil, nav, 0)

		result, err := h.Handle(context.Background(), callbackQuery("code", "c", "state", "s"))
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if result.Status != StatusRedirected || result.Destination != DestinationStart {
			t.Fatalf("unexpected result %+v", result)
		}
		if result.Message != "" {
			t.Fatal("no error should be displayed")
		}
		if dests := nav.Destinations(); len(dests) != 1 || dests[0] != DestinationStart {
			t.Fatalf("unexpected navigation %v", dests)
		}
	})

	t.Run("state persisted but verifier gone", func(t *testing.T) {
		p := newFakeProvider(t)
		auth, sessions, nav := newTestAuth(t, p)
		ctx := context.Background()
		_ = sessions.Set(ctx, map[string]string{KeyOAuthState: "s"})
		h := NewCallbackHandler(auth, nil, nav, 0)

		result, err := h.Handle(ctx, callbackQuery("code", "c", "state", "s"))
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if result.Status != StatusRedirected || !errors.Is(result.Err, ErrVerifierNotFound) {
			t.Fatalf("unexpected result %+v", result)
		}
		if p.tokenHits.Load() != 0 {
			t.Fatal("no exchange expected")
		}
		if h.Status() != StatusRedirected {
			t.Fatalf("status = %s", h.Status())
		}
	})
}

func TestCallbackStateMismatchFailsClosed(t *testing.T) {
	p := newFakeProvider(t)
	auth, sessions, nav := newTestAuth(t, p)
	ctx := context.Background()
	_ = auth.Tokens().SavePending(ctx, "verifier", "expected-state")
	h := NewCallbackHandler(auth, nil, nav, 0)

	result, err := h.Handle(ctx, callbackQuery("code", "c", "state", "forged-state"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Status != StatusFailed || !errors.Is(result.Err, ErrInvalidState) {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Message == "" {
		t.Fatal("failure must carry a user-facing message")
	}
	if p.tokenHits.Load() != 0 {
		t.Fatal("no exchange may happen on a state mismatch")
	}
	if sessions.Len() != 0 {
		t.Fatal("pending login must be cleared")
	}
	if len(nav.Destinations()) != 0 {
		t.Fatal("failure stays on the error view")
	}
}

func TestCallbackSuccessfulExchange(t *testing.T) {
	p := newFakeProvider(t)
	auth, sessions, nav := newTestAuth(t, p)
	ctx := context.Background()
	_ = auth.Tokens().SavePending(ctx, "verifier", "state-1")
	state := NewAuthState(auth)
	h := NewCallbackHandler(auth, state, nav, 10*time.Millisecond)

	before := time.Now()
	result, err := h.Handle(ctx, callbackQuery("code", "c", "state", "state-1"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Status != StatusSucceeded || result.Destination != DestinationLanding {
		t.Fatalf("unexpected result %+v", result)
	}
	if h.Status() != StatusSucceeded {
		t.Fatalf("status = %s", h.Status())
	}
	if dests := nav.Destinations(); len(dests) != 1 || dests[0] != DestinationLanding {
		t.Fatalf("expected exactly one landing navigation, got %v", dests)
	}

	expiry, ok, _ := auth.Tokens().Expiry(ctx)
	if !ok {
		t.Fatal("expiry not stored")
	}
	want := before.Add(3300 * time.Second)
	if diff := expiry.Sub(want); diff < -time.Second || diff > 5*time.Second {
		t.Fatalf("expiry %v not close to now+3300s (%v)", expiry, want)
	}
	if token, _ := auth.Tokens().AccessToken(ctx); token != "abc" {
		t.Fatalf("stored token %q", token)
	}
	for _, key := range []string{KeyCodeVerifier, KeyOAuthState} {
		if _, present, _ := sessions.Get(ctx, key); present {
			t.Fatalf("%s not cleared after success", key)
		}
	}
	if snap := state.Snapshot(); !snap.Authenticated || snap.User == nil || snap.User.Email != "ada@example.com" {
		t.Fatalf("auth state not refreshed: %+v", snap)
	}
}

func TestCallbackExchangeFailureIsSurfacedWithoutRetry(t *testing.T) {
	p := newFakeProvider(t)
	p.tokenFunc = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	}
	auth, _, nav := newTestAuth(t, p)
	ctx := context.Background()
	_ = auth.Tokens().SavePending(ctx, "verifier", "state-1")
	h := NewCallbackHandler(auth, nil, nav, 0)

	result, err := h.Handle(ctx, callbackQuery("code", "c", "state", "state-1"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Status != StatusFailed || !errors.Is(result.Err, ErrCodeExchangeFailed) {
		t.Fatalf("unexpected result %+v", result)
	}
	if authErr, _ := errors.AsType[*AuthenticationError](result.Err); authErr.Code != http.StatusInternalServerError {
		t.Fatalf("status not carried: %d", authErr.Code)
	}
	if result.Message == "" {
		t.Fatal("expected a user-facing message")
	}
	if p.tokenHits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", p.tokenHits.Load())
	}
	if len(nav.Destinations()) != 0 {
		t.Fatal("failure must not navigate")
	}
}

func TestCallbackRejectsDuplicateWhileExchanging(t *testing.T) {
	p := newFakeProvider(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	p.tokenFunc = func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"bearer","expires_in":3600}`))
	}
	auth, _, nav := newTestAuth(t, p)
	ctx := context.Background()
	_ = auth.Tokens().SavePending(ctx, "verifier", "state-1")
	h := NewCallbackHandler(auth, nil, nav, 0)

	type outcome struct {
		result *CallbackResult
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		result, err := h.Handle(ctx, callbackQuery("code", "c", "state", "state-1"))
		first <- outcome{result, err}
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first exchange never reached the provider")
	}
	if h.Status() != StatusExchanging {
		t.Fatalf("status = %s, want exchanging", h.Status())
	}
	if _, err := h.Handle(ctx, callbackQuery("code", "c", "state", "state-1")); !errors.Is(err, ErrCallbackInProgress) {
		t.Fatalf("expected ErrCallbackInProgress, got %v", err)
	}
	close(release)

	got := <-first
	if got.err != nil || got.result.Status != StatusSucceeded {
		t.Fatalf("first callback = %+v, %v", got.result, got.err)
	}
	if p.tokenHits.Load() != 1 {
		t.Fatalf("expected one exchange, got %d", p.tokenHits.Load())
	}

	// A replay after completion finds no pending login.
	replay, err := h.Handle(ctx, callbackQuery("code", "c", "state", "state-1"))
	if err != nil || replay.Destination != DestinationStart {
		t.Fatalf("replay = %+v, %v", replay, err)
	}
	if p.tokenHits.Load() != 1 {
		t.Fatal("replay must not exchange")
	}
}

func TestCallbackSuccessDelayHonoursCancellation(t *testing.T) {
	p := newFakeProvider(t)
	auth, _, nav := newTestAuth(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	_ = auth.Tokens().SavePending(ctx, "verifier", "state-1")
	h := NewCallbackHandler(auth, nil, nav, time.Hour)

	go func() {
		for h.Status() != StatusSucceeded {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()
	done := make(chan *CallbackResult, 1)
	go func() {
		result, _ := h.Handle(ctx, callbackQuery("code", "c", "state", "state-1"))
		done <- result
	}()
	select {
	case result := <-done:
		if result == nil || result.Status != StatusSucceeded {
			t.Fatalf("unexpected result %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pacing delay ignored cancellation")
	}
	if dests := nav.Destinations(); len(dests) != 1 || dests[0] != DestinationLanding {
		t.Fatalf("unexpected navigation %v", dests)
	}
}
