package taskflow

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// CallbackStatus is the state of the callback handler.
type CallbackStatus string

const (
	StatusPending    CallbackStatus = "pending"
	StatusExchanging CallbackStatus = "exchanging"
	StatusSucceeded  CallbackStatus = "succeeded"
	StatusFailed     CallbackStatus = "failed"
	// StatusRedirected marks a flow quietly sent back to the start view.
	StatusRedirected CallbackStatus = "redirected"
)

// CallbackResult is the outcome of one callback.
type CallbackResult struct {
	Status CallbackStatus
	// Destination is where the user was sent. Empty for failures, which stay on an error view.
	Destination Destination
	// Err is the reason for a failure or a silent redirect.
	Err error
	// Message is user-facing text for failures.
	Message string
}

// CallbackHandler completes a login from the provider redirect.
type CallbackHandler struct {
	auth         *TaskflowAuth
	state        *AuthState
	nav          Navigator
	successDelay time.Duration

	inFlight atomic.Bool
	mu       sync.Mutex
	status   CallbackStatus
}

// NewCallbackHandler creates a handler. state may be nil when no derived auth state is kept.
// successDelay paces the navigation to the landing view after a successful exchange.
func NewCallbackHandler(auth *TaskflowAuth, state *AuthState, nav Navigator, successDelay time.Duration) *CallbackHandler {
	if nav == nil {
		nav = noopNavigator
	}
	if successDelay < 0 {
		successDelay = 0
	}
	return &CallbackHandler{
		auth:         auth,
		state:        state,
		nav:          nav,
		successDelay: successDelay,
		status:       StatusPending,
	}
}

// Status returns the current handler state.
func (h *CallbackHandler) Status() CallbackStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *CallbackHandler) setStatus(status CallbackStatus) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
}

// Handle processes the redirect query. Provider errors, missing parameters and a missing
// pending login send the user back to the start view. A state mismatch or a rejected
// exchange is a failure carried in the result; nothing is retried.
// The returned error is only non-nil when another callback is still being processed.
func (h *CallbackHandler) Handle(ctx context.Context, query url.Values) (*CallbackResult, error) {
	if !h.inFlight.CompareAndSwap(false, true) {
		log.Warn("duplicate OAuth callback ignored while an exchange is in flight")
		return nil, NewAuthenticationError(ErrCallbackInProgress, nil)
	}
	defer h.inFlight.Store(false)

	h.setStatus(StatusPending)

	if errCode := query.Get("error"); errCode != "" {
		oauthErr := NewOAuthError(errCode, query.Get("error_description"), http.StatusBadRequest)
		log.Infof("provider returned an error on callback: %s", errCode)
		return h.redirectToStart(NewAuthenticationError(ErrProviderDenied, oauthErr)), nil
	}

	code := query.Get("code")
	returnedState := query.Get("state")
	if code == "" || returnedState == "" {
		return h.redirectToStart(NewAuthenticationError(ErrMissingCallbackParameters, nil)), nil
	}

	expectedState, ok, err := h.auth.tokens.PendingState(ctx)
	if err != nil {
		return h.fail(err), nil
	}
	if !ok {
		return h.redirectToStart(NewAuthenticationError(ErrVerifierNotFound, nil)), nil
	}
	if subtle.ConstantTimeCompare([]byte(expectedState), []byte(returnedState)) != 1 {
		if errClear := h.auth.tokens.ClearPending(ctx); errClear != nil {
			log.Warnf("failed to clear pending login: %v", errClear)
		}
		return h.fail(NewAuthenticationError(ErrInvalidState, nil)), nil
	}

	h.setStatus(StatusExchanging)
	_, err = h.auth.ExchangeCodeForTokens(ctx, code)
	if errClear := h.auth.tokens.ClearPending(ctx); errClear != nil {
		log.Warnf("failed to clear pending login: %v", errClear)
	}
	if err != nil {
		if errors.Is(err, ErrVerifierNotFound) {
			return h.redirectToStart(err), nil
		}
		return h.fail(err), nil
	}

	h.setStatus(StatusSucceeded)
	if h.state != nil {
		h.state.RefreshUser(ctx)
	}

	if h.successDelay > 0 {
		timer := time.NewTimer(h.successDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	h.nav.Navigate(DestinationLanding)
	return &CallbackResult{Status: StatusSucceeded, Destination: DestinationLanding}, nil
}

func (h *CallbackHandler) redirectToStart(reason error) *CallbackResult {
	log.Debugf("returning to start: %v", reason)
	h.setStatus(StatusRedirected)
	h.nav.Navigate(DestinationStart)
	return &CallbackResult{Status: StatusRedirected, Destination: DestinationStart, Err: reason}
}

func (h *CallbackHandler) fail(err error) *CallbackResult {
	log.Errorf("OAuth callback failed: %v", err)
	h.setStatus(StatusFailed)
	return &CallbackResult{Status: StatusFailed, Err: err, Message: GetUserFriendlyMessage(err)}
}
