// Package taskflow implements the FocusTime side of the TaskFlow OAuth 2.1 flow:
// PKCE generation, the authorization request, the redirect callback, the code exchange,
// and the lifecycle of the resulting session (storage, expiry, refresh, profile cache).
// All session state lives in an injected store.Store; navigation is delegated to a Navigator.
package taskflow

import (
	"time"
)

// Session keys. All of them are removed together on logout.
const (
	KeyAccessToken  = "focustime_access_token"
	KeyRefreshToken = "focustime_refresh_token"
	KeyTokenExpiry  = "focustime_token_expiry"
	KeyCodeVerifier = "focustime_code_verifier"
	KeyUserProfile  = "focustime_user_profile"
	KeyOAuthState   = "focustime_oauth_state"

	// KeyPrefix is shared by every session key.
	KeyPrefix = "focustime_"
)

// sessionKeys lists every key owned by a session.
var sessionKeys = []string{
	KeyAccessToken,
	KeyRefreshToken,
	KeyTokenExpiry,
	KeyCodeVerifier,
	KeyUserProfile,
	KeyOAuthState,
}

// ExpirySafetyMargin is subtracted from expires_in so tokens are treated as expired
// slightly before the provider rejects them.
const ExpirySafetyMargin = 300 * time.Second

// PKCECodes holds PKCE verification codes for OAuth2 PKCE flow
type PKCECodes struct {
	// CodeVerifier is the cryptographically random string used to correlate
	// the authorization request to the token request
	CodeVerifier string `json:"code_verifier"`
	// CodeChallenge is the SHA256 hash of the code verifier, base64url-encoded
	CodeChallenge string `json:"code_challenge"`
}

// TokenResponse represents the token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// UserProfile is the identity reported by the TaskFlow user endpoint.
type UserProfile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

// Destination names a view the flow can navigate to.
type Destination string

const (
	// DestinationStart is the unauthenticated landing view where login starts.
	DestinationStart Destination = "start"
	// DestinationLanding is the authenticated landing view shown after login.
	DestinationLanding Destination = "landing"
)

// Navigator moves the user to a destination. In the CLI this reports the outcome;
// on the callback server it decides the redirect target.
type Navigator interface {
	Navigate(dest Destination)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(dest Destination)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(dest Destination) {
	if f != nil {
		f(dest)
	}
}

var noopNavigator = NavigatorFunc(func(Destination) {})
