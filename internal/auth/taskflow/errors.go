package taskflow

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuthError represents an error reported by the provider, either on the redirect
// (error, error_description) or in a token endpoint error body.
type OAuthError struct {
	// Code is the OAuth error code.
	Code string `json:"error"`
	// Description is a human-readable description of the error.
	Description string `json:"error_description,omitempty"`
	// StatusCode is the HTTP status code associated with the error.
	StatusCode int `json:"-"`
}

// Error returns a string representation of the OAuth error.
func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("OAuth error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("OAuth error: %s", e.Code)
}

// NewOAuthError creates a new OAuth error with the specified code, description, and status code.
func NewOAuthError(code, description string, statusCode int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		StatusCode:  statusCode,
	}
}

// AuthenticationError represents authentication-related errors.
// Errors derived from the same sentinel match each other with errors.Is.
type AuthenticationError struct {
	// Type is the type of authentication error.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code is the HTTP status code associated with the error.
	Code int `json:"code"`
	// Cause is the underlying error that caused this authentication error.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AuthenticationError) Unwrap() error { return e.Cause }

// Is reports whether target is an AuthenticationError of the same type.
func (e *AuthenticationError) Is(target error) bool {
	t, ok := target.(*AuthenticationError)
	return ok && t.Type == e.Type
}

// Common authentication error types.
var (
	// ErrPKCEGeneration aborts login when no verifier could be produced.
	ErrPKCEGeneration = &AuthenticationError{
		Type:    "pkce_generation_failed",
		Message: "Failed to generate PKCE codes",
		Code:    http.StatusInternalServerError,
	}

	// ErrMissingCallbackParameters is returned when the redirect lacks code or state.
	ErrMissingCallbackParameters = &AuthenticationError{
		Type:    "missing_callback_parameters",
		Message: "OAuth callback is missing the code or state parameter",
		Code:    http.StatusBadRequest,
	}

	// ErrProviderDenied wraps an *OAuthError reported on the redirect.
	ErrProviderDenied = &AuthenticationError{
		Type:    "provider_denied",
		Message: "Authorization was denied by the provider",
		Code:    http.StatusForbidden,
	}

	// ErrVerifierNotFound means the pending PKCE verifier is gone (consumed, cleared or never stored).
	ErrVerifierNotFound = &AuthenticationError{
		Type:    "verifier_not_found",
		Message: "Code verifier not found",
		Code:    http.StatusBadRequest,
	}

	// ErrInvalidState represents an error for invalid OAuth state parameter.
	ErrInvalidState = &AuthenticationError{
		Type:    "invalid_state",
		Message: "OAuth state parameter is invalid",
		Code:    http.StatusBadRequest,
	}

	// ErrCodeExchangeFailed represents an error when exchanging authorization code for tokens fails.
	// Code carries the token endpoint status when one was received.
	ErrCodeExchangeFailed = &AuthenticationError{
		Type:    "code_exchange_failed",
		Message: "Failed to exchange authorization code for tokens",
		Code:    http.StatusBadRequest,
	}

	// ErrNoRefreshToken is returned when a refresh is requested without a stored refresh token.
	ErrNoRefreshToken = &AuthenticationError{
		Type:    "no_refresh_token",
		Message: "No refresh token available",
		Code:    http.StatusUnauthorized,
	}

	// ErrRefreshFailed is returned when the token endpoint rejects a refresh.
	ErrRefreshFailed = &AuthenticationError{
		Type:    "refresh_failed",
		Message: "Failed to refresh access token",
		Code:    http.StatusUnauthorized,
	}

	// ErrProfileFetch is returned when the user endpoint cannot be read.
	ErrProfileFetch = &AuthenticationError{
		Type:    "profile_fetch_failed",
		Message: "Failed to fetch user profile",
		Code:    http.StatusBadGateway,
	}

	// ErrNotAuthenticated is returned when an authenticated call is made without a valid token.
	ErrNotAuthenticated = &AuthenticationError{
		Type:    "authentication_required",
		Message: "Not authenticated",
		Code:    http.StatusUnauthorized,
	}

	// ErrAuthenticationExpired is returned after the resource server rejected the token.
	ErrAuthenticationExpired = &AuthenticationError{
		Type:    "token_expired",
		Message: "Authentication expired",
		Code:    http.StatusUnauthorized,
	}

	// ErrCallbackInProgress rejects a duplicate callback while an exchange is running.
	ErrCallbackInProgress = &AuthenticationError{
		Type:    "callback_in_progress",
		Message: "OAuth callback is already being processed",
		Code:    http.StatusConflict,
	}

	// ErrServerStartFailed represents an error when starting the OAuth callback server fails.
	ErrServerStartFailed = &AuthenticationError{
		Type:    "server_start_failed",
		Message: "Failed to start OAuth callback server",
		Code:    http.StatusInternalServerError,
	}

	// ErrPortInUse represents an error when the OAuth callback port is already in use.
	ErrPortInUse = &AuthenticationError{
		Type:    "port_in_use",
		Message: "OAuth callback port is already in use",
		Code:    13, // Special exit code for port-in-use
	}

	// ErrCallbackTimeout represents an error when waiting for OAuth callback times out.
	ErrCallbackTimeout = &AuthenticationError{
		Type:    "callback_timeout",
		Message: "Timeout waiting for OAuth callback",
		Code:    http.StatusRequestTimeout,
	}
)

// NewAuthenticationError creates a new authentication error with a cause based on a base error.
func NewAuthenticationError(baseErr *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    baseErr.Type,
		Message: baseErr.Message,
		Code:    baseErr.Code,
		Cause:   cause,
	}
}

// newStatusError derives an error from baseErr carrying an HTTP status.
func newStatusError(baseErr *AuthenticationError, statusCode int, cause error) *AuthenticationError {
	err := NewAuthenticationError(baseErr, cause)
	err.Code = statusCode
	return err
}

// IsAuthenticationError checks if an error is an authentication error.
func IsAuthenticationError(err error) bool {
	_, ok := errors.AsType[*AuthenticationError](err)
	return ok
}

// IsOAuthError checks if an error is an OAuth error.
func IsOAuthError(err error) bool {
	_, ok := errors.AsType[*OAuthError](err)
	return ok
}

// OAuthErrorMessage maps a provider error code to user-facing text.
func OAuthErrorMessage(code, description string) string {
	switch code {
	case "access_denied":
		return "Authentication was cancelled or denied."
	case "invalid_request":
		return "Invalid authentication request. Please try again."
	case "invalid_grant":
		return "The authorization code is invalid or has expired. Please log in again."
	case "invalid_client":
		return "This application is not recognised by TaskFlow. Check the client id."
	case "invalid_scope":
		return "The requested permissions are not available."
	case "server_error", "temporarily_unavailable":
		return "Authentication server error. Please try again later."
	}
	if description != "" {
		return fmt.Sprintf("Authentication failed: %s", description)
	}
	return "Authentication failed. Please try again."
}

// GetUserFriendlyMessage returns a user-friendly error message based on the error type.
func GetUserFriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	if authErr, ok := errors.AsType[*AuthenticationError](err); ok {
		switch authErr.Type {
		case ErrAuthenticationExpired.Type:
			return "Your session has expired. Please log in again."
		case ErrNotAuthenticated.Type:
			return "Please log in to continue."
		case ErrProviderDenied.Type:
			if oauthErr, okOAuth := errors.AsType[*OAuthError](err); okOAuth {
				return OAuthErrorMessage(oauthErr.Code, oauthErr.Description)
			}
			return "Authentication was cancelled or denied."
		case ErrInvalidState.Type:
			return "The login response did not match this login attempt. Please start again."
		case ErrCodeExchangeFailed.Type:
			if oauthErr, okOAuth := errors.AsType[*OAuthError](err); okOAuth {
				return OAuthErrorMessage(oauthErr.Code, oauthErr.Description)
			}
			return "Could not complete login with TaskFlow. Please try again."
		case ErrRefreshFailed.Type, ErrNoRefreshToken.Type:
			return "Your session could not be renewed. Please log in again."
		case ErrPortInUse.Type:
			return "The callback port is already in use. Close the application using it or change redirect-uri, then try again."
		case ErrCallbackTimeout.Type:
			return "Authentication timed out. Please try again."
		case ErrCallbackInProgress.Type:
			return "Login is already being completed in another window."
		case ErrPKCEGeneration.Type:
			return "Could not start a secure login. Please try again."
		default:
			return "Authentication failed. Please try again."
		}
	}
	if oauthErr, ok := errors.AsType[*OAuthError](err); ok {
		return OAuthErrorMessage(oauthErr.Code, oauthErr.Description)
	}
	return "An unexpected error occurred. Please try again."
}
