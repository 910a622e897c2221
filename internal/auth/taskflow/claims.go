package taskflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenClaims summarises what a JWT access token says about itself.
// The signature is not verified; the values are for display only.
type AccessTokenClaims struct {
	Subject   string
	Issuer    string
	ClientID  string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ParseAccessTokenClaims decodes the claims of a JWT access token without verifying it.
// Opaque (non-JWT) tokens return an error.
func ParseAccessTokenClaims(token string) (*AccessTokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("access token is not a readable JWT: %w", err)
	}

	out := &AccessTokenClaims{}
	out.Subject, _ = claims.GetSubject()
	out.Issuer, _ = claims.GetIssuer()
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if clientID, ok := claims["client_id"].(string); ok {
		out.ClientID = clientID
	}

	switch scope := claims["scope"].(type) {
	case string:
		out.Scopes = strings.Fields(scope)
	case []any:
		for _, item := range scope {
			if s, ok := item.(string); ok && s != "" {
				out.Scopes = append(out.Scopes, s)
			}
		}
	}
	if len(out.Scopes) == 0 {
		if scp, ok := claims["scp"].([]any); ok {
			for _, item := range scp {
				if s, okStr := item.(string); okStr && s != "" {
					out.Scopes = append(out.Scopes, s)
				}
			}
		}
	}
	return out, nil
}
