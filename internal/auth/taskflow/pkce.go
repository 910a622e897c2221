package taskflow

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/oauth2"
)

// verifierEntropyBytes yields a 43-character verifier once base64url-encoded.
const verifierEntropyBytes = 32

// GeneratePKCECodes generates a new pair of PKCE (Proof Key for Code Exchange) codes
// from crypto/rand. A failure is fatal for the login attempt.
func GeneratePKCECodes() (*PKCECodes, error) {
	return GeneratePKCECodesFrom(rand.Reader)
}

// GeneratePKCECodesFrom generates PKCE codes using r as the randomness source.
func GeneratePKCECodesFrom(r io.Reader) (*PKCECodes, error) {
	codeVerifier, err := GenerateCodeVerifier(r)
	if err != nil {
		return nil, NewAuthenticationError(ErrPKCEGeneration, err)
	}
	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: GenerateCodeChallenge(codeVerifier),
	}, nil
}

// GenerateCodeVerifier reads 32 bytes from r and encodes them as unpadded base64url.
func GenerateCodeVerifier(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	bytes := make([]byte, verifierEntropyBytes)
	if _, err := io.ReadFull(r, bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// GenerateCodeChallenge derives the S256 challenge: base64url(SHA-256(verifier)).
func GenerateCodeChallenge(codeVerifier string) string {
	return oauth2.S256ChallengeFromVerifier(codeVerifier)
}
