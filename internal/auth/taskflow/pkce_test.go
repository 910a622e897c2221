package taskflow

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"testing"
)

var urlSafeVerifier = regexp.MustCompile(`^[A-Za-z0-9_-]{43,128}$`)

func TestGeneratePKCECodesProperties(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		codes, err := GeneratePKCECodes()
		if err != nil {
			t.Fatalf("GeneratePKCECodes: %v", err)
		}
		if !urlSafeVerifier.MatchString(codes.CodeVerifier) {
			t.Fatalf("verifier %q is not 43-128 url-safe characters", codes.CodeVerifier)
		}
		sum := sha256.Sum256([]byte(codes.CodeVerifier))
		want := base64.RawURLEncoding.EncodeToString(sum[:])
		if codes.CodeChallenge != want {
			t.Fatalf("challenge mismatch: got %q want %q", codes.CodeChallenge, want)
		}
		if GenerateCodeChallenge(codes.CodeVerifier) != codes.CodeChallenge {
			t.Fatal("challenge derivation is not deterministic")
		}
		if _, dup := seen[codes.CodeVerifier]; dup {
			t.Fatal("verifier repeated")
		}
		seen[codes.CodeVerifier] = struct{}{}
	}
}

func TestGeneratePKCECodesFromFixedSource(t *testing.T) {
	codes, err := GeneratePKCECodesFrom(bytes.NewReader(make([]byte, 32)))
	if err != nil {
		t.Fatalf("GeneratePKCECodesFrom: %v", err)
	}
	if codes.CodeVerifier != strings.Repeat("A", 43) {
		t.Fatalf("unexpected verifier %q", codes.CodeVerifier)
	}
	if strings.ContainsAny(codes.CodeChallenge, "+/=") {
		t.Fatalf("challenge is not base64url without padding: %q", codes.CodeChallenge)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGeneratePKCECodesFailure(t *testing.T) {
	if _, err := GeneratePKCECodesFrom(failingReader{}); !errors.Is(err, ErrPKCEGeneration) {
		t.Fatalf("expected ErrPKCEGeneration, got %v", err)
	}
	// A short source must not yield a short verifier.
	if _, err := GeneratePKCECodesFrom(bytes.NewReader(make([]byte, 10))); !errors.Is(err, ErrPKCEGeneration) {
		t.Fatalf("expected ErrPKCEGeneration for short source, got %v", err)
	}
}
