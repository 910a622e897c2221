package misc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// GenerateRandomState generates a cryptographically secure random state parameter
// for OAuth2 flows to prevent CSRF attacks.
//
// Returns:
//   - string: A hexadecimal encoded random state string
//   - error: An error if the random generation fails, nil otherwise
func GenerateRandomState() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// OAuthCallback captures the parameters of a provider redirect.
type OAuthCallback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Values renders the callback as the query the provider would have sent.
func (c *OAuthCallback) Values() url.Values {
	values := url.Values{}
	if c == nil {
		return values
	}
	set := func(key, value string) {
		if value != "" {
			values.Set(key, value)
		}
	}
	set("code", c.Code)
	set("state", c.State)
	set("error", c.Error)
	set("error_description", c.ErrorDescription)
	return values
}

// ParseOAuthCallback extracts OAuth parameters from a pasted callback URL.
// It accepts full URLs, bare host/path forms and raw query strings, and also reads
// parameters placed in the fragment. It returns nil when the input is empty.
func ParseOAuthCallback(input string) (*OAuthCallback, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, nil
	}

	parsedURL, err := url.Parse(normalizeCallbackInput(trimmed))
	if err != nil {
		return nil, err
	}
	if parsedURL == nil {
		return nil, fmt.Errorf("invalid callback URL")
	}

	query := parsedURL.Query()
	if parsedURL.Fragment != "" {
		if fragment, errFrag := url.ParseQuery(parsedURL.Fragment); errFrag == nil {
			for key, values := range fragment {
				if strings.TrimSpace(query.Get(key)) == "" && len(values) > 0 {
					query.Set(key, values[0])
				}
			}
		}
	}

	callback := &OAuthCallback{
		Code:             strings.TrimSpace(query.Get("code")),
		State:            strings.TrimSpace(query.Get("state")),
		Error:            strings.TrimSpace(query.Get("error")),
		ErrorDescription: strings.TrimSpace(query.Get("error_description")),
	}
	if callback.Error == "" && callback.ErrorDescription != "" {
		callback.Error, callback.ErrorDescription = callback.ErrorDescription, ""
	}
	if callback.Code == "" && callback.Error == "" {
		return nil, fmt.Errorf("callback URL missing code")
	}
	return callback, nil
}

func normalizeCallbackInput(input string) string {
	switch {
	case strings.Contains(input, "://"):
		return input
	case strings.HasPrefix(input, "?"):
		return "http://localhost/" + input
	case strings.ContainsAny(input, "/?#") || strings.Contains(input, ":"):
		return "http://" + input
	case strings.Contains(input, "="):
		return "http://localhost/?" + input
	}
	return "http://" + input
}
