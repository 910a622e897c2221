// Package client calls the TaskFlow resource API on behalf of the logged-in user.
// Every request carries the stored bearer token; a 401 ends the session.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/focustime/focustime/internal/auth/taskflow"
	log "github.com/sirupsen/logrus"
)

// RequestOptions customises one API request.
type RequestOptions struct {
	// Method defaults to GET.
	Method string
	// Header entries override the defaults. An entry with no values removes the default header.
	Header http.Header
	// Body is sent as is.
	Body io.Reader
}

// Client is the authenticated request wrapper for the TaskFlow API.
type Client struct {
	auth       *taskflow.TaskflowAuth
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client sharing auth's session, configuration and HTTP client.
func NewClient(auth *taskflow.TaskflowAuth) *Client {
	return &Client{
		auth:       auth,
		baseURL:    strings.TrimRight(auth.Config().APIURL, "/"),
		httpClient: auth.HTTPClient(),
	}
}

// Request performs an authenticated request to path, which is either absolute
// or relative to the API base URL.
//
// Without a valid access token it fails with taskflow.ErrNotAuthenticated before any I/O.
// A 401 response clears the session, sends the user back to the start view and returns
// taskflow.ErrAuthenticationExpired. Any other response is returned to the caller, who
// must close its body.
func (c *Client) Request(ctx context.Context, path string, opts *RequestOptions) (*http.Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	token, err := c.auth.Tokens().AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: read access token: %w", err)
	}
	if token == "" {
		return nil, taskflow.NewAuthenticationError(taskflow.ErrNotAuthenticated, nil)
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), opts.Body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	for name, values := range opts.Header {
		if len(values) == 0 {
			req.Header.Del(name)
			continue
		}
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		log.Info("API rejected the access token, logging out")
		if errLogout := c.auth.Logout(ctx); errLogout != nil {
			log.Warnf("failed to clear session after 401: %v", errLogout)
		}
		return nil, taskflow.NewAuthenticationError(taskflow.ErrAuthenticationExpired, nil)
	}
	return resp, nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}
