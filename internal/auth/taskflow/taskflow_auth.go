package taskflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/focustime/focustime/internal/config"
	"github.com/focustime/focustime/internal/logging"
	"github.com/focustime/focustime/internal/misc"
	"github.com/focustime/focustime/internal/store"
	"github.com/focustime/focustime/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const defaultHTTPTimeout = 30 * time.Second

// TaskflowAuth handles the TaskFlow OAuth2 authentication flow.
// It builds authorization URLs, exchanges codes, refreshes tokens and reads the user
// profile, persisting everything through its TokenStore.
type TaskflowAuth struct {
	cfg        *config.Config
	httpClient *http.Client
	tokens     *TokenStore
	nav        Navigator
	oauth      *oauth2.Config
	refreshes  singleflight.Group
}

// NewTaskflowAuth creates a new TaskflowAuth service instance.
// It initializes an HTTP client with proxy settings from the provided configuration
// and debug request logging.
// A nil Navigator discards navigation requests.
func NewTaskflowAuth(cfg *config.Config, sessions store.Store, nav Navigator) *TaskflowAuth {
	if nav == nil {
		nav = noopNavigator
	}
	return &TaskflowAuth{
		cfg:        cfg,
		httpClient: logging.WrapClient(util.SetProxy(cfg.ProxyURL, &http.Client{Timeout: defaultHTTPTimeout})),
		tokens:     NewTokenStore(sessions),
		nav:        nav,
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL(),
				TokenURL:  cfg.TokenURL(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// Tokens returns the session token store.
func (o *TaskflowAuth) Tokens() *TokenStore { return o.tokens }

// Config returns the configuration the service was built with.
func (o *TaskflowAuth) Config() *config.Config { return o.cfg }

// HTTPClient returns the proxy-aware client shared with the resource API.
func (o *TaskflowAuth) HTTPClient() *http.Client { return o.httpClient }

// GenerateAuthURL starts a login attempt: it creates a PKCE pair and a state nonce,
// persists both, and returns the provider authorization URL. The caller must navigate to it.
func (o *TaskflowAuth) GenerateAuthURL(ctx context.Context) (string, error) {
	pkceCodes, err := GeneratePKCECodes()
	if err != nil {
		return "", err
	}
	state, err := misc.GenerateRandomState()
	if err != nil {
		return "", NewAuthenticationError(ErrPKCEGeneration, err)
	}
	if err = o.tokens.SavePending(ctx, pkceCodes.CodeVerifier, state); err != nil {
		return "", err
	}
	return o.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(pkceCodes.CodeVerifier)), nil
}

// ExchangeCodeForTokens exchanges an authorization code for access and refresh tokens.
// The pending verifier is consumed before the request is sent, whatever the outcome.
func (o *TaskflowAuth) ExchangeCodeForTokens(ctx context.Context, code string) (*TokenResponse, error) {
	verifier, ok, err := o.tokens.TakeVerifier(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewAuthenticationError(ErrVerifierNotFound, nil)
	}

	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {o.cfg.ClientID},
		"code":          {code},
		"redirect_uri":  {o.cfg.RedirectURI},
		"code_verifier": {verifier},
	}
	tokenResp, status, err := o.postToken(ctx, data)
	if err != nil {
		if status != 0 {
			return nil, newStatusError(ErrCodeExchangeFailed, status, err)
		}
		return nil, NewAuthenticationError(ErrCodeExchangeFailed, err)
	}
	if err = o.tokens.SaveLogin(ctx, tokenResp); err != nil {
		return nil, err
	}
	log.Debug("authorization code exchanged for tokens")
	return tokenResp, nil
}

// RefreshTokens exchanges the stored refresh token for a new token set.
// Concurrent calls in this process share one request. A rejected refresh clears the session.
func (o *TaskflowAuth) RefreshTokens(ctx context.Context) (*TokenResponse, error) {
	result, err, _ := o.refreshes.Do("refresh", func() (any, error) {
		return o.refreshTokens(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*TokenResponse), nil
}

func (o *TaskflowAuth) refreshTokens(ctx context.Context) (*TokenResponse, error) {
	refreshToken, ok, err := o.tokens.RefreshToken(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewAuthenticationError(ErrNoRefreshToken, nil)
	}

	data := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {o.cfg.ClientID},
		"refresh_token": {refreshToken},
	}
	tokenResp, status, err := o.postToken(ctx, data)
	if err != nil {
		if status == 0 {
			return nil, NewAuthenticationError(ErrRefreshFailed, err)
		}
		if errClear := o.tokens.Clear(ctx); errClear != nil {
			log.Warnf("failed to clear session after rejected refresh: %v", errClear)
		}
		return nil, newStatusError(ErrRefreshFailed, status, err)
	}
	if tokenResp.RefreshToken == "" {
		tokenResp.RefreshToken = refreshToken
	}
	if err = o.tokens.Save(ctx, tokenResp); err != nil {
		return nil, err
	}
	log.Debug("access token refreshed")
	return tokenResp, nil
}

// postToken sends a form request to the token endpoint. The returned status is non-zero
// whenever the endpoint answered, including on failures.
func (o *TaskflowAuth) postToken(ctx context.Context, data url.Values) (*TokenResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.TokenURL(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, parseTokenError(resp.StatusCode, body)
	}

	var tokenResp TokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, resp.StatusCode, fmt.Errorf("token response is missing access_token")
	}
	return &tokenResp, resp.StatusCode, nil
}

// parseTokenError turns a token endpoint error body into an *OAuthError when possible.
func parseTokenError(status int, body []byte) error {
	if gjson.ValidBytes(body) {
		if code := gjson.GetBytes(body, "error"); code.Type == gjson.String && code.String() != "" {
			return NewOAuthError(code.String(), gjson.GetBytes(body, "error_description").String(), status)
		}
	}
	return fmt.Errorf("token endpoint returned status %d: %s", status, strings.TrimSpace(string(body)))
}

// IsAuthenticated reports whether a valid access token is stored.
func (o *TaskflowAuth) IsAuthenticated(ctx context.Context) bool {
	token, err := o.tokens.AccessToken(ctx)
	if err != nil {
		log.Warnf("failed to read session: %v", err)
		return false
	}
	return token != ""
}

// FetchUserProfile reads the profile from the resource server without touching the cache.
func (o *TaskflowAuth) FetchUserProfile(ctx context.Context) (*UserProfile, error) {
	token, err := o.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, NewAuthenticationError(ErrNotAuthenticated, nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.APIURL+"/user", nil)
	if err != nil {
		return nil, NewAuthenticationError(ErrProfileFetch, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, NewAuthenticationError(ErrProfileFetch, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, NewAuthenticationError(ErrAuthenticationExpired, nil)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newStatusError(ErrProfileFetch, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(ErrProfileFetch, resp.StatusCode, fmt.Errorf("user endpoint returned status %d", resp.StatusCode))
	}

	user := gjson.GetBytes(body, "user")
	if !user.IsObject() {
		return nil, NewAuthenticationError(ErrProfileFetch, fmt.Errorf("user endpoint response has no user object"))
	}
	var profile UserProfile
	if err = json.Unmarshal([]byte(user.Raw), &profile); err != nil {
		return nil, NewAuthenticationError(ErrProfileFetch, err)
	}
	return &profile, nil
}

// UserProfile returns the signed-in user's profile, or nil.
// The cached copy is used unless forceRefresh is set, in which case it is discarded first.
// A 401 from the user endpoint logs the user out; any other failure is logged and reported as nil.
func (o *TaskflowAuth) UserProfile(ctx context.Context, forceRefresh bool) *UserProfile {
	if !o.IsAuthenticated(ctx) {
		return nil
	}
	if forceRefresh {
		if err := o.tokens.CacheProfile(ctx, nil); err != nil {
			log.Debugf("failed to invalidate cached profile: %v", err)
		}
	} else {
		cached, err := o.tokens.CachedProfile(ctx)
		if err != nil {
			log.Debugf("profile cache unavailable: %v", err)
		} else if cached != nil {
			return cached
		}
	}

	profile, err := o.FetchUserProfile(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthenticationExpired) {
			log.Info("user endpoint rejected the access token, logging out")
			if errLogout := o.Logout(ctx); errLogout != nil {
				log.Warnf("logout failed: %v", errLogout)
			}
			return nil
		}
		log.Warnf("failed to fetch user profile: %v", err)
		return nil
	}
	if err = o.tokens.CacheProfile(ctx, profile); err != nil {
		log.Debugf("failed to cache user profile: %v", err)
	}
	return profile
}

// Logout clears the session and navigates to the start view.
func (o *TaskflowAuth) Logout(ctx context.Context) error {
	err := o.tokens.Clear(ctx)
	o.nav.Navigate(DestinationStart)
	return err
}
