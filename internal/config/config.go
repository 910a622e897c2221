// Package config provides configuration management for the FocusTime client.
// It handles loading and parsing the YAML configuration file, overlaying FOCUSTIME_*
// environment variables, and provides structured access to the OAuth provider
// endpoints, the TaskFlow API location, session storage and logging settings.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultCallbackPath is appended to the site URL when no explicit redirect URI is configured.
	DefaultCallbackPath = "/auth/callback"

	// DefaultSuccessDelay paces the redirect to the landing view after a successful login.
	DefaultSuccessDelay = 600 * time.Millisecond

	// DefaultCallbackTimeout bounds how long a login waits for the provider redirect.
	DefaultCallbackTimeout = 5 * time.Minute

	// DefaultManualPromptAfter is the wait before the CLI offers to paste the callback URL.
	DefaultManualPromptAfter = 15 * time.Second

	defaultSiteURL     = "http://localhost:3001"
	defaultAPIURL      = "http://localhost:3000/api"
	defaultSessionPath = "~/.focustime/session.json"
	defaultNamespace   = "default"
	defaultPgTable     = "focustime_session"
)

// DefaultScopes are the scopes requested on every authorization request.
var DefaultScopes = []string{"profile:read", "tasks:read", "tasks:write"}

// Session backends.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendObject   = "object"
)

// Config represents the application's configuration, loaded from a YAML file and
// overlaid with environment variables. It is built once at startup and must be treated
// as read-only afterwards.
type Config struct {
	// ProviderURL is the base URL of the TaskFlow authorization server.
	// The client appends /oauth/authorize and /oauth/token to it.
	ProviderURL string `yaml:"provider-url" json:"provider-url" env:"FOCUSTIME_PROVIDER_URL"`

	// ClientID is the public OAuth client identifier registered with the provider.
	ClientID string `yaml:"client-id" json:"client-id" env:"FOCUSTIME_CLIENT_ID"`

	// SiteURL is the public origin of this client. The redirect URI defaults to SiteURL + /auth/callback.
	SiteURL string `yaml:"site-url" json:"site-url" env:"FOCUSTIME_SITE_URL"`

	// RedirectURI overrides the derived callback URL.
	RedirectURI string `yaml:"redirect-uri,omitempty" json:"redirect-uri,omitempty" env:"FOCUSTIME_REDIRECT_URI"`

	// APIURL is the TaskFlow resource API base URL (for example http://localhost:3000/api).
	APIURL string `yaml:"api-url" json:"api-url" env:"FOCUSTIME_API_URL"`

	// Scopes lists the scopes requested during authorization.
	Scopes []string `yaml:"scopes" json:"scopes" env:"FOCUSTIME_SCOPES" envSeparator:","`

	// ProxyURL is the URL of an optional proxy server used for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url" env:"FOCUSTIME_PROXY_URL"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug" env:"FOCUSTIME_DEBUG"`

	// LoggingToFile writes logs to a rotating file instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file" env:"FOCUSTIME_LOGGING_TO_FILE"`

	// LogDir is the directory used when LoggingToFile is enabled.
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty" env:"FOCUSTIME_LOG_DIR"`

	// LogsMaxTotalSizeMB caps the log directory; the oldest rotated files are removed first. 0 disables.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb" env:"FOCUSTIME_LOGS_MAX_TOTAL_SIZE_MB"`

	// Callback configures the loopback callback handling.
	Callback CallbackConfig `yaml:"callback" json:"callback"`

	// Session configures where the OAuth session is persisted.
	Session SessionConfig `yaml:"session" json:"session"`

	// Focus configures the focus timer.
	Focus FocusConfig `yaml:"focus" json:"focus"`
}

// CallbackConfig holds callback timing settings.
type CallbackConfig struct {
	// SuccessDelay is the pause between a successful exchange and the landing redirect.
	// Unset means DefaultSuccessDelay; 0 disables the pause.
	SuccessDelay time.Duration `yaml:"success-delay" json:"success-delay" env:"FOCUSTIME_CALLBACK_SUCCESS_DELAY"`

	// Timeout bounds the wait for the provider redirect.
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"FOCUSTIME_CALLBACK_TIMEOUT"`

	// ManualPromptAfter is how long to wait before offering a manual callback URL paste.
	// Negative values disable the prompt.
	ManualPromptAfter time.Duration `yaml:"manual-prompt-after" json:"manual-prompt-after" env:"FOCUSTIME_CALLBACK_MANUAL_PROMPT_AFTER"`
}

// SessionConfig selects and configures the session storage backend.
type SessionConfig struct {
	// Backend is one of file, memory, postgres or object.
	Backend string `yaml:"backend" json:"backend" env:"FOCUSTIME_SESSION_BACKEND"`

	// Path is the JSON file used by the file backend.
	Path string `yaml:"path" json:"path" env:"FOCUSTIME_SESSION_PATH"`

	// EncryptionKey, when set, encrypts the session at rest (file and object backends).
	EncryptionKey string `yaml:"encryption-key,omitempty" json:"-" env:"FOCUSTIME_SESSION_ENCRYPTION_KEY"`

	// Namespace separates sessions sharing one database table or bucket.
	Namespace string `yaml:"namespace" json:"namespace" env:"FOCUSTIME_SESSION_NAMESPACE"`

	Postgres PostgresSessionConfig `yaml:"postgres" json:"postgres"`
	Object   ObjectSessionConfig   `yaml:"object" json:"object"`
}

// PostgresSessionConfig configures the Postgres session backend.
type PostgresSessionConfig struct {
	DSN    string `yaml:"dsn" json:"-" env:"FOCUSTIME_PGSTORE_DSN"`
	Schema string `yaml:"schema" json:"schema" env:"FOCUSTIME_PGSTORE_SCHEMA"`
	Table  string `yaml:"table" json:"table" env:"FOCUSTIME_PGSTORE_TABLE"`
}

// ObjectSessionConfig configures the S3-compatible session backend.
type ObjectSessionConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint" env:"FOCUSTIME_OBJECTSTORE_ENDPOINT"`
	Bucket    string `yaml:"bucket" json:"bucket" env:"FOCUSTIME_OBJECTSTORE_BUCKET"`
	AccessKey string `yaml:"access-key" json:"-" env:"FOCUSTIME_OBJECTSTORE_ACCESS_KEY"`
	SecretKey string `yaml:"secret-key" json:"-" env:"FOCUSTIME_OBJECTSTORE_SECRET_KEY"`
	Region    string `yaml:"region" json:"region" env:"FOCUSTIME_OBJECTSTORE_REGION"`
	Prefix    string `yaml:"prefix" json:"prefix" env:"FOCUSTIME_OBJECTSTORE_PREFIX"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl" env:"FOCUSTIME_OBJECTSTORE_USE_SSL"`
	PathStyle bool   `yaml:"path-style" json:"path-style" env:"FOCUSTIME_OBJECTSTORE_PATH_STYLE"`
}

// FocusConfig holds Pomodoro durations.
type FocusConfig struct {
	Duration time.Duration `yaml:"duration" json:"duration" env:"FOCUSTIME_FOCUS_DURATION"`
	Break    time.Duration `yaml:"break" json:"break" env:"FOCUSTIME_FOCUS_BREAK"`
}

// LoadConfig reads the YAML file at configFile (when it exists), overlays environment
// variables, applies defaults and validates the result.
// An empty configFile skips the file and uses environment variables and defaults only.
func LoadConfig(configFile string) (*Config, error) {
	// Seeded before decoding so an explicit zero survives and disables the pause.
	cfg := &Config{Callback: CallbackConfig{SuccessDelay: DefaultSuccessDelay}}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		switch {
		case err == nil:
			if err = yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// A missing file is fine; environment variables may carry everything.
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	cfg.ProviderURL = strings.TrimRight(strings.TrimSpace(cfg.ProviderURL), "/")
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.SiteURL = strings.TrimRight(strings.TrimSpace(cfg.SiteURL), "/")
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	cfg.RedirectURI = strings.TrimSpace(cfg.RedirectURI)

	if cfg.SiteURL == "" {
		cfg.SiteURL = defaultSiteURL
	}
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = cfg.SiteURL + DefaultCallbackPath
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	scopes := make([]string, 0, len(cfg.Scopes))
	for _, scope := range cfg.Scopes {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}
	if len(scopes) == 0 {
		scopes = append(scopes, DefaultScopes...)
	}
	cfg.Scopes = scopes

	if cfg.Callback.SuccessDelay < 0 {
		cfg.Callback.SuccessDelay = 0
	}
	if cfg.Callback.Timeout <= 0 {
		cfg.Callback.Timeout = DefaultCallbackTimeout
	}
	if cfg.Callback.ManualPromptAfter == 0 {
		cfg.Callback.ManualPromptAfter = DefaultManualPromptAfter
	}

	cfg.Session.Backend = strings.ToLower(strings.TrimSpace(cfg.Session.Backend))
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = BackendFile
	}
	if strings.TrimSpace(cfg.Session.Namespace) == "" {
		cfg.Session.Namespace = defaultNamespace
	}
	if strings.TrimSpace(cfg.Session.Path) == "" {
		cfg.Session.Path = defaultSessionPath
	}
	resolved, err := ResolvePath(cfg.Session.Path)
	if err != nil {
		return err
	}
	cfg.Session.Path = resolved
	if cfg.LogDir != "" {
		if cfg.LogDir, err = ResolvePath(cfg.LogDir); err != nil {
			return err
		}
	}
	if strings.TrimSpace(cfg.Session.Postgres.Table) == "" {
		cfg.Session.Postgres.Table = defaultPgTable
	}

	if cfg.Focus.Duration <= 0 {
		cfg.Focus.Duration = 25 * time.Minute
	}
	if cfg.Focus.Break <= 0 {
		cfg.Focus.Break = 5 * time.Minute
	}
	return nil
}

// Validate reports configuration that cannot produce a working OAuth flow.
func (cfg *Config) Validate() error {
	if cfg.ProviderURL == "" {
		return fmt.Errorf("config: provider-url is required")
	}
	if _, err := parseAbsoluteURL(cfg.ProviderURL); err != nil {
		return fmt.Errorf("config: provider-url: %w", err)
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("config: client-id is required")
	}
	if _, err := parseAbsoluteURL(cfg.RedirectURI); err != nil {
		return fmt.Errorf("config: redirect-uri: %w", err)
	}
	if _, err := parseAbsoluteURL(cfg.APIURL); err != nil {
		return fmt.Errorf("config: api-url: %w", err)
	}
	switch cfg.Session.Backend {
	case BackendFile, BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(cfg.Session.Postgres.DSN) == "" {
			return fmt.Errorf("config: session.postgres.dsn is required for the postgres backend")
		}
	case BackendObject:
		if strings.TrimSpace(cfg.Session.Object.Endpoint) == "" || strings.TrimSpace(cfg.Session.Object.Bucket) == "" {
			return fmt.Errorf("config: session.object.endpoint and session.object.bucket are required for the object backend")
		}
	default:
		return fmt.Errorf("config: unknown session backend %q", cfg.Session.Backend)
	}
	return nil
}

// AuthorizeURL returns the provider authorization endpoint.
func (cfg *Config) AuthorizeURL() string { return cfg.ProviderURL + "/oauth/authorize" }

// TokenURL returns the provider token endpoint.
func (cfg *Config) TokenURL() string { return cfg.ProviderURL + "/oauth/token" }

// CallbackPort returns the port of the redirect URI, falling back to the scheme default.
func (cfg *Config) CallbackPort() int {
	u, err := url.Parse(cfg.RedirectURI)
	if err != nil {
		return 0
	}
	if p := u.Port(); p != "" {
		port, errAtoi := strconv.Atoi(p)
		if errAtoi != nil {
			return 0
		}
		return port
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}

// CallbackPath returns the path component of the redirect URI.
func (cfg *Config) CallbackPath() string {
	u, err := url.Parse(cfg.RedirectURI)
	if err != nil || u.Path == "" {
		return DefaultCallbackPath
	}
	return u.Path
}

// ResolvePath expands a leading ~ to the user's home directory and cleans the path.
func ResolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		remainder := strings.TrimLeft(strings.TrimPrefix(path, "~"), "/\\")
		if remainder == "" {
			return filepath.Clean(home), nil
		}
		normalized := strings.ReplaceAll(remainder, "\\", "/")
		return filepath.Clean(filepath.Join(home, filepath.FromSlash(normalized))), nil
	}
	return filepath.Clean(path), nil
}

func parseAbsoluteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%q must be an absolute http(s) URL", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%q is missing a host", raw)
	}
	return u, nil
}
