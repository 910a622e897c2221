package taskflow

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/focustime/focustime/internal/logging"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// OAuthServer is the loopback HTTP front of the callback handler.
// It serves the redirect URI, maps each outcome to a redirect or an error page,
// and hands the outcome to the waiting login command.
type OAuthServer struct {
	// server is the underlying HTTP server instance
	server *http.Server
	// engine routes the callback, start and success pages
	engine *gin.Engine
	// port is the port number on which the server listens
	port int
	// addr is the bound listener address while running
	addr net.Addr
	// handler completes the login for each callback
	handler *CallbackHandler
	// resultChan is a channel for sending callback outcomes
	resultChan chan *CallbackResult
	// errorChan is a channel for sending server errors
	errorChan chan error
	// mu is a mutex for protecting server state
	mu sync.Mutex
	// running indicates whether the server is currently running
	running bool
	// greeting is rendered on the success page
	greeting func(ctx context.Context) string
}

// callbackListenHost keeps the authorization code off other interfaces.
const callbackListenHost = "127.0.0.1"

// NewOAuthServer creates a new OAuth callback server.
//
// Parameters:
//   - port: The port number on which the server should listen
//   - callbackPath: The path of the redirect URI, such as /auth/callback
//   - handler: The callback handler completing the login
//
// Returns:
//   - *OAuthServer: A new OAuthServer instance
func NewOAuthServer(port int, callbackPath string, handler *CallbackHandler) *OAuthServer {
	if callbackPath == "" {
		callbackPath = "/auth/callback"
	}
	s := &OAuthServer{
		port:       port,
		handler:    handler,
		resultChan: make(chan *CallbackResult, 1),
		errorChan:  make(chan error, 1),
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	engine.GET(callbackPath, s.handleCallback)
	engine.GET("/success", s.handleSuccess)
	engine.GET("/", s.handleStart)
	s.engine = engine
	return s
}

// SetGreeting sets the function rendering the success page greeting.
func (s *OAuthServer) SetGreeting(fn func(ctx context.Context) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.greeting = fn
}

// Handler exposes the routes, mainly for tests.
func (s *OAuthServer) Handler() http.Handler { return s.engine }

// Start binds the port and begins serving in the background.
//
// Returns:
//   - error: ErrPortInUse when the port cannot be bound, ErrServerStartFailed otherwise
func (s *OAuthServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return NewAuthenticationError(ErrServerStartFailed, fmt.Errorf("server is already running"))
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(callbackListenHost, strconv.Itoa(s.port)))
	if err != nil {
		return NewAuthenticationError(ErrPortInUse, err)
	}
	s.addr = listener.Addr()

	s.server = &http.Server{
		Handler:      s.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	server := s.server
	go func() {
		if errServe := server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			select {
			case s.errorChan <- NewAuthenticationError(ErrServerStartFailed, errServe):
			default:
			}
		}
	}()
	log.Debugf("OAuth callback server listening on %s", s.addr)
	return nil
}

// Addr returns the bound address, or nil when the server is not running.
func (s *OAuthServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	return s.addr
}

// Stop gracefully stops the OAuth callback server.
//
// Parameters:
//   - ctx: The context for controlling the shutdown process
//
// Returns:
//   - error: An error if the server fails to stop gracefully
func (s *OAuthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	log.Debug("Stopping OAuth callback server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.running = false
	s.server = nil
	return err
}

// WaitForCallback blocks until a callback outcome arrives, the server fails,
// ctx is done or timeout elapses.
func (s *OAuthServer) WaitForCallback(ctx context.Context, timeout time.Duration) (*CallbackResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case result := <-s.resultChan:
		return result, nil
	case err := <-s.errorChan:
		return nil, err
	case <-timer.C:
		return nil, NewAuthenticationError(ErrCallbackTimeout, nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit runs a callback that arrived outside the server, such as a pasted redirect URL,
// through the same handler and delivers its outcome to WaitForCallback.
func (s *OAuthServer) Submit(ctx context.Context, query url.Values) error {
	result, err := s.handler.Handle(ctx, query)
	if err != nil {
		return err
	}
	s.sendResult(result)
	return nil
}

// IsRunning returns whether the server is currently running.
func (s *OAuthServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *OAuthServer) handleCallback(c *gin.Context) {
	log.Debug("Received OAuth callback")

	result, err := s.handler.Handle(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		c.Data(http.StatusConflict, "text/html; charset=utf-8", []byte(renderFailure(GetUserFriendlyMessage(err))))
		return
	}
	s.sendResult(result)

	switch result.Destination {
	case DestinationLanding:
		c.Redirect(http.StatusFound, "/success")
	case DestinationStart:
		c.Redirect(http.StatusFound, "/")
	default:
		status := http.StatusBadRequest
		if authErr, ok := errors.AsType[*AuthenticationError](result.Err); ok && authErr.Code >= 400 && authErr.Code < 600 {
			status = authErr.Code
		}
		c.Data(status, "text/html; charset=utf-8", []byte(renderFailure(result.Message)))
	}
}

func (s *OAuthServer) handleSuccess(c *gin.Context) {
	greeting := "Your TaskFlow account is now connected to FocusTime."
	s.mu.Lock()
	fn := s.greeting
	s.mu.Unlock()
	if fn != nil {
		if text := fn(c.Request.Context()); text != "" {
			greeting = text
		}
	}
	page := strings.Replace(LoginSuccessHtml, "{{GREETING}}", html.EscapeString(greeting), 1)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

func (s *OAuthServer) handleStart(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(StartHtml))
}

// sendResult sends the outcome to the waiting channel without blocking the handler.
func (s *OAuthServer) sendResult(result *CallbackResult) {
	select {
	case s.resultChan <- result:
		log.Debug("OAuth result sent to channel")
	default:
		log.Warn("OAuth result channel is full, result dropped")
	}
}

func renderFailure(message string) string {
	if message == "" {
		message = "Authentication failed. Please try again."
	}
	return strings.Replace(LoginFailureHtml, "{{MESSAGE}}", html.EscapeString(message), 1)
}
