// Package cmd implements the focustime commands. Each command opens the configured
// session backend, wires the TaskFlow auth service and API client over it, and
// reports to the given writer.
package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/focustime/focustime/internal/auth/taskflow"
	"github.com/focustime/focustime/internal/client"
	"github.com/focustime/focustime/internal/config"
	"github.com/focustime/focustime/internal/store"
	log "github.com/sirupsen/logrus"
)

// session bundles everything a command needs for one run.
type session struct {
	cfg      *config.Config
	sessions store.Store
	auth     *taskflow.TaskflowAuth
	state    *taskflow.AuthState
	api      *client.Client
	closeFn  func() error
}

// consoleNavigator tells the user where the flow sent them.
// The sign-out notice is printed at most once per command.
type consoleNavigator struct {
	out       io.Writer
	signedOut sync.Once
}

func (n *consoleNavigator) Navigate(dest taskflow.Destination) {
	if dest == taskflow.DestinationStart {
		n.signedOut.Do(func() {
			_, _ = fmt.Fprintln(n.out, "You are signed out. Run `focustime login` to sign in again.")
		})
	}
}

// openSession opens the session backend from cfg and wires the auth service and client.
func openSession(ctx context.Context, cfg *config.Config, out io.Writer) (*session, error) {
	sessions, closeFn, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open session backend %s: %w", cfg.Session.Backend, err)
	}
	auth := taskflow.NewTaskflowAuth(cfg, sessions, &consoleNavigator{out: out})
	return &session{
		cfg:      cfg,
		sessions: sessions,
		auth:     auth,
		state:    taskflow.NewAuthState(auth),
		api:      client.NewClient(auth),
		closeFn:  closeFn,
	}, nil
}

func (s *session) Close() {
	if err := s.closeFn(); err != nil {
		log.Warnf("failed to close session backend: %v", err)
	}
}

// location describes where the session is persisted, for user messages.
func (s *session) location() string {
	switch s.cfg.Session.Backend {
	case config.BackendFile:
		return s.cfg.Session.Path
	case config.BackendPostgres:
		return "postgres namespace " + s.cfg.Session.Namespace
	case config.BackendObject:
		return s.cfg.Session.Object.Bucket + "/" + s.cfg.Session.Namespace
	}
	return "memory"
}

// UserMessage renders err for the terminal.
func UserMessage(err error) string {
	if taskflow.IsAuthenticationError(err) || taskflow.IsOAuthError(err) {
		return taskflow.GetUserFriendlyMessage(err)
	}
	return err.Error()
}
