package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/focustime/focustime/internal/auth/taskflow"
	"github.com/focustime/focustime/internal/config"
	"github.com/focustime/focustime/internal/store"
	"github.com/focustime/focustime/internal/util"
	"golang.org/x/sync/errgroup"
)

// DoLogout clears the stored session.
func DoLogout(ctx context.Context, cfg *config.Config, out io.Writer) error {
	s, err := openSession(ctx, cfg, io.Discard)
	if err != nil {
		return err
	}
	defer s.Close()

	if err = s.state.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	_, _ = fmt.Fprintln(out, "Signed out of TaskFlow.")
	return nil
}

// StatusReport is what `focustime status` shows.
type StatusReport struct {
	Authenticated bool
	Backend       string
	ExpiresAt     time.Time
	HasRefresh    bool
	Claims        *taskflow.AccessTokenClaims
	User          *taskflow.UserProfile
	PendingTasks  int
	TasksErr      error
}

// CollectStatus gathers the session state. The profile and the pending task count are
// fetched concurrently.
func CollectStatus(ctx context.Context, cfg *config.Config, out io.Writer) (*StatusReport, error) {
	s, err := openSession(ctx, cfg, out)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	report := &StatusReport{Backend: cfg.Session.Backend, PendingTasks: -1}
	token, err := s.auth.Tokens().AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return report, nil
	}
	report.Authenticated = true
	report.ExpiresAt, _, _ = s.auth.Tokens().Expiry(ctx)
	_, report.HasRefresh, _ = s.auth.Tokens().RefreshToken(ctx)
	if claims, errClaims := taskflow.ParseAccessTokenClaims(token); errClaims == nil {
		report.Claims = claims
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report.User = s.auth.UserProfile(gctx, false)
		return nil
	})
	g.Go(func() error {
		tasks, errTasks := s.api.FetchIncompleteTasks(gctx)
		if errTasks != nil {
			report.TasksErr = errTasks
			return nil
		}
		report.PendingTasks = len(tasks)
		return nil
	})
	if err = g.Wait(); err != nil {
		return nil, err
	}
	if !s.auth.IsAuthenticated(ctx) {
		report.Authenticated = false
	}
	return report, nil
}

// DoStatus prints the session state.
func DoStatus(ctx context.Context, cfg *config.Config, out io.Writer) error {
	report, err := CollectStatus(ctx, cfg, out)
	if err != nil {
		return err
	}
	printStatus(out, report)
	return nil
}

func printStatus(out io.Writer, r *StatusReport) {
	_, _ = fmt.Fprintf(out, "Session backend: %s\n", r.Backend)
	if !r.Authenticated {
		_, _ = fmt.Fprintln(out, "Not signed in.")
		return
	}
	_, _ = fmt.Fprintln(out, "Signed in.")
	if r.User != nil {
		_, _ = fmt.Fprintf(out, "Account:         %s (%s)\n", r.User.Email, r.User.ID)
	}
	if !r.ExpiresAt.IsZero() {
		_, _ = fmt.Fprintf(out, "Token valid for: %s (until %s)\n", time.Until(r.ExpiresAt).Truncate(time.Second), r.ExpiresAt.Local().Format(time.DateTime))
	}
	_, _ = fmt.Fprintf(out, "Refresh token:   %t\n", r.HasRefresh)
	if r.Claims != nil && len(r.Claims.Scopes) > 0 {
		_, _ = fmt.Fprintf(out, "Scopes:          %s\n", strings.Join(r.Claims.Scopes, " "))
	}
	switch {
	case r.TasksErr != nil:
		_, _ = fmt.Fprintf(out, "Pending tasks:   unavailable (%s)\n", UserMessage(r.TasksErr))
	case r.PendingTasks >= 0:
		_, _ = fmt.Fprintf(out, "Pending tasks:   %d\n", r.PendingTasks)
	}
}

// DoWhoami prints the profile of the signed-in user, from cache unless refresh is set.
func DoWhoami(ctx context.Context, cfg *config.Config, out io.Writer, refresh bool) error {
	s, err := openSession(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer s.Close()

	user := s.auth.UserProfile(ctx, refresh)
	if user == nil {
		if !s.auth.IsAuthenticated(ctx) {
			return taskflow.NewAuthenticationError(taskflow.ErrNotAuthenticated, nil)
		}
		return taskflow.NewAuthenticationError(taskflow.ErrProfileFetch, nil)
	}
	_, _ = fmt.Fprintf(out, "%s\nid:      %s\nsince:   %s\n", user.Email, user.ID, user.CreatedAt)
	return nil
}

// DoRefresh exchanges the refresh token for a new access token.
func DoRefresh(ctx context.Context, cfg *config.Config, out io.Writer) error {
	s, err := openSession(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer s.Close()

	token, err := s.auth.RefreshTokens(ctx)
	if err != nil {
		return err
	}
	expiry, _, _ := s.auth.Tokens().Expiry(ctx)
	_, _ = fmt.Fprintf(out, "Access token %s refreshed, valid until %s\n", util.HideSecret(token.AccessToken), expiry.Local().Format(time.DateTime))
	return nil
}

// DoWatch reports sign-in and sign-out events made by other focustime processes sharing
// the session backend until ctx is done.
func DoWatch(ctx context.Context, cfg *config.Config, out io.Writer) error {
	s, err := openSession(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer s.Close()

	notifier, ok := s.sessions.(store.Notifier)
	if !ok {
		return fmt.Errorf("watch: session backend %s cannot report changes", cfg.Session.Backend)
	}
	var current *taskflow.AuthSnapshot
	err = s.state.Watch(ctx, notifier, func(next taskflow.AuthSnapshot) {
		if current != nil && next.Authenticated == current.Authenticated && sameUser(next.User, current.User) {
			return
		}
		current = &next
		describeSnapshot(out, next)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func describeSnapshot(out io.Writer, snap taskflow.AuthSnapshot) {
	stamp := time.Now().Format(time.TimeOnly)
	switch {
	case !snap.Authenticated:
		_, _ = fmt.Fprintf(out, "[%s] signed out\n", stamp)
	case snap.User != nil:
		_, _ = fmt.Fprintf(out, "[%s] signed in as %s\n", stamp, snap.User.Email)
	default:
		_, _ = fmt.Fprintf(out, "[%s] signed in\n", stamp)
	}
}

func sameUser(a, b *taskflow.UserProfile) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}
