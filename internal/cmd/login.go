package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/focustime/focustime/internal/auth/taskflow"
	"github.com/focustime/focustime/internal/browser"
	"github.com/focustime/focustime/internal/config"
	"github.com/focustime/focustime/internal/misc"
	log "github.com/sirupsen/logrus"
)

// successPageGrace keeps the callback server up long enough for the browser to load
// the result page after the redirect.
var successPageGrace = 2 * time.Second

// LoginOptions contains options for the login process.
type LoginOptions struct {
	// NoBrowser prints the authorization URL instead of opening a browser.
	NoBrowser bool

	// CallbackPort overrides the local callback port when set (>0), for example behind an SSH tunnel.
	CallbackPort int

	// Prompt reads a pasted callback URL. Nil disables the manual paste.
	Prompt func(prompt string) (string, error)

	// Out receives user-facing output. Defaults to stdout.
	Out io.Writer
}

// DefaultPrompt reads one line from stdin.
func DefaultPrompt() func(prompt string) (string, error) {
	reader := bufio.NewReader(os.Stdin)
	return func(prompt string) (string, error) {
		fmt.Print(prompt)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
}

// DoLogin runs the authorization code flow: it starts the loopback callback server,
// sends the user to TaskFlow, and waits until the callback handler completes the login.
// A pasted callback URL is accepted after cfg.Callback.ManualPromptAfter.
func DoLogin(ctx context.Context, cfg *config.Config, opts *LoginOptions) error {
	if opts == nil {
		opts = &LoginOptions{}
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	printf := func(format string, args ...any) { _, _ = fmt.Fprintf(out, format, args...) }

	s, err := openSession(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer s.Close()

	port := cfg.CallbackPort()
	if opts.CallbackPort > 0 {
		port = opts.CallbackPort
	}
	handler := taskflow.NewCallbackHandler(s.auth, s.state, nil, cfg.Callback.SuccessDelay)
	server := taskflow.NewOAuthServer(port, cfg.CallbackPath(), handler)
	server.SetGreeting(func(context.Context) string {
		if user := s.state.Snapshot().User; user != nil && user.Email != "" {
			return "Signed in as " + user.Email + "."
		}
		return ""
	})
	if err = server.Start(); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if errStop := server.Stop(stopCtx); errStop != nil {
			log.Warnf("oauth server stop error: %v", errStop)
		}
	}()

	authURL, err := s.auth.GenerateAuthURL(ctx)
	if err != nil {
		return err
	}
	misc.LogCredentialSeparator()
	if browser.Present(authURL, opts.NoBrowser, printf) {
		printf("Opened browser for TaskFlow authentication\n")
	}
	printf("Waiting for TaskFlow authentication callback...\n")

	result, err := waitForResult(ctx, server, cfg.Callback, opts.Prompt, printf)
	if err != nil {
		return err
	}

	switch result.Status {
	case taskflow.StatusSucceeded:
		if user := s.state.Snapshot().User; user != nil {
			printf("Signed in to TaskFlow as %s\n", user.Email)
		}
		misc.LogSavingSession(cfg.Session.Backend, s.location())
		printf("TaskFlow authentication successful!\n")
		pause(ctx, successPageGrace)
		return nil
	case taskflow.StatusRedirected:
		if errors.Is(result.Err, taskflow.ErrProviderDenied) {
			return result.Err
		}
		return fmt.Errorf("login was not completed (%s); run `focustime login` to start again", taskflow.GetUserFriendlyMessage(result.Err))
	default:
		pause(ctx, successPageGrace)
		return result.Err
	}
}

// waitForResult waits for the callback outcome, offering a manual paste of the callback
// URL once manual-prompt-after has elapsed. Pasted URLs go through the same handler.
func waitForResult(ctx context.Context, server *taskflow.OAuthServer, cb config.CallbackConfig, prompt func(string) (string, error), printf func(string, ...any)) (*taskflow.CallbackResult, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type waitOutcome struct {
		result *taskflow.CallbackResult
		err    error
	}
	waitCh := make(chan waitOutcome, 1)
	go func() {
		result, err := server.WaitForCallback(waitCtx, cb.Timeout)
		waitCh <- waitOutcome{result, err}
	}()

	var promptC <-chan time.Time
	if prompt != nil && cb.ManualPromptAfter > 0 {
		timer := time.NewTimer(cb.ManualPromptAfter)
		defer timer.Stop()
		promptC = timer.C
	}
	inputCh := make(chan string, 1)
	promptErrCh := make(chan error, 1)
	askForInput := func() {
		go func() {
			input, err := prompt("Paste the TaskFlow callback URL (or press Enter to keep waiting): ")
			if err != nil {
				promptErrCh <- err
				return
			}
			inputCh <- input
		}()
	}

	for {
		select {
		case got := <-waitCh:
			return got.result, got.err
		case <-promptC:
			promptC = nil
			askForInput()
		case err := <-promptErrCh:
			log.Debugf("manual callback prompt closed: %v", err)
		case input := <-inputCh:
			parsed, err := misc.ParseOAuthCallback(input)
			if err != nil {
				printf("Could not read that URL: %v\n", err)
				askForInput()
				continue
			}
			if parsed == nil {
				continue
			}
			if err = server.Submit(ctx, parsed.Values()); err != nil {
				if errors.Is(err, taskflow.ErrCallbackInProgress) {
					continue
				}
				return nil, err
			}
		}
	}
}

func pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
