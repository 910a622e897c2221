// Package main provides the entry point of focustime, a focus timer that signs in to
// TaskFlow with OAuth 2.1 + PKCE and works on the user's TaskFlow tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/focustime/focustime/internal/auth/taskflow"
	"github.com/focustime/focustime/internal/buildinfo"
	"github.com/focustime/focustime/internal/cmd"
	"github.com/focustime/focustime/internal/logging"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("failed to load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	logging.CloseLogOutputs()
	if err == nil {
		return
	}

	_, _ = fmt.Fprintln(os.Stderr, "Error:", cmd.UserMessage(err))
	if errors.Is(err, taskflow.ErrPortInUse) {
		os.Exit(taskflow.ErrPortInUse.Code)
	}
	os.Exit(1)
}
