package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/focustime/focustime/internal/config"
	log "github.com/sirupsen/logrus"
)

// FocusOptions configures one focus session.
type FocusOptions struct {
	// TaskID is completed when the focus period ends. Optional.
	TaskID string
	// Duration and Break default to the focus section of the configuration.
	Duration time.Duration
	Break    time.Duration
	// SkipBreak ends the session after the focus period.
	SkipBreak bool
	// Tick is how often the remaining time is printed. Defaults to one minute.
	Tick time.Duration
}

// DoFocus runs a focus countdown, completes the task if one was given, then runs the break.
// Interrupting the focus period leaves the task untouched.
func DoFocus(ctx context.Context, cfg *config.Config, out io.Writer, opts FocusOptions) error {
	if opts.Duration <= 0 {
		opts.Duration = cfg.Focus.Duration
	}
	if opts.Break <= 0 {
		opts.Break = cfg.Focus.Break
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Minute
	}

	s, err := openSession(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer s.Close()

	label := "Focus"
	if opts.TaskID != "" {
		// Fail before the countdown when the session cannot reach the task.
		tasks, errTasks := s.api.FetchTasks(ctx)
		if errTasks != nil {
			return errTasks
		}
		found := false
		for _, task := range tasks {
			if task.ID == opts.TaskID {
				label = "Focus on " + task.Title
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("focus: task %s not found", opts.TaskID)
		}
	}

	if err = countdown(ctx, out, label, opts.Duration, opts.Tick); err != nil {
		_, _ = fmt.Fprintln(out, "Focus session interrupted.")
		return nil
	}
	_, _ = fmt.Fprintln(out, "Focus period complete.")

	if opts.TaskID != "" {
		if _, err = s.api.UpdateTaskCompletion(ctx, opts.TaskID, true); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Task %s marked as completed.\n", opts.TaskID)
	}

	if opts.SkipBreak {
		return nil
	}
	if err = countdown(ctx, out, "Break", opts.Break, opts.Tick); err != nil {
		log.Debugf("break interrupted: %v", err)
		return nil
	}
	_, _ = fmt.Fprintln(out, "Break over.")
	return nil
}

// countdown blocks for d, printing the remaining time every tick. It returns ctx.Err()
// when interrupted.
func countdown(ctx context.Context, out io.Writer, label string, d, tick time.Duration) error {
	deadline := time.Now().Add(d)
	_, _ = fmt.Fprintf(out, "%s: %s\n", label, d.Round(time.Second))

	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-ticker.C:
			if remaining := time.Until(deadline).Round(time.Second); remaining > 0 {
				_, _ = fmt.Fprintf(out, "%s: %s remaining\n", label, remaining)
			}
		}
	}
}
