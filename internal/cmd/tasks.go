package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/focustime/focustime/internal/client"
	"github.com/focustime/focustime/internal/config"
)

// TaskFilter selects which tasks `focustime tasks list` shows.
type TaskFilter int

const (
	AllTasks TaskFilter = iota
	PendingTasks
	CompletedTasks
)

// DoListTasks prints the user's tasks.
func DoListTasks(ctx context.Context, cfg *config.Config, out io.Writer, filter TaskFilter) error {
	s, err := openSession(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer s.Close()

	var tasks []client.Task
	switch filter {
	case PendingTasks:
		tasks, err = s.api.FetchIncompleteTasks(ctx)
	case CompletedTasks:
		tasks, err = s.api.FetchCompletedTasks(ctx)
	default:
		tasks, err = s.api.FetchTasks(ctx)
	}
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		_, _ = fmt.Fprintln(out, "No tasks.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDONE\tTITLE")
	for _, task := range tasks {
		done := " "
		if task.Completed {
			done = "x"
		}
		_, _ = fmt.Fprintf(w, "%s\t[%s]\t%s\n", task.ID, done, task.Title)
	}
	return w.Flush()
}

// DoAddTask creates a task.
func DoAddTask(ctx context.Context, cfg *config.Config, out io.Writer, title, description string) error {
	s, err := openSession(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer s.Close()

	task, err := s.api.CreateTask(ctx, title, description)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Created task %s: %s\n", task.ID, task.Title)
	return nil
}

// DoCompleteTask marks a task as completed, or reopens it when completed is false.
func DoCompleteTask(ctx context.Context, cfg *config.Config, out io.Writer, taskID string, completed bool) error {
	s, err := openSession(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer s.Close()

	task, err := s.api.UpdateTaskCompletion(ctx, taskID, completed)
	if err != nil {
		return err
	}
	state := "reopened"
	if task.Completed {
		state = "completed"
	}
	_, _ = fmt.Fprintf(out, "Task %s %s\n", taskID, state)
	return nil
}

// DoDeleteTask deletes a task.
func DoDeleteTask(ctx context.Context, cfg *config.Config, out io.Writer, taskID string) error {
	s, err := openSession(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer s.Close()

	if err = s.api.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Deleted task %s\n", taskID)
	return nil
}
