package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Task is a TaskFlow task.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// APIError is a non-2xx answer from the tasks API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	// Message is the error field of the body, when present.
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("client: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("client: %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// FetchTasks lists the user's tasks.
func (c *Client) FetchTasks(ctx context.Context) ([]Task, error) {
	body, err := c.do(ctx, http.MethodGet, "/tasks", nil)
	if err != nil {
		return nil, err
	}
	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return []Task{}, nil
	}
	tasks := make([]Task, 0, len(data.Array()))
	if err = json.Unmarshal([]byte(data.Raw), &tasks); err != nil {
		return nil, fmt.Errorf("client: decode tasks: %w", err)
	}
	return tasks, nil
}

// FetchIncompleteTasks lists the tasks not yet completed.
func (c *Client) FetchIncompleteTasks(ctx context.Context) ([]Task, error) {
	return c.filterTasks(ctx, false)
}

// FetchCompletedTasks lists the completed tasks.
func (c *Client) FetchCompletedTasks(ctx context.Context) ([]Task, error) {
	return c.filterTasks(ctx, true)
}

func (c *Client) filterTasks(ctx context.Context, completed bool) ([]Task, error) {
	tasks, err := c.FetchTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := tasks[:0]
	for _, task := range tasks {
		if task.Completed == completed {
			out = append(out, task)
		}
	}
	return out, nil
}

// CreateTask creates an incomplete task.
func (c *Client) CreateTask(ctx context.Context, title, description string) (*Task, error) {
	payload := []byte(`{}`)
	payload, _ = sjson.SetBytes(payload, "title", title)
	payload, _ = sjson.SetBytes(payload, "description", description)
	payload, _ = sjson.SetBytes(payload, "completed", false)

	body, err := c.do(ctx, http.MethodPost, "/tasks", payload)
	if err != nil {
		return nil, err
	}
	return decodeTask(body)
}

// UpdateTaskCompletion sets the completion flag of a task.
func (c *Client) UpdateTaskCompletion(ctx context.Context, taskID string, completed bool) (*Task, error) {
	payload, _ := sjson.SetBytes([]byte(`{}`), "completed", completed)
	body, err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(taskID), payload)
	if err != nil {
		return nil, err
	}
	return decodeTask(body)
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(taskID), nil)
	return err
}

// do sends a JSON request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	opts := &RequestOptions{Method: method}
	if payload != nil {
		opts.Body = bytes.NewReader(payload)
	}
	resp, err := c.Request(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read %s %s response: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    gjson.GetBytes(body, "error").String(),
		}
	}
	return body, nil
}

// decodeTask reads a task from either a {success, data} envelope or a bare task object.
func decodeTask(body []byte) (*Task, error) {
	raw := body
	if data := gjson.GetBytes(body, "data"); data.IsObject() {
		raw = []byte(data.Raw)
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("client: decode task: %w", err)
	}
	return &task, nil
}
