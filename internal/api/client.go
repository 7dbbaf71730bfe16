package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"taskline/internal/domain"
)

// Client is a minimal Taskline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// ListOptions are the query parameters of the list endpoint.
type ListOptions struct {
	Status  string
	SortBy  string
	Order   string
	Page    int
	PerPage int
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.SortBy != "" {
		q.Set("sort_by", o.SortBy)
	}
	if o.Order != "" {
		q.Set("order", o.Order)
	}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(o.PerPage))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// TaskPatch is a partial task update. Nil fields are left unchanged.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
}

// ListTasks returns tasks matching opts.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) ([]domain.Task, error) {
	var resp []domain.Task
	err := c.do(ctx, http.MethodGet, "tasks"+opts.query(), nil, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodGet, taskPath(id), nil, &resp)
	return resp, err
}

// CreateTask creates a task. The server assigns the id.
func (c *Client) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t.ID = 0
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, "tasks", t, &resp)
	return resp, err
}

// UpdateTask replaces a task.
func (c *Client) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPut, taskPath(t.ID), t, &resp)
	return resp, err
}

// PatchTask applies a partial update.
func (c *Client) PatchTask(ctx context.Context, id int64, patch TaskPatch) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPatch, taskPath(id), patch, &resp)
	return resp, err
}

// PatchPriority updates only the priority field, the call used when
// replaying a reorder one task at a time.
func (c *Client) PatchPriority(ctx context.Context, id int64, priority int) (domain.Task, error) {
	return c.PatchTask(ctx, id, TaskPatch{Priority: &priority})
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil)
}

// Health probes the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func taskPath(id int64) string {
	return fmt.Sprintf("tasks/%d", id)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
