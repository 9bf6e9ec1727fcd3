// Package client is a small HTTP client for the lease service API, used by
// the ojs-leasectl operator CLI.
package client

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

	"github.com/openjobspec/ojs-lease/internal/core"
)

// Client calls the /ojs/v1 API of one server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnqueueParams is the body of an enqueue call.
type EnqueueParams struct {
	Topic                string         `json:"topic"`
	HandlerConfiguration string         `json:"handler_configuration,omitempty"`
	Payload              map[string]any `json:"payload,omitempty"`
	Retries              *int           `json:"retries,omitempty"`
	Priority             int64          `json:"priority,omitempty"`
}

// FetchTopic is one topic of a fetch-and-lock call.
type FetchTopic struct {
	TopicName          string `json:"topic_name"`
	LockDuration       string `json:"lock_duration"`
	RetryCountOverride *int   `json:"retry_count_override,omitempty"`
}

// FetchParams is the body of a fetch-and-lock call.
type FetchParams struct {
	WorkerID    string       `json:"worker_id"`
	MaxTasks    int          `json:"max_tasks"`
	UsePriority bool         `json:"use_priority,omitempty"`
	Topics      []FetchTopic `json:"topics"`
}

// FailParams is the body of a failure report.
type FailParams struct {
	WorkerID     string  `json:"worker_id"`
	Retries      int     `json:"retries"`
	RetryTimeout string  `json:"retry_timeout,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	ErrorDetails *string `json:"error_details,omitempty"`
}

// TaskState is the acknowledgement returned by state-changing calls.
type TaskState struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

// DeadLetterPage is one page of dead letter jobs.
type DeadLetterPage struct {
	Jobs       []*core.DeadLetterJob `json:"jobs"`
	Pagination struct {
		Total  int `json:"total"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	} `json:"pagination"`
}

// Enqueue creates a job and returns its id.
func (c *Client) Enqueue(ctx context.Context, p EnqueueParams) (string, error) {
	var out TaskState
	if err := c.do(ctx, http.MethodPost, "/external-tasks", p, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// FetchAndLock acquires jobs for a worker.
func (c *Client) FetchAndLock(ctx context.Context, p FetchParams) ([]*core.AcquiredJob, error) {
	var out struct {
		Jobs []*core.AcquiredJob `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodPost, "/external-tasks/fetch-and-lock", p, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Complete finishes a held job.
func (c *Client) Complete(ctx context.Context, jobID, workerID string, variables map[string]any) error {
	body := map[string]any{"worker_id": workerID}
	if len(variables) > 0 {
		body["variables"] = variables
	}
	return c.do(ctx, http.MethodPost, "/external-tasks/"+url.PathEscape(jobID)+"/complete", body, nil)
}

// Fail reports a failure of a held job and returns the resulting state.
func (c *Client) Fail(ctx context.Context, jobID string, p FailParams) (string, error) {
	var out TaskState
	if err := c.do(ctx, http.MethodPost, "/external-tasks/"+url.PathEscape(jobID)+"/failure", p, &out); err != nil {
		return "", err
	}
	return out.State, nil
}

// ListDeadLetter pages through dead letter jobs.
func (c *Client) ListDeadLetter(ctx context.Context, topic string, limit, offset int) (*DeadLetterPage, error) {
	q := url.Values{}
	if topic != "" {
		q.Set("topic", topic)
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var out DeadLetterPage
	if err := c.do(ctx, http.MethodGet, "/dead-letter?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDeadLetter returns one dead letter job.
func (c *Client) GetDeadLetter(ctx context.Context, jobID string) (*core.DeadLetterJob, error) {
	var out struct {
		Job *core.DeadLetterJob `json:"job"`
	}
	if err := c.do(ctx, http.MethodGet, "/dead-letter/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return out.Job, nil
}

// Revive moves a dead letter job back to the active store.
func (c *Client) Revive(ctx context.Context, jobID string, retries int) error {
	return c.do(ctx, http.MethodPost, "/dead-letter/"+url.PathEscape(jobID)+"/revive", map[string]any{"retries": retries}, nil)
}

// DeleteDeadLetter removes a dead letter job permanently.
func (c *Client) DeleteDeadLetter(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/dead-letter/"+url.PathEscape(jobID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/ojs/v1"+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", core.OJSMediaType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errResp struct {
			Error *core.OJSError `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != nil {
			return errResp.Error
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
