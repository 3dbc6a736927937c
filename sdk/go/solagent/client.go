// Package solagent is a Go client for the solagentd REST API.
package solagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout applies to clients created without an http.Client.
// Synchronous executions wait on a completion backend, so it is generous.
const DefaultHTTPTimeout = 90 * time.Second

// Client calls a solagentd instance.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// ExecutionResult is the outcome of a synchronous execution.
type ExecutionResult struct {
	ID           string          `json:"id"`
	Task         string          `json:"task"`
	Capability   string          `json:"capability"`
	Backend      string          `json:"backend"`
	InvocationID string          `json:"invocation_id,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	Output       string          `json:"output"`
	Direct       bool            `json:"direct,omitempty"`
	CreatedAt    int64           `json:"created_at"`
}

// Submission queues a task. ID is optional; resubmitting an ID returns the
// existing task.
type Submission struct {
	ID    string `json:"id,omitempty"`
	Task  string `json:"task"`
	Input any    `json:"input,omitempty"`
}

// TaskResult is the result stored on a succeeded task.
type TaskResult struct {
	Capability   string          `json:"capability"`
	Backend      string          `json:"backend"`
	InvocationID string          `json:"invocation_id,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	Output       string          `json:"output"`
	Direct       bool            `json:"direct,omitempty"`
}

// Task is a queued execution.
type Task struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Input      json.RawMessage `json:"input,omitempty"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Result     *TaskResult     `json:"result,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

// Done reports whether the task reached succeeded or failed.
func (t Task) Done() bool {
	return t.Status == "succeeded" || t.Status == "failed"
}

// Capability describes a registered capability.
type Capability struct {
	Name        string          `json:"name"`
	Aliases     []string        `json:"aliases,omitempty"`
	Version     string          `json:"version,omitempty"`
	Backend     string          `json:"backend,omitempty"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Stage      string            `json:"stage,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("solagent api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("solagent api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient parses rawURL and returns a client. A nil httpClient gets
// DefaultHTTPTimeout.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("base url must be absolute")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey sets the bearer key sent with every request. An empty key sends
// none.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the key set by SetAPIKey.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// ExecuteTask runs task synchronously. input is encoded as JSON.
func (c *Client) ExecuteTask(ctx context.Context, task string, input any) (ExecutionResult, error) {
	var result ExecutionResult
	payload := map[string]any{"task": task}
	if input != nil {
		payload["input"] = input
	}
	if err := c.post(ctx, "/api/v1/tasks/execute", payload, &result); err != nil {
		return ExecutionResult{}, err
	}
	return result, nil
}

// SubmitTask queues a task.
func (c *Client) SubmitTask(ctx context.Context, submission Submission) (Task, error) {
	var task Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	if err := c.get(ctx, "/api/v1/tasks/"+taskID, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// WaitForTask polls GetTask until the task is done or ctx ends.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if task.Done() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListCapabilities returns the capabilities registered on the server.
func (c *Client) ListCapabilities(ctx context.Context) ([]Capability, error) {
	var body struct {
		Capabilities []Capability `json:"capabilities"`
	}
	if err := c.get(ctx, "/api/v1/capabilities", &body); err != nil {
		return nil, err
	}
	return body.Capabilities, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawPath = ""
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if key := c.APIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
