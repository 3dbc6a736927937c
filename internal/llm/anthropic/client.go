// Package anthropic talks to the Messages API with tool use.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"solagent/internal/llm"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultModel     = "claude-3-5-sonnet-latest"
	defaultVersion   = "2023-06-01"
	defaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second
)

type Config struct {
	Name      string
	APIKey    string
	BaseURL   string
	Model     string
	Version   string
	MaxTokens int
	Timeout   time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ llm.Backend = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if cfg.Name == "" {
		cfg.Name = llm.DialectAnthropic
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (c *Client) Name() string    { return c.cfg.Name }
func (c *Client) Dialect() string { return llm.DialectAnthropic }

func (c *Client) Complete(ctx context.Context, prompt string, tools []llm.Tool) (*llm.Response, error) {
	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": c.cfg.Version,
	}
	raw, err := llm.PostJSON(ctx, c.httpClient, c.cfg.Name, c.cfg.BaseURL+"/messages", headers, c.buildPayload(prompt, tools))
	if err != nil {
		return nil, err
	}
	return &llm.Response{Backend: c.cfg.Name, Dialect: llm.DialectAnthropic, Raw: raw}, nil
}

type toolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

func (c *Client) buildPayload(prompt string, tools []llm.Tool) map[string]any {
	body := map[string]any{
		"model":      c.cfg.Model,
		"max_tokens": c.cfg.MaxTokens,
		"messages":   []map[string]string{{"role": "user", "content": prompt}},
	}
	if len(tools) > 0 {
		specs := make([]toolSpec, 0, len(tools))
		for _, t := range tools {
			var schema any = t.Parameters
			if len(t.Parameters) == 0 {
				schema = map[string]any{"type": "object"}
			}
			specs = append(specs, toolSpec{Name: t.Name, Description: t.Description, InputSchema: schema})
		}
		body["tools"] = specs
	}
	return body
}
