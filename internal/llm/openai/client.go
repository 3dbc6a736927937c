package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"solagent/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o"
	grokBaseURL      = "https://api.x.ai/v1"
	grokModelName    = "grok-3"
	defaultTimeout   = 60 * time.Second
)

// Config describes a chat-completions endpoint. Dialect selects the defaults:
// "openai" targets api.openai.com, "grok3" the xAI endpoint.
type Config struct {
	Name    string
	Dialect string
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client calls an OpenAI-compatible /chat/completions endpoint with tools.
type Client struct {
	name       string
	dialect    string
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ llm.Backend = (*Client)(nil)

// NewClient validates cfg and fills defaults for its dialect.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}

	dialect := strings.ToLower(strings.TrimSpace(cfg.Dialect))
	baseURL, model := defaultBaseURL, defaultModelName
	switch dialect {
	case "", llm.DialectOpenAI:
		dialect = llm.DialectOpenAI
	case llm.DialectGrok3:
		baseURL, model = grokBaseURL, grokModelName
	default:
		return nil, errors.New("openai: unsupported dialect " + dialect)
	}
	if v := strings.TrimSpace(cfg.BaseURL); v != "" {
		baseURL = v
	}
	if v := strings.TrimSpace(cfg.Model); v != "" {
		model = v
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = dialect
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		name:       name,
		dialect:    dialect,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Name() string    { return c.name }
func (c *Client) Dialect() string { return c.dialect }

// Complete sends prompt with every tool declared as a function.
func (c *Client) Complete(ctx context.Context, prompt string, tools []llm.Tool) (*llm.Response, error) {
	raw, err := llm.PostJSON(ctx, c.httpClient, c.name, c.baseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + c.apiKey}, c.buildPayload(prompt, tools))
	if err != nil {
		return nil, err
	}
	return &llm.Response{Backend: c.name, Dialect: c.dialect, Raw: raw}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type function struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"`
}

type toolSpec struct {
	Type     string   `json:"type"`
	Function function `json:"function"`
}

func (c *Client) buildPayload(prompt string, tools []llm.Tool) map[string]any {
	body := map[string]any{
		"model": c.model,
		"messages": []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		"temperature": 0.2,
	}
	if len(tools) > 0 {
		specs := make([]toolSpec, 0, len(tools))
		for _, t := range tools {
			specs = append(specs, toolSpec{
				Type:     "function",
				Function: function{Name: t.Name, Description: t.Description, Parameters: parameters(t)},
			})
		}
		body["tools"] = specs
		body["tool_choice"] = "auto"
	}
	return body
}

func parameters(t llm.Tool) any {
	if len(t.Parameters) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.Parameters
}

const systemPrompt = "" +
	"You are the dispatch engine of a Solana agent. " +
	"Pick the single tool that best executes the task and call it with arguments matching its schema. " +
	"Answer in plain text only when no tool applies."
