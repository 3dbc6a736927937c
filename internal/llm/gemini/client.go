// Package gemini talks to the Generative Language generateContent endpoint.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"solagent/internal/llm"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-1.5-pro"
	defaultTimeout = 60 * time.Second
)

type Config struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type Client struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ llm.Backend = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	c := &Client{
		name:       strings.TrimSpace(cfg.Name),
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:      strings.TrimSpace(cfg.Model),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if c.name == "" {
		c.name = llm.DialectGemini
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.httpClient.Timeout <= 0 {
		c.httpClient.Timeout = defaultTimeout
	}
	return c, nil
}

func (c *Client) Name() string    { return c.name }
func (c *Client) Dialect() string { return llm.DialectGemini }

// Complete posts the prompt as a single user turn with the tools declared as
// functionDeclarations. The key travels in the query string.
func (c *Client) Complete(ctx context.Context, prompt string, tools []llm.Tool) (*llm.Response, error) {
	endpoint := c.baseURL + "/models/" + url.PathEscape(c.model) + ":generateContent?key=" + url.QueryEscape(c.apiKey)
	raw, err := llm.PostJSON(ctx, c.httpClient, c.name, endpoint, nil, buildPayload(prompt, tools))
	if err != nil {
		return nil, err
	}
	return &llm.Response{Backend: c.name, Dialect: llm.DialectGemini, Raw: raw}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type declaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

func buildPayload(prompt string, tools []llm.Tool) map[string]any {
	body := map[string]any{
		"contents": []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	}
	if len(tools) > 0 {
		decls := make([]declaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, declaration{Name: t.Name, Description: t.Description, Parameters: sanitize(t.Parameters)})
		}
		body["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}
	return body
}

// sanitize drops JSON Schema keywords the function declaration schema rejects.
func sanitize(schema json.RawMessage) any {
	if len(schema) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(schema, &decoded); err != nil {
		return nil
	}
	return strip(decoded)
}

var unsupportedKeys = []string{"$schema", "$id", "$defs", "additionalProperties"}

func strip(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for _, k := range unsupportedKeys {
			delete(node, k)
		}
		for k, child := range node {
			node[k] = strip(child)
		}
		return node
	case []any:
		for i, child := range node {
			node[i] = strip(child)
		}
		return node
	default:
		return v
	}
}
