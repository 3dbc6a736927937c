package llm

import (
	"context"
	"encoding/json"
)

// Wire dialects understood by the Normalizer.
const (
	DialectOpenAI    = "openai"
	DialectGrok3     = "grok3"
	DialectGemini    = "gemini"
	DialectAnthropic = "anthropic"
)

// Tool is the backend-facing projection of a registered capability.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Response is the undecoded body returned by a backend.
type Response struct {
	Backend string
	Dialect string
	Raw     json.RawMessage
}

// Backend is a completion service reachable over some transport.
//
// Complete sends the prompt together with every available tool and returns the
// raw response. It never retries; failures are reported as *CompletionError.
type Backend interface {
	Name() string
	Dialect() string
	Complete(ctx context.Context, prompt string, tools []Tool) (*Response, error)
}
