package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	xerrors "solagent/internal/errors"
)

// Invocation is the canonical form of a capability call chosen by a backend.
type Invocation struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Extraction is the outcome of normalizing a response: either an Invocation
// or a direct textual answer.
type Extraction struct {
	Invocation *Invocation
	Answer     string
}

// HasInvocation reports whether the backend asked for a capability call.
func (e Extraction) HasInvocation() bool { return e.Invocation != nil }

// ExtractFunc decodes one dialect.
type ExtractFunc func(doc gjson.Result) (Extraction, error)

// Normalizer dispatches raw responses to the extractor of their dialect.
type Normalizer struct {
	mu         sync.RWMutex
	extractors map[string]ExtractFunc
}

// NewNormalizer returns a normalizer that understands the built-in dialects.
func NewNormalizer() *Normalizer {
	n := &Normalizer{extractors: make(map[string]ExtractFunc)}
	n.Register(DialectOpenAI, extractChatCompletion)
	n.Register(DialectGrok3, extractChatCompletion)
	n.Register(DialectGemini, extractGemini)
	n.Register(DialectAnthropic, extractAnthropic)
	return n
}

// Register adds or replaces the extractor for dialect.
func (n *Normalizer) Register(dialect string, fn ExtractFunc) {
	n.mu.Lock()
	n.extractors[strings.ToLower(dialect)] = fn
	n.mu.Unlock()
}

// Dialects lists the dialects with an extractor.
func (n *Normalizer) Dialects() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.extractors))
	for d := range n.extractors {
		out = append(out, d)
	}
	return out
}

// Extract converts a raw response of the given dialect into an Extraction.
func (n *Normalizer) Extract(raw json.RawMessage, dialect string) (Extraction, error) {
	n.mu.RLock()
	fn, ok := n.extractors[strings.ToLower(dialect)]
	n.mu.RUnlock()
	if !ok {
		return Extraction{}, xerrors.Wrap(xerrors.CodeNormalizationFailed, ErrUnsupportedDialect,
			"no extractor for dialect "+dialect, xerrors.WithStage("normalize"), xerrors.WithMetadata("dialect", dialect))
	}
	if !gjson.ValidBytes(raw) {
		return Extraction{}, normalizationError(dialect, fmt.Errorf("%w: invalid JSON", ErrMalformedResponse))
	}
	out, err := fn(gjson.ParseBytes(raw))
	if err != nil {
		return Extraction{}, normalizationError(dialect, err)
	}
	if out.Invocation != nil && out.Invocation.ID == "" {
		out.Invocation.ID = uuid.NewString()
	}
	return out, nil
}

func normalizationError(dialect string, err error) error {
	return xerrors.Wrap(xerrors.CodeNormalizationFailed, err, "cannot normalize "+dialect+" response",
		xerrors.WithStage("normalize"), xerrors.WithMetadata("dialect", dialect))
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

// extractChatCompletion reads choices[0].message.tool_calls[0], falling back
// to the legacy function_call field.
func extractChatCompletion(doc gjson.Result) (Extraction, error) {
	choices := doc.Get("choices")
	if !choices.IsArray() {
		return Extraction{}, malformed("missing choices")
	}
	choice := choices.Get("0")
	if !choice.Exists() {
		return Extraction{}, malformed("empty choices")
	}
	msg := choice.Get("message")

	if call := msg.Get("tool_calls.0"); call.Exists() {
		fn := call.Get("function")
		args, err := decodeArguments(fn.Get("arguments"))
		if err != nil {
			return Extraction{}, err
		}
		return invocation(call.Get("id").String(), fn.Get("name").String(), args)
	}
	if fc := msg.Get("function_call"); fc.IsObject() {
		args, err := decodeArguments(fc.Get("arguments"))
		if err != nil {
			return Extraction{}, err
		}
		return invocation("", fc.Get("name").String(), args)
	}
	return Extraction{Answer: strings.TrimSpace(msg.Get("content").String())}, nil
}

// extractGemini scans candidates[0].content.parts for the first functionCall.
func extractGemini(doc gjson.Result) (Extraction, error) {
	candidates := doc.Get("candidates")
	if !candidates.IsArray() {
		return Extraction{}, malformed("missing candidates")
	}
	first := candidates.Get("0")
	if !first.Exists() {
		return Extraction{}, malformed("empty candidates")
	}
	var text strings.Builder
	for _, part := range first.Get("content.parts").Array() {
		if call := part.Get("functionCall"); call.IsObject() {
			args, err := decodeArguments(call.Get("args"))
			if err != nil {
				return Extraction{}, err
			}
			return invocation(call.Get("id").String(), call.Get("name").String(), args)
		}
		text.WriteString(part.Get("text").String())
	}
	return Extraction{Answer: strings.TrimSpace(text.String())}, nil
}

func extractAnthropic(doc gjson.Result) (Extraction, error) {
	content := doc.Get("content")
	if !content.IsArray() {
		return Extraction{}, malformed("missing content")
	}
	var text strings.Builder
	for _, block := range content.Array() {
		switch block.Get("type").String() {
		case "tool_use":
			args, err := decodeArguments(block.Get("input"))
			if err != nil {
				return Extraction{}, err
			}
			return invocation(block.Get("id").String(), block.Get("name").String(), args)
		case "text":
			text.WriteString(block.Get("text").String())
		}
	}
	return Extraction{Answer: strings.TrimSpace(text.String())}, nil
}

func invocation(id, name string, args json.RawMessage) (Extraction, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Extraction{}, malformed("invocation without a name")
	}
	return Extraction{Invocation: &Invocation{ID: id, Name: name, Arguments: args}}, nil
}

// decodeArguments accepts either an object or a string holding an encoded
// object. Absent or empty arguments yield nil.
func decodeArguments(r gjson.Result) (json.RawMessage, error) {
	switch {
	case !r.Exists() || r.Type == gjson.Null:
		return nil, nil
	case r.Type == gjson.String:
		s := strings.TrimSpace(r.String())
		if s == "" {
			return nil, nil
		}
		if !gjson.Valid(s) || !gjson.Parse(s).IsObject() {
			return nil, malformed("arguments are not a JSON object")
		}
		return json.RawMessage(s), nil
	case r.IsObject():
		return json.RawMessage(r.Raw), nil
	default:
		return nil, malformed("arguments are not a JSON object")
	}
}
