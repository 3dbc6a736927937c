// Package capability holds the registry of named operations the agent can
// dispatch to, together with their descriptors and parameter schemas.
package capability

import (
	"context"
	"encoding/json"
	"fmt"

	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"

	"solagent/internal/llm"
)

// Descriptor is the immutable metadata of a capability.
type Descriptor struct {
	Name        string          `json:"name"`
	Aliases     []string        `json:"aliases,omitempty"`
	Version     string          `json:"version,omitempty"`
	Backend     string          `json:"backend,omitempty"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// Tool projects the descriptor onto the form sent to completion backends.
func (d Descriptor) Tool() llm.Tool {
	return llm.Tool{Name: d.Name, Description: d.Description, Parameters: d.Schema}
}

// HasAlias reports whether alias is one of d's aliases.
func (d Descriptor) HasAlias(alias string) bool {
	for _, a := range d.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}

// Implementation performs a capability. The backend is the one that selected
// the invocation and may be consulted again by composite capabilities.
type Implementation interface {
	Execute(ctx context.Context, params json.RawMessage, backend llm.Backend) (string, error)
}

// Func adapts a function to Implementation.
type Func func(ctx context.Context, params json.RawMessage, backend llm.Backend) (string, error)

func (f Func) Execute(ctx context.Context, params json.RawMessage, backend llm.Backend) (string, error) {
	return f(ctx, params, backend)
}

// Entry is a registered capability.
type Entry struct {
	Descriptor Descriptor
	Impl       Implementation
	schema     *jsonschemav5.Schema
}

// Validate checks params against the descriptor schema. Entries without a
// schema accept anything.
func (e Entry) Validate(params json.RawMessage) error {
	if e.schema == nil {
		return nil
	}
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(params, &doc); err != nil {
		return fmt.Errorf("decode %s parameters: %w", e.Descriptor.Name, err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return fmt.Errorf("%s parameters: %w", e.Descriptor.Name, err)
	}
	return nil
}
