// Package storage defines the execution history archive. Drivers live in the
// jsonfile, mysql and redis subpackages.
package storage

import "context"

// Record is one archived execution.
type Record struct {
	ID           string `json:"id"`
	Task         string `json:"task"`
	Capability   string `json:"capability"`
	Backend      string `json:"backend"`
	InvocationID string `json:"invocation_id,omitempty"`
	Input        string `json:"input,omitempty"`
	Arguments    string `json:"arguments,omitempty"`
	Result       string `json:"result"`
	Direct       bool   `json:"direct,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// HistoryRepository persists execution records.
type HistoryRepository interface {
	Save(ctx context.Context, record Record) error
	// ListLatest returns up to limit records, newest first.
	ListLatest(ctx context.Context, limit int) ([]Record, error)
	// Latest returns the newest record of task.
	Latest(ctx context.Context, task string) (Record, bool, error)
}

// DefaultListLimit applies when callers pass a non-positive limit.
const DefaultListLimit = 20
