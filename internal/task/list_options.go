package task

import (
	"slices"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultListLimit is used when a listing does not set a limit.
	DefaultListLimit = 20
	// MaxListLimit caps a single page.
	MaxListLimit = 100
)

// ListOptions selects and pages tasks. The zero value lists the
// DefaultListLimit most recently updated tasks.
type ListOptions struct {
	Limit        int
	Offset       int
	Statuses     []Status
	Task         string
	Query        string
	UpdatedSince time.Time
	UpdatedUntil time.Time
	HasResult    *bool
	OldestFirst  bool
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit sets the page size.
func WithLimit(limit int) ListOption {
	return func(o *ListOptions) { o.Limit = limit }
}

// WithOffset skips the first n matching tasks.
func WithOffset(offset int) ListOption {
	return func(o *ListOptions) { o.Offset = offset }
}

// WithStatuses keeps tasks in any of statuses. Unknown statuses are ignored.
func WithStatuses(statuses ...Status) ListOption {
	return func(o *ListOptions) { o.Statuses = append([]Status(nil), statuses...) }
}

// WithTask keeps tasks submitted for the given task name.
func WithTask(name string) ListOption {
	return func(o *ListOptions) { o.Task = name }
}

// WithQuery keeps tasks whose id, task name, error or output contains
// query, ignoring case.
func WithQuery(query string) ListOption {
	return func(o *ListOptions) { o.Query = query }
}

// WithUpdatedSince keeps tasks updated at or after ts.
func WithUpdatedSince(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedSince = ts }
}

// WithUpdatedUntil keeps tasks updated at or before ts.
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedUntil = ts }
}

// WithResultPresence keeps tasks that do (or do not) carry a result.
func WithResultPresence(hasResult bool) ListOption {
	return func(o *ListOptions) { o.HasResult = &hasResult }
}

// WithOldestFirst reverses the default newest-first order.
func WithOldestFirst() ListOption {
	return func(o *ListOptions) { o.OldestFirst = true }
}

func buildListOptions(opts []ListOption) ListOptions {
	var o ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.normalize()
	return o
}

func (o *ListOptions) normalize() {
	switch {
	case o.Limit <= 0:
		o.Limit = DefaultListLimit
	case o.Limit > MaxListLimit:
		o.Limit = MaxListLimit
	}
	o.Offset = max(o.Offset, 0)
	o.Task = strings.TrimSpace(o.Task)
	o.Query = strings.ToLower(strings.TrimSpace(o.Query))

	var statuses []Status
	for _, s := range o.Statuses {
		if IsValidStatus(s) && !slices.Contains(statuses, s) {
			statuses = append(statuses, s)
		}
	}
	o.Statuses = statuses
}

// Match reports whether t passes every filter. It expects normalized options.
func (o ListOptions) Match(t *Task) bool {
	if t == nil {
		return false
	}
	if len(o.Statuses) > 0 && !slices.Contains(o.Statuses, t.Status) {
		return false
	}
	if o.Task != "" && t.Task != o.Task {
		return false
	}
	if !o.UpdatedSince.IsZero() && t.UpdatedAt < o.UpdatedSince.Unix() {
		return false
	}
	if !o.UpdatedUntil.IsZero() && t.UpdatedAt > o.UpdatedUntil.Unix() {
		return false
	}
	if o.HasResult != nil && (t.Result != nil) != *o.HasResult {
		return false
	}
	return o.Query == "" || t.mentions(o.Query)
}

// page orders tasks by update time, then creation time, then id, and cuts
// the requested window.
func (o ListOptions) page(tasks []*Task) []*Task {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if o.OldestFirst {
			a, b = b, a
		}
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return tasks[i].ID < tasks[j].ID
	})
	if o.Offset >= len(tasks) {
		return []*Task{}
	}
	tasks = tasks[o.Offset:]
	if len(tasks) > o.Limit {
		tasks = tasks[:o.Limit]
	}
	return tasks
}

func (t *Task) mentions(lowerQuery string) bool {
	fields := []string{t.ID, t.Task, t.LastError}
	if t.Result != nil {
		fields = append(fields, t.Result.Capability, t.Result.Output)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), lowerQuery) {
			return true
		}
	}
	return false
}
