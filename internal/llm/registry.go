package llm

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "solagent/internal/errors"
	"solagent/internal/observability/metrics"
)

// Registry maps backend identifiers to Backend values.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry returns an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register binds id to backend, replacing any previous binding.
func (r *Registry) Register(id string, backend Backend) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "backend id is required")
	}
	if backend == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "backend is nil", xerrors.WithMetadata("backend", id))
	}
	r.mu.Lock()
	r.backends[id] = backend
	r.mu.Unlock()
	return nil
}

// Get returns the backend bound to id.
func (r *Registry) Get(id string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	return b, ok
}

// Names lists registered backend ids in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CallByName routes a completion to the backend bound to id.
func (r *Registry) CallByName(ctx context.Context, id, prompt string, tools []Tool) (*Response, error) {
	backend, ok := r.Get(id)
	if !ok {
		return nil, xerrors.New(xerrors.CodeBackendNotFound, "unknown backend "+id, xerrors.WithMetadata("backend", id))
	}

	start := time.Now()
	resp, err := backend.Complete(ctx, prompt, tools)
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	metrics.ObserveBackendCall(id, backend.Dialect(), outcome, time.Since(start))
	if err != nil {
		return nil, err
	}
	if resp.Dialect == "" {
		resp.Dialect = backend.Dialect()
	}
	if resp.Backend == "" {
		resp.Backend = id
	}
	return resp, nil
}
