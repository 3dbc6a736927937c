package capability

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	xerrors "solagent/internal/errors"
	"solagent/pkg/logger"
)

// Group registers a related set of capabilities under one tag.
type Group func(r *Registry) error

// Option configures a Registry.
type Option func(*Registry)

// WithAliasGuard rejects registrations whose name or aliases collide with
// another entry's name or aliases.
func WithAliasGuard() Option {
	return func(r *Registry) { r.aliasGuard = true }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithGroup binds a tag usable with RegisterByTags.
func WithGroup(tag string, g Group) Option {
	return func(r *Registry) { r.groups[normalizeTag(tag)] = g }
}

// Registry stores capabilities in registration order. Lookups try the exact
// name first and fall back to the first entry declaring a matching alias.
type Registry struct {
	mu         sync.RWMutex
	entries    []Entry
	index      map[string]int
	groups     map[string]Group
	aliasGuard bool
	logger     *slog.Logger
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		index:  make(map[string]int),
		groups: make(map[string]Group),
		logger: logger.Named("capability"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register inserts desc, or replaces the entry already registered under
// desc.Name while keeping its position.
func (r *Registry) Register(desc Descriptor, impl Implementation) error {
	desc.Name = strings.TrimSpace(desc.Name)
	if desc.Name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "capability name is required")
	}
	if impl == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "capability implementation is nil", xerrors.WithMetadata("capability", desc.Name))
	}
	if desc.Version != "" {
		if _, err := semver.NewVersion(desc.Version); err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid capability version", xerrors.WithMetadata("capability", desc.Name))
		}
	}
	schema, err := compileSchema(desc.Schema)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid capability schema", xerrors.WithMetadata("capability", desc.Name))
	}
	desc.Aliases = append([]string(nil), desc.Aliases...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if clash := r.collision(desc); clash != "" {
		if r.aliasGuard {
			return xerrors.New(xerrors.CodeConflict, "capability identifier already in use",
				xerrors.WithMetadata("capability", desc.Name), xerrors.WithMetadata("identifier", clash))
		}
		r.logger.Warn("capability alias overlaps an existing entry", "capability", desc.Name, "identifier", clash)
	}

	entry := Entry{Descriptor: desc, Impl: impl, schema: schema}
	if idx, ok := r.index[desc.Name]; ok {
		r.entries[idx] = entry
		return nil
	}
	r.index[desc.Name] = len(r.entries)
	r.entries = append(r.entries, entry)
	return nil
}

// collision returns the first identifier of desc already claimed by another
// entry. Callers hold the lock.
func (r *Registry) collision(desc Descriptor) string {
	ids := append([]string{desc.Name}, desc.Aliases...)
	for _, e := range r.entries {
		if e.Descriptor.Name == desc.Name {
			continue
		}
		for _, id := range ids {
			if id == e.Descriptor.Name || e.Descriptor.HasAlias(id) {
				return id
			}
		}
	}
	return ""
}

// Resolve finds a capability by exact name, then by alias.
func (r *Registry) Resolve(nameOrAlias string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx, ok := r.index[nameOrAlias]; ok {
		return r.entries[idx], true
	}
	for _, e := range r.entries {
		if e.Descriptor.HasAlias(nameOrAlias) {
			return e, true
		}
	}
	return Entry{}, false
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Descriptor)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// RegisterByTags registers the groups bound to tags. Unknown tags are logged
// and returned as skipped; they never fail the call.
func (r *Registry) RegisterByTags(tags ...string) (skipped []string, err error) {
	for _, tag := range tags {
		key := normalizeTag(tag)
		if key == "" {
			continue
		}
		r.mu.RLock()
		group, ok := r.groups[key]
		r.mu.RUnlock()
		if !ok {
			r.logger.Warn("unknown capability tag", "tag", tag)
			skipped = append(skipped, tag)
			continue
		}
		if gerr := group(r); gerr != nil {
			err = errors.Join(err, xerrors.Wrap(xerrors.CodeInitializationFailure, gerr, "register capability group",
				xerrors.WithMetadata("tag", key), xerrors.WithRetryable(false)))
		}
	}
	return skipped, err
}

// Tags lists the tags bound with WithGroup.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.groups))
	for t := range r.groups {
		out = append(out, t)
	}
	return out
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
