// Package memory keeps the conversation context: the latest result of every
// task the agent executed, folded into later prompts.
package memory

import (
	"container/list"
	"sync"
)

// Store maps task names to their most recent result.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*list.Element
	order    *list.List
	capacity int
	report   func(n int)
}

type item struct {
	key   string
	value string
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity bounds the store to n keys, evicting the least recently
// written key. n <= 0 keeps the store unbounded.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithSizeReporter calls fn with the entry count after every write, while
// the write lock is still held.
func WithSizeReporter(fn func(n int)) Option {
	return func(s *Store) {
		s.report = fn
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{entries: make(map[string]*list.Element), order: list.New()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Record overwrites the value stored under key.
func (s *Store) Record(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		el.Value.(*item).value = value
		s.order.MoveToBack(el)
	} else {
		s.entries[key] = s.order.PushBack(&item{key: key, value: value})
		if s.capacity > 0 && s.order.Len() > s.capacity {
			oldest := s.order.Front()
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(*item).key)
		}
	}
	if s.report != nil {
		s.report(s.order.Len())
	}
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el, ok := s.entries[key]
	if !ok {
		return "", false
	}
	return el.Value.(*item).value, true
}

// Snapshot copies the current mapping.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.entries))
	for k, el := range s.entries {
		out[k] = el.Value.(*item).value
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order.Len()
}
