// Package dedupe tracks keys already handled in a run, such as addresses
// already reported as new or transaction ids already loaded as history.
package dedupe

import (
	"context"
	"sync"
)

// Deduper records seen keys.
type Deduper interface {
	// SeenAndRecord reports whether key was already seen and records it if
	// not. Empty keys are never recorded and always reported as seen.
	SeenAndRecord(ctx context.Context, key string) bool

	Size() int
}

// Set is an in-memory Deduper. Keys are kept in insertion order.
type Set struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	order     []string
	normalize func(string) string
}

var _ Deduper = (*Set)(nil)

// New creates an empty set.
func New(opts ...Option) *Set {
	s := &Set{
		seen:      make(map[string]struct{}),
		normalize: func(k string) string { return k },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeenAndRecord implements Deduper.
func (s *Set) SeenAndRecord(_ context.Context, key string) bool {
	key = s.normalize(key)
	if key == "" {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return true
	}
	s.seen[key] = struct{}{}
	s.order = append(s.order, key)
	return false
}

// Keys returns recorded keys in insertion order.
func (s *Set) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Size implements Deduper.
func (s *Set) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
