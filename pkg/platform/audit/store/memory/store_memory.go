package memory

import (
	"context"
	"sync"
	"time"

	audit "trustkit/pkg/platform/audit"
)

// DefaultMaxEntries caps a store built without WithMaxEntries.
const DefaultMaxEntries = 100_000

// InMemoryStore keeps at most maxEntries entries in insertion order; once
// full, each append evicts the oldest entry. Reads return copies so callers
// cannot mutate history.
type InMemoryStore struct {
	mu         sync.RWMutex
	entries    []audit.Entry
	maxEntries int
}

type Option func(*InMemoryStore)

// WithMaxEntries sets the capacity. Values below one keep the default.
func WithMaxEntries(n int) Option {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.entries) >= s.maxEntries {
		// Release the evicted entry; append reallocates once the shrinking
		// capacity runs out, so the backing array stays bounded.
		s.entries[0] = audit.Entry{}
		s.entries = s.entries[1:]
	}
	s.entries = append(s.entries, entry)
	return nil
}

// Query returns matching entries, newest first.
func (s *InMemoryStore) Query(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if !filter.Matches(s.entries[i]) {
			continue
		}
		out = append(out, s.entries[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// DeleteBefore drops entries older than cutoff.
func (s *InMemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

// Len returns the number of stored entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
