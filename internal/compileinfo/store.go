package compileinfo

import (
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/born-ml/optiling/internal/platform"
)

// Store is the per-operator-type cache of Info values for one platform. A
// compilation session owns one Store.
//
// Each entry is written once and never mutated afterward. Concurrent first
// calls for the same operator type share a single platform query. Failed
// constructions are not cached.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Info
	group   singleflight.Group
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*Info)}
}

// GetOrCreate returns the cached Info for opType, building it from p on the first call.
func (s *Store) GetOrCreate(opType string, p platform.Info) (*Info, error) {
	if info, ok := s.Lookup(opType); ok {
		return info, nil
	}

	v, err, _ := s.group.Do(opType, func() (any, error) {
		// A racing caller may have finished while this one waited on the group.
		if info, ok := s.Lookup(opType); ok {
			return info, nil
		}
		info, err := New(opType, p)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.entries[opType] = info
		s.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Info), nil
}

// Lookup returns the cached Info for opType without creating it.
func (s *Store) Lookup(opType string) (*Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.entries[opType]
	return info, ok
}

// Len returns the number of cached operator types.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// OpTypes returns the cached operator types in sorted order.
func (s *Store) OpTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops := make([]string, 0, len(s.entries))
	for op := range s.entries {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Reset drops every entry. It ends a compilation session and must not race
// with in-flight tiling requests.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Info)
}
