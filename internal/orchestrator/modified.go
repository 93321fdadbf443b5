package orchestrator

import (
	"sort"
	"sync"
)

// ModifiedSet is the deduplicated union of files changed during one
// invocation. It only grows.
type ModifiedSet struct {
	mu    sync.RWMutex
	files map[string]struct{}
}

// NewModifiedSet creates an empty set.
func NewModifiedSet() *ModifiedSet {
	return &ModifiedSet{files: make(map[string]struct{})}
}

// Add inserts files, ignoring empty names.
func (s *ModifiedSet) Add(files ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		if f != "" {
			s.files[f] = struct{}{}
		}
	}
}

// Contains reports whether file is in the set.
func (s *ModifiedSet) Contains(file string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[file]
	return ok
}

// Len returns the number of files.
func (s *ModifiedSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Sorted returns the files in lexical order.
func (s *ModifiedSet) Sorted() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.files))
	for f := range s.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// difference returns the sorted elements of a that are not in b.
func difference(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, f := range b {
		in[f] = true
	}
	var out []string
	for _, f := range a {
		if !in[f] {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}
