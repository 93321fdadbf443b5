// Package snapshot records file checksums before fixes run so the files
// engines actually changed can be detected afterwards.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// absent is the checksum recorded for a file that does not exist.
const absent = ""

// Options control what a Store captures.
type Options struct {
	// Concurrency bounds parallel hashing; <= 0 uses 8.
	Concurrency int
	// KeepContent retains file contents so diffs can be rendered.
	KeepContent bool
	// MaxContentBytes skips retaining files larger than this; 0 means no limit.
	MaxContentBytes int
}

// Store is a thread-safe checksum store.
// It uses SHA-256 for checksum computation and stores checksums in an in-memory map.
type Store struct {
	mu       sync.RWMutex
	sums     map[string]string
	contents map[string][]byte
	opts     Options
	readFile func(name string) ([]byte, error)
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Store{
		sums:     make(map[string]string),
		contents: make(map[string][]byte),
		opts:     opts,
		readFile: os.ReadFile,
	}
}

// Compute computes the SHA-256 checksum of data and returns it as a hex string.
func (s *Store) Compute(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Get retrieves the recorded checksum for a file path.
// Returns the checksum and true if recorded; an absent file has an empty checksum.
func (s *Store) Get(path string) (checksum string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	checksum, ok = s.sums[path]
	return checksum, ok
}

// Update stores or updates the checksum for a file path.
func (s *Store) Update(path string, checksum string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sums[path] = checksum
}

// Content returns the retained pre-capture content of path.
func (s *Store) Content(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.contents[path]
	return data, ok
}

// Len returns the number of recorded paths.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sums)
}

// Clear removes all recorded checksums and contents.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sums = make(map[string]string)
	s.contents = make(map[string][]byte)
}

// Capture records the current checksum of every file, relative to root.
// Missing files are recorded as absent so their creation is detected later.
func (s *Store) Capture(ctx context.Context, root string, files []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for _, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, sum, err := s.hash(root, f)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.sums[f] = sum
			if s.opts.KeepContent && sum != absent && (s.opts.MaxContentBytes <= 0 || len(data) <= s.opts.MaxContentBytes) {
				s.contents[f] = data
			}
			s.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// Changed re-hashes every recorded file and returns those whose checksum
// differs from the captured one, sorted.
func (s *Store) Changed(ctx context.Context, root string) ([]string, error) {
	s.mu.RLock()
	recorded := make(map[string]string, len(s.sums))
	for k, v := range s.sums {
		recorded[k] = v
	}
	s.mu.RUnlock()

	var (
		mu      sync.Mutex
		changed []string
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for f, before := range recorded {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, after, err := s.hash(root, f)
			if err != nil {
				return err
			}
			if after != before {
				mu.Lock()
				changed = append(changed, f)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(changed)
	return changed, nil
}

func (s *Store) hash(root, file string) ([]byte, string, error) {
	data, err := s.readFile(join(root, file))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, absent, nil
		}
		return nil, "", &ReadError{Path: file, Cause: err}
	}
	return data, s.Compute(data), nil
}

func join(root, file string) string {
	if root == "" || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(root, file)
}
