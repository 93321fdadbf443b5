// Package vcs wraps go-git for gitignore matching and index staging.
package vcs

import (
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// FileSystem defines the minimal filesystem interface needed for gitignore matching.
type FileSystem interface {
	Stat(path string) (os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
}

// OSFileSystem implements FileSystem with the os package.
type OSFileSystem struct{}

func (OSFileSystem) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

func (OSFileSystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// IgnoreMatcher implements gitignore pattern matching using go-git's gitignore matcher.
// Patterns from nested .gitignore files are scoped to their directory.
type IgnoreMatcher struct {
	root string
	fs   FileSystem

	mu       sync.RWMutex
	patterns []gitignore.Pattern
	matcher  gitignore.Matcher
	loaded   map[string]bool
}

// NewIgnoreMatcher creates a matcher from .git/info/exclude and the root
// .gitignore. Missing files are not an error.
func NewIgnoreMatcher(root string, fs FileSystem) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{root: root, fs: fs, loaded: make(map[string]bool)}
	if err := m.load(filepath.Join(root, ".git", "info", "exclude"), nil); err != nil {
		return nil, err
	}
	if err := m.LoadDir(""); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadDir adds the patterns of relDir/.gitignore, scoped to relDir.
// Loading the same directory twice is a no-op.
func (m *IgnoreMatcher) LoadDir(relDir string) error {
	relDir = path.Clean(filepath.ToSlash(relDir))
	if relDir == "." {
		relDir = ""
	}

	m.mu.Lock()
	if m.loaded[relDir] {
		m.mu.Unlock()
		return nil
	}
	m.loaded[relDir] = true
	m.mu.Unlock()

	return m.load(filepath.Join(m.root, filepath.FromSlash(relDir), ".gitignore"), splitPath(relDir))
}

func (m *IgnoreMatcher) load(file string, domain []string) error {
	if _, err := m.fs.Stat(file); err != nil {
		return nil
	}
	content, err := m.fs.ReadFile(file)
	if err != nil {
		return &GitignoreReadError{Path: file, Cause: err}
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, domain))
	}
	if len(patterns) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, patterns...)
	m.matcher = gitignore.NewMatcher(m.patterns)
	return nil
}

// ShouldIgnore checks if a relative path matches any loaded patterns.
func (m *IgnoreMatcher) ShouldIgnore(relativePath string, isDir bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.matcher == nil {
		return false
	}
	return m.matcher.Match(splitPath(relativePath), isDir)
}

// splitPath splits a path into segments for gitignore matching.
// It normalizes path separators and filters out empty and "." segments.
func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	var segments []string
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part != "" && part != "." {
			segments = append(segments, part)
		}
	}
	return segments
}

// NoOpMatcher never ignores any file.
// It is used when gitignore handling is disabled.
type NoOpMatcher struct{}

// ShouldIgnore always returns false.
func (NoOpMatcher) ShouldIgnore(string, bool) bool { return false }

// LoadDir does nothing.
func (NoOpMatcher) LoadDir(string) error { return nil }
