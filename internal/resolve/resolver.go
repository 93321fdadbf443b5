// Package resolve expands command-line paths into the sorted list of files
// engines run against.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// PathError is returned when a requested path cannot be resolved.
type PathError struct {
	Path  string
	Cause error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("cannot resolve %s: %v", e.Path, e.Cause)
}

func (e *PathError) Unwrap() error { return e.Cause }

func (e *PathError) NotFound() bool {
	return errors.Is(e.Cause, fs.ErrNotExist)
}

// PatternError is returned for an include or exclude glob that does not compile.
type PatternError struct {
	Pattern string
	Cause   error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid file pattern %q: %v", e.Pattern, e.Cause)
}

func (e *PatternError) Unwrap() error { return e.Cause }

func (e *PatternError) InvalidInput() bool {
	return true
}

// ignoreMatcher is the gitignore view the resolver consults while walking.
type ignoreMatcher interface {
	ShouldIgnore(relativePath string, isDir bool) bool
	LoadDir(relDir string) error
}

// Options select which files are resolved.
type Options struct {
	Include []string
	Exclude []string
}

// Resolver turns paths into files relative to root.
type Resolver struct {
	root    string
	include []glob.Glob
	exclude []glob.Glob
	ignore  ignoreMatcher
}

// NewResolver compiles the include and exclude globs. A nil ignore
// matcher disables gitignore handling.
func NewResolver(root string, opts Options, ignore ignoreMatcher) (*Resolver, error) {
	include, err := compile(opts.Include)
	if err != nil {
		return nil, err
	}
	exclude, err := compile(opts.Exclude)
	if err != nil {
		return nil, err
	}
	return &Resolver{root: root, include: include, exclude: exclude, ignore: ignore}, nil
}

func compile(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, &PatternError{Pattern: p, Cause: err}
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Resolve expands paths into files. No paths means the whole root.
// Directories are walked and filtered by include, exclude and gitignore;
// explicitly named files skip the include filter. The result is sorted,
// deduplicated and slash-separated relative to root.
func (r *Resolver) Resolve(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}

	seen := make(map[string]bool)
	var files []string
	add := func(rel string) {
		if !seen[rel] {
			seen[rel] = true
			files = append(files, rel)
		}
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(r.root, p)
		}
		rel, err := r.rel(abs)
		if err != nil {
			return nil, &PathError{Path: p, Cause: err}
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, &PathError{Path: p, Cause: err}
		}

		if !info.IsDir() {
			if !r.excluded(rel, false) {
				add(rel)
			}
			continue
		}
		if err := r.walk(ctx, abs, add); err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

func (r *Resolver) walk(ctx context.Context, dir string, add func(string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &PathError{Path: path, Cause: err}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := r.rel(path)
		if err != nil {
			return &PathError{Path: path, Cause: err}
		}

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if d.Name() == ".git" || r.excluded(rel, true) {
				return filepath.SkipDir
			}
			if r.ignore != nil {
				if err := r.ignore.LoadDir(rel); err != nil {
					return err
				}
			}
			return nil
		}

		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if r.included(rel) && !r.excluded(rel, false) {
			add(rel)
		}
		return nil
	})
}

func (r *Resolver) rel(abs string) (string, error) {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("path is outside the project root")
	}
	return filepath.ToSlash(rel), nil
}

func (r *Resolver) included(rel string) bool {
	if len(r.include) == 0 {
		return true
	}
	for _, g := range r.include {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// excluded applies exclude globs and gitignore. A directory also matches
// patterns written for its contents, e.g. "vendor/**".
func (r *Resolver) excluded(rel string, isDir bool) bool {
	for _, g := range r.exclude {
		if g.Match(rel) || (isDir && g.Match(rel+"/")) {
			return true
		}
	}
	return r.ignore != nil && r.ignore.ShouldIgnore(rel, isDir)
}
