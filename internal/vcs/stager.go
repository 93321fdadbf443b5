package vcs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
)

// StageResult lists what one StageFiles call wrote to the index.
type StageResult struct {
	Staged  []string
	Removed []string
}

// GitStager adds files to the index of the repository containing root.
type GitStager struct {
	root string
}

// NewGitStager creates a stager for the repository at or above root.
func NewGitStager(root string) *GitStager {
	return &GitStager{root: root}
}

// StageFiles writes blobs for every path and updates the index in a single
// write. Paths are relative to root. Deleted files are removed from the
// index. Nothing is written if any path fails.
func (s *GitStager) StageFiles(ctx context.Context, paths []string) (*StageResult, error) {
	res := &StageResult{}
	if len(paths) == 0 {
		return res, nil
	}

	repo, err := git.PlainOpenWithOptions(s.root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, &StagingError{Cause: err}
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, &StagingError{Cause: err}
	}
	wtRoot := wt.Filesystem.Root()

	root, err := filepath.Abs(s.root)
	if err != nil {
		return nil, &StagingError{Cause: err}
	}

	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, &StagingError{Cause: err}
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, &StagingError{Cause: err}
		}

		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, p)
		}
		rel, err := filepath.Rel(wtRoot, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, &StagingError{Path: p, Cause: errors.New("path is outside the repository")}
		}
		rel = filepath.ToSlash(rel)

		info, err := os.Lstat(abs)
		if errors.Is(err, fs.ErrNotExist) {
			if _, err := idx.Remove(rel); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
				return nil, &StagingError{Path: p, Cause: err}
			}
			res.Removed = append(res.Removed, p)
			continue
		}
		if err != nil {
			return nil, &StagingError{Path: p, Cause: err}
		}

		hash, err := writeBlob(repo, abs, info)
		if err != nil {
			return nil, &StagingError{Path: p, Cause: err}
		}
		mode, err := filemode.NewFromOSFileMode(info.Mode())
		if err != nil {
			return nil, &StagingError{Path: p, Cause: err}
		}

		entry, err := idx.Entry(rel)
		if errors.Is(err, index.ErrEntryNotFound) {
			entry = idx.Add(rel)
		} else if err != nil {
			return nil, &StagingError{Path: p, Cause: err}
		}
		entry.Hash = hash
		entry.Mode = mode
		entry.ModifiedAt = info.ModTime()
		entry.Size = uint32(info.Size())
		res.Staged = append(res.Staged, p)
	}

	if err := repo.Storer.SetIndex(idx); err != nil {
		return nil, &StagingError{Cause: err}
	}
	return res, nil
}

func writeBlob(repo *git.Repository, abs string, info os.FileInfo) (plumbing.Hash, error) {
	var data []byte
	var err error
	if info.Mode()&os.ModeSymlink != 0 {
		var target string
		target, err = os.Readlink(abs)
		data = []byte(filepath.ToSlash(target))
	} else {
		data, err = os.ReadFile(abs)
	}
	if err != nil {
		return plumbing.ZeroHash, err
	}

	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return repo.Storer.SetEncodedObject(obj)
}
