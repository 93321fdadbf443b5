package vcs

import "fmt"

// GitignoreReadError is returned when .gitignore cannot be read.
type GitignoreReadError struct {
	Path  string
	Cause error
}

func (e *GitignoreReadError) Error() string {
	return fmt.Sprintf("failed to read .gitignore at %s: %v", e.Path, e.Cause)
}

func (e *GitignoreReadError) Unwrap() error { return e.Cause }

func (e *GitignoreReadError) IOError() bool {
	return true
}

// StagingError is returned when files cannot be added to the git index.
// The orchestrator reports it as a warning; fixes already written stay on disk.
type StagingError struct {
	Path  string
	Cause error
}

func (e *StagingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to stage files: %v", e.Cause)
	}
	return fmt.Sprintf("failed to stage %s: %v", e.Path, e.Cause)
}

func (e *StagingError) Unwrap() error { return e.Cause }

func (e *StagingError) Staging() bool {
	return true
}
