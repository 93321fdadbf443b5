package snapshot

import "fmt"

// ReadError is returned when a file cannot be read for hashing.
type ReadError struct {
	Path  string
	Cause error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read %s for snapshot: %v", e.Path, e.Cause)
}

func (e *ReadError) Unwrap() error {
	return e.Cause
}

func (e *ReadError) IOError() bool {
	return true
}
