package executor

import (
	"errors"
	"fmt"
)

// ErrInterrupted is returned when a command was stopped because its context ended.
var ErrInterrupted = errors.New("command interrupted")

// CommandError represents generic command execution failures (lookup, start).
type CommandError struct {
	Cmd   string
	Cause error
	Stage string // "lookup", "start"
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed at %s: %v", e.Cmd, e.Stage, e.Cause)
}

func (e *CommandError) Unwrap() error { return e.Cause }

// NotFound reports whether the executable could not be located.
func (e *CommandError) NotFound() bool {
	return e.Stage == "lookup"
}
