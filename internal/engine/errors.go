package engine

import "fmt"

// ToolUnavailableError is returned when an engine's backing tool is not installed.
type ToolUnavailableError struct {
	Engine string
	Tool   string
	Cause  error
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("engine %s: tool %q is not available: %v", e.Engine, e.Tool, e.Cause)
}

func (e *ToolUnavailableError) Unwrap() error {
	return e.Cause
}

func (e *ToolUnavailableError) ToolUnavailable() bool {
	return true
}

// UnknownEngineError is returned for a configured kind with no factory.
type UnknownEngineError struct {
	Engine string
	Kind   string
}

func (e *UnknownEngineError) Error() string {
	return fmt.Sprintf("engine %s: unknown kind %q", e.Engine, e.Kind)
}

func (e *UnknownEngineError) InvalidInput() bool {
	return true
}

// OptionsError is returned when an engine's options map cannot be decoded.
type OptionsError struct {
	Engine string
	Cause  error
}

func (e *OptionsError) Error() string {
	return fmt.Sprintf("engine %s: invalid options: %v", e.Engine, e.Cause)
}

func (e *OptionsError) Unwrap() error {
	return e.Cause
}

func (e *OptionsError) InvalidInput() bool {
	return true
}

// ExecutionError is returned when a tool exits non-zero without producing
// any parseable output.
type ExecutionError struct {
	Engine          string
	ExitCode        int
	Stderr          string
	StderrTruncated bool
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("engine %s: tool exited with code %d: %s", e.Engine, e.ExitCode, e.Stderr)
	if e.StderrTruncated {
		msg += " (stderr truncated)"
	}
	return msg
}

// CancelledError is returned when the token is cancelled before a tool starts.
type CancelledError struct {
	Engine string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("engine %s: cancelled", e.Engine)
}

func (e *CancelledError) Cancelled() bool {
	return true
}
