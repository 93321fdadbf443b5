// Package engine defines the contract every quality engine implements and
// the command-backed engines built from configuration.
package engine

import (
	"context"

	"github.com/Cyclone1070/qgate/internal/cancel"
)

// Severity classifies an Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ParseSeverity maps a free-form severity to a Severity, falling back to def.
func ParseSeverity(s string, def Severity) Severity {
	switch Severity(s) {
	case SeverityError, SeverityWarning, SeverityInfo:
		return Severity(s)
	}
	switch s {
	case "err", "fatal", "critical":
		return SeverityError
	case "warn":
		return SeverityWarning
	case "note", "hint", "notice":
		return SeverityInfo
	}
	return def
}

// Kind names a built-in engine family.
type Kind string

const (
	KindLinter      Kind = "linter"
	KindFormatter   Kind = "formatter"
	KindTypechecker Kind = "typechecker"
)

// Issue is one problem reported by an engine.
type Issue struct {
	Engine   string   `json:"engine" yaml:"engine"`
	Severity Severity `json:"severity" yaml:"severity"`
	File     string   `json:"file,omitempty" yaml:"file,omitempty"`
	Line     int      `json:"line,omitempty" yaml:"line,omitempty"`
	Col      int      `json:"col,omitempty" yaml:"col,omitempty"`
	Message  string   `json:"message" yaml:"message"`
	RuleID   string   `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
	Resolved bool     `json:"resolved,omitempty" yaml:"resolved,omitempty"`
}

// Descriptor is the static identity of an engine.
type Descriptor struct {
	Name     string
	Fixable  bool
	Critical bool
}

// Request is the input to one engine invocation.
type Request struct {
	Files    []string
	Fix      bool
	Token    *cancel.Token
	CacheDir string
}

// Result is what one engine invocation reports.
type Result struct {
	Success       bool
	Issues        []Issue
	FixedCount    int
	ModifiedFiles []string
	// Warnings are non-fatal notes about the run, such as truncated output.
	Warnings []string
}

// Engine is a pluggable quality checker. Check must honour ctx and
// req.Token and return *ToolUnavailableError when its backing tool is
// missing.
type Engine interface {
	Descriptor() Descriptor
	Check(ctx context.Context, req Request) (*Result, error)
}

// Cancelled reports whether the request's token has been cancelled.
func (r Request) Cancelled() bool {
	return r.Token != nil && r.Token.IsCancellationRequested()
}
