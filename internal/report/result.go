// Package report merges per-engine outcomes into one deterministic result
// and renders it as text, JSON or YAML.
package report

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Cyclone1070/qgate/internal/engine"
)

// Exit codes returned by the CLI.
const (
	ExitClean   = 0
	ExitIssues  = 1
	ExitFailure = 2
)

// FixApplied records the fixes one engine made.
type FixApplied struct {
	Engine        string   `json:"engine" yaml:"engine"`
	FixedCount    int      `json:"fixed_count" yaml:"fixed_count"`
	ModifiedFiles []string `json:"modified_files,omitempty" yaml:"modified_files,omitempty"`
}

// Result is the aggregated outcome of one invocation. It is never mutated
// after Aggregate or FromError returns it, apart from attaching Diffs.
type Result struct {
	Success       bool              `json:"success" yaml:"success"`
	DurationMs    int64             `json:"duration_ms" yaml:"duration_ms"`
	Issues        []engine.Issue    `json:"issues" yaml:"issues"`
	ModifiedFiles []string          `json:"modified_files" yaml:"modified_files"`
	FixesApplied  []FixApplied      `json:"fixes_applied" yaml:"fixes_applied"`
	Warnings      []string          `json:"warnings" yaml:"warnings"`
	CorrelationID string            `json:"correlation_id" yaml:"correlation_id"`
	Error         string            `json:"error,omitempty" yaml:"error,omitempty"`
	Diffs         map[string]string `json:"diffs,omitempty" yaml:"diffs,omitempty"`
}

// Duration returns DurationMs as a time.Duration.
func (r *Result) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// ExitCode maps the result to the CLI exit status.
func (r *Result) ExitCode() int {
	switch {
	case r.Error != "":
		return ExitFailure
	case !r.Success || len(r.Issues) > 0:
		return ExitIssues
	default:
		return ExitClean
	}
}

// EngineOutcome is what one engine contributed. A nil Result means the
// engine was skipped or unavailable and counts as successful.
type EngineOutcome struct {
	Descriptor engine.Descriptor
	Result     *engine.Result
	Warnings   []string
}

// Options carries the run-level inputs to Aggregate.
type Options struct {
	Duration       time.Duration
	CorrelationID  string
	FixFirst       bool
	DemoteWarnings bool
	ModifiedFiles  []string
	RunWarnings    []string
}

// Aggregate merges outcomes, given in registration order, into one Result.
// Identical inputs produce identical results.
func Aggregate(outcomes []EngineOutcome, opts Options) *Result {
	res := &Result{
		Success:       true,
		DurationMs:    opts.Duration.Milliseconds(),
		Issues:        []engine.Issue{},
		ModifiedFiles: sortedCopy(opts.ModifiedFiles),
		FixesApplied:  []FixApplied{},
		Warnings:      []string{},
		CorrelationID: opts.CorrelationID,
	}

	for _, o := range outcomes {
		res.Warnings = append(res.Warnings, o.Warnings...)
		if o.Result == nil {
			continue
		}
		if !o.Result.Success {
			res.Success = false
		}

		for _, is := range o.Result.Issues {
			if opts.FixFirst && is.Resolved {
				continue
			}
			if is.Engine == "" {
				is.Engine = o.Descriptor.Name
			}
			if opts.DemoteWarnings && is.Severity == engine.SeverityWarning {
				res.Warnings = append(res.Warnings, FormatIssue(is))
				continue
			}
			res.Issues = append(res.Issues, is)
		}

		if o.Result.FixedCount > 0 {
			res.FixesApplied = append(res.FixesApplied, FixApplied{
				Engine:        o.Descriptor.Name,
				FixedCount:    o.Result.FixedCount,
				ModifiedFiles: sortedCopy(o.Result.ModifiedFiles),
			})
		}
	}

	res.Warnings = append(res.Warnings, opts.RunWarnings...)
	return res
}

// FromError builds the result of an invocation that failed as a whole,
// before or outside any engine.
func FromError(err error, correlationID string, duration time.Duration) *Result {
	rule := "internal"
	var invalid interface{ InvalidInput() bool }
	if errors.As(err, &invalid) && invalid.InvalidInput() {
		rule = "configuration"
	}
	return &Result{
		Success:    false,
		DurationMs: duration.Milliseconds(),
		Issues: []engine.Issue{{
			Engine:   "qgate",
			Severity: engine.SeverityError,
			Message:  err.Error(),
			RuleID:   rule,
		}},
		ModifiedFiles: []string{},
		FixesApplied:  []FixApplied{},
		Warnings:      []string{},
		CorrelationID: correlationID,
		Error:         err.Error(),
	}
}

// FormatIssue renders an issue as "engine: file:line:col: message (rule)".
func FormatIssue(is engine.Issue) string {
	loc := is.File
	if loc != "" && is.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, is.Line)
		if is.Col > 0 {
			loc = fmt.Sprintf("%s:%d", loc, is.Col)
		}
	}
	s := is.Engine + ": "
	if loc != "" {
		s += loc + ": "
	}
	s += is.Message
	if is.RuleID != "" {
		s += " (" + is.RuleID + ")"
	}
	return s
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
