package engine

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/Cyclone1070/qgate/internal/executor"
	"github.com/gobwas/glob"
)

// CommandExecutor is the process runner command engines depend on.
type CommandExecutor interface {
	Run(ctx context.Context, cmd []string, dir string, env []string) (*executor.Result, error)
	LookPath(name string) (string, error)
}

// CommandSpec is the resolved configuration of a command-backed engine.
type CommandSpec struct {
	Descriptor Descriptor
	Kind       Kind
	Command    []string
	FixArgs    []string
	Files      []string
	Pattern    string
	CacheEnv   string
	Dir        string
}

// CommandEngine runs an external tool and parses its output into issues.
type CommandEngine struct {
	spec     CommandSpec
	exec     CommandExecutor
	parser   *issueParser
	filters  []glob.Glob
	listArgs []string
	pkgMode  bool
	maxIssue int
	// fixReportsRemaining means the fix run prints what it could not fix.
	fixReportsRemaining bool
}

// NewCommandEngine builds an engine for one of the built-in kinds.
func NewCommandEngine(spec CommandSpec, options map[string]any, exec CommandExecutor) (*CommandEngine, error) {
	name := spec.Descriptor.Name
	if len(spec.Command) == 0 {
		return nil, &OptionsError{Engine: name, Cause: fmt.Errorf("command is required")}
	}

	e := &CommandEngine{spec: spec, exec: exec}

	var common CommonOptions
	switch spec.Kind {
	case KindFormatter:
		opts, err := decodeOptions[FormatterOptions](name, options)
		if err != nil {
			return nil, err
		}
		common = opts.CommonOptions
		e.listArgs = opts.ListArgs
	case KindTypechecker:
		opts, err := decodeOptions[TypecheckerOptions](name, options)
		if err != nil {
			return nil, err
		}
		common = opts.CommonOptions
		e.pkgMode = opts.PackageMode
		e.spec.Descriptor.Fixable = false
	case KindLinter:
		opts, err := decodeOptions[LinterOptions](name, options)
		if err != nil {
			return nil, err
		}
		common = opts.CommonOptions
		e.fixReportsRemaining = opts.FixReportsRemaining
	default:
		return nil, &UnknownEngineError{Engine: name, Kind: string(spec.Kind)}
	}

	if common.Dir != "" {
		e.spec.Dir = common.Dir
	}
	e.maxIssue = common.MaxIssues

	severity := ParseSeverity(common.DefaultSeverity, SeverityError)
	parser, err := newIssueParser(name, spec.Pattern, severity, e.spec.Dir)
	if err != nil {
		return nil, err
	}
	e.parser = parser

	for _, pattern := range spec.Files {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, &OptionsError{Engine: name, Cause: fmt.Errorf("file pattern %q: %w", pattern, err)}
		}
		e.filters = append(e.filters, g)
	}

	return e, nil
}

// Descriptor implements Engine.
func (e *CommandEngine) Descriptor() Descriptor {
	return e.spec.Descriptor
}

// Check implements Engine.
func (e *CommandEngine) Check(ctx context.Context, req Request) (*Result, error) {
	files := e.accept(req.Files)
	if len(files) == 0 {
		return &Result{Success: true}, nil
	}

	tool := e.spec.Command[0]
	if _, err := e.exec.LookPath(tool); err != nil {
		return nil, &ToolUnavailableError{Engine: e.spec.Descriptor.Name, Tool: tool, Cause: err}
	}

	fix := req.Fix && e.spec.Descriptor.Fixable
	switch e.spec.Kind {
	case KindFormatter:
		return e.checkFormatter(ctx, req, files, fix)
	case KindTypechecker:
		return e.checkIssues(ctx, req, e.targets(files))
	default:
		if fix {
			return e.fixLinter(ctx, req, files)
		}
		return e.checkIssues(ctx, req, files)
	}
}

// accept filters files through the engine's glob patterns.
func (e *CommandEngine) accept(files []string) []string {
	if len(e.filters) == 0 {
		return files
	}
	var out []string
	for _, f := range files {
		slashed := filepath.ToSlash(f)
		for _, g := range e.filters {
			if g.Match(slashed) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// targets converts files into ./dir package patterns in package mode.
func (e *CommandEngine) targets(files []string) []string {
	if !e.pkgMode {
		return files
	}
	seen := make(map[string]bool)
	var pkgs []string
	for _, f := range files {
		dir := path.Dir(filepath.ToSlash(f))
		pkg := "./" + dir
		if dir == "." {
			pkg = "."
		} else if strings.HasPrefix(dir, "/") {
			pkg = dir
		}
		if !seen[pkg] {
			seen[pkg] = true
			pkgs = append(pkgs, pkg)
		}
	}
	sort.Strings(pkgs)
	return pkgs
}

func (e *CommandEngine) run(ctx context.Context, req Request, args []string) (*executor.Result, error) {
	if req.Cancelled() {
		return nil, &CancelledError{Engine: e.spec.Descriptor.Name}
	}
	cmd := make([]string, 0, len(e.spec.Command)+len(args))
	cmd = append(cmd, e.spec.Command...)
	cmd = append(cmd, args...)
	return e.exec.Run(ctx, cmd, e.spec.Dir, e.env(req))
}

func (e *CommandEngine) env(req Request) []string {
	if e.spec.CacheEnv == "" || req.CacheDir == "" {
		return nil
	}
	return append(os.Environ(), e.spec.CacheEnv+"="+filepath.Join(req.CacheDir, e.spec.Descriptor.Name))
}

// lint runs the tool once and parses its issues. It also returns a
// warning when the output was cut short and issues may be missing.
func (e *CommandEngine) lint(ctx context.Context, req Request, args []string) ([]Issue, string, error) {
	res, err := e.run(ctx, req, args)
	if err != nil {
		return nil, "", err
	}
	issues := e.parser.Parse(res.Stdout + "\n" + res.Stderr)
	if res.ExitCode != 0 && len(issues) == 0 {
		return nil, "", e.execError(res)
	}
	return issues, e.truncation(res), nil
}

func (e *CommandEngine) checkIssues(ctx context.Context, req Request, args []string) (*Result, error) {
	issues, warning, err := e.lint(ctx, req, args)
	if err != nil {
		return nil, err
	}
	issues = e.limit(issues)
	return &Result{Success: !hasErrors(issues), Issues: issues, Warnings: warnings(warning)}, nil
}

func (e *CommandEngine) execError(res *executor.Result) *ExecutionError {
	return &ExecutionError{
		Engine:          e.spec.Descriptor.Name,
		ExitCode:        res.ExitCode,
		Stderr:          strings.TrimSpace(res.Stderr),
		StderrTruncated: res.StderrDropped > 0,
	}
}

func (e *CommandEngine) truncation(res *executor.Result) string {
	if !res.Truncated {
		return ""
	}
	return fmt.Sprintf("%s: tool output truncated, %d bytes dropped, results may be incomplete",
		e.spec.Descriptor.Name, res.StdoutDropped+res.StderrDropped)
}

// warnings collects the non-empty notes.
func warnings(notes ...string) []string {
	var out []string
	for _, n := range notes {
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// fixLinter checks, then applies fixes. Issues that disappeared are
// reported as resolved. The remaining issues come from the fix run itself
// when the tool prints them, otherwise from one more check.
func (e *CommandEngine) fixLinter(ctx context.Context, req Request, files []string) (*Result, error) {
	before, beforeNote, err := e.lint(ctx, req, files)
	if err != nil {
		return nil, err
	}
	if len(before) == 0 {
		return &Result{Success: true, Warnings: warnings(beforeNote)}, nil
	}

	fixArgs := append(append([]string{}, e.spec.FixArgs...), files...)
	after, afterNote, err := e.lint(ctx, req, fixArgs)
	if err != nil {
		return nil, err
	}
	if !e.fixReportsRemaining {
		if after, afterNote, err = e.lint(ctx, req, files); err != nil {
			return nil, err
		}
	}

	remaining := make(map[string]int, len(after))
	for _, is := range after {
		remaining[issueKey(is)]++
	}
	perFileBefore := make(map[string]int)
	perFileAfter := make(map[string]int)
	var resolved []Issue
	for _, is := range before {
		perFileBefore[is.File]++
		k := issueKey(is)
		if remaining[k] > 0 {
			remaining[k]--
			continue
		}
		is.Resolved = true
		resolved = append(resolved, is)
	}
	for _, is := range after {
		perFileAfter[is.File]++
	}

	fixed := len(before) - len(after)
	if fixed < 0 {
		fixed = 0
	}
	var modified []string
	for file, n := range perFileBefore {
		if file != "" && perFileAfter[file] < n {
			modified = append(modified, file)
		}
	}
	sort.Strings(modified)

	return &Result{
		Success:       !hasErrors(after),
		Issues:        append(e.limit(resolved), e.limit(after)...),
		FixedCount:    fixed,
		ModifiedFiles: modified,
		Warnings:      warnings(beforeNote, afterNote),
	}, nil
}

// checkFormatter lists unformatted files and, when fixing, rewrites them
// and lists again to see what remains.
func (e *CommandEngine) checkFormatter(ctx context.Context, req Request, files []string, fix bool) (*Result, error) {
	listed, listNote, err := e.list(ctx, req, files)
	if err != nil {
		return nil, err
	}
	if !fix || len(listed) == 0 {
		issues := e.limit(e.formatIssues(listed, false))
		return &Result{Success: !hasErrors(issues), Issues: issues, Warnings: warnings(listNote)}, nil
	}

	fixArgs := append(append([]string{}, e.spec.FixArgs...), listed...)
	res, err := e.run(ctx, req, fixArgs)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, e.execError(res)
	}

	remaining, remainingNote, err := e.list(ctx, req, listed)
	if err != nil {
		return nil, err
	}
	left := make(map[string]bool, len(remaining))
	for _, f := range remaining {
		left[f] = true
	}
	var fixed []string
	for _, f := range listed {
		if !left[f] {
			fixed = append(fixed, f)
		}
	}

	open := e.formatIssues(remaining, false)
	return &Result{
		Success:       !hasErrors(open),
		Issues:        append(e.limit(e.formatIssues(fixed, true)), e.limit(open)...),
		FixedCount:    len(fixed),
		ModifiedFiles: fixed,
		Warnings:      warnings(listNote, remainingNote),
	}, nil
}

func (e *CommandEngine) list(ctx context.Context, req Request, files []string) ([]string, string, error) {
	args := append(append([]string{}, e.listArgs...), files...)
	res, err := e.run(ctx, req, args)
	if err != nil {
		return nil, "", err
	}
	if res.ExitCode != 0 {
		return nil, "", e.execError(res)
	}
	paths := e.parser.parsePaths(res.Stdout)
	sort.Strings(paths)
	return paths, e.truncation(res), nil
}

func (e *CommandEngine) formatIssues(files []string, resolved bool) []Issue {
	issues := make([]Issue, 0, len(files))
	for _, f := range files {
		issues = append(issues, Issue{
			Engine:   e.spec.Descriptor.Name,
			Severity: e.parser.severity,
			File:     f,
			Message:  "file is not formatted",
			RuleID:   "format",
			Resolved: resolved,
		})
	}
	return issues
}

// limit caps one group of issues. Resolved and open issues are capped
// separately so resolved entries never crowd out what remains.
func (e *CommandEngine) limit(issues []Issue) []Issue {
	if e.maxIssue > 0 && len(issues) > e.maxIssue {
		return issues[:e.maxIssue]
	}
	return issues
}

func issueKey(is Issue) string {
	return is.File + "\x00" + is.RuleID + "\x00" + is.Message
}

func hasErrors(issues []Issue) bool {
	for _, is := range issues {
		if !is.Resolved && is.Severity == SeverityError {
			return true
		}
	}
	return false
}
