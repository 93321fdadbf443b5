package engine

import (
	"bufio"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPattern matches "file:line[:col]: message [(rule)]" lines as
// printed by go vet, golangci-lint and most compilers.
const DefaultPattern = `^(?P<file>[^:\s][^:]*):(?P<line>\d+)(?::(?P<col>\d+))?:\s*(?P<message>.+?)(?:\s+\((?P<rule>[\w./-]+)\))?$`

var defaultPattern = regexp.MustCompile(DefaultPattern)

// issueParser turns tool output into issues.
type issueParser struct {
	engine   string
	pattern  *regexp.Regexp
	severity Severity
	dir      string
}

func newIssueParser(engine, pattern string, severity Severity, dir string) (*issueParser, error) {
	re := defaultPattern
	if pattern != "" {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, &OptionsError{Engine: engine, Cause: err}
		}
	}
	return &issueParser{engine: engine, pattern: re, severity: severity, dir: dir}, nil
}

// Parse returns one issue per matching line, in output order.
func (p *issueParser) Parse(output string) []Issue {
	var issues []Issue
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		m := p.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		issue := Issue{Engine: p.engine, Severity: p.severity}
		for i, name := range p.pattern.SubexpNames() {
			if i == 0 || name == "" || m[i] == "" {
				continue
			}
			switch name {
			case "file":
				issue.File = p.normalize(m[i])
			case "line":
				issue.Line, _ = strconv.Atoi(m[i])
			case "col":
				issue.Col, _ = strconv.Atoi(m[i])
			case "message":
				issue.Message = strings.TrimSpace(m[i])
			case "rule":
				issue.RuleID = m[i]
			case "severity":
				issue.Severity = ParseSeverity(strings.ToLower(m[i]), p.severity)
			}
		}
		if issue.Message == "" {
			issue.Message = line
		}
		issues = append(issues, issue)
	}
	return issues
}

// normalize makes a reported path relative to the engine's working
// directory so it can be matched against the request's files.
func (p *issueParser) normalize(path string) string {
	path = strings.TrimPrefix(path, "./")
	if filepath.IsAbs(path) && p.dir != "" {
		if rel, err := filepath.Rel(p.dir, path); err == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}
	}
	return filepath.ToSlash(filepath.Clean(path))
}

// parsePaths returns the non-empty lines of output as normalized paths.
func (p *issueParser) parsePaths(output string) []string {
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		paths = append(paths, p.normalize(line))
	}
	return paths
}
