package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/Cyclone1070/qgate/internal/config"
	"github.com/Cyclone1070/qgate/internal/engine"
	"github.com/Cyclone1070/qgate/internal/executor"
	"github.com/Cyclone1070/qgate/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockCommandExecutor records invocations and delegates to RunFunc.
type MockCommandExecutor struct {
	mu           sync.Mutex
	Calls        [][]string
	RunFunc      func(ctx context.Context, cmd []string, dir string, env []string) (*executor.Result, error)
	LookPathFunc func(name string) (string, error)
}

func (m *MockCommandExecutor) Run(ctx context.Context, cmd []string, dir string, env []string) (*executor.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, cmd)
	m.mu.Unlock()
	if m.RunFunc != nil {
		return m.RunFunc(ctx, cmd, dir, env)
	}
	return &executor.Result{}, nil
}

func (m *MockCommandExecutor) LookPath(name string) (string, error) {
	if m.LookPathFunc != nil {
		return m.LookPathFunc(name)
	}
	return "/usr/bin/" + name, nil
}

type testEnv struct {
	root   string
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	exec   *MockCommandExecutor
	deps   Dependencies
}

func newTestEnv(t *testing.T, configYAML string) *testEnv {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n"), 0o644))
	if configYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(root, ".qgate.yaml"), []byte(configYAML), 0o644))
	}

	env := &testEnv{
		root:   root,
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		exec:   &MockCommandExecutor{},
	}
	env.deps = Dependencies{
		Stdout: env.stdout,
		Stderr: env.stderr,
		LoadConfig: func(path string) (*config.Config, error) {
			if path == "" {
				path = filepath.Join(root, ".qgate.yaml")
			}
			return config.Load(path)
		},
		NewExecutor: func(cfg *config.Config, root string) engine.CommandExecutor { return env.exec },
		Getwd:       func() (string, error) { return root, nil },
	}
	return env
}

func (e *testEnv) run(args ...string) int {
	return run(context.Background(), args, e.deps)
}

func (e *testEnv) result(t *testing.T) report.Result {
	t.Helper()
	var res report.Result
	require.NoError(t, json.Unmarshal(e.stdout.Bytes(), &res), e.stdout.String())
	return res
}

const lintConfig = `
engines:
  - name: mylint
    kind: linter
    command: [mylint]
    files: ["**.go"]
`

func TestCheck_ReportsIssues(t *testing.T) {
	env := newTestEnv(t, lintConfig)
	env.exec.RunFunc = func(ctx context.Context, cmd []string, dir string, _ []string) (*executor.Result, error) {
		return &executor.Result{Stdout: "a.go:3:1: unused variable (unused)\n", ExitCode: 1}, nil
	}

	code := env.run("check", "--format", "json")

	assert.Equal(t, report.ExitIssues, code)
	res := env.result(t)
	assert.False(t, res.Success)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "mylint", res.Issues[0].Engine)
	assert.Equal(t, "a.go", res.Issues[0].File)
	assert.Equal(t, "unused", res.Issues[0].RuleID)
	assert.NotEmpty(t, res.CorrelationID)

	require.Len(t, env.exec.Calls, 1)
	assert.Equal(t, []string{"mylint", "a.go"}, env.exec.Calls[0])
}

func TestCheck_Clean(t *testing.T) {
	env := newTestEnv(t, lintConfig)

	code := env.run("check", "--format", "yaml")

	assert.Equal(t, report.ExitClean, code)
	assert.Contains(t, env.stdout.String(), "success: true")
}

func TestCheck_ToolMissingIsSkipped(t *testing.T) {
	env := newTestEnv(t, lintConfig)
	env.exec.LookPathFunc = func(name string) (string, error) {
		return "", errors.New("executable file not found in $PATH")
	}

	code := env.run("check", "-f", "json")

	assert.Equal(t, report.ExitClean, code)
	res := env.result(t)
	assert.True(t, res.Success)
	assert.Empty(t, res.Issues)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "mylint: skipped")
	assert.Empty(t, env.exec.Calls)
}

func TestCheck_InvalidConfigIsWholeCallFailure(t *testing.T) {
	env := newTestEnv(t, "run:\n  timeout_ms: -5\n")

	code := env.run("check", "--format", "json")

	assert.Equal(t, report.ExitFailure, code)
	res := env.result(t)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "configuration", res.Issues[0].RuleID)
}

func TestCheck_MissingPathIsWholeCallFailure(t *testing.T) {
	env := newTestEnv(t, lintConfig)

	code := env.run("check", "--format", "json", "missing.go")

	assert.Equal(t, report.ExitFailure, code)
	assert.NotEmpty(t, env.result(t).Error)
}

func TestCheck_UnknownFormat(t *testing.T) {
	env := newTestEnv(t, lintConfig)

	code := env.run("check", "--format", "xml")

	assert.Equal(t, report.ExitFailure, code)
	assert.Contains(t, env.stderr.String(), "unknown report format")
}

func TestFix_AppliesFixesFirst(t *testing.T) {
	env := newTestEnv(t, `
engines:
  - name: myfmt
    kind: formatter
    command: [myfmt]
    fix_args: ["-w"]
    files: ["**.go"]
    options:
      list_args: ["-l"]
`)
	var mu sync.Mutex
	formatted := false
	env.exec.RunFunc = func(ctx context.Context, cmd []string, dir string, _ []string) (*executor.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		if slices.Contains(cmd, "-w") {
			formatted = true
			return &executor.Result{}, os.WriteFile(filepath.Join(env.root, "a.go"), []byte("package a\n\n"), 0o644)
		}
		if formatted {
			return &executor.Result{}, nil
		}
		return &executor.Result{Stdout: "a.go\n"}, nil
	}

	code := env.run("fix", "--format", "json", "--timeout", "10s")

	assert.Equal(t, report.ExitClean, code)
	res := env.result(t)
	assert.True(t, res.Success)
	assert.Empty(t, res.Issues)
	assert.Equal(t, []string{"a.go"}, res.ModifiedFiles)
	require.Len(t, res.FixesApplied, 1)
	assert.Equal(t, "myfmt", res.FixesApplied[0].Engine)
	assert.Equal(t, 1, res.FixesApplied[0].FixedCount)
}

func TestCheck_FormatterWithoutFixFails(t *testing.T) {
	env := newTestEnv(t, `
engines:
  - name: myfmt
    kind: formatter
    command: [myfmt]
    options:
      list_args: ["-l"]
`)
	env.exec.RunFunc = func(ctx context.Context, cmd []string, dir string, _ []string) (*executor.Result, error) {
		return &executor.Result{Stdout: "a.go\n"}, nil
	}

	code := env.run("check", "--format", "text", "--no-color")

	assert.Equal(t, report.ExitIssues, code)
	assert.Contains(t, env.stdout.String(), "a.go")
	data, err := os.ReadFile(filepath.Join(env.root, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(data))
}

func TestEngines_ListsAvailability(t *testing.T) {
	env := newTestEnv(t, "")
	env.deps.LoadConfig = func(string) (*config.Config, error) { return config.DefaultConfig(), nil }
	env.exec.LookPathFunc = func(name string) (string, error) {
		if name == "golangci-lint" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	}

	code := env.run("engines")

	assert.Equal(t, report.ExitClean, code)
	out := env.stdout.String()
	assert.Regexp(t, `gofmt\s+formatter\s+available\s+fixable`, out)
	assert.Regexp(t, `golangci-lint\s+linter\s+not installed\s+fixable`, out)
	assert.Regexp(t, `go-vet\s+typechecker\s+available\s+critical`, out)
}

func TestUnknownCommand(t *testing.T) {
	env := newTestEnv(t, "")

	code := env.run("lint")

	assert.Equal(t, report.ExitFailure, code)
	assert.Contains(t, env.stderr.String(), "unknown command")
}

func TestRootedExecutor(t *testing.T) {
	root := t.TempDir()
	r := &rootedExecutor{OSCommandExecutor: executor.NewOSCommandExecutor(executor.Options{}), root: root}
	if _, err := r.LookPath("pwd"); err != nil {
		t.Skip("pwd not available")
	}

	res, err := r.Run(context.Background(), []string{"pwd"}, "", nil)
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(filepath.Clean(trimNewline(res.Stdout)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
