package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		entries = append(entries, m)
	}
	return entries
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{LevelDebug, 4},
		{LevelInfo, 3},
		{LevelWarn, 2},
		{LevelError, 1},
		{"bogus", 2},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(&buf, tt.level, FormatJSON)
			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")
			assert.Len(t, decodeLines(t, &buf), tt.want)
		})
	}
}

func TestLogger_ChildAttributes(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, LevelInfo, FormatJSON)

	child := root.WithCorrelation("run-1").WithPhase("fix").WithEngine("gofmt").With("files", 3, 42, "dropped")
	child.Info("engine finished", "fixed", 2)
	root.Info("root entry")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "run-1", entries[0]["correlation_id"])
	assert.Equal(t, "fix", entries[0]["phase"])
	assert.Equal(t, "gofmt", entries[0]["engine"])
	assert.EqualValues(t, 3, entries[0]["files"])
	assert.EqualValues(t, 2, entries[0]["fixed"])
	assert.NotContains(t, entries[1], "engine", "parent must not inherit child attributes")
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, LevelWarn, FormatText).WithEngine("vet").Warn("skipped")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "engine=vet")
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "qgate.log")

	l, err := NewLogger(path, LevelInfo, FormatJSON)
	require.NoError(t, err)
	l.WithEngine("x").Info("hello")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestNewNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Error("discarded")
	assert.NoError(t, l.Close())
}
