package executor

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
	exec := NewOSCommandExecutor(Options{GracefulShutdown: 100 * time.Millisecond})

	t.Run("SimpleCommand", func(t *testing.T) {
		res, err := exec.Run(context.Background(), []string{"echo", "hello"}, "", nil)
		require.NoError(t, err)
		assert.Equal(t, "hello", strings.TrimSpace(res.Stdout))
		assert.Equal(t, 0, res.ExitCode)
	})

	t.Run("EmptyCommand", func(t *testing.T) {
		_, err := exec.Run(context.Background(), []string{}, "", nil)
		assert.Equal(t, os.ErrInvalid, err)
	})

	t.Run("NonZeroExitIsNotAnError", func(t *testing.T) {
		res, err := exec.Run(context.Background(), []string{"sh", "-c", "exit 3"}, "", nil)
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
	})

	t.Run("Stderr", func(t *testing.T) {
		res, err := exec.Run(context.Background(), []string{"sh", "-c", "echo error >&2"}, "", nil)
		require.NoError(t, err)
		assert.Equal(t, "error", strings.TrimSpace(res.Stderr))
	})

	t.Run("MissingExecutable", func(t *testing.T) {
		_, err := exec.Run(context.Background(), []string{"qgate-definitely-not-installed"}, "", nil)

		var cmdErr *CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.True(t, cmdErr.NotFound())
	})

	t.Run("LargeOutputTruncated", func(t *testing.T) {
		small := NewOSCommandExecutor(Options{MaxOutputBytes: 10})
		res, err := small.Run(context.Background(), []string{"echo", "123456789012345"}, "", nil)
		require.NoError(t, err)
		assert.True(t, res.Truncated)
		assert.Empty(t, res.Stdout)
		assert.Equal(t, 6, res.StdoutDropped)
		assert.Zero(t, res.StderrDropped)
	})
}

func TestRun_ContextCancelInterruptsProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell required")
	}
	exec := NewOSCommandExecutor(Options{GracefulShutdown: 100 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := exec.Run(ctx, []string{"sh", "-c", "echo starting; exec sleep 10"}, "", nil)

	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, "starting", strings.TrimSpace(res.Stdout))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCapture(t *testing.T) {
	t.Run("UnderLimit", func(t *testing.T) {
		c := newCapture(10)
		n, err := c.Write([]byte("abc"))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, "abc", c.Text())
		assert.Zero(t, c.Dropped())
	})

	t.Run("OverLimitEndsOnCompleteLine", func(t *testing.T) {
		c := newCapture(12)
		n, _ := c.Write([]byte("a.go:1: x\nb.go:2: y\n"))
		assert.Equal(t, 20, n)
		assert.Equal(t, "a.go:1: x\n", c.Text())
		assert.Equal(t, 8, c.Dropped())
	})

	t.Run("CutAtLineBoundaryKeepsLastLine", func(t *testing.T) {
		c := newCapture(4)
		_, _ = c.Write([]byte("abcd"))
		_, _ = c.Write([]byte("\nefg\n"))
		assert.Equal(t, "abcd", c.Text())
		assert.Equal(t, 5, c.Dropped())
	})

	t.Run("SingleLongLineKeepsNothing", func(t *testing.T) {
		c := newCapture(3)
		_, _ = c.Write([]byte("abcdef"))
		assert.Empty(t, c.Text())
		assert.Equal(t, 3, c.Dropped())
	})
}
