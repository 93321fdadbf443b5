// Package executor runs external tool processes on behalf of engines.
package executor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// Result represents the outcome of a command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Truncated is set when either stream exceeded MaxOutputBytes.
	Truncated bool
	// StdoutDropped and StderrDropped count the bytes lost per stream.
	StdoutDropped int
	StderrDropped int
	Duration      time.Duration
}

// Options bounds output capture and shutdown.
type Options struct {
	MaxOutputBytes   int
	GracefulShutdown time.Duration
}

// OSCommandExecutor implements command execution using os/exec.
type OSCommandExecutor struct {
	opts     Options
	lookPath func(file string) (string, error)
}

// NewOSCommandExecutor creates a new OSCommandExecutor.
func NewOSCommandExecutor(opts Options) *OSCommandExecutor {
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 10 * 1024 * 1024
	}
	if opts.GracefulShutdown <= 0 {
		opts.GracefulShutdown = 2 * time.Second
	}
	return &OSCommandExecutor{opts: opts, lookPath: exec.LookPath}
}

// LookPath resolves an executable name.
func (f *OSCommandExecutor) LookPath(name string) (string, error) {
	path, err := f.lookPath(name)
	if err != nil {
		return "", &CommandError{Cmd: name, Cause: err, Stage: "lookup"}
	}
	return path, nil
}

// Run executes a command and returns its buffered output. A non-zero exit
// is not an error: callers inspect ExitCode. When ctx ends the process is
// interrupted, then killed after the graceful shutdown window, and
// ErrInterrupted is returned along with whatever output was collected.
func (f *OSCommandExecutor) Run(ctx context.Context, command []string, dir string, env []string) (*Result, error) {
	if len(command) == 0 {
		return nil, os.ErrInvalid
	}
	bin, err := f.LookPath(command[0])
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stdout := newCapture(f.opts.MaxOutputBytes)
	stderr := newCapture(f.opts.MaxOutputBytes)

	cmd := exec.Command(bin, command[1:]...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}
	cmd.Stdin = nil
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Children that inherit the pipes must not hold Wait open forever.
	cmd.WaitDelay = f.opts.GracefulShutdown

	if err := cmd.Start(); err != nil {
		return nil, &CommandError{Cmd: command[0], Cause: err, Stage: "start"}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var execErr error
	select {
	case execErr = <-done:
	case <-ctx.Done():
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case <-done:
		case <-time.After(f.opts.GracefulShutdown):
			_ = cmd.Process.Kill()
			<-done
		}
		execErr = ErrInterrupted
	}

	res := &Result{
		Stdout:        stdout.Text(),
		Stderr:        stderr.Text(),
		Truncated:     stdout.Dropped() > 0 || stderr.Dropped() > 0,
		StdoutDropped: stdout.Dropped(),
		StderrDropped: stderr.Dropped(),
		Duration:      time.Since(start),
	}

	if errors.Is(execErr, ErrInterrupted) {
		res.ExitCode = -1
		return res, execErr
	}
	if errors.Is(execErr, exec.ErrWaitDelay) {
		res.ExitCode = cmd.ProcessState.ExitCode()
		return res, nil
	}
	if execErr != nil {
		res.ExitCode = exitCode(execErr)
		if res.ExitCode == -1 {
			return res, execErr
		}
	}
	return res, nil
}

func exitCode(err error) int {
	type exitCoder interface {
		ExitCode() int
	}
	var ec exitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return -1
}
