// Package main provides the qgate command-line interface. It runs the
// configured linters, formatters and type checkers over a project, fixing
// first when asked, and reports one aggregated result.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], newDependencies())
	stop()
	os.Exit(code)
}
