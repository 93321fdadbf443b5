// Package batch splits file lists into resource-sized batches and runs them
// with cancellation checks and backpressure.
package batch

import (
	"context"
	"time"

	"github.com/Cyclone1070/qgate/internal/cancel"
)

// Worker processes one batch of files.
type Worker func(ctx context.Context, files []string) error

// gauge is the subset of resource.Gauge the scheduler depends on.
type gauge interface {
	AdaptiveBatchSize(defaultSize, minSize int) int
	IsUnderPressure() bool
	ShouldSkipNonCritical() bool
}

// Options configures a Scheduler.
type Options struct {
	DefaultSize int
	MinSize     int
	// ContinueOnTimeout keeps iterating after a failed batch instead of
	// skipping the remainder.
	ContinueOnTimeout bool
	// Backpressure enables the delay after a batch that ran under pressure.
	Backpressure bool
	Backoff      time.Duration
}

// BatchError records a failed batch.
type BatchError struct {
	Index int
	Files []string
	Err   error
}

// Outcome summarises a ProcessBatches run. Every input file ends up in
// exactly one of Processed, Skipped, or a BatchError.
type Outcome struct {
	Processed []string
	Skipped   []string
	Errors    []BatchError
	Batches   int
}

// PriorityOutcome is the result of ProcessWithPriority.
type PriorityOutcome struct {
	Critical           Outcome
	NonCritical        Outcome
	NonCriticalSkipped bool
}

// Scheduler drives a Worker over batches sized by a resource gauge.
type Scheduler struct {
	gauge gauge
	opts  Options
	sleep func(ctx context.Context, d time.Duration)
}

// NewScheduler creates a Scheduler. A nil gauge disables adaptive sizing.
func NewScheduler(g gauge, opts Options) *Scheduler {
	if opts.DefaultSize <= 0 {
		opts.DefaultSize = 50
	}
	if opts.MinSize <= 0 {
		opts.MinSize = 1
	}
	return &Scheduler{gauge: g, opts: opts, sleep: sleepContext}
}

// SplitIntoBatches chunks files into contiguous batches of size, preserving
// order. The last batch may be shorter. A size <= 0 yields a single batch.
func SplitIntoBatches(files []string, size int) [][]string {
	if len(files) == 0 {
		return nil
	}
	if size <= 0 || size >= len(files) {
		return [][]string{files}
	}
	batches := make([][]string, 0, (len(files)+size-1)/size)
	for start := 0; start < len(files); start += size {
		end := min(start+size, len(files))
		batches = append(batches, files[start:end])
	}
	return batches
}

// ProcessBatches runs worker over files. The batch size is recomputed from
// the gauge before every batch. Cancellation is checked before each batch;
// once requested the remaining files are marked skipped.
func (s *Scheduler) ProcessBatches(ctx context.Context, files []string, worker Worker, tok *cancel.Token) Outcome {
	var out Outcome
	pos := 0

	for pos < len(files) {
		if cancelled(ctx, tok) {
			out.Skipped = append(out.Skipped, files[pos:]...)
			return out
		}

		size := s.batchSize()
		end := min(pos+size, len(files))
		current := files[pos:end]
		index := out.Batches
		out.Batches++
		pos = end

		if err := worker(ctx, current); err != nil {
			out.Errors = append(out.Errors, BatchError{Index: index, Files: current, Err: err})
			if !s.opts.ContinueOnTimeout {
				out.Skipped = append(out.Skipped, files[pos:]...)
				return out
			}
		} else {
			out.Processed = append(out.Processed, current...)
		}

		if pos < len(files) && s.opts.Backpressure && s.gauge != nil && s.gauge.IsUnderPressure() {
			s.sleep(ctx, s.opts.Backoff)
		}
	}
	return out
}

// ProcessWithPriority always processes critical first. Non-critical files
// are processed only if cancellation has not fired and the gauge does not
// ask to drop optional work; otherwise they are all marked skipped.
func (s *Scheduler) ProcessWithPriority(ctx context.Context, critical, nonCritical []string, worker Worker, tok *cancel.Token) PriorityOutcome {
	var out PriorityOutcome
	out.Critical = s.ProcessBatches(ctx, critical, worker, tok)

	if len(nonCritical) == 0 {
		return out
	}
	if cancelled(ctx, tok) || (s.gauge != nil && s.gauge.ShouldSkipNonCritical()) {
		out.NonCriticalSkipped = true
		out.NonCritical.Skipped = append([]string(nil), nonCritical...)
		return out
	}
	out.NonCritical = s.ProcessBatches(ctx, nonCritical, worker, tok)
	return out
}

func (s *Scheduler) batchSize() int {
	if s.gauge == nil {
		return s.opts.DefaultSize
	}
	size := s.gauge.AdaptiveBatchSize(s.opts.DefaultSize, s.opts.MinSize)
	if size <= 0 {
		return s.opts.MinSize
	}
	return size
}

func cancelled(ctx context.Context, tok *cancel.Token) bool {
	if ctx.Err() != nil {
		return true
	}
	return tok != nil && tok.IsCancellationRequested()
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
