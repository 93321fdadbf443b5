// Package deadline races operations against a time budget.
package deadline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Cyclone1070/qgate/internal/cancel"
	"github.com/google/uuid"
)

// Operation is a unit of work raced against a deadline. It should stop
// promptly once ctx is done or tok is cancelled.
type Operation func(ctx context.Context, tok *cancel.Token) error

// timedOperation tracks the resources of one in-flight Run/RunAll call.
type timedOperation struct {
	name   string
	budget time.Duration
	timer  *time.Timer
	source *cancel.Source
	stop   context.CancelFunc
}

// Runner races operations against timers. It is safe for concurrent use.
type Runner struct {
	mu      sync.Mutex
	pending map[string]*timedOperation
	newID   func() string
}

// NewRunner creates a Runner.
func NewRunner() *Runner {
	return &Runner{
		pending: make(map[string]*timedOperation),
		newID:   uuid.NewString,
	}
}

// Run races op against budget. See RunAll.
func (r *Runner) Run(ctx context.Context, name string, budget time.Duration, op Operation) error {
	return r.RunAll(ctx, name, budget, op)
}

// RunAll races the conjunction of ops against budget. All ops share one
// token and one timer. The first failing op fails the group; the timer
// firing cancels the token and returns a *TimeoutError. Ops still running
// when RunAll returns keep running in the background until they observe
// the cancellation. A budget <= 0 disables the timer.
func (r *Runner) RunAll(ctx context.Context, name string, budget time.Duration, ops ...Operation) error {
	id, op, opCtx := r.begin(ctx, name, budget)
	defer r.cleanup(id)

	if len(ops) == 0 {
		return nil
	}

	results := make(chan error, len(ops))
	for _, fn := range ops {
		go func(fn Operation) {
			results <- safeCall(opCtx, op.source.Token(), fn)
		}(fn)
	}

	var timeout <-chan time.Time
	if op.timer != nil {
		timeout = op.timer.C
	}

	remaining := len(ops)
	for remaining > 0 {
		select {
		case err := <-results:
			remaining--
			if err != nil {
				return err
			}
		case <-timeout:
			op.source.Cancel()
			return &TimeoutError{Name: name, Budget: budget}
		case <-ctx.Done():
			op.source.Cancel()
			return ctx.Err()
		}
	}
	return nil
}

// Pending reports the number of operations that have not been cleaned up.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Runner) begin(ctx context.Context, name string, budget time.Duration) (string, *timedOperation, context.Context) {
	src := cancel.NewSource()
	opCtx, stop := src.LinkContext(ctx)

	op := &timedOperation{
		name:   name,
		budget: budget,
		source: src,
		stop:   stop,
	}
	if budget > 0 {
		op.timer = time.NewTimer(budget)
	}

	id := r.newID()
	r.mu.Lock()
	r.pending[id] = op
	r.mu.Unlock()

	return id, op, opCtx
}

// cleanup stops the timer and cancels the source. Unknown ids are ignored,
// so calling it twice is harmless.
func (r *Runner) cleanup(id string) {
	r.mu.Lock()
	op, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	if op.timer != nil {
		op.timer.Stop()
	}
	op.source.Cancel()
	op.stop()
}

func safeCall(ctx context.Context, tok *cancel.Token, fn Operation) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("operation panicked: %v", p)
		}
	}()
	return fn(ctx, tok)
}
