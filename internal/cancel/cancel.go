// Package cancel provides a one-shot cooperative cancellation primitive.
//
// A Source owns the cancelled flag and the callback registry. Engines only
// ever see the read-only Token view: they poll IsCancellationRequested, select
// on Done, or register a callback to stop their own work.
package cancel

import (
	"context"
	"sync"
)

// Source controls a single Token. Once cancelled it stays cancelled;
// a fresh operation needs a fresh Source.
type Source struct {
	mu        sync.Mutex
	cancelled bool
	callbacks []func()
	done      chan struct{}
	token     *Token
}

// Token is the read-only view of a Source handed to operations.
type Token struct {
	src *Source
}

// NewSource creates an un-cancelled Source with its linked Token.
func NewSource() *Source {
	s := &Source{done: make(chan struct{})}
	s.token = &Token{src: s}
	return s
}

// Token returns the Token linked to this Source.
func (s *Source) Token() *Token {
	return s.token
}

// Cancel sets the flag and fires every registered callback once, in
// registration order. Later calls are no-ops. A panicking callback does not
// prevent the remaining callbacks from running.
func (s *Source) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	callbacks := s.callbacks
	s.callbacks = nil
	close(s.done)
	s.mu.Unlock()

	for _, cb := range callbacks {
		invoke(cb)
	}
}

// LinkContext returns a context derived from parent that is cancelled when
// the Source is cancelled. The returned stop function releases the link.
func (s *Source) LinkContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	s.token.OnCancellationRequested(cancel)
	return ctx, cancel
}

// IsCancellationRequested reports whether the owning Source was cancelled.
func (t *Token) IsCancellationRequested() bool {
	t.src.mu.Lock()
	defer t.src.mu.Unlock()
	return t.src.cancelled
}

// Done returns a channel closed on cancellation.
func (t *Token) Done() <-chan struct{} {
	return t.src.done
}

// OnCancellationRequested registers cb to run on cancellation. If the Source
// is already cancelled, cb runs synchronously before this call returns.
func (t *Token) OnCancellationRequested(cb func()) {
	if cb == nil {
		return
	}
	t.src.mu.Lock()
	if t.src.cancelled {
		t.src.mu.Unlock()
		invoke(cb)
		return
	}
	t.src.callbacks = append(t.src.callbacks, cb)
	t.src.mu.Unlock()
}

func invoke(cb func()) {
	defer func() {
		_ = recover()
	}()
	cb()
}

// None returns a Token that is never cancelled.
func None() *Token {
	return NewSource().Token()
}
