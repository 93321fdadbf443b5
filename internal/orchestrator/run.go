package orchestrator

import (
	"fmt"
	"sync"

	"github.com/Cyclone1070/qgate/internal/engine"
	"github.com/Cyclone1070/qgate/internal/report"
)

type slotState int

const (
	slotPending slotState = iota
	slotRunning
	slotDone
)

// slot holds one engine's outcome, indexed by registration order.
type slot struct {
	desc     engine.Descriptor
	state    slotState
	result   *engine.Result
	warnings []string
}

// run is the mutable state of one invocation. Once closed, late writes
// from engines that outlived the deadline are dropped.
type run struct {
	mu       sync.Mutex
	slots    []slot
	warnings []string
	closed   bool
	modified *ModifiedSet
	// captured and merged track fix-first progress so a run cut short
	// can still account for the files its finished fixers changed.
	captured bool
	merged   bool
}

func newRun(engines []engine.Engine) *run {
	r := &run{slots: make([]slot, len(engines)), modified: NewModifiedSet()}
	for i, e := range engines {
		r.slots[i].desc = e.Descriptor()
	}
	return r
}

// start marks slot i as running. It returns false once the run is closed.
func (r *run) start(i int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.slots[i].state = slotRunning
	return true
}

// finish records the result of slot i.
func (r *run) finish(i int, res *engine.Result, warnings ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.slots[i].state = slotDone
	r.slots[i].result = res
	r.slots[i].warnings = append(r.slots[i].warnings, warnings...)
}

// skip records slot i as done with no result.
func (r *run) skip(i int, warning string) {
	r.finish(i, nil, warning)
}

// warn records a run-level warning.
func (r *run) warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.warnings = append(r.warnings, msg)
}

func (r *run) markCaptured() {
	r.mu.Lock()
	r.captured = true
	r.mu.Unlock()
}

func (r *run) markMerged() {
	r.mu.Lock()
	r.merged = true
	r.mu.Unlock()
}

func (r *run) progress() (captured, merged bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.captured, r.merged
}

// selfReported returns the files fixable engines reported as modified.
func (r *run) selfReported() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var files []string
	for _, s := range r.slots {
		if s.result != nil && s.desc.Fixable {
			files = append(files, s.result.ModifiedFiles...)
		}
	}
	return files
}

// close seals the run. Engines still pending or running get one issue
// with ruleID explaining why they have no result.
func (r *run) close(ruleID, message string) ([]report.EngineOutcome, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true

	outcomes := make([]report.EngineOutcome, len(r.slots))
	for i, s := range r.slots {
		res := s.result
		if s.state != slotDone && ruleID != "" {
			res = &engine.Result{
				Success: false,
				Issues: []engine.Issue{{
					Engine:   s.desc.Name,
					Severity: engine.SeverityError,
					Message:  message,
					RuleID:   ruleID,
				}},
			}
		}
		outcomes[i] = report.EngineOutcome{Descriptor: s.desc, Result: res, Warnings: s.warnings}
	}
	return outcomes, append([]string(nil), r.warnings...)
}

func errorResult(name string, err error) *engine.Result {
	return &engine.Result{
		Success: false,
		Issues: []engine.Issue{{
			Engine:   name,
			Severity: engine.SeverityError,
			Message:  err.Error(),
			RuleID:   "engine-error",
		}},
	}
}

func skipWarning(name, reason string) string {
	return fmt.Sprintf("%s: skipped, %s", name, reason)
}
