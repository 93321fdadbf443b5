// Package orchestrator runs quality engines under one deadline, applies
// fixes first when asked, and aggregates everything into one report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Cyclone1070/qgate/internal/batch"
	"github.com/Cyclone1070/qgate/internal/cancel"
	"github.com/Cyclone1070/qgate/internal/deadline"
	"github.com/Cyclone1070/qgate/internal/engine"
	"github.com/Cyclone1070/qgate/internal/logging"
	"github.com/Cyclone1070/qgate/internal/report"
	"github.com/Cyclone1070/qgate/internal/vcs"
	"github.com/google/uuid"
)

// Stager writes files to the VCS index in one call.
type Stager interface {
	StageFiles(ctx context.Context, paths []string) (*vcs.StageResult, error)
}

// gauge is the subset of resource.Gauge the orchestrator depends on.
type gauge interface {
	ShouldSkipNonCritical() bool
	AdaptiveBatchSize(defaultSize, minSize int) int
	IsUnderPressure() bool
}

// snapshotStore records checksums before fixes and reports what changed.
type snapshotStore interface {
	Clear()
	Capture(ctx context.Context, root string, files []string) error
	Changed(ctx context.Context, root string) ([]string, error)
	UnifiedDiff(root, file string, context int) (string, error)
}

// Request is one invocation.
type Request struct {
	Files     []string
	FixFirst  bool
	AutoStage bool
	Timeout   time.Duration
}

// Options configure an Orchestrator.
type Options struct {
	// Root is the directory files are relative to.
	Root     string
	CacheDir string
	// BatchThreshold is the file count above which non-fixing engines are
	// driven through the batch scheduler; 0 disables batching.
	BatchThreshold int
	Batch          batch.Options
	DemoteWarnings bool
	// Diffs attaches unified diffs of modified files to fix-first results.
	Diffs        bool
	MaxDiffBytes int
}

// Dependencies holds the collaborators of an Orchestrator.
type Dependencies struct {
	Runner *deadline.Runner
	Gauge  gauge
	Store  snapshotStore
	// Stager may be nil when auto-staging is never requested.
	Stager Stager
	Logger *logging.Logger
}

// Orchestrator coordinates engines for check and fix-first runs.
type Orchestrator struct {
	engines   []engine.Engine
	runner    *deadline.Runner
	gauge     gauge
	scheduler *batch.Scheduler
	store     snapshotStore
	stager    Stager
	logger    *logging.Logger
	opts      Options
	newID     func() string
	now       func() time.Time
}

// New creates an Orchestrator for engines, kept in registration order.
func New(engines []engine.Engine, deps Dependencies, opts Options) *Orchestrator {
	runner := deps.Runner
	if runner == nil {
		runner = deadline.NewRunner()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	o := &Orchestrator{
		engines: engines,
		runner:  runner,
		gauge:   deps.Gauge,
		store:   deps.Store,
		stager:  deps.Stager,
		logger:  logger,
		opts:    opts,
		newID:   uuid.NewString,
		now:     time.Now,
	}
	o.scheduler = batch.NewScheduler(deps.Gauge, opts.Batch)
	return o
}

// Engines returns the registered engines' descriptors in order.
func (o *Orchestrator) Engines() []engine.Descriptor {
	out := make([]engine.Descriptor, len(o.engines))
	for i, e := range o.engines {
		out[i] = e.Descriptor()
	}
	return out
}

func (o *Orchestrator) validate(req Request) error {
	if len(o.engines) == 0 {
		return &ConfigurationError{Reason: "no engines configured"}
	}
	if req.Timeout <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("timeout must be positive, got %v", req.Timeout)}
	}
	if req.FixFirst && o.store == nil {
		return &ConfigurationError{Reason: "fix-first requires a snapshot store"}
	}
	if req.AutoStage && req.FixFirst && o.stager == nil {
		return &ConfigurationError{Reason: "auto-stage requires a stager"}
	}
	return nil
}

// Check runs one invocation and always returns a result. Engine failures
// become issues or warnings; only an invalid request produces a whole-call
// failure result.
func (o *Orchestrator) Check(ctx context.Context, req Request) *report.Result {
	start := o.now()
	id := o.newID()
	log := o.logger.WithCorrelation(id)

	if err := o.validate(req); err != nil {
		log.Error("invalid request", "error", err)
		return report.FromError(err, id, o.now().Sub(start))
	}
	if o.store != nil {
		o.store.Clear()
	}

	r := newRun(o.engines)
	log.Info("run started", "engines", len(o.engines), "files", len(req.Files), "fix_first", req.FixFirst)

	var err error
	if req.FixFirst {
		err = o.runner.Run(ctx, "fix-first", req.Timeout, func(ctx context.Context, tok *cancel.Token) error {
			o.fixFirst(ctx, tok, r, req, log)
			return nil
		})
	} else {
		ops := make([]deadline.Operation, len(o.engines))
		for i := range o.engines {
			ops[i] = func(ctx context.Context, tok *cancel.Token) error {
				o.runEngine(ctx, tok, r, i, req.Files, false, log)
				return nil
			}
		}
		err = o.runner.RunAll(ctx, "check", req.Timeout, ops...)
	}

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	ruleID, message := "", ""
	var timeoutErr *deadline.TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		ruleID, message = "timeout", fmt.Sprintf("did not finish within %dms", timeoutErr.Budget.Milliseconds())
		log.Warn("deadline exceeded", "budget_ms", timeoutErr.Budget.Milliseconds())
	case err != nil:
		ruleID, message = "cancelled", fmt.Sprintf("run cancelled: %v", err)
		log.Warn("run cancelled", "error", err)
	}
	outcomes, warnings := r.close(ruleID, message)
	if req.FixFirst && err != nil {
		o.salvageModified(ctx, r, log.WithPhase("merge"))
	}

	res := report.Aggregate(outcomes, report.Options{
		Duration:       o.now().Sub(start),
		CorrelationID:  id,
		FixFirst:       req.FixFirst,
		DemoteWarnings: o.opts.DemoteWarnings,
		ModifiedFiles:  r.modified.Sorted(),
		RunWarnings:    warnings,
	})
	if req.FixFirst && o.opts.Diffs {
		res.Diffs = o.diffs(res.ModifiedFiles, log)
	}

	log.Info("run finished", "success", res.Success, "issues", len(res.Issues), "duration_ms", res.DurationMs)
	return res
}

// fixFirst runs the fix phase, merges modified files, stages them, then
// runs the check-only engines. All fixable engines settle before any
// check-only engine starts.
func (o *Orchestrator) fixFirst(ctx context.Context, tok *cancel.Token, r *run, req Request, log *logging.Logger) {
	plog := log.WithPhase("snapshot")
	snapshotOK := true
	if err := o.store.Capture(ctx, o.opts.Root, req.Files); err != nil {
		snapshotOK = false
		plog.Warn("snapshot failed, relying on self-reported changes", "error", err)
		r.warn(fmt.Sprintf("snapshot failed: %v", err))
	} else {
		r.markCaptured()
	}

	fixable, checkOnly := o.partition()
	o.runConcurrently(ctx, tok, r, fixable, req.Files, true, log.WithPhase("fix"))
	if tok.IsCancellationRequested() {
		return
	}

	o.mergeModified(ctx, r, snapshotOK, log.WithPhase("merge"))

	if req.AutoStage && r.modified.Len() > 0 {
		stageLog := log.WithPhase("stage")
		files := r.modified.Sorted()
		if _, err := o.stager.StageFiles(ctx, files); err != nil {
			stageLog.Warn("staging failed", "error", err)
			r.warn(fmt.Sprintf("auto-stage failed: %v", err))
		} else {
			stageLog.Info("staged modified files", "files", len(files))
		}
	}
	if tok.IsCancellationRequested() {
		return
	}

	o.runConcurrently(ctx, tok, r, checkOnly, req.Files, false, log.WithPhase("check"))
}

// partition splits engine indexes into fixable and check-only.
func (o *Orchestrator) partition() (fixable, checkOnly []int) {
	for i, e := range o.engines {
		if e.Descriptor().Fixable {
			fixable = append(fixable, i)
		} else {
			checkOnly = append(checkOnly, i)
		}
	}
	return fixable, checkOnly
}

func (o *Orchestrator) runConcurrently(ctx context.Context, tok *cancel.Token, r *run, idx []int, files []string, fix bool, log *logging.Logger) {
	var wg sync.WaitGroup
	for _, i := range idx {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.runEngine(ctx, tok, r, i, files, fix, log)
		}()
	}
	wg.Wait()
}

// mergeModified unions self-reported and detected changes. Disagreement
// between the two sources is logged; the union is kept either way.
func (o *Orchestrator) mergeModified(ctx context.Context, r *run, snapshotOK bool, log *logging.Logger) {
	defer r.markMerged()
	reported := r.selfReported()
	r.modified.Add(reported...)
	if !snapshotOK {
		return
	}

	detected, err := o.store.Changed(ctx, o.opts.Root)
	if err != nil {
		log.Warn("change detection failed", "error", err)
		r.warn(fmt.Sprintf("change detection failed: %v", err))
		return
	}
	r.modified.Add(detected...)

	if missing := difference(reported, detected); len(missing) > 0 {
		log.Warn("engines reported modifications that were not detected", "files", strings.Join(missing, ","))
	}
	if unreported := difference(detected, reported); len(unreported) > 0 {
		log.Warn("files changed without being reported by any engine", "files", strings.Join(unreported, ","))
	}
	log.Debug("modified files merged", "total", r.modified.Len())
}

// salvageModified accounts for files changed by fixers that finished
// before the run was cut short, when the fix phase never got to merge.
// It works on the sealed run, so engines still running cannot add to it.
func (o *Orchestrator) salvageModified(ctx context.Context, r *run, log *logging.Logger) {
	captured, merged := r.progress()
	if merged {
		return
	}
	r.modified.Add(r.selfReported()...)
	if !captured {
		return
	}
	detected, err := o.store.Changed(context.WithoutCancel(ctx), o.opts.Root)
	if err != nil {
		log.Warn("change detection after cancellation failed", "error", err)
		return
	}
	r.modified.Add(detected...)
	log.Debug("modified files salvaged", "total", r.modified.Len())
}

// runEngine runs engine i and records its outcome in r. It never returns
// an error: failures are recorded against the engine.
func (o *Orchestrator) runEngine(ctx context.Context, tok *cancel.Token, r *run, i int, files []string, fix bool, log *logging.Logger) {
	e := o.engines[i]
	desc := e.Descriptor()
	elog := log.WithEngine(desc.Name)

	if !desc.Critical && o.gauge != nil && o.gauge.ShouldSkipNonCritical() {
		elog.Warn("skipping non-critical engine under memory pressure")
		r.skip(i, skipWarning(desc.Name, "memory pressure"))
		return
	}
	if tok.IsCancellationRequested() || !r.start(i) {
		return
	}

	started := o.now()
	var (
		res      *engine.Result
		warnings []string
		err      error
	)
	if !fix && o.opts.BatchThreshold > 0 && len(files) > o.opts.BatchThreshold {
		res, warnings, err = o.runBatched(ctx, tok, e, r, files)
	} else {
		res, err = safeCheck(ctx, e, engine.Request{Files: files, Fix: fix, Token: tok, CacheDir: o.opts.CacheDir})
	}

	var unavailable interface{ ToolUnavailable() bool }
	switch {
	case err == nil:
		elog.Debug("engine finished", "issues", len(res.Issues), "fixed", res.FixedCount, "duration_ms", o.now().Sub(started).Milliseconds())
		r.finish(i, res, append(warnings, res.Warnings...)...)
	case tok.IsCancellationRequested() || ctx.Err() != nil:
		// Left running so close() reports the deadline against it.
		elog.Debug("engine stopped by cancellation", "error", err)
	case errors.As(err, &unavailable) && unavailable.ToolUnavailable():
		elog.Warn("engine unavailable", "error", err)
		r.finish(i, &engine.Result{Success: true}, append(warnings, skipWarning(desc.Name, err.Error()))...)
	default:
		elog.Error("engine failed", "error", err)
		r.finish(i, errorResult(desc.Name, err), warnings...)
	}
}

// runBatched drives a non-fixing engine through the batch scheduler.
// Critical engines treat every file as critical; others prioritise files
// already modified in this run.
func (o *Orchestrator) runBatched(ctx context.Context, tok *cancel.Token, e engine.Engine, r *run, files []string) (*engine.Result, []string, error) {
	desc := e.Descriptor()

	var critical, optional []string
	for _, f := range files {
		if desc.Critical || r.modified.Contains(f) {
			critical = append(critical, f)
		} else {
			optional = append(optional, f)
		}
	}

	merged := &engine.Result{Success: true}
	worker := func(ctx context.Context, chunk []string) error {
		res, err := safeCheck(ctx, e, engine.Request{Files: chunk, Token: tok, CacheDir: o.opts.CacheDir})
		if err != nil {
			return err
		}
		merged.Success = merged.Success && res.Success
		merged.Issues = append(merged.Issues, res.Issues...)
		merged.Warnings = append(merged.Warnings, res.Warnings...)
		return nil
	}
	out := o.scheduler.ProcessWithPriority(ctx, critical, optional, worker, tok)

	var warnings []string
	batchErrs := append(append([]batch.BatchError(nil), out.Critical.Errors...), out.NonCritical.Errors...)
	processed := len(out.Critical.Processed) + len(out.NonCritical.Processed)
	if len(batchErrs) > 0 && processed == 0 {
		// Every batch failed the same way, e.g. the tool is missing.
		return nil, nil, batchErrs[0].Err
	}
	for _, be := range batchErrs {
		merged.Success = false
		merged.Issues = append(merged.Issues, engine.Issue{
			Engine:   desc.Name,
			Severity: engine.SeverityError,
			Message:  fmt.Sprintf("batch %d (%d files) failed: %v", be.Index, len(be.Files), be.Err),
			RuleID:   "batch-error",
		})
	}
	if out.NonCriticalSkipped {
		warnings = append(warnings, fmt.Sprintf("%s: %d non-critical file(s) skipped under memory pressure", desc.Name, len(out.NonCritical.Skipped)))
	}
	if skipped := len(out.Critical.Skipped) + len(out.NonCritical.Skipped); skipped > 0 && !out.NonCriticalSkipped && !tok.IsCancellationRequested() {
		warnings = append(warnings, fmt.Sprintf("%s: %d file(s) skipped after a failed batch", desc.Name, skipped))
	}
	return merged, warnings, nil
}

// diffs renders unified diffs of modified files, dropping oversized ones.
func (o *Orchestrator) diffs(files []string, log *logging.Logger) map[string]string {
	out := make(map[string]string)
	for _, f := range files {
		d, err := o.store.UnifiedDiff(o.opts.Root, f, 3)
		if err != nil {
			log.Warn("diff failed", "file", f, "error", err)
			continue
		}
		if d == "" || (o.opts.MaxDiffBytes > 0 && len(d) > o.opts.MaxDiffBytes) {
			continue
		}
		out[f] = d
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func safeCheck(ctx context.Context, e engine.Engine, req engine.Request) (res *engine.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("engine panicked: %v", p)
		}
	}()
	res, err = e.Check(ctx, req)
	if err == nil && res == nil {
		res = &engine.Result{Success: true}
	}
	return res, err
}
