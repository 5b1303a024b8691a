// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package compile drives incremental compilation: it detects changes
// against the previous analysis, feeds invalid source subsets to the
// external compiler, folds callback events back into the analysis, and
// repeats until the invalidation closure reaches a fixed point, then
// persists the result.
package compile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kraklabs/incr/pkg/analysis"
	"github.com/kraklabs/incr/pkg/apimodel"
	"github.com/kraklabs/incr/pkg/codec"
	"github.com/kraklabs/incr/pkg/incremental"
)

// Compiler is the external compiler of the mixed-language module. It
// compiles the given source subset and streams events to the callback.
type Compiler interface {
	Compile(ctx context.Context, sources []analysis.File, cb AnalysisCallback) error
}

// ProgressCallback reports driver progress: current and total items of
// the named phase ("stamping", "compiling", "persisting").
type ProgressCallback func(current, total int64, phase string)

// Config assembles a driver.
type Config struct {
	// Store reads and writes the backing analysis files.
	Store *codec.Store

	// Stamper fingerprints files.
	Stamper *analysis.Stamper

	// Compiler is the external compiler.
	Compiler Compiler

	// Lookup resolves binary class names; nil means nothing resolves.
	Lookup Lookup

	// Options controls invalidation.
	Options incremental.Options

	// Setup is the current compile configuration. A mismatch with the
	// persisted setup discards the previous analysis.
	Setup analysis.MiniSetup

	// Sources is the full current source set of the module.
	Sources []analysis.File

	// Cache shares loaded analyses across compiles; nil uses the
	// process-wide cache.
	Cache *StoreCache

	// Metrics is optional Prometheus instrumentation.
	Metrics *Metrics

	// OnProgress is an optional progress callback.
	OnProgress ProgressCallback

	// Now returns the current time in epoch milliseconds; nil uses the
	// wall clock.
	Now func() int64

	Logger *slog.Logger
}

// Result summarizes one driver run.
type Result struct {
	// Analysis is the final merged analysis.
	Analysis *analysis.Analysis

	// Compiled are the sources recompiled during the run, sorted.
	Compiled []analysis.File

	// Steps is the number of partial compile steps executed.
	Steps int

	// FullRebuild is set when the run fell back to compiling every
	// source.
	FullRebuild bool

	// Clean is set when nothing had changed and no compile ran.
	Clean bool
}

// Driver runs the incremental state machine for one module.
type Driver struct {
	cfg    Config
	logger *slog.Logger
	inv    *incremental.Invalidator
}

// NewDriver creates a driver.
func NewDriver(cfg Config) *Driver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Lookup == nil {
		cfg.Lookup = NoLookup{}
	}
	if cfg.Cache == nil {
		cfg.Cache = GlobalCache()
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Driver{
		cfg:    cfg,
		logger: cfg.Logger,
		inv:    incremental.NewInvalidator(cfg.Options, cfg.Logger),
	}
}

// Run executes one compile invocation:
//
//	Start → DetectChanges → {Clean: Done}
//	                      → InvalidateSeed
//	                      → CompileStep → Merge → Diff → Closure
//	                              ↑__________________________| while new invals
//	                      → Persist → Done
//
// On CompileFailure or CallbackViolation, nothing is persisted and the
// on-disk analysis is untouched. Cancellation is honored between
// compile steps.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.CompileRuns.Inc()
	}

	prev := d.loadPrevious()

	d.reportProgress(0, int64(len(d.cfg.Sources)), "stamping")
	sourceStamps, err := d.cfg.Stamper.StampSources(ctx, d.cfg.Sources, 0)
	if err != nil {
		return nil, fmt.Errorf("stamp sources: %w", err)
	}
	d.reportProgress(int64(len(d.cfg.Sources)), int64(len(d.cfg.Sources)), "stamping")

	changes := incremental.DetectInitialChanges(prev, incremental.CurrentState{
		SourceStamps: sourceStamps,
		ProductStamp: d.cfg.Stamper.StampProduct,
		BinaryStamp:  d.cfg.Stamper.StampBinary,
		ExternalAPI:  d.externalAPI,
	}, d.logger)

	if changes.IsClean() {
		d.logger.Info("driver.clean", "sources", len(d.cfg.Sources))
		if err := d.persist(ctx, prev); err != nil {
			return nil, err
		}
		return &Result{Analysis: prev, Clean: true}, nil
	}

	a := prev
	pending := changes.InvalidSources(a.Relations)

	// Deletion policy: removed sources lose their products, classes,
	// and relations, and their classes seed the closure as removed so
	// dependents recompile.
	removedSeeds := d.removedSeeds(a, changes.RemovedSources)
	a.DropSources(changes.RemovedSources)

	compiled := make(map[analysis.File]struct{})
	fullRebuild := false

	if len(removedSeeds) > 0 {
		res := d.inv.Closure(a.Relations, removedSeeds, len(a.APIs.Internal))
		d.observeClosure(res)
		pending = mergeSources(pending, res.Sources, compiled)
		if res.RecompileAll {
			pending, fullRebuild = d.goFull(compiled)
			if !fullRebuild {
				pending = nil
			}
		}
	}

	steps := 0
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			d.logger.Warn("driver.canceled", "steps", steps)
			return nil, err
		}
		steps++
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.CompileSteps.Inc()
		}
		d.logger.Info("driver.compile_step",
			"step", steps,
			"sources", len(pending),
			"full_rebuild", fullRebuild,
		)

		diffs, err := d.compileStep(ctx, a, pending)
		if err != nil {
			return nil, err
		}
		for _, src := range pending {
			compiled[src] = struct{}{}
		}
		d.reportProgress(int64(len(compiled)), int64(len(d.cfg.Sources)), "compiling")

		res := d.inv.Closure(a.Relations, diffs, len(a.APIs.Internal))
		d.observeClosure(res)
		if res.RecompileAll && !fullRebuild {
			var widened bool
			pending, widened = d.goFull(compiled)
			fullRebuild = widened
			continue
		}
		pending = mergeSources(nil, res.Sources, compiled)
	}

	if err := a.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("analysis invariant violated after run: %w", err)
	}
	if err := ctx.Err(); err != nil {
		d.logger.Warn("driver.canceled_before_persist", "steps", steps)
		return nil, err
	}
	if err := d.persist(ctx, a); err != nil {
		return nil, err
	}

	result := &Result{
		Analysis:    a,
		Compiled:    sortedFileSet(compiled),
		Steps:       steps,
		FullRebuild: fullRebuild,
	}
	d.logger.Info("driver.complete",
		"steps", steps,
		"compiled", len(result.Compiled),
		"full_rebuild", fullRebuild,
	)
	return result, nil
}

// compileStep runs one CompileStep → Merge → Diff sequence and returns
// the per-class API changes.
func (d *Driver) compileStep(ctx context.Context, a *analysis.Analysis, sources []analysis.File) ([]incremental.APIChange, error) {
	// Snapshot the APIs of the classes about to be recompiled; the
	// differ needs them after the merge replaced the entries.
	oldAPIs := apimodel.NewAPIs()
	internalNames := make(map[string]struct{})
	for _, name := range a.Relations.InternalClasses() {
		internalNames[name] = struct{}{}
	}
	stepClasses := make(map[string]struct{})
	for _, src := range sources {
		for _, class := range a.Relations.ClassesOf(src) {
			stepClasses[class] = struct{}{}
			if api := a.APIs.InternalAPI(class); api != nil {
				oldAPIs.AddInternal(api)
			}
		}
	}

	var rc *RecordingCallback
	internalClass := func(name string) bool {
		if _, ok := internalNames[name]; ok {
			return true
		}
		_, ok := rc.companions[name]
		return ok
	}
	rc = NewRecordingCallback(d.cfg.Stamper, d.cfg.Lookup, d.cfg.Setup.Output, internalClass, d.logger)

	a.DropSources(sources)

	if err := d.cfg.Compiler.Compile(ctx, sources, rc); err != nil {
		if IsCallbackViolation(err) {
			return nil, err
		}
		return nil, &CompileFailureError{Err: err, Infos: rc.fresh.SourceInfos}
	}

	fresh, err := rc.Finish(d.cfg.Now(), d.cfg.Setup.Output)
	if err != nil {
		return nil, err
	}
	a.Merge(fresh)

	// Every class of the step must reappear through an api event;
	// classes that did not are removed as of this merge.
	for name := range fresh.APIs.Internal {
		stepClasses[name] = struct{}{}
	}
	recompiled := make([]string, 0, len(stepClasses))
	for name := range stepClasses {
		recompiled = append(recompiled, name)
	}

	return incremental.DiffAPIs(oldAPIs, a.APIs, recompiled), nil
}

// removedSeeds builds removed-class changes for sources leaving the
// input set, before their relation entries are dropped.
func (d *Driver) removedSeeds(a *analysis.Analysis, removed []analysis.File) []incremental.APIChange {
	var seeds []incremental.APIChange
	for _, src := range removed {
		for _, class := range a.Relations.ClassesOf(src) {
			seeds = append(seeds, incremental.APIChange{
				Class:            class,
				Modified:         incremental.Diff(a.APIs.InternalAPI(class), nil),
				Removed:          true,
				StructureChanged: true,
			})
		}
	}
	return seeds
}

// goFull widens the pending set to every source not yet compiled this
// run. Sources already recompiled need not run again: their fresh APIs
// are already merged. Returns false when nothing is left to widen to.
func (d *Driver) goFull(compiled map[analysis.File]struct{}) ([]analysis.File, bool) {
	pending := mergeSources(nil, d.cfg.Sources, compiled)
	if len(pending) == 0 {
		return nil, false
	}
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.FullRebuilds.Inc()
	}
	d.logger.Info("driver.full_rebuild", "sources", len(pending))
	return pending, true
}

// loadPrevious reads the persisted analysis through the cache. Decode
// failures and setup mismatches degrade to an empty analysis.
func (d *Driver) loadPrevious() *analysis.Analysis {
	path := d.cfg.Store.Path()
	if a, setup, ok := d.cfg.Cache.Get(path); ok {
		if d.cfg.Metrics != nil {
			d.cfg.Metrics.CacheHits.Inc()
		}
		return d.checkSetup(a, setup)
	}
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.CacheMisses.Inc()
	}

	start := time.Now()
	a, setup, err := d.cfg.Store.Read()
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.ReadSeconds.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if codec.IsDecodeError(err) {
			d.logger.Warn("driver.previous.unreadable", "err", err)
			return analysis.Empty()
		}
		d.logger.Warn("driver.previous.read_failed", "err", err)
		return analysis.Empty()
	}
	return d.checkSetup(a, setup)
}

func (d *Driver) checkSetup(a *analysis.Analysis, setup analysis.MiniSetup) *analysis.Analysis {
	if a.IsEmpty() {
		return a
	}
	if !setup.Equivalent(d.cfg.Setup) {
		d.logger.Info("driver.setup.changed",
			"previous_version", setup.CompilerVersion,
			"current_version", d.cfg.Setup.CompilerVersion,
		)
		return analysis.Empty()
	}
	return a
}

func (d *Driver) persist(ctx context.Context, a *analysis.Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.reportProgress(0, 1, "persisting")
	start := time.Now()
	err := d.cfg.Store.Write(a, d.cfg.Setup, d.cfg.Options.StoreAPIs)
	if d.cfg.Metrics != nil {
		d.cfg.Metrics.WriteSeconds.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("persist analysis: %w", err)
	}
	d.cfg.Cache.Put(d.cfg.Store.Path(), a, d.cfg.Setup)
	d.reportProgress(1, 1, "persisting")
	return nil
}

func (d *Driver) externalAPI(name string) *apimodel.AnalyzedClass {
	sibling := d.cfg.Lookup.LookupAnalysis(name)
	if sibling == nil {
		return nil
	}
	return sibling.APIs.InternalAPI(name)
}

func (d *Driver) observeClosure(res incremental.ClosureResult) {
	if d.cfg.Metrics == nil {
		return
	}
	d.cfg.Metrics.InvalidatedClasses.Add(float64(len(res.Invalid)))
	if res.Rounds > 0 {
		d.cfg.Metrics.ClosureRounds.Observe(float64(res.Rounds))
	}
}

func (d *Driver) reportProgress(current, total int64, phase string) {
	if d.cfg.OnProgress != nil {
		d.cfg.OnProgress(current, total, phase)
	}
}

func mergeSources(base, extra []analysis.File, compiled map[analysis.File]struct{}) []analysis.File {
	seen := make(map[analysis.File]struct{}, len(base))
	var out []analysis.File
	for _, lists := range [][]analysis.File{base, extra} {
		for _, src := range lists {
			if _, done := compiled[src]; done {
				continue
			}
			if _, dup := seen[src]; dup {
				continue
			}
			seen[src] = struct{}{}
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedFileSet(set map[analysis.File]struct{}) []analysis.File {
	out := make([]analysis.File, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
