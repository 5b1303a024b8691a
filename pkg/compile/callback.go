// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package compile

import (
	"log/slog"
	"sort"

	"github.com/kraklabs/incr/pkg/analysis"
	"github.com/kraklabs/incr/pkg/apimodel"
)

// AnalysisCallback receives the event stream of one compile step. The
// external compiler delivers events in program order on a single
// logical stream; implementations must be re-entrant across different
// sources but are never called concurrently for one source.
type AnalysisCallback interface {
	// StartSource registers a source about to be compiled. Every other
	// event referring to the source must come after it.
	StartSource(src analysis.File) error

	// ClassDependency records that fromClassName depends on
	// onClassName. Whether the dependency is internal or external is
	// inferred from whether onClassName is declared in the current
	// module.
	ClassDependency(onClassName, fromClassName string, context analysis.DependencyContext) error

	// BinaryDependency records a dependency on a class resolved from a
	// classpath entry.
	BinaryDependency(binary analysis.File, binaryClassName, fromClassName string, context analysis.DependencyContext) error

	// GeneratedLocalClass records a class file for a local
	// (name-mangled, non-addressable) class.
	GeneratedLocalClass(src, classFile analysis.File) error

	// GeneratedNonLocalClass records a class file for an addressable
	// class, with its binary and source class names.
	GeneratedNonLocalClass(src, classFile analysis.File, binaryClassName, srcClassName string) error

	// API delivers the structural API of one class declared in src.
	API(src analysis.File, class *apimodel.ClassLike) error

	// UsedName records that className referenced name in the given
	// scopes.
	UsedName(className, name string, scopes analysis.UseScopeSet) error

	// MainClass records an entry-point class declared in src.
	MainClass(src analysis.File, className string) error

	// Problem delivers one diagnostic for src.
	Problem(src analysis.File, problem analysis.Problem, reported bool) error
}

// RecordingCallback accumulates callback events into a fresh partial
// analysis which the driver merges after the compile step returns.
type RecordingCallback struct {
	logger  *slog.Logger
	stamper *analysis.Stamper
	lookup  Lookup
	output  analysis.Output

	// internalClass decides whether a class name belongs to the module
	// being compiled.
	internalClass func(string) bool

	fresh      *analysis.Analysis
	registered map[analysis.File]struct{}
	current    analysis.File

	// companions accumulates API events per class name until Finish
	// pairs them up.
	companions map[string]*apimodel.Companions

	// missingExternal collects unresolvable external classes for
	// conservative invalidation and logging.
	missingExternal map[string]struct{}
}

// NewRecordingCallback creates a callback recorder for one compile
// step.
func NewRecordingCallback(
	stamper *analysis.Stamper,
	lookup Lookup,
	output analysis.Output,
	internalClass func(string) bool,
	logger *slog.Logger,
) *RecordingCallback {
	if logger == nil {
		logger = slog.Default()
	}
	if lookup == nil {
		lookup = NoLookup{}
	}
	return &RecordingCallback{
		logger:          logger,
		stamper:         stamper,
		lookup:          lookup,
		output:          output,
		internalClass:   internalClass,
		fresh:           analysis.Empty(),
		registered:      make(map[analysis.File]struct{}),
		companions:      make(map[string]*apimodel.Companions),
		missingExternal: make(map[string]struct{}),
	}
}

// StartSource implements AnalysisCallback.
func (rc *RecordingCallback) StartSource(src analysis.File) error {
	rc.registered[src] = struct{}{}
	rc.current = src
	rc.fresh.Stamps.Sources[src] = rc.stamper.StampSource(src)
	if _, ok := rc.fresh.SourceInfos[src]; !ok {
		rc.fresh.SourceInfos[src] = &analysis.SourceInfo{}
	}
	return nil
}

// ClassDependency implements AnalysisCallback.
func (rc *RecordingCallback) ClassDependency(onClassName, fromClassName string, context analysis.DependencyContext) error {
	if err := rc.checkRegistered("classDependency"); err != nil {
		return err
	}
	if onClassName == fromClassName {
		return nil
	}
	if rc.internalClass != nil && rc.internalClass(onClassName) {
		rc.fresh.Relations.AddInternalDependency(fromClassName, onClassName, context)
		return nil
	}
	rc.fresh.Relations.AddExternalDependency(fromClassName, onClassName, context)
	rc.recordExternalAPI(onClassName)
	return nil
}

// BinaryDependency implements AnalysisCallback.
func (rc *RecordingCallback) BinaryDependency(binary analysis.File, binaryClassName, fromClassName string, context analysis.DependencyContext) error {
	if err := rc.checkRegistered("binaryDependency"); err != nil {
		return err
	}

	// A tracked binary belongs to a sibling module; the dependency is
	// rewired to that module's source class as an external class
	// dependency. Untracked binaries stay library dependencies.
	if sibling := rc.lookup.LookupAnalysisForFile(binary, binaryClassName); sibling != nil {
		rc.fresh.Relations.AddExternalDependency(fromClassName, binaryClassName, context)
		if api := sibling.APIs.InternalAPI(binaryClassName); api != nil {
			rc.fresh.APIs.AddExternal(api)
		} else {
			rc.recordExternalAPI(binaryClassName)
		}
		return nil
	}

	rc.fresh.Relations.LibraryDep.Add(rc.current, binary)
	rc.fresh.Relations.LibraryClassName.Add(binary, binaryClassName)
	if _, stamped := rc.fresh.Stamps.Binaries[binary]; !stamped {
		rc.fresh.Stamps.Binaries[binary] = rc.stamper.StampBinary(binary)
	}
	return nil
}

// GeneratedLocalClass implements AnalysisCallback.
func (rc *RecordingCallback) GeneratedLocalClass(src, classFile analysis.File) error {
	if err := rc.checkOutput("generatedLocalClass", src, classFile); err != nil {
		return err
	}
	rc.fresh.Relations.SrcProd.Add(src, classFile)
	rc.fresh.Stamps.Products[classFile] = rc.stamper.StampProduct(classFile)
	return nil
}

// GeneratedNonLocalClass implements AnalysisCallback.
func (rc *RecordingCallback) GeneratedNonLocalClass(src, classFile analysis.File, binaryClassName, srcClassName string) error {
	if err := rc.checkOutput("generatedNonLocalClass", src, classFile); err != nil {
		return err
	}
	rc.fresh.Relations.SrcProd.Add(src, classFile)
	rc.fresh.Stamps.Products[classFile] = rc.stamper.StampProduct(classFile)
	rc.fresh.Relations.Classes.Add(src, srcClassName)
	rc.fresh.Relations.ProductClassName.Add(binaryClassName, srcClassName)
	return nil
}

// API implements AnalysisCallback.
func (rc *RecordingCallback) API(src analysis.File, class *apimodel.ClassLike) error {
	if err := rc.checkRegistered("api"); err != nil {
		return err
	}
	if class == nil {
		return nil
	}
	rc.fresh.Relations.Classes.Add(src, class.Name)

	pair, ok := rc.companions[class.Name]
	if !ok {
		pair = &apimodel.Companions{}
		rc.companions[class.Name] = pair
	}
	if class.DefType == apimodel.DefTypeModule || class.DefType == apimodel.DefTypePackageModule {
		pair.Module = class
	} else {
		pair.Class = class
	}
	return nil
}

// UsedName implements AnalysisCallback.
func (rc *RecordingCallback) UsedName(className, name string, scopes analysis.UseScopeSet) error {
	if err := rc.checkRegistered("usedName"); err != nil {
		return err
	}
	rc.fresh.Relations.Names.Add(className, name, scopes)
	return nil
}

// MainClass implements AnalysisCallback.
func (rc *RecordingCallback) MainClass(src analysis.File, className string) error {
	if err := rc.checkRegistered("mainClass"); err != nil {
		return err
	}
	info := rc.fresh.SourceInfos[src]
	if info == nil {
		info = &analysis.SourceInfo{}
		rc.fresh.SourceInfos[src] = info
	}
	info.MainClasses = append(info.MainClasses, className)
	return nil
}

// Problem implements AnalysisCallback.
func (rc *RecordingCallback) Problem(src analysis.File, problem analysis.Problem, reported bool) error {
	if err := rc.checkRegistered("problem"); err != nil {
		return err
	}
	info := rc.fresh.SourceInfos[src]
	if info == nil {
		info = &analysis.SourceInfo{}
		rc.fresh.SourceInfos[src] = info
	}
	if reported {
		info.ReportedProblems = append(info.ReportedProblems, problem)
	} else {
		info.UnreportedProblems = append(info.UnreportedProblems, problem)
	}
	return nil
}

// Finish seals the recorded events into the partial analysis of this
// compile step, pairing accumulated companions and hashing their APIs.
func (rc *RecordingCallback) Finish(startTimeMillis int64, output analysis.Output) (*analysis.Analysis, error) {
	for name, pair := range rc.companions {
		rc.fresh.APIs.AddInternal(apimodel.Analyze(name, startTimeMillis, *pair))
	}
	rc.fresh.Compilations = append(rc.fresh.Compilations, analysis.Compilation{
		StartTimeMillis: startTimeMillis,
		Output:          output,
	})

	for external := range rc.missingExternal {
		rc.logger.Warn("callback.external.missing", "class", external)
	}
	return rc.fresh, nil
}

// MissingExternals returns the external classes that could not be
// resolved during this step, sorted.
func (rc *RecordingCallback) MissingExternals() []string {
	out := make([]string, 0, len(rc.missingExternal))
	for class := range rc.missingExternal {
		out = append(out, class)
	}
	sort.Strings(out)
	return out
}

// recordExternalAPI resolves the API of an external class through the
// lookup. Unresolvable classes get a placeholder with a zero hash so
// the coverage invariant holds and the next run flags them as changed.
func (rc *RecordingCallback) recordExternalAPI(className string) {
	if rc.fresh.APIs.ExternalAPI(className) != nil {
		return
	}
	if sibling := rc.lookup.LookupAnalysis(className); sibling != nil {
		if api := sibling.APIs.InternalAPI(className); api != nil {
			rc.fresh.APIs.AddExternal(api)
			return
		}
	}
	rc.missingExternal[className] = struct{}{}
	rc.fresh.APIs.AddExternal(&apimodel.AnalyzedClass{
		Name: className,
		API:  apimodel.Strict(apimodel.Companions{}),
	})
}

func (rc *RecordingCallback) checkRegistered(event string) error {
	if rc.current == "" {
		return &CallbackViolationError{Event: event, Reason: "event before any startSource"}
	}
	if _, ok := rc.registered[rc.current]; !ok {
		return &CallbackViolationError{Source: rc.current, Event: event, Reason: "source not registered"}
	}
	return nil
}

func (rc *RecordingCallback) checkOutput(event string, src, classFile analysis.File) error {
	if _, ok := rc.registered[src]; !ok {
		return &CallbackViolationError{Source: src, Event: event, Reason: "source not registered"}
	}
	if !rc.output.Contains(classFile) {
		return &CallbackViolationError{
			Source: src,
			Event:  event,
			Reason: "class file " + string(classFile) + " outside declared output",
		}
	}
	return nil
}
