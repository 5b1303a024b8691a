// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package incremental

import (
	"log/slog"
	"sort"

	"github.com/kraklabs/incr/pkg/analysis"
	"github.com/kraklabs/incr/pkg/apimodel"
)

// CurrentState supplies the current view of the world to change
// detection: fresh stamps for the sources now present, stamp lookups
// for products and binaries, and the external API resolver.
type CurrentState struct {
	// SourceStamps maps every source file currently in the input set to
	// its fresh stamp.
	SourceStamps map[analysis.File]analysis.Stamp

	// ProductStamp returns the fresh stamp of a product file.
	ProductStamp func(analysis.File) analysis.Stamp

	// BinaryStamp returns the fresh stamp of a classpath entry.
	BinaryStamp func(analysis.File) analysis.Stamp

	// ExternalAPI resolves the current API of an externally compiled
	// class, or nil when the class cannot be resolved.
	ExternalAPI func(name string) *apimodel.AnalyzedClass
}

// InitialChanges is the stage-1 result: what changed on disk and which
// classes are invalid before any compilation happens.
type InitialChanges struct {
	// ModifiedSources changed content or lost a product.
	ModifiedSources []analysis.File

	// RemovedSources are in the previous analysis but not the current
	// input set.
	RemovedSources []analysis.File

	// AddedSources are in the current input set but not the previous
	// analysis.
	AddedSources []analysis.File

	// ModifiedBinaries are classpath entries whose stamp changed.
	ModifiedBinaries []analysis.File

	// BinaryAffectedSources depend on a modified classpath entry.
	BinaryAffectedSources []analysis.File

	// ChangedExternal are external classes whose API hash changed or
	// that can no longer be resolved.
	ChangedExternal []string

	// MissingExternal are external classes that could not be resolved;
	// their dependents are invalidated conservatively.
	MissingExternal []string

	// InvalidClasses is the initial invalid class set.
	InvalidClasses map[string]struct{}
}

// IsClean reports whether nothing changed.
func (c *InitialChanges) IsClean() bool {
	return len(c.ModifiedSources) == 0 &&
		len(c.RemovedSources) == 0 &&
		len(c.AddedSources) == 0 &&
		len(c.ModifiedBinaries) == 0 &&
		len(c.ChangedExternal) == 0
}

// InvalidSources maps the invalid class set (plus modified, removed, and
// added sources) back to the source files that must be fed to the
// compiler. Removed sources are excluded: they no longer exist.
func (c *InitialChanges) InvalidSources(rel *analysis.Relations) []analysis.File {
	seen := make(map[analysis.File]struct{})
	for _, s := range c.ModifiedSources {
		seen[s] = struct{}{}
	}
	for _, s := range c.AddedSources {
		seen[s] = struct{}{}
	}
	for _, s := range c.BinaryAffectedSources {
		seen[s] = struct{}{}
	}
	classes := make([]string, 0, len(c.InvalidClasses))
	for class := range c.InvalidClasses {
		classes = append(classes, class)
	}
	for _, s := range rel.SourcesOf(classes) {
		seen[s] = struct{}{}
	}
	for _, s := range c.RemovedSources {
		delete(seen, s)
	}
	out := make([]analysis.File, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DetectInitialChanges computes the stage-1 invalid set from the
// previous analysis and the current state.
func DetectInitialChanges(prev *analysis.Analysis, cur CurrentState, logger *slog.Logger) *InitialChanges {
	if logger == nil {
		logger = slog.Default()
	}
	changes := &InitialChanges{InvalidClasses: make(map[string]struct{})}

	detectSourceChanges(prev, cur, changes)
	detectBinaryChanges(prev, cur, changes)
	detectExternalChanges(prev, cur, changes)

	// Classes declared in modified or removed sources seed the invalid
	// set.
	for _, lists := range [][]analysis.File{changes.ModifiedSources, changes.RemovedSources} {
		for _, src := range lists {
			for _, class := range prev.Relations.ClassesOf(src) {
				changes.InvalidClasses[class] = struct{}{}
			}
		}
	}

	// Dependents of changed external classes join the seed set through
	// every dependency context.
	for _, external := range changes.ChangedExternal {
		for _, deps := range []*analysis.ClassDependencies{
			prev.Relations.MemberRef,
			prev.Relations.Inheritance,
			prev.Relations.LocalInheritance,
		} {
			for _, dependent := range deps.External.Reverse(external) {
				changes.InvalidClasses[dependent] = struct{}{}
			}
		}
	}

	logger.Info("invalidate.initial.complete",
		"modified_sources", len(changes.ModifiedSources),
		"removed_sources", len(changes.RemovedSources),
		"added_sources", len(changes.AddedSources),
		"modified_binaries", len(changes.ModifiedBinaries),
		"changed_external", len(changes.ChangedExternal),
		"invalid_classes", len(changes.InvalidClasses),
	)
	return changes
}

func detectSourceChanges(prev *analysis.Analysis, cur CurrentState, changes *InitialChanges) {
	for _, src := range prev.Sources() {
		curStamp, present := cur.SourceStamps[src]
		if !present || curStamp.IsEmpty() {
			changes.RemovedSources = append(changes.RemovedSources, src)
			continue
		}
		if analysis.Modified(prev.Stamps.Source(src), curStamp) {
			changes.ModifiedSources = append(changes.ModifiedSources, src)
			continue
		}
		// An unchanged source whose product vanished or went stale is
		// treated as source-modified.
		if productMissingOrStale(prev, cur, src) {
			changes.ModifiedSources = append(changes.ModifiedSources, src)
		}
	}

	for src, stamp := range cur.SourceStamps {
		if stamp.IsEmpty() {
			continue
		}
		if _, known := prev.Stamps.Sources[src]; !known {
			changes.AddedSources = append(changes.AddedSources, src)
		}
	}

	sortFiles(changes.ModifiedSources)
	sortFiles(changes.RemovedSources)
	sortFiles(changes.AddedSources)
}

func productMissingOrStale(prev *analysis.Analysis, cur CurrentState, src analysis.File) bool {
	if cur.ProductStamp == nil {
		return false
	}
	for _, product := range prev.Relations.SrcProd.Forward(src) {
		if analysis.Modified(prev.Stamps.Product(product), cur.ProductStamp(product)) {
			return true
		}
	}
	return false
}

func detectBinaryChanges(prev *analysis.Analysis, cur CurrentState, changes *InitialChanges) {
	if cur.BinaryStamp == nil {
		return
	}
	affected := make(map[analysis.File]struct{})
	for _, bin := range prev.Stamps.AllBinaries() {
		if analysis.Modified(prev.Stamps.Binary(bin), cur.BinaryStamp(bin)) {
			changes.ModifiedBinaries = append(changes.ModifiedBinaries, bin)
			for _, src := range prev.Relations.LibraryDep.Reverse(bin) {
				affected[src] = struct{}{}
			}
		}
	}
	for src := range affected {
		changes.BinaryAffectedSources = append(changes.BinaryAffectedSources, src)
	}
	sortFiles(changes.ModifiedBinaries)
	sortFiles(changes.BinaryAffectedSources)
}

func detectExternalChanges(prev *analysis.Analysis, cur CurrentState, changes *InitialChanges) {
	if cur.ExternalAPI == nil {
		return
	}
	seen := make(map[string]struct{})
	for _, deps := range []*analysis.ClassDependencies{
		prev.Relations.MemberRef,
		prev.Relations.Inheritance,
		prev.Relations.LocalInheritance,
	} {
		for _, external := range deps.External.ReverseKeys() {
			if _, done := seen[external]; done {
				continue
			}
			seen[external] = struct{}{}

			recorded := prev.APIs.ExternalAPI(external)
			current := cur.ExternalAPI(external)
			switch {
			case current == nil:
				changes.MissingExternal = append(changes.MissingExternal, external)
				changes.ChangedExternal = append(changes.ChangedExternal, external)
			case recorded == nil || recorded.APIHash != current.APIHash:
				changes.ChangedExternal = append(changes.ChangedExternal, external)
			}
		}
	}
	sort.Strings(changes.ChangedExternal)
	sort.Strings(changes.MissingExternal)
}

func sortFiles(files []analysis.File) {
	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })
}
