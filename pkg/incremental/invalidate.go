// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package incremental

import (
	"log/slog"
	"sort"

	"github.com/kraklabs/incr/pkg/analysis"
)

// Invalidator computes the transitive closure of invalid classes along
// the dependency relations.
type Invalidator struct {
	opts   Options
	logger *slog.Logger
}

// NewInvalidator creates an invalidator.
func NewInvalidator(opts Options, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{opts: opts, logger: logger}
}

// ClosureResult is the outcome of one closure run.
type ClosureResult struct {
	// Invalid is the invalid class set after closure, seeds included.
	Invalid map[string]struct{}

	// Sources are the files that must be recompiled.
	Sources []analysis.File

	// RecompileAll is set when the fraction gate or the depth cap
	// tripped; Sources then covers the whole module.
	RecompileAll bool

	// Rounds is the closure depth reached.
	Rounds int
}

// Contains reports whether a class is invalid.
func (r *ClosureResult) Contains(class string) bool {
	_, ok := r.Invalid[class]
	return ok
}

// Closure expands the seed changes to the transitive invalid set.
//
// Per newly invalidated class c:
//
//  1. Member-reference dependents of c are added when one of the names
//     they use matches a modified name of c with matching scope. With
//     name hashing off, or when c gained a macro or disappeared, they
//     are added unconditionally.
//  2. Inheritance dependents are added regardless of names; subclasses
//     re-synthesize members.
//  3. Local-inheritance dependents are added only when c's structure
//     changed, not on a mere member change. Classes invalidated
//     transitively count as structure-changed since their recompiled
//     shape is unknown.
//
// The closure terminates because every class is added at most once. If
// the depth exceeds the transitive-step cap, or the invalid set reaches
// the recompile-all fraction, the whole module is declared dirty.
func (inv *Invalidator) Closure(rel *analysis.Relations, changes []APIChange, totalClasses int) ClosureResult {
	type pending struct {
		class  string
		change *APIChange
	}

	invalid := make(map[string]struct{})
	var level []pending
	for i := range changes {
		ch := &changes[i]
		if ch.Modified.IsEmpty() && !ch.Removed && !ch.MacroGained && !ch.StructureChanged {
			continue
		}
		if _, ok := invalid[ch.Class]; ok {
			continue
		}
		invalid[ch.Class] = struct{}{}
		level = append(level, pending{class: ch.Class, change: ch})
	}

	rounds := 0
	bailed := false
	for len(level) > 0 {
		rounds++
		if uint32(rounds) > inv.opts.TransitiveStep {
			bailed = true
			inv.logger.Warn("invalidate.closure.depth_cap",
				"rounds", rounds,
				"cap", inv.opts.TransitiveStep,
			)
			break
		}

		var next []pending
		add := func(class string) {
			if _, ok := invalid[class]; ok {
				return
			}
			invalid[class] = struct{}{}
			next = append(next, pending{class: class})
		}

		for _, p := range level {
			inv.memberRefStep(rel, p.class, p.change, add)

			for _, d := range rel.Inheritance.Internal.Reverse(p.class) {
				add(d)
			}

			if p.change == nil || p.change.StructureChanged || p.change.Removed {
				for _, d := range rel.LocalInheritance.Internal.Reverse(p.class) {
					add(d)
				}
			}
		}

		inv.logger.Debug("invalidate.closure.round",
			"round", rounds,
			"added", len(next),
			"invalid", len(invalid),
		)
		level = next
	}

	result := ClosureResult{Invalid: invalid, Rounds: rounds}

	fraction := 0.0
	if totalClasses > 0 {
		fraction = float64(len(invalid)) / float64(totalClasses)
	}
	if bailed || (totalClasses > 0 && fraction >= inv.opts.RecompileAllFraction) {
		result.RecompileAll = true
		result.Sources = rel.Classes.ForwardKeys()
		inv.logger.Info("invalidate.closure.recompile_all",
			"invalid", len(invalid),
			"total", totalClasses,
			"fraction", fraction,
			"depth_bailed", bailed,
		)
		return result
	}

	classes := make([]string, 0, len(invalid))
	for class := range invalid {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	result.Sources = rel.SourcesOf(classes)

	inv.logger.Info("invalidate.closure.complete",
		"invalid_classes", len(invalid),
		"sources", len(result.Sources),
		"rounds", rounds,
	)
	return result
}

func (inv *Invalidator) memberRefStep(rel *analysis.Relations, class string, change *APIChange, add func(string)) {
	if change == nil {
		// Transitively invalidated classes have no diff yet; their
		// member-ref dependents wait for the next compile iteration's
		// diff.
		return
	}
	unconditional := !inv.opts.NameHashing || change.MacroGained || change.Removed
	for _, d := range rel.MemberRef.Internal.Reverse(class) {
		if unconditional {
			add(d)
			continue
		}
		if change.Modified.UsedBy(func(name string) analysis.UseScopeSet {
			return rel.Names.ScopesOf(d, name)
		}) {
			add(d)
		}
	}
}
