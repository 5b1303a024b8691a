// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package analysis holds the persisted record of one compile unit: file
// stamps, the relation graphs between sources, products, and classes,
// the analyzed class APIs, per-source diagnostics, and the compile
// history. An Analysis is read at the start of a compile, partially
// mutated as sources are recompiled, then written back; it is never
// mutated concurrently.
package analysis

import (
	"fmt"

	"github.com/kraklabs/incr/pkg/apimodel"
)

// Analysis ties together everything the engine knows about one compile
// unit.
type Analysis struct {
	Stamps       *Stamps
	Relations    *Relations
	APIs         *apimodel.APIs
	SourceInfos  SourceInfos
	Compilations []Compilation
}

// Empty creates an analysis with no recorded state.
func Empty() *Analysis {
	return &Analysis{
		Stamps:      NewStamps(),
		Relations:   NewRelations(),
		APIs:        apimodel.NewAPIs(),
		SourceInfos: make(SourceInfos),
	}
}

// IsEmpty reports whether the analysis records nothing.
func (a *Analysis) IsEmpty() bool {
	return len(a.Stamps.Sources) == 0 &&
		len(a.APIs.Internal) == 0 &&
		a.Relations.Classes.IsEmpty()
}

// Sources returns every stamped source file, sorted.
func (a *Analysis) Sources() []File {
	return a.Stamps.AllSources()
}

// DropSources removes every entry owned by the given source files: their
// stamps, products (and product stamps), declared classes with their
// APIs, dependency edges, used names, and source infos. Called before
// merging fresh callback data for recompiled sources, and for sources
// deleted from the input set.
func (a *Analysis) DropSources(sources []File) {
	for _, src := range sources {
		for _, product := range a.Relations.SrcProd.Forward(src) {
			delete(a.Stamps.Products, product)
		}
		for _, class := range a.Relations.Classes.Forward(src) {
			a.APIs.RemoveInternal(class)
		}
		a.Relations.DropSource(src)
		delete(a.Stamps.Sources, src)
		delete(a.SourceInfos, src)
	}
}

// Merge folds a fresh partial analysis (produced from callback events of
// one compile step) into a. Fresh entries win on conflict.
func (a *Analysis) Merge(fresh *Analysis) {
	if fresh == nil {
		return
	}
	for f, s := range fresh.Stamps.Sources {
		a.Stamps.Sources[f] = s
	}
	for f, s := range fresh.Stamps.Products {
		a.Stamps.Products[f] = s
	}
	for f, s := range fresh.Stamps.Binaries {
		a.Stamps.Binaries[f] = s
	}
	a.Relations.Union(fresh.Relations)
	a.APIs.Union(fresh.APIs)
	for f, info := range fresh.SourceInfos {
		a.SourceInfos[f] = info
	}
	a.Compilations = append(a.Compilations, fresh.Compilations...)
}

// CheckBidirectional verifies the forward/reverse invariant of every
// relation.
func (a *Analysis) CheckBidirectional() error {
	if !a.Relations.CheckBidirectional() {
		return fmt.Errorf("relation forward/reverse maps out of lockstep")
	}
	return nil
}

// CheckCoverage verifies that every declared class has an internal API
// and every external dependency target has an external API.
func (a *Analysis) CheckCoverage() error {
	for _, class := range a.Relations.Classes.ReverseKeys() {
		if a.APIs.InternalAPI(class) == nil {
			return fmt.Errorf("class %q declared in sources but missing from internal APIs", class)
		}
	}
	for _, deps := range []*ClassDependencies{
		a.Relations.MemberRef,
		a.Relations.Inheritance,
		a.Relations.LocalInheritance,
	} {
		for _, on := range deps.External.ReverseKeys() {
			if a.APIs.ExternalAPI(on) == nil {
				return fmt.Errorf("external dependency target %q missing from external APIs", on)
			}
		}
	}
	return nil
}

// CheckProductUniqueness verifies that each product file has exactly one
// source owner.
func (a *Analysis) CheckProductUniqueness() error {
	for _, product := range a.Relations.SrcProd.ReverseKeys() {
		owners := a.Relations.SrcProd.Reverse(product)
		if len(owners) != 1 {
			return fmt.Errorf("product %q has %d source owners, want 1", product, len(owners))
		}
	}
	return nil
}

// CheckInvariants runs every universal invariant check.
func (a *Analysis) CheckInvariants() error {
	if err := a.CheckBidirectional(); err != nil {
		return err
	}
	if err := a.CheckCoverage(); err != nil {
		return err
	}
	return a.CheckProductUniqueness()
}

// Stats summarizes an analysis for status reporting.
type Stats struct {
	SourceCount   int
	ProductCount  int
	BinaryCount   int
	ClassCount    int
	ExternalCount int
	CompileCount  int
	ProblemCount  int
}

// Stats computes summary statistics. Class counts come from the
// relations, not the API maps, so they stay accurate for analyses
// loaded without the APIs stream.
func (a *Analysis) Stats() Stats {
	externals := make(map[string]struct{})
	for _, deps := range []*ClassDependencies{a.Relations.MemberRef, a.Relations.Inheritance, a.Relations.LocalInheritance} {
		for _, on := range deps.External.ReverseKeys() {
			externals[on] = struct{}{}
		}
	}
	s := Stats{
		SourceCount:   len(a.Stamps.Sources),
		ProductCount:  len(a.Stamps.Products),
		BinaryCount:   len(a.Stamps.Binaries),
		ClassCount:    len(a.Relations.Classes.ReverseKeys()),
		ExternalCount: len(externals),
		CompileCount:  len(a.Compilations),
	}
	for _, info := range a.SourceInfos {
		s.ProblemCount += len(info.ReportedProblems) + len(info.UnreportedProblems)
	}
	return s
}
