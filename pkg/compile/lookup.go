// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package compile

import "github.com/kraklabs/incr/pkg/analysis"

// Lookup resolves binary class names against the classpath and against
// the analyses of sibling modules. It classifies binary dependencies as
// tracked (a sibling module's product, with its own analysis) or
// untracked (an external library).
type Lookup interface {
	// LookupOnClasspath resolves a binary class name to the classpath
	// entry providing it.
	LookupOnClasspath(binaryClassName string) (analysis.File, bool)

	// LookupAnalysis returns the analysis of the module that produced
	// the binary class name, or nil for untracked classes.
	LookupAnalysis(binaryClassName string) *analysis.Analysis

	// LookupAnalysisForFile is like LookupAnalysis but keyed by the
	// resolved binary file.
	LookupAnalysisForFile(binaryFile analysis.File, binaryClassName string) *analysis.Analysis
}

// NoLookup is a Lookup that resolves nothing; every binary dependency
// is untracked.
type NoLookup struct{}

// LookupOnClasspath always misses.
func (NoLookup) LookupOnClasspath(string) (analysis.File, bool) { return "", false }

// LookupAnalysis always misses.
func (NoLookup) LookupAnalysis(string) *analysis.Analysis { return nil }

// LookupAnalysisForFile always misses.
func (NoLookup) LookupAnalysisForFile(analysis.File, string) *analysis.Analysis { return nil }
