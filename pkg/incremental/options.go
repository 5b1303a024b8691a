// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package incremental implements the API differ and the invalidation
// engine: from an old/new API diff to the transitive fixpoint of classes
// that must be recompiled.
package incremental

import "github.com/kraklabs/incr/pkg/analysis"

// Options controls incremental invalidation behavior.
type Options struct {
	// RecompileAllFraction declares the whole module dirty once the
	// invalid set reaches this fraction of all classes. Range [0, 1].
	RecompileAllFraction float64

	// TransitiveStep caps the closure depth before bailing out to a
	// full recompile.
	TransitiveStep uint32

	// NameHashing enables member-reference pruning by used-name hashes.
	// When false, member-reference dependents are invalidated
	// unconditionally.
	NameHashing bool

	// StoreAPIs keeps the full APIs in the persisted analysis. When
	// false, APIs are dropped before persist.
	StoreAPIs bool

	// CompileOrder sequences mixed-language compilation.
	CompileOrder analysis.CompileOrder

	// Extra is passed through to consumers untouched.
	Extra []analysis.ExtraEntry
}

// DefaultOptions returns the stock invalidation options.
func DefaultOptions() Options {
	return Options{
		RecompileAllFraction: 0.5,
		TransitiveStep:       3,
		NameHashing:          true,
		StoreAPIs:            true,
		CompileOrder:         analysis.CompileOrderMixed,
	}
}
