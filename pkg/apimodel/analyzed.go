// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package apimodel

import "sort"

// Companions pairs a class with its companion module. Either side may be
// nil when the source declares only one of the two.
type Companions struct {
	Class  *ClassLike
	Module *ClassLike
}

// NameHash is the hash of everything a class associates with one simple
// name in one use scope. It is the unit of pruning during member-ref
// invalidation.
type NameHash struct {
	Name  string
	Scope UseScope
	Hash  uint32
}

// AnalyzedClass is the summarized API of one class: its hashed shape,
// its per-name hashes, and the lazily held full structure.
type AnalyzedClass struct {
	// CompilationTimestamp is the start time of the compile that
	// produced this API, in epoch milliseconds.
	CompilationTimestamp int64

	// Name is the fully qualified class name.
	Name string

	// API is the full structural description, forced only when the
	// differ or a downstream consumer needs it.
	API *Lazy[Companions]

	// APIHash is the 64-bit hash of the canonical API serialization.
	APIHash uint64

	// NameHashes are the per-(name, scope) hashes, sorted by name then
	// scope.
	NameHashes []NameHash

	// HasMacro marks classes that declare macros; their dependents are
	// invalidated without name-hash pruning.
	HasMacro bool
}

// APIs maps class names to their analyzed APIs. Internal entries belong
// to this module; external entries describe classes compiled elsewhere
// that this module depends upon.
type APIs struct {
	Internal map[string]*AnalyzedClass
	External map[string]*AnalyzedClass
}

// NewAPIs creates an empty API store.
func NewAPIs() *APIs {
	return &APIs{
		Internal: make(map[string]*AnalyzedClass),
		External: make(map[string]*AnalyzedClass),
	}
}

// InternalAPI returns the analyzed API of a module-local class, or nil.
func (a *APIs) InternalAPI(name string) *AnalyzedClass {
	return a.Internal[name]
}

// ExternalAPI returns the analyzed API of an external class, or nil.
func (a *APIs) ExternalAPI(name string) *AnalyzedClass {
	return a.External[name]
}

// AddInternal records the API of a module-local class.
func (a *APIs) AddInternal(ac *AnalyzedClass) {
	a.Internal[ac.Name] = ac
}

// AddExternal records the API of an externally compiled class.
func (a *APIs) AddExternal(ac *AnalyzedClass) {
	a.External[ac.Name] = ac
}

// RemoveInternal drops a module-local class.
func (a *APIs) RemoveInternal(name string) {
	delete(a.Internal, name)
}

// RemoveExternal drops an external class.
func (a *APIs) RemoveExternal(name string) {
	delete(a.External, name)
}

// InternalNames returns the internal class names, sorted.
func (a *APIs) InternalNames() []string {
	return sortedNames(a.Internal)
}

// ExternalNames returns the external class names, sorted.
func (a *APIs) ExternalNames() []string {
	return sortedNames(a.External)
}

// Union merges other into a, preferring other's entries on conflict.
func (a *APIs) Union(other *APIs) {
	if other == nil {
		return
	}
	for name, ac := range other.Internal {
		a.Internal[name] = ac
	}
	for name, ac := range other.External {
		a.External[name] = ac
	}
}

func sortedNames(m map[string]*AnalyzedClass) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SortNameHashes orders name hashes by name then scope, the canonical
// order used for serialization and diffing.
func SortNameHashes(hashes []NameHash) {
	sort.Slice(hashes, func(i, j int) bool {
		if hashes[i].Name != hashes[j].Name {
			return hashes[i].Name < hashes[j].Name
		}
		return hashes[i].Scope < hashes[j].Scope
	})
}
