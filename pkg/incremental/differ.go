// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package incremental

import (
	"sort"

	"github.com/kraklabs/incr/pkg/apimodel"
)

// ModifiedName identifies one changed (name, scope) pair of a class API.
type ModifiedName struct {
	Name  string
	Scope apimodel.UseScope
}

// ModifiedNames is the set of names whose hash changed between two API
// snapshots of the same class.
type ModifiedNames map[ModifiedName]struct{}

// Add inserts a pair.
func (m ModifiedNames) Add(name string, scope apimodel.UseScope) {
	m[ModifiedName{Name: name, Scope: scope}] = struct{}{}
}

// Has reports whether the pair is in the set.
func (m ModifiedNames) Has(name string, scope apimodel.UseScope) bool {
	_, ok := m[ModifiedName{Name: name, Scope: scope}]
	return ok
}

// IsEmpty reports whether no name changed.
func (m ModifiedNames) IsEmpty() bool {
	return len(m) == 0
}

// Sorted returns the pairs ordered by name then scope.
func (m ModifiedNames) Sorted() []ModifiedName {
	out := make([]ModifiedName, 0, len(m))
	for mn := range m {
		out = append(out, mn)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Scope < out[j].Scope
	})
	return out
}

// UsedBy reports whether any modified name is used by a dependent whose
// used names are given, with matching scope.
func (m ModifiedNames) UsedBy(usedScopes func(name string) apimodel.UseScopeSet) bool {
	for mn := range m {
		if usedScopes(mn.Name).Has(mn.Scope) {
			return true
		}
	}
	return false
}

// Diff compares the old and new API of one class and returns the
// (name, scope) pairs whose hash differs or that exist on exactly one
// side. A matching top-level API hash short-circuits to the empty set.
// A nil new snapshot means the class disappeared: every old name is
// modified. A nil old snapshot means the class is new: every new name
// is modified.
func Diff(old, cur *apimodel.AnalyzedClass) ModifiedNames {
	modified := make(ModifiedNames)
	switch {
	case old == nil && cur == nil:
		return modified
	case old == nil:
		for _, nh := range cur.NameHashes {
			modified.Add(nh.Name, nh.Scope)
		}
		return modified
	case cur == nil:
		for _, nh := range old.NameHashes {
			modified.Add(nh.Name, nh.Scope)
		}
		return modified
	}

	if old.APIHash == cur.APIHash {
		return modified
	}

	oldByKey := nameHashIndex(old.NameHashes)
	curByKey := nameHashIndex(cur.NameHashes)
	for key, hash := range curByKey {
		if oldHash, ok := oldByKey[key]; !ok || oldHash != hash {
			modified[key] = struct{}{}
		}
	}
	for key := range oldByKey {
		if _, ok := curByKey[key]; !ok {
			modified[key] = struct{}{}
		}
	}
	return modified
}

func nameHashIndex(hashes []apimodel.NameHash) map[ModifiedName]uint32 {
	out := make(map[ModifiedName]uint32, len(hashes))
	for _, nh := range hashes {
		out[ModifiedName{Name: nh.Name, Scope: nh.Scope}] = nh.Hash
	}
	return out
}

// APIChange describes the diff outcome for one class after a compile
// step.
type APIChange struct {
	Class string

	// Modified are the changed (name, scope) pairs.
	Modified ModifiedNames

	// Removed marks classes that disappeared entirely.
	Removed bool

	// MacroGained marks classes whose hasMacro flag flipped false to
	// true; their member-ref dependents are invalidated without
	// name-hash pruning.
	MacroGained bool

	// StructureChanged marks classes whose parent list changed; only
	// these propagate along local inheritance.
	StructureChanged bool
}

// DiffAPIs diffs every recompiled class of a fresh analysis against the
// previous APIs, and reports classes that were expected but did not
// reappear as removed.
func DiffAPIs(prev, fresh *apimodel.APIs, recompiled []string) []APIChange {
	var changes []APIChange
	for _, class := range recompiled {
		old := prev.InternalAPI(class)
		cur := fresh.InternalAPI(class)
		if old == nil && cur == nil {
			continue
		}
		modified := Diff(old, cur)
		change := APIChange{
			Class:    class,
			Modified: modified,
			Removed:  cur == nil,
		}
		if old != nil && cur != nil {
			change.MacroGained = !old.HasMacro && cur.HasMacro
			change.StructureChanged = structureChanged(old, cur)
		} else {
			change.StructureChanged = true
		}
		if modified.IsEmpty() && !change.StructureChanged && !change.MacroGained {
			continue
		}
		changes = append(changes, change)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Class < changes[j].Class })
	return changes
}

func structureChanged(old, cur *apimodel.AnalyzedClass) bool {
	return apimodel.HashStructure(old.API.Force()) != apimodel.HashStructure(cur.API.Force())
}
