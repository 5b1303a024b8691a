// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"sort"

	"github.com/kraklabs/incr/pkg/apimodel"
)

// UseScope and UseScopeSet are shared with the API model; name hashes
// and used names must agree on scope identity.
type (
	UseScope    = apimodel.UseScope
	UseScopeSet = apimodel.UseScopeSet
)

// Scope constants re-exported for relation consumers.
const (
	ScopeDefault            = apimodel.ScopeDefault
	ScopeImplicit           = apimodel.ScopeImplicit
	ScopePatternMatchTarget = apimodel.ScopePatternMatchTarget
)

// NewUseScopeSet builds a scope set from individual scopes.
func NewUseScopeSet(scopes ...UseScope) UseScopeSet {
	return apimodel.NewUseScopeSet(scopes...)
}

// UsedName is a simple name together with the scopes it was used in.
type UsedName struct {
	Name   string
	Scopes UseScopeSet
}

// UsedNames records, per class, the simple names the class references and
// the scopes each was used in.
type UsedNames struct {
	byClass map[string]map[string]UseScopeSet
}

// NewUsedNames creates an empty used-name store.
func NewUsedNames() *UsedNames {
	return &UsedNames{byClass: make(map[string]map[string]UseScopeSet)}
}

// Add records that class used name in the given scopes.
func (u *UsedNames) Add(class, name string, scopes UseScopeSet) {
	names, ok := u.byClass[class]
	if !ok {
		names = make(map[string]UseScopeSet)
		u.byClass[class] = names
	}
	names[name] = names[name].Union(scopes)
}

// Names returns the used names of a class, sorted by name.
func (u *UsedNames) Names(class string) []UsedName {
	names := u.byClass[class]
	if len(names) == 0 {
		return nil
	}
	out := make([]UsedName, 0, len(names))
	for n, s := range names {
		out = append(out, UsedName{Name: n, Scopes: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ScopesOf returns the scopes class used name in, or the empty set.
func (u *UsedNames) ScopesOf(class, name string) UseScopeSet {
	return u.byClass[class][name]
}

// Classes returns every class with at least one used name, sorted.
func (u *UsedNames) Classes() []string {
	return sortedKeys(u.byClass)
}

// RemoveClass drops every used name recorded for the class.
func (u *UsedNames) RemoveClass(class string) {
	delete(u.byClass, class)
}

// Union merges other into u.
func (u *UsedNames) Union(other *UsedNames) {
	if other == nil {
		return
	}
	for class, names := range other.byClass {
		for n, s := range names {
			u.Add(class, n, s)
		}
	}
}

// IsEmpty reports whether no used names are recorded.
func (u *UsedNames) IsEmpty() bool {
	return len(u.byClass) == 0
}

// ClassDependencies groups the internal and external halves of one
// dependency relation. Internal edges point at classes of this module,
// external edges at classes compiled elsewhere. Pairs are stored
// (from, on): forward maps a dependent class to what it depends on, so
// Reverse(on) yields the dependents of a class.
type ClassDependencies struct {
	Internal *Relation[string, string]
	External *Relation[string, string]
}

// NewClassDependencies creates an empty dependency pair.
func NewClassDependencies() *ClassDependencies {
	return &ClassDependencies{
		Internal: NewRelation[string, string](),
		External: NewRelation[string, string](),
	}
}

// Union merges other into d.
func (d *ClassDependencies) Union(other *ClassDependencies) {
	if other == nil {
		return
	}
	d.Internal.Union(other.Internal)
	d.External.Union(other.External)
}

// Relations is the aggregate of every tracked relation of one compile
// unit. Dependency context (member reference, inheritance, local
// inheritance) is kept in separate relations so the invalidation engine
// can apply different closure rules per context.
type Relations struct {
	// SrcProd relates a source file to the class files it produced.
	SrcProd *Relation[File, File]

	// LibraryDep relates a source file to the classpath entries it
	// depends on.
	LibraryDep *Relation[File, File]

	// LibraryClassName relates a classpath entry to the binary class
	// names it provides.
	LibraryClassName *Relation[File, string]

	// Classes relates a source file to the class names it declares.
	Classes *Relation[File, string]

	// ProductClassName relates a binary class name to its source class
	// name.
	ProductClassName *Relation[string, string]

	// MemberRef tracks member-reference dependencies.
	MemberRef *ClassDependencies

	// Inheritance tracks subclassing dependencies.
	Inheritance *ClassDependencies

	// LocalInheritance tracks inheritance inside local scopes.
	LocalInheritance *ClassDependencies

	// Names records the simple names each class references.
	Names *UsedNames
}

// NewRelations creates an empty relation aggregate.
func NewRelations() *Relations {
	return &Relations{
		SrcProd:          NewRelation[File, File](),
		LibraryDep:       NewRelation[File, File](),
		LibraryClassName: NewRelation[File, string](),
		Classes:          NewRelation[File, string](),
		ProductClassName: NewRelation[string, string](),
		MemberRef:        NewClassDependencies(),
		Inheritance:      NewClassDependencies(),
		LocalInheritance: NewClassDependencies(),
		Names:            NewUsedNames(),
	}
}

// DependencyContext distinguishes how one class depends on another.
type DependencyContext uint8

const (
	// DependencyMemberRef marks a use of a member of the target class.
	DependencyMemberRef DependencyContext = iota

	// DependencyInheritance marks subclassing of the target class.
	DependencyInheritance

	// DependencyLocalInheritance marks subclassing inside a local scope.
	DependencyLocalInheritance
)

// String returns the context name for logging.
func (c DependencyContext) String() string {
	switch c {
	case DependencyMemberRef:
		return "member-ref"
	case DependencyInheritance:
		return "inheritance"
	case DependencyLocalInheritance:
		return "local-inheritance"
	default:
		return "unknown"
	}
}

// byContext returns the dependency pair for a context.
func (r *Relations) byContext(context DependencyContext) *ClassDependencies {
	switch context {
	case DependencyInheritance:
		return r.Inheritance
	case DependencyLocalInheritance:
		return r.LocalInheritance
	default:
		return r.MemberRef
	}
}

// AddInternalDependency records that from depends on the module-local
// class on, in the given context.
func (r *Relations) AddInternalDependency(from, on string, context DependencyContext) {
	r.byContext(context).Internal.Add(from, on)
}

// AddExternalDependency records that from depends on the externally
// compiled class on, in the given context.
func (r *Relations) AddExternalDependency(from, on string, context DependencyContext) {
	r.byContext(context).External.Add(from, on)
}

// ClassesOf returns the class names declared in a source file.
func (r *Relations) ClassesOf(src File) []string {
	return r.Classes.Forward(src)
}

// SourceOf returns the source file declaring a class name, or "".
func (r *Relations) SourceOf(class string) File {
	srcs := r.Classes.Reverse(class)
	if len(srcs) == 0 {
		return ""
	}
	return srcs[0]
}

// SourcesOf returns the source files declaring any of the classes, sorted
// and deduplicated.
func (r *Relations) SourcesOf(classes []string) []File {
	seen := make(map[File]struct{})
	for _, c := range classes {
		for _, s := range r.Classes.Reverse(c) {
			seen[s] = struct{}{}
		}
	}
	out := make([]File, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InternalClasses returns every class name declared by this module,
// sorted.
func (r *Relations) InternalClasses() []string {
	return r.Classes.ReverseKeys()
}

// DropSource removes every relation entry owned by a source file: its
// products, declared classes, dependency edges, and used names.
func (r *Relations) DropSource(src File) {
	for _, class := range r.Classes.Forward(src) {
		r.ProductClassName.RemoveKey(class)
		r.MemberRef.Internal.RemoveKey(class)
		r.MemberRef.External.RemoveKey(class)
		r.Inheritance.Internal.RemoveKey(class)
		r.Inheritance.External.RemoveKey(class)
		r.LocalInheritance.Internal.RemoveKey(class)
		r.LocalInheritance.External.RemoveKey(class)
		r.Names.RemoveClass(class)
	}
	r.Classes.RemoveKey(src)
	r.SrcProd.RemoveKey(src)
	r.LibraryDep.RemoveKey(src)
}

// Union merges other into r keywise.
func (r *Relations) Union(other *Relations) {
	if other == nil {
		return
	}
	r.SrcProd.Union(other.SrcProd)
	r.LibraryDep.Union(other.LibraryDep)
	r.LibraryClassName.Union(other.LibraryClassName)
	r.Classes.Union(other.Classes)
	r.ProductClassName.Union(other.ProductClassName)
	r.MemberRef.Union(other.MemberRef)
	r.Inheritance.Union(other.Inheritance)
	r.LocalInheritance.Union(other.LocalInheritance)
	r.Names.Union(other.Names)
}

// CheckBidirectional verifies the forward/reverse invariant of every
// contained relation.
func (r *Relations) CheckBidirectional() bool {
	return r.SrcProd.CheckBidirectional() &&
		r.LibraryDep.CheckBidirectional() &&
		r.LibraryClassName.CheckBidirectional() &&
		r.Classes.CheckBidirectional() &&
		r.ProductClassName.CheckBidirectional() &&
		r.MemberRef.Internal.CheckBidirectional() &&
		r.MemberRef.External.CheckBidirectional() &&
		r.Inheritance.Internal.CheckBidirectional() &&
		r.Inheritance.External.CheckBidirectional() &&
		r.LocalInheritance.Internal.CheckBidirectional() &&
		r.LocalInheritance.External.CheckBidirectional()
}
