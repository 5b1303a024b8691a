// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apimodel describes the structural API of compiled classes:
// the type language, class-like definitions, and the hashing that turns
// an API into the compact fingerprints the invalidation engine prunes
// with. The model is pure data; class references are by name and always
// resolved through the APIs mapping, never by pointer, so the in-memory
// graph is acyclic.
package apimodel

// Type is the sum of all type forms appearing in a class API.
type Type interface {
	isType()
}

// ParameterRef is a reference to a type parameter by its identifier.
type ParameterRef struct {
	ID string
}

// Parameterized is a type constructor applied to arguments.
type Parameterized struct {
	Base Type
	Args []Type
}

// Structure is a refinement or class template: parents plus declared and
// inherited definitions. All three are lazy; most stored APIs are never
// walked in a given run, so the codec materializes them only on demand.
type Structure struct {
	Parents   *Lazy[[]Type]
	Declared  *Lazy[[]ClassDefinition]
	Inherited *Lazy[[]ClassDefinition]
}

// Polymorphic is a type abstracted over type parameters.
type Polymorphic struct {
	Base   Type
	Params []TypeParameter
}

// Constant is a literal singleton type.
type Constant struct {
	Base  Type
	Value string
}

// Existential is a type with existentially quantified clauses.
type Existential struct {
	Base   Type
	Clause []TypeParameter
}

// Singleton is the type of a stable path.
type Singleton struct {
	Path string
}

// Projection selects a type member from a prefix type.
type Projection struct {
	Prefix Type
	ID     string
}

// Annotated attaches annotations to an underlying type.
type Annotated struct {
	Base        Type
	Annotations []Annotation
}

// EmptyType is the absent type, used where no type applies.
type EmptyType struct{}

func (*ParameterRef) isType()  {}
func (*Parameterized) isType() {}
func (*Structure) isType()     {}
func (*Polymorphic) isType()   {}
func (*Constant) isType()      {}
func (*Existential) isType()   {}
func (*Singleton) isType()     {}
func (*Projection) isType()    {}
func (*Annotated) isType()     {}
func (*EmptyType) isType()     {}

// Variance of a type parameter.
type Variance uint8

const (
	Invariant Variance = iota
	Covariant
	Contravariant
)

// TypeParameter declares one type parameter with its bounds.
type TypeParameter struct {
	ID          string
	Annotations []Annotation
	TypeParams  []TypeParameter
	Variance    Variance
	Lower       Type
	Upper       Type
}

// AnnotationArgument is one named argument of an annotation.
type AnnotationArgument struct {
	Name  string
	Value string
}

// Annotation is an annotation applied to a definition or type. The set
// of annotations on a definition is unordered for equality purposes.
type Annotation struct {
	Base Type
	Args []AnnotationArgument
}

// ParameterModifier distinguishes plain, repeated, and by-name method
// parameters.
type ParameterModifier uint8

const (
	ParamPlain ParameterModifier = iota
	ParamRepeated
	ParamByName
)

// MethodParameter is one value parameter of a method.
type MethodParameter struct {
	Name       string
	Type       Type
	HasDefault bool
	Modifier   ParameterModifier
}
