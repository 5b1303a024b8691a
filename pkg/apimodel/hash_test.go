package apimodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleDef(name, returnType string) *Def {
	return &Def{
		Definition: Definition{Name: name, Access: &Public{}},
		ValueParams: [][]MethodParameter{{
			{Name: "x", Type: &Singleton{Path: "scala.Int"}},
		}},
		ReturnType: &Singleton{Path: returnType},
	}
}

func classWith(name string, defs ...ClassDefinition) *ClassLike {
	return &ClassLike{
		Name:     name,
		Access:   &Public{},
		DefType:  DefTypeClass,
		SelfType: Strict[Type](&EmptyType{}),
		Structure: &Structure{
			Parents:   Strict([]Type{&Singleton{Path: "scala.AnyRef"}}),
			Declared:  Strict(defs),
			Inherited: Strict([]ClassDefinition(nil)),
		},
		TopLevel: true,
	}
}

func TestHashAPI_Deterministic(t *testing.T) {
	api := Companions{Class: classWith("P", simpleDef("foo", "scala.Int"))}
	h1 := HashAPI(api)
	h2 := HashAPI(Companions{Class: classWith("P", simpleDef("foo", "scala.Int"))})
	assert.Equal(t, h1, h2)
}

func TestHashAPI_SignatureChange(t *testing.T) {
	before := Companions{Class: classWith("P", simpleDef("foo", "scala.Int"))}
	after := Companions{Class: classWith("P", simpleDef("foo", "scala.Long"))}
	assert.NotEqual(t, HashAPI(before), HashAPI(after))
}

func TestHashAPI_AnnotationOrderIrrelevant(t *testing.T) {
	ann1 := Annotation{Base: &Singleton{Path: "deprecated"}}
	ann2 := Annotation{Base: &Singleton{Path: "inline"}}

	a := classWith("P")
	a.Annotations = []Annotation{ann1, ann2}
	b := classWith("P")
	b.Annotations = []Annotation{ann2, ann1}

	assert.Equal(t, HashAPI(Companions{Class: a}), HashAPI(Companions{Class: b}))
}

func TestNameHashes_GroupsOverloadsByName(t *testing.T) {
	api := Companions{Class: classWith("P",
		simpleDef("foo", "scala.Int"),
		simpleDef("foo", "scala.String"),
		simpleDef("bar", "scala.Unit"),
	)}
	hashes := NameHashes(api)

	byName := make(map[string][]NameHash)
	for _, nh := range hashes {
		byName[nh.Name] = append(byName[nh.Name], nh)
	}
	require.Len(t, byName["foo"], 1)
	require.Len(t, byName["bar"], 1)

	// Changing one overload changes foo's hash but not bar's.
	changed := Companions{Class: classWith("P",
		simpleDef("foo", "scala.Int"),
		simpleDef("foo", "scala.Double"),
		simpleDef("bar", "scala.Unit"),
	)}
	changedByName := make(map[string]uint32)
	for _, nh := range NameHashes(changed) {
		changedByName[nh.Name+nh.Scope.String()] = nh.Hash
	}
	assert.NotEqual(t, byName["foo"][0].Hash, changedByName["foo"+ScopeDefault.String()])
	assert.Equal(t, byName["bar"][0].Hash, changedByName["bar"+ScopeDefault.String()])
}

func TestNameHashes_OverloadOrderIrrelevant(t *testing.T) {
	a := NameHashes(Companions{Class: classWith("P",
		simpleDef("foo", "scala.Int"),
		simpleDef("foo", "scala.String"),
	)})
	b := NameHashes(Companions{Class: classWith("P",
		simpleDef("foo", "scala.String"),
		simpleDef("foo", "scala.Int"),
	)})
	assert.Equal(t, a, b)
}

func TestNameHashes_ImplicitScope(t *testing.T) {
	def := simpleDef("conv", "scala.Int")
	def.Modifiers |= ModifierImplicit
	hashes := NameHashes(Companions{Class: classWith("P", def)})

	scopes := make(map[UseScope]bool)
	for _, nh := range hashes {
		if nh.Name == "conv" {
			scopes[nh.Scope] = true
		}
	}
	assert.True(t, scopes[ScopeDefault])
	assert.True(t, scopes[ScopeImplicit])
}

func TestNameHashes_SealedPatternScope(t *testing.T) {
	cl := classWith("Expr")
	cl.Modifiers |= ModifierSealed
	cl.Children = []Type{&Singleton{Path: "Lit"}, &Singleton{Path: "Add"}}
	hashes := NameHashes(Companions{Class: cl})

	var pattern *NameHash
	for i := range hashes {
		if hashes[i].Scope == ScopePatternMatchTarget {
			pattern = &hashes[i]
		}
	}
	require.NotNil(t, pattern)
	assert.Equal(t, "Expr", pattern.Name)

	// Adding a child changes the pattern-match hash.
	cl2 := classWith("Expr")
	cl2.Modifiers |= ModifierSealed
	cl2.Children = []Type{&Singleton{Path: "Lit"}, &Singleton{Path: "Add"}, &Singleton{Path: "Neg"}}
	for _, nh := range NameHashes(Companions{Class: cl2}) {
		if nh.Scope == ScopePatternMatchTarget {
			assert.NotEqual(t, pattern.Hash, nh.Hash)
		}
	}
}

func TestAnalyze_DetectsMacro(t *testing.T) {
	def := simpleDef("impl", "scala.Unit")
	def.Modifiers |= ModifierMacro
	ac := Analyze("M", 100, Companions{Class: classWith("M", def)})
	assert.True(t, ac.HasMacro)
	assert.Equal(t, int64(100), ac.CompilationTimestamp)
	assert.NotZero(t, ac.APIHash)

	plain := Analyze("P", 100, Companions{Class: classWith("P", simpleDef("foo", "scala.Int"))})
	assert.False(t, plain.HasMacro)
}

func TestHashStructure_IgnoresMembers(t *testing.T) {
	a := Companions{Class: classWith("P", simpleDef("foo", "scala.Int"))}
	b := Companions{Class: classWith("P", simpleDef("bar", "scala.Long"))}
	assert.Equal(t, HashStructure(a), HashStructure(b))

	// A parent change does alter the structure hash.
	c := classWith("P")
	c.Structure.Parents = Strict([]Type{&Singleton{Path: "Base"}})
	assert.NotEqual(t, HashStructure(a), HashStructure(Companions{Class: c}))
}

func TestLazy_SingleShot(t *testing.T) {
	calls := 0
	l := NewLazy(func() int {
		calls++
		return 7
	})
	assert.Equal(t, 7, l.Force())
	assert.Equal(t, 7, l.Force())
	assert.Equal(t, 1, calls)

	s := Strict("v")
	assert.Equal(t, "v", s.Force())
}
