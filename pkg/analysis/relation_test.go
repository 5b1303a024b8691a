package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelation_AddAndLookup(t *testing.T) {
	r := NewRelation[string, string]()
	r.Add("a", "x")
	r.Add("a", "y")
	r.Add("b", "x")

	assert.Equal(t, []string{"x", "y"}, r.Forward("a"))
	assert.Equal(t, []string{"a", "b"}, r.Reverse("x"))
	assert.True(t, r.Has("a", "x"))
	assert.False(t, r.Has("b", "y"))
	assert.Equal(t, 3, r.Size())
	assert.True(t, r.CheckBidirectional())
}

func TestRelation_Remove(t *testing.T) {
	r := NewRelation[string, string]()
	r.Add("a", "x")
	r.Add("a", "y")

	r.Remove("a", "x")
	assert.Equal(t, []string{"y"}, r.Forward("a"))
	assert.Empty(t, r.Reverse("x"))
	assert.True(t, r.CheckBidirectional())

	// Removing an absent pair is a no-op.
	r.Remove("z", "x")
	assert.Equal(t, 1, r.Size())
}

func TestRelation_RemoveKey(t *testing.T) {
	r := NewRelation[string, string]()
	r.Add("a", "x")
	r.Add("a", "y")
	r.Add("b", "y")

	r.RemoveKey("a")
	assert.Empty(t, r.Forward("a"))
	assert.Equal(t, []string{"b"}, r.Reverse("y"))
	assert.Empty(t, r.Reverse("x"))
	assert.True(t, r.CheckBidirectional())
}

func TestRelation_Union(t *testing.T) {
	r := NewRelation[string, string]()
	r.Add("a", "x")
	other := NewRelation[string, string]()
	other.Add("a", "y")
	other.Add("b", "z")

	r.Union(other)
	assert.Equal(t, []string{"x", "y"}, r.Forward("a"))
	assert.Equal(t, []string{"z"}, r.Forward("b"))
	assert.True(t, r.CheckBidirectional())
}

func TestRelation_ReconstructFromForward(t *testing.T) {
	r := NewRelation[string, string]()
	r.Add("stale", "stale")

	r.ReconstructFromForward(map[string][]string{
		"a": {"x", "y"},
		"b": {"x"},
	})
	assert.Equal(t, []string{"x", "y"}, r.Forward("a"))
	assert.Equal(t, []string{"a", "b"}, r.Reverse("x"))
	assert.Empty(t, r.Forward("stale"))
	assert.True(t, r.CheckBidirectional())
}

func TestRelation_EmptyAndCopy(t *testing.T) {
	r := NewRelation[File, File]()
	assert.True(t, r.IsEmpty())

	r.Add("s", "p")
	cp := r.Copy()
	r.Remove("s", "p")
	assert.True(t, r.IsEmpty())
	assert.True(t, cp.Has("s", "p"))
}

func TestRelations_DropSource(t *testing.T) {
	rel := NewRelations()
	rel.Classes.Add("a.scala", "A")
	rel.Classes.Add("a.scala", "A$inner")
	rel.SrcProd.Add("a.scala", "A.class")
	rel.LibraryDep.Add("a.scala", "lib.jar")
	rel.ProductClassName.Add("A", "A")
	rel.MemberRef.Internal.Add("A", "B")
	rel.Names.Add("A", "foo", NewUseScopeSet(ScopeDefault))

	rel.DropSource("a.scala")

	assert.Empty(t, rel.Classes.Forward("a.scala"))
	assert.Empty(t, rel.SrcProd.Forward("a.scala"))
	assert.Empty(t, rel.LibraryDep.Forward("a.scala"))
	assert.Empty(t, rel.ProductClassName.Forward("A"))
	assert.Empty(t, rel.MemberRef.Internal.Forward("A"))
	assert.Empty(t, rel.Names.Names("A"))
	assert.True(t, rel.CheckBidirectional())
}

func TestRelations_DependencyRouting(t *testing.T) {
	rel := NewRelations()
	rel.AddInternalDependency("B", "A", DependencyMemberRef)
	rel.AddInternalDependency("C", "A", DependencyInheritance)
	rel.AddExternalDependency("B", "lib.Ext", DependencyLocalInheritance)

	assert.Equal(t, []string{"B"}, rel.MemberRef.Internal.Reverse("A"))
	assert.Equal(t, []string{"C"}, rel.Inheritance.Internal.Reverse("A"))
	assert.Equal(t, []string{"B"}, rel.LocalInheritance.External.Reverse("lib.Ext"))
}

func TestRelations_SourcesOf(t *testing.T) {
	rel := NewRelations()
	rel.Classes.Add("a.scala", "A")
	rel.Classes.Add("b.scala", "B")
	rel.Classes.Add("b.scala", "B2")

	require.Equal(t, []File{"a.scala", "b.scala"}, rel.SourcesOf([]string{"A", "B", "B2"}))
	assert.Equal(t, File("b.scala"), rel.SourceOf("B2"))
	assert.Equal(t, File(""), rel.SourceOf("missing"))
}

func TestUsedNames_ScopeMerging(t *testing.T) {
	names := NewUsedNames()
	names.Add("A", "foo", NewUseScopeSet(ScopeDefault))
	names.Add("A", "foo", NewUseScopeSet(ScopeImplicit))

	scopes := names.ScopesOf("A", "foo")
	assert.True(t, scopes.Has(ScopeDefault))
	assert.True(t, scopes.Has(ScopeImplicit))
	assert.False(t, scopes.Has(ScopePatternMatchTarget))

	all := names.Names("A")
	require.Len(t, all, 1)
	assert.Equal(t, "foo", all[0].Name)
}
