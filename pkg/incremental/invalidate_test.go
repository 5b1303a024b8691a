package incremental

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/incr/pkg/analysis"
	"github.com/kraklabs/incr/pkg/apimodel"
)

// world builds the relation graph used across closure tests:
//
//	Q  uses P.foo        (member-ref, names foo)
//	R  uses P.bar        (member-ref, names bar)
//	S  extends P         (inheritance)
//	L  locally extends P (local inheritance)
func world() *analysis.Relations {
	rel := analysis.NewRelations()
	rel.Classes.Add("p.scala", "P")
	rel.Classes.Add("q.scala", "Q")
	rel.Classes.Add("r.scala", "R")
	rel.Classes.Add("s.scala", "S")
	rel.Classes.Add("l.scala", "L")
	rel.MemberRef.Internal.Add("Q", "P")
	rel.MemberRef.Internal.Add("R", "P")
	rel.Inheritance.Internal.Add("S", "P")
	rel.LocalInheritance.Internal.Add("L", "P")
	rel.Names.Add("Q", "foo", analysis.NewUseScopeSet(analysis.ScopeDefault))
	rel.Names.Add("R", "bar", analysis.NewUseScopeSet(analysis.ScopeDefault))
	return rel
}

func fooChange(structureChanged bool) []APIChange {
	m := make(ModifiedNames)
	m.Add("foo", apimodel.ScopeDefault)
	return []APIChange{{Class: "P", Modified: m, StructureChanged: structureChanged}}
}

func TestClosure_NameHashPruning(t *testing.T) {
	opts := DefaultOptions()
	opts.RecompileAllFraction = 1.0
	inv := NewInvalidator(opts, nil)
	res := inv.Closure(world(), fooChange(false), 5)

	// Q names foo, so it is invalid; R only names bar and is pruned.
	assert.True(t, res.Contains("Q"))
	assert.False(t, res.Contains("R"))
	// S inherits from P and is invalid regardless of names.
	assert.True(t, res.Contains("S"))
	// L inherits locally; P's structure did not change.
	assert.False(t, res.Contains("L"))
	assert.False(t, res.RecompileAll)
}

func TestClosure_NameHashingDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.NameHashing = false
	opts.RecompileAllFraction = 1.0
	inv := NewInvalidator(opts, nil)
	res := inv.Closure(world(), fooChange(false), 5)

	// Without name hashing, every member-ref dependent is invalid.
	assert.True(t, res.Contains("Q"))
	assert.True(t, res.Contains("R"))
}

func TestClosure_StructureChangeReachesLocalInheritance(t *testing.T) {
	opts := DefaultOptions()
	opts.RecompileAllFraction = 1.0
	inv := NewInvalidator(opts, nil)
	res := inv.Closure(world(), fooChange(true), 5)
	assert.True(t, res.Contains("L"))
}

func TestClosure_MacroGainForcesDependents(t *testing.T) {
	opts := DefaultOptions()
	opts.RecompileAllFraction = 1.0
	inv := NewInvalidator(opts, nil)

	m := make(ModifiedNames)
	m.Add("foo", apimodel.ScopeDefault)
	res := inv.Closure(world(), []APIChange{{Class: "P", Modified: m, MacroGained: true}}, 5)

	// Macro gain disables pruning: R is invalid despite not naming foo.
	assert.True(t, res.Contains("R"))
}

func TestClosure_InheritanceIsTransitive(t *testing.T) {
	rel := world()
	// T extends S extends P.
	rel.Classes.Add("t.scala", "T")
	rel.Inheritance.Internal.Add("T", "S")

	opts := DefaultOptions()
	opts.RecompileAllFraction = 1.0
	inv := NewInvalidator(opts, nil)
	res := inv.Closure(rel, fooChange(false), 6)

	assert.True(t, res.Contains("S"))
	assert.True(t, res.Contains("T"))
}

func TestClosure_FractionGate(t *testing.T) {
	opts := DefaultOptions()
	opts.RecompileAllFraction = 0.3
	inv := NewInvalidator(opts, nil)
	res := inv.Closure(world(), fooChange(false), 5)

	// 3 of 5 classes invalid >= 0.3: whole module is dirty.
	assert.True(t, res.RecompileAll)
	assert.ElementsMatch(t,
		[]analysis.File{"l.scala", "p.scala", "q.scala", "r.scala", "s.scala"},
		res.Sources)
}

func TestClosure_DepthCapBails(t *testing.T) {
	rel := analysis.NewRelations()
	// A chain deeper than the cap: C0 <- C1 <- ... <- C9 (inheritance).
	for i := 0; i < 10; i++ {
		rel.Classes.Add(analysis.File(string(rune('a'+i))+".scala"), className(i))
		if i > 0 {
			rel.Inheritance.Internal.Add(className(i), className(i-1))
		}
	}

	opts := DefaultOptions()
	opts.TransitiveStep = 3
	opts.RecompileAllFraction = 1.0
	inv := NewInvalidator(opts, nil)

	m := make(ModifiedNames)
	m.Add("x", apimodel.ScopeDefault)
	res := inv.Closure(rel, []APIChange{{Class: className(0), Modified: m}}, 10)
	assert.True(t, res.RecompileAll)
	assert.Len(t, res.Sources, 10)
}

func className(i int) string {
	return "C" + string(rune('0'+i))
}

func TestClosure_Idempotent(t *testing.T) {
	opts := DefaultOptions()
	opts.RecompileAllFraction = 1.0
	inv := NewInvalidator(opts, nil)
	rel := world()

	first := inv.Closure(rel, fooChange(false), 5)

	// Re-running with the same seeds adds nothing new.
	second := inv.Closure(rel, fooChange(false), 5)
	require.Equal(t, first.Invalid, second.Invalid)
	require.Equal(t, first.Sources, second.Sources)
}

func TestClosure_EmptySeeds(t *testing.T) {
	inv := NewInvalidator(DefaultOptions(), nil)
	res := inv.Closure(world(), nil, 5)
	assert.Empty(t, res.Invalid)
	assert.Empty(t, res.Sources)
	assert.Zero(t, res.Rounds)
}

func TestClosure_RemovedClassInvalidatesDependentsUnconditionally(t *testing.T) {
	opts := DefaultOptions()
	opts.RecompileAllFraction = 1.0
	inv := NewInvalidator(opts, nil)

	m := make(ModifiedNames)
	m.Add("foo", apimodel.ScopeDefault)
	m.Add("bar", apimodel.ScopeDefault)
	res := inv.Closure(world(), []APIChange{{Class: "P", Modified: m, Removed: true, StructureChanged: true}}, 5)

	assert.True(t, res.Contains("Q"))
	assert.True(t, res.Contains("R"))
	assert.True(t, res.Contains("S"))
	assert.True(t, res.Contains("L"))
}
