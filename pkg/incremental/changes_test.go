package incremental

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/incr/pkg/analysis"
	"github.com/kraklabs/incr/pkg/apimodel"
)

func prevAnalysis() *analysis.Analysis {
	a := analysis.Empty()
	a.Stamps.Sources["a.scala"] = analysis.HashStamp([]byte{1})
	a.Stamps.Sources["b.scala"] = analysis.HashStamp([]byte{2})
	a.Stamps.Products["A.class"] = analysis.LastModifiedStamp(100)
	a.Stamps.Binaries["lib.jar"] = analysis.HashStamp([]byte{3})
	a.Relations.Classes.Add("a.scala", "A")
	a.Relations.Classes.Add("b.scala", "B")
	a.Relations.SrcProd.Add("a.scala", "A.class")
	a.Relations.LibraryDep.Add("b.scala", "lib.jar")
	a.APIs.AddInternal(analyzed("A", nil, defWithReturn("foo", "scala.Int")))
	a.APIs.AddInternal(analyzed("B", nil, defWithReturn("bar", "scala.Int")))
	return a
}

func unchangedState(a *analysis.Analysis) CurrentState {
	return CurrentState{
		SourceStamps: map[analysis.File]analysis.Stamp{
			"a.scala": a.Stamps.Source("a.scala"),
			"b.scala": a.Stamps.Source("b.scala"),
		},
		ProductStamp: func(f analysis.File) analysis.Stamp { return a.Stamps.Product(f) },
		BinaryStamp:  func(f analysis.File) analysis.Stamp { return a.Stamps.Binary(f) },
	}
}

func TestDetectInitialChanges_Clean(t *testing.T) {
	a := prevAnalysis()
	changes := DetectInitialChanges(a, unchangedState(a), nil)
	assert.True(t, changes.IsClean())
	assert.Empty(t, changes.InvalidClasses)
	assert.Empty(t, changes.InvalidSources(a.Relations))
}

func TestDetectInitialChanges_ModifiedSource(t *testing.T) {
	a := prevAnalysis()
	cur := unchangedState(a)
	cur.SourceStamps["a.scala"] = analysis.HashStamp([]byte{99})

	changes := DetectInitialChanges(a, cur, nil)
	assert.Equal(t, []analysis.File{"a.scala"}, changes.ModifiedSources)
	assert.Contains(t, changes.InvalidClasses, "A")
	assert.NotContains(t, changes.InvalidClasses, "B")
	assert.Equal(t, []analysis.File{"a.scala"}, changes.InvalidSources(a.Relations))
}

func TestDetectInitialChanges_RemovedAndAdded(t *testing.T) {
	a := prevAnalysis()
	cur := unchangedState(a)
	delete(cur.SourceStamps, "b.scala")
	cur.SourceStamps["c.scala"] = analysis.HashStamp([]byte{7})

	changes := DetectInitialChanges(a, cur, nil)
	assert.Equal(t, []analysis.File{"b.scala"}, changes.RemovedSources)
	assert.Equal(t, []analysis.File{"c.scala"}, changes.AddedSources)
	assert.Contains(t, changes.InvalidClasses, "B")

	sources := changes.InvalidSources(a.Relations)
	assert.Contains(t, sources, analysis.File("c.scala"))
	// Removed sources are not fed back to the compiler.
	assert.NotContains(t, sources, analysis.File("b.scala"))
}

func TestDetectInitialChanges_MissingProductMeansModified(t *testing.T) {
	a := prevAnalysis()
	cur := unchangedState(a)
	cur.ProductStamp = func(f analysis.File) analysis.Stamp { return analysis.EmptyStamp() }

	changes := DetectInitialChanges(a, cur, nil)
	assert.Equal(t, []analysis.File{"a.scala"}, changes.ModifiedSources)
}

func TestDetectInitialChanges_BinaryChange(t *testing.T) {
	a := prevAnalysis()
	cur := unchangedState(a)
	cur.BinaryStamp = func(f analysis.File) analysis.Stamp { return analysis.HashStamp([]byte{42}) }

	changes := DetectInitialChanges(a, cur, nil)
	assert.Equal(t, []analysis.File{"lib.jar"}, changes.ModifiedBinaries)
	assert.Equal(t, []analysis.File{"b.scala"}, changes.BinaryAffectedSources)
	assert.Contains(t, changes.InvalidSources(a.Relations), analysis.File("b.scala"))
}

func TestDetectInitialChanges_ExternalAPIChange(t *testing.T) {
	a := prevAnalysis()
	external := analyzed("lib.Ext", nil, defWithReturn("run", "scala.Unit"))
	a.Relations.MemberRef.External.Add("B", "lib.Ext")
	a.APIs.AddExternal(external)

	// Unchanged external API: clean.
	cur := unchangedState(a)
	cur.ExternalAPI = func(name string) *apimodel.AnalyzedClass { return external }
	changes := DetectInitialChanges(a, cur, nil)
	assert.True(t, changes.IsClean())

	// Changed external API invalidates the dependent.
	cur.ExternalAPI = func(name string) *apimodel.AnalyzedClass {
		return analyzed("lib.Ext", nil, defWithReturn("run", "scala.Int"))
	}
	changes = DetectInitialChanges(a, cur, nil)
	require.Equal(t, []string{"lib.Ext"}, changes.ChangedExternal)
	assert.Contains(t, changes.InvalidClasses, "B")
	assert.Empty(t, changes.MissingExternal)
}

func TestDetectInitialChanges_MissingExternal(t *testing.T) {
	a := prevAnalysis()
	a.Relations.Inheritance.External.Add("B", "lib.Gone")
	a.APIs.AddExternal(analyzed("lib.Gone", nil))

	cur := unchangedState(a)
	cur.ExternalAPI = func(name string) *apimodel.AnalyzedClass { return nil }

	changes := DetectInitialChanges(a, cur, nil)
	assert.Equal(t, []string{"lib.Gone"}, changes.MissingExternal)
	// Dependents are invalidated conservatively.
	assert.Contains(t, changes.InvalidClasses, "B")
}
