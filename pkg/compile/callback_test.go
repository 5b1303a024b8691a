package compile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/incr/pkg/analysis"
	"github.com/kraklabs/incr/pkg/apimodel"
)

func testClass(name string, defType apimodel.DefinitionType) *apimodel.ClassLike {
	return &apimodel.ClassLike{
		Name:     name,
		Access:   &apimodel.Public{},
		DefType:  defType,
		SelfType: apimodel.Strict[apimodel.Type](&apimodel.EmptyType{}),
		Structure: &apimodel.Structure{
			Parents:   apimodel.Strict([]apimodel.Type(nil)),
			Declared:  apimodel.Strict([]apimodel.ClassDefinition(nil)),
			Inherited: apimodel.Strict([]apimodel.ClassDefinition(nil)),
		},
		TopLevel: true,
	}
}

func newTestCallback(internal map[string]bool) *RecordingCallback {
	return NewRecordingCallback(
		analysis.NewStamper(nil),
		NoLookup{},
		analysis.SingleOutput("/out"),
		func(name string) bool { return internal[name] },
		nil,
	)
}

func TestRecordingCallback_AccumulatesCompanions(t *testing.T) {
	rc := newTestCallback(map[string]bool{"A": true})
	require.NoError(t, rc.StartSource("/src/a.scala"))
	require.NoError(t, rc.API("/src/a.scala", testClass("A", apimodel.DefTypeClass)))
	require.NoError(t, rc.API("/src/a.scala", testClass("A", apimodel.DefTypeModule)))
	require.NoError(t, rc.UsedName("A", "foo", analysis.NewUseScopeSet(analysis.ScopeDefault)))

	fresh, err := rc.Finish(123, analysis.SingleOutput("/out"))
	require.NoError(t, err)

	ac := fresh.APIs.InternalAPI("A")
	require.NotNil(t, ac)
	api := ac.API.Force()
	assert.NotNil(t, api.Class)
	assert.NotNil(t, api.Module)
	assert.Equal(t, int64(123), ac.CompilationTimestamp)
	assert.Equal(t, []string{"A"}, fresh.Relations.Classes.Forward("/src/a.scala"))
	require.Len(t, fresh.Compilations, 1)
}

func TestRecordingCallback_DependencyClassification(t *testing.T) {
	rc := newTestCallback(map[string]bool{"A": true, "B": true})
	require.NoError(t, rc.StartSource("/src/b.scala"))
	require.NoError(t, rc.ClassDependency("A", "B", analysis.DependencyMemberRef))
	require.NoError(t, rc.ClassDependency("ext.Lib", "B", analysis.DependencyInheritance))
	// Self-dependencies are dropped.
	require.NoError(t, rc.ClassDependency("B", "B", analysis.DependencyMemberRef))

	assert.Equal(t, []string{"A"}, rc.fresh.Relations.MemberRef.Internal.Forward("B"))
	assert.Equal(t, []string{"ext.Lib"}, rc.fresh.Relations.Inheritance.External.Forward("B"))
	assert.Empty(t, rc.fresh.Relations.MemberRef.Internal.Forward("B2"))

	// Unresolvable external classes get a placeholder API so coverage
	// holds, and are reported as missing.
	assert.NotNil(t, rc.fresh.APIs.ExternalAPI("ext.Lib"))
	assert.Equal(t, []string{"ext.Lib"}, rc.MissingExternals())
}

func TestRecordingCallback_EventBeforeStartSourceIsViolation(t *testing.T) {
	rc := newTestCallback(nil)
	err := rc.ClassDependency("A", "B", analysis.DependencyMemberRef)
	require.Error(t, err)
	assert.True(t, IsCallbackViolation(err))
}

func TestRecordingCallback_ProductOutsideOutputIsViolation(t *testing.T) {
	rc := newTestCallback(nil)
	require.NoError(t, rc.StartSource("/src/a.scala"))

	err := rc.GeneratedNonLocalClass("/src/a.scala", "/elsewhere/A.class", "A", "A")
	require.Error(t, err)
	assert.True(t, IsCallbackViolation(err))

	require.NoError(t, rc.GeneratedNonLocalClass("/src/a.scala", "/out/A.class", "A", "A"))
	assert.Equal(t, []analysis.File{"/out/A.class"}, rc.fresh.Relations.SrcProd.Forward("/src/a.scala"))
	assert.Equal(t, []string{"A"}, rc.fresh.Relations.ProductClassName.Forward("A"))
}

func TestRecordingCallback_UnregisteredSourceIsViolation(t *testing.T) {
	rc := newTestCallback(nil)
	require.NoError(t, rc.StartSource("/src/a.scala"))
	err := rc.GeneratedLocalClass("/src/other.scala", "/out/X.class")
	require.Error(t, err)
	assert.True(t, IsCallbackViolation(err))
}

func TestRecordingCallback_Problems(t *testing.T) {
	rc := newTestCallback(nil)
	require.NoError(t, rc.StartSource("/src/a.scala"))
	require.NoError(t, rc.Problem("/src/a.scala", analysis.Problem{
		Severity: analysis.SeverityError, Message: "broken",
	}, true))
	require.NoError(t, rc.Problem("/src/a.scala", analysis.Problem{
		Severity: analysis.SeverityWarn, Message: "meh",
	}, false))
	require.NoError(t, rc.MainClass("/src/a.scala", "Main"))

	info := rc.fresh.SourceInfos[analysis.File("/src/a.scala")]
	require.NotNil(t, info)
	assert.Len(t, info.ReportedProblems, 1)
	assert.Len(t, info.UnreportedProblems, 1)
	assert.True(t, info.HasErrors())
	assert.Equal(t, []string{"Main"}, info.MainClasses)
}

func TestStoreCache_PutGetInvalidate(t *testing.T) {
	c := NewStoreCache()
	a := analysis.Empty()
	setup := analysis.MiniSetup{CompilerVersion: "x"}

	_, _, ok := c.Get("/p")
	assert.False(t, ok)

	c.Put("/p", a, setup)
	got, gotSetup, ok := c.Get("/p")
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, "x", gotSetup.CompilerVersion)

	c.Invalidate("/p")
	_, _, ok = c.Get("/p")
	assert.False(t, ok)

	c.Put("/p", a, setup)
	c.Flush()
	assert.Zero(t, c.Len())
}
