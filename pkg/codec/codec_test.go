package codec

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kraklabs/incr/pkg/analysis"
	"github.com/kraklabs/incr/pkg/apimodel"
)

func sampleAPI(name string, parents []string, defNames ...string) apimodel.Companions {
	parentTypes := make([]apimodel.Type, len(parents))
	for i, p := range parents {
		parentTypes[i] = &apimodel.Singleton{Path: p}
	}
	defs := make([]apimodel.ClassDefinition, len(defNames))
	for i, dn := range defNames {
		defs[i] = &apimodel.Def{
			Definition: apimodel.Definition{Name: dn, Access: &apimodel.Public{}},
			ValueParams: [][]apimodel.MethodParameter{{
				{Name: "x", Type: &apimodel.Singleton{Path: "scala.Int"}},
			}},
			ReturnType: &apimodel.Singleton{Path: "scala.Int"},
		}
	}
	return apimodel.Companions{Class: &apimodel.ClassLike{
		Name:     name,
		Access:   &apimodel.Private{Qualifier: &apimodel.IDQualifier{Value: "pkg"}},
		DefType:  apimodel.DefTypeClass,
		SelfType: apimodel.Strict[apimodel.Type](&apimodel.EmptyType{}),
		Structure: &apimodel.Structure{
			Parents:   apimodel.Strict(parentTypes),
			Declared:  apimodel.Strict(defs),
			Inherited: apimodel.Strict([]apimodel.ClassDefinition(nil)),
		},
		TypeParams: []apimodel.TypeParameter{{
			ID:       "T",
			Variance: apimodel.Covariant,
			Lower:    &apimodel.EmptyType{},
			Upper:    &apimodel.Singleton{Path: "scala.Any"},
		}},
		TopLevel: true,
	}}
}

func sampleAnalysis() (*analysis.Analysis, analysis.MiniSetup) {
	a := analysis.Empty()
	a.Stamps.Sources["/src/a.scala"] = analysis.HashStamp([]byte{1, 2})
	a.Stamps.Sources["/src/b.scala"] = analysis.HashStamp([]byte{3, 4})
	a.Stamps.Products["/out/A.class"] = analysis.LastModifiedStamp(111)
	a.Stamps.Binaries["/lib/dep.jar"] = analysis.HashStamp([]byte{5})

	a.Relations.SrcProd.Add("/src/a.scala", "/out/A.class")
	a.Relations.LibraryDep.Add("/src/b.scala", "/lib/dep.jar")
	a.Relations.LibraryClassName.Add("/lib/dep.jar", "lib.Dep")
	a.Relations.Classes.Add("/src/a.scala", "A")
	a.Relations.Classes.Add("/src/b.scala", "B")
	a.Relations.ProductClassName.Add("A", "A")
	a.Relations.MemberRef.Internal.Add("B", "A")
	a.Relations.MemberRef.External.Add("B", "lib.Dep")
	a.Relations.Inheritance.Internal.Add("B", "A")
	a.Relations.Names.Add("B", "foo", analysis.NewUseScopeSet(analysis.ScopeDefault, analysis.ScopeImplicit))

	a.APIs.AddInternal(apimodel.Analyze("A", 10, sampleAPI("A", nil, "foo", "bar")))
	a.APIs.AddInternal(apimodel.Analyze("B", 10, sampleAPI("B", []string{"A"}, "baz")))
	a.APIs.AddExternal(apimodel.Analyze("lib.Dep", 5, sampleAPI("lib.Dep", nil, "run")))

	pos := analysis.NewPosition()
	pos.Line = 3
	pos.SourcePath = "/src/a.scala"
	a.SourceInfos["/src/a.scala"] = &analysis.SourceInfo{
		ReportedProblems: []analysis.Problem{{
			Category: "typer",
			Severity: analysis.SeverityWarn,
			Message:  "unused value",
			Position: pos,
		}},
		MainClasses: []string{"A"},
	}
	a.Compilations = []analysis.Compilation{{
		StartTimeMillis: 1000,
		Output:          analysis.SingleOutput("/out"),
	}}

	setup := analysis.MiniSetup{
		Output:          analysis.SingleOutput("/out"),
		CompilerVersion: "2.13.12",
		Order:           analysis.CompileOrderMixed,
		StoreAPIs:       true,
		Options: analysis.MiniOptions{
			ClasspathHash: []analysis.FileHash{{File: "/lib/dep.jar", Hash: "abc"}},
			ScalacOptions: []string{"-deprecation"},
		},
		Extra: []analysis.ExtraEntry{{Key: "k", Value: "v"}},
	}
	return a, setup
}

func TestStore_RoundTrip(t *testing.T) {
	a, setup := sampleAnalysis()
	store := NewStore(filepath.Join(t.TempDir(), "analysis.bin"), Identity(), nil)
	require.NoError(t, store.Write(a, setup, true))

	got, gotSetup, err := store.Read()
	require.NoError(t, err)

	assert.Equal(t, a.Stamps.Sources, got.Stamps.Sources)
	assert.Equal(t, a.Stamps.Products, got.Stamps.Products)
	assert.Equal(t, a.Stamps.Binaries, got.Stamps.Binaries)

	assert.Equal(t, []analysis.File{"/out/A.class"}, got.Relations.SrcProd.Forward("/src/a.scala"))
	assert.Equal(t, []string{"A"}, got.Relations.MemberRef.Internal.Forward("B"))
	assert.Equal(t, []string{"lib.Dep"}, got.Relations.MemberRef.External.Forward("B"))
	assert.True(t, got.Relations.CheckBidirectional())
	assert.True(t, got.Relations.Names.ScopesOf("B", "foo").Has(analysis.ScopeImplicit))

	require.True(t, setup.Equivalent(gotSetup))

	gotA := got.APIs.InternalAPI("A")
	require.NotNil(t, gotA)
	assert.Equal(t, a.APIs.InternalAPI("A").APIHash, gotA.APIHash)
	assert.Equal(t, a.APIs.InternalAPI("A").NameHashes, gotA.NameHashes)

	info := got.SourceInfos[analysis.File("/src/a.scala")]
	require.NotNil(t, info)
	require.Len(t, info.ReportedProblems, 1)
	assert.Equal(t, int32(3), info.ReportedProblems[0].Position.Line)
	assert.Equal(t, analysis.NoPosition, info.ReportedProblems[0].Position.EndLine)

	require.NoError(t, got.CheckInvariants())
}

// Rehashing the decoded API must reproduce the stored hash: the lazy
// structure thunks decode to the same canonical form.
func TestStore_DecodedAPIRehashesEqual(t *testing.T) {
	a, setup := sampleAnalysis()
	store := NewStore(filepath.Join(t.TempDir(), "analysis.bin"), Identity(), nil)
	require.NoError(t, store.Write(a, setup, true))

	got, _, err := store.Read()
	require.NoError(t, err)

	gotA := got.APIs.InternalAPI("A")
	require.NotNil(t, gotA)
	assert.Equal(t, gotA.APIHash, apimodel.HashAPI(gotA.API.Force()))

	parents := got.APIs.InternalAPI("B").API.Force().Class.Structure.Parents.Force()
	require.Len(t, parents, 1)
	assert.Equal(t, &apimodel.Singleton{Path: "A"}, parents[0])
}

func TestStore_DeterministicBytes(t *testing.T) {
	a, setup := sampleAnalysis()
	dir := t.TempDir()

	s1 := NewStore(filepath.Join(dir, "one.bin"), Identity(), nil)
	s2 := NewStore(filepath.Join(dir, "two.bin"), Identity(), nil)
	require.NoError(t, s1.Write(a, setup, true))
	require.NoError(t, s2.Write(a, setup, true))

	b1, err := os.ReadFile(s1.Path())
	require.NoError(t, err)
	b2, err := os.ReadFile(s2.Path())
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	api1, err := os.ReadFile(s1.APIsPath())
	require.NoError(t, err)
	api2, err := os.ReadFile(s2.APIsPath())
	require.NoError(t, err)
	assert.Equal(t, api1, api2)
}

func TestStore_ReadWithoutAPIs(t *testing.T) {
	a, setup := sampleAnalysis()
	store := NewStore(filepath.Join(t.TempDir(), "analysis.bin"), Identity(), nil)
	require.NoError(t, store.Write(a, setup, true))

	got, _, err := store.ReadWithoutAPIs()
	require.NoError(t, err)
	assert.Empty(t, got.APIs.Internal)
	assert.Equal(t, []string{"A"}, got.Relations.MemberRef.Internal.Forward("B"))
	assert.Equal(t, 2, got.Stats().ClassCount)
}

func TestStore_StoreAPIsFalseDropsStructures(t *testing.T) {
	a, setup := sampleAnalysis()
	store := NewStore(filepath.Join(t.TempDir(), "analysis.bin"), Identity(), nil)
	require.NoError(t, store.Write(a, setup, false))

	got, _, err := store.Read()
	require.NoError(t, err)
	gotA := got.APIs.InternalAPI("A")
	require.NotNil(t, gotA)
	// Hashes survive, structures do not.
	assert.Equal(t, a.APIs.InternalAPI("A").APIHash, gotA.APIHash)
	assert.Nil(t, gotA.API.Force().Class)
}

func TestStore_Mappers(t *testing.T) {
	a, setup := sampleAnalysis()
	dir := t.TempDir()

	rewriteRoot := func(f analysis.File) analysis.File {
		return analysis.File(strings.Replace(string(f), "/src/", "/ci/workspace/src/", 1))
	}
	mappers := ReadWriteMappers{
		Read: Mappers{SourceFile: rewriteRoot},
	}

	w := NewStore(filepath.Join(dir, "analysis.bin"), Identity(), nil)
	require.NoError(t, w.Write(a, setup, true))

	r := NewStore(filepath.Join(dir, "analysis.bin"), mappers, nil)
	got, _, err := r.Read()
	require.NoError(t, err)
	assert.Contains(t, got.Stamps.Sources, analysis.File("/ci/workspace/src/a.scala"))
	assert.NotContains(t, got.Stamps.Sources, analysis.File("/src/a.scala"))
	assert.Equal(t, []string{"A"}, got.Relations.Classes.Forward("/ci/workspace/src/a.scala"))
}

func TestStore_MissingFileIsDecodeError(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.bin"), Identity(), nil)
	_, _, err := store.Read()
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
}

func TestStore_RejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.bin")

	var body bytes.Buffer
	enc := msgpack.NewEncoder(&body)
	require.NoError(t, enc.Encode(uint32(99)))
	require.NoError(t, enc.Encode(&wireAnalysisFile{}))

	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(body.Len()))
	require.NoError(t, os.WriteFile(path, append(length[:], body.Bytes()...), 0600))

	store := NewStore(path, Identity(), nil)
	_, _, err := store.ReadWithoutAPIs()
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.Contains(t, err.Error(), "version 99")
}

func TestStore_TruncatedFileIsDecodeError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.bin")
	require.NoError(t, os.WriteFile(path, []byte{0, 1, 2}, 0600))

	store := NewStore(path, Identity(), nil)
	_, _, err := store.ReadWithoutAPIs()
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
}

func TestStore_DeleteRemovesBothStreams(t *testing.T) {
	a, setup := sampleAnalysis()
	store := NewStore(filepath.Join(t.TempDir(), "analysis.bin"), Identity(), nil)
	require.NoError(t, store.Write(a, setup, true))
	require.True(t, store.Exists())

	require.NoError(t, store.Delete())
	assert.False(t, store.Exists())
	_, err := os.Stat(store.APIsPath())
	assert.True(t, os.IsNotExist(err))

	// Deleting again is a no-op.
	require.NoError(t, store.Delete())
}
