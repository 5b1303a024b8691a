package analysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) File {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return File(path)
}

func TestStamper_SourceHash(t *testing.T) {
	dir := t.TempDir()
	st := NewStamper(nil)
	f := writeFile(t, dir, "a.scala", "class A")

	stamp := st.StampSource(f)
	require.Equal(t, StampHash, stamp.Kind)
	assert.NotEmpty(t, stamp.Hash)

	// Same content stamps equal; changed content does not.
	assert.False(t, Modified(stamp, st.StampSource(f)))
	f2 := writeFile(t, dir, "a.scala", "class A { def x = 1 }")
	assert.True(t, Modified(stamp, st.StampSource(f2)))
}

func TestStamper_VanishedFile(t *testing.T) {
	st := NewStamper(nil)
	stamp := st.StampSource(File(filepath.Join(t.TempDir(), "gone.scala")))
	assert.True(t, stamp.IsEmpty())
	assert.True(t, st.StampProduct("no-such-product").IsEmpty())
}

func TestStamper_ProductLastModified(t *testing.T) {
	dir := t.TempDir()
	st := NewStamper(nil)
	f := writeFile(t, dir, "A.class", "bytecode")

	stamp := st.StampProduct(f)
	require.Equal(t, StampLastModified, stamp.Kind)
	assert.Positive(t, stamp.Millis)
}

func TestStamper_KindChangeIsModification(t *testing.T) {
	assert.True(t, Modified(EmptyStamp(), LastModifiedStamp(1)))
	assert.True(t, Modified(HashStamp([]byte{1}), LastModifiedStamp(1)))
	assert.False(t, Modified(EmptyStamp(), EmptyStamp()))
}

func TestStamper_StampSources(t *testing.T) {
	dir := t.TempDir()
	st := NewStamper(nil)
	var files []File
	for _, name := range []string{"a.scala", "b.scala", "c.scala"} {
		files = append(files, writeFile(t, dir, name, "class "+name))
	}
	files = append(files, File(filepath.Join(dir, "missing.scala")))

	stamps, err := st.StampSources(context.Background(), files, 2)
	require.NoError(t, err)
	require.Len(t, stamps, 4)
	assert.Equal(t, StampHash, stamps[files[0]].Kind)
	assert.True(t, stamps[files[3]].IsEmpty())
}

func TestStamps_RolesAndOrder(t *testing.T) {
	s := NewStamps()
	s.Sources["b.scala"] = HashStamp([]byte{1})
	s.Sources["a.scala"] = HashStamp([]byte{2})
	s.Products["A.class"] = LastModifiedStamp(10)
	s.Binaries["lib.jar"] = HashStamp([]byte{3})

	assert.Equal(t, []File{"a.scala", "b.scala"}, s.AllSources())
	assert.Equal(t, []File{"A.class"}, s.AllProducts())
	assert.True(t, s.Source("missing").IsEmpty())
	assert.False(t, s.Binary("lib.jar").IsEmpty())
}
