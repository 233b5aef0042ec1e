package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storepm/pkg/digest"
)

func TestInsertAndLookup(t *testing.T) {
	n := New()
	d1 := digest.SHA256Bytes([]byte("index"))
	d2 := digest.SHA256Bytes([]byte("pkgjson"))

	n.Insert("index.js", d1)
	n.Insert("lib/helper.js", d2)

	got, ok := n.Lookup("index.js")
	require.True(t, ok)
	assert.True(t, d1.Equal(got))

	got, ok = n.Lookup("lib/helper.js")
	require.True(t, ok)
	assert.True(t, d2.Equal(got))

	_, ok = n.Lookup("missing.js")
	assert.False(t, ok)
}

func TestInsertIgnoresDotSegments(t *testing.T) {
	n := New()
	d := digest.SHA256Bytes([]byte("x"))
	n.Insert("./lib/./a.js", d)

	got, ok := n.Lookup("lib/a.js")
	require.True(t, ok)
	assert.True(t, d.Equal(got))
}

func TestInsertSplitsBackslashes(t *testing.T) {
	n := New()
	d := digest.SHA256Bytes([]byte("x"))
	n.Insert(`lib\win\a.js`, d)

	_, ok := n.Lookup("lib/win/a.js")
	assert.True(t, ok)
}

func TestWalkVisitsSortedLeaves(t *testing.T) {
	n := New()
	n.Insert("b.js", digest.SHA256Bytes([]byte("b")))
	n.Insert("a.js", digest.SHA256Bytes([]byte("a")))
	n.Insert("dir/c.js", digest.SHA256Bytes([]byte("c")))

	var paths []string
	n.Walk(func(path string, d digest.Digest) {
		paths = append(paths, path)
	})
	assert.Equal(t, []string{"a.js", "b.js", "dir/c.js"}, paths)
}

func TestJSONRoundTrip(t *testing.T) {
	n := New()
	n.Insert("index.js", digest.SHA256Bytes([]byte("index")))
	n.Insert("package.json", digest.SHA256Bytes([]byte("{}")))

	b, err := json.Marshal(n)
	require.NoError(t, err)

	var out Node
	require.NoError(t, json.Unmarshal(b, &out))

	d1, ok := n.Lookup("index.js")
	require.True(t, ok)
	d2, ok := out.Lookup("index.js")
	require.True(t, ok)
	assert.True(t, d1.Equal(d2))
}

func TestEmptyDirectoryMarshalsEmptyObject(t *testing.T) {
	n := New()
	b, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(b))
}
