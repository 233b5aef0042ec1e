package unpack

import (
	"archive/tar"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storepm/pkg/cas"
	"storepm/pkg/digest"
	"storepm/pkg/logging"
)

func buildTar(t *testing.T, entries map[string]string, extra ...tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, body := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	for _, e := range extra {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: e.typ}
		require.NoError(t, tw.WriteHeader(hdr))
		if len(e.body) > 0 {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

type tarEntry struct {
	name string
	body string
	typ  byte
}

func newStore(t *testing.T) *cas.Store {
	t.Helper()
	s, err := cas.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSimplePackage(t *testing.T) {
	store := newStore(t)
	archive := buildTar(t, map[string]string{
		"package/index.js":    "hello",
		"package/package.json": `{"name":"x","version":"1.0.0","main":"index.js"}`,
	})

	var events []string
	u := New(store, Options{
		Strip: 1,
		Events: Events{
			OnMetadata:  func(Metadata) { events = append(events, "metadata") },
			OnPrefinish: func() { events = append(events, "prefinish") },
			OnFinish:    func() { events = append(events, "finish") },
			OnEnd:       func() { events = append(events, "end") },
			OnClose:     func() { events = append(events, "close") },
		},
	})

	res, err := u.Run(context.Background(), bytes.NewReader(archive))
	require.NoError(t, err)

	assert.Equal(t, "index.js", res.Metadata.Main)
	assert.False(t, res.Metadata.HasInstallScripts)
	assert.False(t, res.Metadata.HasNativeBuild)

	wantIndex := digest.SHA256Bytes([]byte("hello"))
	got, ok := res.Manifest.Lookup("index.js")
	require.True(t, ok)
	assert.True(t, wantIndex.Equal(got))

	_, ok = res.Manifest.Lookup("package.json")
	assert.True(t, ok)

	assert.Equal(t, []string{"metadata", "prefinish", "finish", "end", "close"}, events)
}

func TestNativeBuildGyp(t *testing.T) {
	store := newStore(t)
	archive := buildTar(t, map[string]string{
		"package/binding.gyp": "{}",
	})
	u := New(store, Options{Strip: 1})

	res, err := u.Run(context.Background(), bytes.NewReader(archive))
	require.NoError(t, err)
	assert.True(t, res.Metadata.HasInstallScripts)
	assert.True(t, res.Metadata.HasNativeBuild)
}

func TestInstallScriptsFromPackageJSON(t *testing.T) {
	store := newStore(t)
	archive := buildTar(t, map[string]string{
		"package/package.json": `{"name":"x","version":"1.0.0","scripts":{"postinstall":"node build.js"}}`,
	})
	u := New(store, Options{Strip: 1})

	res, err := u.Run(context.Background(), bytes.NewReader(archive))
	require.NoError(t, err)
	assert.True(t, res.Metadata.HasInstallScripts)
	assert.False(t, res.Metadata.HasNativeBuild)
}

func TestPathTraversalRejected(t *testing.T) {
	store := newStore(t)
	archive := buildTar(t, map[string]string{
		"package/../../etc/passwd": "root:x:0:0",
		"package/index.js":        "ok",
	})

	var collector logging.Collector
	u := New(store, Options{Strip: 1, Log: collector.Sink()})

	res, err := u.Run(context.Background(), bytes.NewReader(archive))
	require.NoError(t, err)

	_, ok := res.Manifest.Lookup("../etc/passwd")
	assert.False(t, ok)
	_, ok = res.Manifest.Lookup("etc/passwd")
	assert.False(t, ok)
	_, ok = res.Manifest.Lookup("index.js")
	assert.True(t, ok)
	assert.NotEmpty(t, collector.Warnings)
}

func TestUnsupportedEntryTypeWarnsAndContinues(t *testing.T) {
	store := newStore(t)
	archive := buildTar(t, map[string]string{
		"package/index.js": "ok",
	}, tarEntry{name: "package/dev", typ: tar.TypeChar})

	var collector logging.Collector
	u := New(store, Options{Strip: 1, Log: collector.Sink()})

	res, err := u.Run(context.Background(), bytes.NewReader(archive))
	require.NoError(t, err)
	_, ok := res.Manifest.Lookup("index.js")
	assert.True(t, ok)
	assert.NotEmpty(t, collector.Warnings)
}

func TestDirectoriesAndSymlinksSkippedSilently(t *testing.T) {
	store := newStore(t)
	archive := buildTar(t, map[string]string{
		"package/index.js": "ok",
	}, tarEntry{name: "package/lib", typ: tar.TypeDir}, tarEntry{name: "package/link", typ: tar.TypeSymlink})

	u := New(store, Options{Strip: 1})
	res, err := u.Run(context.Background(), bytes.NewReader(archive))
	require.NoError(t, err)
	_, ok := res.Manifest.Lookup("lib")
	assert.False(t, ok)
	_, ok = res.Manifest.Lookup("link")
	assert.False(t, ok)
}

func TestStripShortDepthSkipsEntry(t *testing.T) {
	store := newStore(t)
	archive := buildTar(t, map[string]string{
		"short.txt": "oops",
	})
	var collector logging.Collector
	u := New(store, Options{Strip: 2, Log: collector.Sink()})

	res, err := u.Run(context.Background(), bytes.NewReader(archive))
	require.NoError(t, err)
	assert.Empty(t, res.Manifest.Children)
	assert.NotEmpty(t, collector.Warnings)
}
