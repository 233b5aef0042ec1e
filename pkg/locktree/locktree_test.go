package locktree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLock = `{
  "name": "demo",
  "version": "1.0.0",
  "lockfileVersion": 3,
  "packages": {
    "": { "name": "demo", "version": "1.0.0" },
    "node_modules/left-pad": {
      "version": "1.3.0",
      "resolved": "https://example.com/left-pad.git#abc",
      "integrity": "sha256-aaaa"
    },
    "node_modules/@scope/dev-tool": {
      "version": "2.0.0",
      "resolved": "https://example.com/dev-tool.git#def",
      "integrity": "sha256-bbbb",
      "dev": true
    },
    "node_modules/@scope/dev-tool/node_modules/nested-helper": {
      "version": "0.1.0",
      "resolved": "https://example.com/nested-helper.git#ghi",
      "integrity": "sha256-cccc",
      "optional": true
    }
  }
}`

func TestBuildTreeTopLevelAddressHasNoRootPrefix(t *testing.T) {
	b, err := Parse([]byte(sampleLock))
	require.NoError(t, err)

	root, err := b.BuildTree(context.Background())
	require.NoError(t, err)
	require.True(t, root.IsRoot())
	assert.Equal(t, "", root.Address())

	byName := map[string]string{}
	for _, c := range root.Children() {
		byName[c.Name()] = c.Address()
	}
	assert.Equal(t, "left-pad", byName["left-pad"])
	assert.Equal(t, "@scope/dev-tool", byName["@scope/dev-tool"])
}

func TestBuildTreeNestedAddressChainsThroughParent(t *testing.T) {
	b, err := Parse([]byte(sampleLock))
	require.NoError(t, err)

	root, err := b.BuildTree(context.Background())
	require.NoError(t, err)

	var found bool
	for _, c := range root.Children() {
		if c.Name() != "@scope/dev-tool" {
			continue
		}
		require.Len(t, c.Children(), 1)
		leaf := c.Children()[0]
		assert.Equal(t, "nested-helper", leaf.Name())
		assert.Equal(t, "@scope/dev-tool:nested-helper", leaf.Address())
		assert.True(t, leaf.Optional())
		found = true
	}
	assert.True(t, found)
}

func TestBuildTreeDevAndResolvedIntegrityFieldsParse(t *testing.T) {
	b, err := Parse([]byte(sampleLock))
	require.NoError(t, err)

	root, err := b.BuildTree(context.Background())
	require.NoError(t, err)

	for _, c := range root.Children() {
		if c.Name() == "left-pad" {
			assert.False(t, c.Dev())
			assert.Equal(t, "1.3.0", c.Version())
			assert.Equal(t, "https://example.com/left-pad.git#abc", c.Resolved())
			assert.Equal(t, "sha256-aaaa", c.Integrity())
		}
		if c.Name() == "@scope/dev-tool" {
			assert.True(t, c.Dev())
		}
	}
}

func TestNodePathNestsThroughNodeModulesPerSegment(t *testing.T) {
	b, err := Parse([]byte(sampleLock))
	require.NoError(t, err)

	root, err := b.BuildTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/node_modules", root.Path("/node_modules"))

	for _, c := range root.Children() {
		if c.Name() == "@scope/dev-tool" {
			assert.Equal(t, "/node_modules/@scope/dev-tool", c.Path("/node_modules"))
			leaf := c.Children()[0]
			assert.Equal(t, "/node_modules/@scope/dev-tool/node_modules/nested-helper", leaf.Path("/node_modules"))
		}
	}
}

func TestSplitPackagesKeyHandlesScopedNames(t *testing.T) {
	assert.Equal(t, []string{"@scope/a", "b"}, splitPackagesKey("node_modules/@scope/a/node_modules/b"))
	assert.Equal(t, []string{"left-pad"}, splitPackagesKey("node_modules/left-pad"))
}

func TestParseAcceptsOrphanedPackageEntry(t *testing.T) {
	_, err := Parse([]byte(`{
  "packages": {
    "node_modules/a/node_modules/b": { "version": "1.0.0" }
  }
}`))
	require.NoError(t, err) // Parse only decodes JSON; BuildTree does the ordering check.
}

func TestBuildTreeErrorsOnMissingParent(t *testing.T) {
	b, err := Parse([]byte(`{
  "packages": {
    "node_modules/a/node_modules/b": { "version": "1.0.0" }
  }
}`))
	require.NoError(t, err)

	_, err = b.BuildTree(context.Background())
	assert.Error(t, err)
}
