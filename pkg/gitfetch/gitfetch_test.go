package gitfetch

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFixtureRepo creates a bare-enough local git repo with two tagged
// commits plus one untagged commit on top, so Resolve can be exercised
// against both a semver constraint and a literal ref.
func newFixtureRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) string {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %s: %s", strings.Join(args, " "), out)
		return strings.TrimSpace(string(out))
	}

	run("init", "--initial-branch=main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"fixture","version":"1.0.0"}`), 0o644))
	run("add", ".")
	run("commit", "-m", "v1.0.0")
	run("tag", "v1.0.0")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"fixture","version":"1.1.0"}`), 0o644))
	run("add", ".")
	run("commit", "-m", "v1.1.0")
	run("tag", "v1.1.0")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("unreleased\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "unreleased work")

	return dir
}

func TestResolveSatisfiesSemverConstraintAgainstTags(t *testing.T) {
	repo := newFixtureRepo(t)
	c := New(t.TempDir())

	resolved, integrity, err := c.Resolve(context.Background(), repo, "^1.0.0")
	require.NoError(t, err)
	assert.Empty(t, integrity)
	assert.Contains(t, resolved, repo+"#")
}

func TestResolvePicksHighestSatisfyingTag(t *testing.T) {
	repo := newFixtureRepo(t)
	c := New(t.TempDir())

	resolved, _, err := c.Resolve(context.Background(), repo, "^1.0.0")
	require.NoError(t, err)

	_, commit, _ := strings.Cut(resolved, "#")

	cmd := exec.Command("git", "rev-parse", "tags/v1.1.0")
	cmd.Dir = repo
	out, err := cmd.Output()
	require.NoError(t, err)
	wantCommit := strings.TrimSpace(string(out))

	assert.Equal(t, wantCommit, commit)
}

func TestResolveFallsBackToLiteralRefWhenNotSemver(t *testing.T) {
	repo := newFixtureRepo(t)
	c := New(t.TempDir())

	resolved, integrity, err := c.Resolve(context.Background(), repo, "main")
	require.NoError(t, err)
	assert.Empty(t, integrity)
	assert.Contains(t, resolved, repo+"#")
}

func TestResolveFailsWhenNoTagSatisfiesConstraint(t *testing.T) {
	repo := newFixtureRepo(t)
	c := New(t.TempDir())

	_, _, err := c.Resolve(context.Background(), repo, "^9.0.0")
	assert.Error(t, err)
}

func TestTarballStreamProducesGzipTarOfResolvedCommit(t *testing.T) {
	repo := newFixtureRepo(t)
	c := New(t.TempDir())

	resolved, _, err := c.Resolve(context.Background(), repo, "^1.0.0")
	require.NoError(t, err)

	rc, err := c.TarballStream(context.Background(), resolved)
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NotEmpty(t, body)
	// gzip magic number
	assert.Equal(t, byte(0x1f), body[0])
	assert.Equal(t, byte(0x8b), body[1])
}

func TestTarballStreamRejectsMalformedResolvedRef(t *testing.T) {
	c := New(t.TempDir())
	_, err := c.TarballStream(context.Background(), "not-a-resolved-ref")
	assert.Error(t, err)
}
