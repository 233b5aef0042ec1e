package collab

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlwaysOKVerifierNeverErrors(t *testing.T) {
	assert.NoError(t, AlwaysOKVerifier{}.Verify(context.Background(), nil))
}

func TestNopLockfileGeneratorReportsNotConfigured(t *testing.T) {
	err := NopLockfileGenerator{}.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrLockfileGeneratorNotConfigured)
}

func TestNopBinLinkerNeverErrors(t *testing.T) {
	assert.NoError(t, NopBinLinker{}.LinkBins(context.Background(), nil, ""))
}

func TestShellScriptRunnerSkipsEmptyScript(t *testing.T) {
	r := ShellScriptRunner{}
	assert.NoError(t, r.RunScript(context.Background(), t.TempDir(), "", "postinstall"))
}

func TestShellScriptRunnerExecutesScriptInPackageDir(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	r := ShellScriptRunner{Stdout: &out}

	err := r.RunScript(context.Background(), dir, "pwd > marker.txt", "postinstall")
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(dir, "marker.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(contents), filepath.Base(dir))
}

func TestShellScriptRunnerWrapsFailure(t *testing.T) {
	r := ShellScriptRunner{}
	err := r.RunScript(context.Background(), t.TempDir(), "exit 1", "postinstall")
	assert.Error(t, err)
}
