package collab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrLockfileGeneratorNotConfigured is returned by NopLockfileGenerator,
// whose internals spec.md §6 leaves opaque; callers that need lockfile
// writing must supply their own LockfileGenerator.
var ErrLockfileGeneratorNotConfigured = errors.New("collab: lockfile generator not configured")

// AlwaysOKVerifier reports every tree as matching its lockfile. Used
// when no real drift-detection collaborator is wired in.
type AlwaysOKVerifier struct{}

func (AlwaysOKVerifier) Verify(ctx context.Context, tree DepNode) error { return nil }

// NopLockfileGenerator always fails, since writing a lockfile requires
// a concrete on-disk format this package does not assume.
type NopLockfileGenerator struct{}

func (NopLockfileGenerator) Generate(ctx context.Context, tree DepNode) error {
	return ErrLockfileGeneratorNotConfigured
}

// NopBinLinker does nothing. Bin-linking is out of scope for the
// installer core (spec.md §1 Non-goals).
type NopBinLinker struct{}

func (NopBinLinker) LinkBins(ctx context.Context, node DepNode, pkgPath string) error { return nil }

// ShellScriptRunner runs a package.json lifecycle script via "sh -c",
// adapted from the teacher's runHooks (pkg/resolver/install.go): that
// function only ever ran a single hardcoded "postinstall" script for
// the project root; this generalizes it to any named script for any
// installed package, and lets the Orchestrator skip it entirely when
// Options.IgnoreScripts is set (spec.md §6).
type ShellScriptRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (r ShellScriptRunner) RunScript(ctx context.Context, pkgPath string, script string, name string) error {
	if script == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = pkgPath
	cmd.Stdout = orStdout(r.Stdout)
	cmd.Stderr = orStderr(r.Stderr)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s script in %s: %w", name, filepath.Base(pkgPath), err)
	}
	return nil
}

func orStdout(w io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return os.Stdout
}

func orStderr(w io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return os.Stderr
}
