// Package collab defines the collaborator contracts the Installer
// Orchestrator depends on (spec.md §6): fetching packages, resolving
// manifests, building the logical tree, verifying/generating the
// lockfile, running lifecycle scripts, and linking bins. The
// Orchestrator only ever talks to these interfaces; pkg/gitfetch,
// pkg/locktree and the stub implementations below are one set of
// concrete collaborators among possibly several.
package collab

import (
	"context"
	"io"

	"storepm/pkg/manifest"
)

// PackageMetadata is a dependency's resolved identity plus whatever
// the Tarball Unpacker discovered about it, per spec.md §3 "Package
// Metadata".
type PackageMetadata struct {
	Name              string
	Version           string
	Resolved          string
	Integrity         string
	Main              string
	HasInstallScripts bool
	HasNativeBuild    bool
	Files             *manifest.Node
}

// DepNode is one node of the logical dependency tree (spec.md §3
// "Dependency Node"). Metadata/SetMetadata let the Orchestrator attach
// the Unpacker's findings after fetch+unpack, since Go has no
// free-form object mutation the way the original's in-memory tree
// nodes allowed.
type DepNode interface {
	Name() string
	Version() string
	Resolved() string
	Integrity() string
	Dev() bool
	Optional() bool
	Bundled() bool
	IsRoot() bool
	// Address is this node's colon-delimited nesting path below the
	// tree root (spec.md §3): a top-level dependency is a single
	// segment, e.g. "a", and a package "b" installed one hop below "a"
	// is "a:b". The root node's own address is the empty string.
	Address() string
	// Path returns the on-disk install path for this node given a
	// path_prefix such as "/node_modules".
	Path(prefix string) string
	Children() []DepNode

	Metadata() PackageMetadata
	SetMetadata(PackageMetadata)
}

// Fetcher retrieves a package's tarball byte stream once Resolve has
// produced a concrete resolved reference. Implementations may hit a
// registry, a git remote, or a local cache.
type Fetcher interface {
	// TarballStream returns the (possibly gzip-compressed) archive
	// bytes for the given resolved reference. Callers decompress and
	// hand the result to pkg/unpack.
	TarballStream(ctx context.Context, resolved string) (io.ReadCloser, error)
}

// ManifestResolver turns a package spec (name + version constraint or
// ref) into a concrete resolved reference plus an integrity string, if
// known ahead of fetch.
type ManifestResolver interface {
	Resolve(ctx context.Context, name, versionConstraint string) (resolved string, integrity string, err error)
}

// TreeBuilder constructs the logical dependency tree the Orchestrator
// walks. A concrete implementation typically reads a lockfile.
type TreeBuilder interface {
	BuildTree(ctx context.Context) (DepNode, error)
}

// LockfileVerifier checks a previously-built tree against an on-disk
// lockfile for drift (spec.md §4.5 "checkLock" stage).
type LockfileVerifier interface {
	Verify(ctx context.Context, tree DepNode) error
}

// LockfileGenerator writes a tree back out as a lockfile, used when no
// lockfile exists yet or the LockfileVerifier reports drift.
type LockfileGenerator interface {
	Generate(ctx context.Context, tree DepNode) error
}

// ScriptRunner executes a named lifecycle script (install, preinstall,
// postinstall) for a single package, given its on-disk path.
type ScriptRunner interface {
	RunScript(ctx context.Context, pkgPath string, script string, name string) error
}

// BinLinker links a package's declared executables into the project's
// bin directory.
type BinLinker interface {
	LinkBins(ctx context.Context, node DepNode, pkgPath string) error
}

// Options mirrors spec.md §6's configuration surface.
type Options struct {
	Cache         string
	Restore       bool
	Prefix        string
	Global        bool
	Dev           bool
	Development   bool
	Production    bool
	Only          string
	Also          string
	Force         bool
	IgnoreScripts bool
}
