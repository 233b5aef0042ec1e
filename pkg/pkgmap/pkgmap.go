// Package pkgmap implements the Package Map Builder (component F,
// spec.md §4.6): folds per-package manifests into a nested
// project-level map keyed by install address.
package pkgmap

import (
	"strings"

	"storepm/pkg/digest"
	"storepm/pkg/manifest"
)

// PathPrefix is the fixed install root every map/scope carries.
const PathPrefix = "/node_modules"

// Map is the top-level project package map, spec.md §3. Scopes is
// populated only when some address nests more than one level deep
// (spec.md §4.6's fold walks every address segment but the last
// through a chain of "acc.scopes[...]" lookups starting from the root
// map itself); omitempty keeps the common shallow-tree case matching
// §3's documented {lockfile_integrity, path_prefix, packages} shape.
type Map struct {
	LockfileIntegrity digest.Digest    `json:"lockfile_integrity"`
	PathPrefix        string           `json:"path_prefix"`
	Scopes            map[string]*Node `json:"scopes,omitempty"`
	Packages          map[string]*Node `json:"packages"`
}

// Node is one package entry (or scope) in the map. Scopes nest; leaf
// packages carry metadata merged in from the unpacked manifest.
type Node struct {
	PathPrefix string           `json:"path_prefix,omitempty"`
	Scopes     map[string]*Node `json:"scopes,omitempty"`
	Packages   map[string]*Node `json:"packages,omitempty"`

	Name              string         `json:"name,omitempty"`
	Version           string         `json:"version,omitempty"`
	Integrity         string         `json:"integrity,omitempty"`
	Resolved          string         `json:"resolved,omitempty"`
	Main              string         `json:"main,omitempty"`
	HasInstallScripts bool           `json:"hasInstallScripts,omitempty"`
	HasNativeBuild    bool           `json:"hasNativeBuild,omitempty"`
	Files             *manifest.Node `json:"files,omitempty"`
}

// PackageMetadata is the subset of a node's metadata the Orchestrator
// attaches after unpack (spec.md §3); Merge folds it into a Node.
type PackageMetadata struct {
	Name              string
	Version           string
	Integrity         string
	Resolved          string
	Main              string
	HasInstallScripts bool
	HasNativeBuild    bool
	Files             *manifest.Node
}

// Merge shallow-overwrites a Node's known metadata keys from m, per
// spec.md §4.6 "Merge is shallow-replace for known metadata keys" (the
// Design Notes re-architecture of the original's Object.assign).
func (n *Node) Merge(m PackageMetadata) {
	n.Name = m.Name
	n.Version = m.Version
	n.Integrity = m.Integrity
	n.Resolved = m.Resolved
	n.Main = m.Main
	n.HasInstallScripts = m.HasInstallScripts
	n.HasNativeBuild = m.HasNativeBuild
	n.Files = m.Files
}

// Entry is one node's address plus its metadata, the shape Build folds
// over. Address is the colon-delimited nesting path from (but not
// including) the tree root (spec.md §3 "Address"): a top-level package
// is a single segment, e.g. "a", and a package "b" installed one hop
// below "a" is "a:b". Every segment but the last walks one hop of the
// scope chain; the last segment is always the leaf package name (see
// DESIGN.md).
type Entry struct {
	Address  string
	Metadata PackageMetadata
}

// Build folds entries into a project-level Map, deterministically in
// the order entries is given (the tree's own traversal order, not
// completion order, per spec.md §5).
func Build(lockfileIntegrity digest.Digest, entries []Entry) *Map {
	root := &Map{
		LockfileIntegrity: lockfileIntegrity,
		PathPrefix:        PathPrefix,
		Packages:          make(map[string]*Node),
	}
	for _, e := range entries {
		fold(root, e)
	}
	return root
}

func fold(root *Map, e Entry) {
	segs := strings.Split(e.Address, ":")
	if len(segs) == 0 {
		return
	}

	packages := root.Packages
	scopesOf := func() map[string]*Node { return root.Scopes }
	setScopes := func(m map[string]*Node) { root.Scopes = m }

	for i := 0; i < len(segs)-1; i++ {
		seg := segs[i]
		scopes := scopesOf()
		if scopes == nil {
			scopes = make(map[string]*Node)
			setScopes(scopes)
		}
		next, ok := scopes[seg]
		if !ok {
			next = &Node{PathPrefix: PathPrefix}
			scopes[seg] = next
		}
		if next.Packages == nil {
			next.Packages = make(map[string]*Node)
		}
		packages = next.Packages
		// Rebind scopesOf/setScopes to operate on `next` for the
		// following iteration (or, if this was the last scope hop,
		// these closures are simply never called again).
		scopesOf = func() map[string]*Node { return next.Scopes }
		setScopes = func(m map[string]*Node) { next.Scopes = m }
	}

	leafName := segs[len(segs)-1]
	leaf, ok := packages[leafName]
	if !ok {
		leaf = &Node{}
		packages[leafName] = leaf
	}
	leaf.Merge(e.Metadata)
}
