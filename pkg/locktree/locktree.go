// Package locktree is the default collab.TreeBuilder (SPEC_FULL.md
// §4.5 "ADDED"): it turns an npm-v7-style package-lock.json's flat
// "packages" map (keyed by node_modules/a/node_modules/b-style paths)
// into the collab.DepNode tree the Installer Orchestrator walks. It is
// the closest real analogue of the teacher's
// pkg/resolver/dependency.DiscoverAllDependenciesWithResolver queue
// walk, rewritten to consume an already-resolved lock instead of doing
// discovery — discovery (computing a dependency graph from a manifest)
// is explicitly out of scope for this core (spec.md §1 Non-goals).
package locktree

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"storepm/pkg/collab"
)

// Lockfile is the subset of a package-lock.json / npm-shrinkwrap.json
// this core reads.
type Lockfile struct {
	Name            string                  `json:"name"`
	Version         string                  `json:"version"`
	LockfileVersion int                     `json:"lockfileVersion"`
	Packages        map[string]packageEntry `json:"packages"`
}

type packageEntry struct {
	Name        string `json:"name,omitempty"`
	Version     string `json:"version"`
	Resolved    string `json:"resolved"`
	Integrity   string `json:"integrity"`
	Dev         bool   `json:"dev,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
	DevOptional bool   `json:"devOptional,omitempty"`
	Bundled     bool   `json:"inBundle,omitempty"`
}

// Builder implements collab.TreeBuilder over an in-memory Lockfile.
type Builder struct {
	Lock Lockfile
}

// Parse reads raw package-lock.json/npm-shrinkwrap.json bytes (already
// BOM-stripped by pkg/config) into a Builder.
func Parse(raw []byte) (*Builder, error) {
	var lf Lockfile
	if err := json.Unmarshal(raw, &lf); err != nil {
		return nil, fmt.Errorf("locktree: parse lockfile: %w", err)
	}
	return &Builder{Lock: lf}, nil
}

// BuildTree implements collab.TreeBuilder.
func (b *Builder) BuildTree(ctx context.Context) (collab.DepNode, error) {
	root := &node{
		name:    b.Lock.Name,
		version: b.Lock.Version,
		isRoot:  true,
		address: "",
	}

	keys := make([]string, 0, len(b.Lock.Packages))
	for k := range b.Lock.Packages {
		if k == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		di, dj := depth(keys[i]), depth(keys[j])
		if di != dj {
			return di < dj
		}
		return keys[i] < keys[j]
	})

	// byAddress is keyed by the root's own empty-string address so a
	// top-level dependency's parent lookup ("") resolves to root without
	// the root sentinel ever becoming part of a real address (spec.md
	// §4.6's fold expects a single-segment address for a top-level
	// package, not one prefixed by a literal "root").
	byAddress := map[string]*node{"": root}
	for _, key := range keys {
		segs := splitPackagesKey(key)
		if len(segs) == 0 {
			continue
		}
		entry := b.Lock.Packages[key]
		name := segs[len(segs)-1]

		parentAddr := strings.Join(segs[:len(segs)-1], ":")
		parent, ok := byAddress[parentAddr]
		if !ok {
			return nil, fmt.Errorf("locktree: package entry %q has no parent entry in the lockfile", key)
		}

		address := strings.Join(segs, ":")
		n := &node{
			name:      name,
			version:   entry.Version,
			resolved:  entry.Resolved,
			integrity: entry.Integrity,
			dev:       entry.Dev,
			optional:  entry.Optional || entry.DevOptional,
			bundled:   entry.Bundled,
			address:   address,
		}
		parent.children = append(parent.children, n)
		byAddress[address] = n
	}

	return root, nil
}

// depth is the number of "node_modules/" nesting levels in key, used
// to guarantee parents are materialised before their children.
func depth(key string) int {
	return strings.Count(key, "node_modules/")
}

// splitPackagesKey turns "node_modules/@scope/a/node_modules/b" into
// ["@scope/a", "b"]. Splitting on the literal "node_modules/" (rather
// than "/") is required so scoped package names, which themselves
// contain "/", are not split apart.
func splitPackagesKey(key string) []string {
	parts := strings.Split(key, "node_modules/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			continue
		}
		segs = append(segs, p)
	}
	return segs
}

// node is the concrete collab.DepNode the lockfile tree is built from.
type node struct {
	name      string
	version   string
	resolved  string
	integrity string
	dev       bool
	optional  bool
	bundled   bool
	isRoot    bool
	address   string
	children  []*node

	meta collab.PackageMetadata
}

func (n *node) Name() string      { return n.name }
func (n *node) Version() string   { return n.version }
func (n *node) Resolved() string  { return n.resolved }
func (n *node) Integrity() string { return n.integrity }
func (n *node) Dev() bool         { return n.dev }
func (n *node) Optional() bool    { return n.optional }
func (n *node) Bundled() bool     { return n.bundled }
func (n *node) IsRoot() bool      { return n.isRoot }
func (n *node) Address() string   { return n.address }

func (n *node) Children() []collab.DepNode {
	out := make([]collab.DepNode, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

func (n *node) Metadata() collab.PackageMetadata     { return n.meta }
func (n *node) SetMetadata(m collab.PackageMetadata) { n.meta = m }

// Path returns the node's on-disk install directory under prefix
// (e.g. "/node_modules"), nesting through "/node_modules/" for every
// address segment, matching the lockfile's own key shape.
func (n *node) Path(prefix string) string {
	if n.isRoot {
		return prefix
	}
	segs := strings.Split(n.address, ":")
	return prefix + "/" + strings.Join(segs, "/node_modules/")
}
