package collab

import (
	"storepm/pkg/depiter"
	"storepm/pkg/reclaim"
)

// DepIterNode adapts a DepNode to pkg/depiter's Node interface, so the
// Installer Orchestrator (and any other caller) can walk the same
// logical tree with bounded concurrency without pkg/depiter needing to
// know about this package.
type DepIterNode struct{ DepNode }

func (a DepIterNode) Children() []depiter.Node {
	kids := a.DepNode.Children()
	out := make([]depiter.Node, len(kids))
	for i, k := range kids {
		out[i] = DepIterNode{k}
	}
	return out
}

// ReclaimNode adapts a DepNode to pkg/reclaim's Node interface, for
// the Mark-and-Sweep Reclaimer (component G) and for CLI commands
// (e.g. uninstall) that need to compute a purge set directly.
type ReclaimNode struct{ DepNode }

func (a ReclaimNode) Address() string { return a.DepNode.Address() }

func (a ReclaimNode) Children() []reclaim.Node {
	kids := a.DepNode.Children()
	out := make([]reclaim.Node, len(kids))
	for i, k := range kids {
		out[i] = ReclaimNode{k}
	}
	return out
}
