// Package reclaim implements the Mark-and-Sweep Reclaimer (component
// G, spec.md §4.7): when an optional dependency subtree fails to
// install, it walks the tree to find everything that subtree alone
// kept alive and purges just that, leaving packages shared with a
// still-live path untouched.
package reclaim

// Node is the minimal shape the reclaimer needs from a tree node.
// Address must be stable and unique per node (collab.DepNode
// satisfies this via its own Address method).
type Node interface {
	Address() string
	Children() []Node
}

// Result is the outcome of a Sweep: Purged lists every address that
// was reachable only through a failed subtree and nothing else;
// Kept lists every address the mark pass reached from a live branch,
// whether or not a failed subtree also reaches it.
type Result struct {
	Purged []string
	Kept   []string
}

// Sweep marks every node reachable from root's non-failed top-level
// children without passing through a failed node (pre-order), then
// walks each failed subtree (post-order) and purges every address in
// it that the mark pass did not reach. root itself is never purged,
// per spec.md §4.7.
//
// An address inside a failed subtree that is also reachable from a
// live sibling branch (a shared dependency) is reached by the mark
// pass and so survives.
func Sweep(root Node, failed []Node) Result {
	liveChildren := make([]Node, 0, len(root.Children()))
	failedSet := make(map[string]bool, len(failed))
	for _, f := range failed {
		failedSet[f.Address()] = true
	}
	for _, c := range root.Children() {
		if !failedSet[c.Address()] {
			liveChildren = append(liveChildren, c)
		}
	}

	reachableFromLive := make(map[string]bool)
	for _, c := range liveChildren {
		markReachable(c, failedSet, reachableFromLive)
	}

	purgedSet := make(map[string]bool)
	for _, f := range failed {
		markPurged(f, reachableFromLive, purgedSet)
	}

	result := Result{}
	for addr := range purgedSet {
		result.Purged = append(result.Purged, addr)
	}
	for addr := range reachableFromLive {
		if purgedSet[addr] {
			continue
		}
		result.Kept = append(result.Kept, addr)
	}
	return result
}

// markReachable is the pre-order mark pass: every node under n,
// including n itself, is recorded as reachable, except failed nodes
// and whatever is reachable only through them.
func markReachable(n Node, failed map[string]bool, seen map[string]bool) {
	addr := n.Address()
	if seen[addr] || failed[addr] {
		return
	}
	seen[addr] = true
	for _, child := range n.Children() {
		markReachable(child, failed, seen)
	}
}

// markPurged is the post-order sweep pass: everything under the
// failed subtree n that is not reachable from a live branch is
// recorded as purged. Children are visited before the parent is
// judged so a node with a still-live descendant does not short
// circuit the walk of the rest of its siblings.
func markPurged(n Node, reachableFromLive map[string]bool, purged map[string]bool) {
	for _, child := range n.Children() {
		markPurged(child, reachableFromLive, purged)
	}
	addr := n.Address()
	if reachableFromLive[addr] {
		return
	}
	purged[addr] = true
}
