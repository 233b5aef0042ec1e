// Package depiter implements the Dependency Iterator (component D,
// spec.md §4.4): a polymorphic walk over the logical dependency tree
// with async per-node visitation and bounded concurrency.
package depiter

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Node is the minimal shape the iterator needs from a tree node; the
// installer's collab.DepNode satisfies this.
type Node interface {
	Children() []Node
}

// VisitFunc is called once per node. Calling next schedules the node's
// children for visiting at the same concurrency bound and returns
// without waiting for them; their errors surface from Walk. A visitor
// that calls next after its own work gets pre-order semantics. Walk
// offers no post-order: a visitor cannot run code after its children
// have been visited.
type VisitFunc func(ctx context.Context, n Node, next func(ctx context.Context) error) error

// Walk visits root and its descendants, capping the number of
// in-flight visitors at concurrency (spec.md §5: "dependency-tree
// iterators MUST cap outstanding visitors at 50"). Exceeding the bound
// blocks further visit starts; each scheduled node waits on its own
// goroutine for a free slot.
func Walk(ctx context.Context, root Node, concurrency int64, visit VisitFunc) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)
	g, gctx := errgroup.WithContext(ctx)

	// Each node is visited on its own goroutine, which acquires its
	// semaphore slot itself rather than having its parent acquire one on
	// its behalf. If the parent held a slot across the call to next, a
	// wide-then-deep tree could fill every slot with nodes blocked
	// waiting for a child's slot while no leaf is runnable to release
	// one; spawning unconditionally and acquiring inside the goroutine
	// means a blocked acquire never pins down a slot someone else needs.
	var walkNode func(n Node)
	walkNode = func(n Node) {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			next := func(ctx context.Context) error {
				for _, child := range n.Children() {
					walkNode(child)
				}
				return nil
			}
			return visit(gctx, n, next)
		})
	}

	walkNode(root)
	return g.Wait()
}
