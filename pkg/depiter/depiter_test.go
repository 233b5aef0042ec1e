package depiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	name     string
	children []Node
}

func (n *testNode) Children() []Node { return n.children }

func tree() *testNode {
	leaf1 := &testNode{name: "leaf1"}
	leaf2 := &testNode{name: "leaf2"}
	mid := &testNode{name: "mid", children: []Node{leaf1, leaf2}}
	root := &testNode{name: "root", children: []Node{mid}}
	return root
}

func TestWalkVisitsEveryNode(t *testing.T) {
	root := tree()
	var mu sync.Mutex
	var visited []string

	err := Walk(context.Background(), root, 50, func(ctx context.Context, n Node, next func(context.Context) error) error {
		tn := n.(*testNode)
		mu.Lock()
		visited = append(visited, tn.name)
		mu.Unlock()
		return next(ctx)
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"root", "mid", "leaf1", "leaf2"}, visited)
}

func TestWalkPropagatesFirstError(t *testing.T) {
	root := tree()
	boom := errors.New("boom")

	err := Walk(context.Background(), root, 50, func(ctx context.Context, n Node, next func(context.Context) error) error {
		tn := n.(*testNode)
		if tn.name == "leaf1" {
			return boom
		}
		return next(ctx)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestWalkRespectsConcurrencyBound(t *testing.T) {
	var mu sync.Mutex
	var inFlight, maxInFlight int

	var nodes []Node
	for i := 0; i < 20; i++ {
		nodes = append(nodes, &testNode{name: "leaf"})
	}
	root := &testNode{name: "root", children: nodes}

	err := Walk(context.Background(), root, 3, func(ctx context.Context, n Node, next func(context.Context) error) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		err := next(ctx)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return err
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, maxInFlight, 3)
}

// TestWalkWideThenDeepTreeDoesNotDeadlock exercises a root with at
// least `concurrency` direct children that each have a child of their
// own — the shape an ordinary install produces once a package has 50+
// direct dependencies, each with transitive deps. If a parent acquired
// its semaphore slot and held it across a blocking acquire for a
// child's slot, every slot would fill with nodes waiting on a child
// slot and none would ever be released.
func TestWalkWideThenDeepTreeDoesNotDeadlock(t *testing.T) {
	const width = 50
	nodes := make([]Node, width)
	for i := range nodes {
		grandchild := &testNode{name: "grandchild"}
		nodes[i] = &testNode{name: "child", children: []Node{grandchild}}
	}
	root := &testNode{name: "root", children: nodes}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var visited int32
	err := Walk(ctx, root, width, func(ctx context.Context, n Node, next func(context.Context) error) error {
		atomic.AddInt32(&visited, 1)
		return next(ctx)
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1+2*width, visited)
}
