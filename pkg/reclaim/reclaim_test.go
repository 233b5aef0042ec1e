package reclaim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testNode struct {
	addr     string
	children []Node
}

func (n *testNode) Address() string  { return n.addr }
func (n *testNode) Children() []Node { return n.children }

func TestSweepPurgesExclusiveSubtree(t *testing.T) {
	leaf := &testNode{addr: "root:optional:leaf"}
	optional := &testNode{addr: "root:optional", children: []Node{leaf}}
	sibling := &testNode{addr: "root:sibling"}
	root := &testNode{addr: "root", children: []Node{optional, sibling}}

	res := Sweep(root, []Node{optional})

	assert.ElementsMatch(t, []string{"root:optional", "root:optional:leaf"}, res.Purged)
	assert.ElementsMatch(t, []string{"root:sibling"}, res.Kept)
}

func TestSweepKeepsSharedDependency(t *testing.T) {
	shared := &testNode{addr: "root:shared"}
	optional := &testNode{addr: "root:optional", children: []Node{shared}}
	sibling := &testNode{addr: "root:sibling", children: []Node{shared}}
	root := &testNode{addr: "root", children: []Node{optional, sibling}}

	res := Sweep(root, []Node{optional})

	assert.ElementsMatch(t, []string{"root:optional"}, res.Purged)
	assert.Contains(t, res.Kept, "root:shared")
	assert.Contains(t, res.Kept, "root:sibling")
}

func TestSweepNeverPurgesRoot(t *testing.T) {
	child := &testNode{addr: "root:a"}
	root := &testNode{addr: "root", children: []Node{child}}

	res := Sweep(root, []Node{child})

	assert.NotContains(t, res.Purged, "root")
}

func TestSweepWithNoFailuresPurgesNothing(t *testing.T) {
	child := &testNode{addr: "root:a"}
	root := &testNode{addr: "root", children: []Node{child}}

	res := Sweep(root, nil)

	assert.Empty(t, res.Purged)
	assert.Contains(t, res.Kept, "root:a")
}
