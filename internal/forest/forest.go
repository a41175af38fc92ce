package forest

import (
	"fmt"
	"io"
	"strings"

	"github.com/gnoswap-labs/tverify/internal/analysis/lattice"
	"github.com/gnoswap-labs/tverify/internal/place"
)

/*
Arena-based Permission Forest

The forest stores every node in one contiguous slice and links nodes by
index. Roots are the distinct root variables touched by the loop; each node
below a root denotes the path obtained by one more projection.

  - Child order is the order in which the child was first inserted, so two
    builds over identical input produce identical forests.
  - A node is Folded when the whole subtree may be expressed by a single
    predicate instance. A node is unfolded when some unreachable path lies
    beneath it; its children on the way to that path are explicit.
  - Paths in the unreachable set never get a node.
*/

// NodeIndex represents the index of a forest node.
type NodeIndex int

const noParent NodeIndex = -1

type arenaNode struct {
	place    place.Place
	perm     lattice.Perm
	folded   bool
	parent   NodeIndex
	children []NodeIndex
}

// Node is a read-only view of one forest node.
type Node struct {
	Index    NodeIndex
	Place    place.Place
	Perm     lattice.Perm
	Folded   bool
	Children []NodeIndex
}

// Forest is an immutable permission forest. Build is the only way to obtain
// a populated one.
type Forest struct {
	nodes []arenaNode
	roots []NodeIndex
	index map[string]NodeIndex
}

func newForest() *Forest {
	return &Forest{
		nodes: make([]arenaNode, 0, 16),
		index: make(map[string]NodeIndex),
	}
}

// newNode adds a node to the arena, links it under parent and returns its
// index.
func (f *Forest) newNode(p place.Place, parent NodeIndex) NodeIndex {
	idx := NodeIndex(len(f.nodes))
	f.nodes = append(f.nodes, arenaNode{
		place:  p,
		folded: true,
		parent: parent,
	})
	f.index[p.Key()] = idx
	if parent == noParent {
		f.roots = append(f.roots, idx)
	} else {
		f.nodes[parent].children = append(f.nodes[parent].children, idx)
	}
	return idx
}

// ensure returns the node for p, creating its whole ancestor chain when
// missing.
func (f *Forest) ensure(p place.Place) NodeIndex {
	if idx, ok := f.index[p.Key()]; ok {
		return idx
	}
	parent := noParent
	if up, ok := p.Parent(); ok {
		parent = f.ensure(up)
	}
	return f.newNode(p, parent)
}

func (f *Forest) raise(idx NodeIndex, perm lattice.Perm) {
	f.nodes[idx].perm = lattice.Join(f.nodes[idx].perm, perm)
}

func (f *Forest) view(idx NodeIndex) Node {
	n := f.nodes[idx]
	children := make([]NodeIndex, len(n.children))
	copy(children, n.children)
	return Node{
		Index:    idx,
		Place:    n.place,
		Perm:     n.perm,
		Folded:   n.folded,
		Children: children,
	}
}

// Len returns the number of nodes.
func (f *Forest) Len() int {
	return len(f.nodes)
}

// Roots returns the root nodes in insertion order.
func (f *Forest) Roots() []Node {
	out := make([]Node, 0, len(f.roots))
	for _, idx := range f.roots {
		out = append(out, f.view(idx))
	}
	return out
}

// Node returns the node stored at idx.
func (f *Forest) Node(idx NodeIndex) Node {
	return f.view(idx)
}

// Lookup returns the node denoting p, if any.
func (f *Forest) Lookup(p place.Place) (Node, bool) {
	idx, ok := f.index[p.Key()]
	if !ok {
		return Node{}, false
	}
	return f.view(idx), true
}

// Walk visits every node in pre-order. Returning false from fn skips the
// node's subtree.
func (f *Forest) Walk(fn func(depth int, n Node) bool) {
	for _, root := range f.roots {
		f.walk(root, 0, fn)
	}
}

func (f *Forest) walk(idx NodeIndex, depth int, fn func(int, Node) bool) {
	if !fn(depth, f.view(idx)) {
		return
	}
	for _, child := range f.nodes[idx].children {
		f.walk(child, depth+1, fn)
	}
}

// Equal checks whether two forests are identical in structure, content and
// child order.
func (f *Forest) Equal(other *Forest) bool {
	if len(f.nodes) != len(other.nodes) || len(f.roots) != len(other.roots) {
		return false
	}
	for i := range f.roots {
		if !f.equalNodes(f.roots[i], other, other.roots[i]) {
			return false
		}
	}
	return true
}

// equalNodes recursively checks whether two nodes (and their subtrees) are identical.
func (f *Forest) equalNodes(aIdx NodeIndex, other *Forest, bIdx NodeIndex) bool {
	nodeA := f.nodes[aIdx]
	nodeB := other.nodes[bIdx]

	if !nodeA.place.Equal(nodeB.place) ||
		nodeA.perm != nodeB.perm ||
		nodeA.folded != nodeB.folded ||
		len(nodeA.children) != len(nodeB.children) {
		return false
	}

	for i := range nodeA.children {
		if !f.equalNodes(nodeA.children[i], other, nodeB.children[i]) {
			return false
		}
	}
	return true
}

// DebugString returns a compact rendering of the forest, for example
// "z[traverse,unfolded](z.a[write])".
func (f *Forest) DebugString() string {
	var sb strings.Builder
	for i, root := range f.roots {
		if i > 0 {
			sb.WriteString(" ")
		}
		f.debugStringNode(&sb, root)
	}
	return sb.String()
}

func (f *Forest) debugStringNode(sb *strings.Builder, idx NodeIndex) {
	node := f.nodes[idx]
	sb.WriteString(node.place.String())
	sb.WriteString("[")
	sb.WriteString(node.perm.String())
	if !node.folded {
		sb.WriteString(",unfolded")
	}
	sb.WriteString("]")
	if len(node.children) == 0 {
		return
	}
	sb.WriteString("(")
	for i, child := range node.children {
		if i > 0 {
			sb.WriteString(" ")
		}
		f.debugStringNode(sb, child)
	}
	sb.WriteString(")")
}

// PrintDot writes the forest in GraphViz dot format.
func (f *Forest) PrintDot(w io.Writer, name string) error {
	if _, err := fmt.Fprintf(w, "digraph %q {\n", name); err != nil {
		return err
	}
	for i, node := range f.nodes {
		style := "solid"
		if !node.folded {
			style = "dashed"
		}
		if _, err := fmt.Fprintf(w, "\tn%d [label=\"%s\\n%s\", style=%s];\n", i, node.place, node.perm, style); err != nil {
			return err
		}
		for _, child := range node.children {
			if _, err := fmt.Fprintf(w, "\tn%d -> n%d;\n", i, child); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
