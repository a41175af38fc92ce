package forest

import (
	"fmt"

	"github.com/gnoswap-labs/tverify/internal/analysis/lattice"
	"github.com/gnoswap-labs/tverify/internal/place"
)

// Expander enumerates the immediate sub-paths of a path (its fields, or the
// target of a dereference), in declaration order. It is consulted only when
// a node holding full permission must be unfolded around an unreachable path.
type Expander interface {
	Expand(p place.Place) []place.Place
}

// ExpanderFunc adapts a function to the Expander interface.
type ExpanderFunc func(p place.Place) []place.Place

func (fn ExpanderFunc) Expand(p place.Place) []place.Place { return fn(p) }

// Input is the classifier output plus the loop-head facts the builder needs.
type Input struct {
	WriteLeaves []place.Place
	ReadLeaves  []place.Place
	// Unreachable holds paths moved out or exclusively borrowed at the loop head.
	Unreachable []place.Place
	// Defined holds paths defined before the loop. When non-nil every leaf
	// must be rooted at the root of one of them.
	Defined []place.Place
}

// Build constructs the permission forest for one loop head.
//
// It panics when a leaf is rooted at a variable that is not defined before
// the loop, or when an unreachable path beneath a fully permitted node
// cannot be expanded; both indicate a bug in the caller.
func Build(in Input, fields Expander) *Forest {
	b := &builder{
		forest:      newForest(),
		fields:      fields,
		unreachable: in.Unreachable,
		excluded:    make(map[string]struct{}, len(in.Unreachable)),
	}
	for _, u := range in.Unreachable {
		b.excluded[u.Key()] = struct{}{}
	}
	if in.Defined != nil {
		b.checkRoots(in)
	}

	for _, leaf := range in.WriteLeaves {
		b.insertLeaf(leaf, lattice.Write)
	}
	for _, leaf := range in.ReadLeaves {
		b.insertLeaf(leaf, lattice.Read)
	}
	for _, u := range in.Unreachable {
		b.carve(u)
	}
	return b.forest
}

type builder struct {
	forest      *Forest
	fields      Expander
	unreachable []place.Place
	excluded    map[string]struct{}
}

func (b *builder) checkRoots(in Input) {
	roots := make(map[string]struct{}, len(in.Defined))
	for _, d := range in.Defined {
		roots[d.Root()] = struct{}{}
	}
	check := func(leaf place.Place) {
		if _, ok := roots[leaf.Root()]; !ok {
			panic(fmt.Sprintf("forest: leaf %s is rooted at %s, which is not defined before the loop", leaf, leaf.Root()))
		}
	}
	for _, leaf := range in.WriteLeaves {
		check(leaf)
	}
	for _, leaf := range in.ReadLeaves {
		check(leaf)
	}
}

// insertLeaf adds the ancestor chain of leaf with traversal permission and
// the leaf itself with perm. Leaves at or beneath an unreachable path are
// not claimed at all.
func (b *builder) insertLeaf(leaf place.Place, perm lattice.Perm) {
	for _, u := range b.unreachable {
		if u.IsPrefixOf(leaf) {
			return
		}
	}
	idx := b.forest.ensure(leaf)
	b.forest.raise(idx, perm)
	for up := b.forest.nodes[idx].parent; up != noParent; up = b.forest.nodes[up].parent {
		b.forest.raise(up, lattice.Traverse)
	}
}

func (b *builder) isUnreachable(p place.Place) bool {
	_, ok := b.excluded[p.Key()]
	return ok
}

// leadsToUnreachable reports whether some unreachable path lies strictly
// beneath p.
func (b *builder) leadsToUnreachable(p place.Place) bool {
	for _, u := range b.unreachable {
		if p.IsStrictPrefixOf(u) {
			return true
		}
	}
	return false
}

// carve unfolds every node on the way to u. When an ancestor of u holds
// full permission, the shallowest such ancestor's permission is
// redistributed over the sub-paths between it and u so that everything the
// ancestor covered, except u, stays claimed.
func (b *builder) carve(u place.Place) {
	f := b.forest
	root, ok := f.index[u.Root()]
	if !ok || u.Depth() == 0 {
		return
	}

	cur := root
	depth := 0
	top, topDepth := noParent, 0
	for depth < u.Depth() {
		f.nodes[cur].folded = false
		if top == noParent && f.nodes[cur].perm.IsFull() {
			top, topDepth = cur, depth
		}
		next, ok := f.index[u.Prefix(depth+1).Key()]
		if !ok {
			break
		}
		cur = next
		depth++
	}
	if depth == u.Depth() {
		panic(fmt.Sprintf("forest: unreachable path %s has a node", u))
	}
	if top == noParent {
		return
	}

	cur = top
	carry := f.nodes[top].perm
	for depth = topDepth; depth < u.Depth(); depth++ {
		node := f.nodes[cur]
		carry = lattice.Join(carry, node.perm)
		step := u.Prefix(depth + 1)
		if b.fields == nil {
			panic(fmt.Sprintf("forest: cannot unfold %s around %s without field information", node.place, u))
		}
		children := b.fields.Expand(node.place)
		var onPath NodeIndex = noParent
		for _, child := range children {
			if parent, ok := child.Parent(); !ok || !parent.Equal(node.place) {
				panic(fmt.Sprintf("forest: expansion of %s returned %s", node.place, child))
			}
			if b.isUnreachable(child) {
				continue
			}
			idx := f.ensure(child)
			f.raise(idx, carry)
			if child.Equal(step) {
				onPath = idx
			}
			if b.leadsToUnreachable(child) {
				f.nodes[idx].folded = false
			}
		}
		if step.Equal(u) {
			if !containsPlace(children, u) {
				panic(fmt.Sprintf("forest: %s is not a sub-path of %s", u, node.place))
			}
			return
		}
		if onPath == noParent {
			panic(fmt.Sprintf("forest: %s is not a sub-path of %s", step, node.place))
		}
		f.nodes[onPath].folded = false
		cur = onPath
	}
}

func containsPlace(ps []place.Place, p place.Place) bool {
	for _, q := range ps {
		if q.Equal(p) {
			return true
		}
	}
	return false
}
