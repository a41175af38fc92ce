package lattice

// Perm models the permission lattice used by loop invariants.
//
//	None < Traverse < Read < Write
//
// Traverse is the read permission needed to follow a path through a node
// without claiming the node's own value.
type Perm int

const (
	None Perm = iota
	Traverse
	Read
	Write
)

func (p Perm) String() string {
	switch p {
	case None:
		return "none"
	case Traverse:
		return "traverse"
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// AtLeast reports whether p is as strong as q.
func (p Perm) AtLeast(q Perm) bool {
	return p >= q
}

// IsFull reports whether p claims the value of the node itself, as opposed
// to merely traversing it.
func (p Perm) IsFull() bool {
	return p.AtLeast(Read)
}

// Join returns the least upper bound in the lattice.
func Join(a, b Perm) Perm {
	if a >= b {
		return a
	}
	return b
}
