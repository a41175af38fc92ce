// Package place models memory paths ("places"): a local variable extended by
// field projections and dereferences, such as x, x.f or (*x.f).g.
//
// A Place is immutable. Every operation that extends a place returns a new
// value whose projection chain never aliases the receiver's backing array.
package place

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProjectionKind distinguishes the two ways a path can be extended.
type ProjectionKind int

const (
	Field ProjectionKind = iota
	Deref
)

func (k ProjectionKind) String() string {
	switch k {
	case Field:
		return "Field"
	case Deref:
		return "Deref"
	default:
		return "Unknown"
	}
}

// Projection is one step of a path.
type Projection struct {
	Kind ProjectionKind
	Name string // field name; empty for Deref
}

func (p Projection) token() string {
	if p.Kind == Deref {
		return "*"
	}
	return p.Name
}

// Place is a memory path rooted at a local variable.
type Place struct {
	root  string
	projs []Projection
}

// Local returns the place denoting the variable itself.
func Local(name string) Place {
	return Place{root: name}
}

// Root returns the name of the root variable.
func (p Place) Root() string { return p.root }

// RootPlace returns the place of the root variable.
func (p Place) RootPlace() Place { return Local(p.root) }

// Depth is the number of projections applied to the root.
func (p Place) Depth() int { return len(p.projs) }

// Projection returns the i-th projection.
func (p Place) Projection(i int) Projection { return p.projs[i] }

// IsZero reports whether p is the zero Place (no root variable).
func (p Place) IsZero() bool { return p.root == "" }

// Field extends p with a field projection.
func (p Place) Field(name string) Place {
	return p.extend(Projection{Kind: Field, Name: name})
}

// Deref extends p with a dereference.
func (p Place) Deref() Place {
	return p.extend(Projection{Kind: Deref})
}

func (p Place) extend(proj Projection) Place {
	projs := make([]Projection, len(p.projs)+1)
	copy(projs, p.projs)
	projs[len(p.projs)] = proj
	return Place{root: p.root, projs: projs}
}

// Parent returns p without its last projection. The second result is false
// for a bare local.
func (p Place) Parent() (Place, bool) {
	if len(p.projs) == 0 {
		return Place{}, false
	}
	return p.Prefix(len(p.projs) - 1), true
}

// Prefix returns the ancestor of p that has exactly n projections.
func (p Place) Prefix(n int) Place {
	if n < 0 || n > len(p.projs) {
		panic(fmt.Sprintf("place: prefix length %d out of range for %s", n, p))
	}
	return Place{root: p.root, projs: p.projs[:n:n]}
}

// Ancestors returns the chain from the root variable down to p, inclusive.
func (p Place) Ancestors() []Place {
	chain := make([]Place, 0, len(p.projs)+1)
	for n := 0; n <= len(p.projs); n++ {
		chain = append(chain, p.Prefix(n))
	}
	return chain
}

// Equal reports whether p and q denote the same path.
func (p Place) Equal(q Place) bool {
	if p.root != q.root || len(p.projs) != len(q.projs) {
		return false
	}
	for i := range p.projs {
		if p.projs[i] != q.projs[i] {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether q extends p by zero or more projections.
func (p Place) IsPrefixOf(q Place) bool {
	if p.root != q.root || len(p.projs) > len(q.projs) {
		return false
	}
	for i := range p.projs {
		if p.projs[i] != q.projs[i] {
			return false
		}
	}
	return true
}

// IsStrictPrefixOf reports whether q extends p by at least one projection.
func (p Place) IsStrictPrefixOf(q Place) bool {
	return len(p.projs) < len(q.projs) && p.IsPrefixOf(q)
}

// Tokens returns the root followed by one token per projection ("*" for a
// dereference). It is the key used by the forest arena.
func (p Place) Tokens() []string {
	toks := make([]string, 0, len(p.projs)+1)
	toks = append(toks, p.root)
	for _, proj := range p.projs {
		toks = append(toks, proj.token())
	}
	return toks
}

// Key returns a string that uniquely identifies the path.
func (p Place) Key() string {
	return strings.Join(p.Tokens(), ".")
}

// String renders p in source syntax: field access binds tighter than
// dereference, so a field of a dereferenced path is parenthesised.
func (p Place) String() string {
	s := p.root
	derefOuter := false
	for _, proj := range p.projs {
		switch proj.Kind {
		case Deref:
			s = "*" + s
			derefOuter = true
		case Field:
			if derefOuter {
				s = "(" + s + ")"
				derefOuter = false
			}
			s = s + "." + proj.Name
		}
	}
	return s
}

// MarshalYAML renders the place in source syntax.
func (p Place) MarshalYAML() (any, error) {
	return p.String(), nil
}

// UnmarshalYAML parses a place written in source syntax.
func (p *Place) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
