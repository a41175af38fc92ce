package forest

import (
	"strings"
	"testing"

	"github.com/gnoswap-labs/tverify/internal/analysis/lattice"
	"github.com/gnoswap-labs/tverify/internal/place"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func places(ss ...string) []place.Place {
	out := make([]place.Place, 0, len(ss))
	for _, s := range ss {
		out = append(out, place.MustParse(s))
	}
	return out
}

func fieldMap(m map[string][]string) Expander {
	return ExpanderFunc(func(p place.Place) []place.Place {
		var out []place.Place
		for _, name := range m[p.String()] {
			if name == "*" {
				out = append(out, p.Deref())
			} else {
				out = append(out, p.Field(name))
			}
		}
		return out
	})
}

type flatNode struct {
	Depth  int
	Place  string
	Perm   string
	Folded bool
}

func flatten(f *Forest) []flatNode {
	var out []flatNode
	f.Walk(func(depth int, n Node) bool {
		out = append(out, flatNode{depth, n.Place.String(), n.Perm.String(), n.Folded})
		return true
	})
	return out
}

func TestBuild(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    Input
		fields   map[string][]string
		expected string
	}{
		{
			name:     "empty",
			input:    Input{},
			expected: "",
		},
		{
			name:     "write leaf with traversed root",
			input:    Input{WriteLeaves: places("x.f")},
			expected: "x[traverse](x.f[write])",
		},
		{
			name:     "read leaf on a root",
			input:    Input{ReadLeaves: places("y")},
			expected: "y[read]",
		},
		{
			name:     "unreachable sibling unfolds the root",
			input:    Input{WriteLeaves: places("z.a"), Unreachable: places("z.b")},
			expected: "z[traverse,unfolded](z.a[write])",
		},
		{
			name:     "shared ancestors keep first-seen order",
			input:    Input{WriteLeaves: places("s.b.c", "t", "s.a"), ReadLeaves: places("s.d")},
			expected: "s[traverse](s.b[traverse](s.b.c[write]) s.a[write] s.d[read]) t[write]",
		},
		{
			name:     "read leaf above a write leaf",
			input:    Input{WriteLeaves: places("y.h"), ReadLeaves: places("y")},
			expected: "y[read](y.h[write])",
		},
		{
			name:     "unreachable field of a read leaf is carved out",
			input:    Input{ReadLeaves: places("y"), Unreachable: places("y.k")},
			fields:   map[string][]string{"y": {"h", "k", "m"}},
			expected: "y[read,unfolded](y.h[read] y.m[read])",
		},
		{
			name:   "carving through a dereference",
			input:  Input{WriteLeaves: places("p"), Unreachable: places("(*p.next).val")},
			fields: map[string][]string{"p": {"val", "next"}, "p.next": {"*"}, "*p.next": {"val", "next"}},
			expected: "p[write,unfolded](p.val[write] p.next[write,unfolded](" +
				"*p.next[write,unfolded]((*p.next).next[write])))",
		},
		{
			name:     "unreachable leaf is not claimed",
			input:    Input{WriteLeaves: places("x.f"), ReadLeaves: places("x.g"), Unreachable: places("x.f")},
			expected: "x[traverse,unfolded](x.g[read])",
		},
		{
			name:     "leaf beneath an unreachable path is not claimed",
			input:    Input{WriteLeaves: places("m.a.b"), Unreachable: places("m.a")},
			expected: "",
		},
		{
			name:     "unreachable path of an untouched root is ignored",
			input:    Input{WriteLeaves: places("x.f"), Unreachable: places("w.q")},
			expected: "x[traverse](x.f[write])",
		},
		{
			name: "read leaf above a traversed path to an unreachable field",
			input: Input{
				WriteLeaves: places("y.h.g"),
				ReadLeaves:  places("y"),
				Unreachable: places("y.h.z"),
			},
			fields:   map[string][]string{"y": {"h", "k"}, "y.h": {"g", "m", "z"}},
			expected: "y[read,unfolded](y.h[read,unfolded](y.h.g[write] y.h.m[read]) y.k[read])",
		},
		{
			name: "deeper write leaf strengthens the carried permission",
			input: Input{
				WriteLeaves: places("w.a"),
				ReadLeaves:  places("w"),
				Unreachable: places("w.a.q"),
			},
			fields:   map[string][]string{"w": {"a", "b"}, "w.a": {"p", "q"}},
			expected: "w[read,unfolded](w.a[write,unfolded](w.a.p[write]) w.b[read])",
		},
		{
			name: "two unreachable paths under one leaf",
			input: Input{
				ReadLeaves:  places("y"),
				Unreachable: places("y.m.q", "y.k"),
			},
			fields:   map[string][]string{"y": {"h", "k", "m"}, "y.m": {"p", "q"}},
			expected: "y[read,unfolded](y.h[read] y.m[read,unfolded](y.m.p[read]))",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fields Expander
			if tt.fields != nil {
				fields = fieldMap(tt.fields)
			}
			f := Build(tt.input, fields)
			assert.Equal(t, tt.expected, f.DebugString())
		})
	}
}

func TestBuildInvariants(t *testing.T) {
	t.Parallel()
	in := Input{
		WriteLeaves: places("a.b", "c"),
		ReadLeaves:  places("a.d.e", "f"),
		Unreachable: places("a.d.x", "c.y"),
		Defined:     places("a", "c", "f"),
	}
	fields := fieldMap(map[string][]string{"c": {"y", "z"}})
	f := Build(in, fields)

	required := map[string]lattice.Perm{}
	for _, l := range in.WriteLeaves {
		required[l.Key()] = lattice.Write
	}
	for _, l := range in.ReadLeaves {
		required[l.Key()] = lattice.Read
	}
	for _, leaf := range append(append([]place.Place{}, in.WriteLeaves...), in.ReadLeaves...) {
		n, ok := f.Lookup(leaf)
		require.True(t, ok, "leaf %s has no node", leaf)
		assert.True(t, n.Perm.AtLeast(required[leaf.Key()]), "leaf %s has %s", leaf, n.Perm)
	}
	for _, u := range in.Unreachable {
		_, ok := f.Lookup(u)
		assert.False(t, ok, "unreachable %s has a node", u)
	}

	f.Walk(func(_ int, n Node) bool {
		if !n.Folded {
			return true
		}
		for _, u := range in.Unreachable {
			assert.False(t, n.Place.IsStrictPrefixOf(u), "%s folded above unreachable %s", n.Place, u)
		}
		return true
	})

	seen := map[string]bool{}
	f.Walk(func(_ int, n Node) bool {
		assert.False(t, seen[n.Place.Key()], "duplicate node %s", n.Place)
		seen[n.Place.Key()] = true
		return true
	})
}

func TestBuildDeterministic(t *testing.T) {
	t.Parallel()
	in := Input{
		WriteLeaves: places("r.a.b", "q", "r.c"),
		ReadLeaves:  places("r.d", "(*q2).k"),
		Unreachable: places("r.a.z"),
	}
	fields := fieldMap(map[string][]string{"r.a": {"b", "y", "z"}})

	first := Build(in, fields)
	second := Build(in, fields)
	assert.True(t, first.Equal(second))
	if diff := cmp.Diff(flatten(first), flatten(second)); diff != "" {
		t.Errorf("forests differ (-first +second):\n%s", diff)
	}
}

func TestEqualDetectsDifferences(t *testing.T) {
	t.Parallel()
	a := Build(Input{WriteLeaves: places("x.f", "x.g")}, nil)
	b := Build(Input{WriteLeaves: places("x.g", "x.f")}, nil)
	c := Build(Input{ReadLeaves: places("x.f", "x.g")}, nil)
	assert.False(t, a.Equal(b), "child order must matter")
	assert.False(t, a.Equal(c), "permissions must matter")
	assert.True(t, a.Equal(Build(Input{WriteLeaves: places("x.f", "x.g")}, nil)))
}

func TestBuildContractViolations(t *testing.T) {
	t.Parallel()
	assert.PanicsWithValue(t,
		"forest: leaf w.f is rooted at w, which is not defined before the loop",
		func() {
			Build(Input{WriteLeaves: places("w.f"), Defined: places("x")}, nil)
		})

	assert.Panics(t, func() {
		Build(Input{ReadLeaves: places("y"), Unreachable: places("y.k")}, nil)
	}, "unfolding a full permission needs field information")

	assert.Panics(t, func() {
		Build(Input{ReadLeaves: places("y"), Unreachable: places("y.k")},
			fieldMap(map[string][]string{"y": {"h"}}))
	}, "the expansion must contain the unreachable branch")

	assert.Panics(t, func() {
		Build(Input{ReadLeaves: places("y"), Unreachable: places("y.k")},
			ExpanderFunc(func(place.Place) []place.Place { return places("z.k") }))
	}, "the expansion must return sub-paths")
}

func TestWalkSkipsSubtree(t *testing.T) {
	t.Parallel()
	f := Build(Input{WriteLeaves: places("a.b.c", "d")}, nil)
	var visited []string
	f.Walk(func(_ int, n Node) bool {
		visited = append(visited, n.Place.String())
		return n.Place.String() != "a.b"
	})
	assert.Equal(t, []string{"a", "a.b", "d"}, visited)
	assert.Equal(t, 4, f.Len())
	require.Len(t, f.Roots(), 2)
	assert.Equal(t, "a", f.Roots()[0].Place.String())
}

func TestPrintDot(t *testing.T) {
	t.Parallel()
	f := Build(Input{WriteLeaves: places("z.a"), Unreachable: places("z.b")}, nil)
	var sb strings.Builder
	require.NoError(t, f.PrintDot(&sb, "loop_3"))
	out := sb.String()
	assert.True(t, strings.HasPrefix(out, "digraph \"loop_3\" {\n"))
	assert.Contains(t, out, "n0 [label=\"z\\ntraverse\", style=dashed];")
	assert.Contains(t, out, "n0 -> n1;")
	assert.Contains(t, out, "n1 [label=\"z.a\\nwrite\", style=solid];")
}
