package place

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseAndString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected Place
		render   string
	}{
		{"x", Local("x"), "x"},
		{"x.f", Local("x").Field("f"), "x.f"},
		{"x.f.g", Local("x").Field("f").Field("g"), "x.f.g"},
		{"*x", Local("x").Deref(), "*x"},
		{"*x.f.g", Local("x").Field("f").Field("g").Deref(), "*x.f.g"},
		{"(*x).f", Local("x").Deref().Field("f"), "(*x).f"},
		{"(*x.f).g", Local("x").Field("f").Deref().Field("g"), "(*x.f).g"},
		{"**p", Local("p").Deref().Deref(), "**p"},
		{"( *self ).items", Local("self").Deref().Field("items"), "(*self).items"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.expected), "got %s, want %s", got, tt.expected)
			assert.Equal(t, tt.render, got.String())

			again, err := Parse(got.String())
			require.NoError(t, err)
			assert.True(t, again.Equal(got))
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	for _, input := range []string{"", "x.", ".f", "(x", "x)", "x..f", "*", "x.*"} {
		_, err := Parse(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestPrefixOrder(t *testing.T) {
	t.Parallel()
	x := Local("x")
	xf := x.Field("f")
	xfg := xf.Field("g")
	xh := x.Field("h")
	y := Local("y")

	assert.True(t, x.IsPrefixOf(x))
	assert.False(t, x.IsStrictPrefixOf(x))
	assert.True(t, x.IsStrictPrefixOf(xfg))
	assert.True(t, xf.IsStrictPrefixOf(xfg))
	assert.False(t, xfg.IsPrefixOf(xf))
	assert.False(t, xh.IsPrefixOf(xfg))
	assert.False(t, y.IsPrefixOf(xf))
	assert.True(t, xf.IsPrefixOf(xf.Deref().Field("g")))
}

func TestAncestorsAndParent(t *testing.T) {
	t.Parallel()
	p := MustParse("(*x.f).g")
	chain := p.Ancestors()
	require.Len(t, chain, 4)
	assert.Equal(t, []string{"x", "x.f", "*x.f", "(*x.f).g"}, []string{
		chain[0].String(), chain[1].String(), chain[2].String(), chain[3].String(),
	})

	parent, ok := p.Parent()
	require.True(t, ok)
	assert.Equal(t, "*x.f", parent.String())

	_, ok = Local("x").Parent()
	assert.False(t, ok)
}

func TestExtendDoesNotAlias(t *testing.T) {
	t.Parallel()
	base := Local("x").Field("a").Field("b")
	parent, _ := base.Parent()
	left := parent.Field("c")
	right := parent.Field("d")

	assert.Equal(t, "x.a.c", left.String())
	assert.Equal(t, "x.a.d", right.String())
	assert.Equal(t, "x.a.b", base.String())
}

func TestKeyDistinguishesDeref(t *testing.T) {
	t.Parallel()
	assert.NotEqual(t, MustParse("*x.f").Key(), MustParse("(*x).f").Key())
	assert.Equal(t, "x.f.*", MustParse("*x.f").Key())
}

func TestYAMLRoundTrip(t *testing.T) {
	t.Parallel()
	type doc struct {
		Places []Place `yaml:"places"`
	}
	var d doc
	err := yaml.Unmarshal([]byte("places: [x.f, \"*y\", \"(*z).a\"]\n"), &d)
	require.NoError(t, err)
	require.Len(t, d.Places, 3)
	assert.Equal(t, "(*z).a", d.Places[2].String())

	out, err := yaml.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(out), "(*z).a")

	err = yaml.Unmarshal([]byte("places: [\"x.\"]\n"), &d)
	assert.Error(t, err)
}
