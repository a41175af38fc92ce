package place

import (
	"fmt"
	"strings"
	"unicode"
)

// Parse reads a place written in source syntax:
//
//	place   := "*" place | postfix
//	postfix := primary { "." ident }
//	primary := ident | "(" place ")"
//
// A leading "*" dereferences everything to its right, so "*x.f" is the
// dereference of x.f and "(*x).f" is field f of the dereference of x.
func Parse(s string) (Place, error) {
	p := &parser{src: s}
	out, err := p.place()
	if err != nil {
		return Place{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Place{}, fmt.Errorf("place %q: unexpected %q at offset %d", s, p.src[p.pos:], p.pos)
	}
	return out, nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(s string) Place {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

type parser struct {
	src string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) place() (Place, error) {
	if p.peek() == '*' {
		p.pos++
		inner, err := p.place()
		if err != nil {
			return Place{}, err
		}
		return inner.Deref(), nil
	}
	return p.postfix()
}

func (p *parser) postfix() (Place, error) {
	out, err := p.primary()
	if err != nil {
		return Place{}, err
	}
	for p.peek() == '.' {
		p.pos++
		name, err := p.ident()
		if err != nil {
			return Place{}, err
		}
		out = out.Field(name)
	}
	return out, nil
}

func (p *parser) primary() (Place, error) {
	if p.peek() == '(' {
		p.pos++
		inner, err := p.place()
		if err != nil {
			return Place{}, err
		}
		if p.peek() != ')' {
			return Place{}, fmt.Errorf("place %q: missing ')' at offset %d", p.src, p.pos)
		}
		p.pos++
		return inner, nil
	}
	name, err := p.ident()
	if err != nil {
		return Place{}, err
	}
	return Local(name), nil
}

func (p *parser) ident() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		r := rune(p.src[p.pos])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		p.pos++
	}
	if start == p.pos {
		return "", fmt.Errorf("place %q: expected identifier at offset %d", p.src, start)
	}
	return strings.Clone(p.src[start:p.pos]), nil
}
