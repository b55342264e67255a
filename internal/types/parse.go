package types

import (
	"fmt"
	"strings"
)

// Parse parses a tuple type string such as "{int64,[{int32,double}]}".
// A bare field type ("int64") is accepted as a one-field tuple.
func Parse(s string) (Tuple, error) {
	p := &parser{src: s}
	p.skipSpace()
	var (
		t   Tuple
		err error
	)
	if p.peek() == '{' {
		t, err = p.tuple()
	} else {
		var typ Type
		typ, err = p.typ()
		t = FromTypes(typ)
	}
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.done() {
		return nil, p.errorf("unexpected trailing input")
	}
	return t, nil
}

// ParseType parses a single field type.
func ParseType(s string) (Type, error) {
	p := &parser{src: s}
	p.skipSpace()
	typ, err := p.typ()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.done() {
		return nil, p.errorf("unexpected trailing input")
	}
	return typ, nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests
// and literal tables.
func MustParse(s string) Tuple {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	src string
	pos int
}

func (p *parser) done() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.done() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for !p.done() && strings.IndexByte(" \t\n\r", p.src[p.pos]) >= 0 {
		p.pos++
	}
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("type %q at offset %d: %s", p.src, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) tuple() (Tuple, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	t := Tuple{}
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return t, nil
	}
	for {
		typ, err := p.typ()
		if err != nil {
			return nil, err
		}
		t = append(t, Field{Type: typ})
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return t, nil
		default:
			return nil, p.errorf("expected ',' or '}'")
		}
	}
}

func (p *parser) typ() (Type, error) {
	p.skipSpace()
	if p.peek() == '[' {
		p.pos++
		elem, err := p.tuple()
		if err != nil {
			return nil, err
		}
		if err := p.expect(']'); err != nil {
			return nil, err
		}
		return Array{Elem: elem}, nil
	}
	start := p.pos
	for !p.done() {
		c := p.src[p.pos]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			break
		}
		p.pos++
	}
	name := p.src[start:p.pos]
	if name == "" {
		return nil, p.errorf("expected type name")
	}
	k, ok := KindOf(name)
	if !ok {
		return nil, p.errorf("unknown atomic type %q", name)
	}
	return Atomic{Kind: k}, nil
}
