package signature

import "fmt"

// ParseOne parses sig as a single complete DBus type signature. It
// fails if sig contains anything beyond one complete type, including
// trailing whitespace.
func ParseOne(sig string) (Descriptor, error) {
	d, err := parseOneRaw(sig)
	if err != nil {
		return Descriptor{}, &ParseError{Signature: sig, Err: err}
	}
	return d, nil
}

func parseOneRaw(sig string) (Descriptor, error) {
	if sig == "" {
		return Descriptor{}, fmt.Errorf("empty signature")
	}
	p := &parser{s: sig}
	d, err := p.parseType()
	if err != nil {
		return Descriptor{}, err
	}
	if p.pos != len(p.s) {
		return Descriptor{}, fmt.Errorf("unexpected trailing characters '%s'", p.s[p.pos:])
	}
	return d, nil
}

// ParseMany parses sig as a concatenation of zero or more complete
// type signatures, returning each in order. An empty string parses to
// an empty slice.
func ParseMany(sig string) ([]Descriptor, error) {
	ret, err := parseManyRaw(sig)
	if err != nil {
		return nil, &ParseError{Signature: sig, Err: err}
	}
	return ret, nil
}

func parseManyRaw(sig string) ([]Descriptor, error) {
	if sig == "" {
		return nil, nil
	}
	p := &parser{s: sig}
	var ret []Descriptor
	for p.pos < len(p.s) {
		d, err := p.parseType()
		if err != nil {
			return nil, err
		}
		ret = append(ret, d)
	}
	return ret, nil
}

// parser is a single-pass recursive descent parser over a position
// cursor into a signature string.
type parser struct {
	s   string
	pos int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.s)
}

func (p *parser) peek() byte {
	return p.s[p.pos]
}

// parseType consumes one complete type starting at the cursor.
func (p *parser) parseType() (Descriptor, error) {
	if p.eof() {
		return Descriptor{}, fmt.Errorf("empty signature")
	}

	c := Code(p.peek())
	switch {
	case IsFixed(c) || IsStringLike(c):
		p.pos++
		return Primitive(c), nil
	case c == Variant:
		p.pos++
		return VariantType, nil
	case c == Array:
		p.pos++
		return p.parseArray()
	case c == StructOpen:
		p.pos++
		return p.parseStruct()
	case c == DictOpen:
		return Descriptor{}, fmt.Errorf("unknown type '{' (did you mean 'a{'?)")
	default:
		return Descriptor{}, fmt.Errorf("unknown type %q", rune(c))
	}
}

func (p *parser) parseArray() (Descriptor, error) {
	if p.eof() {
		return Descriptor{}, fmt.Errorf("unknown type '' (expected an array element type)")
	}
	if p.peek() == byte(DictOpen) {
		p.pos++
		entry, err := p.parseDict()
		if err != nil {
			return Descriptor{}, err
		}
		return ArrayOf(entry), nil
	}
	elem, err := p.parseType()
	if err != nil {
		return Descriptor{}, err
	}
	return ArrayOf(elem), nil
}

func (p *parser) parseDict() (Descriptor, error) {
	var parts []Descriptor
	for {
		if p.eof() {
			return Descriptor{}, fmt.Errorf("reached end of input while seeking '}' to close dict entry")
		}
		if p.peek() == byte(DictClose) {
			p.pos++
			break
		}
		d, err := p.parseType()
		if err != nil {
			return Descriptor{}, err
		}
		parts = append(parts, d)
	}
	if len(parts) != 2 {
		return Descriptor{}, fmt.Errorf("expected 2 signatures in dictionary, got %d", len(parts))
	}
	key := parts[0]
	if key.Kind != KindPrimitive || !IsBasic(key.Code) {
		return Descriptor{}, fmt.Errorf("dict entry key type %q must be a basic type", key.String())
	}
	return DictOf(key, parts[1]), nil
}

func (p *parser) parseStruct() (Descriptor, error) {
	var fields []Descriptor
	for {
		if p.eof() {
			return Descriptor{}, fmt.Errorf("reached end of input while seeking ')' to close struct")
		}
		if p.peek() == byte(StructClose) {
			p.pos++
			break
		}
		d, err := p.parseType()
		if err != nil {
			return Descriptor{}, err
		}
		fields = append(fields, d)
	}
	return StructOf(fields...), nil
}
