package codec

import (
	"math"

	"github.com/chronostools/dbus/fragments"
	"github.com/chronostools/dbus/signature"
)

// Writer encodes opaque values against a signature.Descriptor tree
// onto a fragments.Encoder.
type Writer struct {
	Enc *fragments.Encoder

	// ValidateSyntax, when true, checks object paths and signature
	// strings for DBus syntactic validity before encoding them. It
	// defaults to false: the wire format doesn't require a sender to
	// validate its own paths, and skipping the check keeps the common
	// case cheap.
	ValidateSyntax bool
}

// Write encodes value as desc onto w.Enc.
func (w *Writer) Write(desc signature.Descriptor, value any) error {
	switch desc.Kind {
	case signature.KindPrimitive:
		return w.writePrimitive(desc.Code, value)
	case signature.KindVariant:
		return w.writeVariant(value)
	case signature.KindArray:
		return w.writeArray(desc, value)
	case signature.KindStruct:
		return w.writeStruct(desc, value)
	case signature.KindDictEntry:
		return w.writeDictEntry(desc, value)
	default:
		return domainErrorf("codec: cannot write unknown descriptor kind %v", desc.Kind)
	}
}

// WriteMany encodes each of values against the corresponding entry of
// descs, in order. It's used for whole message bodies, which are a
// concatenation of independent top-level values.
func (w *Writer) WriteMany(descs []signature.Descriptor, values []any) error {
	if len(descs) != len(values) {
		return domainErrorf("codec: %d values provided for %d signature elements", len(values), len(descs))
	}
	for i, d := range descs {
		if err := w.Write(d, values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writePrimitive(code signature.Code, value any) error {
	e := w.Enc
	switch code {
	case signature.Byte:
		n, ok := numericToInt64(value)
		if !ok || n < 0 || n > math.MaxUint8 {
			return domainErrorf("value %v out of range for type 'y' (byte)", value)
		}
		e.Uint8(uint8(n))
	case signature.Boolean:
		b, ok := value.(bool)
		if !ok {
			return domainErrorf("value %v is not a bool for type 'b'", value)
		}
		if b {
			e.Uint32(1)
		} else {
			e.Uint32(0)
		}
	case signature.Int16:
		n, ok := numericToInt64(value)
		if !ok || n < math.MinInt16 || n > math.MaxInt16 {
			return domainErrorf("value %v out of range for type 'n' (int16)", value)
		}
		e.Uint16(uint16(int16(n)))
	case signature.Uint16:
		n, ok := numericToInt64(value)
		if !ok || n < 0 || n > math.MaxUint16 {
			return domainErrorf("value %v out of range for type 'q' (uint16)", value)
		}
		e.Uint16(uint16(n))
	case signature.Int32:
		n, ok := numericToInt64(value)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return domainErrorf("value %v out of range for type 'i' (int32)", value)
		}
		e.Uint32(uint32(int32(n)))
	case signature.Uint32:
		n, ok := numericToInt64(value)
		if !ok || n < 0 || n > math.MaxUint32 {
			return domainErrorf("value %v out of range for type 'u' (uint32)", value)
		}
		e.Uint32(uint32(n))
	case signature.UnixFD:
		n, ok := numericToInt64(value)
		if !ok || n < 0 || n > math.MaxUint32 {
			return domainErrorf("value %v out of range for type 'h' (unix fd)", value)
		}
		e.Uint32(uint32(n))
	case signature.Int64:
		n, ok := numericToInt64(value)
		if !ok {
			return domainErrorf("value %v out of range for type 'x' (int64)", value)
		}
		e.Uint64(uint64(n))
	case signature.Uint64:
		n, ok := numericToUint64(value)
		if !ok {
			return domainErrorf("value %v out of range for type 't' (uint64)", value)
		}
		e.Uint64(n)
	case signature.Double:
		f, ok := numericToFloat64(value)
		if !ok {
			return domainErrorf("value %v is not a float for type 'd' (double)", value)
		}
		e.Uint64(math.Float64bits(f))
	case signature.String:
		s, ok := value.(string)
		if !ok {
			return domainErrorf("value %v is not a string for type 's'", value)
		}
		w.writeString(s)
	case signature.ObjectPath:
		s, err := w.objectPathString(value)
		if err != nil {
			return err
		}
		w.writeString(s)
	case signature.Signature:
		s, ok := value.(string)
		if !ok {
			return domainErrorf("value %v is not a string for type 'g'", value)
		}
		if w.ValidateSyntax {
			if _, err := signature.ParseMany(s); err != nil {
				return domainErrorf("invalid signature string %q: %v", s, err)
			}
		}
		w.writeSignatureString(s)
	default:
		return domainErrorf("codec: unknown primitive type code %q", code)
	}
	return nil
}

func (w *Writer) objectPathString(value any) (string, error) {
	var s string
	switch v := value.(type) {
	case ObjectPath:
		s = string(v)
	case string:
		s = v
	default:
		return "", domainErrorf("value %v is not an object path for type 'o'", value)
	}
	if w.ValidateSyntax {
		if err := ObjectPath(s).validateSyntax(); err != nil {
			return "", domainErrorf("invalid object path: %v", err)
		}
	}
	return s, nil
}

func (w *Writer) writeString(s string) {
	e := w.Enc
	e.Uint32(uint32(len(s)))
	e.Write([]byte(s))
	e.Write([]byte{0})
}

func (w *Writer) writeSignatureString(s string) {
	e := w.Enc
	e.Uint8(uint8(len(s)))
	e.Write([]byte(s))
	e.Write([]byte{0})
}

func (w *Writer) writeVariant(value any) error {
	v, ok := value.(Variant)
	if !ok {
		return domainErrorf("value %v is not a Variant", value)
	}
	w.writeSignatureString(v.Sig.String())
	return w.Write(v.Sig, v.Value)
}

func (w *Writer) writeArray(desc signature.Descriptor, value any) error {
	e := w.Enc
	l := e.ReserveUint32("a")
	e.Pad(desc.Elem.Align())

	n, err := e.Measure(func() error {
		if desc.Elem.Kind == signature.KindDictEntry {
			entries, ok := value.([]DictEntry)
			if !ok {
				return domainErrorf("value %v is not a []DictEntry for a dict type", value)
			}
			for _, ent := range entries {
				if err := w.writeDictEntry(*desc.Elem, ent); err != nil {
					return err
				}
			}
			return nil
		}
		elems, ok := value.([]any)
		if !ok {
			return domainErrorf("value %v is not a []any for an array type", value)
		}
		for _, el := range elems {
			if err := w.Write(*desc.Elem, el); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.Fill(l, uint32(n))
}

func (w *Writer) writeStruct(desc signature.Descriptor, value any) error {
	fields, ok := value.([]any)
	if !ok {
		return domainErrorf("value %v is not a []any for a struct type", value)
	}
	if len(fields) != len(desc.Fields) {
		return domainErrorf("struct %s needs %d fields, got %d", desc.String(), len(desc.Fields), len(fields))
	}
	w.Enc.Pad(signature.StructAlignment)
	for i, f := range desc.Fields {
		if err := w.Write(f, fields[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeDictEntry(desc signature.Descriptor, value any) error {
	ent, ok := value.(DictEntry)
	if !ok {
		return domainErrorf("value %v is not a DictEntry", value)
	}
	w.Enc.Pad(signature.DictEntryAlignment)
	if err := w.Write(*desc.Key, ent.Key); err != nil {
		return err
	}
	return w.Write(*desc.Value, ent.Value)
}
