package wire

import "fmt"

// ValueKind tags one element of a value sequence.
type ValueKind uint8

const (
	KindFloat  ValueKind = 1
	KindInt    ValueKind = 2
	KindString ValueKind = 3
)

func (k ValueKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one element of a tagged value sequence. Only the field matching
// Kind is meaningful.
type Value struct {
	Kind ValueKind
	F    float64
	I    int64
	S    string
}

func Float(f float64) Value { return Value{Kind: KindFloat, F: f} }
func Int(i int64) Value     { return Value{Kind: KindInt, I: i} }
func Str(s string) Value    { return Value{Kind: KindString, S: s} }

// PutValues writes a count followed by each tagged value.
func (p *Packer) PutValues(vals []Value) error {
	p.PutUint32(uint32(len(vals)))
	for _, v := range vals {
		p.PutUint8(uint8(v.Kind))
		switch v.Kind {
		case KindFloat:
			p.PutFloat64(v.F)
		case KindInt:
			p.PutInt64(v.I)
		case KindString:
			if err := p.PutString(v.S); err != nil {
				return err
			}
		default:
			return fmt.Errorf("wire: cannot pack value of %s", v.Kind)
		}
	}
	return nil
}

// Values reads a sequence written by PutValues.
func (u *Unpacker) Values() ([]Value, error) {
	n := u.Uint32()
	if u.err != nil {
		return nil, u.err
	}
	if int(n) > u.Remaining() {
		return nil, fmt.Errorf("%w: %d values announced, %d bytes left", ErrShortBuffer, n, u.Remaining())
	}
	vals := make([]Value, 0, n)
	for i := uint32(0); i < n; i++ {
		kind := ValueKind(u.Uint8())
		switch kind {
		case KindFloat:
			vals = append(vals, Float(u.Float64()))
		case KindInt:
			vals = append(vals, Int(u.Int64()))
		case KindString:
			vals = append(vals, Str(u.String()))
		default:
			if u.err != nil {
				return nil, u.err
			}
			return nil, fmt.Errorf("wire: unknown value tag %d at element %d", uint8(kind), i)
		}
		if u.err != nil {
			return nil, u.err
		}
	}
	return vals, nil
}
