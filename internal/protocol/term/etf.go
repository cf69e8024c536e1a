package term

import (
	"fmt"
	"math"
	"math/big"

	"github.com/okeuday/erlang_go/v2/erlang"
)

// Codec turns frame payloads into Values and back.
type Codec interface {
	Decode(b []byte) (Value, error)
	Encode(v Value) ([]byte, error)
}

// ETF is the Erlang external term format codec used by port owners.
//
// Erlang has no boolean type: the atoms true and false decode as Bool and
// Bool encodes as those atoms. Strings encode as character lists. The
// decoder reports the atom undefined as nil; it comes back as Atom.
type ETF struct{}

var _ Codec = ETF{}

func (ETF) Decode(b []byte) (Value, error) {
	raw, err := erlang.BinaryToTerm(b)
	if err != nil {
		return Value{}, fmt.Errorf("term: decode: %w", err)
	}
	return fromErlang(raw)
}

func (ETF) Encode(v Value) ([]byte, error) {
	raw, err := toErlang(v)
	if err != nil {
		return nil, err
	}
	b, err := erlang.TermToBinary(raw, -1)
	if err != nil {
		return nil, fmt.Errorf("term: encode: %w", err)
	}
	return b, nil
}

func fromErlang(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Atom("undefined"), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: integer %d out of range", ErrUnsupported, t)
		}
		return Int(int64(t)), nil
	case *big.Int:
		if !t.IsInt64() {
			return Value{}, fmt.Errorf("%w: integer %s out of range", ErrUnsupported, t)
		}
		return Int(t.Int64()), nil
	case bool:
		return Bool(t), nil
	case erlang.OtpErlangAtom:
		return atomValue(string(t)), nil
	case erlang.OtpErlangAtomUTF8:
		return atomValue(string(t)), nil
	case string:
		return String(t), nil
	case erlang.OtpErlangBinary:
		return Binary(t.Value), nil
	case erlang.OtpErlangTuple:
		items, err := fromErlangSlice(t)
		if err != nil {
			return Value{}, err
		}
		return Tuple(items...), nil
	case []interface{}:
		items, err := fromErlangSlice(t)
		if err != nil {
			return Value{}, err
		}
		return Tuple(items...), nil
	case erlang.OtpErlangList:
		if t.Improper {
			return Value{}, fmt.Errorf("%w: improper list", ErrUnsupported)
		}
		items, err := fromErlangSlice(t.Value)
		if err != nil {
			return Value{}, err
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupported, raw)
	}
}

func fromErlangSlice(raw []interface{}) ([]Value, error) {
	out := make([]Value, len(raw))
	for i, r := range raw {
		v, err := fromErlang(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func atomValue(name string) Value {
	switch name {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	default:
		return Atom(name)
	}
}

func toErlang(v Value) (interface{}, error) {
	switch v.kind {
	case KindInt:
		if v.i >= math.MinInt32 && v.i <= math.MaxInt32 {
			return int(v.i), nil
		}
		return big.NewInt(v.i), nil
	case KindBinary:
		return erlang.OtpErlangBinary{Value: v.b, Bits: 8}, nil
	case KindString:
		return v.s, nil
	case KindBool:
		if v.i != 0 {
			return erlang.OtpErlangAtom("true"), nil
		}
		return erlang.OtpErlangAtom("false"), nil
	case KindAtom:
		return erlang.OtpErlangAtom(v.s), nil
	case KindTuple:
		items, err := toErlangSlice(v.items)
		if err != nil {
			return nil, err
		}
		return erlang.OtpErlangTuple(items), nil
	case KindList:
		items, err := toErlangSlice(v.items)
		if err != nil {
			return nil, err
		}
		return erlang.OtpErlangList{Value: items}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, v.kind)
	}
}

func toErlangSlice(items []Value) ([]interface{}, error) {
	out := make([]interface{}, len(items))
	for i, item := range items {
		r, err := toErlang(item)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
