package term

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrKindMismatch = errors.New("term: kind mismatch")
	ErrUnsupported  = errors.New("term: unsupported term")
	ErrNotText      = errors.New("term: not a character list")
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindBinary
	KindString
	KindBool
	KindAtom
	KindTuple
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindBinary:
		return "binary"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindAtom:
		return "atom"
	case KindTuple:
		return "tuple"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Value is one structured value exchanged with the parent process.
// The zero Value is invalid.
type Value struct {
	kind  Kind
	i     int64
	s     string
	b     []byte
	items []Value
}

func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Binary wraps b without copying.
func Binary(b []byte) Value { return Value{kind: KindBinary, b: b} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

func Atom(name string) Value { return Value{kind: KindAtom, s: name} }

func Tuple(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindTuple, items: items}
}

func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, items: items}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) mismatch(want Kind) error {
	return fmt.Errorf("%w: got %s want %s", ErrKindMismatch, v.kind, want)
}

// Int returns the integer held by v.
func (v Value) Int() (int64, error) {
	if v.kind != KindInt {
		return 0, v.mismatch(KindInt)
	}
	return v.i, nil
}

// Bytes returns the binary held by v.
func (v Value) Bytes() ([]byte, error) {
	if v.kind != KindBinary {
		return nil, v.mismatch(KindBinary)
	}
	return v.b, nil
}

func (v Value) Boolean() (bool, error) {
	if v.kind != KindBool {
		return false, v.mismatch(KindBool)
	}
	return v.i != 0, nil
}

func (v Value) AtomName() (string, error) {
	if v.kind != KindAtom {
		return "", v.mismatch(KindAtom)
	}
	return v.s, nil
}

// Elements returns the members of a tuple.
func (v Value) Elements() ([]Value, error) {
	if v.kind != KindTuple {
		return nil, v.mismatch(KindTuple)
	}
	return v.items, nil
}

// Items returns the members of a list.
func (v Value) Items() ([]Value, error) {
	if v.kind != KindList {
		return nil, v.mismatch(KindList)
	}
	return v.items, nil
}

// Arity is the element count of a tuple or list, 0 otherwise.
func (v Value) Arity() int {
	if v.kind == KindTuple || v.kind == KindList {
		return len(v.items)
	}
	return 0
}

// Text flattens a string, a binary or an iolist (nested lists of bytes,
// binaries and strings) into one string.
func (v Value) Text() (string, error) {
	switch v.kind {
	case KindString:
		return v.s, nil
	case KindBinary:
		return string(v.b), nil
	case KindList:
		var sb strings.Builder
		if err := appendIOList(&sb, v.items); err != nil {
			return "", err
		}
		return sb.String(), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrNotText, v.kind)
	}
}

func appendIOList(sb *strings.Builder, items []Value) error {
	for _, item := range items {
		switch item.kind {
		case KindInt:
			if item.i < 0 || item.i > 255 {
				return fmt.Errorf("%w: byte %d out of range", ErrNotText, item.i)
			}
			sb.WriteByte(byte(item.i))
		case KindString:
			sb.WriteString(item.s)
		case KindBinary:
			sb.Write(item.b)
		case KindList:
			if err := appendIOList(sb, item.items); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s element", ErrNotText, item.kind)
		}
	}
	return nil
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt, KindBool:
		return v.i == o.i
	case KindString, KindAtom:
		return v.s == o.s
	case KindBinary:
		return bytes.Equal(v.b, o.b)
	case KindTuple, KindList:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders v in Erlang term syntax for diagnostics.
func (v Value) String() string {
	var sb strings.Builder
	v.write(&sb)
	return sb.String()
}

func (v Value) write(sb *strings.Builder) {
	switch v.kind {
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.i != 0))
	case KindAtom:
		sb.WriteString(v.s)
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindBinary:
		sb.WriteString("<<")
		for i, c := range v.b {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Itoa(int(c)))
		}
		sb.WriteString(">>")
	case KindTuple, KindList:
		open, closing := byte('{'), byte('}')
		if v.kind == KindList {
			open, closing = '[', ']'
		}
		sb.WriteByte(open)
		for i, item := range v.items {
			if i > 0 {
				sb.WriteByte(',')
			}
			item.write(sb)
		}
		sb.WriteByte(closing)
	default:
		sb.WriteString("<invalid>")
	}
}
