package term

import (
	"errors"
	"testing"
)

func TestAccessorsRejectOtherKinds(t *testing.T) {
	v := Atom("ok")

	if _, err := v.Int(); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("Int on atom: expected ErrKindMismatch, got %v", err)
	}
	if _, err := v.Bytes(); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("Bytes on atom: expected ErrKindMismatch, got %v", err)
	}
	if _, err := v.Elements(); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("Elements on atom: expected ErrKindMismatch, got %v", err)
	}

	name, err := v.AtomName()
	if err != nil {
		t.Fatalf("atom name: %v", err)
	}
	if name != "ok" {
		t.Fatalf("unexpected atom name: %q", name)
	}
}

func TestTextFlattensIOLists(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want string
	}{
		{name: "string", in: String("tcp://*:5555"), want: "tcp://*:5555"},
		{name: "binary", in: Binary([]byte("inproc://a")), want: "inproc://a"},
		{name: "bytes", in: List(Int('h'), Int('i')), want: "hi"},
		{
			name: "nested",
			in:   List(String("ipc://"), List(Binary([]byte("tmp")), Int('/')), Int('x')),
			want: "ipc://tmp/x",
		},
		{name: "empty", in: List(), want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Text()
			if err != nil {
				t.Fatalf("text: %v", err)
			}
			if got != tt.want {
				t.Fatalf("unexpected text: got %q want %q", got, tt.want)
			}
		})
	}
}

func TestTextRejectsNonCharacterData(t *testing.T) {
	for _, v := range []Value{Int(7), Atom("x"), List(Int(300)), List(Atom("x")), Tuple()} {
		if _, err := v.Text(); !errors.Is(err, ErrNotText) {
			t.Fatalf("value %s: expected ErrNotText, got %v", v, err)
		}
	}
}

func TestEqual(t *testing.T) {
	a := Tuple(Atom("ok"), Tuple(Binary([]byte{1, 2}), Bool(true)))
	b := Tuple(Atom("ok"), Tuple(Binary([]byte{1, 2}), Bool(true)))
	if !a.Equal(b) {
		t.Fatalf("expected %s to equal %s", a, b)
	}
	if c := Tuple(Atom("ok"), Tuple(Binary([]byte{1}), Bool(true))); a.Equal(c) {
		t.Fatalf("expected %s to differ from %s", a, c)
	}
	if Atom("x").Equal(String("x")) {
		t.Fatalf("atom and string must differ")
	}
	if Tuple().Equal(List()) {
		t.Fatalf("empty tuple and empty list must differ")
	}
}

func TestStringRendersErlangSyntax(t *testing.T) {
	v := Tuple(Atom("ok"), Tuple(Binary([]byte{104, 105}), Bool(false)), String("PAIR"), List(Int(-1)))
	if got := v.String(); got != `{ok,{<<104,105>>,false},"PAIR",[-1]}` {
		t.Fatalf("unexpected rendering: %s", got)
	}
	if got := (Value{}).String(); got != "<invalid>" {
		t.Fatalf("unexpected invalid rendering: %s", got)
	}
}
