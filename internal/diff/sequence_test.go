package diff

import (
	"reflect"
	"testing"
)

func runeKey(r rune) rune { return r }

func TestAlignOpcodes(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want []Opcode
	}{
		{
			name: "both empty",
			a:    "",
			b:    "",
			want: nil,
		},
		{
			name: "only b",
			a:    "",
			b:    "abc",
			want: []Opcode{{Tag: OpInsert, I1: 0, I2: 0, J1: 0, J2: 3}},
		},
		{
			name: "only a",
			a:    "abc",
			b:    "",
			want: []Opcode{{Tag: OpDelete, I1: 0, I2: 3, J1: 0, J2: 0}},
		},
		{
			name: "identical",
			a:    "abc",
			b:    "abc",
			want: []Opcode{{Tag: OpEqual, I1: 0, I2: 3, J1: 0, J2: 3}},
		},
		{
			name: "middle replace",
			a:    "abxcd",
			b:    "abycd",
			want: []Opcode{
				{Tag: OpEqual, I1: 0, I2: 2, J1: 0, J2: 2},
				{Tag: OpReplace, I1: 2, I2: 3, J1: 2, J2: 3},
				{Tag: OpEqual, I1: 3, I2: 5, J1: 3, J2: 5},
			},
		},
		{
			name: "trailing insert",
			a:    "ab",
			b:    "abcd",
			want: []Opcode{
				{Tag: OpEqual, I1: 0, I2: 2, J1: 0, J2: 2},
				{Tag: OpInsert, I1: 2, I2: 2, J1: 2, J2: 4},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Align([]rune(tt.a), []rune(tt.b), runeKey)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Align(%q, %q) = %+v, want %+v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestAlignCoversBothSequences(t *testing.T) {
	pairs := [][2]string{
		{"the quick brown fox", "the quack brown box"},
		{"abcabcabc", "cbacbacba"},
		{"aaaa", "aa"},
		{"kitten", "sitting"},
	}
	for _, p := range pairs {
		a, b := []rune(p[0]), []rune(p[1])
		ops := Align(a, b, runeKey)
		i, j := 0, 0
		for _, op := range ops {
			if op.I1 != i || op.J1 != j {
				t.Fatalf("%q/%q: opcode %+v not contiguous with (%d,%d)", p[0], p[1], op, i, j)
			}
			if op.Tag == OpEqual && string(a[op.I1:op.I2]) != string(b[op.J1:op.J2]) {
				t.Fatalf("%q/%q: equal opcode %+v covers different text", p[0], p[1], op)
			}
			i, j = op.I2, op.J2
		}
		if i != len(a) || j != len(b) {
			t.Fatalf("%q/%q: opcodes end at (%d,%d), want (%d,%d)", p[0], p[1], i, j, len(a), len(b))
		}
	}
}

func TestAlignIsDeterministic(t *testing.T) {
	a, b := []rune("abababab"), []rune("babababa")
	first := Align(a, b, runeKey)
	for i := 0; i < 20; i++ {
		if got := Align(a, b, runeKey); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d produced %+v, first run %+v", i, got, first)
		}
	}
}

func TestCleanupOpcodesFoldsShortEquality(t *testing.T) {
	ops := Align([]rune("Hello world"), []rune("Hello there"), runeKey)
	if len(ops) != 4 {
		t.Fatalf("expected raw alignment to keep the shared 'r', got %+v", ops)
	}

	cleaned := CleanupOpcodes(ops)
	want := []Opcode{
		{Tag: OpEqual, I1: 0, I2: 6, J1: 0, J2: 6},
		{Tag: OpReplace, I1: 6, I2: 11, J1: 6, J2: 11},
	}
	if !reflect.DeepEqual(cleaned, want) {
		t.Fatalf("CleanupOpcodes = %+v, want %+v", cleaned, want)
	}
}

func TestCleanupOpcodesKeepsEdgeEqualities(t *testing.T) {
	ops := Align([]rune("cat"), []rune("hat"), runeKey)
	cleaned := CleanupOpcodes(ops)
	if !reflect.DeepEqual(cleaned, ops) {
		t.Fatalf("CleanupOpcodes changed %+v into %+v", ops, cleaned)
	}
}

func TestCleanupOpcodesKeepsLongEquality(t *testing.T) {
	ops := Align([]rune("a long shared b"), []rune("x long shared y"), runeKey)
	cleaned := CleanupOpcodes(ops)
	if len(cleaned) != 3 || cleaned[1].Tag != OpEqual {
		t.Fatalf("long equality should survive cleanup, got %+v", cleaned)
	}
}
