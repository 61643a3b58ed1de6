// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package textgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMangle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"x", "x"},
		{"buf.extent.0", "buf_extent_0"},
		{"0abc", "v0abc"},
		{"", "v"},
		{"café", "caf_u00E9"},
		{"cafe\u0301", "caf_u00E9"},
		{"a-b c", "a_b_c"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Mangle(tt.in))
		})
	}
}

func TestNamerAvoidsCollisions(t *testing.T) {
	n := NewNamer(func(id string) bool { return id == "int" })
	assert.Equal(t, "vint", n.Name("int"))
	assert.Equal(t, "v_12", n.Name("_12"), "temporaries are never shadowed")
	assert.Equal(t, "v_kiln_x", n.Name("_kiln_x"))
	assert.Equal(t, "a_b", n.Name("a.b"))
	assert.Equal(t, "a_b_1", n.Name("a_b"))
	assert.Equal(t, "a_b_2", n.Name("a.b"))

	id, ok := n.Lookup("a.b")
	assert.True(t, ok)
	assert.Equal(t, "a_b_2", id)
	_, ok = n.Lookup("missing")
	assert.False(t, ok)

	n.Reserve("out")
	assert.Equal(t, "out_1", n.Name("out"))
}

func TestWriterIndents(t *testing.T) {
	w := NewWriter("  ")
	w.Line("a {")
	w.Indent()
	w.Lines([]string{"b;", "", "c;"})
	w.Dedent()
	w.Dedent()
	w.Line("}")
	assert.Equal(t, "a {\n  b;\n\n  c;\n}\n", w.String())
}
