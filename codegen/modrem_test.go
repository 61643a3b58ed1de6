package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gogpu/kiln/ir"
)

func TestAnalyzeModRem(t *testing.T) {
	x := ir.Var(ir.I32, "x")
	y := ir.Var(ir.I32, "y")
	facts := func(name string) (ModRem, bool) {
		if name == "y" {
			return ModRem{Modulus: 8, Remainder: 4}, true
		}
		return ModRem{}, false
	}
	add := func(a, b ir.Expr) ir.Expr { return ir.Binary{Op: ir.Add, A: a, B: b} }
	mul := func(a, b ir.Expr) ir.Expr { return ir.Binary{Op: ir.Mul, A: a, B: b} }

	tests := []struct {
		name string
		e    ir.Expr
		want ModRem
	}{
		{"constant", ir.Int32(12), ModRem{0, 12}},
		{"unknown variable", x, Unknown},
		{"known variable", y, ModRem{8, 4}},
		{"scaled", mul(x, ir.Int32(16)), ModRem{16, 0}},
		{"scaled plus offset", add(mul(ir.Int32(16), x), ir.Int32(3)), ModRem{16, 3}},
		{"negative offset", ir.Binary{Op: ir.Sub, A: mul(x, ir.Int32(8)), B: ir.Int32(1)}, ModRem{8, 7}},
		{"fact times two", mul(y, ir.Int32(2)), ModRem{16, 8}},
		{"sum of facts", add(y, mul(x, ir.Int32(4))), ModRem{4, 0}},
		{"product of unknowns", mul(mul(x, ir.Int32(4)), mul(y, ir.Int32(2))), ModRem{32, 0}},
		{"mod", ir.Binary{Op: ir.Mod, A: add(mul(x, ir.Int32(8)), ir.Int32(6)), B: ir.Int32(4)}, ModRem{4, 2}},
		{"let", ir.Let{Name: "z", Value: mul(x, ir.Int32(4)), Body: add(ir.Var(ir.I32, "z"), ir.Int32(2))}, ModRem{4, 2}},
		{"division", ir.Binary{Op: ir.Div, A: mul(x, ir.Int32(8)), B: ir.Int32(2)}, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AnalyzeModRem(tt.e, facts))
		})
	}
}

func TestInferAlignment(t *testing.T) {
	tests := []struct {
		name       string
		mr         ModRem
		elem       ir.Type
		native     int
		misaligned bool
		want       int
	}{
		{"unknown index", Unknown, ir.F32, 32, false, 4},
		{"index multiple of 8", ModRem{8, 0}, ir.F32, 32, false, 32},
		{"index multiple of 2", ModRem{2, 0}, ir.F32, 32, false, 8},
		{"odd remainder", ModRem{8, 1}, ir.F32, 32, false, 4},
		{"remainder 2 of 8", ModRem{8, 2}, ir.U8, 32, false, 2},
		{"constant zero", ModRem{0, 0}, ir.I16, 64, false, 64},
		{"constant four", ModRem{0, 4}, ir.I16, 64, false, 8},
		{"capped at native", ModRem{64, 0}, ir.I32, 16, false, 16},
		{"misaligned buffer", ModRem{8, 0}, ir.F32, 32, true, 4},
		{"no native width", ModRem{8, 0}, ir.I32, 0, false, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferAlignment(tt.mr, tt.elem, tt.native, tt.misaligned))
		})
	}
}
