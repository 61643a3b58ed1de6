package text

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/kiln/ir"
)

const scenario = `
; stack and heap allocation around a select
(module scenario
  (func f ((buffer buf i32) (scalar alpha f32) (scalar beta i32) (scalar __user_context handle))
    (allocate tmp i32 (127)
      (allocate big i32 ((* 43 beta))
        (block
          (let-stmt x (+ beta 1)
            (store buf (select (> alpha 4.0) 3 2) x))
          (free big)))
      )))
`

func TestParseScenario(t *testing.T) {
	m, err := Parse(scenario)
	require.NoError(t, err)
	require.Len(t, m.Functions, 1)

	fn := m.Functions[0]
	assert.Equal(t, "f", fn.Name)
	assert.True(t, fn.HasUserContext())
	assert.Equal(t, ir.Buffer("buf", ir.I32), fn.Args[0])

	outer, ok := fn.Body.(ir.Allocate)
	require.True(t, ok)
	assert.Equal(t, []ir.Expr{ir.Int32(127)}, outer.Extents)

	inner := outer.Body.(ir.Allocate)
	want := ir.Binary{Op: ir.Mul, A: ir.Int32(43), B: ir.Var(ir.I32, "beta")}
	assert.Equal(t, want, inner.Extents[0])

	block := inner.Body.(ir.Block)
	let := block.Stmts[0].(ir.LetStmt)
	store := let.Body.(ir.Store)
	sel := store.Value.(ir.Select)
	assert.Equal(t, ir.FloatImm{T: ir.F32, Value: 4}, sel.Cond.(ir.Compare).B)
	assert.Equal(t, ir.Var(ir.I32, "x"), store.Index)

	errs, err := ir.Validate(m)
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestParsePrintRoundTrip(t *testing.T) {
	src := `(module m
  (func g ((buffer in f32) (buffer out f32) (scalar k i64))
    (parallel y in.min.1 in.extent.1
      (block
        (store out (load f32x8 in (ramp (* y 8) 2 8)) (ramp (* y 8) 1 8))
        (evaluate (intrinsic i32 count_trailing_zeros 8))
        (evaluate (call f32 sqrt_f32 (cast f32 (let t (+ k 1:i64) t))))
        (assert (!= (% y 3) -1) "y is odd")
        (produce g (if (&& true (! false)) (evaluate nan:f64) (evaluate 2.5:f64)))
        (atomic-store out 1e-07 (var i32 y))
        (evaluate (broadcast 255:u8 16))))))
`
	m, err := Parse(src)
	require.NoError(t, err)

	again, err := Parse(ir.Print(m))
	require.NoError(t, err)

	nanEqual := cmp.Comparer(func(a, b float64) bool {
		return a == b || (math.IsNaN(a) && math.IsNaN(b))
	})
	if diff := cmp.Diff(m, again, nanEqual); diff != "" {
		t.Errorf("round trip mismatch (-first +second):\n%s", diff)
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want ir.Type
	}{
		{"i32", ir.I32},
		{"u8x16", ir.U8.WithLanes(16)},
		{"f64", ir.F64},
		{"bool", ir.Bool()},
		{"boolx4", ir.Bool().WithLanes(4)},
		{"handle", ir.HandleType()},
		{"void", ir.Void},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if !got.IsVoid() {
				assert.Equal(t, tt.in, got.String())
			}
		})
	}

	for _, bad := range []string{"i33", "f16", "q8", "i32x0"} {
		_, err := ParseType(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		col  int
	}{
		{"unclosed", "(module m\n  (func f ()", 2, 3},
		{"stray paren", "(module m))", 1, 11},
		{"unbound", "(module m\n  (func f () (evaluate y)))", 2, 24},
		{"bad statement", "(module m (func f () (jump x)))", 1, 22},
		{"bad string", "(module m (func f () (evaluate \"abc\n\")))", 1, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			var se *SyntaxError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tt.line, se.Line)
			assert.Equal(t, tt.col, se.Col)
			assert.Contains(t, se.FormatWithContext(), "^")
		})
	}
}

func TestParseExprWithEnvironment(t *testing.T) {
	e, err := ParseExpr("(min x (cast i32 y))", map[string]ir.Type{"x": ir.I32, "y": ir.F32})
	require.NoError(t, err)
	assert.Equal(t, ir.Binary{
		Op: ir.Min,
		A:  ir.Var(ir.I32, "x"),
		B:  ir.Cast{T: ir.I32, Value: ir.Var(ir.F32, "y")},
	}, e)
}
