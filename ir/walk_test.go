package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeVars(t *testing.T) {
	body := Block{Stmts: []Stmt{
		LetStmt{
			Name:  "t",
			Value: Binary{Op: Add, A: Var(I32, "i"), B: Var(I32, "k")},
			Body: Store{
				Name:  "out",
				Value: Load{T: F32, Name: "in", Index: Var(I32, "t")},
				Index: Var(I32, "t"),
			},
		},
		Allocate{
			Name:    "scratch",
			T:       I32,
			Extents: []Expr{Var(I32, "n")},
			Body: Block{Stmts: []Stmt{
				Store{Name: "scratch", Value: Var(I32, "k"), Index: Int32(0)},
				Free{Name: "scratch"},
			}},
		},
	}}

	got := FreeVars(For{Name: "i", Min: Int32(0), Extent: Int32(4), Body: body}.Body)

	names := make([]string, len(got))
	for i, c := range got {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"i", "in", "k", "n", "out"}, names)
	assert.True(t, got[1].Memory)
	assert.False(t, got[2].Memory)
	assert.Equal(t, HandleType(), got[4].Type)
}

func TestFreeVarsPrefersVariableType(t *testing.T) {
	s := Block{Stmts: []Stmt{
		Store{Name: "buf", Value: Int32(1), Index: Int32(0)},
		Evaluate{Value: Call{T: I32, Name: "use", Args: []Expr{Var(HandleType(), "buf")}}},
	}}
	got := FreeVars(s)
	require.Len(t, got, 1)
	assert.False(t, got[0].Memory)
}

func TestExtractLane(t *testing.T) {
	x := Var(I32, "x")
	ramp := Ramp{Base: x, Stride: Int32(3), Lanes: 4}

	assert.Equal(t, x, ExtractLane(ramp, 0))
	assert.Equal(t, Binary{Op: Add, A: x, B: Int32(6)}, ExtractLane(ramp, 2))
	assert.Equal(t, Int32(7), ExtractLane(Ramp{Base: Int32(1), Stride: Int32(2), Lanes: 4}, 3))
	assert.Equal(t, x, ExtractLane(Broadcast{Value: x, Lanes: 8}, 5))

	load := ExtractLane(Load{T: F32.WithLanes(4), Name: "in", Index: ramp}, 1)
	assert.Equal(t, Load{T: F32, Name: "in", Index: Binary{Op: Add, A: x, B: Int32(3)}}, load)

	v := Var(I32.WithLanes(4), "v")
	lane := ExtractLane(v, 3)
	assert.True(t, IsIntrinsic(lane, "shuffle_vector"))
	assert.Equal(t, I32, lane.Type())
}

func TestExtractLaneSplitsLetsAndCalls(t *testing.T) {
	x := Var(I32, "x")
	v4 := I32.WithLanes(4)
	let := Let{
		Name:  "v",
		Value: Ramp{Base: x, Stride: Int32(1), Lanes: 4},
		Body:  Binary{Op: Mul, A: Var(v4, "v"), B: Var(v4, "v")},
	}
	want := Let{
		Name:  "v",
		Value: Binary{Op: Add, A: x, B: Int32(2)},
		Body:  Binary{Op: Mul, A: Var(I32, "v"), B: Var(I32, "v")},
	}
	assert.Equal(t, want, ExtractLane(let, 2))
	assert.True(t, SplitsByLane(let))

	in := Load{T: F32.WithLanes(4), Name: "in", Index: Ramp{Base: x, Stride: Int32(1), Lanes: 4}}
	sqrt := Call{T: F32.WithLanes(4), Name: "sqrt_f32", Args: []Expr{in}, Kind: Extern}
	got := ExtractLane(sqrt, 1)
	assert.Equal(t, Call{T: F32, Name: "sqrt_f32", Args: []Expr{ExtractLane(in, 1)}, Kind: Extern}, got)
	assert.True(t, SplitsByLane(sqrt))

	memo := Call{T: F32.WithLanes(4), Name: "memoize_expr", Args: []Expr{in}, Kind: Intrinsic}
	assert.Equal(t, ExtractLane(in, 3), ExtractLane(memo, 3))
}

func TestExtractLaneKeepsEffectsWhole(t *testing.T) {
	in := Load{T: I32.WithLanes(4), Name: "in", Index: Ramp{Base: Int32(0), Stride: Int32(1), Lanes: 4}}
	traced := Call{
		T:    I32.WithLanes(4),
		Name: "trace_expr",
		Args: []Expr{StringImm{Value: "t"}, Int32(0), Int32(0), Int32(0), in},
		Kind: Intrinsic,
	}
	lane := ExtractLane(traced, 2)
	assert.True(t, IsIntrinsic(lane, "shuffle_vector"))
	assert.False(t, SplitsByLane(traced))
	assert.False(t, SplitsByLane(Binary{Op: Add, A: traced, B: in}))
	assert.True(t, SplitsByLane(in))
	assert.True(t, SplitsByLane(Int32(1)))
}

func TestExtractLaneLetUsedWhole(t *testing.T) {
	v4 := I32.WithLanes(4)
	first := Call{T: I32, Name: "shuffle_vector", Args: []Expr{Var(v4, "v"), Int32(0)}, Kind: Intrinsic}
	let := Let{
		Name:  "v",
		Value: Ramp{Base: Int32(0), Stride: Int32(1), Lanes: 4},
		Body:  Binary{Op: Add, A: Var(v4, "v"), B: Broadcast{Value: first, Lanes: 4}},
	}
	lane := ExtractLane(let, 1)
	require.True(t, IsIntrinsic(lane, "shuffle_vector"))
	assert.Equal(t, let, lane.(Call).Args[0])
}

func TestPrint(t *testing.T) {
	m := storeModule(LetStmt{
		Name:  "x",
		Value: Binary{Op: Add, A: Var(I32, "n"), B: Int32(1)},
		Body: Store{
			Name:  "out",
			Value: Select{Cond: Compare{Op: GT, A: FloatImm{T: F32, Value: 5}, B: FloatImm{T: F32, Value: 4}}, True: Int32(3), False: Int32(2)},
			Index: Var(I32, "x"),
		},
	})

	want := "(module m\n" +
		"  (func f ((buffer out i32) (scalar n i32) (scalar __user_context handle))\n" +
		"    (let-stmt x (+ n 1)\n" +
		"      (store out (select (> 5.0 4.0) 3 2) x))))\n"
	assert.Equal(t, want, Print(m))
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "0.1", FormatFloat(float64(float32(0.1)), 32))
	assert.Equal(t, "2.0", FormatFloat(2, 64))
	assert.Equal(t, "1e+100", FormatFloat(1e100, 64))
	assert.Equal(t, "-inf", FormatFloat(math.Inf(-1), 32))
}
