package hostrt

import (
	"fmt"
	"math"

	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/machine"
)

var unaryMath = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"round": math.RoundToEven,
	"trunc": math.Trunc,
	"exp":   math.Exp,
	"log":   math.Log,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"atan":  math.Atan,
	"tanh":  math.Tanh,
}

var binaryMath = map[string]func(float64, float64) float64{
	"pow":   math.Pow,
	"atan2": math.Atan2,
	"fmod":  math.Mod,
}

// vectorWidths lists the vector variants provided per element width.
var vectorWidths = map[int][]int{
	32: {4, 8, 16},
	64: {2, 4, 8},
}

// mathExterns returns name_f32 and name_f64 for every math function, and
// the lane-wise vector variants name_f32xN.
func mathExterns() map[string]machine.Extern {
	out := make(map[string]machine.Extern)
	for _, bits := range []int{32, 64} {
		t := ir.FloatType(bits)
		suffixes := []string{fmt.Sprintf("_f%d", bits)}
		for _, w := range vectorWidths[bits] {
			suffixes = append(suffixes, fmt.Sprintf("_f%dx%d", bits, w))
		}
		for name, f := range unaryMath {
			for _, s := range suffixes {
				out[name+s] = lanewise1(t, f)
			}
		}
		for name, f := range binaryMath {
			for _, s := range suffixes {
				out[name+s] = lanewise2(t, f)
			}
		}
	}
	return out
}

func lanewise1(t ir.Type, f func(float64) float64) machine.Extern {
	return func(_ *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
		x := args[0]
		out := make([]float64, len(x))
		for i := range x {
			out[i] = f(x.Float(t, i))
		}
		return machine.FloatLanes(t, out...), nil
	}
}

func lanewise2(t ir.Type, f func(float64, float64) float64) machine.Extern {
	return func(_ *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
		x, y := args[0], args[1]
		if len(x) != len(y) {
			return nil, fmt.Errorf("operands have %d and %d lanes", len(x), len(y))
		}
		out := make([]float64, len(x))
		for i := range x {
			out[i] = f(x.Float(t, i), y.Float(t, i))
		}
		return machine.FloatLanes(t, out...), nil
	}
}
