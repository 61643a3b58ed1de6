// Package dsp lowers kiln IR for a 1024-bit SIMD signal processor.
//
// The DSP backend is the native backend retargeted: it shares the register
// machine, control flow and runtime calls, and replaces lane permutations
// and a few intrinsics with the processor's dedicated instructions.
//
//	dsp.vshuff      interleave the lanes of two vectors
//	dsp.vdeal       even or odd lanes of two concatenated vectors
//	dsp.vabsdiff    lane-wise |x - y| into an unsigned result
//	dsp.vpopcount   lane-wise population count
package dsp

import (
	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/machine"
	"github.com/gogpu/kiln/native"
)

// Backend is a native backend with DSP instruction selection.
type Backend struct {
	*native.Backend
}

// New returns a backend writing module name for target, which should be a
// DSP target such as codegen.DSPTarget().
func New(name string, target codegen.Target, externs []string) *Backend {
	return &Backend{Backend: native.New(name, target, externs)}
}

// Shuffle selects vshuff and vdeal for the permutations they implement and
// falls back to a generic shuffle otherwise.
func (d *Backend) Shuffle(a, b machine.Value, indices []int) machine.Value {
	bld := d.Builder()
	switch {
	case isInterleave(indices, a.T.Lanes):
		return bld.VShuff(a, b)
	case isDeal(indices, a.T.Lanes, 0):
		return bld.VDeal(a, b, false)
	case isDeal(indices, a.T.Lanes, 1):
		return bld.VDeal(a, b, true)
	}
	return d.Backend.Shuffle(a, b, indices)
}

// isInterleave reports whether indices is 0, w, 1, w+1, ... over 2w lanes.
func isInterleave(indices []int, w int) bool {
	if w < 2 || len(indices) != 2*w {
		return false
	}
	for i := 0; i < w; i++ {
		if indices[2*i] != i || indices[2*i+1] != w+i {
			return false
		}
	}
	return true
}

// isDeal reports whether indices picks lanes first, first+2, ... of the
// 2w-lane concatenation.
func isDeal(indices []int, w, first int) bool {
	if w < 2 || len(indices) != w {
		return false
	}
	for i, x := range indices {
		if x != 2*i+first {
			return false
		}
	}
	return true
}

// Intrinsic lowers vector absd and popcount to DSP instructions and defers
// everything else to the native lowering.
func (d *Backend) Intrinsic(name string, t ir.Type, args []machine.Value) (machine.Value, bool) {
	bld := d.Builder()
	switch name {
	case "absd":
		if x, y := args[0], args[1]; x.T.IsVector() && x.T.IsIntegral() && x.T == y.T {
			return bld.VAbsDiff(t, x, y), true
		}
	case "popcount":
		if x := args[0]; x.T.IsVector() && x.T.IsIntegral() {
			return bld.Unary(machine.OpVPopcount, t, x), true
		}
	}
	return d.Backend.Intrinsic(name, t, args)
}

var (
	_ codegen.Backend[machine.Value]          = (*Backend)(nil)
	_ codegen.NativeIntrinsics[machine.Value] = (*Backend)(nil)
)
