package dsp

import (
	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/machine"
	"github.com/gogpu/kiln/native"
)

// DefaultOptions returns native options for codegen.DSPTarget.
func DefaultOptions() *native.Options {
	opts := native.DefaultOptions()
	opts.Target = codegen.DSPTarget()
	return opts
}

// Compile lowers m for the DSP. A nil opts uses DefaultOptions; a target
// without the hvx feature is replaced by codegen.DSPTarget.
func Compile(m *ir.Module, opts *native.Options) (*machine.Module, codegen.Info, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if !opts.Target.Has(codegen.FeatureHVX) {
		o := *opts
		o.Target = codegen.DSPTarget()
		opts = &o
	}
	return native.CompileWith(New(m.Name, opts.Target, opts.Externs), m, opts)
}
