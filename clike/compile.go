// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package clike emits a module as C99 source.
//
// The output is one translation unit: the buffer_t descriptor, helper
// functions giving every IR operation its wrap-around semantics, the math
// externs over math.h, prototypes for the runtime functions, and one
// function per IR function. Parallel closures are static functions defined
// before their parent. The runtime functions (kiln_malloc, kiln_error,
// kiln_do_par_for, the string appenders) are linked in separately.
package clike

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/textgen"
)

// Options configures Compile.
type Options struct {
	Target codegen.Target

	// StackThreshold overrides codegen.DefaultStackThreshold when positive.
	StackThreshold int

	// SkipValidation is passed to codegen.Config.
	SkipValidation bool

	Logger *slog.Logger
}

// DefaultOptions returns options for the host.
func DefaultOptions() *Options {
	return &Options{Target: codegen.HostTarget()}
}

// Compile lowers m to C source.
func Compile(m *ir.Module, opts *Options) (string, codegen.Info, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	be := textgen.New(m.Name, Dialect{})
	info, err := codegen.LowerModule[textgen.Value](be, m, codegen.Config{
		Target:         opts.Target,
		StackThreshold: opts.StackThreshold,
		Logger:         opts.Logger,
		SkipValidation: opts.SkipValidation,
	})
	if err != nil {
		return "", codegen.Info{}, fmt.Errorf("clike: %w", err)
	}
	return be.Source(), info, nil
}
