// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package js emits a module as JavaScript.
//
// Generated functions take the same arguments as their native
// counterparts: buffers and other handles are byte offsets into the
// runtime's ArrayBuffer, integers up to 32 bits are numbers kept in the
// range of their type, and float32 arithmetic is rounded with
// Math.fround. 64-bit integer arithmetic is not supported. Strings built
// by stringify are JavaScript strings. Runtime is a complete runtime for
// running the output in any engine.
package js

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/textgen"
)

// Options configures Compile.
type Options struct {
	// Target must have 32-bit pointers.
	Target codegen.Target

	// StackThreshold overrides codegen.DefaultStackThreshold when positive.
	StackThreshold int

	// SkipValidation is passed to codegen.Config.
	SkipValidation bool

	Logger *slog.Logger
}

// DefaultOptions returns options for codegen.ScriptTarget.
func DefaultOptions() *Options {
	return &Options{Target: codegen.ScriptTarget()}
}

// Compile lowers m to JavaScript source.
func Compile(m *ir.Module, opts *Options) (string, codegen.Info, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Target.PointerBits != 32 {
		return "", codegen.Info{}, fmt.Errorf("js: target %s has %d-bit pointers, want 32", opts.Target, opts.Target.PointerBits)
	}
	be := textgen.New(m.Name, Dialect{})
	info, err := codegen.LowerModule[textgen.Value](be, m, codegen.Config{
		Target:         opts.Target,
		StackThreshold: opts.StackThreshold,
		Logger:         opts.Logger,
		SkipValidation: opts.SkipValidation,
	})
	if err != nil {
		return "", codegen.Info{}, fmt.Errorf("js: %w", err)
	}
	return be.Source(), info, nil
}
