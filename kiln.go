// Package kiln compiles array-processing IR modules.
//
// kiln lowers a module of loop nests over typed buffers to one of four
// backends:
//   - native: a typed SSA register machine (see package machine)
//   - dsp: the native machine retargeted to a 1024-bit SIMD signal processor
//   - c: one C99 translation unit
//   - js: JavaScript over a single ArrayBuffer
//
// Every backend shares the lowering rules of package codegen, so a module
// computes the same results on all of them.
//
// Example usage:
//
//	art, err := kiln.CompileSource(`
//	(module scale
//	  (func double ((buffer out i32))
//	    (for x 0 out.extent.0
//	      (store out (* x 2) x))))
//	`, kiln.Options{Backend: kiln.BackendC})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(art.Text)
package kiln

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/gogpu/kiln/clike"
	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/dsp"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/ir/text"
	"github.com/gogpu/kiln/js"
	"github.com/gogpu/kiln/machine"
	"github.com/gogpu/kiln/native"
)

// Backend names.
const (
	BackendNative = "native"
	BackendDSP    = "dsp"
	BackendC      = "c"
	BackendJS     = "js"
)

// Options configures compilation.
type Options struct {
	// Backend selects the output. Empty means BackendNative.
	Backend string

	// Target overrides the backend's default target.
	Target *codegen.Target

	// StackThreshold overrides codegen.DefaultStackThreshold when positive.
	StackThreshold int

	// Externs lists runtime functions available to the machine backends
	// beyond the fixed runtime contract.
	Externs []string

	// SkipValidation lowers the module without validating it first.
	SkipValidation bool

	Logger *slog.Logger
}

// Artifact is the output of one compilation.
type Artifact struct {
	// ID identifies this build.
	ID      uuid.UUID
	Backend string
	Target  codegen.Target

	// Text is the C or JavaScript source, or the disassembly of Machine.
	Text string
	// Machine is the module built by the native and dsp backends.
	Machine *machine.Module

	Info codegen.Info
}

// Bytes returns the artifact as written to disk: the encoded machine
// module, or the source text.
func (a *Artifact) Bytes() []byte {
	if a.Machine != nil {
		return a.Machine.Encode()
	}
	return []byte(a.Text)
}

// Extension returns the file extension for Bytes.
func (a *Artifact) Extension() string {
	switch a.Backend {
	case BackendC:
		return ".c"
	case BackendJS:
		return ".js"
	case BackendDSP:
		return ".dsp.kbin"
	}
	return ".kbin"
}

type backend struct {
	target  func() codegen.Target
	compile func(m *ir.Module, target codegen.Target, opts Options) (*Artifact, error)
}

var backends = map[string]backend{
	BackendNative: {target: codegen.HostTarget, compile: compileNative},
	BackendDSP:    {target: codegen.DSPTarget, compile: compileDSP},
	BackendC: {target: codegen.HostTarget, compile: func(m *ir.Module, target codegen.Target, opts Options) (*Artifact, error) {
		src, info, err := clike.Compile(m, &clike.Options{Target: target, StackThreshold: opts.StackThreshold, Logger: opts.Logger, SkipValidation: true})
		if err != nil {
			return nil, err
		}
		return &Artifact{Text: src, Info: info}, nil
	}},
	BackendJS: {target: codegen.ScriptTarget, compile: func(m *ir.Module, target codegen.Target, opts Options) (*Artifact, error) {
		src, info, err := js.Compile(m, &js.Options{Target: target, StackThreshold: opts.StackThreshold, Logger: opts.Logger, SkipValidation: true})
		if err != nil {
			return nil, err
		}
		return &Artifact{Text: src, Info: info}, nil
	}},
}

func nativeOptions(target codegen.Target, opts Options) *native.Options {
	return &native.Options{
		Target:         target,
		StackThreshold: opts.StackThreshold,
		Externs:        opts.Externs,
		Verify:         true,
		SkipValidation: true,
		Logger:         opts.Logger,
	}
}

func compileNative(m *ir.Module, target codegen.Target, opts Options) (*Artifact, error) {
	mod, info, err := native.Compile(m, nativeOptions(target, opts))
	if err != nil {
		return nil, err
	}
	return &Artifact{Machine: mod, Text: mod.String(), Info: info}, nil
}

func compileDSP(m *ir.Module, target codegen.Target, opts Options) (*Artifact, error) {
	mod, info, err := dsp.Compile(m, nativeOptions(target, opts))
	if err != nil {
		return nil, err
	}
	return &Artifact{Machine: mod, Text: mod.String(), Info: info}, nil
}

// Backends returns the backend names, sorted.
func Backends() []string {
	names := lo.Keys(backends)
	slices.Sort(names)
	return names
}

// DefaultTarget returns the target a backend compiles for when Options
// names none.
func DefaultTarget(name string) (codegen.Target, error) {
	be, ok := backends[name]
	if !ok {
		return codegen.Target{}, fmt.Errorf("kiln: unknown backend %q (have %v)", name, Backends())
	}
	return be.target(), nil
}

// Compile validates m and lowers it with the selected backend. The
// backends never validate again.
func Compile(m *ir.Module, opts Options) (*Artifact, error) {
	name := opts.Backend
	if name == "" {
		name = BackendNative
	}
	be, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("kiln: unknown backend %q (have %v)", name, Backends())
	}
	target := be.target()
	if opts.Target != nil {
		target = *opts.Target
	}

	if !opts.SkipValidation {
		verrs, err := ir.Validate(m)
		if err != nil {
			return nil, fmt.Errorf("kiln: validation: %w", err)
		}
		if len(verrs) > 0 {
			return nil, fmt.Errorf("kiln: validation failed: %w", verrs[0])
		}
	}

	art, err := be.compile(m, target, opts)
	if err != nil {
		return nil, err
	}
	art.ID = uuid.New()
	art.Backend = name
	art.Target = target
	return art, nil
}

// CompileSource parses IR text and compiles it.
func CompileSource(src string, opts Options) (*Artifact, error) {
	m, err := text.Parse(src)
	if err != nil {
		return nil, err
	}
	return Compile(m, opts)
}

// CompileFile reads an IR text file and compiles it.
func CompileFile(path string, opts Options) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kiln: %w", err)
	}
	art, err := CompileSource(string(data), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return art, nil
}
