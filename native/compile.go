package native

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/machine"
)

// Options configures Compile.
type Options struct {
	Target codegen.Target

	// StackThreshold overrides codegen.DefaultStackThreshold when positive.
	StackThreshold int

	// Externs lists the functions the runtime provides beyond the fixed
	// runtime contract. Vector math without a matching extern is
	// scalarized.
	Externs []string

	// Verify checks the emitted module with machine.Verify.
	Verify bool

	// SkipValidation is passed to codegen.Config.
	SkipValidation bool

	Logger *slog.Logger
}

// DefaultOptions returns options for the host with verification enabled.
func DefaultOptions() *Options {
	return &Options{
		Target: codegen.HostTarget(),
		Verify: true,
	}
}

// VerifyFailedError reports an emitted module that does not verify.
type VerifyFailedError struct {
	Errors []machine.VerifyError
}

func (e *VerifyFailedError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		msgs = append(msgs, v.Error())
	}
	return "emitted module does not verify: " + strings.Join(msgs, "; ")
}

// Emitter is a backend producing a machine module. Backend implements it,
// and so does any backend embedding one.
type Emitter interface {
	codegen.Backend[machine.Value]
	Module() *machine.Module
}

// Compile lowers m to a machine module.
func Compile(m *ir.Module, opts *Options) (*machine.Module, codegen.Info, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	return CompileWith(New(m.Name, opts.Target, opts.Externs), m, opts)
}

// CompileWith lowers m through be and verifies the result.
func CompileWith(be Emitter, m *ir.Module, opts *Options) (*machine.Module, codegen.Info, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	info, err := codegen.LowerModule[machine.Value](be, m, codegen.Config{
		Target:         opts.Target,
		StackThreshold: opts.StackThreshold,
		Logger:         opts.Logger,
		SkipValidation: opts.SkipValidation,
	})
	if err != nil {
		return nil, codegen.Info{}, fmt.Errorf("native: %w", err)
	}
	mod := be.Module()
	if opts.Verify {
		if errs := machine.Verify(mod); len(errs) > 0 {
			return nil, codegen.Info{}, fmt.Errorf("native: %w", &VerifyFailedError{Errors: errs})
		}
	}
	return mod, info, nil
}
