package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/gogpu/kiln"
	"github.com/gogpu/kiln/internal/hostrt"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/ir/text"
	"github.com/gogpu/kiln/machine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Func    string
	Args    []string
	Workers int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <module.kir>",
		Short: "Interpret a function of an IR module",
		Long: `Compile an IR module with the native backend and call one function on
the machine interpreter.

Arguments are given as name=value. A buffer takes its extents, such as
out=16x16, and starts zeroed; its contents are printed after the call. A
scalar takes a number. The user context argument is always null.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.Func, "func", "f", "", "function to call (default: the first)")
	cmd.Flags().StringArrayVarP(&opts.Args, "arg", "a", nil, "argument as name=value (repeatable)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "goroutines per parallel loop (default: GOMAXPROCS)")

	return cmd
}

func runRun(opts *RunOptions, input string, stdout io.Writer) error {
	src, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	m, err := text.Parse(string(src))
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}
	fn, err := pickFunction(m, opts.Func)
	if err != nil {
		return err
	}
	values, err := parseArgs(opts.Args)
	if err != nil {
		return err
	}

	art, err := kiln.Compile(m, kiln.Options{
		Backend:        kiln.BackendNative,
		StackThreshold: opts.cfg.StackThreshold,
		Externs:        hostrt.Names(),
		Logger:         opts.log,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}

	rt := hostrt.New(&hostrt.Options{Workers: opts.Workers, Stdout: stdout, Logger: opts.log})
	mem := machine.NewMemory()
	in := machine.NewInterpreter(art.Machine, mem, rt.Externs())

	args := make([]machine.Lanes, len(fn.Args))
	buffers := make(map[string]uint64)
	for i, a := range fn.Args {
		if a.Name == ir.UserContextName {
			args[i] = machine.Lanes{0}
			continue
		}
		v, ok := values[a.Name]
		if !ok {
			return fmt.Errorf("missing argument %s", a.Name)
		}
		delete(values, a.Name)
		if a.IsBuffer() {
			extents, err := parseExtents(v)
			if err != nil {
				return fmt.Errorf("argument %s: %w", a.Name, err)
			}
			p, err := hostrt.NewBuffer(mem, a.Type, extents...)
			if err != nil {
				return fmt.Errorf("argument %s: %w", a.Name, err)
			}
			buffers[a.Name] = p
			args[i] = machine.Lanes{p}
			continue
		}
		if args[i], err = parseScalar(a.Type, v); err != nil {
			return fmt.Errorf("argument %s: %w", a.Name, err)
		}
	}
	if len(values) > 0 {
		extra := lo.Keys(values)
		slices.Sort(extra)
		return fmt.Errorf("function %s has no argument %s", fn.Name, strings.Join(extra, ", "))
	}

	status, err := in.Call(fn.Name, args...)
	if err != nil {
		return err
	}
	for _, msg := range rt.Errors() {
		fmt.Fprintf(stdout, "error: %s\n", msg)
	}
	fmt.Fprintf(stdout, "status: %d\n", status.Int(ir.I32, 0))
	for _, a := range fn.Args {
		p, ok := buffers[a.Name]
		if !ok {
			continue
		}
		s, err := formatBuffer(mem, a.Type, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s: %s\n", a.Name, s)
	}
	return nil
}

func pickFunction(m *ir.Module, name string) (*ir.Function, error) {
	if len(m.Functions) == 0 {
		return nil, fmt.Errorf("module %s has no functions", m.Name)
	}
	if name == "" {
		return &m.Functions[0], nil
	}
	for i := range m.Functions {
		if m.Functions[i].Name == name {
			return &m.Functions[i], nil
		}
	}
	return nil, fmt.Errorf("module %s has no function %s", m.Name, name)
}

func parseArgs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, a := range args {
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q: want name=value", a)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("argument %s given twice", name)
		}
		out[name] = value
	}
	return out, nil
}

func parseExtents(s string) ([]int, error) {
	var extents []int
	for _, f := range strings.Split(s, "x") {
		n, err := strconv.Atoi(f)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("bad extent %q", f)
		}
		extents = append(extents, n)
	}
	return extents, nil
}

func parseScalar(t ir.Type, s string) (machine.Lanes, error) {
	switch {
	case t.IsFloat():
		f, err := strconv.ParseFloat(s, t.Bits)
		if err != nil {
			return nil, err
		}
		return machine.FloatLanes(t, f), nil
	case t.IsBool():
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		if b {
			return machine.Lanes{1}, nil
		}
		return machine.Lanes{0}, nil
	case t.IsUInt() || t.IsHandle():
		u, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, err
		}
		return machine.IntLanes(t, int64(u)), nil
	case t.IsInt():
		n, err := strconv.ParseInt(s, 0, t.Bits)
		if err != nil {
			return nil, err
		}
		return machine.IntLanes(t, n), nil
	}
	return nil, fmt.Errorf("unsupported argument type %s", t)
}

func formatBuffer(mem *machine.Memory, elem ir.Type, p uint64) (string, error) {
	_, data, err := hostrt.ReadBuffer(mem, p)
	if err != nil {
		return "", err
	}
	size := elem.Bytes()
	parts := make([]string, 0, len(data)/size)
	for off := 0; off+size <= len(data); off += size {
		var raw uint64
		switch size {
		case 1:
			raw = uint64(data[off])
		case 2:
			raw = uint64(binary.LittleEndian.Uint16(data[off:]))
		case 4:
			raw = uint64(binary.LittleEndian.Uint32(data[off:]))
		default:
			raw = binary.LittleEndian.Uint64(data[off:])
		}
		v := machine.Lanes{raw}
		switch {
		case elem.IsFloat():
			parts = append(parts, strconv.FormatFloat(v.Float(elem, 0), 'g', -1, elem.Bits))
		case elem.IsUInt() || elem.IsBool():
			parts = append(parts, strconv.FormatUint(raw, 10))
		default:
			parts = append(parts, strconv.FormatInt(v.Int(elem, 0), 10))
		}
	}
	return "[" + strings.Join(parts, " ") + "]", nil
}
