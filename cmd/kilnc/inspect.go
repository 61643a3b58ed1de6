package main

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gogpu/kiln"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/ir/text"
	"github.com/gogpu/kiln/machine"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <module.kir>...",
		Short: "Parse and validate IR modules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				src, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				m, err := text.Parse(string(src))
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", path, err)
					failed++
					continue
				}
				errs, err := ir.Validate(m)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				for _, e := range errs {
					fmt.Fprintf(out, "%s: %v\n", path, e)
				}
				if len(errs) > 0 {
					failed++
					continue
				}
				fmt.Fprintf(out, "%s: ok (%d functions)\n", path, len(m.Functions))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d modules are invalid", failed, len(args))
			}
			return nil
		},
	}
}

// NewDisasmCommand creates the disasm command.
func NewDisasmCommand(rootOpts *RootOptions) *cobra.Command {
	var stats bool
	cmd := &cobra.Command{
		Use:   "disasm <module.kbin>",
		Short: "Print an encoded machine module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			mod, err := machine.Decode(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, mod.String())
			if !stats {
				return nil
			}
			if errs := machine.Verify(mod); len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintf(out, "; verify: %v\n", e)
				}
			}
			counts := mod.Stats()
			ops := make([]string, 0, len(counts))
			for op, n := range counts {
				ops = append(ops, fmt.Sprintf("%s=%d", op, n))
			}
			slices.Sort(ops)
			fmt.Fprintf(out, "; externs: %s\n", strings.Join(mod.Externs(), " "))
			fmt.Fprintf(out, "; opcodes: %s\n", strings.Join(ops, " "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&stats, "stats", false, "verify and print opcode counts")
	return cmd
}

// NewTargetsCommand creates the targets command.
func NewTargetsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List backends and their default targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, name := range kiln.Backends() {
				t, err := kiln.DefaultTarget(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-8s %s (%d-bit pointers)\n", name, t, t.PointerBits)
			}
			if rootOpts.cfg != nil {
				fmt.Fprintf(out, "config   %s\n", rootOpts.cfg.Target)
			}
			return nil
		},
	}
}
