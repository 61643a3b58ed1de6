package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gogpu/kiln/internal/config"
)

const kilnVersion = "0.1.0-dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	// ConfigPath names the project file. Empty looks for kiln.yaml in the
	// working directory.
	ConfigPath string

	cfg *config.Config
	log *slog.Logger
}

// NewRootCommand creates the root command for kilnc.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "kilnc",
		Short:   "kiln array compiler",
		Long:    "Compile array-processing IR modules to native, DSP, C and JavaScript code.",
		Version: kilnVersion,
		// Errors are printed once, by main.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log code generation decisions")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "project file (default: ./"+config.FileName+" when present)")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewDisasmCommand(opts))
	cmd.AddCommand(NewTargetsCommand(opts))

	return cmd
}

func (o *RootOptions) load(stderr io.Writer) error {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.log = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	var err error
	if o.ConfigPath != "" {
		o.cfg, err = config.Load(o.ConfigPath)
		return err
	}
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	o.cfg, err = config.Find(dir)
	return err
}
