package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/kiln"
	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/internal/cache"
	"github.com/gogpu/kiln/ir/text"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Backends []string
	Target   string
	Output   string
	Cache    string
	NoCache  bool
}

// Manifest describes the artifacts of one compile invocation. It is written
// next to them as <module>.manifest.yaml.
type Manifest struct {
	Module    string          `yaml:"module"`
	Source    string          `yaml:"source"`
	Created   time.Time       `yaml:"created"`
	Artifacts []ManifestEntry `yaml:"artifacts"`
}

// ManifestEntry is one backend's artifact.
type ManifestEntry struct {
	Backend string    `yaml:"backend"`
	Target  string    `yaml:"target"`
	BuildID uuid.UUID `yaml:"build_id"`
	File    string    `yaml:"file"`
	Bytes   int       `yaml:"bytes"`
	Cached  bool      `yaml:"cached"`

	Functions        []string `yaml:"functions,omitempty"`
	Closures         []string `yaml:"closures,omitempty"`
	StackAllocations int      `yaml:"stack_allocations,omitempty"`
	HeapAllocations  int      `yaml:"heap_allocations,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <module.kir>",
		Short: "Compile an IR module",
		Long: `Compile an IR module with one or more backends.

Each artifact is written to the output directory as <module><ext> and
described in <module>.manifest.yaml. With a cache, artifacts already built
from the same source, backend and target are reused.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Backends, "backend", "b", nil, fmt.Sprintf("backends to run %v (default: from config)", kiln.Backends()))
	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "target override, host or arch-os[-bits][-feature...]")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output directory (default: from config)")
	cmd.Flags().StringVar(&opts.Cache, "cache", "", "artifact cache database (default: from config)")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "ignore the artifact cache")

	return cmd
}

func (o *CompileOptions) backends() []string {
	if len(o.Backends) > 0 {
		return o.Backends
	}
	return o.cfg.Backends
}

// target returns the target override, or nil to use each backend's
// default.
func (o *CompileOptions) target() (*codegen.Target, error) {
	name := o.Target
	if name == "" && o.cfg.Target != "host" {
		name = o.cfg.Target
	}
	if name == "" {
		return nil, nil
	}
	t, err := codegen.ParseTarget(name)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (o *CompileOptions) openCache() (*cache.Cache, error) {
	if o.NoCache {
		return nil, nil
	}
	path := o.Cache
	if path == "" {
		path = o.cfg.Cache
	}
	if path == "" {
		return nil, nil
	}
	return cache.Open(path)
}

func runCompile(ctx context.Context, opts *CompileOptions, input string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	src, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	m, err := text.Parse(string(src))
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}
	target, err := opts.target()
	if err != nil {
		return err
	}
	out := opts.Output
	if out == "" {
		out = opts.cfg.Output
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}

	c, err := opts.openCache()
	if err != nil {
		return err
	}
	if c != nil {
		defer c.Close()
	}

	manifest := Manifest{Module: m.Name, Source: input, Created: time.Now().UTC()}
	for _, name := range opts.backends() {
		t := target
		if t == nil {
			def, err := kiln.DefaultTarget(name)
			if err != nil {
				return err
			}
			t = &def
		}
		key := cache.Key(name, t.String(), src)

		entry, hit := cache.Entry{}, false
		if c != nil {
			if entry, hit, err = c.Get(ctx, key); err != nil {
				return err
			}
		}
		art := &kiln.Artifact{Backend: name, Target: *t}
		if hit {
			opts.log.Debug("cache hit", "backend", name, "target", t.String(), "build", entry.ID)
			art.ID = entry.ID
		} else {
			art, err = kiln.Compile(m, kiln.Options{
				Backend:        name,
				Target:         t,
				StackThreshold: opts.cfg.StackThreshold,
				Externs:        opts.cfg.Externs,
				Logger:         opts.log,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", input, err)
			}
			entry = cache.Entry{Key: key, Backend: name, Target: t.String(), ID: art.ID, Body: art.Bytes()}
			if c != nil {
				if err := c.Put(ctx, entry); err != nil {
					return err
				}
			}
		}

		file := filepath.Join(out, m.Name+art.Extension())
		if err := os.WriteFile(file, entry.Body, 0o644); err != nil {
			return err
		}
		manifest.Artifacts = append(manifest.Artifacts, ManifestEntry{
			Backend:          name,
			Target:           t.String(),
			BuildID:          art.ID,
			File:             filepath.Base(file),
			Bytes:            len(entry.Body),
			Cached:           hit,
			Functions:        art.Info.Functions,
			Closures:         art.Info.Closures,
			StackAllocations: art.Info.StackAllocations,
			HeapAllocations:  art.Info.HeapAllocations,
		})
		status := "compiled"
		if hit {
			status = "cached"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %s) -> %s (%d bytes)\n",
			status, m.Name, name, t, file, len(entry.Body))
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(out, m.Name+".manifest.yaml"), data, 0o644)
}
