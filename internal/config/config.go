// Package config loads kiln.yaml project files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/kiln/codegen"
)

// FileName is the project file kilnc looks for in the working directory.
const FileName = "kiln.yaml"

// Config is a kiln project configuration.
type Config struct {
	// Target is "host" or arch-os[-bits][-feature...].
	Target string `yaml:"target"`

	// Backends lists the backends compile runs when none is named on the
	// command line.
	Backends []string `yaml:"backends"`

	// StackThreshold is the largest constant-size allocation placed on the
	// stack. Zero uses the code generator's default.
	StackThreshold int `yaml:"stack_threshold,omitempty"`

	// Externs lists runtime functions available beyond the fixed runtime
	// contract, such as vector math variants.
	Externs []string `yaml:"externs,omitempty"`

	// Cache is the path of the artifact cache database. Empty disables
	// caching.
	Cache string `yaml:"cache,omitempty"`

	// Output is the directory artifacts are written to.
	Output string `yaml:"output,omitempty"`
}

// Default returns the configuration used without a project file.
func Default() *Config {
	return &Config{
		Target:   "host",
		Backends: []string{"native"},
		Output:   ".",
	}
}

// Parse decodes a project file. Unknown keys are rejected. Keys that are
// absent keep their default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the project file at path. Relative cache and
// output paths are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if cfg.Cache != "" && !filepath.IsAbs(cfg.Cache) {
		cfg.Cache = filepath.Join(dir, cfg.Cache)
	}
	if !filepath.IsAbs(cfg.Output) {
		cfg.Output = filepath.Join(dir, cfg.Output)
	}
	return cfg, nil
}

// Find loads FileName from dir when it exists and returns Default
// otherwise.
func Find(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks the target and the numeric limits.
func (c *Config) Validate() error {
	if _, err := c.ParsedTarget(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.StackThreshold < 0 {
		return fmt.Errorf("config: stack_threshold %d is negative", c.StackThreshold)
	}
	seen := make(map[string]bool)
	for _, b := range c.Backends {
		if b == "" {
			return errors.New("config: empty backend name")
		}
		if seen[b] {
			return fmt.Errorf("config: backend %q listed twice", b)
		}
		seen[b] = true
	}
	return nil
}

// ParsedTarget returns the configured target.
func (c *Config) ParsedTarget() (codegen.Target, error) {
	return codegen.ParseTarget(c.Target)
}
