package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const scenario = `
(module scenario
  (func f ((buffer buf i32) (scalar alpha f32) (scalar beta i32) (scalar __user_context handle))
    (allocate tmp i32 (127)
      (allocate big i32 ((* 43 beta))
        (block
          (let-stmt x (+ beta 1)
            (store buf (select (> alpha 4.0) 3 2) x))
          (free big))))))
`

// execute runs kilnc with args and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeModule(t *testing.T, dir, src string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.kir")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func readManifest(t *testing.T, path string) Manifest {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, yaml.Unmarshal(data, &m))
	return m
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"compile", "run", "validate", "disasm", "targets"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
}

func TestCompileWritesManifest(t *testing.T) {
	dir := t.TempDir()
	input := writeModule(t, dir, scenario)
	out := filepath.Join(dir, "out")

	stdout, err := execute(t, "compile", "-b", "c,js,native,dsp", "-o", out, input)
	require.NoError(t, err)
	assert.Contains(t, stdout, "compiled scenario (c, ")
	assert.Contains(t, stdout, "compiled scenario (js, js-js)")

	for _, f := range []string{"scenario.c", "scenario.js", "scenario.kbin", "scenario.dsp.kbin"} {
		assert.FileExists(t, filepath.Join(out, f))
	}

	m := readManifest(t, filepath.Join(out, "scenario.manifest.yaml"))
	assert.Equal(t, "scenario", m.Module)
	require.Len(t, m.Artifacts, 4)
	for _, a := range m.Artifacts {
		assert.NotEqual(t, uuid.Nil, a.BuildID, a.Backend)
		assert.False(t, a.Cached)
		assert.Equal(t, []string{"f"}, a.Functions, a.Backend)
		assert.Empty(t, a.Closures, a.Backend)
		assert.Equal(t, 1, a.StackAllocations, a.Backend)
		assert.Equal(t, 1, a.HeapAllocations, a.Backend)
		assert.Positive(t, a.Bytes)
	}
	assert.Equal(t, "dsp-qurt-1024-bitops-hvx", m.Artifacts[3].Target)
}

func TestCompileUsesCache(t *testing.T) {
	dir := t.TempDir()
	input := writeModule(t, dir, scenario)
	db := filepath.Join(dir, "cache.db")

	_, err := execute(t, "compile", "-b", "c", "-o", dir, "--cache", db, input)
	require.NoError(t, err)
	first := readManifest(t, filepath.Join(dir, "scenario.manifest.yaml"))
	body, err := os.ReadFile(filepath.Join(dir, "scenario.c"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "scenario.c")))

	stdout, err := execute(t, "compile", "-b", "c", "-o", dir, "--cache", db, input)
	require.NoError(t, err)
	assert.Contains(t, stdout, "cached scenario (c, ")
	second := readManifest(t, filepath.Join(dir, "scenario.manifest.yaml"))
	assert.True(t, second.Artifacts[0].Cached)
	assert.Equal(t, first.Artifacts[0].BuildID, second.Artifacts[0].BuildID)

	again, err := os.ReadFile(filepath.Join(dir, "scenario.c"))
	require.NoError(t, err)
	assert.Equal(t, body, again)

	stdout, err = execute(t, "compile", "-b", "c", "-o", dir, "--cache", db, "--no-cache", input)
	require.NoError(t, err)
	assert.Contains(t, stdout, "compiled scenario (c, ")
}

func TestCompileFromConfig(t *testing.T) {
	dir := t.TempDir()
	input := writeModule(t, dir, scenario)
	cfg := filepath.Join(dir, "kiln.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("backends: [js]\noutput: build\n"), 0o600))

	_, err := execute(t, "--config", cfg, "compile", input)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "build", "scenario.js"))
	assert.NoFileExists(t, filepath.Join(dir, "build", "scenario.kbin"))
}

func TestCompileErrors(t *testing.T) {
	dir := t.TempDir()
	input := writeModule(t, dir, scenario)

	_, err := execute(t, "compile", "-b", "wasm", "-o", dir, input)
	assert.ErrorContains(t, err, `unknown backend "wasm"`)

	_, err = execute(t, "compile", "-t", "amd64", "-o", dir, input)
	assert.Error(t, err)

	_, err = execute(t, "compile", "-b", "js", "-t", "host", "-o", dir, input)
	assert.Error(t, err, "the js backend needs 32-bit pointers")
}

func TestRunScenario(t *testing.T) {
	input := writeModule(t, t.TempDir(), scenario)

	stdout, err := execute(t, "run", input, "-f", "f", "-a", "buf=4", "-a", "alpha=5", "-a", "beta=0")
	require.NoError(t, err)
	assert.Equal(t, "status: 0\nbuf: [0 3 0 0]\n", stdout)

	stdout, err = execute(t, "run", input, "-a", "buf=4", "-a", "alpha=1", "-a", "beta=2")
	require.NoError(t, err)
	assert.Equal(t, "status: 0\nbuf: [0 0 0 2]\n", stdout)
}

func TestRunArguments(t *testing.T) {
	input := writeModule(t, t.TempDir(), scenario)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing", []string{"-a", "buf=4", "-a", "alpha=1"}, "missing argument beta"},
		{"extra", []string{"-a", "buf=4", "-a", "alpha=1", "-a", "beta=0", "-a", "gamma=2"}, "no argument gamma"},
		{"bad extent", []string{"-a", "buf=4x0", "-a", "alpha=1", "-a", "beta=0"}, "bad extent"},
		{"bad scalar", []string{"-a", "buf=4", "-a", "alpha=x", "-a", "beta=0"}, "argument alpha"},
		{"no equals", []string{"-a", "buf"}, "want name=value"},
		{"unknown function", []string{"-f", "g"}, "no function g"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"run", input}, tt.args...)...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeModule(t, dir, scenario)
	bad := filepath.Join(dir, "bad.kir")
	require.NoError(t, os.WriteFile(bad, []byte("(module bad"), 0o600))

	stdout, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, stdout, "ok (1 functions)")

	stdout, err = execute(t, "validate", good, bad)
	assert.ErrorContains(t, err, "1 of 2 modules are invalid")
	assert.Contains(t, stdout, bad+": ")
}

func TestDisasm(t *testing.T) {
	dir := t.TempDir()
	input := writeModule(t, dir, scenario)
	_, err := execute(t, "compile", "-b", "native", "-o", dir, input)
	require.NoError(t, err)

	stdout, err := execute(t, "disasm", "--stats", filepath.Join(dir, "scenario.kbin"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "kiln_malloc")
	assert.Contains(t, stdout, "; opcodes: ")
	assert.NotContains(t, stdout, "; verify:")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.kbin"), []byte{1, 2, 3}, 0o600))
	_, err = execute(t, "disasm", filepath.Join(dir, "junk.kbin"))
	assert.Error(t, err)
}

func TestTargets(t *testing.T) {
	stdout, err := execute(t, "targets")
	require.NoError(t, err)
	assert.Contains(t, stdout, "js       js-js (32-bit pointers)\n")
	assert.Contains(t, stdout, "dsp      dsp-qurt-1024-bitops-hvx (32-bit pointers)\n")
	assert.Contains(t, stdout, "config   host\n")
}
