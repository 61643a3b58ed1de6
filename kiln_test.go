package kiln

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/machine"
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

func TestBackends(t *testing.T) {
	assert.Equal(t, []string{"c", "dsp", "js", "native"}, Backends())

	for name, want := range map[string]codegen.Target{
		BackendNative: codegen.HostTarget(),
		BackendDSP:    codegen.DSPTarget(),
		BackendC:      codegen.HostTarget(),
		BackendJS:     codegen.ScriptTarget(),
	} {
		got, err := DefaultTarget(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	_, err := DefaultTarget("wasm")
	assert.Error(t, err)
}

func TestCompileEveryBackend(t *testing.T) {
	for _, name := range Backends() {
		t.Run(name, func(t *testing.T) {
			art, err := CompileSource(scenario, Options{Backend: name})
			require.NoError(t, err)
			assert.Equal(t, name, art.Backend)
			assert.NotEqual(t, uuid.Nil, art.ID)
			assert.Equal(t, 1, art.Info.StackAllocations)
			assert.Equal(t, 1, art.Info.HeapAllocations)
			assert.NotEmpty(t, art.Text)
			assert.Equal(t, art.Machine != nil, name == BackendNative || name == BackendDSP)
		})
	}
}

func TestArtifactBytes(t *testing.T) {
	art, err := CompileSource(scenario, Options{})
	require.NoError(t, err)
	assert.Equal(t, BackendNative, art.Backend)
	assert.Equal(t, ".kbin", art.Extension())

	mod, err := machine.Decode(art.Bytes())
	require.NoError(t, err)
	assert.Equal(t, art.Machine.String(), mod.String())

	art, err = CompileSource(scenario, Options{Backend: BackendC})
	require.NoError(t, err)
	assert.Equal(t, ".c", art.Extension())
	assert.Equal(t, art.Text, string(art.Bytes()))
}

func TestCompileTargetOverride(t *testing.T) {
	target, err := codegen.ParseTarget("arm-linux")
	require.NoError(t, err)
	art, err := CompileSource(scenario, Options{Backend: BackendC, Target: &target})
	require.NoError(t, err)
	assert.Equal(t, 32, art.Target.PointerBits)
}

func TestCompileValidates(t *testing.T) {
	m := &ir.Module{Name: "m", Functions: []ir.Function{{
		Name: "f",
		Args: []ir.Argument{ir.Buffer("out", ir.I32)},
		Body: ir.Evaluate{Value: ir.Var(ir.I32, "y")},
	}}}

	_, err := Compile(m, Options{Backend: BackendC})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")

	_, err = Compile(m, Options{Backend: BackendC, SkipValidation: true})
	require.Error(t, err, "the lowering still rejects the unbound name")
	assert.True(t, codegen.IsUnboundName(err))
}

func TestCompileErrors(t *testing.T) {
	_, err := CompileSource(scenario, Options{Backend: "wasm"})
	assert.ErrorContains(t, err, `unknown backend "wasm"`)

	_, err = CompileSource("(module", Options{})
	assert.Error(t, err)

	_, err = CompileFile(filepath.Join(t.TempDir(), "missing.kir"), Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCompileFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.kir")
	require.NoError(t, os.WriteFile(path, []byte(scenario), 0o600))

	art, err := CompileFile(path, Options{Backend: BackendJS})
	require.NoError(t, err)
	assert.True(t, strings.Contains(art.Text, "function f("))

	require.NoError(t, os.WriteFile(path, []byte("(module m (func))"), 0o600))
	_, err = CompileFile(path, Options{})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), path+":"))
}
