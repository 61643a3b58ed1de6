package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/kiln/ir"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{in: "amd64-linux-256-avx2-bitops", want: Target{
			Arch: "amd64", OS: "linux", PointerBits: 64, VectorBits: 256,
			Features: []string{FeatureAVX2, FeatureBitOps},
		}},
		{in: "wasm32-js", want: Target{Arch: "wasm32", OS: "js", PointerBits: 32}},
		{in: "dsp-qurt-1024-hvx", want: Target{
			Arch: "dsp", OS: "qurt", PointerBits: 32, VectorBits: 1024,
			Features: []string{FeatureHVX},
		}},
		{in: "js-js", want: ScriptTarget()},
		{in: "amd64", wantErr: true},
		{in: "amd64-linux-12", wantErr: true},
		{in: "amd64-linux-sse9", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetLanes(t *testing.T) {
	tg := Target{VectorBits: 256}
	assert.Equal(t, 8, tg.NativeLanes(ir.F32))
	assert.Equal(t, 32, tg.NativeLanes(ir.U8))
	assert.Equal(t, 32, tg.NativeLanes(ir.Bool()))
	assert.Equal(t, 32, tg.NativeBytes())
	assert.Zero(t, Target{}.NativeLanes(ir.I32))

	assert.True(t, DSPTarget().Has(FeatureHVX))
	assert.Equal(t, "amd64-linux-256-avx2", Target{Arch: "amd64", OS: "linux", VectorBits: 256, Features: []string{"avx2"}}.String())

	host := HostTarget()
	assert.NotEmpty(t, host.Arch)
	assert.GreaterOrEqual(t, host.VectorBits, 128)
}
