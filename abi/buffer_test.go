package abi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsets(t *testing.T) {
	tests := []struct {
		field Field
		dim   int
		want  int
	}{
		{FieldDev, 0, 0},
		{FieldHost, 0, 8},
		{FieldExtent, 0, 16},
		{FieldExtent, 3, 28},
		{FieldStride, 1, 36},
		{FieldMin, 2, 56},
		{FieldElemSize, 0, 64},
		{FieldHostDirty, 0, 68},
		{FieldDevDirty, 0, 69},
	}
	for _, tt := range tests {
		t.Run(tt.field.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Offset(tt.field, tt.dim))
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	b := Dense(0x1122334455667788, 4, 10, 3)
	b.Min[1] = -2
	b.HostDirty = true

	raw := make([]byte, BufferSize)
	b.Encode(raw)

	le := binary.LittleEndian
	assert.Equal(t, uint64(0x1122334455667788), le.Uint64(raw[OffsetHost:]))
	assert.Equal(t, uint32(10), le.Uint32(raw[OffsetExtent:]))
	assert.Equal(t, uint32(3), le.Uint32(raw[OffsetExtent+4:]))
	assert.Equal(t, uint32(1), le.Uint32(raw[OffsetStride:]))
	assert.Equal(t, uint32(10), le.Uint32(raw[OffsetStride+4:]))
	assert.Equal(t, int32(-2), int32(le.Uint32(raw[OffsetMin+4:])))
	assert.Equal(t, uint32(4), le.Uint32(raw[OffsetElemSize:]))
	assert.Equal(t, byte(1), raw[OffsetHostDirty])
	assert.Equal(t, byte(0), raw[OffsetDevDirty])

	back, err := DecodeBuffer(raw)
	require.NoError(t, err)
	assert.Equal(t, b, back)
	assert.Equal(t, 30, back.Elements())
}

func TestDecodeShort(t *testing.T) {
	_, err := DecodeBuffer(make([]byte, BufferSize-1))
	assert.Error(t, err)
}

func TestTakesContext(t *testing.T) {
	assert.True(t, TakesContext(FuncMalloc))
	assert.True(t, TakesContext(FuncDoParFor))
	assert.True(t, TakesContext("kiln_error_bad_elem_size"))
	assert.False(t, TakesContext(FuncInt64ToStr))
	assert.False(t, TakesContext("sqrt_f32"))
}
