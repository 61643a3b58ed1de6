// Package abi defines the binary contracts shared by every kiln backend and
// by the runtime that executes generated code: the buffer descriptor
// layout, the trace event layout, runtime function names and status codes.
package abi

import (
	"encoding/binary"
	"fmt"
)

// Dimensions is the fixed rank of a buffer descriptor.
const Dimensions = 4

// Field identifies a member of the buffer descriptor.
type Field uint8

const (
	FieldDev Field = iota
	FieldHost
	FieldExtent
	FieldStride
	FieldMin
	FieldElemSize
	FieldHostDirty
	FieldDevDirty
)

var fieldNames = [...]string{
	FieldDev:       "dev",
	FieldHost:      "host",
	FieldExtent:    "extent",
	FieldStride:    "stride",
	FieldMin:       "min",
	FieldElemSize:  "elem_size",
	FieldHostDirty: "host_dirty",
	FieldDevDirty:  "dev_dirty",
}

// String returns the C member name of the field.
func (f Field) String() string {
	if int(f) < len(fieldNames) {
		return fieldNames[f]
	}
	return fmt.Sprintf("field%d", uint8(f))
}

// Byte offsets of the descriptor members.
//
//	struct buffer_t {
//	    uint64_t dev;          //  0
//	    uint8_t *host;         //  8
//	    int32_t  extent[4];    // 16
//	    int32_t  stride[4];    // 32
//	    int32_t  min[4];       // 48
//	    int32_t  elem_size;    // 64
//	    bool     host_dirty;   // 68
//	    bool     dev_dirty;    // 69
//	};                         // 72 with tail padding
const (
	OffsetDev       = 0
	OffsetHost      = 8
	OffsetExtent    = 16
	OffsetStride    = 32
	OffsetMin       = 48
	OffsetElemSize  = 64
	OffsetHostDirty = 68
	OffsetDevDirty  = 69
	BufferSize      = 72
	BufferAlign     = 8
)

// Offset returns the byte offset of field f in dimension dim. dim is ignored
// for scalar fields.
func Offset(f Field, dim int) int {
	switch f {
	case FieldDev:
		return OffsetDev
	case FieldHost:
		return OffsetHost
	case FieldExtent:
		return OffsetExtent + 4*dim
	case FieldStride:
		return OffsetStride + 4*dim
	case FieldMin:
		return OffsetMin + 4*dim
	case FieldElemSize:
		return OffsetElemSize
	case FieldHostDirty:
		return OffsetHostDirty
	case FieldDevDirty:
		return OffsetDevDirty
	}
	panic(fmt.Sprintf("abi: unknown buffer field %d", f))
}

// Buffer mirrors the descriptor in Go.
type Buffer struct {
	Dev       uint64
	Host      uint64
	Extent    [Dimensions]int32
	Stride    [Dimensions]int32
	Min       [Dimensions]int32
	ElemSize  int32
	HostDirty bool
	DevDirty  bool
}

// Encode writes the descriptor in little-endian layout. dst must hold at
// least BufferSize bytes.
func (b *Buffer) Encode(dst []byte) {
	le := binary.LittleEndian
	le.PutUint64(dst[OffsetDev:], b.Dev)
	le.PutUint64(dst[OffsetHost:], b.Host)
	for d := 0; d < Dimensions; d++ {
		le.PutUint32(dst[OffsetExtent+4*d:], uint32(b.Extent[d]))
		le.PutUint32(dst[OffsetStride+4*d:], uint32(b.Stride[d]))
		le.PutUint32(dst[OffsetMin+4*d:], uint32(b.Min[d]))
	}
	le.PutUint32(dst[OffsetElemSize:], uint32(b.ElemSize))
	dst[OffsetHostDirty] = boolByte(b.HostDirty)
	dst[OffsetDevDirty] = boolByte(b.DevDirty)
	for i := OffsetDevDirty + 1; i < BufferSize; i++ {
		dst[i] = 0
	}
}

// DecodeBuffer reads a descriptor written by Encode or by generated code.
func DecodeBuffer(src []byte) (Buffer, error) {
	if len(src) < BufferSize {
		return Buffer{}, fmt.Errorf("abi: buffer descriptor needs %d bytes, got %d", BufferSize, len(src))
	}
	le := binary.LittleEndian
	b := Buffer{
		Dev:       le.Uint64(src[OffsetDev:]),
		Host:      le.Uint64(src[OffsetHost:]),
		ElemSize:  int32(le.Uint32(src[OffsetElemSize:])),
		HostDirty: src[OffsetHostDirty] != 0,
		DevDirty:  src[OffsetDevDirty] != 0,
	}
	for d := 0; d < Dimensions; d++ {
		b.Extent[d] = int32(le.Uint32(src[OffsetExtent+4*d:]))
		b.Stride[d] = int32(le.Uint32(src[OffsetStride+4*d:]))
		b.Min[d] = int32(le.Uint32(src[OffsetMin+4*d:]))
	}
	return b, nil
}

// Dense returns a descriptor for a dense row-major-by-dimension-0 array
// with the given extents (dimension 0 has stride 1).
func Dense(host uint64, elemSize int, extents ...int) Buffer {
	b := Buffer{Host: host, ElemSize: int32(elemSize)}
	stride := int32(1)
	for d, e := range extents {
		if d >= Dimensions {
			break
		}
		b.Extent[d] = int32(e)
		b.Stride[d] = stride
		stride *= int32(e)
	}
	return b
}

// Elements returns the number of elements addressed by the descriptor.
func (b *Buffer) Elements() int {
	n := 1
	for d := 0; d < Dimensions; d++ {
		if b.Extent[d] == 0 {
			continue
		}
		n *= int(b.Extent[d])
	}
	return n
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
