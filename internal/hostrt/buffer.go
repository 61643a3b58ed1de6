package hostrt

import (
	"fmt"

	"github.com/gogpu/kiln/abi"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/machine"
)

// NewBuffer allocates a dense host array of elem with the given extents
// and a descriptor for it. It returns the descriptor's address.
func NewBuffer(mem *machine.Memory, elem ir.Type, extents ...int) (uint64, error) {
	if len(extents) > abi.Dimensions {
		return 0, fmt.Errorf("hostrt: %d dimensions, at most %d", len(extents), abi.Dimensions)
	}
	n := 1
	for _, e := range extents {
		n *= e
	}
	host := mem.Alloc(n*elem.Bytes(), "buffer host")
	desc := abi.Dense(host, elem.Bytes(), extents...)
	p := mem.Alloc(abi.BufferSize, "buffer descriptor")
	raw, err := mem.Bytes(p, abi.BufferSize)
	if err != nil {
		return 0, err
	}
	desc.Encode(raw)
	return p, nil
}

// ReadBuffer decodes the descriptor at p and returns it with a view of its
// host elements.
func ReadBuffer(mem *machine.Memory, p uint64) (abi.Buffer, []byte, error) {
	raw, err := mem.Bytes(p, abi.BufferSize)
	if err != nil {
		return abi.Buffer{}, nil, err
	}
	b, err := abi.DecodeBuffer(raw)
	if err != nil {
		return abi.Buffer{}, nil, err
	}
	data, err := mem.Bytes(b.Host, b.Elements()*int(b.ElemSize))
	if err != nil {
		return b, nil, fmt.Errorf("hostrt: host of buffer at %#x: %w", p, err)
	}
	return b, data, nil
}

// FreeBuffer releases a buffer made by NewBuffer.
func FreeBuffer(mem *machine.Memory, p uint64) error {
	b, _, err := ReadBuffer(mem, p)
	if err != nil {
		return err
	}
	if err := mem.Free(b.Host); err != nil {
		return err
	}
	return mem.Free(p)
}
