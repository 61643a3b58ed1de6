package machine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// FuncAddrTag marks a pointer that names a function rather than memory.
const FuncAddrTag = uint64(1) << 63

// ErrBadPointer is wrapped by every invalid memory access.
var ErrBadPointer = errors.New("bad pointer")

// Memory is a byte-addressed heap of independent regions laid out in one
// flat address space. Regions start on a regionAlign boundary above
// baseAddress and are separated by a guard gap, so the null pointer never
// addresses a region, an access running off one region never lands in the
// next, and small heaps fit 32-bit pointers. Memory is safe for concurrent
// use; concurrent accesses to overlapping bytes are the caller's
// responsibility, as on real hardware.
type Memory struct {
	mu      sync.RWMutex
	regions []*region // sorted by start
	next    uint64
}

const (
	baseAddress = 0x10000
	regionAlign = 128
	guardBytes  = 128
)

type region struct {
	start uint64
	data  []byte
	label string
}

// NewMemory returns an empty memory.
func NewMemory() *Memory {
	return &Memory{next: baseAddress}
}

// Alloc reserves size zeroed bytes and returns a pointer to them.
func (m *Memory) Alloc(size int, label string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &region{start: m.next, data: make([]byte, size), label: label}
	m.regions = append(m.regions, r)
	m.next = (r.start + uint64(size) + guardBytes + regionAlign - 1) &^ (regionAlign - 1)
	return r.start
}

// find returns the index of the region containing p, or the region p is one
// past the end of.
func (m *Memory) find(p uint64) (int, bool) {
	if p&FuncAddrTag != 0 {
		return 0, false
	}
	i := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].start > p }) - 1
	if i < 0 || p > m.regions[i].start+uint64(len(m.regions[i].data)) {
		return 0, false
	}
	return i, true
}

// Free releases the region p points to. p must be the start of a region.
func (m *Memory) Free(p uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.find(p)
	if !ok || m.regions[i].start != p {
		return fmt.Errorf("free of %#x: %w", p, ErrBadPointer)
	}
	m.regions = append(m.regions[:i], m.regions[i+1:]...)
	return nil
}

// Live returns the number of allocated regions.
func (m *Memory) Live() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.regions)
}

// Labels returns the labels of the live regions in allocation order.
func (m *Memory) Labels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.regions))
	for _, r := range m.regions {
		out = append(out, r.label)
	}
	return out
}

// Bytes returns the n bytes at p. The slice aliases the memory.
func (m *Memory) Bytes(p uint64, n int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.find(p)
	if !ok {
		return nil, fmt.Errorf("access to %#x: %w", p, ErrBadPointer)
	}
	r := m.regions[i]
	off := int(p - r.start)
	if n < 0 || off+n > len(r.data) {
		return nil, fmt.Errorf("access of %d bytes at offset %d of %q (%d bytes): %w",
			n, off, r.label, len(r.data), ErrBadPointer)
	}
	return r.data[off : off+n], nil
}

// ReadUint reads a little-endian unsigned integer of size bytes.
func (m *Memory) ReadUint(p uint64, size int) (uint64, error) {
	b, err := m.Bytes(p, size)
	if err != nil {
		return 0, err
	}
	return getUint(b, size), nil
}

// WriteUint writes the low size bytes of x little-endian.
func (m *Memory) WriteUint(p uint64, size int, x uint64) error {
	b, err := m.Bytes(p, size)
	if err != nil {
		return err
	}
	putUint(b, size, x)
	return nil
}

// Write copies data to p.
func (m *Memory) Write(p uint64, data []byte) error {
	b, err := m.Bytes(p, len(data))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

// CString reads the NUL-terminated string at p.
func (m *Memory) CString(p uint64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.find(p)
	if !ok {
		return "", fmt.Errorf("string at %#x: %w", p, ErrBadPointer)
	}
	r := m.regions[i]
	off := int(p - r.start)
	for j := off; j < len(r.data); j++ {
		if r.data[j] == 0 {
			return string(r.data[off:j]), nil
		}
	}
	return "", fmt.Errorf("string at %#x in %q is not terminated: %w", p, r.label, ErrBadPointer)
}

// Size returns the size of the region p points into and p's offset.
func (m *Memory) Size(p uint64) (size, offset int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.find(p)
	if !ok {
		return 0, 0, fmt.Errorf("size of %#x: %w", p, ErrBadPointer)
	}
	r := m.regions[i]
	return len(r.data), int(p - r.start), nil
}

func getUint(b []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

func putUint(b []byte, size int, x uint64) {
	switch size {
	case 1:
		b[0] = byte(x)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(x))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(x))
	default:
		binary.LittleEndian.PutUint64(b, x)
	}
}
