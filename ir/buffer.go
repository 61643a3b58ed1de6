package ir

import "strconv"

// BufferDims is the fixed rank of a buffer descriptor.
const BufferDims = 4

// Buffer symbol suffixes.
const (
	bufferSuffix    = ".buffer"
	minInfix        = ".min."
	extentInfix     = ".extent."
	strideInfix     = ".stride."
	elemSizeSuffix  = ".elem_size"
	hostDirtySuffix = ".host_dirty"
	devDirtySuffix  = ".dev_dirty"
)

// BufferName returns the name bound to the descriptor pointer of buf.
func BufferName(buf string) string { return buf + bufferSuffix }

// MinName returns the name bound to buf's min in dimension d.
func MinName(buf string, d int) string { return buf + minInfix + strconv.Itoa(d) }

// ExtentName returns the name bound to buf's extent in dimension d.
func ExtentName(buf string, d int) string { return buf + extentInfix + strconv.Itoa(d) }

// StrideName returns the name bound to buf's stride in dimension d.
func StrideName(buf string, d int) string { return buf + strideInfix + strconv.Itoa(d) }

// ElemSizeName returns the name bound to buf's element size.
func ElemSizeName(buf string) string { return buf + elemSizeSuffix }

// HostDirtyName returns the name bound to buf's host dirty flag.
func HostDirtyName(buf string) string { return buf + hostDirtySuffix }

// DevDirtyName returns the name bound to buf's device dirty flag.
func DevDirtyName(buf string) string { return buf + devDirtySuffix }

// BufferSymbols lists every variable a buffer argument makes visible, in
// unpack order: host pointer, descriptor, then min/extent/stride per
// dimension, element size and the dirty flags.
func BufferSymbols(buf string) []Variable {
	vars := []Variable{
		Var(HandleType(), buf),
		Var(HandleType(), BufferName(buf)),
	}
	for d := 0; d < BufferDims; d++ {
		vars = append(vars,
			Var(I32, MinName(buf, d)),
			Var(I32, ExtentName(buf, d)),
			Var(I32, StrideName(buf, d)),
		)
	}
	return append(vars,
		Var(I32, ElemSizeName(buf)),
		Var(Bool(), HostDirtyName(buf)),
		Var(Bool(), DevDirtyName(buf)),
	)
}
