package hostrt

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gogpu/kiln/abi"
	"github.com/gogpu/kiln/machine"
)

// appendString writes s at dst, never past end, terminates it and returns
// the new end of the string. Output that does not fit is truncated.
func appendString(in *machine.Interpreter, dst, end uint64, s string) (machine.Lanes, error) {
	if end <= dst {
		return machine.Lanes{dst}, nil
	}
	room := int(end-dst) - 1
	if len(s) > room {
		s = s[:room]
	}
	mem := in.Memory()
	if err := mem.Write(dst, append([]byte(s), 0)); err != nil {
		return nil, err
	}
	return machine.Lanes{dst + uint64(len(s))}, nil
}

func stringToString(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	s, err := in.Memory().CString(args[2][0])
	if err != nil {
		return nil, err
	}
	return appendString(in, args[0][0], args[1][0], s)
}

// padDigits left-pads the digits of s with zeros to at least n digits.
func padDigits(s string, n int) string {
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(s, "-")
	for len(digits) < n {
		digits = "0" + digits
	}
	if neg {
		return "-" + digits
	}
	return digits
}

func int64ToString(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	s := strconv.FormatInt(int64(args[2][0]), 10)
	return appendString(in, args[0][0], args[1][0], padDigits(s, int(args[3][0])))
}

func uint64ToString(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	s := strconv.FormatUint(args[2][0], 10)
	return appendString(in, args[0][0], args[1][0], padDigits(s, int(args[3][0])))
}

// doubleToString formats in scientific notation when the flag is set and
// with six fixed decimals otherwise.
func doubleToString(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	f := math.Float64frombits(args[2][0])
	var s string
	switch {
	case math.IsNaN(f):
		s = "nan"
	case math.IsInf(f, 1):
		s = "inf"
	case math.IsInf(f, -1):
		s = "-inf"
	case args[3][0] != 0:
		s = strconv.FormatFloat(f, 'e', 6, 64)
	default:
		s = strconv.FormatFloat(f, 'f', 6, 64)
	}
	return appendString(in, args[0][0], args[1][0], s)
}

func pointerToString(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	return appendString(in, args[0][0], args[1][0], fmt.Sprintf("0x%x", args[2][0]))
}

func bufferToString(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	raw, err := in.Memory().Bytes(args[2][0], abi.BufferSize)
	if err != nil {
		return nil, err
	}
	b, err := abi.DecodeBuffer(raw)
	if err != nil {
		return nil, err
	}
	s := fmt.Sprintf("buffer(%#x, %#x, %d, %t, %t, %v, %v, %v)",
		b.Dev, b.Host, b.ElemSize, b.HostDirty, b.DevDirty, b.Min, b.Extent, b.Stride)
	return appendString(in, args[0][0], args[1][0], s)
}
