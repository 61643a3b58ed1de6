package codegen

import (
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sys/cpu"

	"github.com/gogpu/kiln/ir"
)

// Target feature names.
const (
	FeatureBitOps = "bitops"
	FeatureSSE41  = "sse41"
	FeatureAVX2   = "avx2"
	FeatureAVX512 = "avx512"
	FeatureNEON   = "neon"
	FeatureHVX    = "hvx"
)

// Target describes the machine code is generated for. It is passed
// explicitly to every entry point.
type Target struct {
	Arch string
	OS   string

	// PointerBits is 32 or 64.
	PointerBits int

	// VectorBits is the native SIMD register width. Zero means the backend
	// has no native width and vectors are never split.
	VectorBits int

	// Features holds optional instruction set extensions, sorted.
	Features []string
}

// Has reports whether the target enables feature.
func (t Target) Has(feature string) bool {
	return slices.Contains(t.Features, feature)
}

// With returns a copy of t with feature enabled.
func (t Target) With(feature string) Target {
	if t.Has(feature) {
		return t
	}
	t.Features = append(slices.Clone(t.Features), feature)
	slices.Sort(t.Features)
	return t
}

// NativeLanes returns the number of lanes of elem that fill one native
// vector register, or zero when the target has no native width.
func (t Target) NativeLanes(elem ir.Type) int {
	if t.VectorBits == 0 {
		return 0
	}
	bits := elem.Bits
	if elem.IsBool() {
		bits = 8
	}
	n := t.VectorBits / bits
	if n < 1 {
		return 1
	}
	return n
}

// NativeBytes returns the native vector width in bytes.
func (t Target) NativeBytes() int {
	return t.VectorBits / 8
}

// String formats the target as arch-os[-bits][-feature...].
func (t Target) String() string {
	parts := []string{t.Arch, t.OS}
	if t.VectorBits != 0 {
		parts = append(parts, strconv.Itoa(t.VectorBits))
	}
	parts = append(parts, t.Features...)
	return strings.Join(parts, "-")
}

// HostTarget describes the machine the compiler runs on.
func HostTarget() Target {
	t := Target{
		Arch:        runtime.GOARCH,
		OS:          runtime.GOOS,
		PointerBits: strconv.IntSize,
		VectorBits:  128,
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		if cpu.X86.HasSSE41 {
			t = t.With(FeatureSSE41)
		}
		if cpu.X86.HasPOPCNT {
			t = t.With(FeatureBitOps)
		}
		if cpu.X86.HasAVX2 {
			t.VectorBits = 256
			t = t.With(FeatureAVX2)
		}
		if cpu.X86.HasAVX512F {
			t.VectorBits = 512
			t = t.With(FeatureAVX512)
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			t = t.With(FeatureNEON)
		}
		t = t.With(FeatureBitOps)
	}
	return t
}

// DSPTarget is the 1024-bit SIMD signal processor target.
func DSPTarget() Target {
	return Target{
		Arch:        "dsp",
		OS:          "qurt",
		PointerBits: 32,
		VectorBits:  1024,
		Features:    []string{FeatureBitOps, FeatureHVX},
	}
}

// ScriptTarget is a JavaScript engine: 32-bit addresses into one
// ArrayBuffer and no native vector width.
func ScriptTarget() Target {
	return Target{Arch: "js", OS: "js", PointerBits: 32}
}

// ParseTarget parses "host" or arch-os[-bits][-feature...], for example
// "amd64-linux-256-avx2-bitops".
func ParseTarget(s string) (Target, error) {
	if s == "" || s == "host" {
		return HostTarget(), nil
	}
	parts := strings.Split(s, "-")
	if len(parts) < 2 {
		return Target{}, fmt.Errorf("target %q: want arch-os[-bits][-feature...]", s)
	}
	t := Target{Arch: parts[0], OS: parts[1], PointerBits: 64}
	switch t.Arch {
	case "386", "arm", "wasm32", "dsp", "js":
		t.PointerBits = 32
	}
	for _, p := range parts[2:] {
		if n, err := strconv.Atoi(p); err == nil {
			if n <= 0 || n%8 != 0 {
				return Target{}, fmt.Errorf("target %q: bad vector width %d", s, n)
			}
			t.VectorBits = n
			continue
		}
		switch p {
		case FeatureBitOps, FeatureSSE41, FeatureAVX2, FeatureAVX512, FeatureNEON, FeatureHVX:
			t = t.With(p)
		default:
			return Target{}, fmt.Errorf("target %q: unknown feature %q", s, p)
		}
	}
	return t, nil
}
