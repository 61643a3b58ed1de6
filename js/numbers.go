// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package js

import (
	"fmt"

	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
)

// Integers are held as JavaScript numbers normalized to the range of
// their type: signed types as their signed value, unsigned types and bools
// as their unsigned value. Every operation renormalizes its result.

func width(t ir.Type) int {
	if t.IsBool() {
		return 1
	}
	return t.Bits
}

func wide(t ir.Type) {
	if t.IsIntegral() && t.Bits > 32 {
		codegen.Raise(codegen.ErrUnsupported, nil, "js: %s arithmetic", t)
	}
}

// norm wraps the integer expression x into the range of t.
func norm(t ir.Type, x string) string {
	switch {
	case t.IsFloat():
		if t.Bits == 32 {
			return "Math.fround(" + x + ")"
		}
		return x
	case t.IsHandle():
		return x
	}
	wide(t)
	bits := width(t)
	switch {
	case bits == 32 && t.IsInt():
		return "((" + x + ") | 0)"
	case bits == 32:
		return "((" + x + ") >>> 0)"
	case t.IsInt():
		s := 32 - bits
		return fmt.Sprintf("((%s) << %d >> %d)", x, s, s)
	}
	return fmt.Sprintf("((%s) & %d)", x, uint32(1)<<bits-1)
}

// signed reinterprets the t value x as a signed number of the same width.
func signed(t ir.Type, x string) string {
	if t.IsInt() || !t.IsIntegral() {
		return x
	}
	wide(t)
	bits := width(t)
	if bits == 32 {
		return "(" + x + " | 0)"
	}
	s := 32 - bits
	return fmt.Sprintf("(%s << %d >> %d)", x, s, s)
}

// unsigned reinterprets the t value x as an unsigned number of the same
// width.
func unsigned(t ir.Type, x string) string {
	if !t.IsInt() {
		return x
	}
	wide(t)
	if t.Bits == 32 {
		return "(" + x + " >>> 0)"
	}
	return fmt.Sprintf("(%s & %d)", x, uint32(1)<<t.Bits-1)
}
