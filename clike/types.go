// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package clike

import (
	"fmt"

	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
)

// storageBits is the width of t in memory; bools occupy a byte.
func storageBits(t ir.Type) int {
	if t.IsBool() {
		return 8
	}
	return t.Bits
}

// ctype returns the C type of the scalar t.
func ctype(t ir.Type) string {
	switch {
	case t.IsVoid():
		return "void"
	case t.IsHandle():
		return "void *"
	case t.IsFloat():
		switch t.Bits {
		case 32:
			return "float"
		case 64:
			return "double"
		}
		codegen.Raise(codegen.ErrUnsupported, nil, "c: no C type for %s", t)
	case t.IsInt():
		return fmt.Sprintf("int%d_t", t.Bits)
	}
	return fmt.Sprintf("uint%d_t", storageBits(t))
}

func signedType(t ir.Type) string { return fmt.Sprintf("int%d_t", storageBits(t)) }

func unsignedType(t ir.Type) string { return fmt.Sprintf("uint%d_t", storageBits(t)) }

// wideType is the unsigned type arithmetic on t is carried out in, so
// that integer promotion never makes overflow undefined.
func wideType(t ir.Type) string {
	if storageBits(t) > 32 {
		return "uint64_t"
	}
	return "uint32_t"
}

// suffix names t in helper functions.
func suffix(t ir.Type) string {
	switch {
	case t.IsHandle():
		return "h"
	case t.IsFloat():
		return fmt.Sprintf("f%d", t.Bits)
	case t.IsInt():
		return fmt.Sprintf("i%d", t.Bits)
	}
	return fmt.Sprintf("u%d", storageBits(t))
}

// declare formats a declaration of name with C type ct.
func declare(ct, name string) string {
	if ct[len(ct)-1] == '*' {
		return ct + name
	}
	return ct + " " + name
}
