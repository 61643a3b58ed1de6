// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package textgen is the shared engine of the source-emitting backends.
//
// Backend implements codegen.Backend over Value, a value held as one
// expression per vector lane, so every dialect only ever formats scalar
// operations. Results of pure operations are bound to temporaries and
// cached per block scope; memory accesses and calls always get a fresh
// temporary. Functions emitted while another is open (parallel closures)
// are written out first, so a function is always defined before the code
// that takes its address.
//
// A Dialect supplies the syntax: literals, operators with the wrap-around
// semantics of the IR, memory access, control flow and the preamble.
package textgen

import (
	"github.com/gogpu/kiln/codegen"
	"github.com/gogpu/kiln/ir"
)

type valueKind uint8

const (
	plainValue valueKind = iota
	stringValue
	bufferValue
)

// Value is a generated value. Lanes holds one expression per lane; each is
// a temporary, a parameter or a literal.
type Value struct {
	T     ir.Type
	Lanes []string
	kind  valueKind
}

// Scalar returns the expression of a one-lane value.
func (v Value) Scalar() string { return v.Lanes[0] }

// IsString reports whether v is a string constant or a formatted string.
func (v Value) IsString() bool { return v.kind == stringValue }

// IsBuffer reports whether v is a buffer descriptor argument.
func (v Value) IsBuffer() bool { return v.kind == bufferValue }

// Extern is a function called by generated code but not defined by it.
type Extern struct {
	Name string
	Ret  ir.Type
	Args []ir.Type
}

// Dialect formats scalar operations in one target language. Types passed
// to it are scalar element types. Operands are temporaries, parameters or
// literals, so a dialect never has to parenthesise them.
type Dialect interface {
	// Name identifies the dialect in errors.
	Name() string
	// Tab is one level of indentation.
	Tab() string
	// Reserved reports identifiers generated code must not declare.
	Reserved(id string) bool
	Preamble(module string) string
	// Declarations declares or defines the externs the module calls.
	Declarations(calls []Extern) string
	HasExtern(name string) bool

	// IntLiteral formats bits, which is sign-extended for signed types and
	// zero-extended otherwise.
	IntLiteral(t ir.Type, bits uint64) string
	FloatLiteral(t ir.Type, v float64) string
	StringLiteral(s string) string
	NullHandle() string

	Binary(op codegen.Op, t ir.Type, a, b string) string
	// Compare returns an expression of value 0 or 1.
	Compare(p codegen.Pred, t ir.Type, a, b string) string
	Convert(c codegen.Conv, from, to ir.Type, v string) string
	Select(t ir.Type, cond, a, b string) string
	// Intrinsic returns a lane expression for an intrinsic the language
	// computes directly. arg is the type of the first argument.
	Intrinsic(name string, t, arg ir.Type, args []string) (string, bool)

	Load(t ir.Type, ptr string, align int) string
	Store(t ir.Type, ptr, v string, align int, atomic bool) string
	// Offset returns ptr advanced by a constant number of bytes.
	Offset(ptr string, bytes int) string
	ElementPtr(base, index string, elemBytes int) string
	// Alloca declares stack storage called name and returns its address.
	Alloca(name string, bytes, align int) (decl []string, ptr string)
	Memcpy(dst, src, n string) string

	// Declare introduces a variable; an empty expr leaves it unset.
	Declare(t ir.Type, name, expr string) string
	Assign(name, expr string) string
	If(cond string) string
	Else() string
	End() string
	For(i, min, end string) string
	FunctionBegin(sig codegen.Signature, params []string) []string
	FunctionEnd() []string
	Return(status string) []string
	Comment(text string) string
	Call(name string, args []string) string
	FuncAddr(name string) string
}

// Stringifier is implemented by dialects that format strings natively
// instead of through the runtime's appenders.
type Stringifier interface {
	Stringify(args []Value) string
}
