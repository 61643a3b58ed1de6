package codegen

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes code generation errors.
type ErrorKind uint8

const (
	// ErrUnknownIntrinsic indicates a call to an intrinsic outside the fixed table.
	ErrUnknownIntrinsic ErrorKind = iota

	// ErrMalformedNode indicates a node that a lowering rule cannot accept.
	ErrMalformedNode

	// ErrScopeImbalance indicates a symbol table push without a matching pop
	// or a pop without a binding.
	ErrScopeImbalance

	// ErrUnsupported indicates a construct the selected backend cannot express.
	ErrUnsupported

	// ErrInternal indicates an internal compiler error.
	ErrInternal

	// ErrUnboundName indicates a lookup of a name with no binding.
	ErrUnboundName
)

// String returns a human-readable error kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrUnknownIntrinsic:
		return "UnknownIntrinsic"
	case ErrMalformedNode:
		return "MalformedNode"
	case ErrScopeImbalance:
		return "ScopeImbalance"
	case ErrUnsupported:
		return "Unsupported"
	case ErrInternal:
		return "InternalError"
	case ErrUnboundName:
		return "UnboundName"
	default:
		return "Unknown"
	}
}

// Error is a fatal code generation error. Code generation stops at the first
// one and produces no output.
type Error struct {
	// Kind categorizes the error.
	Kind ErrorKind

	// Node is the kind of the offending IR node, when known.
	Node string

	// Name is the variable, buffer or function name involved, when known.
	Name string

	// Message provides details about the error.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Node != "" {
		sb.WriteString(" in " + e.Node)
	}
	if e.Name != "" {
		sb.WriteString(" " + fmt.Sprintf("%q", e.Name))
	}
	sb.WriteString(": " + e.Message)
	return sb.String()
}

// NewError creates an error without node context.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// fail aborts code generation. The panic is recovered by LowerModule.
func fail(kind ErrorKind, node any, name, format string, args ...any) {
	panic(&Error{
		Kind:    kind,
		Node:    nodeKind(node),
		Name:    name,
		Message: fmt.Sprintf(format, args...),
	})
}

func nodeKind(node any) string {
	switch n := node.(type) {
	case nil:
		return ""
	case string:
		return n
	default:
		return strings.TrimPrefix(fmt.Sprintf("%T", node), "ir.")
	}
}

func kindOf(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsUnknownIntrinsic reports whether err is an ErrUnknownIntrinsic error.
func IsUnknownIntrinsic(err error) bool { return kindOf(err, ErrUnknownIntrinsic) }

// IsMalformedNode reports whether err is an ErrMalformedNode error.
func IsMalformedNode(err error) bool { return kindOf(err, ErrMalformedNode) }

// IsScopeImbalance reports whether err is an ErrScopeImbalance error.
func IsScopeImbalance(err error) bool { return kindOf(err, ErrScopeImbalance) }

// IsUnsupported reports whether err is an ErrUnsupported error.
func IsUnsupported(err error) bool { return kindOf(err, ErrUnsupported) }

// IsInternal reports whether err is an ErrInternal error.
func IsInternal(err error) bool { return kindOf(err, ErrInternal) }

// IsUnboundName reports whether err is an ErrUnboundName error.
func IsUnboundName(err error) bool { return kindOf(err, ErrUnboundName) }

// Raise aborts code generation from inside a backend callback. Backends
// use it for constructs they cannot express; LowerModule turns it into an
// ordinary error.
func Raise(kind ErrorKind, node any, format string, args ...any) {
	fail(kind, node, "", format, args...)
}
