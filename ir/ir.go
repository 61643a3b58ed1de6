package ir

import "fmt"

// UserContextName is the argument name recognised as the opaque runtime
// context. When a function declares it, its value is threaded through to
// every runtime call that consumes a context.
const UserContextName = "__user_context"

// Module is a set of functions compiled together.
type Module struct {
	// Name identifies the module in generated output.
	Name string

	// Functions holds every top-level function.
	Functions []Function
}

// ArgKind distinguishes buffer arguments from scalar arguments.
type ArgKind uint8

const (
	// ScalarArg is passed by value.
	ScalarArg ArgKind = iota
	// BufferArg is passed as a pointer to a buffer descriptor.
	BufferArg
)

// Argument is one parameter of a generated function.
type Argument struct {
	Name string
	Kind ArgKind
	// Type is the value type of a scalar argument, or the element type of a
	// buffer argument.
	Type Type
}

// IsBuffer reports whether the argument is a buffer descriptor.
func (a Argument) IsBuffer() bool { return a.Kind == BufferArg }

// Function is a generated function. Every generated function returns an
// int32 status code: zero on success, non-zero on failure.
type Function struct {
	Name string
	Args []Argument
	Body Stmt
}

// HasUserContext reports whether the function declares the context argument.
func (f *Function) HasUserContext() bool {
	for _, a := range f.Args {
		if a.Name == UserContextName {
			return true
		}
	}
	return false
}

// Function returns the function called name.
func (m *Module) Function(name string) (*Function, error) {
	for i := range m.Functions {
		if m.Functions[i].Name == name {
			return &m.Functions[i], nil
		}
	}
	return nil, fmt.Errorf("function %q not found", name)
}

// Buffer returns a buffer argument with element type elem.
func Buffer(name string, elem Type) Argument {
	return Argument{Name: name, Kind: BufferArg, Type: elem}
}

// Scalar returns a scalar argument.
func Scalar(name string, t Type) Argument {
	return Argument{Name: name, Kind: ScalarArg, Type: t}
}

// UserContext returns the context argument.
func UserContext() Argument {
	return Scalar(UserContextName, HandleType())
}
