package codegen

import "sort"

// Scope is a name to value symbol table with strict nesting. Push shadows
// outer bindings of the same name and Pop restores them.
//
// Misuse (popping an unbound name, or a failing Get that must succeed) is
// a defect in the code generator and aborts code generation.
type Scope[T any] struct {
	kind   string
	table  map[string][]T
	pushes int
	pops   int
}

// NewScope returns an empty scope. kind names the table in errors.
func NewScope[T any](kind string) *Scope[T] {
	return &Scope[T]{kind: kind, table: make(map[string][]T)}
}

// Push binds a new innermost occurrence of name.
func (s *Scope[T]) Push(name string, v T) {
	s.table[name] = append(s.table[name], v)
	s.pushes++
}

// Pop removes the innermost binding of name.
func (s *Scope[T]) Pop(name string) {
	stack := s.table[name]
	if len(stack) == 0 {
		fail(ErrScopeImbalance, s.kind, name, "pop of unbound name")
	}
	if len(stack) == 1 {
		delete(s.table, name)
	} else {
		s.table[name] = stack[:len(stack)-1]
	}
	s.pops++
}

// Get returns the innermost binding of name. When the name is unbound, Get
// aborts code generation if mustSucceed is set and otherwise returns the
// zero value and false.
func (s *Scope[T]) Get(name string, mustSucceed bool) (T, bool) {
	stack := s.table[name]
	if len(stack) == 0 {
		if mustSucceed {
			fail(ErrUnboundName, s.kind, name, "symbol not found")
		}
		var zero T
		return zero, false
	}
	return stack[len(stack)-1], true
}

// Value returns the innermost binding of a name that must be bound.
func (s *Scope[T]) Value(name string) T {
	v, _ := s.Get(name, true)
	return v
}

// Contains reports whether name has a binding.
func (s *Scope[T]) Contains(name string) bool {
	return len(s.table[name]) > 0
}

// Len returns the number of live bindings, counting shadowed ones.
func (s *Scope[T]) Len() int {
	n := 0
	for _, stack := range s.table {
		n += len(stack)
	}
	return n
}

// Names returns the bound names in sorted order.
func (s *Scope[T]) Names() []string {
	names := make([]string, 0, len(s.table))
	for name := range s.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns the total number of pushes and pops performed.
func (s *Scope[T]) Stats() (pushes, pops int) {
	return s.pushes, s.pops
}
