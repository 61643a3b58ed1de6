// Package ir defines the intermediate representation consumed by the kiln
// code generators.
//
// The IR is a typed tree of immutable expressions and statements describing
// nested loops, buffer accesses and arithmetic. It is produced by a front end
// that has already resolved bounds, simplified expressions and chosen a
// schedule; kiln only lowers it.
//
// # Structure
//
// A Module holds Functions. Each Function has buffer and scalar Arguments
// and a Stmt body. Statement kinds are:
//   - Block, For (serial or parallel), IfThenElse
//   - Allocate / Free for scoped storage
//   - LetStmt, AssertStmt, ProducerConsumer, Evaluate, Store
//
// Expression kinds are constants, Variable, Binary, Compare, Not, Select,
// Load, Ramp, Broadcast, Call, Cast and Let.
//
// # Buffer names
//
// A buffer argument named "in" makes the following names available inside
// the function body:
//
//	in              host pointer (handle)
//	in.buffer       descriptor pointer (handle)
//	in.min.0 ..3    int32
//	in.extent.0 ..3 int32
//	in.stride.0 ..3 int32
//	in.elem_size    int32
//	in.host_dirty   bool
//	in.dev_dirty    bool
//
// # Text form
//
// Print renders a Module as S-expressions; the ir/text package reads them
// back.
package ir
