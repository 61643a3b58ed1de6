package ir

import (
	"strings"
	"testing"
)

func storeModule(body Stmt) *Module {
	return &Module{
		Name: "m",
		Functions: []Function{{
			Name: "f",
			Args: []Argument{Buffer("out", I32), Scalar("n", I32), UserContext()},
			Body: body,
		}},
	}
}

func TestValidate_ValidModule(t *testing.T) {
	module := storeModule(For{
		Name:   "x",
		Min:    Var(I32, MinName("out", 0)),
		Extent: Var(I32, "n"),
		Body: Store{
			Name:  "out",
			Value: Binary{Op: Mul, A: Var(I32, "x"), B: Int32(2)},
			Index: Var(I32, "x"),
		},
	})

	errors, err := Validate(module)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if len(errors) > 0 {
		t.Errorf("Valid module has validation errors:")
		for _, e := range errors {
			t.Errorf("  - %s", e.Error())
		}
	}
}

func TestValidate_NilModule(t *testing.T) {
	_, err := Validate(nil)
	if err == nil {
		t.Error("Expected error for nil module, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		body Stmt
		want string
	}{
		{
			name: "unbound variable",
			body: Evaluate{Value: Var(I32, "y")},
			want: "unbound name",
		},
		{
			name: "mismatched operands",
			body: Evaluate{Value: Binary{Op: Add, A: Int32(1), B: FloatImm{T: F32, Value: 1}}},
			want: "operand types differ",
		},
		{
			name: "vector atomic store",
			body: Store{
				Name:   "out",
				Value:  Broadcast{Value: Int32(1), Lanes: 4},
				Index:  Ramp{Base: Int32(0), Stride: Int32(1), Lanes: 4},
				Atomic: true,
			},
			want: "atomic stores must be scalar",
		},
		{
			name: "free without allocation",
			body: Free{Name: "tmp"},
			want: "no enclosing allocation",
		},
		{
			name: "index lanes",
			body: Store{Name: "out", Value: Int32(1), Index: Ramp{Base: Int32(0), Stride: Int32(1), Lanes: 4}},
			want: "index must be i32 with 1 lanes",
		},
		{
			name: "divide by zero",
			body: Evaluate{Value: Binary{Op: Div, A: Var(I32, "n"), B: Int32(0)}},
			want: "division by constant zero",
		},
		{
			name: "vector if",
			body: IfThenElse{
				Cond: Compare{Op: LT, A: Broadcast{Value: Int32(0), Lanes: 2}, B: Broadcast{Value: Int32(1), Lanes: 2}},
				Then: Evaluate{Value: Int32(0)},
			},
			want: "condition must be a scalar bool",
		},
		{
			name: "handle cast",
			body: Evaluate{Value: Cast{T: F32, Value: Var(HandleType(), "out")}},
			want: "pointer-width unsigned",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errors, err := Validate(storeModule(tt.body))
			if err != nil {
				t.Fatalf("Validate returned error: %v", err)
			}
			for _, e := range errors {
				if strings.Contains(e.Error(), tt.want) {
					return
				}
			}
			t.Errorf("expected an error containing %q, got %v", tt.want, errors)
		})
	}
}

func TestValidate_ScopesEndWithTheirStatement(t *testing.T) {
	module := storeModule(Block{Stmts: []Stmt{
		LetStmt{Name: "k", Value: Int32(3), Body: Evaluate{Value: Var(I32, "k")}},
		Evaluate{Value: Var(I32, "k")},
	}})

	errors, _ := Validate(module)
	if len(errors) != 1 {
		t.Fatalf("expected exactly one error, got %v", errors)
	}
	if errors[0].Function != "f" || errors[0].Node != "k" {
		t.Errorf("unexpected error context: %+v", errors[0])
	}
}
