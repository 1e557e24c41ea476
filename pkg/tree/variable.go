package tree

import "reflect"

// Variable is a value binding with a static type and a by-reference flag.
// Identity is by pointer: two Variables are the same binding iff they are
// the same *Variable, never by comparing Name. Each Variable is declared in
// exactly one enclosing scope (a Block's Locals, a Lambda's Params, or a
// CatchBlock's Variable) and every use lexically nested inside that scope.
type Variable struct {
	Name  string
	Type  reflect.Type
	ByRef bool
}

// NewVariable creates a fresh variable binding. Two calls with identical
// Name and Type still produce distinct bindings, since identity is by
// pointer.
func NewVariable(name string, typ reflect.Type) *Variable {
	return &Variable{Name: name, Type: typ}
}

// NewByRefVariable creates a by-reference variable binding.
func NewByRefVariable(name string, typ reflect.Type) *Variable {
	return &Variable{Name: name, Type: typ, ByRef: true}
}
