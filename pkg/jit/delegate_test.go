package jit

import (
	"reflect"
	"testing"

	"lambdac/pkg/emit"
	"lambdac/pkg/tree"
)

var intType = reflect.TypeOf(int64(0))

func addMethod(t *testing.T) *emit.Method {
	t.Helper()
	b := emit.NewMethodBuilder("add", 2, true)
	b.Emit(emit.Instruction{Op: emit.OpLoadArg, A: 0})
	b.Emit(emit.Instruction{Op: emit.OpLoadArg, A: 1})
	b.Emit(emit.Instruction{Op: emit.OpBinary, BinOp: tree.OpAdd})
	b.Emit(emit.Instruction{Op: emit.OpRet})
	m, err := b.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	return m
}

func addLambda() *tree.Node {
	x := tree.NewVariable("x", intType)
	y := tree.NewVariable("y", intType)
	return tree.Lambda("add", []*tree.Variable{x, y},
		tree.Binary(tree.OpAdd, tree.Parameter(x), tree.Parameter(y), intType), intType)
}

func TestInvokeChecksArity(t *testing.T) {
	c := Bind(addMethod(t), nil, addLambda())
	if _, err := c.Invoke(int64(1)); err == nil {
		t.Fatal("expected an arity error for a missing argument")
	}
	out, err := c.Invoke(int64(1), int64(2))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != int64(3) {
		t.Fatalf("expected 3, got %v", out)
	}
}

func TestTypedBuildsSignatureCorrectFunc(t *testing.T) {
	c := Bind(addMethod(t), nil, addLambda())
	fn, ok := c.Typed().(func(int64, int64) int64)
	if !ok {
		t.Fatalf("expected func(int64, int64) int64, got %T", c.Typed())
	}
	if got := fn(20, 22); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestDelegateTypeIsCachedBySignature(t *testing.T) {
	a := DelegateType([]reflect.Type{intType}, intType)
	b := DelegateType([]reflect.Type{intType}, intType)
	if a != b {
		t.Fatal("expected identical signatures to share one cached func type")
	}
	c := DelegateType([]reflect.Type{intType}, nil)
	if c == a {
		t.Fatal("expected a distinct type for a distinct signature")
	}
}
