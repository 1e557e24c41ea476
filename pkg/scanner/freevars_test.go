package scanner

import (
	"reflect"
	"testing"

	"lambdac/pkg/tree"
)

var intType = reflect.TypeOf(int64(0))

func TestFreeVariablesOfPlainConstant(t *testing.T) {
	if got := FreeVariables(tree.Constant(int64(1), nil)); len(got) != 0 {
		t.Fatalf("expected no free variables, got %v", got)
	}
}

func TestFreeVariablesCapturesOuterParameter(t *testing.T) {
	x := tree.NewVariable("x", intType)
	body := tree.Binary(tree.OpAdd, tree.Parameter(x), tree.Constant(int64(1), nil), intType)
	got := FreeVariables(body)
	if len(got) != 1 || got[0] != x {
		t.Fatalf("expected [x], got %v", got)
	}
}

func TestFreeVariablesExcludesBlockLocal(t *testing.T) {
	x := tree.NewVariable("x", intType)
	body := tree.Block([]*tree.Variable{x},
		tree.Assign(tree.Parameter(x), tree.Constant(int64(1), nil)),
		tree.Parameter(x),
	)
	if got := FreeVariables(body); len(got) != 0 {
		t.Fatalf("expected no free variables (x is locally bound), got %v", got)
	}
}

func TestFreeVariablesExcludesLambdaParam(t *testing.T) {
	x := tree.NewVariable("x", intType)
	y := tree.NewVariable("y", intType)
	inner := tree.Lambda("inner", []*tree.Variable{x}, tree.Binary(tree.OpAdd, tree.Parameter(x), tree.Parameter(y), intType), intType)
	got := FreeVariables(inner)
	if len(got) != 1 || got[0] != y {
		t.Fatalf("expected [y] (x is a bound parameter), got %v", got)
	}
}

func TestFreeVariablesDeduplicates(t *testing.T) {
	x := tree.NewVariable("x", intType)
	body := tree.Binary(tree.OpAdd, tree.Parameter(x), tree.Parameter(x), intType)
	got := FreeVariables(body)
	if len(got) != 1 {
		t.Fatalf("expected a single deduplicated entry, got %v", got)
	}
}
