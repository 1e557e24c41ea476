package validate

import (
	"reflect"
	"testing"

	"lambdac/pkg/tree"
)

var intType = reflect.TypeOf(int64(0))

func TestTreeAcceptsWellFormedLambda(t *testing.T) {
	x := tree.NewVariable("x", intType)
	lam := tree.Lambda("id", []*tree.Variable{x}, tree.Parameter(x), intType)
	if err := Tree(lam); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTreeRejectsVariableOutsideScope(t *testing.T) {
	x := tree.NewVariable("x", intType)
	lam := tree.Lambda("bad", nil, tree.Parameter(x), intType)
	if err := Tree(lam); err == nil {
		t.Fatal("expected error for variable used outside its declaring scope")
	}
}

func TestTreeRejectsGotoWithoutLabel(t *testing.T) {
	target := &tree.LabelTarget{Name: "L"}
	body := tree.Block(nil, tree.Goto(target, tree.GotoPlain))
	lam := tree.Lambda("bad", nil, body, nil)
	if err := Tree(lam); err == nil {
		t.Fatal("expected error for unmatched Goto")
	}
}

func TestTreeAcceptsGotoWithLabel(t *testing.T) {
	target := &tree.LabelTarget{Name: "L"}
	body := tree.Block(nil, tree.Label(target), tree.Goto(target, tree.GotoPlain))
	lam := tree.Lambda("ok", nil, body, nil)
	if err := Tree(lam); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTreeRejectsCatchFilterReferencingUndeclaredVariable(t *testing.T) {
	stray := tree.NewVariable("stray", intType)
	excVar := tree.NewVariable("e", reflect.TypeOf((*error)(nil)).Elem())
	catch := &tree.CatchBlock{
		Variable: excVar,
		Filter:   tree.Parameter(stray),
		Body:     tree.Constant(int64(0), nil),
	}
	body := tree.Try(tree.Constant(int64(1), nil), []*tree.CatchBlock{catch}, nil, nil)
	lam := tree.Lambda("bad", nil, body, intType)
	if err := Tree(lam); err == nil {
		t.Fatal("expected error for catch filter referencing undeclared variable")
	}
}

func TestTreeAcceptsCatchFilterReferencingExceptionVariable(t *testing.T) {
	excVar := tree.NewVariable("e", reflect.TypeOf((*error)(nil)).Elem())
	catch := &tree.CatchBlock{
		Variable: excVar,
		Filter:   tree.Parameter(excVar),
		Body:     tree.Constant(int64(0), nil),
	}
	body := tree.Try(tree.Constant(int64(1), nil), []*tree.CatchBlock{catch}, nil, nil)
	lam := tree.Lambda("ok", nil, body, intType)
	if err := Tree(lam); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
