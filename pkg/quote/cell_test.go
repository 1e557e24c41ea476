package quote

import (
	"reflect"
	"testing"

	"lambdac/pkg/tree"
)

var intType = reflect.TypeOf(int64(0))

func TestHoistedLocalsAddIsIdempotentPerVariable(t *testing.T) {
	h := NewHoistedLocals()
	x := tree.NewVariable("x", intType)
	c1 := &tree.Cell{Type: intType}
	c2 := &tree.Cell{Type: intType}

	h.Add(x, c1)
	h.Add(x, c2) // same variable again, should not replace c1

	got, ok := h.CellFor(x)
	if !ok || got != c1 {
		t.Fatalf("expected the first cell registered for x to stick, got %v", got)
	}
	if h.Count() != 1 {
		t.Fatalf("expected 1 cell, got %d", h.Count())
	}
}

func TestQuoteRebindsFreeVariableToCellRef(t *testing.T) {
	x := tree.NewVariable("x", intType)
	cell := &tree.Cell{Type: intType, Value: int64(7)}
	env := NewHoistedLocals()
	env.Add(x, cell)

	quoted := tree.Binary(tree.OpAdd, tree.Parameter(x), tree.Constant(int64(1), nil), intType)
	rebound := Quote(quoted, env)

	if rebound.Left.Kind != tree.KindCellRef {
		t.Fatalf("expected left operand rebound to a CellRef, got %v", rebound.Left.Kind)
	}
	if rebound.Left.CellRef != cell {
		t.Fatal("expected the CellRef to alias the registered cell")
	}
	if rebound.Right.Kind != tree.KindConstant {
		t.Fatalf("expected right operand untouched, got %v", rebound.Right.Kind)
	}
}

func TestQuoteLeavesUnrelatedSubtreesUnchangedByPointer(t *testing.T) {
	x := tree.NewVariable("x", intType)
	y := tree.NewVariable("y", intType)
	env := NewHoistedLocals()
	env.Add(x, &tree.Cell{Type: intType})

	untouched := tree.Parameter(y)
	quoted := tree.Binary(tree.OpAdd, tree.Parameter(x), untouched, intType)
	rebound := Quote(quoted, env)

	if rebound.Right != untouched {
		t.Fatal("expected the unrelated right operand to be returned by identity")
	}
}

func TestQuoteIsNoOpWhenNoVariablesCaptured(t *testing.T) {
	quoted := tree.Constant(int64(5), nil)
	env := NewHoistedLocals()
	rebound := Quote(quoted, env)

	if rebound != quoted {
		t.Fatal("expected a tree with nothing to rebind to come back unchanged by identity")
	}
}

func TestQuoteDoesNotDescendIntoNestedQuote(t *testing.T) {
	x := tree.NewVariable("x", intType)
	env := NewHoistedLocals()
	env.Add(x, &tree.Cell{Type: intType})

	nested := tree.Quote(tree.Parameter(x), reflect.TypeOf((*tree.Node)(nil)))
	outer := tree.Block(nil, nested)
	rebound := Quote(outer, env)

	if rebound.Stmts[0] != nested {
		t.Fatal("expected a nested Quote to be left opaque, not rebound")
	}
}
