package tree

import (
	"reflect"
	"testing"
)

func TestChildrenOrderIsLeftToRight(t *testing.T) {
	x := NewVariable("x", reflect.TypeOf(int64(0)))
	n := Binary(OpAdd, Parameter(x), Constant(int64(1), nil), reflect.TypeOf(int64(0)))
	kids := n.Children()
	if len(kids) != 2 || kids[0].Kind != KindParameter || kids[1].Kind != KindConstant {
		t.Fatalf("unexpected children: %+v", kids)
	}
}

func TestWalkVisitsBlockStatements(t *testing.T) {
	a := Constant(int64(1), nil)
	b := Constant(int64(2), nil)
	block := Block(nil, a, b)

	var seen []*Node
	Walk(block, func(n *Node) bool {
		seen = append(seen, n)
		return true
	})
	if len(seen) != 3 {
		t.Fatalf("expected 3 visited nodes (block + 2 stmts), got %d", len(seen))
	}
}

func TestWalkDoesNotCrossQuoteBoundary(t *testing.T) {
	x := NewVariable("x", reflect.TypeOf(int64(0)))
	inner := Parameter(x)
	q := Quote(inner, reflect.TypeOf((*Node)(nil)))

	var sawInner bool
	Walk(q, func(n *Node) bool {
		if n == inner {
			sawInner = true
		}
		return true
	})
	if sawInner {
		t.Fatal("Walk must not descend into a Quote's Quoted sub-tree")
	}
}

func TestVariableIdentityIsByPointer(t *testing.T) {
	a := NewVariable("x", reflect.TypeOf(int64(0)))
	b := NewVariable("x", reflect.TypeOf(int64(0)))
	if a == b {
		t.Fatal("two distinct NewVariable calls must not be identity-equal")
	}
}
