package runtimevars

import (
	"reflect"
	"testing"

	"lambdac/pkg/closure"
)

var intType = reflect.TypeOf(int64(0))
var boolType = reflect.TypeOf(false)
var strType = reflect.TypeOf("")

func TestGetAndSetResolveThroughDepthZero(t *testing.T) {
	shape := closure.ShapeOf([]reflect.Type{boolType, intType, strType})
	locals := closure.New(shape, nil)
	locals.Set(0, true)
	locals.Set(1, int64(7))
	locals.Set(2, "hi")

	// Expose (z, x, y) at indices 0, 1, 2.
	table := NewTable([2]int{0, 2}, [2]int{0, 0}, [2]int{0, 1})
	vars := CreateRuntimeVariables(locals, table)

	if got := vars.Get(0); got != "hi" {
		t.Fatalf("index 0 should read z, got %v", got)
	}
	vars.Set(0, "bye")
	if got := locals.Get(2); got != "bye" {
		t.Fatalf("writing index 0 should update z's field, got %v", got)
	}

	vars.Set(1, false)
	if got := locals.Get(0); got != false {
		t.Fatalf("writing index 1 should update x's field, got %v", got)
	}
}

func TestGetWalksParentChainByDepth(t *testing.T) {
	shape := closure.ShapeOf([]reflect.Type{intType})
	outer := closure.New(shape, nil)
	outer.Set(0, int64(99))
	inner := closure.New(shape, outer)

	table := NewTable([2]int{1, 0})
	vars := CreateRuntimeVariables(inner, table)

	if got := vars.Get(0); got != int64(99) {
		t.Fatalf("expected depth-1 lookup to reach the outer record, got %v", got)
	}
}

func TestMergeRuntimeVariablesConcatenatesInOrder(t *testing.T) {
	shape := closure.ShapeOf([]reflect.Type{intType, intType})
	locals := closure.New(shape, nil)
	locals.Set(0, int64(1))
	locals.Set(1, int64(2))

	a := CreateRuntimeVariables(locals, NewTable([2]int{0, 0}))
	b := CreateRuntimeVariables(locals, NewTable([2]int{0, 1}))
	merged := MergeRuntimeVariables(a, b)

	if merged.Count() != 2 {
		t.Fatalf("expected 2 entries, got %d", merged.Count())
	}
	if merged.Get(0) != int64(1) || merged.Get(1) != int64(2) {
		t.Fatalf("expected merged order a-then-b, got %v, %v", merged.Get(0), merged.Get(1))
	}
}

func TestMergeRuntimeVariablesRejectsDifferentChains(t *testing.T) {
	shape := closure.ShapeOf([]reflect.Type{intType})
	a := CreateRuntimeVariables(closure.New(shape, nil), NewTable([2]int{0, 0}))
	b := CreateRuntimeVariables(closure.New(shape, nil), NewTable([2]int{0, 0}))

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic merging variables from different closure chains")
		}
	}()
	MergeRuntimeVariables(a, b)
}
