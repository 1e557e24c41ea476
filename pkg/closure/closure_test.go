package closure

import (
	"reflect"
	"testing"
)

var intType = reflect.TypeOf(int64(0))
var strType = reflect.TypeOf("")

func TestNewRecordZeroesFields(t *testing.T) {
	shape := ShapeOf([]reflect.Type{intType, strType})
	r := New(shape, nil)
	if r.Count() != 2 {
		t.Fatalf("expected arity 2, got %d", r.Count())
	}
	if got := r.Get(0); got != int64(0) {
		t.Fatalf("expected zero int64, got %v", got)
	}
	if got := r.Get(1); got != "" {
		t.Fatalf("expected zero string, got %q", got)
	}
}

func TestSetAndGetRoundTrip(t *testing.T) {
	shape := ShapeOf([]reflect.Type{intType})
	r := New(shape, nil)
	r.Set(0, int64(42))
	if got := r.Get(0); got != int64(42) {
		t.Fatalf("expected 42, got %v", got)
	}
}

func TestSetRejectsWrongType(t *testing.T) {
	shape := ShapeOf([]reflect.Type{intType})
	r := New(shape, nil)
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic setting a string into an int64 field")
		}
	}()
	r.Set(0, "nope")
}

func TestParentChainWalksByDepth(t *testing.T) {
	shape := ShapeOf([]reflect.Type{intType})
	grandparent := New(shape, nil)
	parent := New(shape, grandparent)
	child := New(shape, parent)

	if child.Ancestor(0) != child {
		t.Fatal("depth 0 should be the record itself")
	}
	if child.Ancestor(1) != parent {
		t.Fatal("depth 1 should be the parent")
	}
	if child.Ancestor(2) != grandparent {
		t.Fatal("depth 2 should be the grandparent")
	}
}

func TestShapeOfIsCachedByFields(t *testing.T) {
	a := ShapeOf([]reflect.Type{intType, strType})
	b := ShapeOf([]reflect.Type{intType, strType})
	if a != b {
		t.Fatal("expected identical field-type slices to share a cached shape")
	}
}

func TestIndexOutOfRangePanics(t *testing.T) {
	shape := ShapeOf([]reflect.Type{intType})
	r := New(shape, nil)
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic indexing out of range")
		}
	}()
	r.Get(5)
}
