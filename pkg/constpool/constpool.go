// Package constpool implements the constant allocator: the pass that
// walks a bound-but-not-yet-emitted lambda body and decides which constant
// values and auxiliary run-time objects each non-inlined lambda needs a
// slot for in its bound-constants record, the same record family
// pkg/closure uses for hoisted locals.
package constpool

import (
	"reflect"

	"lambdac/pkg/closure"
)

const stage = "constpool"

// Slot is one entry of a lambda's bound-constants record. A Filled slot
// carries a constant Value discovered by AddReference; an unfilled slot is
// reserved by Allocate for the emitter to populate later (a quote tree, a
// cell-environment, a runtime-variables table, a dynamic call site, or a
// nested lambda's handle/constants-record).
type Slot struct {
	Index    int
	Type     reflect.Type
	Value    interface{}
	Filled   bool
	RefCount int
}

// BoundConstants is the constant pool owned by one lambda. Two calls to
// AddReference with reference-equal values share a slot; Allocate always
// reserves a fresh, unfilled one.
type BoundConstants struct {
	slots    []*Slot
	interned map[interface{}]*Slot
}

func newBoundConstants() *BoundConstants {
	return &BoundConstants{interned: make(map[interface{}]*Slot)}
}

// Slots returns the pool's entries in allocation order, the order their
// record's fields are laid out.
func (bc *BoundConstants) Slots() []*Slot {
	return bc.slots
}

// Count returns the pool's arity.
func (bc *BoundConstants) Count() int {
	return len(bc.slots)
}

// Shape returns the closure.RecordShape this pool's slots describe, so the
// same family that backs hoisted-local closure records can also back this
// lambda's constants record.
func (bc *BoundConstants) Shape() *closure.RecordShape {
	types := make([]reflect.Type, len(bc.slots))
	for i, s := range bc.slots {
		types[i] = s.Type
	}
	return closure.ShapeOf(types)
}

// AddReference records a use of value (of static type typ), interning by
// reference equality when value's shape permits it: two uses of the same
// pointer-identical object, or the same comparable non-pointer value, land
// in the same slot and its RefCount is incremented rather than duplicated.
func (bc *BoundConstants) AddReference(value interface{}, typ reflect.Type) *Slot {
	key, internable := internKey(value)
	if internable {
		if s, ok := bc.interned[key]; ok {
			s.RefCount++
			return s
		}
	}
	s := &Slot{Index: len(bc.slots), Type: typ, Value: value, Filled: true, RefCount: 1}
	bc.slots = append(bc.slots, s)
	if internable {
		bc.interned[key] = s
	}
	return s
}

// Allocate reserves a fresh, unfilled slot of type typ for an auxiliary
// object the emitter builds later. Allocate never interns: two calls always
// produce two distinct slots, even with the same typ.
func (bc *BoundConstants) Allocate(typ reflect.Type) *Slot {
	s := &Slot{Index: len(bc.slots), Type: typ}
	bc.slots = append(bc.slots, s)
	return s
}

// internKey returns the key AddReference interns value under, and whether
// value is internable at all. Pointer-shaped values (the only shapes for
// which two equal-looking values can still be distinct objects worth
// keeping apart) intern by pointer identity; other comparable values intern
// by native equality; anything else (a non-comparable struct or array, for
// instance) is never interned, so every reference gets its own slot.
func internKey(value interface{}) (interface{}, bool) {
	if value == nil {
		return nil, true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, true
		}
		return rv.Pointer(), true
	default:
		if rv.Type().Comparable() {
			return value, true
		}
		return nil, false
	}
}
