// Package closure implements the closure record factory: a family
// of generic record types with boxed, integer-indexed get/set, with one
// shared shape cached per distinct field-type list. The same family backs both the closure record carrying a lambda's
// hoisted locals and the constants record carrying its bound constants.
package closure

import (
	"fmt"
	"reflect"
	"sync"

	"lambdac/internal/envconfig"
)

// RecordShape is the field-type layout shared by every Record built from
// it: arity and the declared type of each field, in index order.
type RecordShape struct {
	Fields []reflect.Type
}

// Arity is the number of fields a record built from this shape has.
func (s *RecordShape) Arity() int {
	return len(s.Fields)
}

var (
	shapeMu    sync.Mutex
	shapeCache = make(map[int]*RecordShape)
	warm       bool
)

// ShapeOf returns the cached RecordShape for fields, building and caching
// a fresh one on first use. Two calls with field-type slices that are
// element-wise equal share the same *RecordShape: a closure record and a
// constants record of identical arity and types are the same shape.
func ShapeOf(fields []reflect.Type) *RecordShape {
	shapeMu.Lock()
	defer shapeMu.Unlock()
	if !warm {
		warmUpLocked()
	}
	for _, s := range shapeCache {
		if sameFields(s.Fields, fields) {
			return s
		}
	}
	s := &RecordShape{Fields: append([]reflect.Type(nil), fields...)}
	shapeCache[len(shapeCache)] = s
	return s
}

// warmUpLocked marks the cache as warmed. It builds no shapes: every shape,
// whatever its arity, is built lazily in ShapeOf the first time a given
// field-type list is requested. The configured arity ceiling is read here
// and discarded; it has no effect on which shapes exist or how they are
// built.
func warmUpLocked() {
	warm = true
	_ = envconfig.PregeneratedClosureArity()
}

func sameFields(a, b []reflect.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Record is a boxed, integer-indexed heap object: the runtime
// representation of both a closure record and a constants record.
// Reads and writes go through Get/Set rather than Go struct fields, since
// the field types are only known at the shape's construction time.
type Record struct {
	shape  *RecordShape
	fields []interface{}
	parent *Record
}

// New allocates a record of shape, with every field set to its declared
// type's zero value, and an optional parent back-reference (field index 0
// is conceptually reserved for it by the caller; New itself just stores
// the pointer, it does not reindex Fields).
func New(shape *RecordShape, parent *Record) *Record {
	fields := make([]interface{}, len(shape.Fields))
	for i, t := range shape.Fields {
		fields[i] = reflect.Zero(t).Interface()
	}
	return &Record{shape: shape, fields: fields, parent: parent}
}

// Count returns the number of fields in the record, matching the
// runtime-variables-style indexer interface every record implements.
func (r *Record) Count() int {
	return len(r.fields)
}

// Get returns the boxed value stored at i.
func (r *Record) Get(i int) interface{} {
	r.checkIndex(i)
	return r.fields[i]
}

// Set unboxes value into field i, which must be assignable to the field's
// declared type.
func (r *Record) Set(i int, value interface{}) {
	r.checkIndex(i)
	want := r.shape.Fields[i]
	if value == nil {
		r.fields[i] = reflect.Zero(want).Interface()
		return
	}
	got := reflect.TypeOf(value)
	if !got.AssignableTo(want) {
		panic(fmt.Sprintf("closure: field %d expects %s, got %s", i, want, got))
	}
	r.fields[i] = value
}

// Parent returns the enclosing lambda's closure record, or nil if this
// record was built without one.
func (r *Record) Parent() *Record {
	return r.parent
}

// FieldType returns the declared type of field i.
func (r *Record) FieldType(i int) reflect.Type {
	r.checkIndex(i)
	return r.shape.Fields[i]
}

func (r *Record) checkIndex(i int) {
	if i < 0 || i >= len(r.fields) {
		panic(fmt.Sprintf("closure: index %d out of range for record of arity %d", i, len(r.fields)))
	}
}

// Ancestor walks depth parent links, returning the closure record that
// depth levels enclose r (depth 0 is r itself). It panics if the chain is
// shorter than depth, which would indicate a binder/emitter mismatch
// rather than a user error.
func (r *Record) Ancestor(depth int) *Record {
	cur := r
	for i := 0; i < depth; i++ {
		if cur == nil || cur.parent == nil {
			panic(fmt.Sprintf("closure: closure chain shorter than requested depth %d", depth))
		}
		cur = cur.parent
	}
	return cur
}
