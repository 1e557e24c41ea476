// Package runtimevars implements the runtime-variables facility: a
// packed (parent-depth, field-index) table and the helper that walks a
// closure chain to resolve each entry against a live closure.Record.
package runtimevars

import "lambdac/pkg/closure"

// Table is the constant-pool payload for a RuntimeVariables node: one
// packed entry per listed variable, in the order the node lists them. High 32 bits are
// the parent depth to walk from the accessing closure record, low 32 bits
// are the field index within the record found at that depth.
type Table []int64

// Pack combines a parent depth and field index into one table entry.
func Pack(parentDepth, fieldIndex int) int64 {
	return int64(uint32(parentDepth))<<32 | int64(uint32(fieldIndex))
}

func unpack(entry int64) (parentDepth, fieldIndex int) {
	return int(uint32(entry >> 32)), int(uint32(entry))
}

// NewTable builds a Table from (parentDepth, fieldIndex) pairs, in order.
func NewTable(pairs ...[2]int) Table {
	t := make(Table, len(pairs))
	for i, p := range pairs {
		t[i] = Pack(p[0], p[1])
	}
	return t
}

// IRuntimeVariables is the index-addressable, polymorphic read/write view a
// RuntimeVariables node evaluates to, whatever backend produced it: the
// compiled backend returns a *Variables resolving through a closure chain,
// the reference interpreter returns its own cell-backed implementation.
type IRuntimeVariables interface {
	Count() int
	Get(i int) interface{}
	Set(i int, value interface{})
}

// Variables is the runtime handle a RuntimeVariables node evaluates to: an
// index-addressable, polymorphic read/write view over the variables table
// names, resolved against locals, the closure.Record of the lambda
// invocation that created it.
type Variables struct {
	locals *closure.Record
	table  Table
}

// CreateRuntimeVariables binds table against locals, the closure chain of
// the invocation currently executing the RuntimeVariables node. Emitted
// code calls this by fixed method handle.
func CreateRuntimeVariables(locals *closure.Record, table Table) *Variables {
	return &Variables{locals: locals, table: table}
}

// Count returns the number of variables exposed.
func (v *Variables) Count() int {
	return len(v.table)
}

// Get returns the boxed value of the i-th exposed variable.
func (v *Variables) Get(i int) interface{} {
	depth, field := unpack(v.table[i])
	return v.locals.Ancestor(depth).Get(field)
}

// Set writes value into the i-th exposed variable, through the same
// closure-record field the defining lambda itself reads and writes.
func (v *Variables) Set(i int, value interface{}) {
	depth, field := unpack(v.table[i])
	v.locals.Ancestor(depth).Set(field, value)
}

// MergeRuntimeVariables concatenates a's and b's tables into a single
// handle exposing a's variables first, then b's, by index. Both must have
// been created against the same closure chain.
func MergeRuntimeVariables(a, b *Variables) *Variables {
	if a.locals != b.locals {
		panic("runtimevars: cannot merge variables bound to different closure chains")
	}
	merged := make(Table, 0, len(a.table)+len(b.table))
	merged = append(merged, a.table...)
	merged = append(merged, b.table...)
	return &Variables{locals: a.locals, table: merged}
}
