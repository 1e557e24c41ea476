// Package binder implements the variable binder: a two-pass
// analysis that classifies every variable declared in a lambda tree as
// Argument, Local, Boxed, Hoisted, or HoistedBoxed, and that lays out the
// closure record each lambda needs to carry its hoisted variables plus a
// back-reference to its enclosing lambda's closure record.
package binder

import "lambdac/pkg/tree"

// StorageKind is the post-binder storage classification of a variable.
type StorageKind int

const (
	// Argument is an incoming machine parameter slot; invisible to nested
	// lambdas and to quotes.
	Argument StorageKind = iota
	// Local is a stack slot of the generated function; invisible outside it.
	Local
	// Boxed is a single-field heap cell shared by the emitter and a quote
	// that reads/writes it by reference.
	Boxed
	// Hoisted is an indexed field of the defining lambda's closure record,
	// because a nested lambda captures it.
	Hoisted
	// HoistedBoxed is a boxed cell stored inside a closure field: both
	// captured by a nested lambda and referenced by a quote.
	HoistedBoxed
)

func (k StorageKind) String() string {
	switch k {
	case Argument:
		return "Argument"
	case Local:
		return "Local"
	case Boxed:
		return "Boxed"
	case Hoisted:
		return "Hoisted"
	case HoistedBoxed:
		return "HoistedBoxed"
	default:
		return "Unknown"
	}
}

// IsHoisted reports whether k stores its variable in a closure record field
// (Hoisted or HoistedBoxed).
func (k StorageKind) IsHoisted() bool {
	return k == Hoisted || k == HoistedBoxed
}

// IsBoxed reports whether k routes reads/writes through a Cell (Boxed or
// HoistedBoxed).
func (k StorageKind) IsBoxed() bool {
	return k == Boxed || k == HoistedBoxed
}

// ClosureLayout is the field plan for one lambda's closure record: the
// hoisted variables it carries, in deterministic declaration order, and
// whether it needs a back-reference field (always field index 0 when
// present) to its enclosing lambda's closure record.
type ClosureLayout struct {
	Lambda      *tree.Node
	Fields      []*tree.Variable // declaration order; field i lives at index i+1 if NeedsParent
	NeedsParent bool
	Parent      *ClosureLayout // nil if Lambda is top-level or needs no outer access
}

// Arity is the number of fields the generated closure record needs,
// including the back-reference field when present.
func (l *ClosureLayout) Arity() int {
	if l == nil {
		return 0
	}
	n := len(l.Fields)
	if l.NeedsParent {
		n++
	}
	return n
}

// FieldIndex returns the index within the closure record at which v is
// stored, or -1 if v is not one of l's hoisted fields.
func (l *ClosureLayout) FieldIndex(v *tree.Variable) int {
	if l == nil {
		return -1
	}
	base := 0
	if l.NeedsParent {
		base = 1
	}
	for i, f := range l.Fields {
		if f == v {
			return base + i
		}
	}
	return -1
}

// Result is the side table the binder attaches to a tree: storage
// classification per variable, plus closure layout per lambda.
type Result struct {
	kinds    map[*tree.Variable]StorageKind
	declLam  map[*tree.Variable]*tree.Node
	closures map[*tree.Node]*ClosureLayout
}

// Kind returns v's storage classification. Panics if v was never seen by
// the binder that produced r; callers only ever ask about variables that
// appear in the tree r was built from.
func (r *Result) Kind(v *tree.Variable) StorageKind {
	k, ok := r.kinds[v]
	if !ok {
		panic("binder: variable not classified: " + v.Name)
	}
	return k
}

// DefiningLambda returns the Lambda node that declares v.
func (r *Result) DefiningLambda(v *tree.Variable) *tree.Node {
	return r.declLam[v]
}

// Closure returns the closure layout for lambda, or nil if lambda hoists
// nothing and needs no parent back-reference.
func (r *Result) Closure(lambda *tree.Node) *ClosureLayout {
	return r.closures[lambda]
}

// Bind runs the Variable Binder over root, a top-level Lambda node, and
// every Lambda node nested inside it (inlined or not; inlining is an
// emission-time decision and does not change classification).
func Bind(root *tree.Node) (*Result, error) {
	p1, err := runPass1(root)
	if err != nil {
		return nil, err
	}
	return runPass2(p1), nil
}
