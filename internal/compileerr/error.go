// Package compileerr defines the compile-time error taxonomy shared by
// every stage of the pipeline: malformed trees, unsupported constructs,
// and the two are never conflated, so a caller can distinguish a bug in
// the tree it built from a tree the current emitter substrate simply
// cannot realize.
package compileerr

import "fmt"

// Kind classifies a compile-time failure.
type Kind int

const (
	// KindMalformedTree means the tree itself is invalid: a variable used
	// outside its declaring scope, a Catch filter referencing an
	// undeclared variable, a Goto with no matching Label, a Lambda whose
	// body type is incompatible with its declared return type.
	KindMalformedTree Kind = iota
	// KindUnsupportedConstruct means the tree is well-formed but the
	// current emitter substrate cannot realize one of its nodes.
	KindUnsupportedConstruct
)

func (k Kind) String() string {
	if k == KindUnsupportedConstruct {
		return "unsupported construct"
	}
	return "malformed tree"
}

// Error is the single error type every stage returns for a compile-time
// failure. It is fatal to the compilation: the core never retries and
// leaves no partial artifact installed.
type Error struct {
	Kind  Kind
	Stage string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Msg)
}

// MalformedTree builds a KindMalformedTree error attributed to stage.
func MalformedTree(stage, format string, args ...interface{}) *Error {
	return &Error{Kind: KindMalformedTree, Stage: stage, Msg: fmt.Sprintf(format, args...)}
}

// Unsupported builds a KindUnsupportedConstruct error attributed to stage.
func Unsupported(stage, format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnsupportedConstruct, Stage: stage, Msg: fmt.Sprintf(format, args...)}
}
