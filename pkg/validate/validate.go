// Package validate checks the malformed-tree conditions the compiler
// itself must reject before going further: a Goto with no reachable
// matching Label, a Catch filter referencing a variable not in scope, and
// a variable used outside its declaring scope's lexical extent.
//
// A full tree validator (type-checking a Lambda's body against its declared
// return type, checking Call arity against a MethodHandle) remains the
// tree producer's responsibility; this package only guards the conditions
// the later passes would otherwise fail on less legibly (an unresolved
// Goto target inside the emitter, say).
package validate

import (
	"lambdac/internal/compileerr"
	"lambdac/pkg/tree"
)

const stage = "validate"

// scopeEntry is a constraint-style record: a variable's declaring scope
// depth. A use recorded while the declaring scope is no longer open is a
// violation.
type scopeEntry struct {
	depth int
}

// Tree validates a single top-level lambda's body. It does not descend
// into a nested Quote's Quoted sub-tree (quotes are validated independently
// when they are themselves compiled).
func Tree(lambda *tree.Node) error {
	if lambda == nil || lambda.Kind != tree.KindLambda {
		return compileerr.MalformedTree(stage, "Tree requires a Lambda node, got %v", kindOf(lambda))
	}
	v := &validator{
		declared: make(map[*tree.Variable]scopeEntry),
		labels:   make(map[*tree.LabelTarget]bool),
		goto_:    nil,
	}
	for _, p := range lambda.Params {
		v.declared[p] = scopeEntry{depth: 0}
	}
	if err := v.walk(lambda.Body, 0); err != nil {
		return err
	}
	for _, g := range v.goto_ {
		if !v.labels[g] {
			return compileerr.MalformedTree(stage, "Goto has no matching Label in scope")
		}
	}
	return nil
}

type validator struct {
	declared map[*tree.Variable]scopeEntry
	labels   map[*tree.LabelTarget]bool
	goto_    []*tree.LabelTarget
}

func (v *validator) walk(n *tree.Node, depth int) error {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case tree.KindParameter:
		if _, ok := v.declared[n.Var]; !ok {
			return compileerr.MalformedTree(stage, "variable %q used outside its declaring scope", n.Var.Name)
		}
	case tree.KindBlock:
		for _, loc := range n.Locals {
			v.declared[loc] = scopeEntry{depth: depth + 1}
		}
		for _, s := range n.Stmts {
			if err := v.walk(s, depth+1); err != nil {
				return err
			}
		}
		for _, loc := range n.Locals {
			delete(v.declared, loc)
		}
		return nil
	case tree.KindLabel:
		v.labels[n.Label] = true
		return nil
	case tree.KindGoto:
		v.goto_ = append(v.goto_, n.Label)
		return nil
	case tree.KindLoop:
		// A Loop's break and continue targets are label definitions too.
		if n.Break != nil {
			v.labels[n.Break] = true
		}
		if n.Continue != nil {
			v.labels[n.Continue] = true
		}
	case tree.KindTry:
		if err := v.walk(n.Body, depth+1); err != nil {
			return err
		}
		for _, c := range n.Catches {
			if c.Variable != nil {
				v.declared[c.Variable] = scopeEntry{depth: depth + 1}
			}
			if c.Filter != nil {
				if err := v.checkFilter(c); err != nil {
					return err
				}
				if err := v.walk(c.Filter, depth+1); err != nil {
					return err
				}
			}
			if err := v.walk(c.Body, depth+1); err != nil {
				return err
			}
			if c.Variable != nil {
				delete(v.declared, c.Variable)
			}
		}
		if n.Finally != nil {
			if err := v.walk(n.Finally, depth+1); err != nil {
				return err
			}
		}
		if n.Fault != nil {
			if err := v.walk(n.Fault, depth+1); err != nil {
				return err
			}
		}
		return nil
	case tree.KindLambda:
		// Entering a nested lambda's own body is this stage's concern only
		// insofar as free-variable references into the outer scope must
		// still resolve; param shadowing is scoped to the nested walk.
		saved := make(map[*tree.Variable]scopeEntry, len(n.Params))
		for _, p := range n.Params {
			if old, ok := v.declared[p]; ok {
				saved[p] = old
			}
			v.declared[p] = scopeEntry{depth: depth + 1}
		}
		err := v.walk(n.Body, depth+1)
		for _, p := range n.Params {
			if old, ok := saved[p]; ok {
				v.declared[p] = old
			} else {
				delete(v.declared, p)
			}
		}
		return err
	case tree.KindQuote:
		return nil // independently validated when the quote is compiled
	}
	for _, c := range n.Children() {
		if err := v.walk(c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// checkFilter rejects a Catch filter that references a variable not in
// scope, i.e. neither the Catch's own exception variable nor a variable
// already in the validator's declared set when the Catch was entered. The rejection is reported through the same KindMalformedTree
// taxonomy as every other invalid-operation condition.
func (v *validator) checkFilter(c *tree.CatchBlock) error {
	var firstUndeclared *tree.Variable
	tree.Walk(c.Filter, func(n *tree.Node) bool {
		if n.Kind == tree.KindParameter {
			if _, ok := v.declared[n.Var]; !ok && firstUndeclared == nil {
				firstUndeclared = n.Var
			}
		}
		return true
	})
	if firstUndeclared != nil {
		return compileerr.MalformedTree(stage, "catch filter references undeclared variable %q", firstUndeclared.Name)
	}
	return nil
}

func kindOf(n *tree.Node) tree.Kind {
	if n == nil {
		return -1
	}
	return n.Kind
}
