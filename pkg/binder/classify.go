package binder

import (
	"lambdac/pkg/scanner"
	"lambdac/pkg/tree"
)

// runPass2 turns the reference data pass1 collected into a StorageKind per
// variable and a ClosureLayout per lambda that needs one.
func runPass2(p1 *pass1) *Result {
	kinds := make(map[*tree.Variable]StorageKind, len(p1.declLam))
	for v, lam := range p1.declLam {
		kinds[v] = classify(p1, v, lam)
	}
	closures := buildClosures(p1, kinds)
	return &Result{
		kinds:    kinds,
		declLam:  p1.declLam,
		closures: closures,
	}
}

// classify applies the storage rule: quote-referenced wins first (a
// quote always needs to read and write through a Cell, whatever else is
// true of the variable), then capture-by-nested-lambda or
// runtime-variables membership forces hoisting, and otherwise the variable
// stays exactly where it was declared.
func classify(p1 *pass1, v *tree.Variable, lam *tree.Node) StorageKind {
	captured := isCaptured(p1, v, lam)
	switch {
	case p1.quoteRef[v] && captured:
		return HoistedBoxed
	case p1.quoteRef[v]:
		return Boxed
	case p1.runtimeRef[v] || captured:
		return Hoisted
	case isParam(lam, v):
		return Argument
	default:
		return Local
	}
}

// isCaptured reports whether v, declared in lam, is read or written from
// any lambda other than lam itself.
func isCaptured(p1 *pass1, v *tree.Variable, lam *tree.Node) bool {
	for useLam := range p1.usedIn[v] {
		if useLam != lam {
			return true
		}
	}
	return false
}

func isParam(lam *tree.Node, v *tree.Variable) bool {
	for _, p := range lam.Params {
		if p == v {
			return true
		}
	}
	return false
}

// buildClosures computes, for every lambda pass1 visited, the set of its
// own hoisted variables in declaration order and whether it needs a
// back-reference field to its enclosing lambda's closure record. A lambda
// that hoists nothing and never reaches outside itself gets no layout at
// all (Closure returns nil for it).
func buildClosures(p1 *pass1, kinds map[*tree.Variable]StorageKind) map[*tree.Node]*ClosureLayout {
	layouts := make(map[*tree.Node]*ClosureLayout, len(p1.allLambdas))
	for _, lam := range p1.allLambdas {
		var fields []*tree.Variable
		for _, v := range p1.declOrder[lam] {
			if kinds[v].IsHoisted() {
				fields = append(fields, v)
			}
		}
		needsParent := len(scanner.FreeVariables(lam)) > 0
		if len(fields) == 0 && !needsParent {
			continue
		}
		layouts[lam] = &ClosureLayout{
			Lambda:      lam,
			Fields:      fields,
			NeedsParent: needsParent,
		}
	}
	for _, lam := range p1.allLambdas {
		layout, ok := layouts[lam]
		if !ok || !layout.NeedsParent {
			continue
		}
		layout.Parent = layouts[p1.parentLambda[lam]]
	}
	return layouts
}
