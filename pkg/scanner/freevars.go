// Package scanner implements the free-variable scanner: given a
// sub-tree and the set of variables bound somewhere inside it, it returns
// every variable the sub-tree references that is *not* bound inside it,
// i.e. every variable it captures from an enclosing scope. The main
// consumers call scanner.FreeVariables on a Quote node's Quoted sub-tree
// to decide whether the quote needs a cell-environment at all, and if so,
// which cells it needs.
package scanner

import "lambdac/pkg/tree"

// FreeVariables returns, in first-use order with duplicates removed, every
// Variable that n references but that is not declared anywhere inside n
// (as a Block local, a Lambda parameter, or a Catch variable).
func FreeVariables(n *tree.Node) []*tree.Variable {
	s := &scan{
		bound: make(map[*tree.Variable]int),
		seen:  make(map[*tree.Variable]bool),
	}
	s.walk(n)
	return s.free
}

// scan carries the running bound-variable multiset (a variable may be
// declared, shadowed, and re-declared at different depths inside the same
// sub-tree) and the free-variable result accumulator: a scope-aware
// recursive walk collecting which variables an expression reads, keyed on
// "declared nowhere in this sub-tree."
type scan struct {
	bound map[*tree.Variable]int // variable -> number of enclosing binders of it within n
	seen  map[*tree.Variable]bool
	free  []*tree.Variable
}

func (s *scan) bind(v *tree.Variable) {
	s.bound[v]++
}

func (s *scan) unbind(v *tree.Variable) {
	s.bound[v]--
	if s.bound[v] == 0 {
		delete(s.bound, v)
	}
}

func (s *scan) walk(n *tree.Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case tree.KindParameter:
		if s.bound[n.Var] == 0 && !s.seen[n.Var] {
			s.seen[n.Var] = true
			s.free = append(s.free, n.Var)
		}
		return
	case tree.KindBlock:
		for _, loc := range n.Locals {
			s.bind(loc)
		}
		for _, stmt := range n.Stmts {
			s.walk(stmt)
		}
		for _, loc := range n.Locals {
			s.unbind(loc)
		}
		return
	case tree.KindLambda:
		for _, p := range n.Params {
			s.bind(p)
		}
		s.walk(n.Body)
		for _, p := range n.Params {
			s.unbind(p)
		}
		return
	case tree.KindTry:
		s.walk(n.Body)
		for _, c := range n.Catches {
			if c.Variable != nil {
				s.bind(c.Variable)
			}
			s.walk(c.Filter)
			s.walk(c.Body)
			if c.Variable != nil {
				s.unbind(c.Variable)
			}
		}
		s.walk(n.Finally)
		s.walk(n.Fault)
		return
	case tree.KindRuntimeVariables:
		for _, v := range n.Vars {
			if s.bound[v] == 0 && !s.seen[v] {
				s.seen[v] = true
				s.free = append(s.free, v)
			}
		}
		return
	case tree.KindQuote:
		// A nested quote's free variables are its own concern; from the
		// perspective of the enclosing scan, any variable it captures
		// that is bound inside n is still one of n's free variables if it
		// crosses n's boundary, so we descend rather than treating Quote
		// as opaque (unlike tree.Walk's default, which stops at Quote for
		// emission purposes).
		s.walk(n.Quoted)
		return
	}
	for _, c := range n.Children() {
		s.walk(c)
	}
}
