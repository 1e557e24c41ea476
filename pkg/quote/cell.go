// Package quote implements the quote facility: at compile time it
// needs nothing beyond the scanner telling it which variables a Quote node
// captures (the variable binder uses that to promote them to Boxed); at
// run time it provides the HoistedLocals cell-environment and the Quote
// helper a generated delegate calls to produce the re-bound tree on
// demand.
package quote

import "lambdac/pkg/tree"

// HoistedLocals is the cell-environment a Quote node's emitted code builds:
// an ordered list of cells, one per free variable of the quoted sub-tree,
// each aliasing the enclosing lambda's storage for that variable.
type HoistedLocals struct {
	vars  []*tree.Variable
	cells []*tree.Cell
}

// NewHoistedLocals creates an empty cell-environment.
func NewHoistedLocals() *HoistedLocals {
	return &HoistedLocals{}
}

// Add registers cell as the shared storage for v, if v is not already
// present. Two quotes in the same lambda that mention the same variable
// must be built against HoistedLocals that return the same cell for it,
// so this is a no-op (not an overwrite) when v is already registered.
func (h *HoistedLocals) Add(v *tree.Variable, cell *tree.Cell) {
	if _, ok := h.CellFor(v); ok {
		return
	}
	h.vars = append(h.vars, v)
	h.cells = append(h.cells, cell)
}

// CellFor returns the cell registered for v, if any.
func (h *HoistedLocals) CellFor(v *tree.Variable) (*tree.Cell, bool) {
	for i, hv := range h.vars {
		if hv == v {
			return h.cells[i], true
		}
	}
	return nil, false
}

// Count returns the number of cells in the environment.
func (h *HoistedLocals) Count() int {
	return len(h.cells)
}

// Cell returns the cell at index i, in the order Add first saw each
// variable, the same order the emitter lays out the cell-environment
// object's own fields.
func (h *HoistedLocals) Cell(i int) *tree.Cell {
	return h.cells[i]
}

// Vars returns the environment's variables in registration order.
func (h *HoistedLocals) Vars() []*tree.Variable {
	return h.vars
}

// Instantiate pairs h's variable layout with live cells, one per variable
// in registration order. The emitter stores a cell-less prototype in the
// constants record at compile time (the layout is the same for every
// invocation) and calls Instantiate from emitted code with the current
// invocation's cells; the prototype itself is never mutated.
func (h *HoistedLocals) Instantiate(cells []*tree.Cell) *HoistedLocals {
	if len(cells) != len(h.vars) {
		panic("quote: cell count does not match the prototype's variable count")
	}
	return &HoistedLocals{
		vars:  h.vars,
		cells: append([]*tree.Cell(nil), cells...),
	}
}

// Quote produces a copy of quoted with every Parameter reference to a
// variable in env re-bound to a CellRef reading/writing env's cell for
// that variable. Sub-trees untouched by rebinding are returned unchanged
// (by pointer) rather than copied, so quoting a large, mostly-closed tree
// is cheap.
func Quote(quoted *tree.Node, env *HoistedLocals) *tree.Node {
	return rebind(quoted, env)
}

func rebind(n *tree.Node, env *HoistedLocals) *tree.Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case tree.KindParameter:
		if cell, ok := env.CellFor(n.Var); ok {
			return tree.CellRef(cell)
		}
		return n

	case tree.KindBlock:
		stmts := rebindAll(n.Stmts, env)
		if !changed(n.Stmts, stmts) {
			return n
		}
		cp := *n
		cp.Stmts = stmts
		return &cp

	case tree.KindLambda:
		// A nested lambda inside a quoted tree is compiled as part of the
		// same independent re-entry into the core when the quote's tree is
		// eventually compiled, so its free variables still need rebinding.
		body := rebind(n.Body, env)
		if body == n.Body {
			return n
		}
		cp := *n
		cp.Body = body
		return &cp

	case tree.KindInvoke:
		target := rebind(n.Target, env)
		args := rebindAll(n.Args, env)
		if target == n.Target && !changed(n.Args, args) {
			return n
		}
		cp := *n
		cp.Target = target
		cp.Args = args
		return &cp

	case tree.KindCall:
		target := rebind(n.Target, env)
		args := rebindAll(n.Args, env)
		if target == n.Target && !changed(n.Args, args) {
			return n
		}
		cp := *n
		cp.Target = target
		cp.Args = args
		return &cp

	case tree.KindNew:
		args := rebindAll(n.Args, env)
		if !changed(n.Args, args) {
			return n
		}
		cp := *n
		cp.Args = args
		return &cp

	case tree.KindAssign:
		left := rebind(n.Left, env)
		right := rebind(n.Right, env)
		if left == n.Left && right == n.Right {
			return n
		}
		cp := *n
		cp.Left = left
		cp.Right = right
		return &cp

	case tree.KindBinary:
		left := rebind(n.Left, env)
		right := rebind(n.Right, env)
		if left == n.Left && right == n.Right {
			return n
		}
		cp := *n
		cp.Left = left
		cp.Right = right
		return &cp

	case tree.KindUnary:
		left := rebind(n.Left, env)
		if left == n.Left {
			return n
		}
		cp := *n
		cp.Left = left
		return &cp

	case tree.KindConditional:
		test := rebind(n.Test, env)
		ifTrue := rebind(n.IfTrue, env)
		ifFalse := rebind(n.IfFalse, env)
		if test == n.Test && ifTrue == n.IfTrue && ifFalse == n.IfFalse {
			return n
		}
		cp := *n
		cp.Test, cp.IfTrue, cp.IfFalse = test, ifTrue, ifFalse
		return &cp

	case tree.KindLoop:
		body := rebind(n.Body, env)
		if body == n.Body {
			return n
		}
		cp := *n
		cp.Body = body
		return &cp

	case tree.KindTry:
		body := rebind(n.Body, env)
		catches, catchesChanged := rebindCatches(n.Catches, env)
		finally := rebind(n.Finally, env)
		fault := rebind(n.Fault, env)
		if body == n.Body && !catchesChanged && finally == n.Finally && fault == n.Fault {
			return n
		}
		cp := *n
		cp.Body, cp.Catches, cp.Finally, cp.Fault = body, catches, finally, fault
		return &cp

	case tree.KindSwitch:
		value := rebind(n.SwitchValue, env)
		cases, casesChanged := rebindCases(n.Cases, env)
		def := rebind(n.Default, env)
		if value == n.SwitchValue && !casesChanged && def == n.Default {
			return n
		}
		cp := *n
		cp.SwitchValue, cp.Cases, cp.Default = value, cases, def
		return &cp

	case tree.KindDynamic:
		args := rebindAll(n.Args, env)
		if !changed(n.Args, args) {
			return n
		}
		cp := *n
		cp.Args = args
		return &cp

	default:
		// KindConstant, KindLabel, KindGoto, KindRuntimeVariables, KindQuote
		// (a nested quote is independently compiled, never descended into),
		// KindCellRef: no Parameter references to rebind.
		return n
	}
}

func rebindAll(nodes []*tree.Node, env *HoistedLocals) []*tree.Node {
	if len(nodes) == 0 {
		return nodes
	}
	out := make([]*tree.Node, len(nodes))
	for i, c := range nodes {
		out[i] = rebind(c, env)
	}
	return out
}

func changed(orig, rebound []*tree.Node) bool {
	for i := range orig {
		if orig[i] != rebound[i] {
			return true
		}
	}
	return false
}

func rebindCatches(catches []*tree.CatchBlock, env *HoistedLocals) ([]*tree.CatchBlock, bool) {
	if len(catches) == 0 {
		return catches, false
	}
	out := make([]*tree.CatchBlock, len(catches))
	any := false
	for i, c := range catches {
		filter := rebind(c.Filter, env)
		body := rebind(c.Body, env)
		if filter == c.Filter && body == c.Body {
			out[i] = c
			continue
		}
		cp := *c
		cp.Filter, cp.Body = filter, body
		out[i] = &cp
		any = true
	}
	return out, any
}

func rebindCases(cases []*tree.SwitchCase, env *HoistedLocals) ([]*tree.SwitchCase, bool) {
	if len(cases) == 0 {
		return cases, false
	}
	out := make([]*tree.SwitchCase, len(cases))
	any := false
	for i, c := range cases {
		values := rebindAll(c.TestValues, env)
		body := rebind(c.Body, env)
		if !changed(c.TestValues, values) && body == c.Body {
			out[i] = c
			continue
		}
		cp := *c
		cp.TestValues, cp.Body = values, body
		out[i] = &cp
		any = true
	}
	return out, any
}
