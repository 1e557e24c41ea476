package tree

// Children returns n's immediate sub-expressions in evaluation order. It
// does not descend into a nested Lambda's body (a lambda boundary is a
// compilation unit of its own) but does return the Lambda node itself where
// it occurs as a value (e.g. as an Invoke target).
func (n *Node) Children() []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	switch n.Kind {
	case KindConstant, KindParameter, KindLabel, KindRuntimeVariables, KindCellRef:
		// leaves
	case KindBlock:
		out = append(out, n.Stmts...)
	case KindLambda:
		out = append(out, n.Body)
	case KindInvoke:
		out = append(out, n.Target)
		out = append(out, n.Args...)
	case KindCall:
		if n.Target != nil {
			out = append(out, n.Target)
		}
		out = append(out, n.Args...)
	case KindNew:
		out = append(out, n.Args...)
	case KindAssign:
		out = append(out, n.Left, n.Right)
	case KindBinary:
		out = append(out, n.Left, n.Right)
	case KindUnary:
		out = append(out, n.Left)
	case KindConditional:
		out = append(out, n.Test)
		if n.IfTrue != nil {
			out = append(out, n.IfTrue)
		}
		if n.IfFalse != nil {
			out = append(out, n.IfFalse)
		}
	case KindLoop:
		out = append(out, n.Body)
	case KindGoto:
		// no sub-expressions
	case KindTry:
		out = append(out, n.Body)
		for _, c := range n.Catches {
			if c.Filter != nil {
				out = append(out, c.Filter)
			}
			out = append(out, c.Body)
		}
		if n.Finally != nil {
			out = append(out, n.Finally)
		}
		if n.Fault != nil {
			out = append(out, n.Fault)
		}
	case KindSwitch:
		out = append(out, n.SwitchValue)
		for _, c := range n.Cases {
			out = append(out, c.TestValues...)
			out = append(out, c.Body)
		}
		if n.Default != nil {
			out = append(out, n.Default)
		}
	case KindQuote:
		// Quoted is a nested, independently-compiled sub-tree; the scanner
		// walks into it explicitly when it needs free variables, but
		// ordinary tree walks (spill, emit) treat Quote as opaque.
	case KindDynamic:
		out = append(out, n.Args...)
	}
	return out
}

// Walk calls visit for n and, when visit returns true, recursively for
// every child returned by Children. It does not cross a Quote boundary.
func Walk(n *Node, visit func(*Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, visit)
	}
}

// IsVoid reports whether n's static type denotes no value.
func (n *Node) IsVoid() bool {
	return n == nil || n.Type == nil
}
