package spill

import "lambdac/pkg/tree"

// spillSequence spills a list of operands evaluated left to right whose
// values, until consumed by the node that owns them (a Binary, a call's
// argument list, ...), sit on the shared operand stack. The moment any
// operand other than the first is (after its own recursive spilling) a
// spill site, that operand and every operand before and after it is
// hoisted into a fresh local: the already-computed ones because they are
// sitting on the stack when the spill site needs to start at depth zero,
// and the spill site's own result and every later operand too, so that the
// consuming node reads all of its operands back from locals.
//
// It returns the rewritten operands (as Parameter references to the
// hoisted locals, once hoisting has started), the locals introduced, and
// the assignment statements that must run, in order, before the
// expression that consumes them.
func spillSequence(items []*tree.Node) (out []*tree.Node, locals []*tree.Variable, pre []*tree.Node) {
	out = make([]*tree.Node, len(items))
	hoisting := false
	for i, item := range items {
		if item == nil {
			out[i] = nil
			continue
		}
		item = spill(item)
		if !hoisting && i > 0 && isSpillSite(item) {
			hoisting = true
			for j := 0; j < i; j++ {
				if out[j] == nil {
					continue
				}
				out[j], locals, pre = hoistInto(out[j], locals, pre)
			}
		}
		if hoisting {
			item, locals, pre = hoistInto(item, locals, pre)
		}
		out[i] = item
	}
	return out, locals, pre
}

func hoistInto(n *tree.Node, locals []*tree.Variable, pre []*tree.Node) (*tree.Node, []*tree.Variable, []*tree.Node) {
	v := tree.NewVariable("spill", n.Type)
	locals = append(locals, v)
	pre = append(pre, tree.Assign(tree.Parameter(v), n))
	return tree.Parameter(v), locals, pre
}
