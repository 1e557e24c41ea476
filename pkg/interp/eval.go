// Package interp is the reference tree-walking interpreter: the alternative
// backend a caller may choose instead of compilation, and the oracle the
// compiled backend's behavior is checked against. Every variable's storage
// is a cell from the start, so quotes alias interpreter state the same way
// they alias compiled state, with no storage-kind analysis needed.
package interp

import (
	"fmt"
	"reflect"

	"lambdac/internal/compileerr"
	"lambdac/pkg/quote"
	"lambdac/pkg/runtimevars"
	"lambdac/pkg/scanner"
	"lambdac/pkg/tree"
)

const stage = "interp"

// scope is one lexical frame: a cell per declared variable, chained to the
// enclosing frame. Lookup walks outward, so a closure value capturing its
// defining scope sees later mutations of enclosing variables.
type scope struct {
	parent *scope
	vars   map[*tree.Variable]*tree.Cell
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, vars: make(map[*tree.Variable]*tree.Cell)}
}

func (s *scope) declare(v *tree.Variable, value interface{}) *tree.Cell {
	cell := &tree.Cell{Type: v.Type, Value: value}
	s.vars[v] = cell
	return cell
}

func (s *scope) lookup(v *tree.Variable) (*tree.Cell, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cell, ok := cur.vars[v]; ok {
			return cell, true
		}
	}
	return nil, false
}

// closureVal is the value a Lambda node evaluates to: the lambda and the
// scope chain live at its evaluation.
type closureVal struct {
	lambda *tree.Node
	env    *scope
}

// Invoke applies the closure, making closureVal interchangeable with any
// other invokable target an Invoke node may evaluate to.
func (c *closureVal) Invoke(args ...interface{}) (interface{}, error) {
	return apply(c, args)
}

// invokable is what an Invoke node's target must evaluate to when it is
// not a literal lambda: anything exposing the delegate calling convention,
// which includes values produced by the compiled backend.
type invokable interface {
	Invoke(args ...interface{}) (interface{}, error)
}

// gotoSignal threads a pending jump out of the expression that raised it
// until a Block or Loop with the matching label absorbs it.
type gotoSignal struct {
	target *tree.LabelTarget
}

func (g *gotoSignal) Error() string {
	return fmt.Sprintf("interp: unresolved goto %q", g.target.Name)
}

// Run evaluates lam with the given arguments.
func Run(lam *tree.Node, args ...interface{}) (interface{}, error) {
	if lam == nil || lam.Kind != tree.KindLambda {
		return nil, compileerr.MalformedTree(stage, "interpretation root must be a lambda")
	}
	return apply(&closureVal{lambda: lam}, args)
}

func apply(c *closureVal, args []interface{}) (interface{}, error) {
	lam := c.lambda
	if len(args) != len(lam.Params) {
		return nil, fmt.Errorf("interp: lambda %q expects %d arguments, got %d", lam.Name, len(lam.Params), len(args))
	}
	sc := newScope(c.env)
	for i, p := range lam.Params {
		sc.declare(p, args[i])
	}
	v, err := eval(lam.Body, sc)
	if err != nil {
		if g, ok := err.(*gotoSignal); ok {
			return nil, compileerr.MalformedTree(stage, "goto %q has no matching label in scope", g.target.Name)
		}
		return nil, err
	}
	if lam.Type == nil {
		return nil, nil
	}
	return v, nil
}

func eval(n *tree.Node, sc *scope) (interface{}, error) {
	if n == nil {
		return nil, nil
	}
	switch n.Kind {
	case tree.KindConstant:
		return n.Value, nil

	case tree.KindParameter:
		cell, ok := sc.lookup(n.Var)
		if !ok {
			return nil, compileerr.MalformedTree(stage, "variable %q used outside its declaring scope", n.Var.Name)
		}
		return cell.Value, nil

	case tree.KindCellRef:
		return n.CellRef.Value, nil

	case tree.KindBlock:
		return evalBlock(n, sc)

	case tree.KindLambda:
		return &closureVal{lambda: n, env: sc}, nil

	case tree.KindInvoke:
		return evalInvoke(n, sc)

	case tree.KindCall:
		return evalCall(n, sc)

	case tree.KindNew:
		args, err := evalAll(n.Args, sc)
		if err != nil {
			return nil, err
		}
		return n.Ctor.Invoke(args)

	case tree.KindAssign:
		return evalAssign(n, sc)

	case tree.KindBinary:
		return evalBinaryNode(n, sc)

	case tree.KindUnary:
		return evalUnaryNode(n, sc)

	case tree.KindConditional:
		return evalConditional(n, sc)

	case tree.KindLoop:
		return evalLoop(n, sc)

	case tree.KindLabel:
		return nil, nil

	case tree.KindGoto:
		return nil, &gotoSignal{target: n.Label}

	case tree.KindTry:
		return evalTry(n, sc)

	case tree.KindSwitch:
		return evalSwitch(n, sc)

	case tree.KindQuote:
		return evalQuote(n, sc)

	case tree.KindRuntimeVariables:
		return evalRuntimeVariables(n, sc)

	case tree.KindDynamic:
		args, err := evalAll(n.Args, sc)
		if err != nil {
			return nil, err
		}
		return n.Site.Binder(args)

	default:
		return nil, compileerr.Unsupported(stage, "expression kind %v", n.Kind)
	}
}

func evalAll(nodes []*tree.Node, sc *scope) ([]interface{}, error) {
	out := make([]interface{}, len(nodes))
	for i, c := range nodes {
		v, err := eval(c, sc)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func evalBlock(n *tree.Node, sc *scope) (interface{}, error) {
	inner := newScope(sc)
	for _, v := range n.Locals {
		inner.declare(v, zeroOf(v.Type))
	}
	var last interface{}
	i := 0
	for i < len(n.Stmts) {
		v, err := eval(n.Stmts[i], inner)
		if g, ok := err.(*gotoSignal); ok {
			if j := findLabel(n.Stmts, g.target); j >= 0 {
				i = j + 1
				continue
			}
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		last = v
		i++
	}
	if n.Type == nil {
		return nil, nil
	}
	return last, nil
}

func findLabel(stmts []*tree.Node, target *tree.LabelTarget) int {
	for i, s := range stmts {
		if s != nil && s.Kind == tree.KindLabel && s.Label == target {
			return i
		}
	}
	return -1
}

func evalInvoke(n *tree.Node, sc *scope) (interface{}, error) {
	target, err := eval(n.Target, sc)
	if err != nil {
		return nil, err
	}
	args, err := evalAll(n.Args, sc)
	if err != nil {
		return nil, err
	}
	fn, ok := target.(invokable)
	if !ok {
		return nil, fmt.Errorf("interp: invoke target is %T, not an invokable value", target)
	}
	return fn.Invoke(args...)
}

func evalCall(n *tree.Node, sc *scope) (interface{}, error) {
	var args []interface{}
	if n.Target != nil {
		recv, err := eval(n.Target, sc)
		if err != nil {
			return nil, err
		}
		args = append(args, recv)
	}
	rest, err := evalAll(n.Args, sc)
	if err != nil {
		return nil, err
	}
	return n.Method.Invoke(append(args, rest...))
}

func evalAssign(n *tree.Node, sc *scope) (interface{}, error) {
	v, err := eval(n.Right, sc)
	if err != nil {
		return nil, err
	}
	switch n.Left.Kind {
	case tree.KindParameter:
		cell, ok := sc.lookup(n.Left.Var)
		if !ok {
			return nil, compileerr.MalformedTree(stage, "variable %q assigned outside its declaring scope", n.Left.Var.Name)
		}
		cell.Value = v
	case tree.KindCellRef:
		n.Left.CellRef.Value = v
	default:
		return nil, compileerr.MalformedTree(stage, "assignment target must be a variable, got %v", n.Left.Kind)
	}
	return v, nil
}

func evalBinaryNode(n *tree.Node, sc *scope) (interface{}, error) {
	if n.BinOp == tree.OpAnd || n.BinOp == tree.OpOr {
		l, err := eval(n.Left, sc)
		if err != nil {
			return nil, err
		}
		if lb, ok := l.(bool); ok {
			// Short-circuit: the right operand only runs when the left did
			// not already decide the result.
			if lb == (n.BinOp == tree.OpOr) {
				return lb, nil
			}
			return eval(n.Right, sc)
		}
		r, err := eval(n.Right, sc)
		if err != nil {
			return nil, err
		}
		return binaryOp(n.BinOp, n.Checked, n.Lifted, l, r)
	}
	l, err := eval(n.Left, sc)
	if err != nil {
		return nil, err
	}
	r, err := eval(n.Right, sc)
	if err != nil {
		return nil, err
	}
	return binaryOp(n.BinOp, n.Checked, n.Lifted, l, r)
}

func evalUnaryNode(n *tree.Node, sc *scope) (interface{}, error) {
	switch n.UnOp {
	case tree.OpNeg, tree.OpNot:
		v, err := eval(n.Left, sc)
		if err != nil {
			return nil, err
		}
		return unaryOp(n.UnOp, v)
	case tree.OpPreIncrement, tree.OpPreDecrement, tree.OpPostIncrement, tree.OpPostDecrement:
		return evalIncDec(n, sc)
	default:
		return nil, compileerr.Unsupported(stage, "unary operator %d", n.UnOp)
	}
}

func evalIncDec(n *tree.Node, sc *scope) (interface{}, error) {
	var cell *tree.Cell
	switch n.Left.Kind {
	case tree.KindParameter:
		c, ok := sc.lookup(n.Left.Var)
		if !ok {
			return nil, compileerr.MalformedTree(stage, "variable %q used outside its declaring scope", n.Left.Var.Name)
		}
		cell = c
	case tree.KindCellRef:
		cell = n.Left.CellRef
	default:
		return nil, compileerr.MalformedTree(stage, "increment/decrement requires a variable operand")
	}
	op := tree.OpAdd
	if n.UnOp == tree.OpPreDecrement || n.UnOp == tree.OpPostDecrement {
		op = tree.OpSub
	}
	old := cell.Value
	updated, err := binaryOp(op, n.Checked, n.Lifted, old, stepOf(n.Left.Type))
	if err != nil {
		return nil, err
	}
	cell.Value = updated
	if n.UnOp == tree.OpPostIncrement || n.UnOp == tree.OpPostDecrement {
		return old, nil
	}
	return updated, nil
}

func evalConditional(n *tree.Node, sc *scope) (interface{}, error) {
	t, err := eval(n.Test, sc)
	if err != nil {
		return nil, err
	}
	b, ok := t.(bool)
	if !ok {
		return nil, fmt.Errorf("interp: conditional test evaluated to %T, not bool", t)
	}
	if b {
		return eval(n.IfTrue, sc)
	}
	return eval(n.IfFalse, sc)
}

func evalLoop(n *tree.Node, sc *scope) (interface{}, error) {
	for {
		_, err := eval(n.Body, sc)
		if g, ok := err.(*gotoSignal); ok {
			if g.target == n.Break {
				return nil, nil
			}
			if g.target == n.Continue {
				continue
			}
			return nil, err
		}
		if err != nil {
			return nil, err
		}
	}
}

func evalTry(n *tree.Node, sc *scope) (interface{}, error) {
	v, err := eval(n.Body, sc)
	if err != nil {
		if _, isJump := err.(*gotoSignal); !isJump {
			handled := false
			for _, c := range n.Catches {
				if !catchMatches(c, err) {
					continue
				}
				inner := newScope(sc)
				if c.Variable != nil {
					inner.declare(c.Variable, err)
				}
				if c.Filter != nil {
					verdict, ferr := eval(c.Filter, inner)
					if ferr != nil || verdict != true {
						continue
					}
				}
				v, err = eval(c.Body, inner)
				handled = true
				break
			}
			if !handled && n.Fault != nil {
				if _, ferr := eval(n.Fault, sc); ferr != nil {
					err = ferr
				}
			}
		}
	}
	if n.Finally != nil {
		if _, ferr := eval(n.Finally, sc); ferr != nil {
			return nil, ferr
		}
	}
	return v, err
}

func catchMatches(c *tree.CatchBlock, err error) bool {
	if c.ExceptionType == nil {
		return true
	}
	return reflect.TypeOf(err).AssignableTo(c.ExceptionType)
}

func evalSwitch(n *tree.Node, sc *scope) (interface{}, error) {
	scrutinee, err := eval(n.SwitchValue, sc)
	if err != nil {
		return nil, err
	}
	for _, c := range n.Cases {
		for _, tv := range c.TestValues {
			cand, err := eval(tv, sc)
			if err != nil {
				return nil, err
			}
			eq, err := binaryOp(tree.OpEq, false, false, scrutinee, cand)
			if err != nil {
				return nil, err
			}
			if eq == true {
				return eval(c.Body, sc)
			}
		}
	}
	if n.Default != nil {
		return eval(n.Default, sc)
	}
	return zeroOf(n.Type), nil
}

// evalQuote reifies the quoted sub-tree against the interpreter's own
// cells: every variable already lives in one, so the cell-environment is
// just a view over the scope chain and mutations through the quote are
// visible to the rest of the invocation, exactly as quote aliasing demands.
func evalQuote(n *tree.Node, sc *scope) (interface{}, error) {
	env := quote.NewHoistedLocals()
	for _, v := range scanner.FreeVariables(n.Quoted) {
		cell, ok := sc.lookup(v)
		if !ok {
			return nil, compileerr.MalformedTree(stage, "quote captures %q, which is not in scope", v.Name)
		}
		env.Add(v, cell)
	}
	return quote.Quote(n.Quoted, env), nil
}

func evalRuntimeVariables(n *tree.Node, sc *scope) (interface{}, error) {
	cells := make([]*tree.Cell, len(n.Vars))
	for i, v := range n.Vars {
		cell, ok := sc.lookup(v)
		if !ok {
			return nil, compileerr.MalformedTree(stage, "runtime variable %q is not in scope", v.Name)
		}
		cells[i] = cell
	}
	return &cellVariables{cells: cells}, nil
}

// cellVariables is the interpreter's runtime-variables handle: the same
// indexable view the compiled backend produces, backed directly by cells.
type cellVariables struct {
	cells []*tree.Cell
}

var _ runtimevars.IRuntimeVariables = (*cellVariables)(nil)

func (c *cellVariables) Count() int {
	return len(c.cells)
}

func (c *cellVariables) Get(i int) interface{} {
	return c.cells[i].Value
}

func (c *cellVariables) Set(i int, value interface{}) {
	c.cells[i].Value = value
}

func zeroOf(typ reflect.Type) interface{} {
	if typ == nil {
		return nil
	}
	return reflect.Zero(typ).Interface()
}
