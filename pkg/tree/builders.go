package tree

import "reflect"

// Constant builds a constant node. typ defaults to reflect.TypeOf(value)
// when nil and value is non-nil.
func Constant(value interface{}, typ reflect.Type) *Node {
	if typ == nil && value != nil {
		typ = reflect.TypeOf(value)
	}
	return &Node{Kind: KindConstant, Value: value, Type: typ}
}

// Parameter builds a variable-reference node.
func Parameter(v *Variable) *Node {
	return &Node{Kind: KindParameter, Var: v, Type: v.Type}
}

// Block builds a block node introducing locals and evaluating stmts in
// order; the block's value is the last statement's value (void if empty or
// if the last statement is void-typed).
func Block(locals []*Variable, stmts ...*Node) *Node {
	n := &Node{Kind: KindBlock, Locals: locals, Stmts: stmts}
	if len(stmts) > 0 {
		n.Type = stmts[len(stmts)-1].Type
	}
	return n
}

// Lambda builds a lambda node with the given parameters, body, and return
// type.
func Lambda(name string, params []*Variable, body *Node, returnType reflect.Type) *Node {
	return &Node{Kind: KindLambda, Name: name, Params: params, Body: body, Type: returnType}
}

// Invoke builds a node invoking a lambda or delegate-valued expression with
// the given arguments.
func Invoke(target *Node, returnType reflect.Type, args ...*Node) *Node {
	return &Node{Kind: KindInvoke, Target: target, Args: args, Type: returnType}
}

// Call builds a node calling a known method. receiver is nil for a static
// method.
func Call(receiver *Node, method *MethodHandle, args ...*Node) *Node {
	return &Node{Kind: KindCall, Target: receiver, Method: method, Args: args, Type: method.ReturnType}
}

// New builds a constructor-invocation node.
func New(ctor *MethodHandle, args ...*Node) *Node {
	return &Node{Kind: KindNew, Ctor: ctor, Args: args, Type: ctor.ReturnType}
}

// Assign builds an assignment node; its value is the assigned value.
func Assign(left, right *Node) *Node {
	return &Node{Kind: KindAssign, Left: left, Right: right, Type: right.Type}
}

// Binary builds a binary-operator node.
func Binary(op BinaryOp, left, right *Node, resultType reflect.Type) *Node {
	return &Node{Kind: KindBinary, BinOp: op, Left: left, Right: right, Type: resultType}
}

// CheckedBinary is Binary with integer-overflow checking enabled.
func CheckedBinary(op BinaryOp, left, right *Node, resultType reflect.Type) *Node {
	n := Binary(op, left, right, resultType)
	n.Checked = true
	return n
}

// Unary builds a unary-operator node.
func Unary(op UnaryOp, operand *Node, resultType reflect.Type) *Node {
	return &Node{Kind: KindUnary, UnOp: op, Left: operand, Type: resultType}
}

// Conditional builds an if/then/else node. A void conditional has nil or
// void-typed branches; a non-void conditional evaluates to the taken
// branch's value.
func Conditional(test, ifTrue, ifFalse *Node) *Node {
	n := &Node{Kind: KindConditional, Test: test, IfTrue: ifTrue, IfFalse: ifFalse}
	if ifTrue != nil {
		n.Type = ifTrue.Type
	}
	return n
}

// Loop builds an infinite loop node with break/continue label targets;
// Break/Continue inside body must reference breakLabel/continueLabel via
// Goto nodes for the loop to ever terminate or skip an iteration.
func Loop(body *Node, breakLabel, continueLabel *LabelTarget) *Node {
	return &Node{Kind: KindLoop, Body: body, Break: breakLabel, Continue: continueLabel}
}

// Label builds a label-definition node.
func Label(target *LabelTarget) *Node {
	return &Node{Kind: KindLabel, Label: target}
}

// Goto builds a jump node. kind distinguishes a plain intra-region jump
// from one that leaves a try region or crosses more than one.
func Goto(target *LabelTarget, kind GotoKind) *Node {
	return &Node{Kind: KindGoto, Label: target, GotoKind: kind}
}

// Try builds a try/catch/finally/fault node. Exactly one of Finally or
// Fault should be set, or neither; Catches may be empty.
func Try(body *Node, catches []*CatchBlock, finally, fault *Node) *Node {
	return &Node{Kind: KindTry, Body: body, Catches: catches, Finally: finally, Fault: fault, Type: body.Type}
}

// Switch builds a switch node comparing value against each case's test
// values in order, falling back to def if none match.
func Switch(value *Node, cases []*SwitchCase, def *Node) *Node {
	return &Node{Kind: KindSwitch, SwitchValue: value, Cases: cases, Default: def}
}

// Quote builds a node that reifies quoted as a data structure at runtime,
// with quoted's free variables re-bound to shared cells aliasing the
// enclosing lambda's storage.
func Quote(quoted *Node, treeType reflect.Type) *Node {
	return &Node{Kind: KindQuote, Quoted: quoted, Type: treeType}
}

// RuntimeVariables builds a node exposing vars, in order, through an
// indexable read/write handle.
func RuntimeVariables(vars ...*Variable) *Node {
	return &Node{Kind: KindRuntimeVariables, Vars: vars}
}

// Dynamic builds a node whose binding is deferred to site.
func Dynamic(site *DynamicCallSite, resultType reflect.Type, args ...*Node) *Node {
	return &Node{Kind: KindDynamic, Site: site, Args: args, Type: resultType}
}

// CellRef builds a node that reads/writes through a shared cell. It is not
// constructed by callers; pkg/quote introduces it while rebinding a quoted
// sub-tree's free variables.
func CellRef(cell *Cell) *Node {
	return &Node{Kind: KindCellRef, CellRef: cell, Type: cell.Type}
}
