package emit

import (
	"fmt"
	"reflect"

	"lambdac/internal/compileerr"
	"lambdac/internal/envconfig"
	"lambdac/pkg/binder"
	"lambdac/pkg/closure"
	"lambdac/pkg/constpool"
	"lambdac/pkg/quote"
	"lambdac/pkg/runtimevars"
	"lambdac/pkg/scanner"
	"lambdac/pkg/tree"
)

var (
	recordPtrType = reflect.TypeOf((*closure.Record)(nil))
	cellPtrType   = reflect.TypeOf((*tree.Cell)(nil))
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
)

// Compiled is the Lambda Compiler's output for one root lambda: the root
// method, its live bound-constants record, and the per-compilation
// counters. Nested non-inlined lambdas are reachable from the root through
// the handle and constants slots the allocator reserved for them.
type Compiled struct {
	Method    *Method
	Constants *closure.Record
	Stats     *Stats
}

// Compile emits root, a validated and spilled lambda, and every non-inlined
// lambda nested inside it, against the binder's classification and the
// allocator's slot plan.
func Compile(root *tree.Node, binding *binder.Result, consts *constpool.Result) (*Compiled, error) {
	if root == nil || root.Kind != tree.KindLambda {
		return nil, compileerr.MalformedTree(stage, "compilation root must be a lambda")
	}
	c := &compilation{binding: binding, consts: consts, stats: &Stats{}}
	m, rec, err := c.compileLambda(root, nil)
	if err != nil {
		return nil, err
	}
	return &Compiled{Method: m, Constants: rec, Stats: c.stats}, nil
}

// compilation is the state shared by every method emitted for one root:
// the analysis side tables and the running statistics.
type compilation struct {
	binding *binder.Result
	consts  *constpool.Result
	stats   *Stats
	nameSeq int
}

func (c *compilation) methodName(lam *tree.Node) string {
	if lam.Name != "" {
		return lam.Name
	}
	c.nameSeq++
	return fmt.Sprintf("lambda#%d", c.nameSeq)
}

// compileLambda emits one method. envLayout is the closure layout whose
// live record arrives as env.Locals at run time: the nearest enclosing
// layout at the point the lambda's delegate is constructed, nil for the
// top-level lambda.
func (c *compilation) compileLambda(lam *tree.Node, envLayout *binder.ClosureLayout) (*Method, *closure.Record, error) {
	summary := c.consts.Summary(lam)
	lc := &lambdaCompiler{
		c:         c,
		b:         NewMethodBuilder(c.methodName(lam), len(lam.Params), lam.Type != nil),
		lambda:    lam,
		summary:   summary,
		envLayout: envLayout,
		cached:    make(map[*constpool.Slot]int),
		labels:    make(map[*tree.LabelTarget]*Label),
		retLocal:  -1,
	}
	lc.retLabel = lc.b.NewLabel("ret")
	if lam.Type != nil {
		lc.retLocal = lc.b.AllocLocal(lam.Type)
	}

	if err := lc.enterLambdaScope(lam, true); err != nil {
		return nil, nil, err
	}
	lc.cacheConstants()

	if err := lc.emitNode(lam.Body, lam.Type == nil, 0); err != nil {
		return nil, nil, err
	}
	if lam.Type != nil {
		lc.b.Emit(Instruction{Op: OpStoreLocal, A: lc.retLocal})
	}
	lc.b.Emit(Instruction{Op: OpBranch, Target: lc.retLabel})
	lc.b.Mark(lc.retLabel)
	if lam.Type != nil {
		lc.b.Emit(Instruction{Op: OpLoadLocal, A: lc.retLocal})
		lc.b.Emit(Instruction{Op: OpRet})
	} else {
		lc.b.Emit(Instruction{Op: OpRet, Void: true})
	}

	m, err := lc.b.Finish()
	if err != nil {
		return nil, nil, err
	}
	c.stats.MethodsEmitted++
	return m, buildConstantsRecord(summary), nil
}

// buildConstantsRecord materializes a lambda's bound-constants record from
// its fully emitted slot plan. Slots the emitter left unfilled (the lazy
// switch-dispatch table) stay at their zero value until run time.
func buildConstantsRecord(summary *constpool.LambdaSummary) *closure.Record {
	if summary.Constants.Count() == 0 {
		return nil
	}
	rec := closure.New(summary.Constants.Shape(), nil)
	for _, s := range summary.Constants.Slots() {
		if s.Filled && s.Value != nil {
			rec.Set(s.Index, s.Value)
		}
	}
	return rec
}

// lambdaCompiler emits one method body.
type lambdaCompiler struct {
	c         *compilation
	b         *MethodBuilder
	lambda    *tree.Node
	summary   *constpool.LambdaSummary
	envLayout *binder.ClosureLayout
	scopes    []*scopeInfo
	cached    map[*constpool.Slot]int
	labels    map[*tree.LabelTarget]*Label
	retLabel  *Label
	retLocal  int
}

// cacheConstants implements the bound-constant caching heuristic:
// a pre-filled slot read more often than the configured threshold is
// copied into a local in the prologue and every later read addresses the
// local instead of the constants record.
func (lc *lambdaCompiler) cacheConstants() {
	for _, s := range lc.summary.Constants.Slots() {
		if !s.Filled || !constpool.ShouldCacheInLocal(s) {
			continue
		}
		local := lc.b.AllocLocal(s.Type)
		lc.b.Emit(Instruction{Op: OpLoadEnv, A: s.Index})
		lc.b.Emit(Instruction{Op: OpStoreLocal, A: local})
		lc.cached[s] = local
		lc.c.stats.ConstantsCached++
	}
}

func (lc *lambdaCompiler) emitSlotLoad(s *constpool.Slot) {
	if local, ok := lc.cached[s]; ok {
		lc.b.Emit(Instruction{Op: OpLoadLocal, A: local})
		return
	}
	lc.b.Emit(Instruction{Op: OpLoadEnv, A: s.Index})
}

// emitNode dispatches to emitNodeDirect, rebounding the recursive walk
// onto a fresh goroutine stack once depth crosses the stack-growth-guard
// threshold, the same guard the allocator's walk uses.
func (lc *lambdaCompiler) emitNode(n *tree.Node, void bool, depth int) error {
	if n == nil {
		return nil
	}
	if int64(depth) < envconfig.StackGuardDepth() {
		return lc.emitNodeDirect(n, void, depth)
	}
	done := make(chan error, 1)
	go func() {
		done <- lc.emitNodeDirect(n, void, 0)
	}()
	return <-done
}

func (lc *lambdaCompiler) emitNodeDirect(n *tree.Node, void bool, depth int) error {
	switch n.Kind {
	case tree.KindConstant:
		return lc.emitConstant(n, void)

	case tree.KindParameter:
		if void {
			lc.c.stats.VoidLoadsElided++
			return nil
		}
		return lc.emitVarLoad(n.Var)

	case tree.KindCellRef:
		if void {
			lc.c.stats.VoidLoadsElided++
			return nil
		}
		lc.b.Emit(Instruction{Op: OpLoadConst, Value: n.CellRef})
		lc.b.Emit(Instruction{Op: OpCellGet})
		return nil

	case tree.KindBlock:
		return lc.emitBlock(n, void, depth)

	case tree.KindLambda:
		return lc.emitLambdaValue(n, void)

	case tree.KindInvoke:
		return lc.emitInvoke(n, void, depth)

	case tree.KindCall:
		return lc.emitCall(n, void, depth)

	case tree.KindNew:
		for _, a := range n.Args {
			if err := lc.emitNode(a, false, depth+1); err != nil {
				return err
			}
		}
		lc.b.Emit(Instruction{Op: OpNewObject, Method: n.Ctor, Argc: len(n.Args)})
		if void {
			lc.b.Emit(Instruction{Op: OpPop})
		}
		return nil

	case tree.KindAssign:
		return lc.emitAssign(n, void, depth)

	case tree.KindBinary:
		return lc.emitBinary(n, void, depth)

	case tree.KindUnary:
		return lc.emitUnary(n, void, depth)

	case tree.KindConditional:
		return lc.emitConditional(n, void, depth)

	case tree.KindLoop:
		return lc.emitLoop(n, void, depth)

	case tree.KindLabel:
		if n.Label.Type != nil {
			return compileerr.Unsupported(stage, "value-carrying label %q", n.Label.Name)
		}
		lc.b.Mark(lc.getLabel(n.Label))
		return nil

	case tree.KindGoto:
		lc.emitGoto(n)
		return nil

	case tree.KindTry:
		return lc.emitTry(n, void, depth)

	case tree.KindSwitch:
		return lc.emitSwitch(n, void, depth)

	case tree.KindQuote:
		return lc.emitQuote(n, void)

	case tree.KindRuntimeVariables:
		return lc.emitRuntimeVariables(n, void)

	case tree.KindDynamic:
		slot := lc.c.consts.DynamicSite(n)
		slot.Value = n.Site
		slot.Filled = true
		for _, a := range n.Args {
			if err := lc.emitNode(a, false, depth+1); err != nil {
				return err
			}
		}
		lc.b.Emit(Instruction{Op: OpCallDynamic, A: slot.Index, Argc: len(n.Args)})
		if void {
			lc.b.Emit(Instruction{Op: OpPop})
		}
		return nil

	default:
		return compileerr.Unsupported(stage, "expression kind %v", n.Kind)
	}
}

func (lc *lambdaCompiler) emitConstant(n *tree.Node, void bool) error {
	if void {
		lc.c.stats.VoidLoadsElided++
		return nil
	}
	if slot := lc.c.consts.ConstantSlot(n); slot != nil {
		lc.emitSlotLoad(slot)
		return nil
	}
	lc.b.Emit(Instruction{Op: OpLoadConst, Value: n.Value})
	lc.c.stats.ConstantsInlined++
	return nil
}

func (lc *lambdaCompiler) emitBlock(n *tree.Node, void bool, depth int) error {
	released := lc.enterBlockLocals(n)
	defer released()
	if len(n.Stmts) == 0 {
		if !void {
			lc.b.Emit(Instruction{Op: OpLoadConst})
		}
		return nil
	}
	for _, s := range n.Stmts[:len(n.Stmts)-1] {
		if err := lc.emitNode(s, true, depth+1); err != nil {
			return err
		}
	}
	last := n.Stmts[len(n.Stmts)-1]
	lastVoid := void || n.Type == nil
	if err := lc.emitNode(last, lastVoid, depth+1); err != nil {
		return err
	}
	if !void && n.Type == nil {
		lc.b.Emit(Instruction{Op: OpLoadConst})
	}
	return nil
}

// emitLambdaValue compiles a non-inlined nested lambda into its own
// method, installs the method handle and constants record into the two
// slots the allocator reserved, and emits the delegate construction
// binding the current closure record as the nested method's env.Locals.
func (lc *lambdaCompiler) emitLambdaValue(n *tree.Node, void bool) error {
	slots, ok := lc.summary.Nested[n]
	if !ok {
		return compileerr.MalformedTree(stage, "nested lambda %q has no allocated slots", n.Name)
	}
	m, rec, err := lc.c.compileLambda(n, lc.currentLayout())
	if err != nil {
		return err
	}
	slots.Handle.Value = reflect.ValueOf(m)
	slots.Handle.Filled = true
	slots.Constants.Value = rec
	slots.Constants.Filled = true
	if void {
		lc.c.stats.VoidLoadsElided++
		return nil
	}
	lc.b.Emit(Instruction{Op: OpLoadEnv, A: slots.Handle.Index})
	lc.b.Emit(Instruction{Op: OpLoadEnv, A: slots.Constants.Index})
	lc.emitCurrentRecordOrNil()
	lc.b.Emit(Instruction{Op: OpMakeDelegate})
	return nil
}

func (lc *lambdaCompiler) emitInvoke(n *tree.Node, void bool, depth int) error {
	if n.Target != nil && n.Target.Kind == tree.KindLambda {
		return lc.emitInlinedInvoke(n, void, depth)
	}
	if err := lc.emitNode(n.Target, false, depth+1); err != nil {
		return err
	}
	for _, a := range n.Args {
		if err := lc.emitNode(a, false, depth+1); err != nil {
			return err
		}
	}
	lc.b.Emit(Instruction{Op: OpInvokeDelegate, Argc: len(n.Args)})
	if void && n.Type != nil {
		lc.b.Emit(Instruction{Op: OpPop})
	}
	return nil
}

// emitInlinedInvoke emits an Invoke of a literal lambda in the current
// method: the callee's scope is entered as if it were a block, each
// argument is evaluated left to right and assigned to the matching
// parameter, and the body is emitted in place. The scope is keyed by the
// Invoke site, so two invokes of the same literal get independent storage.
func (lc *lambdaCompiler) emitInlinedInvoke(n *tree.Node, void bool, depth int) error {
	callee := n.Target
	if len(n.Args) != len(callee.Params) {
		return compileerr.MalformedTree(stage, "invoke passes %d arguments to a %d-parameter lambda", len(n.Args), len(callee.Params))
	}
	if err := lc.enterLambdaScope(callee, false); err != nil {
		return err
	}
	defer lc.exitScope()
	for i, a := range n.Args {
		if err := lc.emitNode(a, false, depth+1); err != nil {
			return err
		}
		if err := lc.emitVarStoreFromStack(callee.Params[i]); err != nil {
			return err
		}
	}
	bodyVoid := void || callee.Type == nil
	if err := lc.emitNode(callee.Body, bodyVoid, depth+1); err != nil {
		return err
	}
	if !void && callee.Type == nil {
		lc.b.Emit(Instruction{Op: OpLoadConst})
	}
	lc.c.stats.LambdasInlined++
	return nil
}

func (lc *lambdaCompiler) emitCall(n *tree.Node, void bool, depth int) error {
	argc := len(n.Args)
	hasRecv := n.Target != nil
	if hasRecv {
		if err := lc.emitNode(n.Target, false, depth+1); err != nil {
			return err
		}
		argc++
	}
	for _, a := range n.Args {
		if err := lc.emitNode(a, false, depth+1); err != nil {
			return err
		}
	}
	lc.b.Emit(Instruction{Op: OpCall, Method: n.Method, Argc: argc, HasReceiver: hasRecv})
	if void && n.Method.ReturnType != nil {
		lc.b.Emit(Instruction{Op: OpPop})
	}
	return nil
}

func (lc *lambdaCompiler) emitAssign(n *tree.Node, void bool, depth int) error {
	switch n.Left.Kind {
	case tree.KindParameter:
		if err := lc.emitNode(n.Right, false, depth+1); err != nil {
			return err
		}
		if !void {
			lc.b.Emit(Instruction{Op: OpDup})
		}
		return lc.emitVarStoreFromStack(n.Left.Var)
	case tree.KindCellRef:
		if err := lc.emitNode(n.Right, false, depth+1); err != nil {
			return err
		}
		if !void {
			lc.b.Emit(Instruction{Op: OpDup})
		}
		lc.emitCellStoreFromStack(n.Left.CellRef)
		return nil
	default:
		return compileerr.MalformedTree(stage, "assignment target must be a variable, got %v", n.Left.Kind)
	}
}

func (lc *lambdaCompiler) emitBinary(n *tree.Node, void bool, depth int) error {
	if n.BinOp == tree.OpAnd || n.BinOp == tree.OpOr {
		if err := lc.emitShortCircuit(n, depth); err != nil {
			return err
		}
	} else {
		if err := lc.emitNode(n.Left, false, depth+1); err != nil {
			return err
		}
		if err := lc.emitNode(n.Right, false, depth+1); err != nil {
			return err
		}
		lc.b.Emit(Instruction{Op: OpBinary, BinOp: n.BinOp, Checked: n.Checked, Lifted: n.Lifted})
	}
	if void {
		lc.b.Emit(Instruction{Op: OpPop})
	}
	return nil
}

// emitShortCircuit lowers And/Or to a test of the left operand that skips
// the right operand entirely, leaving the deciding value on the stack.
func (lc *lambdaCompiler) emitShortCircuit(n *tree.Node, depth int) error {
	end := lc.b.NewLabel("sc")
	if err := lc.emitNode(n.Left, false, depth+1); err != nil {
		return err
	}
	lc.b.Emit(Instruction{Op: OpDup})
	branch := OpBranchIfFalse
	if n.BinOp == tree.OpOr {
		branch = OpBranchIfTrue
	}
	lc.b.Emit(Instruction{Op: branch, Target: end})
	lc.b.Emit(Instruction{Op: OpPop})
	if err := lc.emitNode(n.Right, false, depth+1); err != nil {
		return err
	}
	lc.b.Mark(end)
	return nil
}

func (lc *lambdaCompiler) emitUnary(n *tree.Node, void bool, depth int) error {
	switch n.UnOp {
	case tree.OpNeg, tree.OpNot:
		if err := lc.emitNode(n.Left, false, depth+1); err != nil {
			return err
		}
		lc.b.Emit(Instruction{Op: OpUnary, UnOp: n.UnOp})
		if void {
			lc.b.Emit(Instruction{Op: OpPop})
		}
		return nil
	case tree.OpPreIncrement, tree.OpPreDecrement, tree.OpPostIncrement, tree.OpPostDecrement:
		return lc.emitIncDec(n, void, depth)
	default:
		return compileerr.Unsupported(stage, "unary operator %d", n.UnOp)
	}
}

// emitIncDec lowers the four increment/decrement forms: load the
// operand, duplicate the pre or post value when the expression's own value
// is needed, add or subtract the neutral element, and store back. In a
// void context neither duplicate is emitted.
func (lc *lambdaCompiler) emitIncDec(n *tree.Node, void bool, depth int) error {
	operand := n.Left
	if operand == nil || (operand.Kind != tree.KindParameter && operand.Kind != tree.KindCellRef) {
		return compileerr.MalformedTree(stage, "increment/decrement requires a variable operand")
	}
	isPost := n.UnOp == tree.OpPostIncrement || n.UnOp == tree.OpPostDecrement
	binOp := tree.OpAdd
	if n.UnOp == tree.OpPreDecrement || n.UnOp == tree.OpPostDecrement {
		binOp = tree.OpSub
	}
	if err := lc.emitNode(operand, false, depth+1); err != nil {
		return err
	}
	if !void && isPost {
		lc.b.Emit(Instruction{Op: OpDup})
	}
	lc.b.Emit(Instruction{Op: OpLoadConst, Value: neutralOne(operand.Type)})
	lc.b.Emit(Instruction{Op: OpBinary, BinOp: binOp, Checked: n.Checked, Lifted: n.Lifted})
	if !void && !isPost {
		lc.b.Emit(Instruction{Op: OpDup})
	}
	if operand.Kind == tree.KindCellRef {
		lc.emitCellStoreFromStack(operand.CellRef)
		return nil
	}
	return lc.emitVarStoreFromStack(operand.Var)
}

func (lc *lambdaCompiler) emitConditional(n *tree.Node, void bool, depth int) error {
	hasValue := !void && n.Type != nil
	elseL := lc.b.NewLabel("else")
	endL := lc.b.NewLabel("endif")
	if err := lc.emitNode(n.Test, false, depth+1); err != nil {
		return err
	}
	lc.b.Emit(Instruction{Op: OpBranchIfFalse, Target: elseL})
	if n.IfTrue != nil {
		if err := lc.emitNode(n.IfTrue, !hasValue, depth+1); err != nil {
			return err
		}
	} else if hasValue {
		lc.b.Emit(Instruction{Op: OpLoadConst})
	}
	lc.b.Emit(Instruction{Op: OpBranch, Target: endL})
	lc.b.Mark(elseL)
	if n.IfFalse != nil {
		if err := lc.emitNode(n.IfFalse, !hasValue, depth+1); err != nil {
			return err
		}
	} else if hasValue {
		lc.b.Emit(Instruction{Op: OpLoadConst})
	}
	lc.b.Mark(endL)
	return nil
}

func (lc *lambdaCompiler) emitLoop(n *tree.Node, void bool, depth int) error {
	top := lc.b.NewLabel("loop")
	if n.Continue != nil {
		top = lc.getLabel(n.Continue)
	}
	lc.b.Mark(top)
	if err := lc.emitNode(n.Body, true, depth+1); err != nil {
		return err
	}
	lc.b.Emit(Instruction{Op: OpBranch, Target: top})
	if n.Break != nil {
		lc.b.Mark(lc.getLabel(n.Break))
	}
	if !void {
		lc.b.Emit(Instruction{Op: OpLoadConst})
	}
	return nil
}

func (lc *lambdaCompiler) emitQuote(n *tree.Node, void bool) error {
	treeSlot := lc.c.consts.QuoteTreeSlot(n)
	envSlot := lc.c.consts.QuoteEnvSlot(n)
	free := scanner.FreeVariables(n.Quoted)
	treeSlot.Value = n.Quoted
	treeSlot.Filled = true
	if envSlot != nil {
		proto := quote.NewHoistedLocals()
		for _, v := range free {
			proto.Add(v, nil)
		}
		envSlot.Value = proto
		envSlot.Filled = true
	}
	if void {
		lc.c.stats.VoidLoadsElided++
		return nil
	}
	lc.emitSlotLoad(treeSlot)
	if envSlot != nil {
		lc.b.Emit(Instruction{Op: OpLoadEnv, A: envSlot.Index})
		for _, v := range free {
			if err := lc.emitCellLoad(v); err != nil {
				return err
			}
		}
	}
	lc.b.Emit(Instruction{Op: OpQuote, Argc: len(free), HasEnv: envSlot != nil})
	return nil
}

func (lc *lambdaCompiler) emitRuntimeVariables(n *tree.Node, void bool) error {
	slot := lc.c.consts.RuntimeVariablesSlot(n)
	table := make(runtimevars.Table, 0, len(n.Vars))
	start := lc.currentLayout()
	for _, v := range n.Vars {
		defLam := lc.c.binding.DefiningLambda(v)
		depth := 0
		layout := start
		for layout != nil && layout.Lambda != defLam {
			layout = layout.Parent
			depth++
		}
		if layout == nil {
			return compileerr.MalformedTree(stage, "runtime variable %q resolves to no closure record", v.Name)
		}
		idx := layout.FieldIndex(v)
		if idx < 0 {
			return compileerr.MalformedTree(stage, "runtime variable %q is not hoisted into its lambda's closure record", v.Name)
		}
		table = append(table, runtimevars.Pack(depth, idx))
	}
	slot.Value = table
	slot.Filled = true
	if void {
		lc.c.stats.VoidLoadsElided++
		return nil
	}
	lc.emitCurrentRecordOrNil()
	lc.b.Emit(Instruction{Op: OpLoadEnv, A: slot.Index})
	lc.b.Emit(Instruction{Op: OpCreateRuntimeVariables})
	return nil
}
