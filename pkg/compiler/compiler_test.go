package compiler

import (
	"reflect"
	"testing"

	"lambdac/pkg/emit"
	"lambdac/pkg/runtimevars"
	"lambdac/pkg/tree"
)

var (
	intType      = reflect.TypeOf(int64(0))
	boolType     = reflect.TypeOf(false)
	strType      = reflect.TypeOf("")
	floatType    = reflect.TypeOf(float64(0))
	nodeType     = reflect.TypeOf((*tree.Node)(nil))
	delegateType = reflect.TypeOf((*emit.Delegate)(nil))
	sliceType    = reflect.TypeOf([]interface{}(nil))
)

// bothBackends compiles lam, invokes it, runs the same tree on the
// reference interpreter, and requires both to agree with expected.
func bothBackends(t *testing.T, lam *tree.Node, args []interface{}, expected interface{}) {
	t.Helper()
	c, err := Compile(lam)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := c.Invoke(args...)
	if err != nil {
		t.Fatalf("compiled invoke: %v", err)
	}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("compiled: expected %v, got %v", expected, got)
	}
	ref, err := Interpret(lam, args...)
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if !reflect.DeepEqual(ref, expected) {
		t.Fatalf("interpreter: expected %v, got %v", expected, ref)
	}
}

// Scenario 1: a constant 0 followed by 10 000 right-leaning additions of
// constant 1 compiles and runs without stack overflow.
func TestDeepExpression(t *testing.T) {
	body := tree.Constant(int64(0), intType)
	for i := 0; i < 10000; i++ {
		body = tree.Binary(tree.OpAdd, tree.Constant(int64(1), intType), body, intType)
	}
	lam := tree.Lambda("deep", nil, body, intType)
	bothBackends(t, lam, nil, int64(10000))
}

// Scenario 2: λx. λy. x+y. The inner callable sees the outer argument
// through the closure chain across repeated invocations.
func TestNestedClosure(t *testing.T) {
	x := tree.NewVariable("x", intType)
	y := tree.NewVariable("y", intType)
	inner := tree.Lambda("inner", []*tree.Variable{y},
		tree.Binary(tree.OpAdd, tree.Parameter(x), tree.Parameter(y), intType), intType)
	outer := tree.Lambda("outer", []*tree.Variable{x}, inner, delegateType)

	c, err := Compile(outer)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := c.Invoke(int64(1))
	if err != nil {
		t.Fatalf("outer: %v", err)
	}
	adder := got.(*emit.Delegate)
	if out, err := adder.Invoke(int64(2)); err != nil || out != int64(3) {
		t.Fatalf("inner(2): expected 3, got %v (%v)", out, err)
	}
	if out, err := adder.Invoke(int64(3)); err != nil || out != int64(4) {
		t.Fatalf("inner(3): expected 4, got %v (%v)", out, err)
	}
}

// Scenario 3: 18 hoisted locals of mixed types, returned through a
// zero-argument nested lambda, stable across invocations.
func TestBigClosure(t *testing.T) {
	makeArray := &tree.MethodHandle{
		Name:       "makeArray",
		ReturnType: sliceType,
		Static:     true,
		Invoke: func(args []interface{}) (interface{}, error) {
			return append([]interface{}(nil), args...), nil
		},
	}

	types := []reflect.Type{intType, strType, floatType, boolType}
	values := func(i int) (interface{}, reflect.Type) {
		switch i % len(types) {
		case 0:
			return int64(i), intType
		case 1:
			return string(rune('a' + i)), strType
		case 2:
			return float64(i) / 2, floatType
		default:
			return i%8 < 4, boolType
		}
	}

	var locals []*tree.Variable
	var stmts []*tree.Node
	var reads []*tree.Node
	var expected []interface{}
	for i := 0; i < 18; i++ {
		val, typ := values(i)
		v := tree.NewVariable("v", typ)
		locals = append(locals, v)
		stmts = append(stmts, tree.Assign(tree.Parameter(v), tree.Constant(val, typ)))
		reads = append(reads, tree.Parameter(v))
		expected = append(expected, val)
	}
	collect := tree.Lambda("collect", nil, tree.Call(nil, makeArray, reads...), sliceType)
	body := tree.Block(locals, append(stmts, collect)...)
	body.Type = delegateType
	lam := tree.Lambda("big", nil, body, delegateType)

	c, stats, err := CompileWithStats(lam)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if stats.VariablesHoisted != 18 {
		t.Fatalf("expected all 18 locals hoisted, stats: %+v", stats)
	}
	got, err := c.Invoke()
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	collector := got.(*emit.Delegate)
	for round := 0; round < 2; round++ {
		out, err := collector.Invoke()
		if err != nil {
			t.Fatalf("collect round %d: %v", round, err)
		}
		if !reflect.DeepEqual(out, expected) {
			t.Fatalf("collect round %d: expected %v, got %v", round, expected, out)
		}
	}
}

// Scenario 4: two quotes of the same variable in one lambda share one
// cell; a mutation through one is visible through the other and through
// the variable itself after the call.
func TestQuoteAliasing(t *testing.T) {
	aliased := false
	f := &tree.MethodHandle{
		Name:       "mutate",
		ParamTypes: []reflect.Type{nodeType, nodeType},
		Static:     true,
		Invoke: func(args []interface{}) (interface{}, error) {
			q1 := args[0].(*tree.Node)
			q2 := args[1].(*tree.Node)
			aliased = q1.Kind == tree.KindCellRef && q2.Kind == tree.KindCellRef && q1.CellRef == q2.CellRef
			q1.CellRef.Value = int64(40)
			return nil, nil
		},
	}

	x := tree.NewVariable("x", intType)
	body := tree.Block(nil,
		tree.Call(nil, f, tree.Quote(tree.Parameter(x), nodeType), tree.Quote(tree.Parameter(x), nodeType)),
		tree.Parameter(x),
	)
	lam := tree.Lambda("quotes", []*tree.Variable{x}, body, intType)

	c, err := Compile(lam)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := c.Invoke(int64(2))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !aliased {
		t.Fatal("expected both quotes to share one cell")
	}
	if got != int64(40) {
		t.Fatalf("expected the mutation to reach x, got %v", got)
	}
}

// Quoting then compiling the quote gives the same result as direct
// compilation when the free variable is not mutated in between.
func TestQuoteThenCompileMatchesDirect(t *testing.T) {
	x := tree.NewVariable("x", intType)
	addOne := tree.Binary(tree.OpAdd, tree.Parameter(x), tree.Constant(int64(1), intType), intType)

	direct, err := Compile(tree.Lambda("direct", []*tree.Variable{x}, addOne, intType))
	if err != nil {
		t.Fatalf("compile direct: %v", err)
	}
	want, err := direct.Invoke(int64(5))
	if err != nil {
		t.Fatalf("direct invoke: %v", err)
	}

	quoter, err := Compile(tree.Lambda("quoter", []*tree.Variable{x}, tree.Quote(addOne, nodeType), nodeType))
	if err != nil {
		t.Fatalf("compile quoter: %v", err)
	}
	out, err := quoter.Invoke(int64(5))
	if err != nil {
		t.Fatalf("quoter invoke: %v", err)
	}
	rebound := out.(*tree.Node)

	requoted, err := Compile(tree.Lambda("requoted", nil, rebound, intType))
	if err != nil {
		t.Fatalf("compile rebound quote: %v", err)
	}
	got, err := requoted.Invoke()
	if err != nil {
		t.Fatalf("rebound invoke: %v", err)
	}
	if got != want {
		t.Fatalf("expected the compiled quote to match direct compilation: %v vs %v", got, want)
	}
}

// Scenario 5: parameters (x:bool, y:int, z:string) reified in the order
// (z, x, y); writes through each index reach the shared variable storage,
// observed through a second handle listing the same variables.
func TestRuntimeVariables(t *testing.T) {
	pair := &tree.MethodHandle{
		Name:       "pair",
		ReturnType: sliceType,
		Static:     true,
		Invoke: func(args []interface{}) (interface{}, error) {
			return append([]interface{}(nil), args...), nil
		},
	}
	x := tree.NewVariable("x", boolType)
	y := tree.NewVariable("y", intType)
	z := tree.NewVariable("z", strType)
	body := tree.Call(nil, pair, tree.RuntimeVariables(z, x, y), tree.RuntimeVariables(x, y, z))
	lam := tree.Lambda("reify", []*tree.Variable{x, y, z}, body, sliceType)

	c, err := Compile(lam)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := c.Invoke(true, int64(7), "hi")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	handles := out.([]interface{})
	zxy := handles[0].(runtimevars.IRuntimeVariables)
	xyz := handles[1].(runtimevars.IRuntimeVariables)

	if zxy.Get(0) != "hi" || zxy.Get(1) != true || zxy.Get(2) != int64(7) {
		t.Fatalf("expected (z, x, y) ordering, got (%v, %v, %v)", zxy.Get(0), zxy.Get(1), zxy.Get(2))
	}
	zxy.Set(0, "bye")
	zxy.Set(1, false)
	zxy.Set(2, int64(9))
	if xyz.Get(2) != "bye" {
		t.Fatalf("writing index 0 should change z, second handle sees %v", xyz.Get(2))
	}
	if xyz.Get(0) != false {
		t.Fatalf("writing index 1 should change x, second handle sees %v", xyz.Get(0))
	}
	if xyz.Get(1) != int64(9) {
		t.Fatalf("writing index 2 should change y, second handle sees %v", xyz.Get(1))
	}
}

// Scenario 6: a post-increment driving a loop in void context; the unused
// parameter load is elided and the loop terminates.
func TestPostIncrementInVoidContext(t *testing.T) {
	x := tree.NewVariable("x", intType)
	i := tree.NewVariable("i", intType)
	brk := &tree.LabelTarget{Name: "break"}
	cond := tree.Conditional(
		tree.Binary(tree.OpLt,
			tree.Unary(tree.OpPostIncrement, tree.Parameter(i), intType),
			tree.Constant(int64(1), intType),
			boolType),
		tree.Parameter(x),
		tree.Goto(brk, tree.GotoPlain),
	)
	cond.Type = nil
	body := tree.Block([]*tree.Variable{i}, tree.Loop(cond, brk, nil))
	lam := tree.Lambda("spin", []*tree.Variable{x}, body, nil)

	c, stats, err := CompileWithStats(lam)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if stats.VoidLoadsElided == 0 {
		t.Fatalf("expected the void x reference elided, stats: %+v", stats)
	}
	for _, ins := range c.Method().Code {
		if ins.Op == emit.OpLoadArg {
			t.Fatal("expected no load of the unused parameter")
		}
	}
	if _, err := c.Invoke(int64(0)); err != nil {
		t.Fatalf("invoke: %v", err)
	}
}

// A variable captured by nobody and quoted by nobody allocates no closure
// record at all.
func TestUncapturedLambdaBuildsNoClosureRecord(t *testing.T) {
	x := tree.NewVariable("x", intType)
	lam := tree.Lambda("plain", []*tree.Variable{x},
		tree.Binary(tree.OpAdd, tree.Parameter(x), tree.Constant(int64(1), intType), intType), intType)
	_, stats, err := CompileWithStats(lam)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if stats.ClosureRecordsBuilt != 0 {
		t.Fatalf("expected no closure record, stats: %+v", stats)
	}
}

// Compiling a tree with no free variables is referentially transparent:
// repeated invocations agree with each other and with the interpreter.
func TestRepeatedInvocationIsStable(t *testing.T) {
	a := tree.NewVariable("a", intType)
	body := tree.Conditional(
		tree.Binary(tree.OpGt, tree.Parameter(a), tree.Constant(int64(10), intType), boolType),
		tree.Binary(tree.OpMul, tree.Parameter(a), tree.Constant(int64(2), intType), intType),
		tree.Binary(tree.OpSub, tree.Parameter(a), tree.Constant(int64(3), intType), intType),
	)
	lam := tree.Lambda("branchy", []*tree.Variable{a}, body, intType)
	bothBackends(t, lam, []interface{}{int64(20)}, int64(40))
	bothBackends(t, lam, []interface{}{int64(4)}, int64(1))
}

// An Invoke of a literal lambda is inlined rather than compiled into a
// separate method.
func TestLiteralInvokeIsInlined(t *testing.T) {
	x := tree.NewVariable("x", intType)
	doubled := tree.Lambda("double", []*tree.Variable{x},
		tree.Binary(tree.OpMul, tree.Parameter(x), tree.Constant(int64(2), intType), intType), intType)
	lam := tree.Lambda("caller", nil,
		tree.Invoke(doubled, intType, tree.Constant(int64(21), intType)), intType)

	c, stats, err := CompileWithStats(lam)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if stats.LambdasInlined != 1 {
		t.Fatalf("expected one inlined invoke, stats: %+v", stats)
	}
	if stats.MethodsEmitted != 1 {
		t.Fatalf("expected a single emitted method, stats: %+v", stats)
	}
	got, err := c.Invoke()
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got != int64(42) {
		t.Fatalf("expected 42, got %v", got)
	}
}

// A goto with no matching label is rejected before any emission happens.
func TestCompileRejectsUnmatchedGoto(t *testing.T) {
	nowhere := &tree.LabelTarget{Name: "nowhere"}
	lam := tree.Lambda("bad", nil, tree.Block(nil, tree.Goto(nowhere, tree.GotoPlain)), nil)
	if _, err := Compile(lam); err == nil {
		t.Fatal("expected compilation to fail on an unmatched goto")
	}
}
