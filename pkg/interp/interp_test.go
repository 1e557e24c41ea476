package interp

import (
	"errors"
	"reflect"
	"testing"

	"lambdac/pkg/runtimevars"
	"lambdac/pkg/tree"
)

var (
	intType  = reflect.TypeOf(int64(0))
	nodeType = reflect.TypeOf((*tree.Node)(nil))
)

func TestAddLambda(t *testing.T) {
	x := tree.NewVariable("x", intType)
	y := tree.NewVariable("y", intType)
	lam := tree.Lambda("add", []*tree.Variable{x, y},
		tree.Binary(tree.OpAdd, tree.Parameter(x), tree.Parameter(y), intType), intType)
	out, err := Run(lam, int64(1), int64(2))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != int64(3) {
		t.Fatalf("expected 3, got %v", out)
	}
}

func TestNestedClosureSeesOuterParameter(t *testing.T) {
	x := tree.NewVariable("x", intType)
	y := tree.NewVariable("y", intType)
	inner := tree.Lambda("inner", []*tree.Variable{y},
		tree.Binary(tree.OpAdd, tree.Parameter(x), tree.Parameter(y), intType), intType)
	outer := tree.Lambda("outer", []*tree.Variable{x}, inner, reflect.TypeOf(&closureVal{}))

	got, err := Run(outer, int64(1))
	if err != nil {
		t.Fatalf("outer: %v", err)
	}
	adder := got.(*closureVal)
	for _, arg := range []int64{2, 3} {
		out, err := adder.Invoke(arg)
		if err != nil {
			t.Fatalf("inner(%d): %v", arg, err)
		}
		if out != int64(1+arg) {
			t.Fatalf("inner(%d): expected %d, got %v", arg, 1+arg, out)
		}
	}
}

func TestQuoteAliasesLiveCell(t *testing.T) {
	x := tree.NewVariable("x", intType)
	q := tree.Quote(tree.Parameter(x), nodeType)
	body := tree.Block(nil,
		tree.Assign(tree.Parameter(x), tree.Constant(int64(5), intType)),
		q,
	)
	lam := tree.Lambda("quoter", []*tree.Variable{x}, body, nodeType)

	out, err := Run(lam, int64(1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rebound := out.(*tree.Node)
	if rebound.Kind != tree.KindCellRef {
		t.Fatalf("expected the quote to rebind x to a CellRef, got %v", rebound.Kind)
	}
	if rebound.CellRef.Value != int64(5) {
		t.Fatalf("expected the cell to see the pre-quote assignment, got %v", rebound.CellRef.Value)
	}
	rebound.CellRef.Value = int64(9)
	if rebound.CellRef.Value != int64(9) {
		t.Fatal("expected writes through the quote's cell to stick")
	}
}

func TestLoopPostIncrementBreaks(t *testing.T) {
	i := tree.NewVariable("i", intType)
	brk := &tree.LabelTarget{Name: "break"}
	body := tree.Conditional(
		tree.Binary(tree.OpLt, tree.Unary(tree.OpPostIncrement, tree.Parameter(i), intType), tree.Constant(int64(3), intType), reflect.TypeOf(false)),
		tree.Block(nil),
		tree.Goto(brk, tree.GotoPlain),
	)
	body.Type = nil
	block := tree.Block([]*tree.Variable{i},
		tree.Loop(body, brk, nil),
		tree.Parameter(i),
	)
	lam := tree.Lambda("count", nil, block, intType)
	out, err := Run(lam)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != int64(4) {
		t.Fatalf("expected i to stop at 4, got %v", out)
	}
}

func TestTryCatchFinallyOrdering(t *testing.T) {
	var trace []string
	mark := func(s string) *tree.MethodHandle {
		return &tree.MethodHandle{
			Name:   s,
			Static: true,
			Invoke: func(args []interface{}) (interface{}, error) {
				trace = append(trace, s)
				return nil, nil
			},
		}
	}
	boom := &tree.MethodHandle{
		Name:       "boom",
		ReturnType: intType,
		Static:     true,
		Invoke: func(args []interface{}) (interface{}, error) {
			return nil, errors.New("kaboom")
		},
	}
	ex := tree.NewVariable("ex", reflect.TypeOf((*error)(nil)).Elem())
	body := tree.Try(
		tree.Call(nil, boom),
		[]*tree.CatchBlock{{
			Variable: ex,
			Body: tree.Block(nil,
				tree.Call(nil, mark("catch")),
				tree.Constant(int64(2), intType),
			),
		}},
		tree.Call(nil, mark("finally")),
		nil,
	)
	lam := tree.Lambda("ordered", nil, body, intType)
	out, err := Run(lam)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != int64(2) {
		t.Fatalf("expected the handler's 2, got %v", out)
	}
	if len(trace) != 2 || trace[0] != "catch" || trace[1] != "finally" {
		t.Fatalf("expected catch then finally, got %v", trace)
	}
}

func TestRuntimeVariablesHandleReadsAndWrites(t *testing.T) {
	x := tree.NewVariable("x", intType)
	body := tree.Block(nil, tree.RuntimeVariables(x))
	body.Type = reflect.TypeOf((*cellVariables)(nil))
	lam := tree.Lambda("reify", []*tree.Variable{x}, body, body.Type)
	out, err := Run(lam, int64(7))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	vars := out.(runtimevars.IRuntimeVariables)
	if vars.Count() != 1 || vars.Get(0) != int64(7) {
		t.Fatalf("expected one variable holding 7, got %d holding %v", vars.Count(), vars.Get(0))
	}
	vars.Set(0, int64(9))
	if vars.Get(0) != int64(9) {
		t.Fatal("expected the handle write to stick")
	}
}

func TestCheckedOverflowFails(t *testing.T) {
	lam := tree.Lambda("overflow", nil,
		tree.CheckedBinary(tree.OpAdd,
			tree.Constant(int64(1<<62+(1<<62-1)), intType),
			tree.Constant(int64(1), intType),
			intType),
		intType)
	if _, err := Run(lam); err == nil {
		t.Fatal("expected a checked add at MaxInt64 to fail")
	}
}
