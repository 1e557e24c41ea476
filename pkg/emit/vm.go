package emit

import (
	"fmt"
	"reflect"

	"lambdac/pkg/closure"
	"lambdac/pkg/quote"
	"lambdac/pkg/runtimevars"
	"lambdac/pkg/tree"
)

// Environment is the pair every generated method receives as its implicit
// argument 0: the bound-constants record of the method's own lambda, and
// the closure record of the enclosing lambda's invocation (nil at the top
// level).
type Environment struct {
	Constants *closure.Record
	Locals    *closure.Record
}

// Delegate is an emitted method bound to its environment: the callable
// value a Lambda node evaluates to, and the target an Invoke node calls
// through when the lambda is not a literal.
type Delegate struct {
	Method *Method
	Env    *Environment
}

// Invoke runs the delegate with args.
func (d *Delegate) Invoke(args ...interface{}) (interface{}, error) {
	return Run(d.Method, d.Env, args)
}

// execution modes for the shared instruction loop: the main body returns
// through OpRet; finally/fault handlers return through OpEndFinally; filter
// handlers return their verdict through OpEndFilter.
const (
	modeMain = iota
	modeFinally
	modeFilter
)

type frame struct {
	m      *Method
	env    *Environment
	args   []interface{}
	locals []interface{}
	stack  []interface{}
}

// Run executes m against env with the given arguments. Runtime failures
// inside the emitted code (a checked-arithmetic overflow, a division by
// zero, an error returned by a called method handle) unwind through the
// method's exception regions and, when unhandled, surface as the returned
// error without wrapping.
func Run(m *Method, env *Environment, args []interface{}) (interface{}, error) {
	if len(args) != m.NumArgs {
		return nil, fmt.Errorf("emit: method %q expects %d arguments, got %d", m.Name, m.NumArgs, len(args))
	}
	if env == nil {
		env = &Environment{}
	}
	f := &frame{
		m:      m,
		env:    env,
		args:   append([]interface{}(nil), args...),
		locals: make([]interface{}, m.NumLocals),
	}
	return f.exec(0, modeMain)
}

func (f *frame) push(v interface{}) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() interface{} {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

// popN pops n operands and returns them in push order.
func (f *frame) popN(n int) []interface{} {
	out := make([]interface{}, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = f.pop()
	}
	return out
}

func (f *frame) exec(pc int, mode int) (interface{}, error) {
	code := f.m.Code
	for pc < len(code) {
		ins := &code[pc]
		switch ins.Op {
		case OpNop:

		case OpLoadConst:
			f.push(ins.Value)
		case OpLoadArg:
			f.push(f.args[ins.A])
		case OpStoreArg:
			f.args[ins.A] = f.pop()
		case OpLoadLocal:
			f.push(f.locals[ins.A])
		case OpStoreLocal:
			f.locals[ins.A] = f.pop()
		case OpDup:
			f.push(f.stack[len(f.stack)-1])
		case OpPop:
			f.pop()

		case OpLoadEnv:
			f.push(f.env.Constants.Get(ins.A))
		case OpStoreEnv:
			f.env.Constants.Set(ins.A, f.pop())
		case OpLoadEnvLocals:
			if f.env.Locals == nil {
				f.push(nil)
			} else {
				f.push(f.env.Locals)
			}

		case OpNewRecord:
			parent, _ := f.pop().(*closure.Record)
			rec := closure.New(ins.Shape, parent)
			if ins.HasParent && parent != nil {
				rec.Set(0, parent)
			}
			f.push(rec)
		case OpRecGet:
			rec := f.pop().(*closure.Record)
			f.push(rec.Get(ins.A))
		case OpRecSet:
			v := f.pop()
			rec := f.pop().(*closure.Record)
			rec.Set(ins.A, v)
		case OpRecParent:
			rec := f.pop().(*closure.Record)
			if p := rec.Parent(); p == nil {
				f.push(nil)
			} else {
				f.push(p)
			}

		case OpNewCell:
			cell := &tree.Cell{Type: ins.Typ}
			if ins.FromStack {
				cell.Value = f.pop()
			} else if ins.Typ != nil {
				cell.Value = reflect.Zero(ins.Typ).Interface()
			}
			f.push(cell)
		case OpCellGet:
			f.push(f.pop().(*tree.Cell).Value)
		case OpCellSet:
			v := f.pop()
			f.pop().(*tree.Cell).Value = v

		case OpBinary:
			r := f.pop()
			l := f.pop()
			res, err := evalBinary(ins.BinOp, ins.Checked, ins.Lifted, l, r)
			if err != nil {
				next, uerr := f.unwind(pc, err, mode)
				if uerr != nil {
					return nil, uerr
				}
				pc = next
				continue
			}
			f.push(res)
		case OpUnary:
			res, err := evalUnary(ins.UnOp, f.pop())
			if err != nil {
				next, uerr := f.unwind(pc, err, mode)
				if uerr != nil {
					return nil, uerr
				}
				pc = next
				continue
			}
			f.push(res)

		case OpBranch:
			pc = ins.Target.pc
			continue
		case OpBranchIfTrue, OpBranchIfFalse:
			b, ok := f.pop().(bool)
			if !ok {
				return nil, fmt.Errorf("emit: method %q branched on a non-boolean at %d", f.m.Name, pc)
			}
			if b == (ins.Op == OpBranchIfTrue) {
				pc = ins.Target.pc
				continue
			}
		case OpSwitchTable:
			table := f.switchTable(ins)
			s, _ := f.pop().(string)
			if idx, ok := table[s]; ok {
				pc = ins.Targets[idx].pc
			} else {
				pc = ins.Target.pc
			}
			continue

		case OpLeave:
			target := ins.Target.pc
			var pending error
			for _, reg := range f.m.Regions {
				if !reg.covers(pc) || reg.covers(target) || reg.FinallyStart < 0 {
					continue
				}
				if _, err := f.exec(reg.FinallyStart, modeFinally); err != nil {
					pending = err
					break
				}
			}
			if pending != nil {
				next, uerr := f.unwind(pc, pending, mode)
				if uerr != nil {
					return nil, uerr
				}
				pc = next
				continue
			}
			pc = target
			continue

		case OpEndFinally:
			if mode == modeFinally {
				return nil, nil
			}
			return nil, fmt.Errorf("emit: method %q reached OpEndFinally outside a handler", f.m.Name)
		case OpEndFilter:
			if mode == modeFilter {
				return f.pop(), nil
			}
			return nil, fmt.Errorf("emit: method %q reached OpEndFilter outside a filter", f.m.Name)

		case OpRet:
			if ins.Void {
				return nil, nil
			}
			return f.pop(), nil

		case OpCall, OpNewObject:
			args := f.popN(ins.Argc)
			res, err := ins.Method.Invoke(args)
			if err != nil {
				next, uerr := f.unwind(pc, err, mode)
				if uerr != nil {
					return nil, uerr
				}
				pc = next
				continue
			}
			if ins.Op == OpNewObject || ins.Method.ReturnType != nil {
				f.push(res)
			}
		case OpCallDynamic:
			args := f.popN(ins.Argc)
			site := f.env.Constants.Get(ins.A).(*tree.DynamicCallSite)
			res, err := site.Binder(args)
			if err != nil {
				next, uerr := f.unwind(pc, err, mode)
				if uerr != nil {
					return nil, uerr
				}
				pc = next
				continue
			}
			f.push(res)

		case OpMakeDelegate:
			localsRec, _ := f.pop().(*closure.Record)
			constRec, _ := f.pop().(*closure.Record)
			handle := f.pop().(reflect.Value)
			f.push(&Delegate{
				Method: handle.Interface().(*Method),
				Env:    &Environment{Constants: constRec, Locals: localsRec},
			})
		case OpInvokeDelegate:
			args := f.popN(ins.Argc)
			d := f.pop().(*Delegate)
			res, err := d.Invoke(args...)
			if err != nil {
				next, uerr := f.unwind(pc, err, mode)
				if uerr != nil {
					return nil, uerr
				}
				pc = next
				continue
			}
			if d.Method.ReturnsValue {
				f.push(res)
			}

		case OpQuote:
			cellVals := f.popN(ins.Argc)
			cells := make([]*tree.Cell, len(cellVals))
			for i, c := range cellVals {
				cells[i] = c.(*tree.Cell)
			}
			var qenv *quote.HoistedLocals
			if ins.HasEnv {
				qenv = f.pop().(*quote.HoistedLocals).Instantiate(cells)
			} else {
				qenv = quote.NewHoistedLocals()
			}
			quoted := f.pop().(*tree.Node)
			f.push(quote.Quote(quoted, qenv))

		case OpCreateRuntimeVariables:
			table := asTable(f.pop())
			rec, _ := f.pop().(*closure.Record)
			f.push(runtimevars.CreateRuntimeVariables(rec, table))

		default:
			return nil, fmt.Errorf("emit: method %q contains unknown opcode %d at %d", f.m.Name, ins.Op, pc)
		}
		pc++
	}
	if mode == modeMain && !f.m.ReturnsValue {
		return nil, nil
	}
	return nil, fmt.Errorf("emit: method %q fell off the end of its instruction stream", f.m.Name)
}

// switchTable returns the lazily built hash-dispatch table backing an
// OpSwitchTable instruction, building it into the env slot on first use.
func (f *frame) switchTable(ins *Instruction) map[string]int {
	if m, ok := f.env.Constants.Get(ins.A).(map[string]int); ok && m != nil {
		return m
	}
	table := make(map[string]int)
	for i, lits := range ins.StringCases {
		for _, s := range lits {
			if _, dup := table[s]; !dup {
				table[s] = i
			}
		}
	}
	f.env.Constants.Set(ins.A, table)
	return table
}

func asTable(v interface{}) runtimevars.Table {
	switch t := v.(type) {
	case runtimevars.Table:
		return t
	case []int64:
		return runtimevars.Table(t)
	}
	panic(fmt.Sprintf("emit: runtime-variables slot holds %T, not an index table", v))
}

// unwind dispatches ex raised at pc: the innermost region protecting pc
// gets first claim through its catch clauses (filters consulted, a throwing
// filter counting as a non-match); regions that decline run their fault and
// finally handlers and pass the exception outward. Inside a funclet the
// exception always propagates to the invoking unwinder instead. Returns the
// handler pc to resume at, or the exception to surface from the method.
func (f *frame) unwind(pc int, ex error, mode int) (int, error) {
	if mode != modeMain {
		return 0, ex
	}
	for _, reg := range f.m.Regions {
		if !reg.covers(pc) {
			continue
		}
		if reg.protects(pc) {
			for _, c := range reg.Catches {
				if !catchMatches(c, ex) {
					continue
				}
				if c.FilterStart >= 0 {
					if c.ExLocal >= 0 {
						f.locals[c.ExLocal] = ex
					}
					verdict, ferr := f.exec(c.FilterStart, modeFilter)
					if ferr != nil || verdict != true {
						continue
					}
				}
				if c.ExLocal >= 0 {
					f.locals[c.ExLocal] = ex
				}
				f.stack = f.stack[:0]
				return c.Handler, nil
			}
			if reg.FaultStart >= 0 {
				if _, ferr := f.exec(reg.FaultStart, modeFinally); ferr != nil {
					ex = ferr
				}
			}
		}
		if reg.FinallyStart >= 0 {
			if _, ferr := f.exec(reg.FinallyStart, modeFinally); ferr != nil {
				ex = ferr
			}
		}
	}
	return 0, ex
}

func catchMatches(c *CatchHandler, ex error) bool {
	if c.Type == nil {
		return true
	}
	return reflect.TypeOf(ex).AssignableTo(c.Type)
}
