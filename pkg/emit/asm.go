// Package emit is the code-generation backend: a stack-machine emitter
// substrate (method builder, labels, locals, structured exception regions,
// and the instruction set below) plus the Lambda Compiler that walks a
// validated, spilled, bound, constant-allocated tree and emits one method
// per non-inlined lambda into it.
//
// The instruction set is deliberately IL-shaped: load/store of arguments,
// locals and record fields, arithmetic, branches, calls, structured
// try/catch/finally/filter/fault regions. Methods are executed by the
// in-process virtual machine in vm.go rather than assembled to native
// code; the rest of the pipeline never depends on which it is.
package emit

import (
	"fmt"
	"reflect"

	"lambdac/internal/compileerr"
	"lambdac/pkg/closure"
	"lambdac/pkg/tree"
)

const stage = "emit"

// Op is the opcode of one Instruction.
type Op int

const (
	OpNop Op = iota

	// Stack and storage.
	OpLoadConst // push Value (an inlineable literal or a live object constant)
	OpLoadArg   // push argument A
	OpStoreArg  // pop into argument A
	OpLoadLocal // push local A
	OpStoreLocal
	OpDup
	OpPop

	// Environment access.
	OpLoadEnv       // push env.Constants.Get(A)
	OpStoreEnv      // pop into env.Constants.Set(A, ...)
	OpLoadEnvLocals // push env.Locals (the enclosing lambda's closure record, may be nil)

	// Closure records.
	OpNewRecord // pop parent (record or nil), push a fresh record of Shape
	OpRecGet    // pop record, push record.Get(A)
	OpRecSet    // pop value then record, record.Set(A, value)
	OpRecParent // pop record, push record.Parent()

	// Boxed cells.
	OpNewCell // push a fresh *tree.Cell of Typ; with FromStack, pop the initial value first
	OpCellGet // pop *tree.Cell, push its Value
	OpCellSet // pop value then *tree.Cell, store value

	// Arithmetic.
	OpBinary // pop right then left, push the BinOp result (Checked/Lifted honored)
	OpUnary  // pop operand, push the UnOp result

	// Control flow.
	OpBranch
	OpBranchIfTrue  // pop bool
	OpBranchIfFalse // pop bool
	OpSwitchTable   // pop string; hash-dispatch through env slot A (lazily built from StringCases)
	OpLeave         // exit try regions between here and Target, running their finally handlers
	OpEndFinally    // terminate a finally/fault handler
	OpEndFilter     // pop bool, terminate a filter handler
	OpRet           // return; pops the return value unless Void

	// Calls and allocation.
	OpCall           // pop Argc operands (receiver first when HasReceiver), call Method
	OpNewObject      // pop Argc operands, construct through Method (a constructor handle)
	OpCallDynamic    // pop Argc operands, dispatch through the call site in env slot A
	OpMakeDelegate   // pop locals record, constants record, method handle; push a Delegate
	OpInvokeDelegate // pop Argc arguments then the Delegate, invoke it

	// Runtime helpers, called by fixed handles.
	OpQuote                  // pop Argc cells (then the prototype when HasEnv) then the tree; push the rebound tree
	OpCreateRuntimeVariables // pop table then locals record, push the IRuntimeVariables handle
)

// Instruction is one emitted stack-machine instruction. Only the operands
// the Op consults are populated.
type Instruction struct {
	Op Op

	A     int         // slot / field / argument index
	Argc  int         // operand count for calls, cell count for OpQuote
	Value interface{} // OpLoadConst payload
	Typ   reflect.Type

	Shape  *closure.RecordShape
	Method *tree.MethodHandle

	BinOp   tree.BinaryOp
	UnOp    tree.UnaryOp
	Checked bool
	Lifted  bool

	Target      *Label
	Targets     []*Label   // OpSwitchTable case targets
	StringCases [][]string // OpSwitchTable: the string literals of each case, index-aligned with Targets

	HasReceiver bool
	HasParent   bool
	HasEnv      bool
	FromStack   bool
	Void        bool
}

// Label is a branch target. It is created unmarked and resolved to an
// instruction offset by Mark; Finish rejects a method with unmarked labels
// still referenced by a branch.
type Label struct {
	Name string
	pc   int
}

// PC returns the label's resolved instruction offset.
func (l *Label) PC() int {
	return l.pc
}

// CatchHandler is one catch clause of a Region, resolved to offsets.
type CatchHandler struct {
	Type        reflect.Type // nil catches everything
	FilterStart int          // -1 when unfiltered
	Handler     int
	ExLocal     int // -1 when the clause binds no variable
}

// Region is one structured exception region: the protected instruction
// range, its catch clauses, and the optional finally/fault handler. Full
// additionally covers the region's own handler code, so unwinding and
// OpLeave can tell "inside this try construct" from "inside its protected
// body".
type Region struct {
	Start, End   int // protected range, half-open
	FullEnd      int // end of the region including its handlers
	Catches      []*CatchHandler
	FinallyStart int // -1 when absent
	FaultStart   int // -1 when absent
}

func (r *Region) protects(pc int) bool {
	return pc >= r.Start && pc < r.End
}

func (r *Region) covers(pc int) bool {
	return pc >= r.Start && pc < r.FullEnd
}

// Method is one emitted function: the instruction stream, its exception
// regions (innermost first, the order their EndTry completed), and the
// frame sizes the virtual machine allocates on invocation.
type Method struct {
	Name         string
	Code         []Instruction
	Regions      []*Region
	NumArgs      int
	NumLocals    int
	ReturnsValue bool
}

// MethodBuilder assembles one Method: append-only instruction emission,
// label definition and marking, local-slot management with a per-type
// freelist, and a region stack for structured exception emission.
type MethodBuilder struct {
	name    string
	numArgs int
	returns bool

	code    []Instruction
	labels  []*Label
	regions []*Region
	open    []*openRegion

	locals *localAllocator
}

type openRegion struct {
	start        int
	catches      []*CatchHandler
	finallyStart int
	faultStart   int
}

// NewMethodBuilder starts a method with numArgs declared parameters.
func NewMethodBuilder(name string, numArgs int, returnsValue bool) *MethodBuilder {
	return &MethodBuilder{
		name:    name,
		numArgs: numArgs,
		returns: returnsValue,
		locals:  newLocalAllocator(),
	}
}

// Emit appends ins and returns its offset.
func (b *MethodBuilder) Emit(ins Instruction) int {
	b.code = append(b.code, ins)
	return len(b.code) - 1
}

// NewLabel creates an unmarked label.
func (b *MethodBuilder) NewLabel(name string) *Label {
	l := &Label{Name: name, pc: -1}
	b.labels = append(b.labels, l)
	return l
}

// Mark resolves l to the next instruction offset.
func (b *MethodBuilder) Mark(l *Label) {
	l.pc = len(b.code)
}

// NextPC returns the offset the next emitted instruction will occupy.
func (b *MethodBuilder) NextPC() int {
	return len(b.code)
}

// AllocLocal reserves a local slot for typ, reusing a freed slot of the
// same type when one is available.
func (b *MethodBuilder) AllocLocal(typ reflect.Type) int {
	return b.locals.alloc(typ)
}

// FreeLocal returns slot to the freelist for reuse by later scratch locals
// of the same type.
func (b *MethodBuilder) FreeLocal(typ reflect.Type, slot int) {
	b.locals.free(typ, slot)
}

// BeginTry opens an exception region protecting the instructions emitted
// until the matching EndTry.
func (b *MethodBuilder) BeginTry() {
	b.open = append(b.open, &openRegion{
		start:        len(b.code),
		finallyStart: -1,
		faultStart:   -1,
	})
}

// AddCatch registers a catch clause starting at the next instruction. The
// filter funclet, when present, must already have been emitted and its
// start recorded by the caller.
func (b *MethodBuilder) AddCatch(typ reflect.Type, filterStart, exLocal int) {
	r := b.innermost()
	r.catches = append(r.catches, &CatchHandler{
		Type:        typ,
		FilterStart: filterStart,
		Handler:     len(b.code),
		ExLocal:     exLocal,
	})
}

// BeginFinally marks the next instruction as the innermost region's
// finally handler.
func (b *MethodBuilder) BeginFinally() {
	b.innermost().finallyStart = len(b.code)
}

// BeginFault marks the next instruction as the innermost region's fault
// handler, run only when the protected range unwinds with an exception.
func (b *MethodBuilder) BeginFault() {
	b.innermost().faultStart = len(b.code)
}

// EndTry closes the innermost open region. protectedEnd is the offset at
// which the protected range ended (recorded by the caller before emitting
// handlers).
func (b *MethodBuilder) EndTry(protectedEnd int) {
	r := b.innermost()
	b.open = b.open[:len(b.open)-1]
	b.regions = append(b.regions, &Region{
		Start:        r.start,
		End:          protectedEnd,
		FullEnd:      len(b.code),
		Catches:      r.catches,
		FinallyStart: r.finallyStart,
		FaultStart:   r.faultStart,
	})
}

// TryDepth returns the number of currently open exception regions.
func (b *MethodBuilder) TryDepth() int {
	return len(b.open)
}

func (b *MethodBuilder) innermost() *openRegion {
	if len(b.open) == 0 {
		panic("emit: no open exception region")
	}
	return b.open[len(b.open)-1]
}

// Finish verifies the assembled method (every referenced label marked,
// every region closed) and returns it.
func (b *MethodBuilder) Finish() (*Method, error) {
	if len(b.open) != 0 {
		return nil, compileerr.MalformedTree(stage, "method %q finished with %d exception regions still open", b.name, len(b.open))
	}
	for _, ins := range b.code {
		if ins.Target != nil && ins.Target.pc < 0 {
			return nil, compileerr.MalformedTree(stage, "method %q branches to unmarked label %q", b.name, ins.Target.Name)
		}
		for _, t := range ins.Targets {
			if t.pc < 0 {
				return nil, compileerr.MalformedTree(stage, "method %q switch targets unmarked label %q", b.name, t.Name)
			}
		}
	}
	return &Method{
		Name:         b.name,
		Code:         b.code,
		Regions:      b.regions,
		NumArgs:      b.numArgs,
		NumLocals:    b.locals.count(),
		ReturnsValue: b.returns,
	}, nil
}

// Disassemble renders the method as one instruction per line, for the -v
// trace in cmd/lambdac and for debugging emitted code in tests.
func (m *Method) Disassemble() string {
	out := ""
	for i, ins := range m.Code {
		out += fmt.Sprintf("%4d: %s\n", i, ins.describe())
	}
	return out
}

func (ins *Instruction) describe() string {
	switch ins.Op {
	case OpLoadConst:
		return fmt.Sprintf("ldc %v", ins.Value)
	case OpLoadArg:
		return fmt.Sprintf("ldarg %d", ins.A)
	case OpStoreArg:
		return fmt.Sprintf("starg %d", ins.A)
	case OpLoadLocal:
		return fmt.Sprintf("ldloc %d", ins.A)
	case OpStoreLocal:
		return fmt.Sprintf("stloc %d", ins.A)
	case OpLoadEnv:
		return fmt.Sprintf("ldenv %d", ins.A)
	case OpStoreEnv:
		return fmt.Sprintf("stenv %d", ins.A)
	case OpBranch:
		return fmt.Sprintf("br %d", ins.Target.pc)
	case OpBranchIfTrue:
		return fmt.Sprintf("brtrue %d", ins.Target.pc)
	case OpBranchIfFalse:
		return fmt.Sprintf("brfalse %d", ins.Target.pc)
	case OpLeave:
		return fmt.Sprintf("leave %d", ins.Target.pc)
	case OpBinary:
		return fmt.Sprintf("bin %d", ins.BinOp)
	case OpCall:
		return fmt.Sprintf("call %s", ins.Method.Name)
	case OpRet:
		if ins.Void {
			return "ret.void"
		}
		return "ret"
	default:
		return fmt.Sprintf("op%d", ins.Op)
	}
}
