package emit

import (
	"reflect"

	"lambdac/internal/compileerr"
	"lambdac/pkg/binder"
	"lambdac/pkg/closure"
	"lambdac/pkg/tree"
)

// locKind is where a variable lives within the current frame. Hoisted
// variables have no frame location at all; they resolve through the
// closure-record chain instead.
type locKind int

const (
	locArg   locKind = iota // machine argument slot
	locLocal                // frame local slot
	locBoxed                // frame local slot holding the variable's *tree.Cell
)

type varLoc struct {
	kind locKind
	slot int
}

// scopeInfo is one entered lambda scope: the frame-root lambda itself, or
// a literal lambda inlined at an Invoke site. Block scopes do not get an
// entry; their plain locals are registered into the innermost scope for
// the block's extent.
type scopeInfo struct {
	lambda     *tree.Node
	layout     *binder.ClosureLayout
	recordSlot int // -1 when the scope allocates no closure record
	vars       map[*tree.Variable]varLoc
}

// enterLambdaScope emits the prologue of lam's scope: allocate the
// closure record when the layout calls for one, thread the parent
// back-reference, box and store incoming parameters per their storage
// kind, and pre-create the cells of every Boxed and HoistedBoxed variable
// declared anywhere in lam's own body. fromArgs is true for the method's
// own lambda, whose parameters arrive in argument slots; an inlined scope
// receives its parameter values from the caller afterwards instead.
func (lc *lambdaCompiler) enterLambdaScope(lam *tree.Node, fromArgs bool) error {
	sc := &scopeInfo{
		lambda:     lam,
		layout:     lc.c.binding.Closure(lam),
		recordSlot: -1,
		vars:       make(map[*tree.Variable]varLoc),
	}

	if sc.layout != nil {
		if sc.layout.NeedsParent {
			lc.emitCurrentRecordOrNil()
		} else {
			lc.b.Emit(Instruction{Op: OpLoadConst})
		}
		lc.b.Emit(Instruction{
			Op:        OpNewRecord,
			Shape:     lc.shapeFor(sc.layout),
			HasParent: sc.layout.NeedsParent,
		})
		sc.recordSlot = lc.b.AllocLocal(recordPtrType)
		lc.b.Emit(Instruction{Op: OpStoreLocal, A: sc.recordSlot})
		lc.c.stats.ClosureRecordsBuilt++
	}
	lc.scopes = append(lc.scopes, sc)

	for i, p := range lam.Params {
		kind := lc.c.binding.Kind(p)
		if fromArgs {
			if err := lc.storeIncomingParam(sc, p, i, kind); err != nil {
				return err
			}
		} else {
			if err := lc.declareInlinedParam(sc, p, kind); err != nil {
				return err
			}
		}
	}

	lc.precreateCells(sc, lam.Body)
	return nil
}

func (lc *lambdaCompiler) exitScope() {
	sc := lc.scopes[len(lc.scopes)-1]
	lc.scopes = lc.scopes[:len(lc.scopes)-1]
	for v, loc := range sc.vars {
		switch loc.kind {
		case locLocal:
			lc.b.FreeLocal(v.Type, loc.slot)
		case locBoxed:
			lc.b.FreeLocal(cellPtrType, loc.slot)
		}
	}
	if sc.recordSlot >= 0 {
		lc.b.FreeLocal(recordPtrType, sc.recordSlot)
	}
}

func (lc *lambdaCompiler) storeIncomingParam(sc *scopeInfo, p *tree.Variable, arg int, kind binder.StorageKind) error {
	switch kind {
	case binder.Argument:
		sc.vars[p] = varLoc{kind: locArg, slot: arg}
	case binder.Local:
		slot := lc.b.AllocLocal(p.Type)
		lc.b.Emit(Instruction{Op: OpLoadArg, A: arg})
		lc.b.Emit(Instruction{Op: OpStoreLocal, A: slot})
		sc.vars[p] = varLoc{kind: locLocal, slot: slot}
	case binder.Boxed:
		slot := lc.b.AllocLocal(cellPtrType)
		lc.b.Emit(Instruction{Op: OpLoadArg, A: arg})
		lc.b.Emit(Instruction{Op: OpNewCell, Typ: p.Type, FromStack: true})
		lc.b.Emit(Instruction{Op: OpStoreLocal, A: slot})
		sc.vars[p] = varLoc{kind: locBoxed, slot: slot}
		lc.c.stats.CellsAllocated++
	case binder.Hoisted:
		lc.b.Emit(Instruction{Op: OpLoadLocal, A: sc.recordSlot})
		lc.b.Emit(Instruction{Op: OpLoadArg, A: arg})
		lc.b.Emit(Instruction{Op: OpRecSet, A: sc.layout.FieldIndex(p)})
		lc.c.stats.VariablesHoisted++
	case binder.HoistedBoxed:
		lc.b.Emit(Instruction{Op: OpLoadLocal, A: sc.recordSlot})
		lc.b.Emit(Instruction{Op: OpLoadArg, A: arg})
		lc.b.Emit(Instruction{Op: OpNewCell, Typ: p.Type, FromStack: true})
		lc.b.Emit(Instruction{Op: OpRecSet, A: sc.layout.FieldIndex(p)})
		lc.c.stats.VariablesHoisted++
		lc.c.stats.CellsAllocated++
	}
	return nil
}

// declareInlinedParam sets up storage for a parameter of an inlined
// lambda; the caller assigns the argument values afterwards through
// emitVarStoreFromStack, so only the storage itself is created here.
func (lc *lambdaCompiler) declareInlinedParam(sc *scopeInfo, p *tree.Variable, kind binder.StorageKind) error {
	switch kind {
	case binder.Argument, binder.Local:
		slot := lc.b.AllocLocal(p.Type)
		lc.b.Emit(Instruction{Op: OpLoadConst, Value: zeroValue(p.Type)})
		lc.b.Emit(Instruction{Op: OpStoreLocal, A: slot})
		sc.vars[p] = varLoc{kind: locLocal, slot: slot}
	case binder.Boxed:
		slot := lc.b.AllocLocal(cellPtrType)
		lc.b.Emit(Instruction{Op: OpNewCell, Typ: p.Type})
		lc.b.Emit(Instruction{Op: OpStoreLocal, A: slot})
		sc.vars[p] = varLoc{kind: locBoxed, slot: slot}
		lc.c.stats.CellsAllocated++
	case binder.Hoisted:
		lc.c.stats.VariablesHoisted++
	case binder.HoistedBoxed:
		lc.b.Emit(Instruction{Op: OpLoadLocal, A: sc.recordSlot})
		lc.b.Emit(Instruction{Op: OpNewCell, Typ: p.Type})
		lc.b.Emit(Instruction{Op: OpRecSet, A: sc.layout.FieldIndex(p)})
		lc.c.stats.VariablesHoisted++
		lc.c.stats.CellsAllocated++
	}
	return nil
}

// precreateCells creates, at scope entry, the cells of every Boxed and
// HoistedBoxed non-parameter variable declared in lam's own body. Quote
// aliasing requires exactly one cell per variable per invocation, so cells
// cannot wait for block entry: two quotes in sibling blocks must still
// share one cell.
func (lc *lambdaCompiler) precreateCells(sc *scopeInfo, body *tree.Node) {
	var visit func(n *tree.Node)
	declare := func(v *tree.Variable) {
		if _, seen := sc.vars[v]; seen {
			return
		}
		switch lc.c.binding.Kind(v) {
		case binder.Boxed:
			slot := lc.b.AllocLocal(cellPtrType)
			lc.b.Emit(Instruction{Op: OpNewCell, Typ: v.Type})
			lc.b.Emit(Instruction{Op: OpStoreLocal, A: slot})
			sc.vars[v] = varLoc{kind: locBoxed, slot: slot}
			lc.c.stats.CellsAllocated++
		case binder.HoistedBoxed:
			lc.b.Emit(Instruction{Op: OpLoadLocal, A: sc.recordSlot})
			lc.b.Emit(Instruction{Op: OpNewCell, Typ: v.Type})
			lc.b.Emit(Instruction{Op: OpRecSet, A: sc.layout.FieldIndex(v)})
			lc.c.stats.VariablesHoisted++
			lc.c.stats.CellsAllocated++
		case binder.Hoisted:
			lc.c.stats.VariablesHoisted++
		}
	}
	visit = func(n *tree.Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case tree.KindLambda, tree.KindQuote:
			return
		case tree.KindBlock:
			for _, v := range n.Locals {
				declare(v)
			}
		case tree.KindTry:
			for _, c := range n.Catches {
				if c.Variable != nil {
					declare(c.Variable)
				}
			}
		}
		for _, c := range n.Children() {
			visit(c)
		}
	}
	visit(body)
}

// enterBlockLocals allocates frame slots for a Block's plain locals,
// default-initialized, and returns the release function that frees them
// when the block's emission completes. Boxed and hoisted locals were given
// their storage at scope entry and are untouched here.
func (lc *lambdaCompiler) enterBlockLocals(n *tree.Node) func() {
	sc := lc.scopes[len(lc.scopes)-1]
	type allocated struct {
		v    *tree.Variable
		slot int
	}
	var slots []allocated
	for _, v := range n.Locals {
		if lc.c.binding.Kind(v) != binder.Local {
			continue
		}
		slot := lc.b.AllocLocal(v.Type)
		lc.b.Emit(Instruction{Op: OpLoadConst, Value: zeroValue(v.Type)})
		lc.b.Emit(Instruction{Op: OpStoreLocal, A: slot})
		sc.vars[v] = varLoc{kind: locLocal, slot: slot}
		slots = append(slots, allocated{v, slot})
	}
	return func() {
		for _, a := range slots {
			delete(sc.vars, a.v)
			lc.b.FreeLocal(a.v.Type, a.slot)
		}
	}
}

// shapeFor translates a binder layout into a record shape: the parent
// back-reference at field 0 when present, then one field per hoisted
// variable in declaration order, typed as the cell pointer for
// HoistedBoxed variables and as the variable's own type otherwise.
func (lc *lambdaCompiler) shapeFor(layout *binder.ClosureLayout) *closure.RecordShape {
	types := make([]reflect.Type, 0, layout.Arity())
	if layout.NeedsParent {
		types = append(types, recordPtrType)
	}
	for _, f := range layout.Fields {
		if lc.c.binding.Kind(f) == binder.HoistedBoxed {
			types = append(types, cellPtrType)
		} else {
			types = append(types, f.Type)
		}
	}
	return closure.ShapeOf(types)
}

// lookupLocal resolves v against the frame's scope stack, innermost first.
func (lc *lambdaCompiler) lookupLocal(v *tree.Variable) (varLoc, bool) {
	for i := len(lc.scopes) - 1; i >= 0; i-- {
		if loc, ok := lc.scopes[i].vars[v]; ok {
			return loc, true
		}
	}
	return varLoc{}, false
}

// currentLayout returns the closure layout whose record the innermost
// scope can reach: the nearest scope that allocated one, falling back to
// the layout delivered through env.Locals.
func (lc *lambdaCompiler) currentLayout() *binder.ClosureLayout {
	for i := len(lc.scopes) - 1; i >= 0; i-- {
		if lc.scopes[i].layout != nil {
			return lc.scopes[i].layout
		}
	}
	return lc.envLayout
}

// emitCurrentRecordOrNil pushes the innermost reachable closure record:
// the nearest in-frame record local, or env.Locals when no scope in this
// frame allocated one.
func (lc *lambdaCompiler) emitCurrentRecordOrNil() {
	for i := len(lc.scopes) - 1; i >= 0; i-- {
		if lc.scopes[i].recordSlot >= 0 {
			lc.b.Emit(Instruction{Op: OpLoadLocal, A: lc.scopes[i].recordSlot})
			return
		}
	}
	lc.b.Emit(Instruction{Op: OpLoadEnvLocals})
}

// emitHoistedAddress pushes the closure record holding v and returns v's
// field index within it, walking parent back-references as needed.
func (lc *lambdaCompiler) emitHoistedAddress(v *tree.Variable) (int, error) {
	defLam := lc.c.binding.DefiningLambda(v)
	layout := lc.currentLayout()
	lc.emitCurrentRecordOrNil()
	for layout != nil && layout.Lambda != defLam {
		layout = layout.Parent
		lc.b.Emit(Instruction{Op: OpRecParent})
	}
	if layout == nil {
		return 0, compileerr.MalformedTree(stage, "variable %q used outside its declaring scope", v.Name)
	}
	idx := layout.FieldIndex(v)
	if idx < 0 {
		return 0, compileerr.MalformedTree(stage, "variable %q is not hoisted into its lambda's closure record", v.Name)
	}
	return idx, nil
}

func (lc *lambdaCompiler) emitVarLoad(v *tree.Variable) error {
	if loc, ok := lc.lookupLocal(v); ok {
		switch loc.kind {
		case locArg:
			lc.b.Emit(Instruction{Op: OpLoadArg, A: loc.slot})
		case locLocal:
			lc.b.Emit(Instruction{Op: OpLoadLocal, A: loc.slot})
		case locBoxed:
			lc.b.Emit(Instruction{Op: OpLoadLocal, A: loc.slot})
			lc.b.Emit(Instruction{Op: OpCellGet})
		}
		return nil
	}
	kind := lc.c.binding.Kind(v)
	if !kind.IsHoisted() {
		return compileerr.MalformedTree(stage, "variable %q used outside its declaring scope", v.Name)
	}
	idx, err := lc.emitHoistedAddress(v)
	if err != nil {
		return err
	}
	lc.b.Emit(Instruction{Op: OpRecGet, A: idx})
	if kind == binder.HoistedBoxed {
		lc.b.Emit(Instruction{Op: OpCellGet})
	}
	return nil
}

// emitVarStoreFromStack stores the value on top of the stack into v,
// consuming it. Cell and record targets stage the value through a scratch
// local so the container can be pushed beneath it.
func (lc *lambdaCompiler) emitVarStoreFromStack(v *tree.Variable) error {
	if loc, ok := lc.lookupLocal(v); ok {
		switch loc.kind {
		case locArg:
			lc.b.Emit(Instruction{Op: OpStoreArg, A: loc.slot})
		case locLocal:
			lc.b.Emit(Instruction{Op: OpStoreLocal, A: loc.slot})
		case locBoxed:
			tmp := lc.b.AllocLocal(v.Type)
			lc.b.Emit(Instruction{Op: OpStoreLocal, A: tmp})
			lc.b.Emit(Instruction{Op: OpLoadLocal, A: loc.slot})
			lc.b.Emit(Instruction{Op: OpLoadLocal, A: tmp})
			lc.b.Emit(Instruction{Op: OpCellSet})
			lc.b.FreeLocal(v.Type, tmp)
		}
		return nil
	}
	kind := lc.c.binding.Kind(v)
	if !kind.IsHoisted() {
		return compileerr.MalformedTree(stage, "variable %q assigned outside its declaring scope", v.Name)
	}
	tmp := lc.b.AllocLocal(v.Type)
	lc.b.Emit(Instruction{Op: OpStoreLocal, A: tmp})
	idx, err := lc.emitHoistedAddress(v)
	if err != nil {
		return err
	}
	if kind == binder.HoistedBoxed {
		lc.b.Emit(Instruction{Op: OpRecGet, A: idx})
		lc.b.Emit(Instruction{Op: OpLoadLocal, A: tmp})
		lc.b.Emit(Instruction{Op: OpCellSet})
	} else {
		lc.b.Emit(Instruction{Op: OpLoadLocal, A: tmp})
		lc.b.Emit(Instruction{Op: OpRecSet, A: idx})
	}
	lc.b.FreeLocal(v.Type, tmp)
	return nil
}

// emitCellStoreFromStack stores the value on top of the stack through a
// live cell constant (a CellRef target inside a compiled quote).
func (lc *lambdaCompiler) emitCellStoreFromStack(cell *tree.Cell) {
	tmp := lc.b.AllocLocal(cell.Type)
	lc.b.Emit(Instruction{Op: OpStoreLocal, A: tmp})
	lc.b.Emit(Instruction{Op: OpLoadConst, Value: cell})
	lc.b.Emit(Instruction{Op: OpLoadLocal, A: tmp})
	lc.b.Emit(Instruction{Op: OpCellSet})
	lc.b.FreeLocal(cell.Type, tmp)
}

// emitCellLoad pushes the cell object itself, not its value, for a
// variable the binder boxed, feeding a quote's cell-environment.
func (lc *lambdaCompiler) emitCellLoad(v *tree.Variable) error {
	if loc, ok := lc.lookupLocal(v); ok && loc.kind == locBoxed {
		lc.b.Emit(Instruction{Op: OpLoadLocal, A: loc.slot})
		return nil
	}
	if lc.c.binding.Kind(v) == binder.HoistedBoxed {
		idx, err := lc.emitHoistedAddress(v)
		if err != nil {
			return err
		}
		lc.b.Emit(Instruction{Op: OpRecGet, A: idx})
		return nil
	}
	return compileerr.MalformedTree(stage, "quote captures variable %q, which the binder did not box", v.Name)
}

func zeroValue(typ reflect.Type) interface{} {
	if typ == nil {
		return nil
	}
	return reflect.Zero(typ).Interface()
}
