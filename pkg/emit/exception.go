package emit

import (
	"lambdac/pkg/binder"
	"lambdac/pkg/tree"
)

// getLabel returns the emitter label for a LabelTarget, creating it on
// first reference so forward gotos resolve once the Label node is reached.
func (lc *lambdaCompiler) getLabel(target *tree.LabelTarget) *Label {
	if l, ok := lc.labels[target]; ok {
		return l
	}
	l := lc.b.NewLabel(target.Name)
	lc.labels[target] = l
	return l
}

// emitGoto lowers a jump. A goto emitted inside an open exception region,
// or one the caller already marked as region-crossing, uses the
// substrate's leave semantics so the finally handlers of every exited
// region run; a long jump crossing more than one region is additionally
// counted in the side table the stats carry.
func (lc *lambdaCompiler) emitGoto(n *tree.Node) {
	target := lc.getLabel(n.Label)
	depth := lc.b.TryDepth()
	if depth > 0 || n.GotoKind != tree.GotoPlain {
		lc.b.Emit(Instruction{Op: OpLeave, Target: target})
		lc.c.stats.LeaveJumps++
		if depth > 1 || n.GotoKind == tree.GotoLong {
			lc.c.stats.LongJumps++
		}
		return
	}
	lc.b.Emit(Instruction{Op: OpBranch, Target: target})
}

// emitTry lowers a Try node onto the substrate's structured regions. The
// spiller guarantees the node is entered at stack depth zero, so the
// protected body, every handler, and the join point all communicate
// through a result local rather than the operand stack.
func (lc *lambdaCompiler) emitTry(n *tree.Node, void bool, depth int) error {
	hasValue := !void && n.Type != nil
	resultLocal := -1
	if hasValue {
		resultLocal = lc.b.AllocLocal(n.Type)
	}
	after := lc.b.NewLabel("tryEnd")

	lc.b.BeginTry()
	if err := lc.emitNode(n.Body, !hasValue, depth+1); err != nil {
		return err
	}
	if hasValue {
		lc.b.Emit(Instruction{Op: OpStoreLocal, A: resultLocal})
	}
	lc.b.Emit(Instruction{Op: OpLeave, Target: after})
	protectedEnd := lc.b.NextPC()

	for _, c := range n.Catches {
		if err := lc.emitCatch(c, hasValue, resultLocal, after, depth); err != nil {
			return err
		}
	}
	if n.Finally != nil {
		lc.b.BeginFinally()
		if err := lc.emitNode(n.Finally, true, depth+1); err != nil {
			return err
		}
		lc.b.Emit(Instruction{Op: OpEndFinally})
	}
	if n.Fault != nil {
		lc.b.BeginFault()
		if err := lc.emitNode(n.Fault, true, depth+1); err != nil {
			return err
		}
		lc.b.Emit(Instruction{Op: OpEndFinally})
	}
	lc.b.EndTry(protectedEnd)

	lc.b.Mark(after)
	if hasValue {
		lc.b.Emit(Instruction{Op: OpLoadLocal, A: resultLocal})
		lc.b.FreeLocal(n.Type, resultLocal)
	}
	return nil
}

// emitCatch emits one catch clause: the optional filter funclet (compiled
// with the exception variable aliased to the scratch slot the unwinder
// fills before running the filter), then the handler, which moves the
// exception into the variable's declared storage before the body runs.
func (lc *lambdaCompiler) emitCatch(c *tree.CatchBlock, hasValue bool, resultLocal int, after *Label, depth int) error {
	sc := lc.scopes[len(lc.scopes)-1]
	exLocal := lc.b.AllocLocal(errorType)

	filterStart := -1
	if c.Filter != nil {
		filterStart = lc.b.NextPC()
		var saved varLoc
		var had bool
		if c.Variable != nil {
			saved, had = sc.vars[c.Variable]
			sc.vars[c.Variable] = varLoc{kind: locLocal, slot: exLocal}
		}
		err := lc.emitNode(c.Filter, false, depth+1)
		if c.Variable != nil {
			if had {
				sc.vars[c.Variable] = saved
			} else {
				delete(sc.vars, c.Variable)
			}
		}
		if err != nil {
			return err
		}
		lc.b.Emit(Instruction{Op: OpEndFilter})
	}

	lc.b.AddCatch(c.ExceptionType, filterStart, exLocal)

	var bodySlot int
	var bodyLocal bool
	if c.Variable != nil {
		if lc.c.binding.Kind(c.Variable) == binder.Local {
			bodySlot = lc.b.AllocLocal(c.Variable.Type)
			sc.vars[c.Variable] = varLoc{kind: locLocal, slot: bodySlot}
			bodyLocal = true
		}
		lc.b.Emit(Instruction{Op: OpLoadLocal, A: exLocal})
		if err := lc.emitVarStoreFromStack(c.Variable); err != nil {
			return err
		}
	}
	if err := lc.emitNode(c.Body, !hasValue, depth+1); err != nil {
		return err
	}
	if hasValue {
		lc.b.Emit(Instruction{Op: OpStoreLocal, A: resultLocal})
	}
	lc.b.Emit(Instruction{Op: OpLeave, Target: after})

	if bodyLocal {
		delete(sc.vars, c.Variable)
		lc.b.FreeLocal(c.Variable.Type, bodySlot)
	}
	lc.b.FreeLocal(errorType, exLocal)
	return nil
}

// emitSwitch lowers a Switch. A string switch the allocator deemed
// eligible dispatches through a lazily built hash table held in a
// constants slot; everything else compares the scrutinee against each test
// value in order.
func (lc *lambdaCompiler) emitSwitch(n *tree.Node, void bool, depth int) error {
	hasValue := !void && n.Type != nil
	resultLocal := -1
	if hasValue {
		resultLocal = lc.b.AllocLocal(n.Type)
	}
	end := lc.b.NewLabel("switchEnd")

	dispatchSlot := lc.c.consts.SwitchDispatchSlot(n)
	stringCases, allLiteral := literalStringCases(n)

	caseLabels := make([]*Label, len(n.Cases))
	for i := range n.Cases {
		caseLabels[i] = lc.b.NewLabel("case")
	}
	defaultLabel := lc.b.NewLabel("default")

	if dispatchSlot != nil && allLiteral {
		if err := lc.emitNode(n.SwitchValue, false, depth+1); err != nil {
			return err
		}
		lc.b.Emit(Instruction{
			Op:          OpSwitchTable,
			A:           dispatchSlot.Index,
			Targets:     caseLabels,
			Target:      defaultLabel,
			StringCases: stringCases,
		})
		lc.c.stats.HashSwitches++
	} else {
		if err := lc.emitNode(n.SwitchValue, false, depth+1); err != nil {
			return err
		}
		scrutinee := lc.b.AllocLocal(n.SwitchValue.Type)
		lc.b.Emit(Instruction{Op: OpStoreLocal, A: scrutinee})
		for i, c := range n.Cases {
			for _, tv := range c.TestValues {
				lc.b.Emit(Instruction{Op: OpLoadLocal, A: scrutinee})
				if err := lc.emitNode(tv, false, depth+1); err != nil {
					return err
				}
				lc.b.Emit(Instruction{Op: OpBinary, BinOp: tree.OpEq})
				lc.b.Emit(Instruction{Op: OpBranchIfTrue, Target: caseLabels[i]})
			}
		}
		lc.b.Emit(Instruction{Op: OpBranch, Target: defaultLabel})
		lc.b.FreeLocal(n.SwitchValue.Type, scrutinee)
		lc.c.stats.LinearSwitches++
	}

	for i, c := range n.Cases {
		lc.b.Mark(caseLabels[i])
		if err := lc.emitNode(c.Body, !hasValue, depth+1); err != nil {
			return err
		}
		if hasValue {
			lc.b.Emit(Instruction{Op: OpStoreLocal, A: resultLocal})
		}
		lc.b.Emit(Instruction{Op: OpBranch, Target: end})
	}

	lc.b.Mark(defaultLabel)
	if n.Default != nil {
		if err := lc.emitNode(n.Default, !hasValue, depth+1); err != nil {
			return err
		}
		if hasValue {
			lc.b.Emit(Instruction{Op: OpStoreLocal, A: resultLocal})
		}
	} else if hasValue {
		lc.b.Emit(Instruction{Op: OpLoadConst, Value: zeroValue(n.Type)})
		lc.b.Emit(Instruction{Op: OpStoreLocal, A: resultLocal})
	}

	lc.b.Mark(end)
	if hasValue {
		lc.b.Emit(Instruction{Op: OpLoadLocal, A: resultLocal})
		lc.b.FreeLocal(n.Type, resultLocal)
	}
	return nil
}

// literalStringCases extracts each case's test strings when every test
// value is a literal string constant, the precondition for hash-table
// dispatch; a switch with any computed test value falls back to the
// comparison chain even if the allocator reserved a dispatch slot.
func literalStringCases(n *tree.Node) ([][]string, bool) {
	out := make([][]string, len(n.Cases))
	for i, c := range n.Cases {
		for _, tv := range c.TestValues {
			s, ok := constantString(tv)
			if !ok {
				return nil, false
			}
			out[i] = append(out[i], s)
		}
	}
	return out, true
}

func constantString(n *tree.Node) (string, bool) {
	if n == nil || n.Kind != tree.KindConstant {
		return "", false
	}
	s, ok := n.Value.(string)
	return s, ok
}
