package constpool

import (
	"reflect"

	"lambdac/internal/compileerr"
	"lambdac/internal/envconfig"
	"lambdac/pkg/closure"
	"lambdac/pkg/quote"
	"lambdac/pkg/scanner"
	"lambdac/pkg/tree"
)

// ShouldCacheInLocal reports whether the lambda compiler's prologue
// should copy s's value into a fresh local once, rather than re-reading the
// constants record field on every use: the bound-constant caching
// heuristic, triggered once a slot is read more often than the configured
// threshold.
func ShouldCacheInLocal(s *Slot) bool {
	return int64(s.RefCount) > envconfig.CacheThreshold()
}

var (
	hoistedLocalsType  = reflect.TypeOf((*quote.HoistedLocals)(nil))
	int64SliceType     = reflect.TypeOf([]int64(nil))
	switchDispatchType = reflect.TypeOf(map[string]int(nil))
	dynamicSiteType    = reflect.TypeOf((*tree.DynamicCallSite)(nil))
	recordType         = reflect.TypeOf((*closure.Record)(nil))
	methodHandleType   = reflect.TypeOf(reflect.Value{})
	stringType         = reflect.TypeOf("")
)

// hashDispatchThreshold is the case count at which a string Switch is
// lowered to a lazily initialized hash-table dispatch instead of a linear
// comparison chain.
const hashDispatchThreshold = 7

func isHashDispatchEligible(n *tree.Node) bool {
	return n.SwitchValue != nil && n.SwitchValue.Type == stringType && len(n.Cases) >= hashDispatchThreshold
}

// isInlineable reports whether a constant value is small enough for the
// emitter to materialize with a single inline instruction (small integer
// literals, null, boolean, primitive zero values), and so needs no pool
// slot at all.
func isInlineable(value interface{}, typ reflect.Type) bool {
	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return true
	case int64:
		return v >= -(1<<31) && v < (1<<31)
	case int32:
		return true
	case float64:
		return v == 0
	case float32:
		return v == 0
	}
	return false
}

// Allocate walks root, a lambda's body, allocating bound constants and
// auxiliary slots for it and, recursively, for every non-inlined nested
// lambda reachable from it. A literal lambda that occurs as the target of
// its own Invoke is emitted inline and contributes to the enclosing
// lambda's pool instead of getting one of its own.
func Allocate(root *tree.Node) (*Result, error) {
	if root == nil || root.Kind != tree.KindLambda {
		return nil, compileerr.MalformedTree(stage, "constant allocation root must be a lambda, got %v", kindOf(root))
	}
	r := &Result{
		summaries:    make(map[*tree.Node]*LambdaSummary),
		dynamicSites: make(map[*tree.Node]*Slot),
		constSlots:   make(map[*tree.Node]*Slot),
		quoteTree:    make(map[*tree.Node]*Slot),
		quoteEnv:     make(map[*tree.Node]*Slot),
		runtimeVars:  make(map[*tree.Node]*Slot),
		switchDisp:   make(map[*tree.Node]*Slot),
	}
	if err := r.visitLambda(root, 0); err != nil {
		return nil, err
	}
	return r, nil
}

func kindOf(n *tree.Node) interface{} {
	if n == nil {
		return "nil"
	}
	return n.Kind
}

func (r *Result) visitLambda(lam *tree.Node, depth int) error {
	summary := newLambdaSummary(lam)
	r.summaries[lam] = summary
	r.order = append(r.order, lam)
	return r.walk(lam.Body, summary, depth+1)
}

// walk dispatches to walkNode directly or, once depth passes the
// stack-growth-guard threshold, rebounds the same traversal onto a fresh
// goroutine stack: a goroutine starts with a small stack that grows
// independently of the caller's, so resuming the walk inside one is a
// genuine fresh stack, not just a relabeling of the same frames.
func (r *Result) walk(n *tree.Node, summary *LambdaSummary, depth int) error {
	if n == nil {
		return nil
	}
	if int64(depth) < envconfig.StackGuardDepth() {
		return r.walkNode(n, summary, depth)
	}
	type outcome struct{ err error }
	done := make(chan outcome, 1)
	go func() {
		done <- outcome{r.walkNode(n, summary, 0)}
	}()
	out := <-done
	return out.err
}

func (r *Result) walkNode(n *tree.Node, summary *LambdaSummary, depth int) error {
	switch n.Kind {
	case tree.KindConstant:
		if !isInlineable(n.Value, n.Type) {
			r.constSlots[n] = summary.Constants.AddReference(n.Value, n.Type)
		}
		return nil

	case tree.KindLambda:
		return r.allocateNestedLambda(n, summary, depth)

	case tree.KindInvoke:
		if n.Target != nil && n.Target.Kind == tree.KindLambda {
			if err := r.walk(n.Target.Body, summary, depth+1); err != nil {
				return err
			}
		} else if err := r.walk(n.Target, summary, depth+1); err != nil {
			return err
		}
		for _, a := range n.Args {
			if err := r.walk(a, summary, depth+1); err != nil {
				return err
			}
		}
		return nil

	case tree.KindQuote:
		r.quoteTree[n] = summary.Constants.Allocate(n.Type)
		if n.Quoted != nil && len(scanner.FreeVariables(n.Quoted)) > 0 {
			r.quoteEnv[n] = summary.Constants.Allocate(hoistedLocalsType)
		}
		return nil

	case tree.KindRuntimeVariables:
		r.runtimeVars[n] = summary.Constants.Allocate(int64SliceType)
		return nil

	case tree.KindSwitch:
		if isHashDispatchEligible(n) {
			r.switchDisp[n] = summary.Constants.Allocate(switchDispatchType)
		}
		for _, c := range n.Children() {
			if err := r.walk(c, summary, depth+1); err != nil {
				return err
			}
		}
		return nil

	case tree.KindDynamic:
		siteType := dynamicSiteType
		site := n.Site
		if site != nil {
			siteType = reflect.TypeOf(site)
		}
		slot := summary.Constants.Allocate(siteType)
		r.dynamicSites[n] = slot
		for _, a := range n.Args {
			if err := r.walk(a, summary, depth+1); err != nil {
				return err
			}
		}
		return nil

	default:
		for _, c := range n.Children() {
			if err := r.walk(c, summary, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
}

// allocateNestedLambda handles a Lambda node reached somewhere other than
// as the literal, inlined target of its own Invoke: it reserves a
// reflection-handle slot and a nested-bound-constants-record-type slot in
// the enclosing pool, then recursively allocates the nested lambda's own
// pool as an independent compilation unit.
func (r *Result) allocateNestedLambda(nested *tree.Node, enclosing *LambdaSummary, depth int) error {
	if err := r.visitLambda(nested, depth+1); err != nil {
		return err
	}
	enclosing.Nested[nested] = &NestedLambdaSlots{
		Handle:    enclosing.Constants.Allocate(methodHandleType),
		Constants: enclosing.Constants.Allocate(recordType),
	}
	return nil
}
