package constpool

import "lambdac/pkg/tree"

// LambdaSummary is the allocation result for one lambda: its own bound-
// constants pool, plus, for every literal nested lambda that Allocate
// decided not to inline, the two slots reserved for it.
type LambdaSummary struct {
	Lambda    *tree.Node
	Constants *BoundConstants
	Nested    map[*tree.Node]*NestedLambdaSlots
}

// NestedLambdaSlots are the two slots reserved, in the enclosing lambda's
// pool, for a non-inlined nested lambda: a handle to call it through and a
// slot for its own bound-constants record.
type NestedLambdaSlots struct {
	Handle    *Slot
	Constants *Slot
}

func newLambdaSummary(lambda *tree.Node) *LambdaSummary {
	return &LambdaSummary{
		Lambda:    lambda,
		Constants: newBoundConstants(),
		Nested:    make(map[*tree.Node]*NestedLambdaSlots),
	}
}

// Result is the allocator's output: one LambdaSummary per non-inlined
// lambda reachable from the root, keyed by the Lambda node itself.
type Result struct {
	summaries    map[*tree.Node]*LambdaSummary
	order        []*tree.Node
	dynamicSites map[*tree.Node]*Slot
	constSlots   map[*tree.Node]*Slot
	quoteTree    map[*tree.Node]*Slot
	quoteEnv     map[*tree.Node]*Slot
	runtimeVars  map[*tree.Node]*Slot
	switchDisp   map[*tree.Node]*Slot
}

// Summary returns lambda's allocation result. It panics if lambda was never
// visited, which is a caller bug: every Lambda node in the tree handed to
// Allocate is either the root or reached by the walk.
func (r *Result) Summary(lambda *tree.Node) *LambdaSummary {
	s, ok := r.summaries[lambda]
	if !ok {
		panic("constpool: lambda was not visited during allocation")
	}
	return s
}

// Lambdas returns every lambda a summary was built for, in the order
// Allocate first reached them (the root first).
func (r *Result) Lambdas() []*tree.Node {
	return r.order
}

// DynamicSite returns the slot reserved for a Dynamic node's call site, so
// the emitter can address the same slot without the tree needing to be
// mutated to carry a replacement node.
func (r *Result) DynamicSite(n *tree.Node) *Slot {
	return r.dynamicSites[n]
}

// ConstantSlot returns the slot a non-inlineable Constant node's value was
// interned into, or nil if n was inlineable and so never got a slot at all.
func (r *Result) ConstantSlot(n *tree.Node) *Slot {
	return r.constSlots[n]
}

// QuoteTreeSlot returns the slot reserved for a Quote node's own sub-tree
// constant.
func (r *Result) QuoteTreeSlot(n *tree.Node) *Slot {
	return r.quoteTree[n]
}

// QuoteEnvSlot returns the slot reserved for a Quote node's cell-environment,
// or nil if the quoted sub-tree has no free variables to capture.
func (r *Result) QuoteEnvSlot(n *tree.Node) *Slot {
	return r.quoteEnv[n]
}

// RuntimeVariablesSlot returns the slot reserved for a RuntimeVariables
// node's backing int64 array.
func (r *Result) RuntimeVariablesSlot(n *tree.Node) *Slot {
	return r.runtimeVars[n]
}

// SwitchDispatchSlot returns the slot reserved for a string Switch's
// hash-dispatch table, or nil if n stayed below the hash-dispatch threshold.
func (r *Result) SwitchDispatchSlot(n *tree.Node) *Slot {
	return r.switchDisp[n]
}
