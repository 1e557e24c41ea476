package constpool

import (
	"reflect"
	"testing"

	"lambdac/pkg/tree"
)

var intType = reflect.TypeOf(int64(0))
var strType = reflect.TypeOf("")

func TestAddReferenceInternsByPointerIdentity(t *testing.T) {
	bc := newBoundConstants()
	shared := &struct{ X int }{X: 1}
	typ := reflect.TypeOf(shared)

	s1 := bc.AddReference(shared, typ)
	s2 := bc.AddReference(shared, typ)

	if s1 != s2 {
		t.Fatal("expected two references to the same pointer to share a slot")
	}
	if s1.RefCount != 2 {
		t.Fatalf("expected RefCount 2, got %d", s1.RefCount)
	}
	if bc.Count() != 1 {
		t.Fatalf("expected a single slot, got %d", bc.Count())
	}
}

func TestAddReferenceDoesNotInternDistinctPointers(t *testing.T) {
	bc := newBoundConstants()
	a := &struct{ X int }{X: 1}
	b := &struct{ X int }{X: 1}
	typ := reflect.TypeOf(a)

	if bc.AddReference(a, typ) == bc.AddReference(b, typ) {
		t.Fatal("expected two distinct pointers, even with equal contents, to get distinct slots")
	}
}

func TestAddReferenceInternsComparableByValue(t *testing.T) {
	bc := newBoundConstants()
	s1 := bc.AddReference("hello", strType)
	s2 := bc.AddReference("hello", strType)
	if s1 != s2 {
		t.Fatal("expected two equal strings to share a slot")
	}
}

func TestAllocateNeverInterns(t *testing.T) {
	bc := newBoundConstants()
	s1 := bc.Allocate(intType)
	s2 := bc.Allocate(intType)
	if s1 == s2 {
		t.Fatal("expected Allocate to always reserve a fresh slot")
	}
	if s1.Filled || s2.Filled {
		t.Fatal("expected allocated slots to start unfilled")
	}
}

func TestShouldCacheInLocalTriggersAboveThreshold(t *testing.T) {
	bc := newBoundConstants()
	shared := &struct{}{}
	typ := reflect.TypeOf(shared)
	var s *Slot
	for i := 0; i < 3; i++ {
		s = bc.AddReference(shared, typ)
	}
	if !ShouldCacheInLocal(s) {
		t.Fatal("expected a constant read 3 times to clear the default caching threshold")
	}
}

func TestShouldCacheInLocalNotTriggeredAtThreshold(t *testing.T) {
	bc := newBoundConstants()
	shared := &struct{}{}
	typ := reflect.TypeOf(shared)
	s := bc.AddReference(shared, typ)
	bc.AddReference(shared, typ)
	if ShouldCacheInLocal(s) {
		t.Fatal("expected a constant read only twice to stay below the default caching threshold")
	}
}

func TestInlineableConstantsAreNotAllocated(t *testing.T) {
	x := tree.NewVariable("x", intType)
	body := tree.Binary(tree.OpAdd, tree.Parameter(x), tree.Constant(int64(1), intType), intType)
	lam := tree.Lambda("f", []*tree.Variable{x}, body, intType)

	result, err := Allocate(lam)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.Summary(lam).Constants.Count(); got != 0 {
		t.Fatalf("expected no slots for an inlineable constant, got %d", got)
	}
}

func TestLargeConstantIsAllocated(t *testing.T) {
	big := tree.Constant(int64(1)<<40, intType)
	lam := tree.Lambda("f", nil, big, intType)

	result, err := Allocate(lam)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.Summary(lam).Constants.Count(); got != 1 {
		t.Fatalf("expected one slot for a non-inlineable constant, got %d", got)
	}
}

func TestQuoteAllocatesTreeAndCellEnvSlots(t *testing.T) {
	x := tree.NewVariable("x", intType)
	quoted := tree.Parameter(x)
	q := tree.Quote(quoted, reflect.TypeOf((*tree.Node)(nil)))
	body := tree.Block(nil, tree.Parameter(x), q)
	lam := tree.Lambda("f", []*tree.Variable{x}, body, nil)

	result, err := Allocate(lam)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.Summary(lam).Constants.Count(); got != 2 {
		t.Fatalf("expected a tree slot and a cell-env slot, got %d", got)
	}
}

func TestQuoteWithNoFreeVariablesAllocatesOnlyTreeSlot(t *testing.T) {
	q := tree.Quote(tree.Constant(int64(1), intType), reflect.TypeOf((*tree.Node)(nil)))
	lam := tree.Lambda("f", nil, q, nil)

	result, err := Allocate(lam)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.Summary(lam).Constants.Count(); got != 1 {
		t.Fatalf("expected only the tree slot, got %d", got)
	}
}

func TestRuntimeVariablesAllocatesOneInt64ArraySlot(t *testing.T) {
	x := tree.NewVariable("x", intType)
	rv := tree.RuntimeVariables(x)
	lam := tree.Lambda("f", []*tree.Variable{x}, rv, nil)

	result, err := Allocate(lam)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	slots := result.Summary(lam).Constants.Slots()
	if len(slots) != 1 || slots[0].Type != int64SliceType {
		t.Fatalf("expected a single int64-array slot, got %+v", slots)
	}
}

func TestStringSwitchBelowThresholdUsesNoDispatchSlot(t *testing.T) {
	cases := make([]*tree.SwitchCase, 3)
	for i := range cases {
		cases[i] = &tree.SwitchCase{TestValues: []*tree.Node{tree.Constant("a", strType)}, Body: tree.Constant(int64(1), intType)}
	}
	sw := tree.Switch(tree.Constant("x", strType), cases, tree.Constant(int64(0), intType))
	lam := tree.Lambda("f", nil, sw, intType)

	result, err := Allocate(lam)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range result.Summary(lam).Constants.Slots() {
		if s.Type == switchDispatchType {
			t.Fatal("did not expect a dispatch-table slot below the hash-dispatch threshold")
		}
	}
}

func TestStringSwitchAtThresholdAllocatesDispatchSlot(t *testing.T) {
	cases := make([]*tree.SwitchCase, hashDispatchThreshold)
	for i := range cases {
		cases[i] = &tree.SwitchCase{TestValues: []*tree.Node{tree.Constant("a", strType)}, Body: tree.Constant(int64(1), intType)}
	}
	sw := tree.Switch(tree.Constant("x", strType), cases, tree.Constant(int64(0), intType))
	lam := tree.Lambda("f", nil, sw, intType)

	result, err := Allocate(lam)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, s := range result.Summary(lam).Constants.Slots() {
		if s.Type == switchDispatchType {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a dispatch-table slot at the hash-dispatch threshold")
	}
}

func TestDynamicNodeAllocatesSiteSlotOnce(t *testing.T) {
	site := &tree.DynamicCallSite{}
	dyn := tree.Dynamic(site, intType, tree.Constant(int64(1), intType))
	lam := tree.Lambda("f", nil, dyn, intType)

	result, err := Allocate(lam)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	slot := result.DynamicSite(dyn)
	if slot == nil {
		t.Fatal("expected a side-table entry for the dynamic call site")
	}
	if slot.Type != reflect.TypeOf(site) {
		t.Fatalf("expected the slot's type to be the call site's concrete type, got %v", slot.Type)
	}
}

func TestInlinedInvokeDoesNotCreateNestedSummary(t *testing.T) {
	x := tree.NewVariable("x", intType)
	inner := tree.Lambda("inner", []*tree.Variable{x}, tree.Parameter(x), intType)
	invoke := tree.Invoke(inner, intType, tree.Constant(int64(1)<<40, intType))
	outer := tree.Lambda("outer", nil, invoke, intType)

	result, err := Allocate(outer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Lambdas()) != 1 {
		t.Fatalf("expected only the outer lambda to get a summary, got %d", len(result.Lambdas()))
	}
	// The inlined body's own non-inlineable constant still belongs to outer.
	if got := result.Summary(outer).Constants.Count(); got != 1 {
		t.Fatalf("expected the inlined constant to land in the outer pool, got %d", got)
	}
}

func TestNonInlinedNestedLambdaReservesHandleAndConstantsSlots(t *testing.T) {
	inner := tree.Lambda("inner", nil, tree.Constant(int64(1), intType), intType)
	// inner occurs as a value here, not as the literal target of its own
	// Invoke, so it is not inlined.
	outer := tree.Lambda("outer", nil, tree.Block(nil, inner, tree.Constant(int64(0), intType)), intType)

	result, err := Allocate(outer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Lambdas()) != 2 {
		t.Fatalf("expected both lambdas to get summaries, got %d", len(result.Lambdas()))
	}
	nested := result.Summary(outer).Nested[inner]
	if nested == nil {
		t.Fatal("expected a reserved handle/constants slot pair for the nested lambda")
	}
	if nested.Handle == nested.Constants {
		t.Fatal("expected distinct slots for the handle and the nested constants record")
	}
}

func TestAllocateRejectsNonLambdaRoot(t *testing.T) {
	if _, err := Allocate(tree.Constant(int64(1), intType)); err == nil {
		t.Fatal("expected an error allocating against a non-lambda root")
	}
}
