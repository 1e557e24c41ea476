package emit

import (
	"fmt"
	"strings"
)

// Stats tracks per-compilation counters across every method the Lambda
// Compiler emitted for one root lambda.
type Stats struct {
	// Methods and inlining
	MethodsEmitted int // non-inlined lambdas, each its own method
	LambdasInlined int // Invoke-of-literal-lambda sites emitted inline

	// Closure layout
	ClosureRecordsBuilt int // prologues that allocate a closure record
	VariablesHoisted    int // variables stored through a record field
	CellsAllocated      int // boxed cells created in prologues

	// Constant pool
	ConstantsCached  int // bound constants copied to a local by the caching heuristic
	ConstantsInlined int // constants materialized by a single load instruction

	// Dead-code elision
	VoidLoadsElided int // pure expressions in void context that produced no code

	// Control flow
	LeaveJumps int // gotos emitted as leave because they exit a try region
	LongJumps  int // gotos crossing more than one exception region

	// Switch lowering
	HashSwitches   int // string switches lowered to hash-table dispatch
	LinearSwitches int // switches lowered to a comparison chain
}

// String returns a formatted per-compilation report.
func (s *Stats) String() string {
	var sb strings.Builder
	sb.WriteString("=== Compilation Statistics ===\n")
	fmt.Fprintf(&sb, "Methods emitted:        %d\n", s.MethodsEmitted)
	fmt.Fprintf(&sb, "Lambdas inlined:        %d\n", s.LambdasInlined)
	fmt.Fprintf(&sb, "Closure records built:  %d\n", s.ClosureRecordsBuilt)
	fmt.Fprintf(&sb, "Variables hoisted:      %d\n", s.VariablesHoisted)
	fmt.Fprintf(&sb, "Cells allocated:        %d\n", s.CellsAllocated)
	fmt.Fprintf(&sb, "Constants cached:       %d\n", s.ConstantsCached)
	fmt.Fprintf(&sb, "Constants inlined:      %d\n", s.ConstantsInlined)
	fmt.Fprintf(&sb, "Void loads elided:      %d\n", s.VoidLoadsElided)
	fmt.Fprintf(&sb, "Leave jumps:            %d\n", s.LeaveJumps)
	fmt.Fprintf(&sb, "Long jumps:             %d\n", s.LongJumps)
	fmt.Fprintf(&sb, "Hash switches:          %d\n", s.HashSwitches)
	fmt.Fprintf(&sb, "Linear switches:        %d\n", s.LinearSwitches)
	return sb.String()
}
