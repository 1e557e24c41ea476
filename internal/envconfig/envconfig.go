// Package envconfig centralizes the handful of process-wide tunables
// lambdac reads from the environment, the way xyproto-flapc configures its
// build from LAMBDAC_*-style variables via github.com/xyproto/env/v2.
package envconfig

import "github.com/xyproto/env/v2"

// CacheThreshold is the number of reads a bound constant must exceed
// before the caching heuristic decides it is worth copying into a local
// rather than re-reading it from the constants record every time. The
// default of 2 is a heuristic (too aggressive in branches, too
// conservative in loops), so it is overridable rather than hardcoded.
func CacheThreshold() int64 {
	return env.Int64("LAMBDAC_CONST_CACHE_THRESHOLD", 2)
}

// StackGuardDepth is the recursion depth at which the analysis and
// emission tree walks rebound onto a fresh goroutine stack instead of
// growing the current one indefinitely on a pathologically deep tree.
func StackGuardDepth() int64 {
	return env.Int64("LAMBDAC_STACK_GUARD_DEPTH", 10000)
}

// PregeneratedClosureArity is the configured arity ceiling for
// pre-generated closure record shapes (default 16). The closure record
// factory reads it once and otherwise ignores it: no shapes are
// pre-generated, and records of every arity are built on demand and cached
// under a mutex.
func PregeneratedClosureArity() int64 {
	return env.Int64("LAMBDAC_CLOSURE_PREGEN_ARITY", 16)
}

// VerboseDiagnostics reports whether the CLI driver prints its verbose
// trace (the same output as its -v flag) to stderr. The VM does not read
// it.
func VerboseDiagnostics() bool {
	return env.Bool("LAMBDAC_VERBOSE")
}
