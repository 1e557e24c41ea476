// Package compiler is the pipeline front door: Compile takes a validated
// lambda tree and returns a callable running the tree's semantics, wiring
// the stages in order: stack spiller, variable binder, constant
// allocator, lambda compiler, environment and delegate builder. The
// reference interpreter is reachable through Interpret as the alternative
// backend a caller may choose.
package compiler

import (
	"lambdac/pkg/binder"
	"lambdac/pkg/constpool"
	"lambdac/pkg/emit"
	"lambdac/pkg/interp"
	"lambdac/pkg/jit"
	"lambdac/pkg/spill"
	"lambdac/pkg/tree"
	"lambdac/pkg/validate"
)

// Compile produces a callable for root, a well-formed lambda tree.
// Invoking the callable with arguments matching the lambda's declared
// signature executes the tree's semantics. Every failure is fatal to the
// compilation and leaves no partial artifact installed.
func Compile(root *tree.Node) (*jit.Callable, error) {
	c, _, err := CompileWithStats(root)
	return c, err
}

// CompileWithStats is Compile plus the emitter's per-compilation counters,
// for callers that trace the pipeline.
func CompileWithStats(root *tree.Node) (*jit.Callable, *emit.Stats, error) {
	if err := validate.Tree(root); err != nil {
		return nil, nil, err
	}
	spilled, err := spill.Spill(root)
	if err != nil {
		return nil, nil, err
	}
	binding, err := binder.Bind(spilled)
	if err != nil {
		return nil, nil, err
	}
	consts, err := constpool.Allocate(spilled)
	if err != nil {
		return nil, nil, err
	}
	compiled, err := emit.Compile(spilled, binding, consts)
	if err != nil {
		return nil, nil, err
	}
	env := &emit.Environment{Constants: compiled.Constants}
	return jit.Bind(compiled.Method, env, spilled), compiled.Stats, nil
}

// Interpret runs root directly on the reference interpreter with the given
// arguments, the backend Compile's output is checked against.
func Interpret(root *tree.Node, args ...interface{}) (interface{}, error) {
	return interp.Run(root, args...)
}
