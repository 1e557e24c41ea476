// Package jit is the Environment & Delegate Builder: it wraps an emitted
// method together with its live environment (the bound-constants record
// and the optional top-level closure) into a value the caller can invoke,
// either generically or as a Go func of the lambda's declared signature.
package jit

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"lambdac/pkg/emit"
	"lambdac/pkg/tree"
)

// Callable is a compiled lambda bound to its environment. It owns the
// constants record and the closure records its invocations create; they
// stay reachable for as long as the Callable and every quote descending
// from it do.
type Callable struct {
	method *emit.Method
	env    *emit.Environment
	params []reflect.Type
	ret    reflect.Type
}

// Bind wraps method and env as the callable for lam, whose declared
// parameter and return types shape the typed view.
func Bind(method *emit.Method, env *emit.Environment, lam *tree.Node) *Callable {
	params := make([]reflect.Type, len(lam.Params))
	for i, p := range lam.Params {
		params[i] = p.Type
	}
	return &Callable{method: method, env: env, params: params, ret: lam.Type}
}

// Invoke runs the compiled lambda with args, checking arity but leaving
// argument types to the emitted code.
func (c *Callable) Invoke(args ...interface{}) (interface{}, error) {
	if len(args) != len(c.params) {
		return nil, fmt.Errorf("jit: callable expects %d arguments, got %d", len(c.params), len(args))
	}
	return emit.Run(c.method, c.env, args)
}

// Delegate returns the same binding as an emit.Delegate, the value a
// nested Lambda node evaluates to inside generated code.
func (c *Callable) Delegate() *emit.Delegate {
	return &emit.Delegate{Method: c.method, Env: c.env}
}

// Method exposes the underlying emitted method, for disassembly traces.
func (c *Callable) Method() *emit.Method {
	return c.method
}

// Typed materializes the callable as a Go func value of the lambda's
// declared signature. A runtime failure inside the compiled code panics
// through the typed view, since the signature leaves no error channel;
// callers that need the error use Invoke.
func (c *Callable) Typed() interface{} {
	ft := DelegateType(c.params, c.ret)
	fn := reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		args := make([]interface{}, len(in))
		for i, v := range in {
			args[i] = v.Interface()
		}
		out, err := emit.Run(c.method, c.env, args)
		if err != nil {
			panic(err)
		}
		if c.ret == nil {
			return nil
		}
		if out == nil {
			return []reflect.Value{reflect.Zero(c.ret)}
		}
		return []reflect.Value{reflect.ValueOf(out)}
	})
	return fn.Interface()
}

// The delegate-type cache: one process-wide table from signature to
// func type, serialized by a single mutex and never invalidated. Warm
// after the first few compilations.
var (
	delegateMu    sync.Mutex
	delegateTypes = make(map[string]reflect.Type)
)

// DelegateType returns the Go func type for a parameter list and return
// type, cached by signature.
func DelegateType(params []reflect.Type, ret reflect.Type) reflect.Type {
	key := signatureKey(params, ret)
	delegateMu.Lock()
	defer delegateMu.Unlock()
	if t, ok := delegateTypes[key]; ok {
		return t
	}
	var outs []reflect.Type
	if ret != nil {
		outs = []reflect.Type{ret}
	}
	t := reflect.FuncOf(params, outs, false)
	delegateTypes[key] = t
	return t
}

func signatureKey(params []reflect.Type, ret reflect.Type) string {
	var sb strings.Builder
	for _, p := range params {
		sb.WriteString(p.String())
		sb.WriteByte(',')
	}
	sb.WriteString("->")
	if ret != nil {
		sb.WriteString(ret.String())
	}
	return sb.String()
}
