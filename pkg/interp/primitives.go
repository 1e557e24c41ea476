package interp

import (
	"fmt"
	"math"
	"reflect"

	"lambdac/pkg/tree"
)

// binaryOp is the interpreter's primitive dispatch: one entry per operator,
// each handling the operand types the tree model supports. Semantics match
// the compiled backend instruction for instruction (same lifted rules,
// same overflow checks, same division-by-zero failure), since the two
// backends must be observably interchangeable.
func binaryOp(op tree.BinaryOp, checked, lifted bool, l, r interface{}) (interface{}, error) {
	if lifted && (l == nil || r == nil) {
		switch op {
		case tree.OpEq:
			return l == nil && r == nil, nil
		case tree.OpNotEq:
			return !(l == nil && r == nil), nil
		case tree.OpLt, tree.OpLe, tree.OpGt, tree.OpGe:
			return false, nil
		default:
			return nil, nil
		}
	}
	switch op {
	case tree.OpAdd:
		return primAdd(checked, l, r)
	case tree.OpSub:
		return primSub(checked, l, r)
	case tree.OpMul:
		return primMul(checked, l, r)
	case tree.OpDiv:
		return primDiv(l, r)
	case tree.OpMod:
		return primMod(l, r)
	case tree.OpEq:
		return primEqual(l, r), nil
	case tree.OpNotEq:
		return !primEqual(l, r), nil
	case tree.OpLt, tree.OpLe, tree.OpGt, tree.OpGe:
		return primCompare(op, l, r)
	case tree.OpAnd:
		if lb, ok := l.(bool); ok {
			if rb, ok := r.(bool); ok {
				return lb && rb, nil
			}
		}
	case tree.OpOr:
		if lb, ok := l.(bool); ok {
			if rb, ok := r.(bool); ok {
				return lb || rb, nil
			}
		}
	}
	return nil, fmt.Errorf("interp: operator %d not defined for %T and %T", op, l, r)
}

func primAdd(checked bool, l, r interface{}) (interface{}, error) {
	switch lv := l.(type) {
	case int64:
		if rv, ok := r.(int64); ok {
			sum := lv + rv
			if checked && ((rv > 0 && sum < lv) || (rv < 0 && sum > lv)) {
				return nil, fmt.Errorf("interp: integer overflow in checked add")
			}
			return sum, nil
		}
	case float64:
		if rv, ok := r.(float64); ok {
			return lv + rv, nil
		}
	case string:
		if rv, ok := r.(string); ok {
			return lv + rv, nil
		}
	}
	return nil, fmt.Errorf("interp: cannot add %T and %T", l, r)
}

func primSub(checked bool, l, r interface{}) (interface{}, error) {
	switch lv := l.(type) {
	case int64:
		if rv, ok := r.(int64); ok {
			diff := lv - rv
			if checked && ((rv > 0 && diff > lv) || (rv < 0 && diff < lv)) {
				return nil, fmt.Errorf("interp: integer overflow in checked subtract")
			}
			return diff, nil
		}
	case float64:
		if rv, ok := r.(float64); ok {
			return lv - rv, nil
		}
	}
	return nil, fmt.Errorf("interp: cannot subtract %T from %T", r, l)
}

func primMul(checked bool, l, r interface{}) (interface{}, error) {
	switch lv := l.(type) {
	case int64:
		if rv, ok := r.(int64); ok {
			if checked && lv != 0 {
				prod := lv * rv
				if prod/lv != rv || (lv == -1 && rv == math.MinInt64) {
					return nil, fmt.Errorf("interp: integer overflow in checked multiply")
				}
				return prod, nil
			}
			return lv * rv, nil
		}
	case float64:
		if rv, ok := r.(float64); ok {
			return lv * rv, nil
		}
	}
	return nil, fmt.Errorf("interp: cannot multiply %T and %T", l, r)
}

func primDiv(l, r interface{}) (interface{}, error) {
	switch lv := l.(type) {
	case int64:
		if rv, ok := r.(int64); ok {
			if rv == 0 {
				return nil, fmt.Errorf("interp: integer division by zero")
			}
			return lv / rv, nil
		}
	case float64:
		if rv, ok := r.(float64); ok {
			return lv / rv, nil
		}
	}
	return nil, fmt.Errorf("interp: cannot divide %T by %T", l, r)
}

func primMod(l, r interface{}) (interface{}, error) {
	if lv, ok := l.(int64); ok {
		if rv, ok := r.(int64); ok {
			if rv == 0 {
				return nil, fmt.Errorf("interp: integer division by zero")
			}
			return lv % rv, nil
		}
	}
	return nil, fmt.Errorf("interp: cannot take %T modulo %T", l, r)
}

func primEqual(l, r interface{}) bool {
	if l == nil || r == nil {
		return l == r
	}
	lv, rv := reflect.ValueOf(l), reflect.ValueOf(r)
	switch lv.Kind() {
	case reflect.Ptr, reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Map, reflect.Slice:
		if rv.Kind() != lv.Kind() {
			return false
		}
		return lv.Pointer() == rv.Pointer()
	}
	if lv.Type() != rv.Type() || !lv.Type().Comparable() {
		return false
	}
	return l == r
}

func primCompare(op tree.BinaryOp, l, r interface{}) (interface{}, error) {
	var cmp int
	switch lv := l.(type) {
	case int64:
		rv, ok := r.(int64)
		if !ok {
			return nil, fmt.Errorf("interp: cannot compare int64 with %T", r)
		}
		cmp = compareOrdered(lv, rv)
	case float64:
		rv, ok := r.(float64)
		if !ok {
			return nil, fmt.Errorf("interp: cannot compare float64 with %T", r)
		}
		cmp = compareOrdered(lv, rv)
	case string:
		rv, ok := r.(string)
		if !ok {
			return nil, fmt.Errorf("interp: cannot compare string with %T", r)
		}
		cmp = compareOrdered(lv, rv)
	default:
		return nil, fmt.Errorf("interp: %T is not an ordered type", l)
	}
	switch op {
	case tree.OpLt:
		return cmp < 0, nil
	case tree.OpLe:
		return cmp <= 0, nil
	case tree.OpGt:
		return cmp > 0, nil
	default:
		return cmp >= 0, nil
	}
}

func compareOrdered[T int64 | float64 | string](l, r T) int {
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	default:
		return 0
	}
}

func unaryOp(op tree.UnaryOp, v interface{}) (interface{}, error) {
	switch op {
	case tree.OpNeg:
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
	case tree.OpNot:
		if b, ok := v.(bool); ok {
			return !b, nil
		}
	}
	return nil, fmt.Errorf("interp: unary operator %d not defined for %T", op, v)
}

// stepOf is the increment/decrement step for a variable's type.
func stepOf(typ reflect.Type) interface{} {
	if typ != nil && typ.Kind() == reflect.Float64 {
		return float64(1)
	}
	return int64(1)
}
