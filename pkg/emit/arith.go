package emit

import (
	"fmt"
	"math"
	"reflect"

	"lambdac/pkg/tree"
)

// evalBinary applies op to boxed operands at run time. Checked enables
// integer-overflow detection; Lifted enables nullable semantics, where a nil
// operand short-circuits arithmetic to nil and comparison to its
// null-comparison result, without the operation ever running.
func evalBinary(op tree.BinaryOp, checked, lifted bool, l, r interface{}) (interface{}, error) {
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

	switch lv := l.(type) {
	case int64:
		rv, ok := r.(int64)
		if !ok {
			break
		}
		return intBinary(op, checked, lv, rv)
	case float64:
		rv, ok := r.(float64)
		if !ok {
			break
		}
		return floatBinary(op, lv, rv)
	case string:
		rv, ok := r.(string)
		if !ok {
			break
		}
		return stringBinary(op, lv, rv)
	case bool:
		rv, ok := r.(bool)
		if !ok {
			break
		}
		return boolBinary(op, lv, rv)
	}

	switch op {
	case tree.OpEq:
		return boxedEqual(l, r), nil
	case tree.OpNotEq:
		return !boxedEqual(l, r), nil
	}
	return nil, fmt.Errorf("emit: operator %d not defined for %T and %T", op, l, r)
}

func intBinary(op tree.BinaryOp, checked bool, l, r int64) (interface{}, error) {
	switch op {
	case tree.OpAdd:
		sum := l + r
		if checked && ((r > 0 && sum < l) || (r < 0 && sum > l)) {
			return nil, fmt.Errorf("emit: integer overflow in checked add")
		}
		return sum, nil
	case tree.OpSub:
		diff := l - r
		if checked && ((r > 0 && diff > l) || (r < 0 && diff < l)) {
			return nil, fmt.Errorf("emit: integer overflow in checked subtract")
		}
		return diff, nil
	case tree.OpMul:
		if checked && l != 0 {
			prod := l * r
			if prod/l != r || (l == -1 && r == math.MinInt64) {
				return nil, fmt.Errorf("emit: integer overflow in checked multiply")
			}
			return prod, nil
		}
		return l * r, nil
	case tree.OpDiv:
		if r == 0 {
			return nil, fmt.Errorf("emit: integer division by zero")
		}
		return l / r, nil
	case tree.OpMod:
		if r == 0 {
			return nil, fmt.Errorf("emit: integer division by zero")
		}
		return l % r, nil
	case tree.OpEq:
		return l == r, nil
	case tree.OpNotEq:
		return l != r, nil
	case tree.OpLt:
		return l < r, nil
	case tree.OpLe:
		return l <= r, nil
	case tree.OpGt:
		return l > r, nil
	case tree.OpGe:
		return l >= r, nil
	}
	return nil, fmt.Errorf("emit: operator %d not defined for int64", op)
}

func floatBinary(op tree.BinaryOp, l, r float64) (interface{}, error) {
	switch op {
	case tree.OpAdd:
		return l + r, nil
	case tree.OpSub:
		return l - r, nil
	case tree.OpMul:
		return l * r, nil
	case tree.OpDiv:
		return l / r, nil
	case tree.OpEq:
		return l == r, nil
	case tree.OpNotEq:
		return l != r, nil
	case tree.OpLt:
		return l < r, nil
	case tree.OpLe:
		return l <= r, nil
	case tree.OpGt:
		return l > r, nil
	case tree.OpGe:
		return l >= r, nil
	}
	return nil, fmt.Errorf("emit: operator %d not defined for float64", op)
}

func stringBinary(op tree.BinaryOp, l, r string) (interface{}, error) {
	switch op {
	case tree.OpAdd:
		return l + r, nil
	case tree.OpEq:
		return l == r, nil
	case tree.OpNotEq:
		return l != r, nil
	case tree.OpLt:
		return l < r, nil
	case tree.OpLe:
		return l <= r, nil
	case tree.OpGt:
		return l > r, nil
	case tree.OpGe:
		return l >= r, nil
	}
	return nil, fmt.Errorf("emit: operator %d not defined for string", op)
}

func boolBinary(op tree.BinaryOp, l, r bool) (interface{}, error) {
	switch op {
	case tree.OpAnd:
		return l && r, nil
	case tree.OpOr:
		return l || r, nil
	case tree.OpEq:
		return l == r, nil
	case tree.OpNotEq:
		return l != r, nil
	}
	return nil, fmt.Errorf("emit: operator %d not defined for bool", op)
}

// boxedEqual is the fallback comparison for operand types with no dedicated
// arithmetic path: pointer-shaped values compare by identity, comparable
// values by native equality.
func boxedEqual(l, r interface{}) bool {
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

func evalUnary(op tree.UnaryOp, v interface{}) (interface{}, error) {
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
	return nil, fmt.Errorf("emit: unary operator %d not defined for %T", op, v)
}

// neutralOne is the increment/decrement step for typ, the "add or
// subtract the neutral element" sequence.
func neutralOne(typ reflect.Type) interface{} {
	if typ != nil && typ.Kind() == reflect.Float64 {
		return float64(1)
	}
	return int64(1)
}
