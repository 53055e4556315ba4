package conditions

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// compare applies a rule operator to the value found at the rule's path.
func compare(op string, actual, want any) (bool, error) {
	switch op {
	case "exists":
		return actual != nil, nil
	case "not_exists":
		return actual == nil, nil
	case "eq":
		return equal(actual, want), nil
	case "ne":
		return !equal(actual, want), nil
	case "gt", "gte", "lt", "lte":
		a, aok := toFloat(actual)
		w, wok := toFloat(want)
		if !aok || !wok {
			if actual == nil {
				return false, nil
			}
			return false, fmt.Errorf("%s needs numbers, got %T and %T", op, actual, want)
		}
		switch op {
		case "gt":
			return a > w, nil
		case "gte":
			return a >= w, nil
		case "lt":
			return a < w, nil
		default:
			return a <= w, nil
		}
	case "in":
		list, ok := want.([]any)
		if !ok {
			return false, fmt.Errorf("in needs a list value, got %T", want)
		}
		for _, item := range list {
			if equal(actual, item) {
				return true, nil
			}
		}
		return false, nil
	case "contains":
		switch a := actual.(type) {
		case string:
			s, ok := want.(string)
			return ok && strings.Contains(a, s), nil
		case []any:
			for _, item := range a {
				if equal(item, want) {
					return true, nil
				}
			}
			return false, nil
		case nil:
			return false, nil
		default:
			return false, fmt.Errorf("contains needs a string or list, got %T", actual)
		}
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
