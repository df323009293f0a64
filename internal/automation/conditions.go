package automation

import (
	"fmt"
	"strconv"
	"strings"
)

// matches evaluates a rule's condition list against the trigger context. An
// empty list is vacuously true.
func matches(rule Rule, evalCtx map[string]any) bool {
	if len(rule.Conditions) == 0 {
		return true
	}
	if strings.EqualFold(rule.ConditionsOperator, CombineOr) {
		for _, cond := range rule.Conditions {
			if evalCondition(cond, evalCtx) {
				return true
			}
		}
		return false
	}
	for _, cond := range rule.Conditions {
		if !evalCondition(cond, evalCtx) {
			return false
		}
	}
	return true
}

func evalCondition(cond Condition, evalCtx map[string]any) bool {
	value, found := lookup(evalCtx, cond.Field)

	switch cond.Operator {
	case OpIsEmpty:
		return !found || stringify(value) == ""
	case OpIsNotEmpty:
		return found && stringify(value) != ""
	}

	if !found {
		return false
	}

	switch cond.Operator {
	case OpEquals:
		return strings.EqualFold(stringify(value), stringify(cond.Value))
	case OpContains:
		return strings.Contains(lower(value), lower(cond.Value))
	case OpStartsWith:
		return strings.HasPrefix(lower(value), lower(cond.Value))
	case OpEndsWith:
		return strings.HasSuffix(lower(value), lower(cond.Value))
	case OpGreaterThan:
		a, aok := toNumber(value)
		b, bok := toNumber(cond.Value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toNumber(value)
		b, bok := toNumber(cond.Value)
		return aok && bok && a < b
	}
	return false
}

// lookup walks a dot-separated path through nested maps. A missing segment
// reports not found rather than a nil value.
func lookup(evalCtx map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	var current any = evalCtx
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func lower(v any) string {
	return strings.ToLower(stringify(v))
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	default:
		return 0, false
	}
}
