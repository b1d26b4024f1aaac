// Package models provides condition evaluation for branching nodes.
package models

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ConditionInterpreter evaluates a condition node's config against a run
// context and yields the branch to take.
type ConditionInterpreter interface {
	Evaluate(cfg *ConditionConfig, runContext map[string]any) (bool, error)
}

// exprInterpreter is shared across all condition nodes so its compiled
// program cache survives between evaluations of the same expression.
var exprInterpreter = NewExprInterpreter()

// GetInterpreter selects the interpreter for a condition config by language.
func GetInterpreter(cfg *ConditionConfig) ConditionInterpreter {
	if cfg.Language == "expr" {
		return exprInterpreter
	}

	return &OperatorInterpreter{}
}

// OperatorInterpreter evaluates the (field, operator, value) form. Same
// inputs always select the same branch.
type OperatorInterpreter struct{}

func (OperatorInterpreter) Evaluate(cfg *ConditionConfig, runContext map[string]any) (bool, error) {
	actual, present := runContext[cfg.Field]

	switch cfg.Operator {
	case "is_empty":
		return !present || isEmpty(actual), nil
	case "is_not_empty":
		return present && !isEmpty(actual), nil
	case "equals":
		return looseEqual(actual, cfg.Value), nil
	case "not_equals":
		return !looseEqual(actual, cfg.Value), nil
	case "contains":
		return contains(actual, cfg.Value), nil
	case "greater_than":
		return compareNumbers(actual, cfg.Value, func(a, b float64) bool { return a > b })
	case "less_than":
		return compareNumbers(actual, cfg.Value, func(a, b float64) bool { return a < b })
	default:
		return false, fmt.Errorf("unknown condition operator %q", cfg.Operator)
	}
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

// looseEqual compares across the numeric types JSON decoding produces, and
// falls back to string comparison so "42" equals 42.
func looseEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)

	if aok && bok {
		return af == bf
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func compareNumbers(a, b any, cmp func(a, b float64) bool) (bool, error) {
	af, aok := toFloat(a)
	if !aok {
		return false, fmt.Errorf("cannot compare %T as number", a)
	}

	bf, bok := toFloat(b)
	if !bok {
		return false, fmt.Errorf("cannot compare %T as number", b)
	}

	return cmp(af, bf), nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}
