package lifecycle

import (
	"errors"
	"strings"

	"github.com/Knetic/govaluate"
)

func compileCondition(condition string) (*govaluate.EvaluableExpression, error) {
	cond := strings.TrimSpace(condition)
	if cond == "" {
		return nil, nil
	}
	return govaluate.NewEvaluableExpression(cond)
}

// evaluateCondition evaluates a compiled condition against entity facts.
// A nil expression is always true.
func evaluateCondition(expr *govaluate.EvaluableExpression, facts Facts) (bool, error) {
	if expr == nil {
		return true, nil
	}
	params := make(map[string]interface{}, len(facts))
	for k, v := range facts {
		params[k] = normalizeFact(v)
	}
	result, err := expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	default:
		return false, errors.New("condition did not evaluate to boolean")
	}
}

// govaluate compares numbers as float64 only.
func normalizeFact(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
