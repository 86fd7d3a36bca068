package compose

import (
	"fmt"
	"strconv"
	"strings"
)

// EvalCondition evaluates a restricted boolean expression against the
// accumulated step results. The grammar admits only comparisons over the
// results namespace joined by && and ||: no function calls, no assignment,
// no code execution of any kind.
//
// Operands are literals (numbers, 'single-quoted' strings, true, false,
// null) or dotted references into step outputs, e.g. "check.passed" reads
// key "passed" from step "check"'s output map. A bare operand is truthy.
func EvalCondition(expr string, results map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}

	for _, orTerm := range strings.Split(expr, "||") {
		andResult := true
		for _, andTerm := range strings.Split(orTerm, "&&") {
			ok, err := evalComparison(strings.TrimSpace(andTerm), results)
			if err != nil {
				return false, err
			}
			if !ok {
				andResult = false
				break
			}
		}
		if andResult {
			return true, nil
		}
	}
	return false, nil
}

// comparison operators, longest first so ">=" wins over ">".
var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<"}

func evalComparison(term string, results map[string]any) (bool, error) {
	if term == "" {
		return false, fmt.Errorf("empty condition term")
	}

	negate := false
	for strings.HasPrefix(term, "!") && !strings.HasPrefix(term, "!=") {
		negate = !negate
		term = strings.TrimSpace(term[1:])
	}

	for _, op := range comparisonOps {
		if idx := strings.Index(term, op); idx > 0 {
			left, err := resolveOperand(strings.TrimSpace(term[:idx]), results)
			if err != nil {
				return false, err
			}
			right, err := resolveOperand(strings.TrimSpace(term[idx+len(op):]), results)
			if err != nil {
				return false, err
			}
			ok, err := compare(left, right, op)
			if err != nil {
				return false, err
			}
			if negate {
				ok = !ok
			}
			return ok, nil
		}
	}

	// Bare operand: truthiness.
	value, err := resolveOperand(term, results)
	if err != nil {
		return false, err
	}
	ok := truthy(value)
	if negate {
		ok = !ok
	}
	return ok, nil
}

// resolveOperand parses a literal or resolves a dotted results reference.
func resolveOperand(token string, results map[string]any) (any, error) {
	switch {
	case token == "true":
		return true, nil
	case token == "false":
		return false, nil
	case token == "null", token == "nil":
		return nil, nil
	case len(token) >= 2 && token[0] == '\'' && token[len(token)-1] == '\'':
		return token[1 : len(token)-1], nil
	}
	if n, err := strconv.ParseFloat(token, 64); err == nil {
		return n, nil
	}

	// Reference into the results namespace. The optional "results." prefix
	// is accepted for readability.
	path := strings.Split(strings.TrimPrefix(token, "results."), ".")
	if path[0] == "" {
		return nil, fmt.Errorf("invalid condition operand %q", token)
	}

	var current any
	value, ok := results[path[0]]
	if !ok {
		return nil, nil
	}
	current = value
	for _, segment := range path[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, nil
		}
		current, ok = m[segment]
		if !ok {
			return nil, nil
		}
	}
	return current, nil
}

func compare(left, right any, op string) (bool, error) {
	// Numeric comparison when both sides are numbers.
	ln, lok := toFloat(left)
	rn, rok := toFloat(right)
	if lok && rok {
		switch op {
		case "==":
			return ln == rn, nil
		case "!=":
			return ln != rn, nil
		case ">":
			return ln > rn, nil
		case ">=":
			return ln >= rn, nil
		case "<":
			return ln < rn, nil
		case "<=":
			return ln <= rn, nil
		}
	}

	ls := fmt.Sprintf("%v", left)
	rs := fmt.Sprintf("%v", right)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	}
	return false, fmt.Errorf("unsupported comparison operator %q", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}
