package assertion

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/devicelab-dev/apiflow/pkg/template"
)

// Operators.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
	OpIn       = "in"
	OpExists   = "exists"
	OpRegex    = "regex"
)

// Operators lists every supported operator.
var Operators = []string{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains, OpIn, OpExists, OpRegex}

// Types lists every supported assertion type.
var Types = []string{TypeStatus, TypeJSONPath, TypeHeader, TypeResponseTime, TypeBodyContains}

// Compare applies op to actual and expected. A non-nil error means the
// comparison could not be made, which callers record as a failure.
func Compare(op string, actual, expected interface{}) (bool, error) {
	switch op {
	case OpEq, "":
		return Equal(actual, expected), nil
	case OpNe:
		return !Equal(actual, expected), nil
	case OpGt, OpGte, OpLt, OpLte:
		a, ok := ToNumber(actual)
		if !ok {
			return false, fmt.Errorf("actual value %s is not numeric", template.Stringify(actual))
		}
		e, ok := ToNumber(expected)
		if !ok {
			return false, fmt.Errorf("expected value %s is not numeric", template.Stringify(expected))
		}
		switch op {
		case OpGt:
			return a > e, nil
		case OpGte:
			return a >= e, nil
		case OpLt:
			return a < e, nil
		default:
			return a <= e, nil
		}
	case OpContains:
		if items, ok := actual.([]interface{}); ok {
			for _, item := range items {
				if Equal(item, expected) {
					return true, nil
				}
			}
			return false, nil
		}
		return strings.Contains(template.Stringify(actual), template.Stringify(expected)), nil
	case OpIn:
		items, err := toList(expected)
		if err != nil {
			return false, err
		}
		for _, item := range items {
			if Equal(actual, item) {
				return true, nil
			}
		}
		return false, nil
	case OpRegex:
		re, err := regexp.Compile(template.Stringify(expected))
		if err != nil {
			return false, fmt.Errorf("invalid regex: %v", err)
		}
		return re.MatchString(template.Stringify(actual)), nil
	case OpExists:
		return actual != nil, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

// Equal compares loosely: numerically when both sides are numeric,
// structurally for objects and arrays, otherwise by string form.
func Equal(actual, expected interface{}) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if a, ok := ToNumber(actual); ok {
		if e, ok := ToNumber(expected); ok {
			return a == e
		}
	}
	switch actual.(type) {
	case map[string]interface{}, []interface{}:
		return reflect.DeepEqual(normalize(actual), normalize(expected))
	}
	return template.Stringify(actual) == template.Stringify(expected)
}

// ToNumber converts numbers and numeric strings to float64.
func ToNumber(v interface{}) (float64, bool) {
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toList(v interface{}) ([]interface{}, error) {
	switch l := v.(type) {
	case []interface{}:
		return l, nil
	case []string:
		out := make([]interface{}, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, nil
	case string:
		var out []interface{}
		if err := json.Unmarshal([]byte(strings.TrimSpace(l)), &out); err != nil {
			return nil, fmt.Errorf("operator in expects an array, got %q", l)
		}
		return out, nil
	}
	return nil, fmt.Errorf("operator in expects an array, got %s", template.Stringify(v))
}

// normalize round-trips v through JSON so numeric types compare equal.
func normalize(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
