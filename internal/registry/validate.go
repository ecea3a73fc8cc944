package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ProhibitedTV/ChoomLang/internal/suggest"
)

// Field names a record field that failed validation.
type Field string

const (
	FieldOp     Field = "op"
	FieldTarget Field = "target"
	FieldCount  Field = "count"
	FieldParams Field = "params"
)

// FieldError is a validation failure tagged with the field at fault so
// callers can offer targeted remediation.
type FieldError struct {
	Field  Field
	Value  any
	Reason string
	// Hint is an optional remediation such as an alias or near-miss suggestion.
	Hint string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid field %s=%s: %s", e.Field, reprValue(e.Value), e.Reason)
}

// Options relaxes the registry checks. The zero value is strict.
type Options struct {
	AllowUnknownOp     bool
	AllowUnknownTarget bool
}

// Validate checks typed record fields against the general shape contract
// and, unless relaxed by opts, the canonical op and target sets.
func Validate(op, target string, count int, params map[string]any, opts Options) error {
	if count < 1 {
		return &FieldError{Field: FieldCount, Value: count, Reason: "expected integer >= 1"}
	}
	if err := validateParamValues(params); err != nil {
		return err
	}
	return validateNames(op, target, opts)
}

// ValidatePayload checks a decoded JSON object. Missing count and params
// take their defaults (1 and {}).
func ValidatePayload(payload map[string]any, opts Options) error {
	op, ok := payload["op"].(string)
	if !ok {
		return &FieldError{Field: FieldOp, Value: payload["op"], Reason: "expected string"}
	}
	target, ok := payload["target"].(string)
	if !ok {
		return &FieldError{Field: FieldTarget, Value: payload["target"], Reason: "expected string"}
	}

	if raw, present := payload["count"]; present {
		n, ok := integerValue(raw)
		if !ok || n < 1 {
			return &FieldError{Field: FieldCount, Value: raw, Reason: "expected integer >= 1"}
		}
	}

	if raw, present := payload["params"]; present && raw != nil {
		params, ok := raw.(map[string]any)
		if !ok {
			return &FieldError{Field: FieldParams, Value: raw, Reason: "expected object/dict"}
		}
		if err := validateParamValues(params); err != nil {
			return err
		}
	}

	return validateNames(op, target, opts)
}

func validateNames(op, target string, opts Options) error {
	if !opts.AllowUnknownOp && !IsKnownOp(op) {
		return &FieldError{
			Field:  FieldOp,
			Value:  op,
			Reason: "unknown canonical op (expected one of: " + strings.Join(canonicalOps, ", ") + ")",
			Hint:   opHint(op),
		}
	}
	if !opts.AllowUnknownTarget && !IsKnownTarget(target) {
		return &FieldError{
			Field:  FieldTarget,
			Value:  target,
			Reason: "unknown canonical target (expected one of: " + strings.Join(canonicalTargets, ", ") + ")",
			Hint:   targetHint(target),
		}
	}
	return nil
}

func validateParamValues(params map[string]any) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "" {
			return &FieldError{Field: FieldParams, Value: k, Reason: "empty parameter key"}
		}
		if !IsScalar(params[k]) {
			return &FieldError{
				Field:  FieldParams,
				Value:  k,
				Reason: "value must be string, number, boolean or null",
			}
		}
	}
	return nil
}

// IsScalar reports whether v is an allowed parameter value.
func IsScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, json.Number:
		return true
	default:
		return false
	}
}

func integerValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func opHint(op string) string {
	candidates := append(Ops(), sortedAliasNames()...)
	if match := suggest.Closest(op, candidates, 1, suggest.DefaultCutoff); len(match) > 0 {
		if canon := NormalizeOp(match[0]); canon != match[0] {
			return fmt.Sprintf("did you mean '%s' (alias of '%s')?", match[0], canon)
		}
		return fmt.Sprintf("did you mean '%s'?", match[0])
	}
	if IsKnownTarget(op) {
		return fmt.Sprintf("'%s' is a target; lines start with an op: <op> <target>", op)
	}
	return ""
}

func targetHint(target string) string {
	if IsKnownOp(target) {
		return fmt.Sprintf("'%s' is an op (%s), not a target", target, NormalizeOp(target))
	}
	if match := suggest.Closest(target, canonicalTargets, 1, suggest.DefaultCutoff); len(match) > 0 {
		return fmt.Sprintf("did you mean '%s'?", match[0])
	}
	return ""
}

func sortedAliasNames() []string {
	names := make([]string, 0, len(opAliases))
	for alias := range opAliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	return names
}

func reprValue(v any) string {
	switch x := v.(type) {
	case string:
		return "'" + x + "'"
	case nil:
		return "null"
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}
