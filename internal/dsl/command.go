package dsl

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/ProhibitedTV/ChoomLang/internal/registry"
)

// Command is the structured form of one ChoomLang line.
// Param values are string, int64, float64, bool, or nil (JSON null only).
type Command struct {
	Op     string         `json:"op"`
	Target string         `json:"target"`
	Count  int            `json:"count"`
	Params map[string]any `json:"params"`
}

// Map returns the canonical JSON object form of c.
func (c Command) Map() map[string]any {
	params := make(map[string]any, len(c.Params))
	for k, v := range c.Params {
		params[k] = v
	}
	return map[string]any{
		"op":     c.Op,
		"target": c.Target,
		"count":  c.Count,
		"params": params,
	}
}

// JSON encodes c with sorted keys. An empty indent gives compact output.
func (c Command) JSON(indent string) ([]byte, error) {
	return MarshalSorted(c.Map(), indent)
}

// Equal reports whether two records are identical, including value types.
func (c Command) Equal(o Command) bool {
	if c.Op != o.Op || c.Target != o.Target || c.Count != o.Count || len(c.Params) != len(o.Params) {
		return false
	}
	for k, v := range c.Params {
		ov, ok := o.Params[k]
		if !ok || !scalarEqual(v, ov) {
			return false
		}
	}
	return true
}

// Validate runs the registry checks against c.
func (c Command) Validate(opts registry.Options) error {
	return registry.Validate(c.Op, c.Target, c.Count, c.Params, opts)
}

func scalarEqual(a, b any) bool {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return ok && (x == y || (math.IsNaN(x) && math.IsNaN(y)))
	default:
		return a == b
	}
}

// FromMap builds a Command from a decoded JSON object. The op alias is
// resolved, count defaults to 1 and params to an empty map.
func FromMap(payload map[string]any) (Command, error) {
	op, ok := payload["op"].(string)
	if !ok {
		return Command{}, syntaxErrorf(ErrInvalidRecord, "", "invalid record: op must be a string")
	}
	target, ok := payload["target"].(string)
	if !ok {
		return Command{}, syntaxErrorf(ErrInvalidRecord, "", "invalid record: target must be a string")
	}

	count := 1
	if raw, present := payload["count"]; present && raw != nil {
		n, ok := toInt(raw)
		if !ok {
			return Command{}, syntaxErrorf(ErrBadCount, "", "bad count: expected positive integer, got '%v'", raw)
		}
		if n < 1 {
			return Command{}, syntaxErrorf(ErrBadCount, "", "bad count: expected >= 1, got %d", n)
		}
		count = n
	}

	params := map[string]any{}
	if raw, present := payload["params"]; present && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return Command{}, syntaxErrorf(ErrBadParameters, "", "malformed params: expected object/dict")
		}
		for k, v := range m {
			nv, ok := normalizeValue(v)
			if !ok {
				return Command{}, syntaxErrorf(ErrBadParameters, k, "malformed params: value for key '%s' must be a scalar", k)
			}
			params[k] = nv
		}
	}

	return Command{Op: registry.NormalizeOp(op), Target: target, Count: count, Params: params}, nil
}

// DecodeJSON decodes a JSON object into a Command, keeping integer
// literals as int64.
func DecodeJSON(data []byte) (Command, error) {
	payload, err := DecodeObject(data)
	if err != nil {
		return Command{}, err
	}
	return FromMap(payload)
}

// DecodeObject decodes data as a JSON object with json.Number literals.
func DecodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, syntaxErrorf(ErrInvalidRecord, "", "invalid record: expected JSON object")
	}
	if dec.More() {
		return nil, syntaxErrorf(ErrInvalidRecord, "", "invalid record: trailing data after JSON object")
	}
	return payload, nil
}

// MarshalSorted encodes v without HTML escaping. Map keys come out sorted.
func MarshalSorted(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

func normalizeValue(v any) (any, bool) {
	switch x := v.(type) {
	case nil, string, bool, int64, float64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case float32:
		return float64(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		f, err := x.Float64()
		if err != nil {
			return x.String(), true
		}
		return f, true
	default:
		return nil, false
	}
}
