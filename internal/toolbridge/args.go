package toolbridge

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// compileToolArgs converts line params (strings, int64, float64, bool, nil)
// into the types the tool's input schema declares. Arrays and objects arrive
// as JSON text because a line has no nested values.
func compileToolArgs(params map[string]any, schemaRaw json.RawMessage) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	if len(schemaRaw) == 0 {
		return params, nil
	}

	var schema map[string]any
	if err := json.Unmarshal(schemaRaw, &schema); err != nil {
		return nil, fmt.Errorf("parsing input schema: %w", err)
	}
	if len(schema) == 0 {
		return params, nil
	}

	if typ := schemaType(schema); typ != "" && typ != "object" {
		return nil, invalidParamsError("tool input schema must be object, got %q", typ)
	}
	return coerceObject(params, schema, "")
}

func coerceObject(raw map[string]any, schema map[string]any, path string) (map[string]any, error) {
	props, _ := schema["properties"].(map[string]any)

	if len(props) > 0 {
		for key := range raw {
			if _, ok := props[key]; !ok {
				return nil, invalidParamsError("unknown argument %q", dottedPath(path, key))
			}
		}
	}
	for key := range requiredSet(schema) {
		if _, ok := raw[key]; !ok {
			return nil, invalidParamsError("missing required argument %q", dottedPath(path, key))
		}
	}

	out := make(map[string]any, len(raw))
	for key, value := range raw {
		propSchema, _ := props[key].(map[string]any)
		if propSchema == nil {
			out[key] = value
			continue
		}
		coerced, err := coerceValue(value, propSchema, dottedPath(path, key))
		if err != nil {
			return nil, err
		}
		out[key] = coerced
	}
	return out, nil
}

func coerceValue(value any, schema map[string]any, path string) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch schemaType(schema) {
	case "string":
		return coerceString(value), nil
	case "integer":
		return coerceInteger(value, path)
	case "number":
		return coerceNumber(value, path)
	case "boolean":
		return coerceBoolean(value, path)
	case "array":
		return coerceArray(value, schema, path)
	case "object":
		return coerceObjectValue(value, schema, path)
	default:
		return value, nil
	}
}

// coerceString renders numbers and booleans back to their line spelling;
// `q=42` is a string when the tool asks for one.
func coerceString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func coerceInteger(value any, path string) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case float64:
		if math.Trunc(v) != v {
			return 0, invalidParamsError("argument %q must be integer", path)
		}
		return int64(v), nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, invalidParamsError("argument %q must be integer: %v", path, err)
		}
		return i, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, invalidParamsError("argument %q must be integer: %v", path, err)
		}
		return i, nil
	default:
		return 0, invalidParamsType(path, "integer", value)
	}
}

func coerceNumber(value any, path string) (float64, error) {
	switch v := value.(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, invalidParamsError("argument %q must be number: %v", path, err)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, invalidParamsError("argument %q must be number: %v", path, err)
		}
		return f, nil
	default:
		return 0, invalidParamsType(path, "number", value)
	}
}

func coerceBoolean(value any, path string) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, invalidParamsError("argument %q must be boolean: %v", path, err)
		}
		return b, nil
	default:
		return false, invalidParamsType(path, "boolean", value)
	}
}

func coerceArray(value any, schema map[string]any, path string) ([]any, error) {
	itemsSchema, _ := schema["items"].(map[string]any)

	items := []any{value}
	switch v := value.(type) {
	case []any:
		items = v
	case string:
		if trimmed := strings.TrimSpace(v); strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
				return nil, invalidParamsError("argument %q must be JSON array: %v", path, err)
			}
		}
	}

	out := make([]any, 0, len(items))
	for i, item := range items {
		if itemsSchema == nil {
			out = append(out, item)
			continue
		}
		coerced, err := coerceValue(item, itemsSchema, indexedPath(path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, coerced)
	}
	return out, nil
}

func coerceObjectValue(value any, schema map[string]any, path string) (map[string]any, error) {
	switch v := value.(type) {
	case map[string]any:
		return coerceObject(v, schema, path)
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &parsed); err != nil {
			return nil, invalidParamsError("argument %q must be JSON object: %v", path, err)
		}
		obj, ok := parsed.(map[string]any)
		if !ok {
			return nil, invalidParamsError("argument %q must be object", path)
		}
		return coerceObject(obj, schema, path)
	default:
		return nil, invalidParamsType(path, "object", value)
	}
}

func requiredSet(schema map[string]any) map[string]struct{} {
	out := map[string]struct{}{}
	if list, ok := schema["required"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				out[s] = struct{}{}
			}
		}
	}
	return out
}

func schemaType(schema map[string]any) string {
	if schema == nil {
		return ""
	}
	if t, ok := schema["type"].(string); ok {
		return strings.TrimSpace(strings.ToLower(t))
	}
	if _, ok := schema["properties"]; ok {
		return "object"
	}
	return ""
}

func invalidParamsType(path, want string, got any) error {
	return invalidParamsError("argument %q must be %s, got %T", path, want, got)
}

func invalidParamsError(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%w: %s", mcp.ErrInvalidParams, msg)
}

func dottedPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func indexedPath(path string, idx int) string {
	return fmt.Sprintf("%s[%d]", path, idx)
}
