package dsl

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/ProhibitedTV/ChoomLang/internal/registry"
)

var targetRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Serialize renders c as canonical text: op, target (with [count] when
// count != 1), then key=value pairs sorted by key.
func Serialize(c Command) (string, error) {
	if c.Count < 1 {
		return "", syntaxErrorf(ErrBadCount, "", "bad count: expected >= 1, got %d", c.Count)
	}
	op := registry.NormalizeOp(c.Op)
	if op == "" || strings.ContainsFunc(op, func(r rune) bool { return unicode.IsSpace(r) || r == '"' }) {
		return "", syntaxErrorf(ErrInvalidHeader, op, "invalid header: op %q cannot be written as a bare token", op)
	}
	if !targetRe.MatchString(c.Target) {
		return "", syntaxErrorf(ErrInvalidHeader, c.Target, "invalid header: invalid target/count segment '%s'", c.Target)
	}

	var b strings.Builder
	b.WriteString(op)
	b.WriteByte(' ')
	b.WriteString(c.Target)
	if c.Count != 1 {
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(c.Count))
		b.WriteByte(']')
	}

	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "" {
			return "", syntaxErrorf(ErrMalformedParam, "", "malformed kv: empty key in token '=%v'", c.Params[k])
		}
		value, err := formatValue(k, c.Params[k])
		if err != nil {
			return "", err
		}
		b.WriteByte(' ')
		b.WriteString(formatKey(k))
		b.WriteByte('=')
		b.WriteString(value)
	}
	return b.String(), nil
}

// SerializeMap renders a decoded JSON object as canonical text.
func SerializeMap(payload map[string]any) (string, error) {
	cmd, err := FromMap(payload)
	if err != nil {
		return "", err
	}
	return Serialize(cmd)
}

func formatKey(k string) string {
	if needsQuotes(k) {
		return quote(k)
	}
	return k
}

func formatValue(key string, v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return formatFloat(x), nil
	case string:
		return formatString(x), nil
	default:
		nv, ok := normalizeValue(v)
		if !ok {
			return "", syntaxErrorf(ErrBadParameters, key, "malformed params: value for key '%s' must be a scalar", key)
		}
		return formatValue(key, nv)
	}
}

// formatFloat always keeps a decimal point so the value re-parses as a float.
func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return quote(strconv.FormatFloat(f, 'g', -1, 64))
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// formatString quotes values that contain separators or that would
// otherwise come back as a bool or number.
func formatString(s string) string {
	if needsQuotes(s) {
		return quote(s)
	}
	if _, isString := coerceBare(s).(string); !isString {
		return quote(s)
	}
	return s
}

func needsQuotes(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"' || r == '='
	})
}

func quote(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
