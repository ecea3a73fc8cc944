package dsl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ProhibitedTV/ChoomLang/internal/registry"
)

// Explain describes a line token by token for teach mode.
func Explain(line string) (string, error) {
	cmd, err := Parse(line)
	if err != nil {
		return "", err
	}

	sourceOp := strings.Fields(line)[0]
	aliasNote := ""
	if registry.IsAlias(sourceOp) {
		aliasNote = " (alias -> " + cmd.Op + ")"
	}

	lines := []string{
		"ChoomLang teach mode",
		"- op: " + sourceOp + aliasNote,
		"- target: " + cmd.Target,
		fmt.Sprintf("- count: %d", cmd.Count),
	}
	if len(cmd.Params) == 0 {
		lines = append(lines, "- params: (none)")
		return strings.Join(lines, "\n"), nil
	}

	lines = append(lines, "- params:")
	keys := make([]string, 0, len(cmd.Params))
	for k := range cmd.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := cmd.Params[k]
		lines = append(lines, fmt.Sprintf("  - %s: %s (%s)", k, describeValue(v), TypeName(v)))
	}
	return strings.Join(lines, "\n"), nil
}

// TypeName names the ChoomLang type of a parameter value.
func TypeName(v any) string {
	switch v.(type) {
	case bool:
		return "bool"
	case int, int64:
		return "int"
	case float64:
		return "float"
	case nil:
		return "null"
	default:
		return "string"
	}
}

func describeValue(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	if v == nil {
		return "null"
	}
	if f, ok := v.(float64); ok {
		return formatFloat(f)
	}
	return fmt.Sprint(v)
}
