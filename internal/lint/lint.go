// Package lint checks DSL lines for non-canonical or suspicious patterns and
// turns codec and registry failures into remediation hints.
package lint

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/registry"
)

// Options selects which checks run.
type Options struct {
	Lenient       bool
	StrictOps     bool
	StrictTargets bool
}

// Result holds the findings for one line. Errors mean the line does not
// parse; warnings mean it parses but is not canonical or conventional.
type Result struct {
	Warnings []string
	Errors   []string
}

func (r Result) OK() bool { return len(r.Warnings) == 0 && len(r.Errors) == 0 }

var conventionalKeyRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

var standalonePunctuation = map[string]bool{".": true, ",": true, ";": true, ":": true, "!": true, "?": true}

// Line lints one DSL line.
func Line(text string, opts Options) Result {
	var res Result
	trimmed := strings.TrimSpace(text)

	if !opts.Lenient {
		fields := strings.Fields(trimmed)
		for i := 2; i < len(fields); i++ {
			if standalonePunctuation[fields[i]] {
				res.Warnings = append(res.Warnings, fmt.Sprintf("suspicious standalone punctuation token: %q", fields[i]))
			}
		}
	}

	cmd, err := dsl.Parse(trimmed, dsl.WithLenient(opts.Lenient))
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	if canonical, err := dsl.Serialize(cmd); err == nil && canonical != trimmed {
		res.Warnings = append(res.Warnings, "non-canonical DSL formatting; run `choom fmt`")
	}
	if opts.StrictOps && !registry.IsKnownOp(cmd.Op) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unknown op '%s' in strict registry mode", cmd.Op))
	}
	if opts.StrictTargets && !registry.IsKnownTarget(cmd.Target) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unknown target '%s' in strict registry mode", cmd.Target))
	}
	for _, key := range sortedKeys(cmd.Params) {
		if !conventionalKeyRe.MatchString(key) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("param key '%s' is non-conventional; use [A-Za-z0-9_.-] without spaces", key))
		}
	}
	return res
}

// ParseHints suggests fixes for a line that failed to parse.
func ParseHints(text string, err error, lenient bool) []string {
	var hints []string
	var se *dsl.SyntaxError
	if errors.As(err, &se) && errors.Is(se.Kind, dsl.ErrMalformedParam) && strings.Contains(se.Msg, "missing '='") {
		hints = append(hints, "key/value params must use key=value (example: gen txt prompt=hello)")
		if se.Token != "" {
			hints = append(hints, fmt.Sprintf("did you mean %s=<value>?", se.Token))
		}
	}
	if !lenient && endsWithPunctuation(text) {
		hints = append(hints, "trailing punctuation is common; try --lenient")
	}
	return hints
}

// RegistryHints reports unknown ops and targets for a parsed record, with
// alias or near-miss suggestions when the registry has one.
func RegistryHints(cmd dsl.Command) []string {
	var hints []string
	for _, err := range []error{
		registry.Validate(cmd.Op, cmd.Target, cmd.Count, cmd.Params, registry.Options{AllowUnknownTarget: true}),
		registry.Validate(cmd.Op, cmd.Target, cmd.Count, cmd.Params, registry.Options{AllowUnknownOp: true}),
	} {
		var fe *registry.FieldError
		if !errors.As(err, &fe) {
			continue
		}
		switch fe.Field {
		case registry.FieldOp:
			hints = append(hints, fmt.Sprintf("unknown op '%s'. supported ops: %s", cmd.Op, strings.Join(registry.Ops(), ", ")))
		case registry.FieldTarget:
			hints = append(hints, fmt.Sprintf("unknown target '%s'. supported targets: %s", cmd.Target, strings.Join(registry.Targets(), ", ")))
		default:
			continue
		}
		if fe.Hint != "" {
			hints = append(hints, fe.Hint)
		}
	}
	return hints
}

func endsWithPunctuation(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasSuffix(t, ".") || strings.HasSuffix(t, ",") || strings.HasSuffix(t, ";")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
