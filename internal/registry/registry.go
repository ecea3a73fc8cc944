package registry

import (
	"slices"
	"sort"
)

var canonicalOps = []string{"gen", "classify", "summarize", "plan", "healthcheck", "toolcall", "forward"}

var canonicalTargets = []string{"img", "txt", "aud", "vid", "vec", "tool", "script"}

var opAliases = map[string]string{
	"jack":  "gen",
	"scan":  "classify",
	"ghost": "summarize",
	"forge": "plan",
	"ping":  "healthcheck",
	"call":  "toolcall",
	"relay": "forward",
}

// Ops returns the canonical operations in registry order.
func Ops() []string {
	return slices.Clone(canonicalOps)
}

// Targets returns the canonical targets in registry order.
func Targets() []string {
	return slices.Clone(canonicalTargets)
}

// Aliases returns a copy of the alias -> canonical op table.
func Aliases() map[string]string {
	out := make(map[string]string, len(opAliases))
	for k, v := range opAliases {
		out[k] = v
	}
	return out
}

// NormalizeOp resolves an alias to its canonical op. Unknown ops pass through.
func NormalizeOp(op string) string {
	if canon, ok := opAliases[op]; ok {
		return canon
	}
	return op
}

// IsAlias reports whether op is an alias rather than a canonical name.
func IsAlias(op string) bool {
	_, ok := opAliases[op]
	return ok
}

// AliasesFor lists the aliases that resolve to canonical, sorted.
func AliasesFor(canonical string) []string {
	var out []string
	for alias, canon := range opAliases {
		if canon == canonical {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

func IsKnownOp(op string) bool {
	return slices.Contains(canonicalOps, NormalizeOp(op))
}

func IsKnownTarget(target string) bool {
	return slices.Contains(canonicalTargets, target)
}
