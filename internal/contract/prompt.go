package contract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ProhibitedTV/ChoomLang/internal/registry"
)

const (
	ContractDSL        = "dsl"
	ContractStructured = "structured"
)

const (
	grammarLine = "Grammar: <op> <target>[count] key=value ..."
	bansLine    = "Bans: no trailing punctuation, no standalone symbols, no JSON, one line only."
	examples    = `Examples: ping tool; gen txt prompt="hello"; classify txt sentiment=polarity; toolcall tool[1] name=search query="cats".`

	structuredContract = "Return JSON only. Match the requested schema exactly."
)

// Contract returns the instruction text for a relay mode: the DSL contract
// (grammar, bans, examples) or the minimal structured one.
func Contract(mode string) (string, error) {
	switch mode {
	case ContractDSL:
		return dslContract(), nil
	case ContractStructured:
		return structuredContract, nil
	}
	return "", fmt.Errorf("unknown contract mode %q (expected dsl or structured)", mode)
}

func dslContract() string {
	return strings.Join([]string{
		"Reply with exactly one valid ChoomLang DSL line and no extra text.",
		grammarLine,
		"Ops: " + strings.Join(registry.Ops(), ", ") + ".",
		"Targets: " + strings.Join(registry.Targets(), ", ") + ".",
		bansLine,
		examples,
	}, " ")
}

// GuardPrompt is the DSL contract with the last parse error and the
// offending reply appended, used to ask a model for one correction.
func GuardPrompt(errText, previous string) string {
	parts := []string{dslContract()}
	if errText != "" {
		parts = append(parts, "Error: "+errText)
	}
	if previous != "" {
		parts = append(parts, "Previous reply: "+strconv.Quote(previous))
	}
	return strings.Join(parts, " ")
}
