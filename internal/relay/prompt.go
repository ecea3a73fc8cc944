package relay

import (
	"unicode/utf8"

	"github.com/ProhibitedTV/ChoomLang/internal/contract"
	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/ollama"
)

const (
	DefaultStart = "ping tool service=relay"

	// NoRepeatInstruction replaces the turn prompt when a reply echoes the
	// previous accepted record.
	NoRepeatInstruction = "Do not repeat the previous line; advance the workflow."
)

// StructuredPrompt asks for one JSON record answering incoming.
func StructuredPrompt(incoming dsl.Command) (string, error) {
	data, err := incoming.JSON("")
	if err != nil {
		return "", err
	}
	text, _ := contract.Contract(contract.ContractStructured)
	return guardLength("Reply with exactly one canonical ChoomLang JSON object and no extra text.\n" +
		"Incoming JSON: " + string(data) + "\n" + text)
}

// DSLPrompt asks for one protocol line answering incoming.
func DSLPrompt(incoming dsl.Command, line string) (string, error) {
	data, err := incoming.JSON("")
	if err != nil {
		return "", err
	}
	text, _ := contract.Contract(contract.ContractDSL)
	return guardLength("Reply with exactly one ChoomLang DSL line.\n" +
		"Incoming DSL: " + line + "\n" +
		"Incoming JSON: " + string(data) + "\n" + text)
}

func guardLength(prompt string) (string, error) {
	if utf8.RuneCountInString(prompt) > ollama.MaxMessageChars {
		return "", ErrMessageTooLarge
	}
	return prompt, nil
}
