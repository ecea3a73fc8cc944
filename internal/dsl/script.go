package dsl

import (
	"strings"
)

// ScriptLine is one executable line of a multi-line script.
type ScriptLine struct {
	Number int // 1-based line number in the source
	Text   string
}

// StripInlineComment cuts line at the first '#' outside quotes and trims
// trailing space.
func StripInlineComment(line string) string {
	inQuote, escape := false, false
	for i, r := range line {
		if inQuote {
			switch {
			case escape:
				escape = false
			case r == '\\':
				escape = true
			case r == '"':
				inQuote = false
			}
			continue
		}
		switch r {
		case '"':
			inQuote = true
		case '#':
			return strings.TrimRightFunc(line[:i], isSpace)
		}
	}
	return strings.TrimRightFunc(line, isSpace)
}

// ScriptLines returns the non-blank, non-comment lines of text with inline
// comments removed.
func ScriptLines(text string) []ScriptLine {
	var rows []ScriptLine
	for i, raw := range splitLines(text) {
		stripped := strings.TrimSpace(raw)
		if stripped == "" || strings.HasPrefix(stripped, "#") {
			continue
		}
		body := strings.TrimSpace(StripInlineComment(raw))
		if body == "" {
			continue
		}
		rows = append(rows, ScriptLine{Number: i + 1, Text: body})
	}
	return rows
}

// ScriptToJSONL decodes every script line into compact JSON. With failFast
// the first error stops processing.
func ScriptToJSONL(text string, failFast bool) ([]string, []error) {
	return convertScript(text, failFast, func(line string) (string, error) {
		cmd, err := Parse(line)
		if err != nil {
			return "", err
		}
		data, err := cmd.JSON("")
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
}

// ScriptToDSL canonicalizes every script line.
func ScriptToDSL(text string, failFast bool) ([]string, []error) {
	return convertScript(text, failFast, func(line string) (string, error) {
		return Canonicalize(line, false)
	})
}

// ValidateScript checks that every line of a multi-line text parses.
func ValidateScript(text string) error {
	lines := ScriptLines(text)
	if len(lines) == 0 {
		return syntaxErrorf(ErrEmptyInput, "", "invalid header: empty input")
	}
	for _, line := range lines {
		if _, err := Parse(line.Text); err != nil {
			return &LineError{Line: line.Number, Err: err}
		}
	}
	return nil
}

func convertScript(text string, failFast bool, convert func(string) (string, error)) ([]string, []error) {
	var (
		outputs []string
		errs    []error
	)
	for _, line := range ScriptLines(text) {
		out, err := convert(line.Text)
		if err != nil {
			errs = append(errs, &LineError{Line: line.Number, Err: err})
			if failFast {
				break
			}
			continue
		}
		outputs = append(outputs, out)
	}
	return outputs, errs
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == '\v' || r == '\f'
}
