package dsl

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ProhibitedTV/ChoomLang/internal/registry"
)

var (
	headerRe  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_-]*)(?:\[([^\]]+)\])?$`)
	countRe   = regexp.MustCompile(`^[0-9]+$`)
	integerRe = regexp.MustCompile(`^-?[0-9]+$`)
	decimalRe = regexp.MustCompile(`^-?[0-9]+\.[0-9]+$`)
)

// trailing tokens dropped in lenient mode; only one is ever stripped.
var trailingPunctuation = map[string]bool{".": true, ",": true, ";": true}

type parseOptions struct {
	lenient bool
}

// Option adjusts Parse behaviour.
type Option func(*parseOptions)

// WithLenient strips one trailing standalone '.', ',' or ';' token before
// parsing, tolerating sentence punctuation from models.
func WithLenient(on bool) Option {
	return func(o *parseOptions) { o.lenient = on }
}

// Parse decodes one line into a Command. The op alias is resolved; unknown
// ops and targets pass through. A quoted op is rejected.
func Parse(line string, opts ...Option) (Command, error) {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}

	tokens, err := Tokenize(line)
	if err != nil {
		return Command{}, err
	}
	if o.lenient {
		tokens = stripTrailingPunctuation(tokens)
	}
	if len(tokens) < 2 {
		return Command{}, syntaxErrorf(ErrInvalidHeader, "", "invalid header: expected '<op> <target>[count] ...'")
	}

	if tokens[0].Quoted {
		return Command{}, syntaxErrorf(ErrInvalidHeader, tokens[0].Raw, "invalid header: op must be a bare token, got '%s'", tokens[0].Raw)
	}

	target, count, err := parseTargetCount(tokens[1])
	if err != nil {
		return Command{}, err
	}

	params := make(map[string]any, len(tokens)-2)
	for _, tok := range tokens[2:] {
		key, value, err := parseParam(tok)
		if err != nil {
			return Command{}, err
		}
		params[key] = value
	}

	return Command{
		Op:     registry.NormalizeOp(tokens[0].Text),
		Target: target,
		Count:  count,
		Params: params,
	}, nil
}

// ParseAssignment parses a single key=value token with the same quoting
// and coercion rules as line params.
func ParseAssignment(text string) (string, any, error) {
	tokens, err := Tokenize(text)
	if err != nil {
		return "", nil, err
	}
	if len(tokens) != 1 {
		return "", nil, syntaxErrorf(ErrMalformedParam, text, "malformed kv: expected one key=value token, got '%s'", text)
	}
	return parseParam(tokens[0])
}

// Canonicalize returns the canonical text of line: serialize(parse(line)).
func Canonicalize(line string, lenient bool) (string, error) {
	cmd, err := Parse(line, WithLenient(lenient))
	if err != nil {
		return "", err
	}
	return Serialize(cmd)
}

func stripTrailingPunctuation(tokens []Token) []Token {
	if n := len(tokens); n > 0 {
		last := tokens[n-1]
		if !last.Quoted && trailingPunctuation[last.Raw] {
			return tokens[:n-1]
		}
	}
	return tokens
}

func parseTargetCount(tok Token) (string, int, error) {
	m := headerRe.FindStringSubmatch(tok.Raw)
	if m == nil {
		return "", 0, syntaxErrorf(ErrInvalidHeader, tok.Raw, "invalid header: invalid target/count segment '%s'", tok.Raw)
	}
	target, rawCount := m[1], m[2]
	if rawCount == "" {
		return target, 1, nil
	}
	if !countRe.MatchString(rawCount) {
		return "", 0, syntaxErrorf(ErrBadCount, tok.Raw, "bad count: expected positive integer, got '%s'", rawCount)
	}
	count, err := strconv.Atoi(rawCount)
	if err != nil {
		return "", 0, syntaxErrorf(ErrBadCount, tok.Raw, "bad count: expected positive integer, got '%s'", rawCount)
	}
	if count < 1 {
		return "", 0, syntaxErrorf(ErrBadCount, tok.Raw, "bad count: expected >= 1, got %d", count)
	}
	return target, count, nil
}

func parseParam(tok Token) (string, any, error) {
	switch len(tok.eqs) {
	case 0:
		return "", nil, syntaxErrorf(ErrMalformedParam, tok.Raw, "malformed kv: missing '=' in token '%s'", tok.Raw)
	case 1:
	default:
		return "", nil, syntaxErrorf(ErrMalformedParam, tok.Raw, "malformed kv: multiple '=' in token '%s'", tok.Raw)
	}

	eq := tok.eqs[0]
	key := tok.Text[:eq]
	value := tok.Text[eq+1:]
	if key == "" {
		return "", nil, syntaxErrorf(ErrMalformedParam, tok.Raw, "malformed kv: empty key in token '%s'", tok.Raw)
	}

	quoted := tok.quotedFrom(eq + 1)
	if value == "" && !quoted {
		return "", nil, syntaxErrorf(ErrMalformedParam, tok.Raw, "malformed kv: empty value for key '%s'", key)
	}
	if quoted {
		return key, value, nil
	}
	return key, coerceBare(value), nil
}

// coerceBare types an unquoted value: bool, then integer, then decimal,
// otherwise the literal string.
func coerceBare(raw string) any {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	if integerRe.MatchString(raw) {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
		// out of int64 range: keep the digits as text
		return raw
	}
	if decimalRe.MatchString(raw) {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}
