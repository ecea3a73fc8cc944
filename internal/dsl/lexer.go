package dsl

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is one whitespace-delimited unit of a command line.
type Token struct {
	// Raw is the source text, quote characters included.
	Raw string
	// Text is Raw with quote delimiters removed and \" and \\ resolved.
	Text string
	// Quoted is true when the token contains at least one quoted segment.
	Quoted bool

	eqs         []int // offsets in Text of '=' outside quotes
	quoteStarts []int // offsets in Text where quoted segments open
}

// quotedFrom reports whether a quoted segment opens at or after offset.
func (t Token) quotedFrom(offset int) bool {
	for _, start := range t.quoteStarts {
		if start >= offset {
			return true
		}
	}
	return false
}

type tokenBuilder struct {
	started     bool
	quoted      bool
	raw         []byte
	text        []byte
	eqs         []int
	quoteStarts []int
}

func (b *tokenBuilder) token() Token {
	return Token{
		Raw:         string(b.raw),
		Text:        string(b.text),
		Quoted:      b.quoted,
		eqs:         b.eqs,
		quoteStarts: b.quoteStarts,
	}
}

// Tokenize splits one line into tokens. Whitespace outside quotes separates
// tokens and is discarded. Inside quotes whitespace and '=' are literal and
// only \" and \\ are escapes; any other backslash is kept as is.
func Tokenize(line string) ([]Token, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, syntaxErrorf(ErrEmptyInput, "", "invalid header: empty input")
	}

	var (
		tokens  []Token
		cur     tokenBuilder
		inQuote bool
		escape  bool
	)

	for _, r := range line {
		if inQuote {
			cur.raw = utf8.AppendRune(cur.raw, r)
			switch {
			case escape:
				escape = false
				if r != '"' && r != '\\' {
					cur.text = append(cur.text, '\\')
				}
				cur.text = utf8.AppendRune(cur.text, r)
			case r == '\\':
				escape = true
			case r == '"':
				inQuote = false
			default:
				cur.text = utf8.AppendRune(cur.text, r)
			}
			continue
		}

		if unicode.IsSpace(r) {
			if cur.started {
				tokens = append(tokens, cur.token())
				cur = tokenBuilder{}
			}
			continue
		}

		cur.started = true
		cur.raw = utf8.AppendRune(cur.raw, r)
		switch r {
		case '"':
			inQuote = true
			cur.quoted = true
			cur.quoteStarts = append(cur.quoteStarts, len(cur.text))
		case '=':
			cur.eqs = append(cur.eqs, len(cur.text))
			cur.text = append(cur.text, '=')
		default:
			cur.text = utf8.AppendRune(cur.text, r)
		}
	}

	if inQuote {
		return nil, syntaxErrorf(ErrUnterminatedQuote, string(cur.raw), `unterminated quote: missing closing '"'`)
	}
	if cur.started {
		tokens = append(tokens, cur.token())
	}
	return tokens, nil
}
