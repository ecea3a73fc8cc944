package dsl

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput        = errors.New("dsl: empty input")
	ErrUnterminatedQuote = errors.New("dsl: unterminated quote")
	ErrInvalidHeader     = errors.New("dsl: invalid header")
	ErrBadCount          = errors.New("dsl: bad count")
	ErrMalformedParam    = errors.New("dsl: malformed param")
	ErrBadParameters     = errors.New("dsl: bad parameters")
	ErrInvalidRecord     = errors.New("dsl: invalid record")
)

// SyntaxError reports why a line or record could not be decoded or encoded.
// Kind is one of the Err* sentinels above.
type SyntaxError struct {
	Kind  error
	Token string
	Msg   string
}

func (e *SyntaxError) Error() string { return e.Msg }

func (e *SyntaxError) Unwrap() error { return e.Kind }

func syntaxErrorf(kind error, token, format string, args ...any) *SyntaxError {
	return &SyntaxError{Kind: kind, Token: token, Msg: fmt.Sprintf(format, args...)}
}

// LineError ties a decode failure to a 1-based script line number.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }
