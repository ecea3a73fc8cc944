package relay

import (
	"errors"
	"fmt"
)

var (
	ErrMessageTooLarge  = errors.New("incoming message too large to relay")
	ErrStrictValidation = errors.New("model failed strict ChoomLang validation after retry")
	ErrRepeated         = errors.New("reply repeats the previous line")
	ErrBadTurns         = errors.New("turns must be >= 1")
)

// TurnError is a terminal relay failure. It always names the stage that
// failed and keeps the last raw reply for diagnostics.
type TurnError struct {
	Side     string
	Model    string
	Turn     int
	Stage    string
	Retry    int
	Raw      string
	Decision Decision
	Err      error
}

func (e *TurnError) Error() string {
	msg := fmt.Sprintf("relay %s (%s) turn %d failed at stage %s", e.Side, e.Model, e.Turn, e.Stage)
	if e.Decision != "" {
		msg += " [" + string(e.Decision) + "]"
	}
	return msg + ": " + e.Err.Error()
}

func (e *TurnError) Unwrap() error { return e.Err }
