package ollama

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrUnreachable           = errors.New("ollama: endpoint unreachable")
	ErrTimeout               = errors.New("ollama: request timed out")
	ErrBadResponseShape      = errors.New("ollama: unexpected response shape")
	ErrMessageTooLarge       = errors.New("ollama: model message exceeded maximum size")
	ErrStructuredUnsupported = errors.New("ollama: structured relay requires /api/chat endpoint support")
	ErrEmptyMessages         = errors.New("ollama: chat requires either prompt or messages")
)

// HTTPError is a non-2xx reply from the endpoint.
type HTTPError struct {
	Status int
	Body   string
	Path   string
}

const maxErrorBodyRunes = 240

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if utf8.RuneCountInString(body) > maxErrorBodyRunes {
		body = string([]rune(body)[:maxErrorBodyRunes]) + "..."
	}
	return fmt.Sprintf("ollama request failed (%s): HTTP %d %s", e.Path, e.Status, body)
}

// ModelNotFoundError reports a model name the endpoint does not serve,
// with the closest registered names.
type ModelNotFoundError struct {
	Model       string
	Suggestions []string
	Err         error
}

func (e *ModelNotFoundError) Error() string {
	msg := fmt.Sprintf("model '%s' not found on endpoint", e.Model)
	if len(e.Suggestions) > 0 {
		msg += "; did you mean: " + strings.Join(e.Suggestions, ", ") + "?"
	}
	return msg
}

func (e *ModelNotFoundError) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// Reason condenses err into a short tag for transcript fallback notes,
// e.g. "timeout", "unreachable", "http-500".
func Reason(err error) string {
	var he *HTTPError
	var mnf *ModelNotFoundError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.As(err, &mnf):
		return "model-not-found"
	case errors.As(err, &he):
		return fmt.Sprintf("http-%d", he.Status)
	case errors.Is(err, ErrBadResponseShape):
		return "bad-response"
	case errors.Is(err, ErrMessageTooLarge):
		return "too-large"
	default:
		return "invalid"
	}
}

func isModelMissing(he *HTTPError) bool {
	body := strings.ToLower(he.Body)
	return he.Status == 404 && strings.Contains(body, "model") && strings.Contains(body, "not found")
}
