package transcript

import (
	"encoding/json"
	"time"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
)

// Stage names, in negotiation order.
const (
	StageSchema   = "structured-schema"
	StageJSON     = "structured-json"
	StageFallback = "fallback-dsl"
	StageDSL      = "dsl"
)

var nowFn = time.Now

// Record is one transport attempt or accepted turn. Records are written
// once and never mutated.
type Record struct {
	TS              string         `json:"ts"`
	SessionID       string         `json:"session_id"`
	Turn            int            `json:"turn"`
	RequestID       int            `json:"request_id"`
	Side            string         `json:"side"`
	Model           string         `json:"model"`
	Mode            string         `json:"mode"`
	Stage           string         `json:"stage"`
	RequestMode     string         `json:"request_mode"`
	HTTPStatus      int            `json:"http_status"`
	Raw             string         `json:"raw"`
	Parsed          map[string]any `json:"parsed"`
	DSL             string         `json:"dsl"`
	Error           string         `json:"error"`
	Retry           int            `json:"retry"`
	ElapsedMS       int64          `json:"elapsed_ms"`
	TimeoutS        float64        `json:"timeout_s"`
	KeepAliveS      float64        `json:"keep_alive_s"`
	FallbackReason  string         `json:"fallback_reason"`
	InvalidFields   []string       `json:"invalid_fields"`
	RawJSONText     string         `json:"raw_json_text"`
	RepeatPrevented bool           `json:"repeat_prevented"`
}

type recordAlias Record

// recordWire writes the optional text fields as null when they are empty.
type recordWire struct {
	recordAlias
	DSL            *string `json:"dsl"`
	Error          *string `json:"error"`
	FallbackReason *string `json:"fallback_reason"`
	RawJSONText    *string `json:"raw_json_text"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	return dsl.MarshalSorted(recordWire{
		recordAlias:    recordAlias(r),
		DSL:            nullable(r.DSL),
		Error:          nullable(r.Error),
		FallbackReason: nullable(r.FallbackReason),
		RawJSONText:    nullable(r.RawJSONText),
	}, "")
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Record(w.recordAlias)
	r.DSL = deref(w.DSL)
	r.Error = deref(w.Error)
	r.FallbackReason = deref(w.FallbackReason)
	r.RawJSONText = deref(w.RawJSONText)
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Accepted reports whether the record carries a parsed reply.
func (r Record) Accepted() bool {
	return r.Error == "" && r.Parsed != nil
}

// Stamp fills TS with the current UTC time when unset.
func (r *Record) Stamp() {
	if r.TS == "" {
		r.TS = nowFn().UTC().Format(time.RFC3339Nano)
	}
}
