package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/registry"
)

// ReplyError describes why a structured model reply was rejected.
// InvalidFields names the record fields at fault, when known.
type ReplyError struct {
	Msg           string
	InvalidFields []string
	Err           error
}

func (e *ReplyError) Error() string { return e.Msg }

func (e *ReplyError) Unwrap() error { return e.Err }

func replyErr(fields []string, cause error, format string, args ...any) *ReplyError {
	return &ReplyError{Msg: fmt.Sprintf(format, args...), InvalidFields: fields, Err: cause}
}

// ParseStructuredReply decodes a model's JSON reply into a record and its
// canonical DSL line. Missing count and params default to 1 and {}.
// Op and target are checked against the registry unless opts relaxes it,
// and gen/script records must carry a parseable multi-line params.text.
func ParseStructuredReply(raw string, opts registry.Options) (dsl.Command, string, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(raw))))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil || dec.More() {
		if err == nil {
			err = errors.New("trailing data after JSON value")
		}
		return dsl.Command{}, "", replyErr(nil, err, "structured relay response was not valid JSON")
	}
	payload, ok := decoded.(map[string]any)
	if !ok {
		return dsl.Command{}, "", replyErr(nil, nil, "structured relay response must be a JSON object")
	}

	var missing []string
	for _, key := range []string{"op", "target"} {
		if _, ok := payload[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return dsl.Command{}, "", replyErr(missing, nil, "structured relay response missing required keys: op and target")
	}
	op, opOK := payload["op"].(string)
	target, targetOK := payload["target"].(string)
	if !opOK || !targetOK {
		var fields []string
		if !opOK {
			fields = append(fields, "op")
		}
		if !targetOK {
			fields = append(fields, "target")
		}
		return dsl.Command{}, "", replyErr(fields, nil, "structured relay response op and target must be strings")
	}

	count := 1
	if rawCount, present := payload["count"]; present && rawCount != nil {
		n, ok := replyCount(rawCount)
		if !ok {
			return dsl.Command{}, "", replyErr([]string{"count"}, nil, "structured relay response count must be an integer")
		}
		if n < 1 {
			return dsl.Command{}, "", replyErr([]string{"count"}, nil, "structured relay response count must be >= 1")
		}
		count = n
	}

	params := map[string]any{}
	if rawParams, present := payload["params"]; present && rawParams != nil {
		m, ok := rawParams.(map[string]any)
		if !ok {
			return dsl.Command{}, "", replyErr([]string{"params"}, nil, "structured relay response params must be an object")
		}
		params = m
	}

	cmd, err := dsl.FromMap(map[string]any{"op": op, "target": target, "count": count, "params": params})
	if err != nil {
		return dsl.Command{}, "", replyErr([]string{"params"}, err, "structured relay response params are invalid: %v", err)
	}
	if err := cmd.Validate(opts); err != nil {
		var fe *registry.FieldError
		fields := []string{"record"}
		if errors.As(err, &fe) {
			fields = []string{string(fe.Field)}
		}
		return dsl.Command{}, "", replyErr(fields, err, "structured relay response failed validation: %v", err)
	}
	if err := CheckGenScript(cmd); err != nil {
		return dsl.Command{}, "", err
	}

	line, err := dsl.Serialize(cmd)
	if err != nil {
		return dsl.Command{}, "", replyErr(nil, err, "structured relay response cannot be rendered as DSL: %v", err)
	}
	return cmd, line, nil
}

// CheckGenScript enforces the gen/script rule on a decoded record. Other
// op/target pairs pass untouched.
func CheckGenScript(cmd dsl.Command) error {
	if cmd.Op != "gen" || cmd.Target != "script" {
		return nil
	}
	text, ok := cmd.Params["text"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return replyErr([]string{"params.text"}, nil, "gen script params.text is required string")
	}
	if _, present := cmd.Params["prompt"]; present {
		return replyErr([]string{"params.prompt"}, nil, "gen script params.prompt is not allowed")
	}
	if err := dsl.ValidateScript(text); err != nil {
		return replyErr([]string{"params.text"}, err, "gen script params.text must be a valid multi-line ChoomLang script: %v", err)
	}
	return nil
}

func replyCount(v any) (int, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return int(i), true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}
