package contract

import (
	"fmt"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/registry"
)

// Mode selects how tightly the schema pins op and target.
type Mode string

const (
	ModeStrict     Mode = "strict"
	ModePermissive Mode = "permissive"
)

// ParseMode accepts "strict" or "permissive". Empty means strict.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeStrict:
		return ModeStrict, nil
	case ModePermissive:
		return ModePermissive, nil
	}
	return "", fmt.Errorf("unknown schema mode %q (expected strict or permissive)", s)
}

// Schema returns the JSON Schema for a structured record.
//
// In strict mode op and target must come from the registry; in permissive
// mode the registry sets are offered through $defs but any string passes.
// Both modes carry the gen/script rule: params.text is a required string
// and params.prompt is forbidden.
func Schema(mode Mode) map[string]any {
	var opSchema, targetSchema map[string]any
	if mode == ModePermissive {
		opSchema = map[string]any{
			"anyOf":       []any{map[string]any{"$ref": "#/$defs/knownOp"}, map[string]any{"type": "string"}},
			"description": "Canonical operation name. Known ops are enumerated but extensions are allowed.",
		}
		targetSchema = map[string]any{
			"anyOf":       []any{map[string]any{"$ref": "#/$defs/knownTarget"}, map[string]any{"type": "string"}},
			"description": "Target domain. Known targets are enumerated but extensions are allowed.",
		}
	} else {
		opSchema = map[string]any{"$ref": "#/$defs/knownOp"}
		targetSchema = map[string]any{"$ref": "#/$defs/knownTarget"}
	}

	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"title":                "ChoomLang canonical payload",
		"type":                 "object",
		"required":             []any{"op", "target", "count", "params"},
		"additionalProperties": false,
		"properties": map[string]any{
			"op":     opSchema,
			"target": targetSchema,
			"count":  map[string]any{"type": "integer", "minimum": 1, "default": 1},
			"params": map[string]any{
				"type":    "object",
				"default": map[string]any{},
				"additionalProperties": map[string]any{
					"anyOf": []any{
						map[string]any{"type": "string"},
						map[string]any{"type": "number"},
						map[string]any{"type": "boolean"},
						map[string]any{"type": "null"},
					},
				},
			},
		},
		"allOf": []any{genScriptRule()},
		"$defs": map[string]any{
			"knownOp":     map[string]any{"type": "string", "enum": stringsToAny(registry.Ops())},
			"knownTarget": map[string]any{"type": "string", "enum": stringsToAny(registry.Targets())},
		},
	}
}

// SchemaJSON renders Schema(mode) with sorted keys.
func SchemaJSON(mode Mode, indent string) ([]byte, error) {
	return dsl.MarshalSorted(Schema(mode), indent)
}

func genScriptRule() map[string]any {
	return map[string]any{
		"if": map[string]any{
			"required": []any{"op", "target"},
			"properties": map[string]any{
				"op":     map[string]any{"const": "gen"},
				"target": map[string]any{"const": "script"},
			},
		},
		"then": map[string]any{
			"properties": map[string]any{
				"params": map[string]any{
					"type":     "object",
					"required": []any{"text"},
					"properties": map[string]any{
						"text": map[string]any{
							"type":        "string",
							"minLength":   1,
							"description": "Newline-separated ChoomLang lines; each line must parse on its own.",
						},
					},
					"not": map[string]any{"required": []any{"prompt"}},
				},
			},
		},
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
