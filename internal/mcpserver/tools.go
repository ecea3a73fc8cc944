package mcpserver

import (
	"context"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ProhibitedTV/ChoomLang/internal/contract"
	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/lint"
	"github.com/ProhibitedTV/ChoomLang/internal/registry"
)

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func inputSchema(props map[string]any, required ...string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{Type: "object", Properties: props, Required: required}
}

func tools() []tool {
	lineProp := stringProp("One ChoomLang DSL line")
	lenientProp := boolProp("Strip one trailing standalone '.', ',' or ';' token")

	return []tool{
		{
			def: mcp.Tool{
				Name:        "choom_translate",
				Description: "Translate a DSL line to its canonical JSON record, or a JSON record back to DSL",
				InputSchema: inputSchema(map[string]any{
					"input":   stringProp("DSL line or JSON object text"),
					"reverse": boolProp("Treat input as JSON and emit DSL (implied when input starts with '{')"),
					"compact": boolProp("Emit compact JSON instead of indented JSON"),
					"lenient": lenientProp,
				}, "input"),
			},
			handle: handleTranslate,
		},
		{
			def: mcp.Tool{
				Name:        "choom_validate",
				Description: "Check that a DSL line parses; with strict, also check op and target against the registry",
				InputSchema: inputSchema(map[string]any{
					"line":                 lineProp,
					"lenient":              lenientProp,
					"strict":               boolProp("Reject unknown ops and targets"),
					"allow_unknown_op":     boolProp("With strict, accept ops outside the registry"),
					"allow_unknown_target": boolProp("With strict, accept targets outside the registry"),
				}, "line"),
			},
			handle: handleValidate,
		},
		{
			def: mcp.Tool{
				Name:        "choom_lint",
				Description: "Report non-canonical or suspicious patterns in a DSL line",
				InputSchema: inputSchema(map[string]any{
					"line":           lineProp,
					"lenient":        lenientProp,
					"strict_ops":     boolProp("Warn on ops outside the registry"),
					"strict_targets": boolProp("Warn on targets outside the registry"),
				}, "line"),
			},
			handle: handleLint,
		},
		{
			def: mcp.Tool{
				Name:        "choom_fmt",
				Description: "Rewrite a DSL line in canonical form",
				InputSchema: inputSchema(map[string]any{
					"line":    lineProp,
					"lenient": lenientProp,
				}, "line"),
			},
			handle: handleFmt,
		},
		{
			def: mcp.Tool{
				Name:        "choom_explain",
				Description: "Explain a DSL line token by token",
				InputSchema: inputSchema(map[string]any{"line": lineProp}, "line"),
			},
			handle: handleExplain,
		},
		{
			def: mcp.Tool{
				Name:        "choom_schema",
				Description: "JSON Schema for a canonical record",
				InputSchema: inputSchema(map[string]any{
					"mode": map[string]any{
						"type":        "string",
						"enum":        []string{string(contract.ModeStrict), string(contract.ModePermissive)},
						"description": "strict pins op and target to the registry; permissive allows any string",
					},
				}),
			},
			handle: handleSchema,
		},
		{
			def: mcp.Tool{
				Name:        "choom_guard",
				Description: "Repair prompt asking a model for one valid DSL line",
				InputSchema: inputSchema(map[string]any{
					"error":    stringProp("Parse or validation error from the previous reply"),
					"previous": stringProp("The previous model reply"),
				}),
			},
			handle: handleGuard,
		},
		{
			def: mcp.Tool{
				Name:        "choom_contract",
				Description: "Instruction text for models replying in DSL or structured JSON",
				InputSchema: inputSchema(map[string]any{
					"mode": map[string]any{
						"type": "string",
						"enum": []string{contract.ContractDSL, contract.ContractStructured},
					},
				}),
			},
			handle: handleContract,
		},
	}
}

func handleTranslate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input := strings.TrimSpace(request.GetString("input", ""))
	if input == "" {
		return mcp.NewToolResultError("input is required"), nil
	}

	if request.GetBool("reverse", false) || strings.HasPrefix(input, "{") {
		cmd, err := dsl.DecodeJSON([]byte(input))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		line, err := dsl.Serialize(cmd)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(line), nil
	}

	cmd, err := dsl.Parse(input, dsl.WithLenient(request.GetBool("lenient", false)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	indent := "  "
	if request.GetBool("compact", false) {
		indent = ""
	}
	data, err := cmd.JSON(indent)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func handleValidate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	line := request.GetString("line", "")
	lenient := request.GetBool("lenient", false)

	cmd, err := dsl.Parse(line, dsl.WithLenient(lenient))
	if err != nil {
		return mcp.NewToolResultError(withHints(err.Error(), lint.ParseHints(line, err, lenient))), nil
	}

	if request.GetBool("strict", false) {
		err := cmd.Validate(registry.Options{
			AllowUnknownOp:     request.GetBool("allow_unknown_op", false),
			AllowUnknownTarget: request.GetBool("allow_unknown_target", false),
		})
		if err != nil {
			return mcp.NewToolResultError(withHints(err.Error(), fieldHint(err))), nil
		}
		return mcp.NewToolResultText("ok"), nil
	}
	return mcp.NewToolResultText(withHints("ok", lint.RegistryHints(cmd))), nil
}

func handleLint(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res := lint.Line(request.GetString("line", ""), lint.Options{
		Lenient:       request.GetBool("lenient", false),
		StrictOps:     request.GetBool("strict_ops", false),
		StrictTargets: request.GetBool("strict_targets", false),
	})
	var lines []string
	for _, w := range res.Warnings {
		lines = append(lines, "warn: "+w)
	}
	for _, e := range res.Errors {
		lines = append(lines, "error: "+e)
	}
	if len(res.Errors) > 0 {
		return mcp.NewToolResultError(strings.Join(lines, "\n")), nil
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("ok"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func handleFmt(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := dsl.Canonicalize(request.GetString("line", ""), request.GetBool("lenient", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func handleExplain(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := dsl.Explain(request.GetString("line", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

func handleSchema(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, err := contract.ParseMode(request.GetString("mode", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := contract.SchemaJSON(mode, "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func handleGuard(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(contract.GuardPrompt(
		request.GetString("error", ""),
		request.GetString("previous", ""),
	)), nil
}

func handleContract(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := contract.Contract(request.GetString("mode", contract.ContractDSL))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func withHints(msg string, hints []string) string {
	if len(hints) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for _, h := range hints {
		b.WriteString("\nhint: ")
		b.WriteString(h)
	}
	return b.String()
}

func fieldHint(err error) []string {
	var fe *registry.FieldError
	if errors.As(err, &fe) && fe.Hint != "" {
		return []string{fe.Hint}
	}
	return nil
}
