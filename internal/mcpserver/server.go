// Package mcpserver exposes the ChoomLang codec as MCP tools over stdio.
package mcpserver

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

const serverName = "choom"

const instructions = `ChoomLang is a one-line command language: <op> <target>[count] key=value ...
Use choom_translate to convert between a DSL line and its canonical JSON record,
choom_validate or choom_lint before sending a line, choom_fmt to canonicalize,
and choom_guard or choom_contract to build prompts for models that must reply in ChoomLang.`

type tool struct {
	def    mcp.Tool
	handle server.ToolHandlerFunc
}

// New builds the server with every codec tool registered.
func New(version string, logger zerolog.Logger) *server.MCPServer {
	s := server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	for _, t := range tools() {
		s.AddTool(t.def, logged(logger, t.def.Name, t.handle))
	}
	return s
}

// Serve runs the server on the given streams until ctx is done or in closes.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

func logged(logger zerolog.Logger, name string, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := next(ctx, request)
		ev := logger.Debug().Str("tool", name)
		if result != nil {
			ev = ev.Bool("is_error", result.IsError)
		}
		ev.Msg("mcp tool call")
		return result, err
	}
}
