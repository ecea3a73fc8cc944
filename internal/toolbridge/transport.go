package toolbridge

import (
	"context"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ProhibitedTV/ChoomLang/internal/config"
)

// ClientVersion is reported to servers during initialize.
var ClientVersion = "dev"

func connectStdio(ctx context.Context, scfg config.ServerConfig) (*connection, error) {
	env := make([]string, 0, len(scfg.Env))
	for k, v := range scfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := mcpclient.NewStdioMCPClient(scfg.Command, env, scfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("creating stdio client: %w", err)
	}
	return initialize(ctx, c)
}

func connectHTTP(ctx context.Context, scfg config.ServerConfig) (*connection, error) {
	var opts []transport.StreamableHTTPCOption
	if len(scfg.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(scfg.Headers))
	}

	c, err := mcpclient.NewStreamableHttpClient(scfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("starting HTTP client: %w", err)
	}
	return initialize(ctx, c)
}

func initialize(ctx context.Context, c *mcpclient.Client) (*connection, error) {
	if _, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "choom",
				Version: ClientVersion,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initializing: %w", err)
	}

	return &connection{
		listTools: func(ctx context.Context) ([]mcp.Tool, error) {
			result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
			if err != nil {
				return nil, err
			}
			return result.Tools, nil
		},
		callTool: func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
			return c.CallTool(ctx, mcp.CallToolRequest{
				Params: mcp.CallToolParams{
					Name:      name,
					Arguments: args,
				},
			})
		},
		close: c.Close,
	}, nil
}
