// Package toolbridge serves `toolcall tool name=<server>.<tool>` lines from
// external MCP servers. Only tools matched by a server's allow_tools globs
// are reachable; connections are opened lazily and reused for the run.
package toolbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/ProhibitedTV/ChoomLang/internal/config"
)

// ToolError is a tool result flagged IsError by the server.
type ToolError struct {
	Server string
	Tool   string
	Msg    string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s.%s failed: %s", e.Server, e.Tool, e.Msg)
}

// toolInfo is the part of a tool descriptor the bridge needs.
type toolInfo struct {
	Name        string
	InputSchema json.RawMessage
}

// connection wraps an MCP client with its transport.
type connection struct {
	listTools func(ctx context.Context) ([]mcp.Tool, error)
	callTool  func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	close     func() error

	// tools is filled on first use.
	tools []toolInfo
}

// Bridge manages MCP server connections, creating them on demand.
type Bridge struct {
	servers map[string]config.ServerConfig
	Logger  zerolog.Logger

	mu    sync.Mutex
	conns map[string]*connection
}

// New creates a bridge over the configured servers.
func New(servers map[string]config.ServerConfig) *Bridge {
	return &Bridge{
		servers: servers,
		Logger:  zerolog.Nop(),
		conns:   make(map[string]*connection),
	}
}

// Split parses "server.tool". The tool part may itself contain dots.
func Split(name string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(name, ".")
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// Allowed reports whether tool matches one of the server's allow_tools globs.
func Allowed(srv config.ServerConfig, tool string) bool {
	for _, pattern := range srv.AllowTools {
		if ok, err := path.Match(pattern, tool); err == nil && ok {
			return true
		}
	}
	return false
}

// Has reports whether name addresses an allow-listed tool on a configured
// server. It does not contact the server.
func (b *Bridge) Has(name string) bool {
	server, tool, ok := Split(name)
	if !ok {
		return false
	}
	srv, ok := b.servers[server]
	return ok && Allowed(srv, tool)
}

// Call invokes server.tool with params coerced to the tool's input schema and
// returns the rendered result.
func (b *Bridge) Call(ctx context.Context, name string, params map[string]any, artifactsDir string) (string, error) {
	server, tool, ok := Split(name)
	if !ok {
		return "", fmt.Errorf("tool name %q must look like <server>.<tool>", name)
	}
	if !b.Has(name) {
		return "", fmt.Errorf("tool %s is not allowed on server %s (check mcp_servers.%s.allow_tools)", tool, server, server)
	}

	started := time.Now()
	conn, err := b.getOrCreate(ctx, server)
	if err != nil {
		return "", err
	}

	tools, err := b.listTools(ctx, server, conn)
	if err != nil {
		return "", err
	}
	info, ok := findTool(tools, tool)
	if !ok {
		return "", fmt.Errorf("tool %s not found on server %s", tool, server)
	}

	args, err := compileToolArgs(params, info.InputSchema)
	if err != nil {
		return "", err
	}

	result, err := conn.callTool(ctx, info.Name, args)
	if err != nil {
		b.invalidate(server, conn)
		return "", fmt.Errorf("calling %s.%s: %w", server, info.Name, err)
	}
	b.Logger.Debug().
		Str("server", server).
		Str("tool", info.Name).
		Dur("elapsed", time.Since(started)).
		Bool("is_error", result.IsError).
		Msg("bridge call")

	out, err := render(result, artifactsDir, server+"_"+info.Name)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", &ToolError{Server: server, Tool: info.Name, Msg: strings.TrimSpace(out)}
	}
	return out, nil
}

// Close disconnects all servers.
func (b *Bridge) Close() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[string]*connection)
	b.mu.Unlock()

	for _, conn := range conns {
		if conn.close != nil {
			_ = conn.close()
		}
	}
}

func (b *Bridge) getOrCreate(ctx context.Context, server string) (*connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conn, ok := b.conns[server]; ok {
		return conn, nil
	}

	scfg, ok := b.servers[server]
	if !ok {
		return nil, fmt.Errorf("unknown server: %s", server)
	}

	var conn *connection
	var err error
	switch {
	case scfg.IsStdio():
		conn, err = connectStdio(ctx, scfg)
	case scfg.IsHTTP():
		conn, err = connectHTTP(ctx, scfg)
	default:
		return nil, fmt.Errorf("server %s: no command or url configured", server)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", server, err)
	}

	b.conns[server] = conn
	return conn, nil
}

func (b *Bridge) listTools(ctx context.Context, server string, conn *connection) ([]toolInfo, error) {
	b.mu.Lock()
	cached := conn.tools
	b.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	tools, err := conn.listTools(ctx)
	if err != nil {
		b.invalidate(server, conn)
		return nil, fmt.Errorf("listing tools on %s: %w", server, err)
	}

	infos := make([]toolInfo, len(tools))
	for i, t := range tools {
		schema, _ := marshalInputSchema(t)
		infos[i] = toolInfo{Name: t.Name, InputSchema: schema}
	}

	b.mu.Lock()
	conn.tools = infos
	b.mu.Unlock()
	return infos, nil
}

func (b *Bridge) invalidate(server string, conn *connection) {
	b.mu.Lock()
	if current, ok := b.conns[server]; ok && current == conn {
		delete(b.conns, server)
	}
	b.mu.Unlock()

	if conn != nil && conn.close != nil {
		_ = conn.close()
	}
}

// findTool matches exactly, then with '-' and '_' swapped, so
// `name=fs.read-file` reaches a tool named read_file.
func findTool(tools []toolInfo, requested string) (toolInfo, bool) {
	for _, t := range tools {
		if t.Name == requested {
			return t, true
		}
	}

	alias := normalizeToolAlias(requested)
	if alias == requested {
		return toolInfo{}, false
	}
	for _, t := range tools {
		if t.Name == alias {
			return t, true
		}
	}
	return toolInfo{}, false
}

func normalizeToolAlias(name string) string {
	if strings.Contains(name, "-") {
		return strings.ReplaceAll(name, "-", "_")
	}
	if strings.Contains(name, "_") {
		return strings.ReplaceAll(name, "_", "-")
	}
	return name
}

func marshalInputSchema(t mcp.Tool) (json.RawMessage, error) {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema, nil
	}
	return json.Marshal(t.InputSchema)
}
