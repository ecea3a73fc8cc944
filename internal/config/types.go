package config

import (
	"time"

	"github.com/ProhibitedTV/ChoomLang/internal/adapters"
	"github.com/ProhibitedTV/ChoomLang/internal/ollama"
)

// Config is the top-level choom configuration.
type Config struct {
	Endpoint EndpointConfig `toml:"endpoint"`
	Relay    RelayConfig    `toml:"relay"`
	Runner   RunnerConfig   `toml:"runner"`

	// ServerSources are mcpServers JSON documents (the format shared by
	// desktop MCP clients) that supply transports for mcp_servers entries
	// which only declare allow_tools.
	ServerSources []string                `toml:"server_sources,omitempty"`
	MCPServers    map[string]ServerConfig `toml:"mcp_servers"`
}

// EndpointConfig describes the Ollama-compatible chat endpoint.
type EndpointConfig struct {
	BaseURL        string            `toml:"base_url"`
	Timeout        string            `toml:"timeout"`
	KeepAlive      string            `toml:"keep_alive"`
	Headers        map[string]string `toml:"headers,omitempty"`
	ModelsCacheTTL string            `toml:"models_cache_ttl"`
}

// RelayConfig holds defaults for `choom relay`. Flags override them.
type RelayConfig struct {
	Turns       int    `toml:"turns"`
	Strict      bool   `toml:"strict"`
	Structured  bool   `toml:"structured"`
	Schema      bool   `toml:"schema"`
	SchemaMode  string `toml:"schema_mode"`
	Fallback    bool   `toml:"fallback"`
	NoRepeat    bool   `toml:"no_repeat"`
	Lenient     bool   `toml:"lenient"`
	Seed        *int64 `toml:"seed,omitempty"`
	AModel      string `toml:"a_model,omitempty"`
	BModel      string `toml:"b_model,omitempty"`
	Log         string `toml:"log,omitempty"`
	SQLite      string `toml:"sqlite,omitempty"`
	MetricsFile string `toml:"metrics_file,omitempty"`
}

// RunnerConfig holds defaults for `choom run`.
type RunnerConfig struct {
	Workdir     string `toml:"workdir,omitempty"`
	A1111URL    string `toml:"a1111_url"`
	ProfilesDir string `toml:"profiles_dir,omitempty"`
}

// ServerConfig describes how to reach one external MCP tool server.
type ServerConfig struct {
	// Stdio transport
	Command string            `toml:"command,omitempty"`
	Args    []string          `toml:"args,omitempty"`
	Env     map[string]string `toml:"env,omitempty"`

	// HTTP transport
	URL     string            `toml:"url,omitempty"`
	Headers map[string]string `toml:"headers,omitempty"`

	// AllowTools lists tool-name globs callable from scripts. Empty denies all.
	AllowTools []string `toml:"allow_tools"`
}

// IsStdio returns true if the server uses stdio transport.
func (s ServerConfig) IsStdio() bool {
	return s.Command != ""
}

// IsHTTP returns true if the server uses HTTP transport.
func (s ServerConfig) IsHTTP() bool {
	return s.URL != ""
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			BaseURL:        ollama.DefaultBaseURL,
			Timeout:        "180s",
			KeepAlive:      "300s",
			ModelsCacheTTL: "30s",
		},
		Relay: RelayConfig{
			Turns:      6,
			Strict:     true,
			Schema:     true,
			SchemaMode: "strict",
			Fallback:   true,
			NoRepeat:   true,
		},
		Runner: RunnerConfig{
			A1111URL: adapters.DefaultA1111URL,
		},
		MCPServers: make(map[string]ServerConfig),
	}
}

// TimeoutDuration returns the parsed request timeout.
func (e EndpointConfig) TimeoutDuration() time.Duration {
	return durationOr(e.Timeout, ollama.DefaultTimeout)
}

// KeepAliveDuration returns the parsed keep-alive hint.
func (e EndpointConfig) KeepAliveDuration() time.Duration {
	return durationOr(e.KeepAlive, ollama.DefaultKeepAlive)
}

// ModelsCacheDuration returns how long model listings are cached.
// Zero disables the cache.
func (e EndpointConfig) ModelsCacheDuration() time.Duration {
	if e.ModelsCacheTTL == "0" {
		return 0
	}
	return durationOr(e.ModelsCacheTTL, 30*time.Second)
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
