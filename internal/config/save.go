package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrExists is returned by WriteTemplate when the target already exists.
var ErrExists = errors.New("config file already exists")

const template = `# choom configuration
# Values below are the built-in defaults. Command-line flags override them.
# ${ENV_VAR} placeholders are expanded when the file is loaded.

[endpoint]
base_url = "http://localhost:11434"
timeout = "180s"
keep_alive = "300s"
models_cache_ttl = "30s"
# headers = { Authorization = "Bearer ${OLLAMA_TOKEN}" }

[relay]
turns = 6
strict = true
structured = false
schema = true
schema_mode = "strict"   # or "permissive"
fallback = true
no_repeat = true
lenient = false
# seed = 42
# a_model = "llama3.2"
# b_model = "qwen2.5"
# log = "relay.jsonl"
# sqlite = "relay.db"
# metrics_file = "choom.prom"

[runner]
a1111_url = "http://127.0.0.1:7860"
# workdir = "runs/demo"
# profiles_dir = "profiles"

# External tools reachable as 'toolcall tool name=<server>.<tool>'.
# allow_tools is required; an empty list denies every tool.
#
# [mcp_servers.files]
# command = "npx"
# args = ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
# allow_tools = ["read_*", "list_*"]
#
# [mcp_servers.search]
# url = "https://example.com/mcp"
# headers = { Authorization = "Bearer ${SEARCH_TOKEN}" }
# allow_tools = ["search"]
#
# Transports may instead come from an existing mcpServers JSON file:
# server_sources = ["${HOME}/.cursor/mcp.json"]
`

// Template returns the commented default config file.
func Template() []byte {
	return []byte(template)
}

// Encode renders cfg as TOML.
func Encode(cfg *Config) ([]byte, error) {
	if cfg == nil {
		cfg = Default()
	}
	var payload bytes.Buffer
	if err := toml.NewEncoder(&payload).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return payload.Bytes(), nil
}

// SaveTo writes cfg to path atomically.
func SaveTo(path string, cfg *Config) error {
	payload, err := Encode(cfg)
	if err != nil {
		return err
	}
	return writeAtomic(path, payload)
}

// WriteTemplate writes the commented default file to path. An existing file
// is only replaced when force is set.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	return writeAtomic(path, Template())
}

func writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config.toml.tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(0o600); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("setting temp config permissions: %w", err)
	}
	if _, err := tmpFile.Write(payload); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("writing temp config file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("syncing temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing config file: %w", err)
	}
	cleanup = false
	return nil
}
