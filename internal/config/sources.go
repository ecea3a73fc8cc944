package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

type mcpServersDocument struct {
	MCPServers map[string]mcpServerEntry `json:"mcpServers"`
}

type mcpServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// mergeSourceServers fills the transport of mcp_servers entries that declare
// only allow_tools, reading server_sources in order. The first source that
// knows a server wins. Servers absent from mcp_servers are never imported:
// without allow_tools they could not be called anyway.
func mergeSourceServers(cfg *Config) error {
	if cfg == nil || len(cfg.ServerSources) == 0 {
		return nil
	}

	pending := make(map[string]bool)
	for name, srv := range cfg.MCPServers {
		if !srv.IsStdio() && !srv.IsHTTP() {
			pending[name] = true
		}
	}
	if len(pending) == 0 {
		return nil
	}

	var errs []error
	for _, path := range compactPaths(cfg.ServerSources) {
		found, err := loadMCPServersFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}

		for name := range pending {
			entry, ok := found[name]
			if !ok {
				continue
			}
			srv := cfg.MCPServers[name]
			srv.Command = entry.Command
			srv.Args = entry.Args
			srv.Env = entry.Env
			srv.URL = entry.URL
			srv.Headers = entry.Headers
			cfg.MCPServers[name] = expandServerEnvVars(srv)
			delete(pending, name)
		}
	}

	return errors.Join(errs...)
}

func loadMCPServersFile(path string) (map[string]mcpServerEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc mcpServersDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing mcpServers JSON: %w", err)
	}
	return doc.MCPServers, nil
}

func compactPaths(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	return out
}
