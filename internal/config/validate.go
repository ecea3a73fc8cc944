package config

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ProhibitedTV/ChoomLang/internal/contract"
)

// Validate checks configuration invariants and returns actionable errors.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var errs []error
	errs = append(errs, validateURL("endpoint.base_url", cfg.Endpoint.BaseURL, true)...)
	errs = append(errs, validateDuration("endpoint.timeout", cfg.Endpoint.Timeout, false)...)
	errs = append(errs, validateDuration("endpoint.keep_alive", cfg.Endpoint.KeepAlive, false)...)
	errs = append(errs, validateDuration("endpoint.models_cache_ttl", cfg.Endpoint.ModelsCacheTTL, true)...)

	if cfg.Relay.Turns < 1 {
		errs = append(errs, fmt.Errorf("relay.turns: must be >= 1, got %d", cfg.Relay.Turns))
	}
	if _, err := contract.ParseMode(cfg.Relay.SchemaMode); err != nil {
		errs = append(errs, fmt.Errorf("relay.schema_mode: %w", err))
	}

	errs = append(errs, validateURL("runner.a1111_url", cfg.Runner.A1111URL, false)...)

	names := make([]string, 0, len(cfg.MCPServers))
	for name := range cfg.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		errs = append(errs, validateServer(name, cfg.MCPServers[name])...)
	}

	return errors.Join(errs...)
}

func validateURL(field, raw string, required bool) []error {
	if strings.TrimSpace(raw) == "" {
		if required {
			return []error{fmt.Errorf("%s: must not be empty", field)}
		}
		return nil
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, raw, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("%s: unsupported scheme %q (expected http or https)", field, u.Scheme)}
	}
	return nil
}

func validateDuration(field, raw string, allowZero bool) []error {
	if raw == "" {
		return nil
	}
	if allowZero && raw == "0" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)}
	}
	if d <= 0 {
		return []error{fmt.Errorf("%s: must be > 0, got %q", field, raw)}
	}
	return nil
}

func validateServer(name string, srv ServerConfig) []error {
	var errs []error

	if strings.Contains(name, ".") {
		errs = append(errs, fmt.Errorf("mcp_servers.%s: server names must not contain '.'", name))
	}

	hasCommand := strings.TrimSpace(srv.Command) != ""
	hasURL := strings.TrimSpace(srv.URL) != ""

	switch {
	case hasCommand && hasURL:
		errs = append(errs, fmt.Errorf("mcp_servers.%s: configure either command (stdio) or url (http), not both", name))
	case !hasCommand && !hasURL:
		errs = append(errs, fmt.Errorf("mcp_servers.%s: missing transport, set command (stdio) or url (http)", name))
	}

	if hasURL {
		errs = append(errs, validateURL("mcp_servers."+name+".url", srv.URL, true)...)
	}

	for i, pattern := range srv.AllowTools {
		if _, err := path.Match(pattern, "probe"); err != nil {
			errs = append(errs, fmt.Errorf("mcp_servers.%s.allow_tools[%d]: invalid glob %q: %w", name, i, pattern, err))
		}
	}

	return errs
}
