package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ProhibitedTV/ChoomLang/internal/paths"
)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "CHOOM_CONFIG"

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Path returns the config file in effect: CHOOM_CONFIG when set, otherwise
// the XDG location.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return paths.ConfigFile()
}

// Load reads the config file and returns the parsed Config.
// If the config file does not exist, it returns the defaults (no error).
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads and parses a config file at the given path. Keys absent
// from the file keep their default values.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]ServerConfig)
	}
	expandConfigEnvVars(cfg)

	if err := mergeSourceServers(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func expandConfigEnvVars(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Endpoint.BaseURL = expandEnvVars(cfg.Endpoint.BaseURL)
	for k, v := range cfg.Endpoint.Headers {
		cfg.Endpoint.Headers[k] = expandEnvVars(v)
	}

	cfg.Relay.AModel = expandEnvVars(cfg.Relay.AModel)
	cfg.Relay.BModel = expandEnvVars(cfg.Relay.BModel)
	cfg.Relay.Log = expandEnvVars(cfg.Relay.Log)
	cfg.Relay.SQLite = expandEnvVars(cfg.Relay.SQLite)
	cfg.Relay.MetricsFile = expandEnvVars(cfg.Relay.MetricsFile)

	cfg.Runner.Workdir = expandEnvVars(cfg.Runner.Workdir)
	cfg.Runner.A1111URL = expandEnvVars(cfg.Runner.A1111URL)
	cfg.Runner.ProfilesDir = expandEnvVars(cfg.Runner.ProfilesDir)

	for i := range cfg.ServerSources {
		cfg.ServerSources[i] = expandEnvVars(cfg.ServerSources[i])
	}
	for name, srv := range cfg.MCPServers {
		cfg.MCPServers[name] = expandServerEnvVars(srv)
	}
}

func expandServerEnvVars(srv ServerConfig) ServerConfig {
	srv.Command = expandEnvVars(srv.Command)
	srv.URL = expandEnvVars(srv.URL)

	for i := range srv.Args {
		srv.Args[i] = expandEnvVars(srv.Args[i])
	}
	for k, v := range srv.Env {
		srv.Env[k] = expandEnvVars(v)
	}
	for k, v := range srv.Headers {
		srv.Headers[k] = expandEnvVars(v)
	}

	return srv
}

// expandEnvVars replaces ${VAR_NAME} with the value of the environment variable.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // leave unresolved vars as-is
	})
}
