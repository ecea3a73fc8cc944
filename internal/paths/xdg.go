package paths

import (
	"os"
	"path/filepath"
)

const appName = "choomlang"

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}

func xdgDir(envVar string, fallbackParts ...string) string {
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, appName)
	}
	parts := append([]string{homeDir()}, fallbackParts...)
	return filepath.Join(append(parts, appName)...)
}

// ConfigDir returns the config directory ($XDG_CONFIG_HOME/choomlang).
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// CacheDir returns the cache directory ($XDG_CACHE_HOME/choomlang).
func CacheDir() string {
	return xdgDir("XDG_CACHE_HOME", ".cache")
}

// StateDir returns the state directory ($XDG_STATE_HOME/choomlang).
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", ".local", "state")
}

// DataDir returns the data directory ($XDG_DATA_HOME/choomlang).
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// ConfigFile returns the path to config.toml.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// ProfilesDir returns the directory searched for user profiles.
// CHOOM_PROFILES_DIR overrides the XDG location.
func ProfilesDir() string {
	if v := os.Getenv("CHOOM_PROFILES_DIR"); v != "" {
		return v
	}
	return filepath.Join(ConfigDir(), "profiles")
}

// TranscriptDir returns the default directory for relay transcripts.
func TranscriptDir() string {
	return filepath.Join(StateDir(), "transcripts")
}

// RunsDir returns the default parent directory for script run workdirs.
func RunsDir() string {
	return filepath.Join(DataDir(), "runs")
}

// EnsureDir creates a directory and parents if needed.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
