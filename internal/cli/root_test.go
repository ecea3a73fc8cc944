package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProhibitedTV/ChoomLang/internal/config"
)

type result struct {
	stdout string
	stderr string
	code   int
}

// isolate points every config, cache and profile lookup at a temp tree.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("CHOOM_PROFILES_DIR", filepath.Join(dir, "profiles"))
	t.Setenv(config.EnvConfigPath, filepath.Join(dir, "config.toml"))
	return dir
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	code := Execute(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return result{stdout: out.String(), stderr: errOut.String(), code: code}
}

func TestVersionCommand(t *testing.T) {
	old := buildVersion
	defer func() { buildVersion = old }()
	buildVersion = "1.2.3"

	res := runCLI(t, "", "version")
	if res.code != ExitOK {
		t.Fatalf("code = %d, want %d (stderr %q)", res.code, ExitOK, res.stderr)
	}
	if res.stdout != "choom 1.2.3\n" {
		t.Fatalf("output = %q, want %q", res.stdout, "choom 1.2.3\n")
	}

	res = runCLI(t, "", "--version")
	if res.stdout != "choom 1.2.3\n" {
		t.Fatalf("--version output = %q, want %q", res.stdout, "choom 1.2.3\n")
	}
}

func TestResolveBuildVersionKeepsExplicitVersion(t *testing.T) {
	if got := resolveBuildVersion("v0.9.0"); got != "v0.9.0" {
		t.Fatalf("resolveBuildVersion() = %q, want v0.9.0", got)
	}
}

func TestUnknownCommandIsUsageError(t *testing.T) {
	isolate(t)
	res := runCLI(t, "", "frobnicate")
	if res.code != ExitUsageErr {
		t.Fatalf("code = %d, want %d", res.code, ExitUsageErr)
	}
	if !strings.HasPrefix(res.stderr, "choom: ") {
		t.Fatalf("stderr = %q, want choom: prefix", res.stderr)
	}
}

func TestInvalidConfigIsUsageError(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[relay]\nturns = 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	res := runCLI(t, "", "fmt", "gen txt")
	if res.code != ExitUsageErr {
		t.Fatalf("code = %d, want %d", res.code, ExitUsageErr)
	}
	if !strings.Contains(res.stderr, "invalid config") || !strings.Contains(res.stderr, "relay.turns") {
		t.Fatalf("stderr = %q, want relay.turns config error", res.stderr)
	}
}

func TestBrokenConfigIsInternalError(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[relay\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	res := runCLI(t, "", "fmt", "gen txt")
	if res.code != ExitInternal {
		t.Fatalf("code = %d, want %d (stderr %q)", res.code, ExitInternal, res.stderr)
	}
}

func TestConfigFlagOverridesEnv(t *testing.T) {
	dir := isolate(t)
	other := filepath.Join(dir, "other.toml")

	res := runCLI(t, "", "--config", other, "config", "path")
	if res.code != ExitOK || strings.TrimSpace(res.stdout) != other {
		t.Fatalf("config path = %q (code %d), want %q", res.stdout, res.code, other)
	}
}

func TestConfigInitShowAndExists(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")

	res := runCLI(t, "", "config", "init")
	if res.code != ExitOK || strings.TrimSpace(res.stdout) != path {
		t.Fatalf("config init = %q (code %d, stderr %q)", res.stdout, res.code, res.stderr)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	res = runCLI(t, "", "config", "init")
	if res.code != ExitUsageErr || !strings.Contains(res.stderr, "--force") {
		t.Fatalf("second init = code %d, stderr %q; want exists error", res.code, res.stderr)
	}

	res = runCLI(t, "", "config", "init", "--a-model", "llama3.2:latest")
	if res.code != ExitOK {
		t.Fatalf("init --a-model code = %d, stderr %q", res.code, res.stderr)
	}

	res = runCLI(t, "", "config", "show")
	if res.code != ExitOK {
		t.Fatalf("config show code = %d, stderr %q", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, `a_model = "llama3.2:latest"`) || !strings.Contains(res.stdout, "[endpoint]") {
		t.Fatalf("config show = %q", res.stdout)
	}
}

func TestCompletionScripts(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		res := runCLI(t, "", "completion", shell)
		if res.code != ExitOK {
			t.Fatalf("completion %s code = %d, stderr %q", shell, res.code, res.stderr)
		}
		if !strings.Contains(res.stdout, "choom") {
			t.Fatalf("completion %s output missing program name", shell)
		}
	}

	res := runCLI(t, "", "completion", "tcsh")
	if res.code != ExitUsageErr || !strings.Contains(res.stderr, "unknown shell for completion: tcsh") {
		t.Fatalf("completion tcsh = code %d, stderr %q", res.code, res.stderr)
	}
}

func TestDetectShell(t *testing.T) {
	t.Setenv("SHELL", "/usr/bin/zsh")
	if got := detectShell(); got != "zsh" && got != "powershell" {
		t.Fatalf("detectShell() = %q, want zsh", got)
	}
}

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "180", want: "3m0s"},
		{raw: "2.5", want: "2.5s"},
		{raw: "90s", want: "1m30s"},
		{raw: "0", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseSeconds("--timeout", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseSeconds(%q) error = nil, want error", tt.raw)
			}
			continue
		}
		if err != nil || got.String() != tt.want {
			t.Fatalf("parseSeconds(%q) = %v, %v; want %s", tt.raw, got, err, tt.want)
		}
	}
}
