package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunLine(t *testing.T) {
	dir := isolate(t)
	workdir := filepath.Join(dir, "work")

	res := runCLI(t, "", "run", "toolcall tool name=echo trace=test", "--workdir", workdir)
	if res.code != ExitOK || res.stdout != "{\"trace\":\"test\"}\n" {
		t.Fatalf("run = code %d, stdout %q, stderr %q", res.code, res.stdout, res.stderr)
	}
	if _, err := os.Stat(filepath.Join(workdir, "artifacts")); err != nil {
		t.Fatalf("artifacts dir: %v", err)
	}
}

func TestRunLineFailures(t *testing.T) {
	dir := isolate(t)
	workdir := filepath.Join(dir, "work")
	tests := []struct {
		line string
		code int
	}{
		{line: "toolcall", code: ExitUsageErr},
		{line: "toolcall tool name=nope", code: ExitToolErr},
		{line: "gen txt prompt=hi", code: ExitToolErr},
	}
	for _, tt := range tests {
		res := runCLI(t, "", "run", tt.line, "--workdir", workdir)
		if res.code != tt.code {
			t.Fatalf("run %q code = %d, want %d (stderr %q)", tt.line, res.code, tt.code, res.stderr)
		}
		if res.stderr == "" {
			t.Fatalf("run %q printed no error", tt.line)
		}
	}
}

func TestRunScript(t *testing.T) {
	dir := isolate(t)
	workdir := filepath.Join(dir, "work")
	script := filepath.Join(dir, "steps.choom")
	text := "# two steps\ntoolcall tool name=echo id=first v=1\ntoolcall tool name=echo v=@first\n"
	if err := os.WriteFile(script, []byte(text), 0o600); err != nil {
		t.Fatal(err)
	}

	res := runCLI(t, "", "run", script, "--workdir", workdir)
	if res.code != ExitOK {
		t.Fatalf("run script code = %d, stderr %q", res.code, res.stderr)
	}
	want := "line 2: {\"id\":\"first\",\"v\":1}\nline 3: {\"v\":\"{\\\"id\\\":\\\"first\\\",\\\"v\\\":1}\"}\n"
	if res.stdout != want {
		t.Fatalf("stdout = %q, want %q", res.stdout, want)
	}
	for _, name := range []string{"state.json", "transcript.jsonl"} {
		if _, err := os.Stat(filepath.Join(workdir, name)); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

func TestRunScriptDryRunAndMaxSteps(t *testing.T) {
	dir := isolate(t)
	workdir := filepath.Join(dir, "work")
	script := filepath.Join(dir, "steps.choom")
	text := "toolcall tool name=echo a=1\ntoolcall tool name=echo b=2\n"
	if err := os.WriteFile(script, []byte(text), 0o600); err != nil {
		t.Fatal(err)
	}

	res := runCLI(t, "", "run", script, "--workdir", workdir, "--dry-run", "--max-steps", "1")
	if res.code != ExitOK || res.stdout != "line 1: {\"a\":1}\n" {
		t.Fatalf("dry run = code %d, stdout %q, stderr %q", res.code, res.stdout, res.stderr)
	}

	res = runCLI(t, "", "run", script, "--workdir", workdir, "--dry-run", "--resume-last")
	if res.code != ExitOK || res.stdout != "line 2: {\"b\":2}\n" {
		t.Fatalf("resume-last = code %d, stdout %q, stderr %q", res.code, res.stdout, res.stderr)
	}
}

func TestRunScriptParseErrorIsUsageError(t *testing.T) {
	dir := isolate(t)
	script := filepath.Join(dir, "bad.choom")
	if err := os.WriteFile(script, []byte("toolcall tool name=echo\ngen\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	res := runCLI(t, "", "run", script, "--workdir", filepath.Join(dir, "work"))
	if res.code != ExitUsageErr {
		t.Fatalf("code = %d, want %d (stderr %q)", res.code, ExitUsageErr, res.stderr)
	}
	if !strings.Contains(res.stderr, "line 2: parse error") {
		t.Fatalf("stderr = %q, want line 2 parse error", res.stderr)
	}
	if !strings.HasPrefix(res.stdout, "line 1: ") {
		t.Fatalf("stdout = %q, want the first step output", res.stdout)
	}
}

func TestRunMissingScript(t *testing.T) {
	dir := isolate(t)
	res := runCLI(t, "", "run", filepath.Join(dir, "missing.choom"), "--workdir", dir)
	if res.code != ExitUsageErr {
		t.Fatalf("code = %d, want %d (stderr %q)", res.code, ExitUsageErr, res.stderr)
	}
}
