package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

// fakeOllama serves /api/tags and a scripted /api/chat keyed by model.
func fakeOllama(t *testing.T, replies map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var chats atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"alpha:latest"},{"name":"beta:latest"}]}`))
		case "/api/chat":
			chats.Add(1)
			var req struct {
				Model  string `json:"model"`
				Format any    `json:"format"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			reply, ok := replies[req.Model]
			if !ok {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			if req.Format != nil {
				reply = `{"op":"healthcheck","target":"tool","count":1,"params":{}}`
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"role": "assistant", "content": reply}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &chats
}

func TestRelayPlainRun(t *testing.T) {
	dir := isolate(t)
	srv, chats := fakeOllama(t, map[string]string{
		"alpha:latest": "plan txt step=1",
		"beta:latest":  "ghost txt",
	})
	logPath := filepath.Join(dir, "relay.jsonl")

	res := runCLI(t, "", "relay",
		"--a-model", "alpha:latest", "--b-model", "beta:latest",
		"--turns", "1", "--base-url", srv.URL, "--log", logPath)
	if res.code != ExitOK {
		t.Fatalf("relay code = %d, stderr %q", res.code, res.stderr)
	}
	for _, want := range []string{
		"A: plan txt step=1\n",
		`{"count":1,"op":"plan","params":{"step":1},"target":"txt"}`,
		"B: summarize txt\n",
	} {
		if !strings.Contains(res.stdout, want) {
			t.Fatalf("stdout = %q, want %q", res.stdout, want)
		}
	}
	if !strings.Contains(res.stderr, "repeats_prevented=0") || !strings.Contains(res.stderr, "total_turns") {
		t.Fatalf("stderr = %q, want summary", res.stderr)
	}
	if got := chats.Load(); got != 2 {
		t.Fatalf("chat calls = %d, want 2", got)
	}

	res = runCLI(t, "", "transcript", "summary", logPath, "--json")
	if res.code != ExitOK {
		t.Fatalf("transcript summary code = %d, stderr %q", res.code, res.stderr)
	}
	var summary struct {
		TotalTurns int `json:"total_turns"`
		Failures   int `json:"failures"`
	}
	if err := json.Unmarshal([]byte(res.stdout), &summary); err != nil {
		t.Fatalf("summary JSON: %v (%q)", err, res.stdout)
	}
	if summary.TotalTurns != 2 || summary.Failures != 0 {
		t.Fatalf("summary = %+v, want 2 turns and no failures", summary)
	}
}

func TestRelayUsesConfigModels(t *testing.T) {
	dir := isolate(t)
	srv, _ := fakeOllama(t, map[string]string{
		"alpha:latest": "plan txt",
		"beta:latest":  "summarize txt",
	})
	cfg := "[endpoint]\nbase_url = \"" + srv.URL + "\"\n\n[relay]\nturns = 1\na_model = \"alpha:latest\"\nb_model = \"beta:latest\"\n"
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	res := runCLI(t, "", "relay")
	if res.code != ExitOK || !strings.Contains(res.stdout, "B: summarize txt") {
		t.Fatalf("relay from config = code %d, stdout %q, stderr %q", res.code, res.stdout, res.stderr)
	}
}

func TestRelayRequiresModels(t *testing.T) {
	isolate(t)
	res := runCLI(t, "", "relay", "--a-model", "alpha:latest")
	if res.code != ExitUsageErr || !strings.Contains(res.stderr, "relay requires --a-model and --b-model") {
		t.Fatalf("relay without b-model = code %d, stderr %q", res.code, res.stderr)
	}
}

func TestRelayFailurePrintsHint(t *testing.T) {
	isolate(t)
	srv, _ := fakeOllama(t, map[string]string{"beta:latest": "summarize txt"})

	res := runCLI(t, "", "relay",
		"--a-model", "alpha:latest", "--b-model", "beta:latest",
		"--turns", "1", "--base-url", srv.URL)
	if res.code != ExitUsageErr {
		t.Fatalf("relay code = %d, want %d (stderr %q)", res.code, ExitUsageErr, res.stderr)
	}
	if !strings.Contains(res.stderr, "error: ") || !strings.Contains(res.stderr, "hint: "+relayHint) {
		t.Fatalf("stderr = %q, want error and hint", res.stderr)
	}
	if strings.Contains(res.stdout, "A: ") {
		t.Fatalf("stdout = %q, want no accepted turns", res.stdout)
	}
}

func TestRelayRejectsBadTimeout(t *testing.T) {
	isolate(t)
	res := runCLI(t, "", "relay", "--a-model", "a", "--b-model", "b", "--timeout", "never")
	if res.code != ExitUsageErr || !strings.Contains(res.stderr, "--timeout") {
		t.Fatalf("relay --timeout never = code %d, stderr %q", res.code, res.stderr)
	}
}

func TestProbe(t *testing.T) {
	isolate(t)
	srv, _ := fakeOllama(t, map[string]string{"alpha:latest": "ping tool"})

	res := runCLI(t, "", "probe", "alpha:latest", "--base-url", srv.URL)
	if res.code != ExitOK {
		t.Fatalf("probe code = %d, stdout %q, stderr %q", res.code, res.stdout, res.stderr)
	}
	if !strings.HasPrefix(res.stdout, "probe report:\n- "+srv.URL+"/api/tags: ok\n") || !strings.Contains(res.stdout, "alpha:latest") {
		t.Fatalf("probe stdout = %q", res.stdout)
	}

	res = runCLI(t, "", "probe", "alpha:latest", "alpha", "--base-url", srv.URL)
	if res.code != ExitUsageErr {
		t.Fatalf("probe with unlisted model code = %d, want %d", res.code, ExitUsageErr)
	}

	res = runCLI(t, "", "relay", "--probe", "--a-model", "alpha:latest", "--b-model", "beta:latest", "--base-url", srv.URL)
	if res.code != ExitUsageErr || !strings.Contains(res.stdout, "beta:latest") {
		t.Fatalf("relay --probe = code %d, stdout %q", res.code, res.stdout)
	}
}

func TestProbeEndpointFailure(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := runCLI(t, "", "probe", "alpha:latest", "--base-url", srv.URL)
	if res.code != ExitUsageErr {
		t.Fatalf("probe code = %d, want %d", res.code, ExitUsageErr)
	}
	if !strings.Contains(res.stdout, "/api/tags: fail") || !strings.Contains(res.stdout, "reason: http-503") {
		t.Fatalf("probe stdout = %q", res.stdout)
	}
}

func TestModels(t *testing.T) {
	isolate(t)
	srv, _ := fakeOllama(t, nil)

	res := runCLI(t, "", "models", "--base-url", srv.URL)
	if res.code != ExitOK || res.stdout != "alpha:latest\nbeta:latest\n" {
		t.Fatalf("models = code %d, stdout %q, stderr %q", res.code, res.stdout, res.stderr)
	}

	res = runCLI(t, "", "models", "--base-url", srv.URL, "--refresh")
	if res.code != ExitOK || res.stdout != "alpha:latest\nbeta:latest\n" {
		t.Fatalf("models --refresh = code %d, stdout %q", res.code, res.stdout)
	}
}

func TestModelsSendsExtraHeaders(t *testing.T) {
	isolate(t)
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("X-Token"))
		_, _ = w.Write([]byte(`{"models":[{"model":"alpha:latest"}]}`))
	}))
	defer srv.Close()

	res := runCLI(t, "", "models", "--base-url", srv.URL, "--header", "X-Token: abc")
	if res.code != ExitOK || res.stdout != "alpha:latest\n" {
		t.Fatalf("models = code %d, stdout %q, stderr %q", res.code, res.stdout, res.stderr)
	}
	if v, _ := got.Load().(string); v != "abc" {
		t.Fatalf("X-Token = %q, want abc", v)
	}

	res = runCLI(t, "", "models", "--base-url", srv.URL, "--header", "broken")
	if res.code != ExitUsageErr || !strings.Contains(res.stderr, "invalid header") {
		t.Fatalf("bad header = code %d, stderr %q", res.code, res.stderr)
	}
}
