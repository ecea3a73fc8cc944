package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	data, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(data, &body); err != nil {
		t.Errorf("request body is not JSON: %v (%s)", err, data)
	}
	return body
}

func TestBuildChatPayloadStructured(t *testing.T) {
	seed := int64(42)
	payload := BuildChatPayload("llama", []Message{{Role: "user", Content: "hello"}}, &seed, "json", 300*time.Second)
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"format":"json","keep_alive":300,"messages":[{"role":"user","content":"hello"}],"model":"llama","options":{"seed":42},"stream":false}`
	if string(data) != want {
		t.Fatalf("payload = %s, want %s", data, want)
	}
}

func TestChatReturnsTrimmedContentAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "secret" {
			t.Errorf("X-Api-Key = %q", got)
		}
		body := decodeBody(t, r)
		if body["stream"] != false || body["model"] != "a" {
			t.Errorf("body = %v", body)
		}
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"  gen txt prompt=hi \n"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.Headers = map[string]string{"x-api-key": "secret"}
	resp, err := c.Chat(context.Background(), ChatRequest{Model: "a", Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "gen txt prompt=hi" || resp.Status != 200 || resp.Path != "/api/chat" {
		t.Fatalf("Chat() = %+v", resp)
	}
}

func TestChatFallsBackToGenerateOn404(t *testing.T) {
	var generateCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			http.NotFound(w, r)
		case "/api/generate":
			generateCalls.Add(1)
			body := decodeBody(t, r)
			if body["prompt"] != "system: be terse\nuser: hi" {
				t.Errorf("prompt = %q", body["prompt"])
			}
			_, _ = io.WriteString(w, `{"response":"ping tool"}`)
		}
	}))
	defer srv.Close()

	resp, err := New(srv.URL).Chat(context.Background(), ChatRequest{
		Model:    "a",
		Messages: []Message{{Role: "system", Content: "be terse"}, {Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "ping tool" || resp.Path != "/api/generate" {
		t.Fatalf("Chat() = %+v", resp)
	}
	if generateCalls.Load() != 1 {
		t.Fatalf("generate calls = %d, want 1", generateCalls.Load())
	}
}

func TestChatStructuredDoesNotFallBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/generate" {
			t.Error("structured request fell back to /api/generate")
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), ChatRequest{Model: "a", Messages: PingMessages(), Format: "json"})
	if !errors.Is(err, ErrStructuredUnsupported) {
		t.Fatalf("Chat() error = %v, want ErrStructuredUnsupported", err)
	}
	if StatusOf(err) != 404 {
		t.Fatalf("StatusOf() = %d, want 404", StatusOf(err))
	}
}

func TestChatModelNotFoundSuggestsNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"model 'llama3.2:lates' not found, try pulling it first"}`)
		case "/api/tags":
			_, _ = io.WriteString(w, `{"models":[{"name":"qwen2.5:latest"},{"name":"llama3.2:latest"},{"name":"mistral:latest"}]}`)
		}
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), ChatRequest{Model: "llama3.2:lates", Messages: PingMessages()})
	var mnf *ModelNotFoundError
	if !errors.As(err, &mnf) {
		t.Fatalf("Chat() error = %v, want *ModelNotFoundError", err)
	}
	if len(mnf.Suggestions) == 0 || mnf.Suggestions[0] != "llama3.2:latest" {
		t.Fatalf("Suggestions = %v", mnf.Suggestions)
	}
	if !strings.Contains(err.Error(), "did you mean: llama3.2:latest") {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestChatErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
	}{
		{
			name: "http error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			check: func(err error) bool {
				var he *HTTPError
				return errors.As(err, &he) && he.Status == 500 && strings.Contains(he.Body, "boom")
			},
		},
		{
			name: "non json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "<html>")
			},
			check: func(err error) bool { return errors.Is(err, ErrBadResponseShape) },
		},
		{
			name: "missing content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"message":{}}`)
			},
			check: func(err error) bool { return errors.Is(err, ErrBadResponseShape) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := New(srv.URL).Chat(context.Background(), ChatRequest{Model: "a", Messages: PingMessages()})
			if !tt.check(err) {
				t.Fatalf("Chat() error = %v (%T)", err, err)
			}
		})
	}
}

func TestChatUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Chat(context.Background(), ChatRequest{Model: "a", Messages: PingMessages()})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Chat() error = %v, want ErrUnreachable", err)
	}
	if Reason(err) != "unreachable" {
		t.Fatalf("Reason() = %q", Reason(err))
	}
}

func TestChatTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL)
	c.Timeout = 50 * time.Millisecond
	_, err := c.Chat(context.Background(), ChatRequest{Model: "a", Messages: PingMessages()})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Chat() error = %v, want ErrTimeout", err)
	}
	if Reason(err) != "timeout" {
		t.Fatalf("Reason() = %q", Reason(err))
	}
}

func TestChatRequiresMessages(t *testing.T) {
	if _, err := New("").Chat(context.Background(), ChatRequest{Model: "a"}); !errors.Is(err, ErrEmptyMessages) {
		t.Fatalf("Chat() error = %v, want ErrEmptyMessages", err)
	}
}

func TestClip(t *testing.T) {
	got, err := Clip("  gen txt \n")
	if err != nil || got != "gen txt" {
		t.Fatalf("Clip() = %q, %v", got, err)
	}
	if _, err := Clip(strings.Repeat("x", MaxMessageChars+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("Clip(oversize) error = %v", err)
	}
	if _, err := Clip(strings.Repeat("é", MaxMessageChars)); err != nil {
		t.Fatalf("Clip(multibyte at limit) error = %v", err)
	}
}

func TestPingMessagesContainsCanonicalPing(t *testing.T) {
	msgs := PingMessages()
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Fatalf("PingMessages() = %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, `"op": "healthcheck"`) {
		t.Fatalf("content = %q", msgs[0].Content)
	}
}

func TestSuggestModels(t *testing.T) {
	got := SuggestModels("llama3.2:lates", []string{"llama3.2:latest", "qwen2.5:latest", "mistral:latest"})
	if len(got) == 0 || got[0] != "llama3.2:latest" {
		t.Fatalf("SuggestModels() = %v", got)
	}
	got = SuggestModels("qwen2.5", []string{"llama3.2:latest", "qwen2.5:7b", "qwen2.5:latest"})
	if diff := cmp.Diff([]string{"qwen2.5:7b", "qwen2.5:latest"}, got); diff != "" {
		t.Fatalf("SuggestModels(base) mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTPErrorTruncatesOnRuneBoundary(t *testing.T) {
	err := &HTTPError{Status: 502, Path: "/api/chat", Body: "x" + strings.Repeat("é", 300)}
	msg := err.Error()
	if !utf8.ValidString(msg) {
		t.Fatalf("Error() = %q, want valid UTF-8", msg)
	}
	want := "x" + strings.Repeat("é", maxErrorBodyRunes-1) + "..."
	if !strings.HasSuffix(msg, want) {
		t.Fatalf("Error() = %q, want suffix %q", msg, want)
	}

	short := &HTTPError{Status: 500, Path: "/api/chat", Body: "  boom \n"}
	if got := short.Error(); got != "ollama request failed (/api/chat): HTTP 500 boom" {
		t.Fatalf("Error() = %q", got)
	}
}
