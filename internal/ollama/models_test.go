package ollama

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func tagsServer(t *testing.T, tagsCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			if tagsCalls != nil {
				tagsCalls.Add(1)
			}
			_, _ = io.WriteString(w, `{"models":[{"name":"qwen2.5:latest"},{"name":"llama3.2:latest"},{"model":"phi3:mini"},{"name":"llama3.2:latest"}]}`)
		case "/api/chat":
			body := decodeBody(t, r)
			if body["model"] == "broken:latest" {
				http.Error(w, "gpu on fire", http.StatusInternalServerError)
				return
			}
			_, _ = io.WriteString(w, `{"message":{"content":"{\"op\":\"healthcheck\",\"target\":\"tool\"}"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestListModelsSortsAndDedupes(t *testing.T) {
	srv := tagsServer(t, nil)
	got, err := New(srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	want := []string{"llama3.2:latest", "phi3:mini", "qwen2.5:latest"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ListModels() mismatch (-want +got):\n%s", diff)
	}
}

func TestListModelsUsesCacheWhenEnabled(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	var calls atomic.Int32
	srv := tagsServer(t, &calls)
	c := New(srv.URL)
	c.ModelsTTL = time.Minute

	for range 3 {
		if _, err := c.ListModels(context.Background()); err != nil {
			t.Fatalf("ListModels() error = %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("tags calls = %d, want 1 with cache", calls.Load())
	}
}

func TestProbeReportsPerModel(t *testing.T) {
	srv := tagsServer(t, nil)
	results, err := New(srv.URL).Probe(context.Background(), []string{"llama3.2:latest", "llama3.2", "qwen2.5:latest"})
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if !results[0].OK || results[0].Status != 200 || results[0].Model != "llama3.2:latest" {
		t.Fatalf("results[0] = %+v", results[0])
	}
	var mnf *ModelNotFoundError
	if results[1].Listed || !errors.As(results[1].Err, &mnf) {
		t.Fatalf("results[1] = %+v, want unlisted model", results[1])
	}
	if len(mnf.Suggestions) == 0 || mnf.Suggestions[0] != "llama3.2:latest" {
		t.Fatalf("suggestions = %v", mnf.Suggestions)
	}
	if !results[2].OK {
		t.Fatalf("results[2] = %+v", results[2])
	}
}

func TestProbeFailsWhenEndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := New(url).Probe(context.Background(), []string{"a"}); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Probe() error = %v, want ErrUnreachable", err)
	}
}

func TestWarmKeepsInputOrder(t *testing.T) {
	srv := tagsServer(t, nil)
	results := New(srv.URL).Warm(context.Background(), []string{"broken:latest", "llama3.2:latest"})
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Model != "broken:latest" || results[0].OK || StatusOf(results[0].Err) != 500 {
		t.Fatalf("results[0] = %+v", results[0])
	}
	if results[1].Model != "llama3.2:latest" || !results[1].OK {
		t.Fatalf("results[1] = %+v", results[1])
	}
	if results[0].Describe() == "ok" || results[1].Describe() != "ok" {
		t.Fatalf("Describe() = %q / %q", results[0].Describe(), results[1].Describe())
	}
}
