package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const endpoint = "http://localhost:11434"

func TestPutGetRoundTrip(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	models := []string{"llama3.2:latest", "qwen2.5:latest"}
	if err := PutModels(endpoint, models, 30*time.Second); err != nil {
		t.Fatalf("PutModels() error = %v", err)
	}

	got, ok := GetModels(endpoint + "/")
	if !ok {
		t.Fatal("GetModels() cache miss, want hit")
	}
	if diff := cmp.Diff(models, got); diff != "" {
		t.Fatalf("GetModels() mismatch (-want +got):\n%s", diff)
	}

	info, err := os.Stat(entryPath(endpoint))
	if err != nil {
		t.Fatalf("stat cache file: %v", err)
	}
	if got := info.Mode().Perm(); got != 0600 {
		t.Fatalf("cache file mode = %o, want 600", got)
	}
}

func TestGetExpiredEntryRemovesFile(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	if err := PutModels(endpoint, []string{"stale"}, -1*time.Second); err != nil {
		t.Fatalf("PutModels() error = %v", err)
	}

	path := entryPath(endpoint)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected cache file before read, stat error: %v", err)
	}

	if _, ok := GetModels(endpoint); ok {
		t.Fatal("GetModels() hit = true, want false for expired entry")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected expired cache file to be removed, stat error = %v", err)
	}
}

func TestGetCorruptEntryRemovesFile(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	path := entryPath(endpoint)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatalf("mkdir cache dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not-json"), 0600); err != nil {
		t.Fatalf("write corrupt cache file: %v", err)
	}

	if _, ok := GetModels(endpoint); ok {
		t.Fatal("GetModels() hit = true, want false for corrupt entry")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected corrupt cache file to be removed, stat error = %v", err)
	}
}

func TestEntryPathStableAndScoped(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	a := entryPath(endpoint)
	b := entryPath(" " + endpoint + "/")
	c := entryPath("http://gpu-box:11434")

	if a != b {
		t.Fatalf("entryPath() not stable: %q != %q", a, b)
	}
	if a == c {
		t.Fatalf("entryPath() should differ per endpoint, got %q", a)
	}
}

func TestModelsAgeReturnsAgeAndTTLForHit(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	if err := PutModels(endpoint, []string{"m"}, 2*time.Second); err != nil {
		t.Fatalf("PutModels() error = %v", err)
	}

	age, ttl, ok := ModelsAge(endpoint)
	if !ok {
		t.Fatal("ModelsAge() cache miss, want hit")
	}
	if age < 0 {
		t.Fatalf("ModelsAge() age = %s, want >= 0", age)
	}
	if ttl <= 0 || ttl > 2*time.Second {
		t.Fatalf("ModelsAge() ttl = %s, want (0, 2s]", ttl)
	}
}

func TestInvalidate(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	if err := Invalidate(endpoint); err != nil {
		t.Fatalf("Invalidate() on miss error = %v", err)
	}
	if err := PutModels(endpoint, []string{"m"}, time.Minute); err != nil {
		t.Fatalf("PutModels() error = %v", err)
	}
	if err := Invalidate(endpoint); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, ok := GetModels(endpoint); ok {
		t.Fatal("GetModels() hit after Invalidate")
	}
}
