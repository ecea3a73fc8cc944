package httpheaders

import (
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseAcceptsColonAndEquals(t *testing.T) {
	got, err := Parse([]string{"Authorization: Bearer abc", "X-Trace=1", "authorization: Bearer new"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := map[string]string{"authorization": "Bearer new", "X-Trace": "1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsMissingName(t *testing.T) {
	for _, entry := range []string{"novalue", ": x", "Bad Name: x"} {
		if _, err := Parse([]string{entry}); err == nil {
			t.Fatalf("Parse(%q) error = nil, want error", entry)
		}
	}
}

func TestMergeSkipsEquivalentKeyWhenOverwriteDisabled(t *testing.T) {
	dst := map[string]string{
		"authorization": "Bearer explicit",
	}
	src := map[string]string{
		"Authorization": "Bearer fallback",
	}

	got := Merge(dst, src, false)
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1 (got=%#v)", len(got), got)
	}
	if got["authorization"] != "Bearer explicit" {
		t.Fatalf(`got["authorization"] = %q, want %q`, got["authorization"], "Bearer explicit")
	}
}

func TestMergeOverwritesEquivalentKeyWhenEnabled(t *testing.T) {
	dst := map[string]string{
		"authorization": "Bearer old",
	}
	src := map[string]string{
		"Authorization": "Bearer new",
	}

	got := Merge(dst, src, true)
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1 (got=%#v)", len(got), got)
	}
	if got["Authorization"] != "Bearer new" {
		t.Fatalf(`got["Authorization"] = %q, want %q`, got["Authorization"], "Bearer new")
	}
}

func TestApplySetsCanonicalHeaders(t *testing.T) {
	h := http.Header{}
	Apply(h, map[string]string{"x-api-key": "k", " ": "skip"})
	if got := h.Get("X-Api-Key"); got != "k" {
		t.Fatalf("X-Api-Key = %q, want k", got)
	}
	if len(h) != 1 {
		t.Fatalf("headers = %#v, want one entry", h)
	}
}
