package httpheaders

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Parse turns repeated --header values ("Name: value" or "Name=value")
// into a header map. Later entries replace earlier ones regardless of case.
func Parse(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		name, value, ok := cutHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid header %q (expected 'Name: value')", entry)
		}
		out = Merge(out, map[string]string{name: value}, true)
	}
	return out, nil
}

func cutHeader(entry string) (string, string, bool) {
	sep := strings.IndexAny(entry, ":=")
	if sep <= 0 {
		return "", "", false
	}
	name := strings.TrimSpace(entry[:sep])
	if name == "" || strings.ContainsAny(name, " \t") {
		return "", "", false
	}
	return name, strings.TrimSpace(entry[sep+1:]), true
}

// Merge applies src entries into dst using case-insensitive key matching.
// When overwrite is false, existing dst entries win.
// When overwrite is true, src entries replace existing keys even if the casing differs.
func Merge(dst map[string]string, src map[string]string, overwrite bool) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}

	for _, key := range sortedKeys(src) {
		name := strings.TrimSpace(key)
		if name == "" {
			continue
		}

		if existing, ok := lookupKeyFold(dst, name); ok {
			if !overwrite {
				continue
			}
			delete(dst, existing)
		}
		dst[name] = src[key]
	}
	return dst
}

// Apply sets every entry on h in sorted order.
func Apply(h http.Header, headers map[string]string) {
	for _, key := range sortedKeys(headers) {
		name := strings.TrimSpace(key)
		if name == "" {
			continue
		}
		h.Set(name, headers[key])
	}
}

func sortedKeys(src map[string]string) []string {
	keys := make([]string, 0, len(src))
	for key := range src {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		li := strings.ToLower(strings.TrimSpace(keys[i]))
		lj := strings.ToLower(strings.TrimSpace(keys[j]))
		if li == lj {
			return keys[i] < keys[j]
		}
		return li < lj
	})
	return keys
}

func lookupKeyFold(headers map[string]string, name string) (string, bool) {
	for key := range headers {
		if strings.EqualFold(strings.TrimSpace(key), strings.TrimSpace(name)) {
			return key, true
		}
	}
	return "", false
}
