package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
)

// loadState reads state.json. A missing file is an empty state.
func loadState(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading run state: %w", err)
	}
	state := map[string]string{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("run state %s must be a JSON object of strings: %w", path, err)
	}
	return state, nil
}

// saveState replaces state.json atomically.
func saveState(path string, state map[string]string) error {
	data, err := dsl.MarshalSorted(state, "  ")
	if err != nil {
		return fmt.Errorf("encoding run state: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state.json.tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// interpolate replaces "@key" string values with state[key]. Keys absent
// from state are returned sorted; their params are left untouched.
func interpolate(params map[string]any, state map[string]string) (map[string]any, []string) {
	out := make(map[string]any, len(params))
	var missing []string
	for k, v := range params {
		s, ok := v.(string)
		if !ok || len(s) < 2 || s[0] != '@' {
			out[k] = v
			continue
		}
		key := s[1:]
		if val, found := state[key]; found {
			out[k] = val
			continue
		}
		out[k] = v
		missing = append(missing, key)
	}
	sort.Strings(missing)
	return out, missing
}

// scalarText renders a param value the way it reads on a line.
func scalarText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
