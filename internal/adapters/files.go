package adapters

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
)

// ResolveArtifactPath confines raw to base. It returns the absolute
// destination and the cleaned slash-separated relative path.
func ResolveArtifactPath(base, raw string) (string, string, error) {
	if raw == "" {
		return "", "", errorf("adapter path must not be empty")
	}
	slashed := strings.ReplaceAll(raw, `\`, "/")
	if path.IsAbs(slashed) || filepath.IsAbs(raw) || filepath.VolumeName(raw) != "" {
		return "", "", errorf("unsafe artifact path (absolute paths are not allowed): %s", raw)
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", "", errorf("unsafe artifact path (path traversal is not allowed): %s", raw)
		}
	}

	rel := path.Clean(slashed)
	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return "", "", err
	}
	dest := filepath.Join(baseAbs, filepath.FromSlash(rel))
	if !within(baseAbs, dest) {
		return "", "", errorf("unsafe artifact path (must stay within artifacts): %s", raw)
	}
	// symlinks inside the artifacts dir must not lead outside it
	if realBase, err := filepath.EvalSymlinks(baseAbs); err == nil {
		if realDest, err := filepath.EvalSymlinks(dest); err == nil && !within(realBase, realDest) {
			return "", "", errorf("unsafe artifact path (must stay within artifacts): %s", raw)
		}
	}
	return dest, rel, nil
}

func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func writeFile(_ context.Context, params map[string]any, opts Options) (string, error) {
	raw := stringParam(params, "path", "")
	if raw == "" {
		return "", errorf("write_file requires param 'path'")
	}
	dest, rel, err := ResolveArtifactPath(opts.ArtifactsDir, raw)
	if err != nil {
		return "", err
	}
	if opts.DryRun {
		return rel, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dest, []byte(stringParam(params, "text", "")), 0o644); err != nil {
		return "", err
	}
	return rel, nil
}

func readFile(_ context.Context, params map[string]any, opts Options) (string, error) {
	raw := stringParam(params, "path", "")
	if raw == "" {
		return "", errorf("read_file requires param 'path'")
	}
	dest, _, err := ResolveArtifactPath(opts.ArtifactsDir, raw)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dest)
	if err != nil || !info.Mode().IsRegular() {
		return "", errorf("read_file path does not exist or is not a file: %s", raw)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func mkdir(_ context.Context, params map[string]any, opts Options) (string, error) {
	raw := stringParam(params, "path", "")
	if raw == "" {
		return "", errorf("mkdir requires param 'path'")
	}
	dest, rel, err := ResolveArtifactPath(opts.ArtifactsDir, raw)
	if err != nil {
		return "", err
	}
	if !opts.DryRun {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return "", err
		}
	}
	return rel, nil
}

func listDir(_ context.Context, params map[string]any, opts Options) (string, error) {
	raw := stringParam(params, "path", ".")
	dest, _, err := ResolveArtifactPath(opts.ArtifactsDir, raw)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(dest); err != nil || !info.IsDir() {
		return "", errorf("list_dir path does not exist or is not a directory: %s", raw)
	}
	entries, err := os.ReadDir(dest)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	data, err := dsl.MarshalSorted(names, "")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
