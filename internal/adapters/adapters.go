// Package adapters implements the built-in tools behind `toolcall tool`
// lines. Every filesystem path is confined to the run's artifacts directory.
package adapters

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/ollama"
)

// Error is an adapter or runner failure reported to the user as-is.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Err }

func errorf(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// LLM is the chat transport used by the ollama adapters.
type LLM interface {
	Chat(ctx context.Context, req ollama.ChatRequest) (ollama.ChatResponse, error)
}

// Bridge serves adapters that live behind external tool servers. Binary
// results are written under artifactsDir.
type Bridge interface {
	Has(name string) bool
	Call(ctx context.Context, name string, params map[string]any, artifactsDir string) (string, error)
}

// Options is the per-call invocation record.
type Options struct {
	ArtifactsDir string
	DryRun       bool
	// Step is the 1-based script step, used to name generated files.
	Step      int
	A1111URL  string
	Timeout   time.Duration
	KeepAlive time.Duration
	LLM       LLM
	Bridge    Bridge
	// HTTPClient defaults to a client bounded by Timeout.
	HTTPClient *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: o.Timeout}
}

// Func runs one adapter call.
type Func func(ctx context.Context, params map[string]any, opts Options) (string, error)

var builtins = map[string]Func{
	"a1111_txt2img": a1111Txt2Img,
	"echo":          echo,
	"list_dir":      listDir,
	"mkdir":         mkdir,
	"ollama":        ollamaChat,
	"ollama_chat":   ollamaChat,
	"read_file":     readFile,
	"write_file":    writeFile,
}

// Names returns the built-in adapter names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run dispatches to a built-in adapter or, for "server.tool" names, to the
// bridge. The artifacts directory is created first.
func Run(ctx context.Context, name string, params map[string]any, opts Options) (string, error) {
	fn, ok := builtins[name]
	if !ok && opts.Bridge != nil && opts.Bridge.Has(name) {
		fn = func(ctx context.Context, params map[string]any, opts Options) (string, error) {
			if opts.DryRun {
				return "", nil
			}
			// id names the state slot; external tools never see it.
			args := make(map[string]any, len(params))
			for k, v := range params {
				if k != "id" {
					args[k] = v
				}
			}
			return opts.Bridge.Call(ctx, name, args, opts.ArtifactsDir)
		}
		ok = true
	}
	if !ok {
		return "", errorf("unknown tool adapter '%s'. known adapters: %s", name, strings.Join(Names(), ", "))
	}
	if opts.ArtifactsDir == "" {
		return "", errorf("adapter requires an artifacts directory")
	}
	if err := os.MkdirAll(opts.ArtifactsDir, 0o755); err != nil {
		return "", &Error{Msg: fmt.Sprintf("create artifacts directory: %v", err), Err: err}
	}
	return fn(ctx, params, opts)
}

func echo(_ context.Context, params map[string]any, _ Options) (string, error) {
	data, err := dsl.MarshalSorted(params, "")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// stringParam renders a scalar param the way it would appear on a line.
func stringParam(params map[string]any, key, fallback string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback
	}
	switch x := v.(type) {
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

// intParam reads an integer param given as a number or a digit string.
func intParam(params map[string]any, key string) (int64, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch x := v.(type) {
	case int64:
		return x, true, nil
	case float64:
		if x == float64(int64(x)) {
			return int64(x), true, nil
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n, true, nil
		}
	}
	return 0, true, fmt.Errorf("param '%s' must be an integer", key)
}
