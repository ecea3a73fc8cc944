package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ProhibitedTV/ChoomLang/internal/cache"
	"github.com/ProhibitedTV/ChoomLang/internal/suggest"
)

// probeConcurrency bounds parallel probe and warm calls.
const probeConcurrency = 4

const pingPrompt = "Reply with exactly one canonical ChoomLang JSON object and no extra text.\n" +
	`Incoming JSON: {"count": 1, "op": "healthcheck", "params": {}, "target": "tool"}`

// PingMessages is the single-turn history used by probes.
func PingMessages() []Message {
	return []Message{{Role: "user", Content: pingPrompt}}
}

// ListModels returns the sorted model names served by the endpoint.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if c.ModelsTTL > 0 {
		if models, ok := cache.GetModels(c.BaseURL); ok {
			return models, nil
		}
	}

	var out struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if _, _, err := c.do(ctx, http.MethodGet, tagsPath, 0, nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	names = slices.Compact(names)

	if c.ModelsTTL > 0 {
		if err := cache.PutModels(c.BaseURL, names, c.ModelsTTL); err != nil {
			c.Logger.Debug().Err(err).Msg("model cache write failed")
		}
	}
	return names, nil
}

// SuggestModels ranks registered names close to want. A name whose base
// (before ':') equals want comes first, so "llama3.2" suggests
// "llama3.2:latest".
func SuggestModels(want string, available []string) []string {
	var out []string
	base := strings.ToLower(want)
	if !strings.Contains(base, ":") {
		for _, name := range available {
			if b, _, ok := strings.Cut(strings.ToLower(name), ":"); ok && b == base {
				out = append(out, name)
			}
		}
	}
	for _, name := range suggest.Closest(want, available, 3, suggest.DefaultCutoff) {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

// ProbeResult is the health check outcome for one model.
type ProbeResult struct {
	Model   string
	Listed  bool
	OK      bool
	Status  int
	Elapsed time.Duration
	Reply   string
	Err     error
}

// Probe lists the endpoint's models, then pings each requested model in
// parallel. The error is non-nil only when the endpoint cannot be listed.
func (c *Client) Probe(ctx context.Context, models []string) ([]ProbeResult, error) {
	available, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	return c.fanOut(ctx, models, func(ctx context.Context, model string) ProbeResult {
		res := ProbeResult{Model: model, Listed: slices.Contains(available, model)}
		if !res.Listed {
			res.Err = &ModelNotFoundError{Model: model, Suggestions: SuggestModels(model, available)}
			return res
		}
		resp, err := c.Chat(ctx, ChatRequest{Model: model, Messages: PingMessages(), Format: "json"})
		res.Status, res.Elapsed, res.Reply, res.Err = resp.Status, resp.Elapsed, resp.Content, err
		res.OK = err == nil
		return res
	}), nil
}

// Warm loads each model into memory with a minimal request so the first
// relay turn does not pay the load latency.
func (c *Client) Warm(ctx context.Context, models []string) []ProbeResult {
	return c.fanOut(ctx, models, func(ctx context.Context, model string) ProbeResult {
		resp, err := c.Chat(ctx, ChatRequest{
			Model:    model,
			Messages: []Message{{Role: "user", Content: "ping tool"}},
		})
		return ProbeResult{
			Model:   model,
			Listed:  err == nil || !isNotFound(err),
			OK:      err == nil,
			Status:  resp.Status,
			Elapsed: resp.Elapsed,
			Reply:   resp.Content,
			Err:     err,
		}
	})
}

func (c *Client) fanOut(ctx context.Context, models []string, fn func(context.Context, string) ProbeResult) []ProbeResult {
	results := make([]ProbeResult, len(models))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i, model := range models {
		g.Go(func() error {
			results[i] = fn(gctx, model)
			c.Logger.Debug().Str("model", model).Bool("ok", results[i].OK).Dur("elapsed", results[i].Elapsed).Msg("probe")
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func isNotFound(err error) bool {
	var mnf *ModelNotFoundError
	return errors.As(err, &mnf)
}

// Describe renders a probe result error for tables.
func (r ProbeResult) Describe() string {
	if r.Err == nil {
		return "ok"
	}
	return fmt.Sprint(r.Err)
}
