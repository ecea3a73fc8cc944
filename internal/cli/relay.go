package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ProhibitedTV/ChoomLang/internal/cache"
	"github.com/ProhibitedTV/ChoomLang/internal/contract"
	"github.com/ProhibitedTV/ChoomLang/internal/format"
	"github.com/ProhibitedTV/ChoomLang/internal/httpheaders"
	"github.com/ProhibitedTV/ChoomLang/internal/metrics"
	"github.com/ProhibitedTV/ChoomLang/internal/ollama"
	"github.com/ProhibitedTV/ChoomLang/internal/relay"
	"github.com/ProhibitedTV/ChoomLang/internal/transcript"
)

const relayHint = "relay failed early. Try: choom relay --probe --a-model X --b-model Y"

// relayFlags mirrors the relay command line before config defaults are
// folded in.
type relayFlags struct {
	aModel, bModel     string
	turns              int
	seed               int64
	systemA, systemB   string
	start              string
	strict, noStrict   bool
	structured         bool
	schema, noSchema   bool
	schemaMode         string
	allowUnknownOp     bool
	allowUnknownTarget bool
	rawJSON            bool
	log, sqlite        string
	lenient            bool
	timeout, keepAlive string
	noFallback         bool
	noRepeat           bool
	allowRepeat        bool
	probe, warm        bool
	metricsFile        string
	baseURL            string
	headers            []string
}

// relayRun is a fully resolved relay invocation.
type relayRun struct {
	engine      relay.Config
	log         string
	sqlite      string
	metricsFile string
	probe       bool
	warm        bool
	client      *ollama.Client
}

func (a *app) relayCommand() *cobra.Command {
	var fl relayFlags
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay ChoomLang between two local Ollama models",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			run, err := a.resolveRelay(c, fl)
			if err != nil {
				return err
			}
			return a.runRelay(c.Context(), run)
		},
	}

	f := cmd.Flags()
	f.StringVar(&fl.aModel, "a-model", "", "Model for speaker A (default relay.a_model)")
	f.StringVar(&fl.bModel, "b-model", "", "Model for speaker B (default relay.b_model)")
	f.IntVar(&fl.turns, "turns", 0, "Number of A/B turn pairs (default relay.turns)")
	f.Int64Var(&fl.seed, "seed", 0, "Ollama seed")
	f.StringVar(&fl.systemA, "system-a", "", "System prompt for speaker A")
	f.StringVar(&fl.systemB, "system-b", "", "System prompt for speaker B")
	f.StringVar(&fl.start, "start", "", "Initial ChoomLang line (default "+strconv.Quote(relay.DefaultStart)+")")
	f.BoolVar(&fl.strict, "strict", true, "Require valid ChoomLang from each model with one retry")
	f.BoolVar(&fl.noStrict, "no-strict", false, "Disable --strict")
	f.BoolVar(&fl.structured, "structured", false, "Use Ollama structured output")
	f.BoolVar(&fl.schema, "schema", true, "Send the record JSON Schema with --structured")
	f.BoolVar(&fl.noSchema, "no-schema", false, "Send format=json instead of the schema")
	f.StringVar(&fl.schemaMode, "schema-mode", "", "Schema strictness: strict or permissive")
	f.BoolVar(&fl.allowUnknownOp, "allow-unknown-op", false, "Accept ops outside the registry")
	f.BoolVar(&fl.allowUnknownTarget, "allow-unknown-target", false, "Accept targets outside the registry")
	f.BoolVar(&fl.rawJSON, "raw-json", false, "Print raw model replies")
	f.StringVar(&fl.log, "log", "", "Append transcript records to a JSONL file")
	f.StringVar(&fl.sqlite, "sqlite", "", "Also store transcript records in a SQLite database")
	f.BoolVar(&fl.lenient, "lenient", false, "Allow one trailing punctuation token in DSL replies")
	f.StringVar(&fl.timeout, "timeout", "", "HTTP timeout (seconds or duration)")
	f.StringVar(&fl.keepAlive, "keep-alive", "", "Ollama keep_alive (seconds or duration)")
	f.BoolVar(&fl.noFallback, "no-fallback", false, "Disable structured schema/json fallback")
	f.BoolVar(&fl.noRepeat, "no-repeat", true, "Re-prompt when a reply repeats the previous line")
	f.BoolVar(&fl.allowRepeat, "allow-repeat", false, "Accept repeated replies")
	f.BoolVar(&fl.probe, "probe", false, "Probe the endpoint and both models, then exit")
	f.BoolVar(&fl.warm, "warm", false, "Load both models before the first turn")
	f.StringVar(&fl.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile on exit")
	f.StringVar(&fl.baseURL, "base-url", "", "Ollama base URL (default endpoint.base_url)")
	f.StringArrayVar(&fl.headers, "header", nil, "Extra request header 'Name: value' (repeatable)")
	return cmd
}

// endpointClient applies --base-url and --header on top of the configured
// endpoint.
func (a *app) endpointClient(baseURL string, headers []string) (*ollama.Client, error) {
	client := a.ollamaClient()
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}
	extra, err := httpheaders.Parse(headers)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		client.Headers = httpheaders.Merge(httpheaders.Merge(nil, client.Headers, true), extra, true)
	}
	return client, nil
}

func (a *app) resolveRelay(c *cobra.Command, fl relayFlags) (relayRun, error) {
	rc := a.cfg.Relay
	changed := c.Flags().Changed

	cfg := relay.Config{
		AModel:     firstNonEmpty(fl.aModel, rc.AModel),
		BModel:     firstNonEmpty(fl.bModel, rc.BModel),
		Turns:      rc.Turns,
		Seed:       rc.Seed,
		SystemA:    fl.systemA,
		SystemB:    fl.systemB,
		Start:      fl.start,
		Strict:     rc.Strict,
		Structured: rc.Structured || fl.structured,
		UseSchema:  rc.Schema,
		Fallback:   rc.Fallback && !fl.noFallback,
		NoRepeat:   rc.NoRepeat,
		Lenient:    rc.Lenient || fl.lenient,
		RawJSON:    fl.rawJSON,
	}
	cfg.Registry.AllowUnknownOp = fl.allowUnknownOp
	cfg.Registry.AllowUnknownTarget = fl.allowUnknownTarget

	if cfg.AModel == "" || cfg.BModel == "" {
		return relayRun{}, errors.New("relay requires --a-model and --b-model (or relay.a_model and relay.b_model in the config)")
	}
	if changed("turns") {
		cfg.Turns = fl.turns
	}
	if changed("seed") {
		seed := fl.seed
		cfg.Seed = &seed
	}
	if changed("strict") {
		cfg.Strict = fl.strict
	}
	if fl.noStrict {
		cfg.Strict = false
	}
	if changed("schema") {
		cfg.UseSchema = fl.schema
	}
	if fl.noSchema {
		cfg.UseSchema = false
	}
	if changed("no-repeat") {
		cfg.NoRepeat = fl.noRepeat
	}
	if fl.allowRepeat {
		cfg.NoRepeat = false
	}

	mode, err := contract.ParseMode(firstNonEmpty(fl.schemaMode, rc.SchemaMode))
	if err != nil {
		return relayRun{}, err
	}
	cfg.SchemaMode = mode

	client, err := a.endpointClient(fl.baseURL, fl.headers)
	if err != nil {
		return relayRun{}, err
	}
	if fl.timeout != "" {
		d, err := parseSeconds("--timeout", fl.timeout)
		if err != nil {
			return relayRun{}, err
		}
		client.Timeout = d
	}
	if fl.keepAlive != "" {
		d, err := parseSeconds("--keep-alive", fl.keepAlive)
		if err != nil {
			return relayRun{}, err
		}
		client.KeepAlive = d
	}
	cfg.Timeout, cfg.KeepAlive = client.Timeout, client.KeepAlive

	return relayRun{
		engine:      cfg,
		log:         firstNonEmpty(fl.log, rc.Log),
		sqlite:      firstNonEmpty(fl.sqlite, rc.SQLite),
		metricsFile: firstNonEmpty(fl.metricsFile, rc.MetricsFile),
		probe:       fl.probe,
		warm:        fl.warm,
		client:      client,
	}, nil
}

func (a *app) runRelay(ctx context.Context, run relayRun) error {
	if run.metricsFile != "" {
		defer func() {
			if err := metrics.WriteTextfile(run.metricsFile); err != nil {
				fmt.Fprintf(a.stderr, "warn: writing metrics: %v\n", err)
			}
		}()
	}

	models := []string{run.engine.AModel, run.engine.BModel}
	if run.probe {
		return a.probe(ctx, run.client, models)
	}
	if run.warm {
		results := run.client.Warm(ctx, models)
		fmt.Fprintln(a.stderr, format.ProbeTable(results, a.tableMode()))
	}

	mem := &transcript.Memory{}
	sinks := transcript.Multi{mem}
	if run.log != "" {
		jl, err := transcript.OpenJSONL(run.log)
		if err != nil {
			return err
		}
		sinks = append(sinks, jl)
	}
	if run.sqlite != "" {
		db, err := transcript.OpenSQLite(run.sqlite)
		if err != nil {
			_ = sinks.Close()
			return err
		}
		sinks = append(sinks, db)
	}
	defer sinks.Close()

	eng := &relay.Engine{
		Client: run.client,
		Sink:   sinks,
		Logger: a.logger.With().Str("component", "relay").Logger(),
		OnTurn: func(t relay.Turn) {
			fmt.Fprintf(a.stdout, "%s: %s\n", t.Side, t.Line)
			if data, err := t.Record.JSON(""); err == nil {
				fmt.Fprintln(a.stdout, string(data))
			}
			if run.engine.RawJSON && t.Raw != "" {
				fmt.Fprintf(a.stdout, "raw: %s\n", t.Raw)
			}
		},
	}

	res, err := eng.Run(ctx, run.engine)
	fmt.Fprintf(a.stderr, "repeats_prevented=%d\n", res.RepeatsPrevented)
	if records := mem.Snapshot(); len(records) > 0 {
		fmt.Fprintln(a.stderr, format.SummaryTable(transcript.Summarize(records), a.tableMode()))
	}
	if err != nil {
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		a.hint("%s", relayHint)
		return withCode(ExitUsageErr, nil)
	}
	return nil
}

// probe prints a health table and fails when the endpoint or any model is
// not ready.
func (a *app) probe(ctx context.Context, client *ollama.Client, models []string) error {
	results, err := client.Probe(ctx, models)
	if err != nil {
		fmt.Fprintf(a.stdout, "probe report:\n- %s/api/tags: fail\n  reason: %s\n", client.BaseURL, ollama.Reason(err))
		return withCode(ExitUsageErr, nil)
	}
	fmt.Fprintln(a.stdout, "probe report:")
	fmt.Fprintf(a.stdout, "- %s/api/tags: ok\n", client.BaseURL)
	fmt.Fprintln(a.stdout, format.ProbeTable(results, a.tableMode()))
	for _, r := range results {
		if !r.OK {
			return withCode(ExitUsageErr, nil)
		}
	}
	return nil
}

func (a *app) probeCommand() *cobra.Command {
	var (
		baseURL string
		headers []string
	)
	cmd := &cobra.Command{
		Use:   "probe <model>...",
		Short: "Check endpoint connectivity and model readiness",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			client, err := a.endpointClient(baseURL, headers)
			if err != nil {
				return err
			}
			return a.probe(c.Context(), client, args)
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Ollama base URL (default endpoint.base_url)")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "Extra request header 'Name: value' (repeatable)")
	return cmd
}

func (a *app) modelsCommand() *cobra.Command {
	var (
		baseURL string
		headers []string
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models served by the endpoint",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			client, err := a.endpointClient(baseURL, headers)
			if err != nil {
				return err
			}
			if refresh {
				if err := cache.Invalidate(client.BaseURL); err != nil {
					a.logger.Debug().Err(err).Msg("model cache invalidate failed")
				}
			}
			models, err := client.ListModels(c.Context())
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Fprintln(a.stdout, m)
			}
			if age, ttl, ok := cache.ModelsAge(client.BaseURL); ok && age > time.Second {
				fmt.Fprintf(a.stderr, "(cached %s ago, ttl %s; --refresh to re-list)\n", age.Round(time.Second), ttl)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Ollama base URL (default endpoint.base_url)")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "Extra request header 'Name: value' (repeatable)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore the cached model listing")
	return cmd
}

const (
	demoAModel = "llama3.2:latest"
	demoBModel = "qwen2.5:latest"
	demoLog    = "choom_demo.jsonl"
	demoStart  = `gen txt prompt="ChoomLang in action: describe a client-server protocol in 5 lines"`
)

func (a *app) demoCommand() *cobra.Command {
	var timeout, keepAlive string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a predefined structured relay",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			client := a.ollamaClient()
			for _, opt := range []struct {
				flag, raw string
				dst       *time.Duration
			}{{"--timeout", timeout, &client.Timeout}, {"--keep-alive", keepAlive, &client.KeepAlive}} {
				if opt.raw == "" {
					continue
				}
				d, err := parseSeconds(opt.flag, opt.raw)
				if err != nil {
					return err
				}
				*opt.dst = d
			}

			fmt.Fprintln(a.stdout, "=== ChoomLang Relay Demo ===")
			fmt.Fprintf(a.stdout, "Models: %s <-> %s\n", demoAModel, demoBModel)
			fmt.Fprintf(a.stdout, "Saving transcript to %s\n", demoLog)

			mode, _ := contract.ParseMode(a.cfg.Relay.SchemaMode)
			return a.runRelay(c.Context(), relayRun{
				engine: relay.Config{
					AModel:     demoAModel,
					BModel:     demoBModel,
					Turns:      4,
					Start:      demoStart,
					Strict:     true,
					Structured: true,
					UseSchema:  true,
					SchemaMode: mode,
					Fallback:   true,
					NoRepeat:   true,
					Timeout:    client.Timeout,
					KeepAlive:  client.KeepAlive,
				},
				log:    demoLog,
				client: client,
			})
		},
	}
	cmd.Flags().StringVar(&timeout, "timeout", "", "HTTP timeout (seconds or duration)")
	cmd.Flags().StringVar(&keepAlive, "keep-alive", "", "Ollama keep_alive (seconds or duration)")
	return cmd
}

// parseSeconds accepts a bare number of seconds ("180", "2.5") or a Go
// duration ("3m").
func parseSeconds(flag, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("%s must be positive, got %s", flag, raw)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", flag, raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", flag, raw)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
