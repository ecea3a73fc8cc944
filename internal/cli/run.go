package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/ollama"
	"github.com/ProhibitedTV/ChoomLang/internal/runner"
	"github.com/ProhibitedTV/ChoomLang/internal/toolbridge"
)

func (a *app) ollamaClient() *ollama.Client {
	c := ollama.New(a.cfg.Endpoint.BaseURL)
	c.Timeout = a.cfg.Endpoint.TimeoutDuration()
	c.KeepAlive = a.cfg.Endpoint.KeepAliveDuration()
	c.Headers = a.cfg.Endpoint.Headers
	c.ModelsTTL = a.cfg.Endpoint.ModelsCacheDuration()
	c.Logger = a.logger.With().Str("component", "ollama").Logger()
	return c
}

func (a *app) runCommand() *cobra.Command {
	var (
		cfg      runner.Config
		a1111URL string
	)
	cmd := &cobra.Command{
		Use:   "run <line|script.choom>",
		Short: "Execute a toolcall line or a .choom script",
		Long: "Only canonical `toolcall tool` lines run; params.name selects the adapter.\n" +
			"Scripts keep artifacts/, state.json and transcript.jsonl in the workdir.",
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if cfg.Workdir == "" {
				cfg.Workdir = a.cfg.Runner.Workdir
			}
			if cfg.Workdir == "" {
				cfg.Workdir = "."
			}
			cfg.A1111URL = a.cfg.Runner.A1111URL
			if c.Flags().Changed("a1111-url") {
				cfg.A1111URL = a1111URL
			}
			cfg.Timeout = a.cfg.Endpoint.TimeoutDuration()
			cfg.KeepAlive = a.cfg.Endpoint.KeepAliveDuration()
			cfg.LLM = a.ollamaClient()

			if len(a.cfg.MCPServers) > 0 {
				toolbridge.ClientVersion = buildVersion
				bridge := toolbridge.New(a.cfg.MCPServers)
				bridge.Logger = a.logger.With().Str("component", "toolbridge").Logger()
				defer bridge.Close()
				cfg.Bridge = bridge
			}

			r, err := runner.New(cfg)
			if err != nil {
				return err
			}
			r.Logger = a.logger.With().Str("component", "runner").Str("run_id", r.RunID).Logger()

			input := args[0]
			if isScriptPath(input) {
				outputs, err := r.RunFile(c.Context(), input)
				for _, line := range outputs {
					fmt.Fprintln(a.stdout, line)
				}
				return runFailure(err)
			}

			out, err := r.RunLine(c.Context(), input)
			if err != nil {
				return lineFailure(err)
			}
			fmt.Fprintln(a.stdout, out)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&cfg.DryRun, "dry-run", false, "Resolve every step without side effects")
	f.StringVar(&cfg.Workdir, "workdir", "", "Directory holding artifacts/, state.json and transcript.jsonl")
	f.IntVar(&cfg.Resume, "resume", 0, "Start at the N-th executable line (1-based)")
	f.BoolVar(&cfg.ResumeLast, "resume-last", false, "Continue after the last completed step in the workdir transcript")
	f.IntVar(&cfg.MaxSteps, "max-steps", 0, "Execute at most N steps")
	f.StringVar(&a1111URL, "a1111-url", "", "Automatic1111 base URL for a1111_txt2img")
	return cmd
}

func isScriptPath(input string) bool {
	if strings.HasSuffix(input, runner.ScriptExt) {
		return true
	}
	info, err := os.Stat(input)
	return err == nil && info.Mode().IsRegular()
}

// runFailure maps parse failures to usage errors and step failures to tool
// errors. Anything else (a missing script, bad flags) is a usage error.
func runFailure(err error) error {
	if err == nil {
		return nil
	}
	var re *runner.Error
	if errors.As(err, &re) {
		if re.Parse {
			return withCode(ExitUsageErr, err)
		}
		return withCode(ExitToolErr, err)
	}
	return withCode(ExitUsageErr, err)
}

func lineFailure(err error) error {
	var se *dsl.SyntaxError
	if errors.As(err, &se) {
		return withCode(ExitUsageErr, err)
	}
	return withCode(ExitToolErr, err)
}
