package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ProhibitedTV/ChoomLang/internal/contract"
	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/lint"
	"github.com/ProhibitedTV/ChoomLang/internal/registry"
)

func (a *app) translateCommand() *cobra.Command {
	var reverse, compact bool
	cmd := &cobra.Command{
		Use:   "translate [input|-]",
		Short: "Translate DSL <-> JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			text, err := a.readInput(args)
			if err != nil {
				return err
			}
			if reverse || strings.HasPrefix(strings.TrimLeft(text, " \t\r\n"), "{") {
				rec, err := dsl.DecodeJSON([]byte(text))
				if err != nil {
					return err
				}
				line, err := dsl.Serialize(rec)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, line)
				return nil
			}

			rec, err := dsl.Parse(text)
			if err != nil {
				return err
			}
			indent := "  "
			if compact {
				indent = ""
			}
			data, err := rec.JSON(indent)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reverse, "reverse", false, "Translate JSON -> DSL")
	cmd.Flags().BoolVar(&compact, "compact", false, "Use compact JSON output for DSL -> JSON")
	return cmd
}

func (a *app) teachCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "teach <input>",
		Short: "Explain DSL token by token",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			out, err := dsl.Explain(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, out)
			return nil
		},
	}
}

func (a *app) validateCommand() *cobra.Command {
	var (
		lenient, strict bool
		opts            registry.Options
	)
	cmd := &cobra.Command{
		Use:   "validate [input|-]",
		Short: "Validate a DSL line",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			text, err := a.readInput(args)
			if err != nil {
				return err
			}
			rec, err := dsl.Parse(text, dsl.WithLenient(lenient))
			if err != nil {
				a.printError(err)
				for _, h := range lint.ParseHints(text, err, lenient) {
					a.hint("%s", h)
				}
				return withCode(ExitUsageErr, nil)
			}

			if strict {
				if err := rec.Validate(opts); err != nil {
					a.printError(err)
					var fe *registry.FieldError
					if errors.As(err, &fe) && fe.Hint != "" {
						a.hint("%s", fe.Hint)
					}
					return withCode(ExitUsageErr, nil)
				}
			} else {
				for _, h := range lint.RegistryHints(rec) {
					a.hint("%s", h)
				}
			}
			fmt.Fprintln(a.stdout, "ok")
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&lenient, "lenient", false, "Allow one trailing punctuation token")
	f.BoolVar(&strict, "strict", false, "Reject ops and targets outside the registry")
	f.BoolVar(&opts.AllowUnknownOp, "allow-unknown-op", false, "With --strict, accept unknown ops")
	f.BoolVar(&opts.AllowUnknownTarget, "allow-unknown-target", false, "With --strict, accept unknown targets")
	return cmd
}

func (a *app) fmtCommand() *cobra.Command {
	var lenient bool
	cmd := &cobra.Command{
		Use:   "fmt [input|-]",
		Short: "Canonicalize one DSL line",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			text, err := a.readInput(args)
			if err != nil {
				return err
			}
			out, err := dsl.Canonicalize(text, lenient)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&lenient, "lenient", false, "Allow one trailing punctuation token")
	return cmd
}

func (a *app) lintCommand() *cobra.Command {
	var opts lint.Options
	cmd := &cobra.Command{
		Use:   "lint [input|-]",
		Short: "Warn on non-canonical or suspicious DSL patterns",
		Long:  "Exit status is 0 when clean, 1 with warnings and 2 when the line does not parse.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			text, err := a.readInput(args)
			if err != nil {
				return err
			}
			res := lint.Line(text, opts)
			for _, w := range res.Warnings {
				fmt.Fprintf(a.stderr, "warn: %s\n", w)
			}
			for _, e := range res.Errors {
				fmt.Fprintf(a.stderr, "error: %s\n", e)
			}
			switch {
			case len(res.Errors) > 0:
				return withCode(ExitUsageErr, nil)
			case len(res.Warnings) > 0:
				return withCode(ExitToolErr, nil)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.Lenient, "lenient", false, "Allow standalone trailing punctuation tokens")
	f.BoolVar(&opts.StrictOps, "strict-ops", false, "Warn for unknown ops")
	f.BoolVar(&opts.StrictTargets, "strict-targets", false, "Warn for unknown targets")
	return cmd
}

func (a *app) scriptCommand() *cobra.Command {
	var (
		to          string
		continueErr bool
	)
	cmd := &cobra.Command{
		Use:   "script <path|->",
		Short: "Convert a multi-line script to JSONL or canonical DSL",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			text, err := a.readScript(args[0])
			if err != nil {
				return err
			}

			var (
				outputs []string
				errs    []error
			)
			switch to {
			case "jsonl":
				outputs, errs = dsl.ScriptToJSONL(text, !continueErr)
			case "dsl":
				outputs, errs = dsl.ScriptToDSL(text, !continueErr)
			default:
				return fmt.Errorf("--to must be jsonl or dsl, got %q", to)
			}

			for _, line := range outputs {
				fmt.Fprintln(a.stdout, line)
			}
			for _, e := range errs {
				fmt.Fprintf(a.stderr, "error: %v\n", e)
			}
			if len(errs) > 0 {
				return withCode(ExitUsageErr, nil)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "jsonl", "Output format: jsonl or dsl")
	cmd.Flags().BoolVar(&continueErr, "continue", false, "Report every bad line instead of stopping at the first")
	return cmd
}

func (a *app) readScript(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(a.stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func (a *app) schemaCommand() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Emit the JSON Schema for canonical records",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m, err := contract.ParseMode(mode)
			if err != nil {
				return err
			}
			data, err := contract.SchemaJSON(m, "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(contract.ModeStrict), "Schema strictness: strict or permissive")
	return cmd
}

func (a *app) guardCommand() *cobra.Command {
	var errText, previous string
	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Print a reusable model repair prompt",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			fmt.Fprintln(a.stdout, contract.GuardPrompt(errText, previous))
			return nil
		},
	}
	cmd.Flags().StringVar(&errText, "error", "", "Parse or validation error text")
	cmd.Flags().StringVar(&previous, "previous", "", "Previous model output")
	return cmd
}

func (a *app) contractCommand() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Print the instruction text given to relay models",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			text, err := contract.Contract(mode)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, text)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", contract.ContractDSL, "Contract mode: dsl or structured")
	return cmd
}
