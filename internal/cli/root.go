package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ProhibitedTV/ChoomLang/internal/config"
	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/logging"
	"github.com/ProhibitedTV/ChoomLang/internal/registry"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitToolErr  = 1
	ExitUsageErr = 2
	ExitInternal = 3
)

// exitError carries an exit code. A nil err means the command already
// reported the failure on stderr.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error { return &exitError{code: code, err: err} }

// app is the state shared by every command of one invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	verbose    bool
	markdown   bool

	cfg    *config.Config
	logger zerolog.Logger
}

// Run is the main CLI entry point. Returns an exit code.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return Execute(ctx, args, rootStdin, rootStdout, rootStderr)
}

// Execute runs one command line against the given streams.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr, logger: zerolog.Nop()}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	return a.report(err)
}

func (a *app) report(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			a.printError(ee.err)
		}
		return ee.code
	}
	a.printError(err)
	return ExitUsageErr
}

// printError uses the `error:` prefix for codec and registry diagnostics
// and the program prefix for everything else.
func (a *app) printError(err error) {
	var se *dsl.SyntaxError
	var fe *registry.FieldError
	if errors.As(err, &se) || errors.As(err, &fe) {
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		return
	}
	fmt.Fprintf(a.stderr, "choom: %v\n", err)
}

func (a *app) hint(format string, args ...any) {
	fmt.Fprintf(a.stderr, "hint: "+format+"\n", args...)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "choom",
		Short: "ChoomLang codec, relay and script runner",
		Long: "ChoomLang is a one-line command language: <op> <target>[count] key=value ...\n" +
			"choom translates, validates and formats lines, relays them between local\n" +
			"Ollama models, and runs scripts of toolcall lines.",
		Version:       buildVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetVersionTemplate("choom {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (default $"+config.EnvConfigPath+" or the XDG config path)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Debug logging on stderr")
	pf.BoolVar(&a.markdown, "markdown", false, "Render tables as Markdown")

	root.AddCommand(
		a.translateCommand(),
		a.teachCommand(),
		a.validateCommand(),
		a.fmtCommand(),
		a.lintCommand(),
		a.scriptCommand(),
		a.schemaCommand(),
		a.guardCommand(),
		a.contractCommand(),
		a.profileCommand(),
		a.runCommand(),
		a.relayCommand(),
		a.probeCommand(),
		a.modelsCommand(),
		a.demoCommand(),
		a.transcriptCommand(),
		a.configCommand(),
		a.mcpCommand(),
		a.completionCommand(root),
		a.versionCommand(),
	)
	return root
}

// setup loads the config and logger once per invocation.
func (a *app) setup(cmd *cobra.Command) error {
	profile := logging.ProfileRuntime
	if a.verbose {
		profile = logging.ProfileVerbose
	}
	a.logger = logging.Configure(profile, a.stderr)

	path := a.configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return withCode(ExitInternal, err)
	}
	if verr := config.Validate(cfg); verr != nil {
		return withCode(ExitUsageErr, fmt.Errorf("invalid config: %w", verr))
	}
	a.cfg = cfg
	a.logger.Debug().Str("command", cmd.CommandPath()).Str("config", path).Msg("start")
	return nil
}

// readInput returns the single positional argument, or stdin when it is
// absent or "-".
func (a *app) readInput(args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(a.stdin)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("input required via argument or stdin")
	}
	return text, nil
}
