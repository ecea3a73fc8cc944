// Package runner executes ChoomLang scripts against the tool adapters.
//
// A run owns a workdir holding artifacts/, state.json and transcript.jsonl.
// Each executable line is one step; outputs of lines with an id param are
// stored in state and can be referenced later as @id.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ProhibitedTV/ChoomLang/internal/adapters"
	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/metrics"
	"github.com/ProhibitedTV/ChoomLang/internal/transcript"
)

// ScriptExt is the required extension for script files.
const ScriptExt = ".choom"

// Step statuses written to the run transcript.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Error is a step failure: a parse error or a runtime error on one line.
type Error struct {
	Line  int
	Parse bool
	Err   error
}

func (e *Error) Error() string {
	kind := "runtime"
	if e.Parse {
		kind = "parse"
	}
	return fmt.Sprintf("line %d: %s error: %v", e.Line, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config controls one run.
type Config struct {
	Workdir string
	DryRun  bool
	// Resume starts at the N-th executable line (1-based). Zero starts at
	// the first line.
	Resume int
	// ResumeLast continues after the last completed step recorded in the
	// workdir transcript. Resume wins when both are set.
	ResumeLast bool
	// MaxSteps bounds the number of steps executed. Zero is unlimited.
	MaxSteps int

	A1111URL  string
	Timeout   time.Duration
	KeepAlive time.Duration
	LLM       adapters.LLM
	Bridge    adapters.Bridge
}

// Runner executes scripts. The zero value is not usable; call New.
type Runner struct {
	cfg    Config
	Logger zerolog.Logger
	// Adapter dispatches one toolcall. Defaults to adapters.Run.
	Adapter func(ctx context.Context, name string, params map[string]any, opts adapters.Options) (string, error)
	RunID   string
}

// New validates cfg and returns a runner.
func New(cfg Config) (*Runner, error) {
	if strings.TrimSpace(cfg.Workdir) == "" {
		return nil, errors.New("runner requires a workdir")
	}
	if cfg.Resume < 0 {
		return nil, errors.New("--resume must be >= 1")
	}
	if cfg.MaxSteps < 0 {
		return nil, errors.New("--max-steps must be >= 1")
	}
	return &Runner{
		cfg:     cfg,
		Logger:  zerolog.Nop(),
		Adapter: adapters.Run,
		RunID:   uuid.NewString(),
	}, nil
}

func (r *Runner) artifactsDir() string { return filepath.Join(r.cfg.Workdir, "artifacts") }
func (r *Runner) statePath() string    { return filepath.Join(r.cfg.Workdir, "state.json") }

// TranscriptPath is the run transcript inside the workdir.
func (r *Runner) TranscriptPath() string { return filepath.Join(r.cfg.Workdir, "transcript.jsonl") }

// RunFile executes a .choom script file and returns one "line N: output"
// entry per executed step.
func (r *Runner) RunFile(ctx context.Context, path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("script file not found: %s", path)
	}
	if filepath.Ext(path) != ScriptExt {
		return nil, fmt.Errorf("script path must end with %s: %s", ScriptExt, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return r.RunScript(ctx, string(data))
}

// RunScript executes script text. Execution stops at the first failing step;
// the outputs gathered so far are returned with the error.
func (r *Runner) RunScript(ctx context.Context, text string) ([]string, error) {
	lines := dsl.ScriptLines(text)

	if err := os.MkdirAll(r.artifactsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts directory: %w", err)
	}
	state, err := loadState(r.statePath())
	if err != nil {
		return nil, err
	}

	start, err := r.startIndex()
	if err != nil {
		return nil, err
	}
	if start > len(lines) {
		start = len(lines)
	}
	selected := lines[start:]
	if r.cfg.MaxSteps > 0 && len(selected) > r.cfg.MaxSteps {
		selected = selected[:r.cfg.MaxSteps]
	}

	log, err := transcript.OpenJSONL(r.TranscriptPath())
	if err != nil {
		return nil, err
	}
	defer log.Close()

	r.Logger.Debug().
		Str("run_id", r.RunID).
		Str("workdir", r.cfg.Workdir).
		Int("start_step", start+1).
		Int("steps", len(selected)).
		Bool("dry_run", r.cfg.DryRun).
		Msg("run start")

	outputs := make([]string, 0, len(selected))
	for i, line := range selected {
		if err := ctx.Err(); err != nil {
			return outputs, err
		}
		res := r.execute(ctx, start+i+1, line.Text, state)

		if res.status == StatusSuccess && res.storedID != "" {
			state[res.storedID] = res.output
			if err := saveState(r.statePath(), state); err != nil {
				return outputs, err
			}
		}
		if err := log.WriteValue(res.record(r.RunID)); err != nil {
			return outputs, err
		}
		if res.err != nil {
			return outputs, &Error{Line: line.Number, Parse: res.parseErr, Err: res.err}
		}
		outputs = append(outputs, fmt.Sprintf("line %d: %s", line.Number, res.display()))
	}
	return outputs, nil
}

// RunLine executes a single line in the workdir without touching state or
// the transcript.
func (r *Runner) RunLine(ctx context.Context, line string) (string, error) {
	if err := os.MkdirAll(r.artifactsDir(), 0o755); err != nil {
		return "", fmt.Errorf("create artifacts directory: %w", err)
	}
	res := r.execute(ctx, 1, strings.TrimSpace(line), map[string]string{})
	if res.err != nil {
		return "", res.err
	}
	return res.display(), nil
}

func (r *Runner) startIndex() (int, error) {
	if r.cfg.Resume > 0 {
		return r.cfg.Resume - 1, nil
	}
	if r.cfg.ResumeLast {
		return lastCompletedStep(r.TranscriptPath())
	}
	return 0, nil
}

// stepResult is the outcome of one line.
type stepResult struct {
	step     int
	line     string
	payload  map[string]any
	adapter  string
	status   string
	output   string
	storedID string
	elapsed  time.Duration
	err      error
	parseErr bool
	skipNote string
}

func (s stepResult) display() string {
	if s.status == StatusSkipped {
		return "skipped (" + s.skipNote + ")"
	}
	return s.output
}

func (r *Runner) execute(ctx context.Context, step int, line string, state map[string]string) stepResult {
	started := time.Now()
	res := stepResult{step: step, line: line}

	finish := func(res stepResult) stepResult {
		res.elapsed = time.Since(started)
		metrics.RecordRunnerStep(res.adapter, res.status)
		ev := r.Logger.Debug()
		if res.err != nil {
			ev = r.Logger.Warn().Err(res.err)
		}
		ev.Int("step", step).Str("adapter", res.adapter).Str("status", res.status).
			Dur("elapsed", res.elapsed).Msg("run step")
		return res
	}

	cmd, err := dsl.Parse(line)
	if err != nil {
		res.status, res.err, res.parseErr = StatusError, err, true
		return finish(res)
	}

	params, missing := interpolate(cmd.Params, state)
	cmd.Params = params
	res.payload = cmd.Map()
	if id, ok := cmd.Params["id"]; ok && id != nil {
		res.storedID = scalarText(id)
	}
	if len(missing) > 0 {
		note := "missing interpolation key(s): " + strings.Join(missing, ", ")
		if r.cfg.DryRun {
			res.status, res.skipNote = StatusSkipped, note
			return finish(res)
		}
		res.status, res.err = StatusError, errors.New(note)
		return finish(res)
	}

	switch {
	case cmd.Op == "gen" && cmd.Target == "script":
		res.adapter = "gen_script"
		res.output, res.err = r.genScript(cmd)
	case cmd.Op == "toolcall" && cmd.Target == "tool":
		name := scalarText(cmd.Params["name"])
		if name == "" {
			res.status, res.err = StatusError, errors.New("toolcall requires param 'name' (params.name selects the adapter)")
			return finish(res)
		}
		res.adapter = name
		args := make(map[string]any, len(cmd.Params))
		for k, v := range cmd.Params {
			if k != "name" {
				args[k] = v
			}
		}
		res.output, res.err = r.Adapter(ctx, name, args, adapters.Options{
			ArtifactsDir: r.artifactsDir(),
			DryRun:       r.cfg.DryRun,
			Step:         step,
			A1111URL:     r.cfg.A1111URL,
			Timeout:      r.cfg.Timeout,
			KeepAlive:    r.cfg.KeepAlive,
			LLM:          r.cfg.LLM,
			Bridge:       r.cfg.Bridge,
		})
	default:
		res.err = fmt.Errorf("run requires canonical 'toolcall tool' lines (or 'gen script'), got '%s %s'", cmd.Op, cmd.Target)
	}

	if res.err != nil {
		res.status = StatusError
		res.output = ""
		return finish(res)
	}
	res.status = StatusSuccess
	return finish(res)
}

// genScript stores a generated script and writes it as an artifact.
func (r *Runner) genScript(cmd dsl.Command) (string, error) {
	id := scalarText(cmd.Params["id"])
	if id == "" {
		return "", errors.New("gen script requires param 'id'")
	}
	raw, ok := cmd.Params["text"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errors.New("gen script requires a non-empty string param 'text'")
	}
	if err := dsl.ValidateScript(raw); err != nil {
		return "", fmt.Errorf("gen script text is not a valid script: %w", err)
	}

	dest, _, err := adapters.ResolveArtifactPath(r.artifactsDir(), id+ScriptExt)
	if err != nil {
		return "", err
	}
	if !r.cfg.DryRun {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(dest, []byte(raw), 0o644); err != nil {
			return "", err
		}
	}
	return raw, nil
}
