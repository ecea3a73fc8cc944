package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ProhibitedTV/ChoomLang/internal/contract"
	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/metrics"
	"github.com/ProhibitedTV/ChoomLang/internal/ollama"
	"github.com/ProhibitedTV/ChoomLang/internal/registry"
	"github.com/ProhibitedTV/ChoomLang/internal/transcript"
)

const (
	SideA = "A"
	SideB = "B"

	modeStructured = "structured"
	modeDSL        = "dsl"
)

// Chatter is the transport the engine drives. *ollama.Client satisfies it.
type Chatter interface {
	Chat(ctx context.Context, req ollama.ChatRequest) (ollama.ChatResponse, error)
}

// Config controls one relay session.
type Config struct {
	AModel  string
	BModel  string
	Turns   int
	Seed    *int64
	SystemA string
	SystemB string
	// Start is the opening DSL line handed to speaker A. Empty means DefaultStart.
	Start string

	// Strict makes a structured json-stage failure terminal and, in plain
	// mode, applies registry validation to replies.
	Strict     bool
	Structured bool
	UseSchema  bool
	SchemaMode contract.Mode
	Fallback   bool
	NoRepeat   bool
	Lenient    bool
	RawJSON    bool
	Registry   registry.Options

	Timeout   time.Duration
	KeepAlive time.Duration
}

// Turn is one accepted reply.
type Turn struct {
	Index          int
	Side           string
	Model          string
	Line           string
	Record         dsl.Command
	Raw            string
	Stage          string
	Retry          int
	FallbackReason string
}

type Result struct {
	SessionID        string
	Start            dsl.Command
	Turns            []Turn
	RepeatsPrevented int
}

// Engine runs relay sessions between two models.
type Engine struct {
	Client Chatter
	// Sink receives one record per transport attempt. Nil disables logging.
	Sink   transcript.Sink
	Logger zerolog.Logger
	// NewSessionID defaults to uuid.NewString.
	NewSessionID func() string
	// OnTurn, when set, is called after every accepted turn.
	OnTurn func(Turn)
}

type speaker struct {
	side    string
	model   string
	history []ollama.Message
}

func newSpeaker(side, model, system string) *speaker {
	s := &speaker{side: side, model: model}
	if system != "" {
		s.history = append(s.history, ollama.Message{Role: "system", Content: system})
	}
	return s
}

type session struct {
	eng       *Engine
	cfg       Config
	log       zerolog.Logger
	id        string
	turn      int
	requestID int
	prev      dsl.Command
	repeats   int
}

// Run alternates A and B for cfg.Turns rounds, threading each accepted
// record into both histories. A partial Result is returned with any error.
func (e *Engine) Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.Turns < 1 {
		return Result{}, ErrBadTurns
	}
	startLine := cfg.Start
	if startLine == "" {
		startLine = DefaultStart
	}
	start, err := dsl.Parse(startLine, dsl.WithLenient(cfg.Lenient))
	if err != nil {
		return Result{}, fmt.Errorf("start line: %w", err)
	}

	newID := e.NewSessionID
	if newID == nil {
		newID = uuid.NewString
	}
	s := &session{eng: e, cfg: cfg, id: newID(), prev: start}
	s.log = e.Logger.With().Str("session_id", s.id).Logger()
	res := Result{SessionID: s.id, Start: start}

	a := newSpeaker(SideA, cfg.AModel, cfg.SystemA)
	b := newSpeaker(SideB, cfg.BModel, cfg.SystemB)
	incoming := start
	incomingLine, err := dsl.Serialize(start)
	if err != nil {
		return res, fmt.Errorf("start line: %w", err)
	}

	s.log.Info().Str("a_model", cfg.AModel).Str("b_model", cfg.BModel).Int("turns", cfg.Turns).
		Bool("structured", cfg.Structured).Str("start", incomingLine).Msg("relay started")

	for round := 0; round < cfg.Turns; round++ {
		for _, sp := range []*speaker{a, b} {
			s.turn++
			turn, err := s.runTurn(ctx, sp, incoming, incomingLine)
			res.RepeatsPrevented = s.repeats
			if err != nil {
				return res, err
			}
			res.Turns = append(res.Turns, turn)
			if e.OnTurn != nil {
				e.OnTurn(turn)
			}

			in, out, err := s.historyTexts(incoming, incomingLine, turn)
			if err != nil {
				return res, err
			}
			for _, h := range []*speaker{a, b} {
				h.history = append(h.history,
					ollama.Message{Role: "user", Content: in},
					ollama.Message{Role: "assistant", Content: out},
				)
			}
			incoming, incomingLine = turn.Record, turn.Line
			s.prev = turn.Record
		}
	}
	s.log.Info().Int("turns", len(res.Turns)).Int("repeats_prevented", s.repeats).Msg("relay finished")
	return res, nil
}

// historyTexts renders the exchange appended to both histories: JSON in
// structured mode, DSL lines otherwise.
func (s *session) historyTexts(incoming dsl.Command, incomingLine string, turn Turn) (string, string, error) {
	if !s.cfg.Structured {
		return incomingLine, turn.Line, nil
	}
	in, err := incoming.JSON("")
	if err != nil {
		return "", "", err
	}
	out, err := turn.Record.JSON("")
	if err != nil {
		return "", "", err
	}
	return string(in), string(out), nil
}

func (s *session) runTurn(ctx context.Context, sp *speaker, incoming dsl.Command, incomingLine string) (Turn, error) {
	if s.cfg.Structured {
		return s.structuredTurn(ctx, sp, incoming, incomingLine)
	}
	return s.plainTurn(ctx, sp, incoming, incomingLine)
}

func (s *session) plainTurn(ctx context.Context, sp *speaker, incoming dsl.Command, incomingLine string) (Turn, error) {
	prompt, err := DSLPrompt(incoming, incomingLine)
	if err != nil {
		return Turn{}, s.promptFailure(ctx, sp, stageSpec{name: transcript.StageDSL, mode: modeDSL}, "", "", err)
	}
	out := s.stage(ctx, sp, stageSpec{
		name:    transcript.StageDSL,
		mode:    modeDSL,
		prompt:  prompt,
		decode:  s.decodeDSL(s.cfg.Strict),
		correct: true,
	})
	if out.err == nil {
		return out.turn(sp, s.turn), nil
	}
	err = out.err
	if out.invalid && out.retry > 0 {
		err = fmt.Errorf("%w: %w", ErrStrictValidation, out.err)
	}
	return Turn{}, s.turnError(sp, transcript.StageDSL, out.retry, out.raw, "", err)
}

func (s *session) structuredTurn(ctx context.Context, sp *speaker, incoming dsl.Command, incomingLine string) (Turn, error) {
	prompt, err := StructuredPrompt(incoming)
	if err != nil {
		first := transcript.StageJSON
		if s.cfg.UseSchema {
			first = transcript.StageSchema
		}
		return Turn{}, s.promptFailure(ctx, sp, stageSpec{name: first, mode: modeStructured}, "", "", err)
	}
	decodeJSON := func(raw string) (dsl.Command, string, error) {
		return contract.ParseStructuredReply(raw, s.cfg.Registry)
	}

	var schemaFailed, jsonFailed bool
	var reason string
	var last outcome
	attempts := 0

	if s.cfg.UseSchema {
		last = s.stage(ctx, sp, stageSpec{
			name:   transcript.StageSchema,
			mode:   modeStructured,
			format: contract.Schema(s.cfg.SchemaMode),
			prompt: prompt,
			decode: decodeJSON,
		})
		if last.err == nil {
			return last.turn(sp, s.turn), nil
		}
		schemaFailed = true
		attempts = last.retry + 1
		reason = "schema-failed:" + failureReason(last)
		if d := s.decide(sp, transcript.StageSchema, schemaFailed, jsonFailed, reason); d.Terminal() {
			return Turn{}, s.turnError(sp, transcript.StageSchema, last.retry, last.raw, d, last.err)
		}
		metrics.RecordFallback(transcript.StageSchema, transcript.StageJSON)
	}

	last = s.stage(ctx, sp, stageSpec{
		name:           transcript.StageJSON,
		mode:           modeStructured,
		format:         "json",
		prompt:         prompt,
		decode:         decodeJSON,
		retry:          attempts,
		fallbackReason: reason,
	})
	if last.err == nil {
		return last.turn(sp, s.turn), nil
	}
	jsonFailed = true
	attempts = last.retry + 1
	reason = "json-failed:" + failureReason(last)
	d := s.decide(sp, transcript.StageJSON, schemaFailed, jsonFailed, reason)
	if d.Terminal() {
		return Turn{}, s.turnError(sp, transcript.StageJSON, last.retry, last.raw, d, last.err)
	}
	metrics.RecordFallback(transcript.StageJSON, transcript.StageFallback)

	dslPrompt, err := DSLPrompt(incoming, incomingLine)
	if err != nil {
		spec := stageSpec{name: transcript.StageFallback, mode: modeStructured, retry: attempts, fallbackReason: reason}
		return Turn{}, s.promptFailure(ctx, sp, spec, last.raw, d, err)
	}
	last = s.stage(ctx, sp, stageSpec{
		name:           transcript.StageFallback,
		mode:           modeStructured,
		prompt:         dslPrompt,
		decode:         s.decodeDSL(false),
		retry:          attempts,
		fallbackReason: reason,
	})
	if last.err == nil {
		return last.turn(sp, s.turn), nil
	}
	return Turn{}, s.turnError(sp, transcript.StageFallback, last.retry, last.raw, FallbackDSL, last.err)
}

func (s *session) decide(sp *speaker, stage string, schemaFailed, jsonFailed bool, reason string) Decision {
	d := Decide(schemaFailed, jsonFailed, s.cfg.Strict, s.cfg.Fallback)
	s.log.Info().Str("side", sp.side).Int("turn", s.turn).Str("stage", stage).
		Str("decision", string(d)).Str("fallback_reason", reason).Msg("relay stage failed")
	return d
}

// promptFailure records a turn that ended before any transport attempt.
func (s *session) promptFailure(ctx context.Context, sp *speaker, spec stageSpec, raw string, d Decision, err error) error {
	s.requestID++
	s.write(ctx, transcript.Record{
		SessionID:      s.id,
		Turn:           s.turn,
		RequestID:      s.requestID,
		Side:           sp.side,
		Model:          sp.model,
		Mode:           spec.mode,
		Stage:          spec.name,
		RequestMode:    spec.name,
		Error:          err.Error(),
		Retry:          spec.retry,
		TimeoutS:       s.cfg.Timeout.Seconds(),
		KeepAliveS:     s.cfg.KeepAlive.Seconds(),
		FallbackReason: spec.fallbackReason,
	})
	return s.turnError(sp, spec.name, spec.retry, raw, d, err)
}

func (s *session) turnError(sp *speaker, stage string, retry int, raw string, d Decision, err error) error {
	te := &TurnError{
		Side:     sp.side,
		Model:    sp.model,
		Turn:     s.turn,
		Stage:    stage,
		Retry:    retry,
		Raw:      raw,
		Decision: d,
		Err:      err,
	}
	s.log.Warn().Err(err).Str("side", sp.side).Int("turn", s.turn).Str("stage", stage).Msg("relay turn failed")
	return te
}

func (s *session) decodeDSL(validate bool) decoder {
	return func(raw string) (dsl.Command, string, error) {
		cmd, err := dsl.Parse(raw, dsl.WithLenient(s.cfg.Lenient))
		if err != nil {
			return dsl.Command{}, "", err
		}
		if validate {
			if err := cmd.Validate(s.cfg.Registry); err != nil {
				return dsl.Command{}, "", err
			}
		}
		if err := contract.CheckGenScript(cmd); err != nil {
			return dsl.Command{}, "", err
		}
		line, err := dsl.Serialize(cmd)
		if err != nil {
			return dsl.Command{}, "", err
		}
		return cmd, line, nil
	}
}

func failureReason(o outcome) string {
	if o.invalid {
		return "invalid"
	}
	return ollama.Reason(o.err)
}

// invalidFields pulls the field names at fault out of a decode error.
func invalidFields(err error) []string {
	var re *contract.ReplyError
	if errors.As(err, &re) {
		return re.InvalidFields
	}
	var fe *registry.FieldError
	if errors.As(err, &fe) {
		return []string{string(fe.Field)}
	}
	return nil
}
