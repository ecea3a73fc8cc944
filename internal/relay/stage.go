package relay

import (
	"context"
	"slices"

	"github.com/ProhibitedTV/ChoomLang/internal/contract"
	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
	"github.com/ProhibitedTV/ChoomLang/internal/metrics"
	"github.com/ProhibitedTV/ChoomLang/internal/ollama"
	"github.com/ProhibitedTV/ChoomLang/internal/transcript"
)

// decoder turns a clipped model reply into a record and its canonical line.
type decoder func(raw string) (dsl.Command, string, error)

type stageSpec struct {
	name   string
	mode   string
	format any
	prompt string
	decode decoder
	// correct allows one guard-prompt correction after a decode failure.
	correct        bool
	retry          int
	fallbackReason string
}

type outcome struct {
	stage          string
	cmd            dsl.Command
	line           string
	raw            string
	retry          int
	fallbackReason string
	err            error
	// invalid is set when the transport succeeded but the reply was rejected.
	invalid bool
	repeat  bool
}

func (o outcome) turn(sp *speaker, index int) Turn {
	return Turn{
		Index:          index,
		Side:           sp.side,
		Model:          sp.model,
		Line:           o.line,
		Record:         o.cmd,
		Raw:            o.raw,
		Stage:          o.stage,
		Retry:          o.retry,
		FallbackReason: o.fallbackReason,
	}
}

// stage runs one negotiation stage with a single retry budget, spent on
// either a no-repeat re-prompt or a guard correction.
func (s *session) stage(ctx context.Context, sp *speaker, spec stageSpec) outcome {
	msgs := append(slices.Clone(sp.history), ollama.Message{Role: "user", Content: spec.prompt})
	retry := spec.retry
	budget := 1
	repeatPrevented := false
	for {
		out := s.call(ctx, sp, spec, msgs, retry, repeatPrevented)
		if out.err == nil {
			return out
		}
		if budget == 0 || ctx.Err() != nil {
			return out
		}
		switch {
		case out.repeat:
			msgs = append(msgs,
				ollama.Message{Role: "assistant", Content: out.raw},
				ollama.Message{Role: "user", Content: NoRepeatInstruction + "\n" + spec.prompt},
			)
			repeatPrevented = true
			s.repeats++
			metrics.RecordRepeatPrevented()
		case out.invalid && spec.correct:
			msgs = append(msgs,
				ollama.Message{Role: "assistant", Content: out.raw},
				ollama.Message{Role: "user", Content: contract.GuardPrompt(out.err.Error(), out.raw)},
			)
		default:
			return out
		}
		budget--
		retry++
		s.log.Debug().Str("side", sp.side).Int("turn", s.turn).Str("stage", spec.name).
			Bool("repeat", out.repeat).Int("retry", retry).Msg("relay re-prompt")
	}
}

// call makes one transport attempt and records it. The reply to an amended
// no-repeat re-prompt is not checked for repeats again.
func (s *session) call(ctx context.Context, sp *speaker, spec stageSpec, msgs []ollama.Message, retry int, repeatPrevented bool) outcome {
	s.requestID++
	resp, err := s.eng.Client.Chat(ctx, ollama.ChatRequest{
		Model:     sp.model,
		Messages:  msgs,
		Seed:      s.cfg.Seed,
		Format:    spec.format,
		Timeout:   s.cfg.Timeout,
		KeepAlive: s.cfg.KeepAlive,
	})

	out := outcome{stage: spec.name, retry: retry, fallbackReason: spec.fallbackReason}
	var parsed map[string]any
	if err == nil {
		out.raw = resp.Content
		var raw string
		if raw, err = ollama.Clip(resp.Content); err == nil {
			out.raw = raw
			out.cmd, out.line, err = spec.decode(raw)
			if err != nil {
				out.invalid = true
			} else {
				parsed = out.cmd.Map()
				if s.cfg.NoRepeat && !repeatPrevented && out.cmd.Equal(s.prev) {
					out.repeat = true
					err = ErrRepeated
				}
			}
		}
	}
	out.err = err

	rec := transcript.Record{
		SessionID:      s.id,
		Turn:           s.turn,
		RequestID:      s.requestID,
		Side:           sp.side,
		Model:          sp.model,
		Mode:           spec.mode,
		Stage:          spec.name,
		RequestMode:    spec.name,
		HTTPStatus:     resp.Status,
		Raw:            out.raw,
		Parsed:         parsed,
		DSL:            out.line,
		Retry:          retry,
		ElapsedMS:      resp.Elapsed.Milliseconds(),
		TimeoutS:       s.cfg.Timeout.Seconds(),
		KeepAliveS:     s.cfg.KeepAlive.Seconds(),
		FallbackReason: spec.fallbackReason,
	}
	if err != nil {
		rec.Error = err.Error()
		rec.InvalidFields = invalidFields(err)
	} else {
		rec.RepeatPrevented = repeatPrevented
	}
	if s.cfg.RawJSON && spec.mode == modeStructured {
		rec.RawJSONText = out.raw
	}
	s.write(ctx, rec)

	label := "ok"
	switch {
	case out.repeat:
		label = "repeat"
	case out.invalid:
		label = "invalid"
	case err != nil:
		label = "error"
	}
	metrics.RecordAttempt(sp.side, spec.name, label, resp.Elapsed)
	s.log.Debug().Str("side", sp.side).Str("model", sp.model).Int("turn", s.turn).
		Int("request_id", s.requestID).Str("stage", spec.name).Int("status", resp.Status).
		Dur("elapsed", resp.Elapsed).Str("outcome", label).Msg("relay attempt")
	return out
}

func (s *session) write(ctx context.Context, rec transcript.Record) {
	if s.eng.Sink == nil {
		return
	}
	if err := s.eng.Sink.Append(ctx, rec); err != nil {
		s.log.Warn().Err(err).Int("request_id", rec.RequestID).Msg("transcript append failed")
	}
}
