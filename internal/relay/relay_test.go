package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ProhibitedTV/ChoomLang/internal/contract"
	"github.com/ProhibitedTV/ChoomLang/internal/ollama"
	"github.com/ProhibitedTV/ChoomLang/internal/transcript"
)

type reply struct {
	content string
	err     error
}

type fakeChatter struct {
	replies []reply
	calls   []ollama.ChatRequest
}

func (f *fakeChatter) Chat(_ context.Context, req ollama.ChatRequest) (ollama.ChatResponse, error) {
	f.calls = append(f.calls, req)
	if len(f.replies) == 0 {
		return ollama.ChatResponse{}, errors.New("unexpected call")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r.err != nil {
		return ollama.ChatResponse{Status: ollama.StatusOf(r.err), Elapsed: time.Millisecond}, r.err
	}
	return ollama.ChatResponse{Content: r.content, Status: 200, Elapsed: 5 * time.Millisecond}, nil
}

func lastMessage(req ollama.ChatRequest) string {
	return req.Messages[len(req.Messages)-1].Content
}

func newEngine(replies ...reply) (*Engine, *fakeChatter, *transcript.Memory) {
	fc := &fakeChatter{replies: replies}
	sink := &transcript.Memory{}
	return &Engine{
		Client:       fc,
		Sink:         sink,
		NewSessionID: func() string { return "sess-1" },
	}, fc, sink
}

func structuredConfig() Config {
	return Config{
		AModel:     "a",
		BModel:     "b",
		Turns:      1,
		Structured: true,
		UseSchema:  true,
		Strict:     true,
		Fallback:   true,
		NoRepeat:   true,
	}
}

var serverError = &ollama.HTTPError{Status: 500, Body: "boom", Path: "/api/chat"}

func TestDecide(t *testing.T) {
	tests := []struct {
		schemaFailed, jsonFailed, strict, fallback bool
		want                                       Decision
	}{
		{false, false, true, true, Accept},
		{true, false, true, true, RetryJSON},
		{true, true, true, true, FailStrict},
		{true, true, false, true, FallbackDSL},
		{true, false, false, false, FailNoFallback},
		{false, true, false, false, FailNoFallback},
		{false, true, true, false, FailStrict},
		{false, true, false, true, FallbackDSL},
	}
	for _, tt := range tests {
		got := Decide(tt.schemaFailed, tt.jsonFailed, tt.strict, tt.fallback)
		if got != tt.want {
			t.Fatalf("Decide(%v, %v, %v, %v) = %q, want %q", tt.schemaFailed, tt.jsonFailed, tt.strict, tt.fallback, got, tt.want)
		}
	}
	if !FailStrict.Terminal() || !FailNoFallback.Terminal() || RetryJSON.Terminal() {
		t.Fatal("Terminal() classification is wrong")
	}
}

func TestRunRejectsZeroTurns(t *testing.T) {
	eng, fc, _ := newEngine()
	cfg := structuredConfig()
	cfg.Turns = 0
	if _, err := eng.Run(context.Background(), cfg); !errors.Is(err, ErrBadTurns) {
		t.Fatalf("Run() error = %v, want ErrBadTurns", err)
	}
	if len(fc.calls) != 0 {
		t.Fatalf("calls = %d, want 0", len(fc.calls))
	}
}

func TestSchemaFailureRetriesJSON(t *testing.T) {
	eng, fc, sink := newEngine(
		reply{err: serverError},
		reply{content: `{"op":"classify","target":"txt","params":{"label":"ok"}}`},
		reply{content: `{"op":"summarize","target":"txt"}`},
	)
	res, err := eng.Run(context.Background(), structuredConfig())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fc.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(fc.calls))
	}
	if _, ok := fc.calls[0].Format.(map[string]any); !ok {
		t.Fatalf("calls[0].Format = %T, want schema object", fc.calls[0].Format)
	}
	if fc.calls[1].Format != "json" {
		t.Fatalf("calls[1].Format = %v, want json", fc.calls[1].Format)
	}

	a := res.Turns[0]
	if a.Stage != transcript.StageJSON || a.Retry != 1 || a.FallbackReason != "schema-failed:http-500" {
		t.Fatalf("turn A = %+v", a)
	}
	if a.Line != "classify txt label=ok" {
		t.Fatalf("turn A line = %q", a.Line)
	}
	if b := res.Turns[1]; b.Stage != transcript.StageSchema || b.Retry != 0 || b.FallbackReason != "" {
		t.Fatalf("turn B = %+v", b)
	}

	recs := sink.Snapshot()
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	if recs[0].Error == "" || recs[0].HTTPStatus != 500 || recs[0].RequestMode != transcript.StageSchema {
		t.Fatalf("records[0] = %+v", recs[0])
	}
	if !recs[1].Accepted() || recs[1].Retry != 1 || recs[1].RequestMode != transcript.StageJSON || recs[1].FallbackReason == "" {
		t.Fatalf("records[1] = %+v", recs[1])
	}
	for i, rec := range recs {
		if rec.SessionID != "sess-1" || rec.RequestID != i+1 || rec.Mode != "structured" {
			t.Fatalf("records[%d] identity = %+v", i, rec)
		}
	}
}

func TestStrictJSONFailureIsTerminal(t *testing.T) {
	eng, fc, _ := newEngine(
		reply{err: serverError},
		reply{content: "nope"},
	)
	_, err := eng.Run(context.Background(), structuredConfig())
	var te *TurnError
	if !errors.As(err, &te) {
		t.Fatalf("Run() error = %v, want *TurnError", err)
	}
	if te.Stage != transcript.StageJSON || te.Decision != FailStrict || te.Raw != "nope" || te.Side != SideA {
		t.Fatalf("TurnError = %+v", te)
	}
	if len(fc.calls) != 2 {
		t.Fatalf("calls = %d, want 2 (no fallback call)", len(fc.calls))
	}
}

func TestNonStrictFallsBackToDSL(t *testing.T) {
	eng, fc, sink := newEngine(
		reply{err: serverError},
		reply{content: `{"op":"success","target":"txt"}`},
		reply{content: "classify txt label=ok"},
		reply{content: `{"op":"summarize","target":"txt"}`},
	)
	cfg := structuredConfig()
	cfg.Strict = false
	res, err := eng.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if fc.calls[2].Format != nil {
		t.Fatalf("fallback Format = %v, want nil", fc.calls[2].Format)
	}
	if !strings.Contains(lastMessage(fc.calls[2]), "Incoming DSL: healthcheck tool service=relay") {
		t.Fatalf("fallback prompt = %q", lastMessage(fc.calls[2]))
	}
	a := res.Turns[0]
	if a.Stage != transcript.StageFallback || a.Retry != 2 || a.FallbackReason != "json-failed:invalid" {
		t.Fatalf("turn A = %+v", a)
	}
	recs := sink.Snapshot()
	if diff := cmp.Diff([]string{"op"}, recs[1].InvalidFields); diff != "" {
		t.Fatalf("records[1].InvalidFields mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaFailureWithoutFallback(t *testing.T) {
	eng, fc, _ := newEngine(reply{err: serverError})
	cfg := structuredConfig()
	cfg.Fallback = false
	_, err := eng.Run(context.Background(), cfg)
	var te *TurnError
	if !errors.As(err, &te) {
		t.Fatalf("Run() error = %v, want *TurnError", err)
	}
	if te.Stage != transcript.StageSchema || te.Decision != FailNoFallback {
		t.Fatalf("TurnError = %+v", te)
	}
	if ollama.StatusOf(err) != 500 {
		t.Fatalf("StatusOf() = %d, want 500", ollama.StatusOf(err))
	}
	if len(fc.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(fc.calls))
	}
}

func TestJSONOnlyWhenSchemaDisabled(t *testing.T) {
	eng, fc, _ := newEngine(
		reply{content: `{"op":"plan","target":"tool"}`},
		reply{content: `{"op":"summarize","target":"txt"}`},
	)
	cfg := structuredConfig()
	cfg.UseSchema = false
	res, err := eng.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i, call := range fc.calls {
		if call.Format != "json" {
			t.Fatalf("calls[%d].Format = %v, want json", i, call.Format)
		}
	}
	if res.Turns[0].Stage != transcript.StageJSON || res.Turns[0].Retry != 0 {
		t.Fatalf("turn A = %+v", res.Turns[0])
	}
}

func plainConfig() Config {
	return Config{AModel: "a", BModel: "b", Turns: 1, Start: "gen txt", NoRepeat: true}
}

func TestNoRepeatRepromptsOnce(t *testing.T) {
	eng, fc, sink := newEngine(
		reply{content: "gen txt"},
		reply{content: "plan txt"},
		reply{content: "summarize txt"},
	)
	res, err := eng.Run(context.Background(), plainConfig())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fc.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(fc.calls))
	}
	if !strings.Contains(lastMessage(fc.calls[1]), NoRepeatInstruction) {
		t.Fatalf("re-prompt = %q", lastMessage(fc.calls[1]))
	}
	if res.RepeatsPrevented != 1 {
		t.Fatalf("RepeatsPrevented = %d, want 1", res.RepeatsPrevented)
	}
	if res.Turns[0].Line != "plan txt" || res.Turns[0].Retry != 1 {
		t.Fatalf("turn A = %+v", res.Turns[0])
	}

	recs := sink.Snapshot()
	if recs[0].Error != ErrRepeated.Error() || recs[0].Parsed == nil {
		t.Fatalf("records[0] = %+v", recs[0])
	}
	if !recs[1].RepeatPrevented || !recs[1].Accepted() {
		t.Fatalf("records[1] = %+v", recs[1])
	}
	if got := transcript.Summarize(recs).RepeatsPrevented; got != 1 {
		t.Fatalf("Summarize().RepeatsPrevented = %d, want 1", got)
	}
}

func TestNoRepeatAcceptsSecondIdenticalReply(t *testing.T) {
	eng, fc, sink := newEngine(
		reply{content: "gen txt"},
		reply{content: "gen txt"},
		reply{content: "summarize txt"},
	)
	res, err := eng.Run(context.Background(), plainConfig())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fc.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(fc.calls))
	}
	if res.RepeatsPrevented != 1 {
		t.Fatalf("RepeatsPrevented = %d, want 1", res.RepeatsPrevented)
	}
	a := res.Turns[0]
	if a.Line != "gen txt" || a.Retry != 1 || a.Stage != transcript.StageDSL {
		t.Fatalf("turn A = %+v", a)
	}
	recs := sink.Snapshot()
	if !recs[1].Accepted() || !recs[1].RepeatPrevented {
		t.Fatalf("records[1] = %+v", recs[1])
	}
	if got := transcript.Summarize(recs).RepeatsPrevented; got != 1 {
		t.Fatalf("Summarize().RepeatsPrevented = %d, want 1", got)
	}
}

func TestNoRepeatStructuredStaysOnSchemaStage(t *testing.T) {
	echo := `{"op":"healthcheck","target":"tool","params":{"service":"relay"}}`
	eng, fc, sink := newEngine(
		reply{content: echo},
		reply{content: echo},
		reply{content: `{"op":"summarize","target":"txt"}`},
	)
	res, err := eng.Run(context.Background(), structuredConfig())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fc.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(fc.calls))
	}
	if _, ok := fc.calls[1].Format.(map[string]any); !ok {
		t.Fatalf("calls[1].Format = %T, want schema object", fc.calls[1].Format)
	}
	if !strings.Contains(lastMessage(fc.calls[1]), NoRepeatInstruction) {
		t.Fatalf("re-prompt = %q", lastMessage(fc.calls[1]))
	}
	if res.RepeatsPrevented != 1 {
		t.Fatalf("RepeatsPrevented = %d, want 1", res.RepeatsPrevented)
	}
	a := res.Turns[0]
	if a.Stage != transcript.StageSchema || a.Retry != 1 || a.FallbackReason != "" || a.Line != "healthcheck tool service=relay" {
		t.Fatalf("turn A = %+v", a)
	}
	recs := sink.Snapshot()
	if recs[0].Error != ErrRepeated.Error() || !recs[1].Accepted() || !recs[1].RepeatPrevented {
		t.Fatalf("records = %+v", recs[:2])
	}
}

func TestAllowRepeatAcceptsEcho(t *testing.T) {
	eng, fc, _ := newEngine(
		reply{content: "gen txt"},
		reply{content: "summarize txt"},
	)
	cfg := plainConfig()
	cfg.NoRepeat = false
	res, err := eng.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fc.calls) != 2 || res.RepeatsPrevented != 0 || res.Turns[0].Line != "gen txt" {
		t.Fatalf("calls = %d, result = %+v", len(fc.calls), res)
	}
}

func TestPlainCorrection(t *testing.T) {
	eng, fc, _ := newEngine(
		reply{content: "gen txt prompt"},
		reply{content: "gen txt prompt=hi"},
		reply{content: "summarize txt"},
	)
	res, err := eng.Run(context.Background(), plainConfig())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	guard := lastMessage(fc.calls[1])
	if !strings.Contains(guard, "Error: malformed kv: missing '=' in token 'prompt'") ||
		!strings.Contains(guard, `Previous reply: "gen txt prompt"`) {
		t.Fatalf("guard prompt = %q", guard)
	}
	if res.Turns[0].Line != "gen txt prompt=hi" || res.Turns[0].Retry != 1 || res.Turns[0].Stage != transcript.StageDSL {
		t.Fatalf("turn A = %+v", res.Turns[0])
	}
}

func TestPlainCorrectionFailure(t *testing.T) {
	eng, fc, _ := newEngine(
		reply{content: "oops"},
		reply{content: "still"},
	)
	_, err := eng.Run(context.Background(), plainConfig())
	if !errors.Is(err, ErrStrictValidation) {
		t.Fatalf("Run() error = %v, want ErrStrictValidation", err)
	}
	if !strings.Contains(err.Error(), "model failed strict ChoomLang validation after retry: invalid header") {
		t.Fatalf("Error() = %q", err.Error())
	}
	var te *TurnError
	if !errors.As(err, &te) || te.Retry != 1 || te.Raw != "still" || te.Stage != transcript.StageDSL {
		t.Fatalf("TurnError = %+v", te)
	}
	if len(fc.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(fc.calls))
	}
}

func TestPlainStrictRejectsUnknownOp(t *testing.T) {
	eng, fc, _ := newEngine(
		reply{content: "success txt"},
		reply{content: "summarize txt"},
		reply{content: "plan tool"},
	)
	cfg := plainConfig()
	cfg.Strict = true
	if _, err := eng.Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(lastMessage(fc.calls[1]), "unknown canonical op") {
		t.Fatalf("guard prompt = %q", lastMessage(fc.calls[1]))
	}
}

func TestHistoriesThreadAcceptedRecords(t *testing.T) {
	eng, fc, _ := newEngine(
		reply{content: "plan txt"},
		reply{content: "summarize txt"},
	)
	cfg := plainConfig()
	cfg.SystemB = "you are B"
	if _, err := eng.Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := fc.calls[1].Messages[:3]
	want := []ollama.Message{
		{Role: "system", Content: "you are B"},
		{Role: "user", Content: "gen txt"},
		{Role: "assistant", Content: "plan txt"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("B history mismatch (-want +got):\n%s", diff)
	}
	if len(fc.calls[0].Messages) != 1 {
		t.Fatalf("A first call messages = %d, want 1", len(fc.calls[0].Messages))
	}
}

func TestStructuredHistoryUsesJSON(t *testing.T) {
	eng, fc, _ := newEngine(
		reply{content: `{"op":"plan","target":"tool"}`},
		reply{content: `{"op":"summarize","target":"txt"}`},
	)
	if _, err := eng.Run(context.Background(), structuredConfig()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := `{"count":1,"op":"healthcheck","params":{"service":"relay"},"target":"tool"}`
	if got := fc.calls[1].Messages[0].Content; got != want {
		t.Fatalf("B history[0] = %q, want %q", got, want)
	}
}

func TestOversizedPromptFailsClosed(t *testing.T) {
	eng, fc, sink := newEngine()
	cfg := plainConfig()
	cfg.Start = `gen txt prompt="` + strings.Repeat("x", ollama.MaxMessageChars) + `"`
	_, err := eng.Run(context.Background(), cfg)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("Run() error = %v, want ErrMessageTooLarge", err)
	}
	if len(fc.calls) != 0 {
		t.Fatalf("calls = %d, want 0", len(fc.calls))
	}
	recs := sink.Snapshot()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Error != ErrMessageTooLarge.Error() || rec.Stage != transcript.StageDSL || rec.Side != SideA ||
		rec.RequestID != 1 || rec.Turn != 1 || rec.SessionID != "sess-1" || rec.Accepted() {
		t.Fatalf("records[0] = %+v", rec)
	}
}

func TestOversizedStructuredPromptIsRecorded(t *testing.T) {
	eng, fc, sink := newEngine()
	cfg := structuredConfig()
	cfg.Start = `gen txt prompt="` + strings.Repeat("x", ollama.MaxMessageChars) + `"`
	_, err := eng.Run(context.Background(), cfg)
	var te *TurnError
	if !errors.As(err, &te) || !errors.Is(err, ErrMessageTooLarge) || te.Stage != transcript.StageSchema {
		t.Fatalf("Run() error = %v, want ErrMessageTooLarge at %s", err, transcript.StageSchema)
	}
	if len(fc.calls) != 0 {
		t.Fatalf("calls = %d, want 0", len(fc.calls))
	}
	recs := sink.Snapshot()
	if len(recs) != 1 || recs[0].Mode != "structured" || recs[0].RequestMode != transcript.StageSchema || recs[0].Error == "" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestOversizedReplyIsRejected(t *testing.T) {
	eng, _, _ := newEngine(
		reply{content: strings.Repeat("x", ollama.MaxMessageChars+1)},
		reply{content: "plan txt"},
	)
	_, err := eng.Run(context.Background(), plainConfig())
	if !errors.Is(err, ollama.ErrMessageTooLarge) {
		t.Fatalf("Run() error = %v, want ollama.ErrMessageTooLarge", err)
	}
}

func TestOnTurnAndRawJSON(t *testing.T) {
	eng, _, sink := newEngine(
		reply{content: `{"op":"plan","target":"tool"}`},
		reply{content: `{"op":"summarize","target":"txt"}`},
	)
	var seen []string
	eng.OnTurn = func(turn Turn) { seen = append(seen, turn.Side+": "+turn.Line) }
	cfg := structuredConfig()
	cfg.RawJSON = true
	cfg.SchemaMode = contract.ModePermissive
	if _, err := eng.Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff([]string{"A: plan tool", "B: summarize txt"}, seen); diff != "" {
		t.Fatalf("OnTurn mismatch (-want +got):\n%s", diff)
	}
	if got := sink.Snapshot()[0].RawJSONText; got != `{"op":"plan","target":"tool"}` {
		t.Fatalf("RawJSONText = %q", got)
	}
}
