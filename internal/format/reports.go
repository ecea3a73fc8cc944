package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/ProhibitedTV/ChoomLang/internal/ollama"
	"github.com/ProhibitedTV/ChoomLang/internal/profiles"
	"github.com/ProhibitedTV/ChoomLang/internal/transcript"
)

// ProbeTable renders one row per probed or warmed model.
func ProbeTable(results []ollama.ProbeResult, m Mode) string {
	t := NewTable(m)
	t.Header("Model", "Listed", "OK", "Status", "Elapsed", "Detail")
	for _, r := range results {
		status := "-"
		if r.Status != 0 {
			status = fmt.Sprint(r.Status)
		}
		t.Row(r.Model, BoolMark(r.Listed), BoolMark(r.OK), status, FmtMillis(r.Elapsed), Truncate(oneLine(r.Describe()), 72))
	}
	t.AlignRight(4, 5)
	return t.String()
}

// SummaryTable renders a relay transcript summary: the counters first, then
// per-stage fallbacks and latency.
func SummaryTable(s transcript.Summary, m Mode) string {
	t := NewTable(m)
	t.Header("Metric", "Value")
	t.Row("total_turns", s.TotalTurns)
	t.Row("retries", s.Retries)
	t.Row("repeats_prevented", s.RepeatsPrevented)
	t.Row("failures", s.Failures)
	t.AlignRight(2)

	stages := NewTable(m)
	stages.Header("Stage", "Fallbacks", "Avg ms", "Median ms")
	for _, stage := range s.Stages() {
		lat := s.ElapsedMSByStage[stage]
		stages.Row(stage, s.FallbacksByStage[stage], fmt.Sprintf("%.1f", lat.AvgMS), fmt.Sprintf("%.1f", lat.MedianMS))
	}
	stages.AlignRight(2, 3, 4)

	if len(s.ElapsedMSByStage) == 0 {
		return t.String()
	}
	return t.String() + "\n" + stages.String()
}

// ProfilesTable lists profiles with their tags and description.
func ProfilesTable(list []profiles.Profile, m Mode) string {
	t := NewTable(m)
	t.Header("Name", "Tags", "Description")
	for _, p := range list {
		t.Row(p.Name, strings.Join(p.Tags, ","), Truncate(p.Description, 60))
	}
	return t.String()
}

// FmtMillis formats a duration as whole milliseconds, or "-" when zero.
func FmtMillis(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

// Truncate shortens s to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// BoolMark returns "✓" for true and "✗" for false.
func BoolMark(v bool) string {
	if v {
		return "✓"
	}
	return "✗"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
