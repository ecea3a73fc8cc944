package transcript

import (
	"sort"
)

// StageLatency is the latency profile of one stage.
type StageLatency struct {
	AvgMS    float64 `json:"avg_ms"`
	MedianMS float64 `json:"median_ms"`
}

// Summary aggregates a transcript. Failed attempts only count toward
// Failures; every other field covers records without an error.
type Summary struct {
	TotalTurns       int                     `json:"total_turns"`
	Retries          int                     `json:"retries"`
	RepeatsPrevented int                     `json:"repeats_prevented"`
	Failures         int                     `json:"failures"`
	FallbacksByStage map[string]int          `json:"fallbacks_by_stage"`
	ElapsedMSByStage map[string]StageLatency `json:"elapsed_ms_by_stage"`
}

// Summarize folds records into per-stage retry, fallback and latency counts.
func Summarize(records []Record) Summary {
	s := Summary{
		FallbacksByStage: map[string]int{},
		ElapsedMSByStage: map[string]StageLatency{},
	}
	elapsed := map[string][]int64{}
	for _, rec := range records {
		if rec.Error != "" {
			s.Failures++
			continue
		}
		s.TotalTurns++
		if rec.Retry > 0 {
			s.Retries++
		}
		if rec.RepeatPrevented {
			s.RepeatsPrevented++
		}
		if rec.FallbackReason != "" {
			s.FallbacksByStage[rec.Stage]++
		}
		if rec.Stage != "" {
			elapsed[rec.Stage] = append(elapsed[rec.Stage], rec.ElapsedMS)
		}
	}
	for stage, values := range elapsed {
		s.ElapsedMSByStage[stage] = StageLatency{AvgMS: mean(values), MedianMS: median(values)}
	}
	return s
}

// Stages returns the stages present in s in a stable order.
func (s Summary) Stages() []string {
	order := map[string]int{StageSchema: 0, StageJSON: 1, StageFallback: 2, StageDSL: 3}
	stages := make([]string, 0, len(s.ElapsedMSByStage))
	for stage := range s.ElapsedMSByStage {
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool {
		oi, iok := order[stages[i]]
		oj, jok := order[stages[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return stages[i] < stages[j]
		}
	})
	return stages
}

func mean(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total int64
	for _, v := range values {
		total += v
	}
	return float64(total) / float64(len(values))
}

func median(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}
