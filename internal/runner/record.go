package runner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"
)

var nowFn = time.Now

// StepRecord is one line of the run transcript.
type StepRecord struct {
	TS        string         `json:"ts"`
	RunID     string         `json:"run_id"`
	Step      int            `json:"step"`
	DSL       string         `json:"dsl"`
	Payload   map[string]any `json:"payload"`
	Status    string         `json:"status"`
	ElapsedMS int64          `json:"elapsed_ms"`
	// Output is the adapter string, or {files, count} for image batches.
	Output   any     `json:"output"`
	StoredID *string `json:"stored_id"`
	Error    *string `json:"error"`
}

func (s stepResult) record(runID string) StepRecord {
	rec := StepRecord{
		TS:        nowFn().UTC().Format(time.RFC3339Nano),
		RunID:     runID,
		Step:      s.step,
		DSL:       s.line,
		Payload:   s.payload,
		Status:    s.status,
		ElapsedMS: s.elapsed.Milliseconds(),
	}
	if s.status == StatusSuccess {
		rec.Output = summarizeOutput(s.adapter, s.output)
		if s.storedID != "" {
			id := s.storedID
			rec.StoredID = &id
		}
	}
	switch {
	case s.err != nil:
		msg := s.err.Error()
		rec.Error = &msg
	case s.skipNote != "":
		note := s.skipNote
		rec.Error = &note
	}
	return rec
}

// summarizeOutput condenses a1111 file lists to {files, count} when every
// entry is a safe relative path. Anything else is recorded verbatim.
func summarizeOutput(adapter, output string) any {
	if adapter != "a1111_txt2img" {
		return output
	}
	var files []string
	if err := json.Unmarshal([]byte(output), &files); err != nil {
		return output
	}
	for _, f := range files {
		if !safeRelative(f) {
			return output
		}
	}
	if files == nil {
		files = []string{}
	}
	return map[string]any{"files": files, "count": len(files)}
}

func safeRelative(p string) bool {
	p = strings.ReplaceAll(p, `\`, "/")
	if p == "" || path.IsAbs(p) {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// lastCompletedStep returns the highest step recorded as success or skipped,
// which is also the 0-based index of the next step to run.
func lastCompletedStep(transcriptPath string) (int, error) {
	f, err := os.Open(transcriptPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading run transcript: %w", err)
	}
	defer f.Close()

	last := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec struct {
			Step   int    `json:"step"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return 0, fmt.Errorf("run transcript line %d: %w", n, err)
		}
		if (rec.Status == StatusSuccess || rec.Status == StatusSkipped) && rec.Step > last {
			last = rec.Step
		}
	}
	return last, sc.Err()
}
