package transcript

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
)

// Sink receives transcript records in order.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// JSONL appends one compact JSON object per line. Each append takes an
// advisory lock on the file and syncs before releasing it, so sessions
// sharing a log never interleave partial lines.
type JSONL struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenJSONL opens path for appending, creating parent directories.
func OpenJSONL(path string) (*JSONL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create transcript dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	return &JSONL{f: f, path: path}, nil
}

func (j *JSONL) Path() string { return j.path }

func (j *JSONL) Append(_ context.Context, rec Record) error {
	rec.Stamp()
	return j.WriteValue(rec)
}

// WriteValue appends v as one sorted compact JSON line under the same lock
// discipline as Append.
func (j *JSONL) WriteValue(v any) error {
	line, err := dsl.MarshalSorted(v, "")
	if err != nil {
		return fmt.Errorf("encode transcript record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return errors.New("transcript: sink closed")
	}
	if err := lockFile(j.f); err != nil {
		return fmt.Errorf("lock transcript: %w", err)
	}
	defer func() { _ = unlockFile(j.f) }()

	if _, err := j.f.Write(line); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return j.f.Sync()
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

// Multi fans records out to every sink; all sinks see every record even
// when one fails.
type Multi []Sink

func (m Multi) Append(ctx context.Context, rec Record) error {
	rec.Stamp()
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps records in memory; used by tests and the runner.
type Memory struct {
	mu      sync.Mutex
	Records []Record
}

func (m *Memory) Append(_ context.Context, rec Record) error {
	rec.Stamp()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, rec)
	return nil
}

func (m *Memory) Close() error { return nil }

// Snapshot returns a copy of the records seen so far.
func (m *Memory) Snapshot() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.Records...)
}

// ReadJSONL decodes records from a JSONL stream, skipping blank lines.
func ReadJSONL(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Bytes()
		if len(bytes.TrimSpace(text)) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("transcript line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// ReadFile reads a JSONL transcript from disk.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSONL(f)
}
