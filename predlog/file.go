// Package predlog stores accepted keyword predictions outside the capture
// loop. FileSink keeps an append-only JSON-lines file; PostgresSink writes
// to a predictions table through a background writer.
package predlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	kws "github.com/cortexswarm/kws-go"
)

// TimestampLayout is the on-disk timestamp format, local time, second precision.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("predlog: sink closed")

// entry is one line of the log file. Confidence is kept as a three-decimal
// string so the file stays byte-stable across readers.
type entry struct {
	Keyword    string `json:"keyword"`
	Confidence string `json:"confidence"`
	Timestamp  string `json:"timestamp"`
}

func toEntry(rec kws.PredictionRecord) entry {
	return entry{
		Keyword:    rec.Keyword,
		Confidence: strconv.FormatFloat(rec.Confidence, 'f', 3, 64),
		Timestamp:  rec.Timestamp.Local().Format(TimestampLayout),
	}
}

func (e entry) record() (kws.PredictionRecord, error) {
	conf, err := strconv.ParseFloat(e.Confidence, 64)
	if err != nil {
		return kws.PredictionRecord{}, fmt.Errorf("confidence %q: %w", e.Confidence, err)
	}
	ts, err := time.ParseInLocation(TimestampLayout, e.Timestamp, time.Local)
	if err != nil {
		return kws.PredictionRecord{}, fmt.Errorf("timestamp %q: %w", e.Timestamp, err)
	}
	return kws.PredictionRecord{Timestamp: ts, Keyword: e.Keyword, Confidence: conf}, nil
}

// FileSink appends one JSON object per line to a file. It is safe for
// concurrent use.
type FileSink struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

var _ kws.PredictionSink = (*FileSink)(nil)

// OpenFile opens (or creates) the log at path for appending.
func OpenFile(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("predlog: open %s: %w", path, err)
	}
	return &FileSink{path: path, f: f, enc: json.NewEncoder(f)}, nil
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string { return s.path }

// Append writes rec as one line.
func (s *FileSink) Append(_ context.Context, rec kws.PredictionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := s.enc.Encode(toEntry(rec)); err != nil {
		return fmt.Errorf("predlog: write %s: %w", s.path, err)
	}
	return nil
}

// Close closes the file. Further appends return ErrClosed.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f, s.enc = nil, nil
	return err
}

// ReadAll parses every record in the log at path, oldest first. A missing
// file yields no records.
func ReadAll(path string) ([]kws.PredictionRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("predlog: open %s: %w", path, err)
	}
	defer f.Close()

	var out []kws.PredictionRecord
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("predlog: %s:%d: %w", path, line, err)
		}
		rec, err := e.record()
		if err != nil {
			return nil, fmt.Errorf("predlog: %s:%d: %w", path, line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("predlog: read %s: %w", path, err)
	}
	return out, nil
}
