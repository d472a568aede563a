package predlog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	kws "github.com/cortexswarm/kws-go"
)

func TestFileSink_AppendAndReadAll(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "predictions.jsonl")
	sink, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	recs := []kws.PredictionRecord{
		{Timestamp: ts, Keyword: "yes", Confidence: 0.91234},
		{Timestamp: ts.Add(time.Second), Keyword: "no", Confidence: 0.5},
	}
	for _, r := range recs {
		if err := sink.Append(context.Background(), r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	want := `{"keyword":"yes","confidence":"0.912","timestamp":"2024-03-09 14:05:07"}`
	if lines[0] != want {
		t.Errorf("line 0 = %s, want %s", lines[0], want)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadAll returned %d records, want 2", len(got))
	}
	if got[0].Keyword != "yes" || got[0].Confidence != 0.912 || !got[0].Timestamp.Equal(ts) {
		t.Errorf("record 0 = %+v", got[0])
	}
	if got[1].Keyword != "no" || got[1].Confidence != 0.5 {
		t.Errorf("record 1 = %+v", got[1])
	}
}

func TestFileSink_AppendsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "log.jsonl")
	for i := 0; i < 2; i++ {
		sink, err := OpenFile(path)
		if err != nil {
			t.Fatalf("OpenFile: %v", err)
		}
		if err := sink.Append(context.Background(), kws.PredictionRecord{Timestamp: time.Now(), Keyword: "go", Confidence: 0.7}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		sink.Close()
	}
	got, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("got %d records, want 2", len(got))
	}
}

func TestFileSink_AppendAfterClose(t *testing.T) {
	t.Parallel()

	sink, err := OpenFile(filepath.Join(t.TempDir(), "log.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	sink.Close()
	err = sink.Append(context.Background(), kws.PredictionRecord{Keyword: "x"})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close = %v, want ErrClosed", err)
	}
}

func TestReadAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		name    string
		content *string
		want    int
		wantErr bool
	}{
		{name: "missing file", content: nil, want: 0},
		{name: "blank lines skipped", content: ptr("\n{\"keyword\":\"a\",\"confidence\":\"0.100\",\"timestamp\":\"2024-01-01 00:00:00\"}\n\n"), want: 1},
		{name: "bad json", content: ptr("{not json}\n"), wantErr: true},
		{name: "bad confidence", content: ptr(`{"keyword":"a","confidence":"high","timestamp":"2024-01-01 00:00:00"}` + "\n"), wantErr: true},
		{name: "bad timestamp", content: ptr(`{"keyword":"a","confidence":"0.5","timestamp":"yesterday"}` + "\n"), wantErr: true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "case"+string(rune('a'+i)))
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			got, err := ReadAll(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadAll err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("got %d records, want %d", len(got), tt.want)
			}
		})
	}
}

func ptr(s string) *string { return &s }
