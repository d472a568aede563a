package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	kws "github.com/cortexswarm/kws-go"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(newApp())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("version output = %q, want %q", out, version)
	}
}

func TestPresetsCmd(t *testing.T) {
	out, err := execute(t, "presets")
	if err != nil {
		t.Fatalf("presets: %v", err)
	}
	for _, want := range []string{"quiet", "0.01", "normal", "0.10", "noisy", "0.20", "custom"} {
		if !strings.Contains(out, want) {
			t.Errorf("presets output missing %q:\n%s", want, out)
		}
	}
}

func TestLabelsCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	if err := os.WriteFile(path, []byte("yes\nno\n\nstop\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "labels", path)
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasSuffix(lines[2], "stop") {
		t.Errorf("labels output = %q", out)
	}

	if _, err := execute(t, "labels"); err == nil {
		t.Error("labels without a file should fail")
	}
}

func TestLogFlagsValidated(t *testing.T) {
	if _, err := execute(t, "--log-level", "loud", "presets"); err == nil {
		t.Error("unknown log level accepted")
	}
	if _, err := execute(t, "--log-format", "xml", "presets"); err == nil {
		t.Error("unknown log format accepted")
	}
}

// resolveConfig runs "replay" with args but only resolves the pipeline
// configuration.
func resolveConfig(t *testing.T, args ...string) (kws.Config, error) {
	t.Helper()
	a := newApp()
	a.log.SetOutput(io.Discard)
	root := newRootCmd(a)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	var got kws.Config
	replay, _, err := root.Find([]string{"replay"})
	if err != nil {
		t.Fatal(err)
	}
	replay.RunE = func(*cobra.Command, []string) error {
		var err error
		got, err = a.pipelineConfig()
		return err
	}
	root.SetArgs(append([]string{"replay"}, append(args, "unused.wav")...))
	err = root.Execute()
	return got, err
}

func TestPipelineConfig_Defaults(t *testing.T) {
	cfg, err := resolveConfig(t)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Sensitivity != kws.SensitivityNormal || cfg.HopSize != 8000 || cfg.TopK != 3 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestPipelineConfig_FlagOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "kws.yaml")
	yaml := "sensitivity: noisy\ntop_k: 2\nmodel:\n  path: from-file.onnx\n  labels_path: labels.txt\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := resolveConfig(t, "--config", cfgPath, "--model", "flag.onnx", "--sensitivity", "QUIET", "--hop-size", "4000")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Model.Path != "flag.onnx" {
		t.Errorf("model path = %q, want flag.onnx", cfg.Model.Path)
	}
	if cfg.Model.LabelsPath != "labels.txt" {
		t.Errorf("labels path = %q, want labels.txt from file", cfg.Model.LabelsPath)
	}
	if cfg.Sensitivity != kws.SensitivityQuiet {
		t.Errorf("sensitivity = %q, want quiet", cfg.Sensitivity)
	}
	if cfg.TopK != 2 || cfg.HopSize != 4000 {
		t.Errorf("top_k = %d hop = %d, want 2 and 4000", cfg.TopK, cfg.HopSize)
	}
}

func TestPipelineConfig_EnvOverride(t *testing.T) {
	t.Setenv("KWS_TOP_K", "5")
	cfg, err := resolveConfig(t)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.TopK != 5 {
		t.Errorf("TopK = %d, want 5 from KWS_TOP_K", cfg.TopK)
	}
}

func TestPipelineConfig_PartialThresholdPairRejected(t *testing.T) {
	if _, err := resolveConfig(t, "--energy-threshold", "0.05"); err == nil {
		t.Error("energy threshold without probability threshold accepted")
	}
}

type recordingSink struct {
	recs []kws.PredictionRecord
	err  error
}

func (s *recordingSink) Append(_ context.Context, rec kws.PredictionRecord) error {
	s.recs = append(s.recs, rec)
	return s.err
}

func TestMultiSink(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("disk full")}
	m := multiSink{bad, ok}

	err := m.Append(context.Background(), kws.PredictionRecord{Keyword: "yes"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Append err = %v, want disk full", err)
	}
	if len(ok.recs) != 1 || len(bad.recs) != 1 {
		t.Errorf("every sink must see the record: ok=%d bad=%d", len(ok.recs), len(bad.recs))
	}
}

// sliceSource serves a fixed slice in reads of at most chunk samples.
type sliceSource struct {
	data   []int16
	chunk  int
	opened bool
	closed bool
}

func (s *sliceSource) Open() error {
	s.opened = true
	return nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func (s *sliceSource) Read(dst []int16) (int, error) {
	if len(s.data) == 0 {
		return 0, io.EOF
	}
	n := copy(dst[:min(len(dst), s.chunk)], s.data)
	s.data = s.data[n:]
	return n, nil
}

func TestRecordMic(t *testing.T) {
	data := make([]int16, 5000)
	for i := range data {
		data[i] = int16(i)
	}
	src := &sliceSource{data: data, chunk: 700}
	got, err := recordMic(context.Background(), src, 3000)
	if err != nil {
		t.Fatalf("recordMic: %v", err)
	}
	if len(got) != 3000 || got[2999] != 2999 {
		t.Errorf("got %d samples, last %d", len(got), got[len(got)-1])
	}
	if !src.opened || !src.closed {
		t.Error("source not opened and closed")
	}

	short := &sliceSource{data: data[:100], chunk: 700}
	got, err = recordMic(context.Background(), short, 3000)
	if !errors.Is(err, io.EOF) || len(got) != 100 {
		t.Errorf("short source: %d samples, err %v", len(got), err)
	}
}
