package kws

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gen2brain/malgo"
	"github.com/youpy/go-wav"
)

func TestDecodePCM16(t *testing.T) {
	t.Parallel()

	le := func(vals ...int16) []byte {
		b := make([]byte, 2*len(vals))
		for i, v := range vals {
			binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
		}
		return b
	}

	tests := []struct {
		name     string
		b        []byte
		frames   int
		channels int
		want     []int16
	}{
		{"mono", le(1, -2, 300), 3, 1, []int16{1, -2, 300}},
		{"stereo averaged", le(100, 300, -10, 10, 32767, 32767), 3, 2, []int16{200, 0, 32767}},
		{"truncated buffer", le(5, 6), 4, 1, []int16{5, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodePCM16(tt.b, tt.frames, tt.channels)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func readAll(t *testing.T, src Source) []int16 {
	t.Helper()
	var out []int16
	buf := make([]int16, 1000)
	for {
		n, err := src.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
}

func absDiff(a, b int16) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}

func TestMicSource_PushDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	m := NewMicSource(DefaultConfig())
	chunks := make(chan []int16, 1)
	m.chunks = chunks

	m.push(chunks, []int16{1, 2})
	m.push(chunks, []int16{3})
	m.push(chunks, []int16{4})
	if got := m.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}

	buf := make([]int16, 4)
	n, err := m.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 2 || buf[0] != 1 || buf[1] != 2 {
		t.Errorf("Read = %v, want the first queued chunk [1 2]", buf[:n])
	}

	m.push(chunks, []int16{5})
	if got := m.Dropped(); got != 2 {
		t.Errorf("Dropped after drain = %d, want 2", got)
	}
}

func TestMapDeviceError(t *testing.T) {
	t.Parallel()

	if err := mapDeviceError(malgo.ErrAccessDenied); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("access denied: got %v, want ErrPermissionDenied", err)
	}
	if err := mapDeviceError(malgo.ErrDoesNotExist); errors.Is(err, ErrPermissionDenied) {
		t.Errorf("missing device mapped to permission denied: %v", err)
	}
}

func TestWAVSource_RoundTrip(t *testing.T) {
	t.Parallel()

	samples := make([]int16, 5000)
	for i := range samples {
		samples[i] = floatToPCM(0.5 * float64(i%100-50) / 50)
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteWAV(f, samples, 16000); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	f.Close()

	src := NewWAVSource(path, DefaultConfig(), false)
	if _, err := src.Read(make([]int16, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Read before Open = %v, want ErrClosed", err)
	}
	if err := src.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := readAll(t, src)
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(got) != len(samples) {
		t.Fatalf("read %d samples, want %d", len(got), len(samples))
	}
	for i := range got {
		if absDiff(got[i], samples[i]) > 1 {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestWAVSource_StereoDownmix(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	const n = 300
	frames := make([]wav.Sample, n)
	for i := range frames {
		frames[i] = wav.Sample{Values: [2]int{1000, 3000}}
	}
	if err := wav.NewWriter(f, n, 2, 16000, 16).WriteSamples(frames); err != nil {
		t.Fatal(err)
	}
	f.Close()

	src := NewWAVSource(path, DefaultConfig(), false)
	if err := src.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()
	got := readAll(t, src)
	if len(got) != n {
		t.Fatalf("read %d frames, want %d", len(got), n)
	}
	for i, v := range got {
		if absDiff(v, 2000) > 1 {
			t.Fatalf("frame %d = %d, want ~2000", i, v)
		}
	}
}

func TestWAVSource_RateMismatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "8k.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteWAV(f, make([]int16, 100), 8000); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := NewWAVSource(path, DefaultConfig(), false).Open(); err == nil {
		t.Error("8 kHz file accepted by a 16 kHz pipeline")
	}
	if err := NewWAVSource(filepath.Join(t.TempDir(), "missing.wav"), DefaultConfig(), false).Open(); err == nil {
		t.Error("missing file opened")
	}
}
