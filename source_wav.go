package kws

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/youpy/go-wav"
)

const wavReadSamples = 2048

// WAVSource replays a WAV file as PCM16 mono. Stereo files are averaged.
// When Realtime is set, Read paces delivery to the file's sample rate, which
// makes a replay behave like a live microphone. Read returns io.EOF at the
// end of the file.
type WAVSource struct {
	Path string
	// SampleRate, when non-zero, must match the file's rate.
	SampleRate int
	Realtime   bool

	f        *os.File
	r        *wav.Reader
	channels int
	rate     int
	pending  []int16

	started   time.Time
	delivered int
}

var _ Source = (*WAVSource)(nil)

// NewWAVSource returns an unopened source for path expecting cfg.SampleRate.
func NewWAVSource(path string, cfg Config, realtime bool) *WAVSource {
	return &WAVSource{Path: path, SampleRate: cfg.SampleRate, Realtime: realtime}
}

// Open opens the file and checks its format.
func (s *WAVSource) Open() error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("kws: open wav: %w", err)
	}
	r := wav.NewReader(f)
	format, err := r.Format()
	if err != nil {
		f.Close()
		return fmt.Errorf("kws: wav format: %w", err)
	}
	channels := int(format.NumChannels)
	if channels < 1 || channels > 2 {
		f.Close()
		return fmt.Errorf("kws: wav: only mono or stereo supported, got %d channels", channels)
	}
	rate := int(format.SampleRate)
	if s.SampleRate != 0 && rate != s.SampleRate {
		f.Close()
		return fmt.Errorf("kws: wav is %d Hz, pipeline expects %d Hz", rate, s.SampleRate)
	}
	s.f, s.r, s.channels, s.rate = f, r, channels, rate
	s.pending = nil
	s.started = time.Now()
	s.delivered = 0
	return nil
}

// Read copies up to len(dst) samples.
func (s *WAVSource) Read(dst []int16) (int, error) {
	if s.r == nil {
		return 0, ErrClosed
	}
	if len(s.pending) == 0 {
		samples, err := s.r.ReadSamples(wavReadSamples)
		if errors.Is(err, io.EOF) || (err == nil && len(samples) == 0) {
			return 0, io.EOF
		}
		if err != nil {
			return 0, fmt.Errorf("kws: reading wav samples: %w", err)
		}
		buf := make([]int16, len(samples))
		for i, smp := range samples {
			v := s.r.FloatValue(smp, 0)
			if s.channels == 2 {
				v = (v + s.r.FloatValue(smp, 1)) / 2
			}
			buf[i] = floatToPCM(v)
		}
		s.pending = buf
	}
	n := copy(dst, s.pending)
	s.pending = s.pending[n:]
	s.delivered += n
	if s.Realtime && s.rate > 0 {
		due := s.started.Add(time.Duration(s.delivered) * time.Second / time.Duration(s.rate))
		if wait := time.Until(due); wait > 0 {
			time.Sleep(wait)
		}
	}
	return n, nil
}

// Close closes the file.
func (s *WAVSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f, s.r = nil, nil
	return err
}

// WriteWAV writes mono PCM16 samples as a 16-bit WAV file.
func WriteWAV(w io.Writer, samples []int16, sampleRate int) error {
	out := make([]wav.Sample, len(samples))
	for i, v := range samples {
		out[i] = wav.Sample{Values: [2]int{int(v), 0}}
	}
	writer := wav.NewWriter(w, uint32(len(out)), 1, uint32(sampleRate), 16)
	return writer.WriteSamples(out)
}
