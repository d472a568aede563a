package kws

import (
	"errors"
	"fmt"
)

// maxIdleReads bounds consecutive empty or invalid reads before a fill gives up.
const maxIdleReads = 256

// errFillStopped is returned by fill when the running check fails mid-window.
var errFillStopped = errors.New("kws: fill interrupted by stop")

// ringWindow is the sliding analysis window. It always exposes exactly
// windowLength samples once full; each slide keeps the newest
// windowLength-hop samples and frees hop slots at the tail. Not safe for
// concurrent use; owned by the capture goroutine.
type ringWindow struct {
	buf    []float64
	hop    int
	filled int

	pcm []int16 // read scratch, reused across fills
}

func newRingWindow(windowLength, hop, readChunk int) *ringWindow {
	if readChunk <= 0 || readChunk > windowLength {
		readChunk = windowLength
	}
	return &ringWindow{
		buf: make([]float64, windowLength),
		hop: hop,
		pcm: make([]int16, readChunk),
	}
}

// need returns how many samples are missing before the window is full.
func (r *ringWindow) need() int {
	return len(r.buf) - r.filled
}

func (r *ringWindow) full() bool {
	return r.filled == len(r.buf)
}

// append copies samples into the unfilled tail and returns how many were
// consumed. Samples beyond the window capacity are not consumed.
func (r *ringWindow) append(samples []float64) int {
	n := copy(r.buf[r.filled:], samples)
	r.filled += n
	return n
}

// appendPCM converts and appends PCM16 samples; same contract as append.
func (r *ringWindow) appendPCM(samples []int16) int {
	n := min(len(samples), r.need())
	dst := r.buf[r.filled : r.filled+n]
	for i := range dst {
		dst[i] = pcmToFloat(samples[i])
	}
	r.filled += n
	return n
}

// window returns the current full window. The slice aliases internal storage
// and is only valid until the next slide; callers must not modify it.
func (r *ringWindow) window() []float64 {
	if !r.full() {
		return nil
	}
	return r.buf
}

// slide drops the oldest hop samples. After the first cycle only hop fresh
// samples are needed to complete the next window.
func (r *ringWindow) slide() {
	if r.filled < r.hop {
		r.filled = 0
		return
	}
	keep := r.filled - r.hop
	copy(r.buf, r.buf[r.hop:r.filled])
	r.filled = keep
}

func (r *ringWindow) reset() {
	r.filled = 0
}

// fill reads from src until the window is full. Short reads and
// ErrInvalidRead are retried; running is polled between reads so a stop is
// observed without waiting for a whole window. Other read errors are terminal.
func (r *ringWindow) fill(src Source, running func() bool) error {
	idle := 0
	for !r.full() {
		if running != nil && !running() {
			return errFillStopped
		}
		want := min(r.need(), len(r.pcm))
		n, err := src.Read(r.pcm[:want])
		if n > 0 {
			r.appendPCM(r.pcm[:n])
			idle = 0
		}
		switch {
		case err == nil && n > 0:
			continue
		case err == nil, errors.Is(err, ErrInvalidRead):
			idle++
			if idle >= maxIdleReads {
				return fmt.Errorf("kws: %d consecutive empty reads: %w", idle, ErrSourceStalled)
			}
		default:
			return fmt.Errorf("kws: audio source read: %w", err)
		}
	}
	return nil
}
