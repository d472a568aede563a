package kws

import "math"

// Source is a blocking PCM16 mono audio source. Read blocks until at least one
// sample is available and may return fewer samples than len(dst). A Source is
// opened once per capture session and used only from the capture goroutine.
type Source interface {
	// Open acquires the device. It returns ErrPermissionDenied when capture
	// is not permitted; any other error is treated as a device failure.
	Open() error
	Read(dst []int16) (int, error)
	Close() error
}

// droppedCounter is implemented by sources that discard audio when the
// consumer falls behind. Dropped is cumulative and safe for concurrent use.
type droppedCounter interface {
	Dropped() int64
}

// pcmScale is the largest positive PCM16 magnitude.
const pcmScale = math.MaxInt16

// pcmToFloat converts a PCM16 sample to [-1, 1].
func pcmToFloat(s int16) float64 {
	v := float64(s) / pcmScale
	if v < -1 {
		return -1
	}
	return v
}

// floatToPCM converts a sample in [-1, 1] to PCM16, clamping out-of-range values.
func floatToPCM(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * pcmScale))
}
