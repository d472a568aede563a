package kws

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// defaultMicQueue is the number of device periods buffered between the
// miniaudio callback and Read; older audio is dropped when it fills.
const defaultMicQueue = 64

// MicSource captures PCM16 from the default input device through miniaudio.
// The device callback pushes chunks into a bounded queue and drops them when
// the reader falls behind; Read blocks on that queue. Stereo input is
// averaged to mono.
type MicSource struct {
	sampleRate int
	channels   int
	queueDepth int

	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	chunks  chan []int16
	pending []int16

	dropped atomic.Int64
}

var _ Source = (*MicSource)(nil)

// NewMicSource returns an unopened microphone source for cfg.SampleRate and cfg.Channels.
func NewMicSource(cfg Config) *MicSource {
	return &MicSource{
		sampleRate: cfg.SampleRate,
		channels:   max(1, cfg.Channels),
		queueDepth: defaultMicQueue,
	}
}

// Dropped returns the number of device chunks discarded because the queue was full.
func (m *MicSource) Dropped() int64 {
	return m.dropped.Load()
}

// Open initialises miniaudio and starts the capture device.
func (m *MicSource) Open() error {
	if m.device != nil {
		return errors.New("kws: microphone already open")
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("kws: malgo init: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.channels)
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	chunks := make(chan []int16, m.queueDepth)
	channels := m.channels
	onRecvFrames := func(_, pSample []byte, framecount uint32) {
		if framecount == 0 {
			return
		}
		m.push(chunks, decodePCM16(pSample, int(framecount), channels))
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("kws: init capture device: %w", mapDeviceError(err))
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("kws: start capture device: %w", mapDeviceError(err))
	}
	m.ctx, m.device, m.chunks, m.pending = ctx, device, chunks, nil
	return nil
}

// push queues one device chunk, dropping it when the reader has fallen behind.
// It never blocks the device callback.
func (m *MicSource) push(chunks chan<- []int16, chunk []int16) {
	select {
	case chunks <- chunk:
	default:
		m.dropped.Add(1)
	}
}

// Read blocks until the device delivers audio and copies up to len(dst)
// samples. It returns io.EOF once the source is closed.
func (m *MicSource) Read(dst []int16) (int, error) {
	if m.chunks == nil {
		return 0, ErrClosed
	}
	if len(m.pending) == 0 {
		chunk, ok := <-m.chunks
		if !ok {
			return 0, io.EOF
		}
		m.pending = chunk
	}
	n := copy(dst, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

// Close stops the device and releases miniaudio. The source can be reopened.
func (m *MicSource) Close() error {
	if m.device == nil {
		return nil
	}
	m.device.Uninit()
	err := m.ctx.Uninit()
	m.ctx.Free()
	close(m.chunks)
	m.ctx, m.device, m.chunks, m.pending = nil, nil, nil, nil
	return err
}

// mapDeviceError tags miniaudio's access-denied result with ErrPermissionDenied.
func mapDeviceError(err error) error {
	if errors.Is(err, malgo.ErrAccessDenied) {
		return errors.Join(err, ErrPermissionDenied)
	}
	return err
}

// decodePCM16 converts interleaved little-endian PCM16 frames to mono.
func decodePCM16(b []byte, frames, channels int) []int16 {
	out := make([]int16, frames)
	for i := range out {
		var sum int
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			if off+2 > len(b) {
				return out[:i]
			}
			sum += int(int16(binary.LittleEndian.Uint16(b[off:])))
		}
		out[i] = int16(sum / channels)
	}
	return out
}
