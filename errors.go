package kws

import "errors"

var (
	// ErrPermissionDenied is returned by Source.Open when the host has not
	// granted microphone access. Start reports it as StartPermissionDenied.
	ErrPermissionDenied = errors.New("kws: microphone permission denied")

	// ErrInvalidRead marks a transient read failure. The fill loop retries it.
	ErrInvalidRead = errors.New("kws: invalid read from audio source")

	// ErrSourceStalled is returned when a source keeps returning empty reads.
	ErrSourceStalled = errors.New("kws: audio source stalled")

	// ErrShapeMismatch means the feature matrix does not match the model's input tensor.
	ErrShapeMismatch = errors.New("kws: feature shape does not match model input")

	// ErrEngineNotLoaded means Predict was called on an engine without a live session.
	ErrEngineNotLoaded = errors.New("kws: inference engine not loaded")

	// ErrCapturing is returned by Reconfigure while a capture session is running.
	ErrCapturing = errors.New("kws: capture in progress")

	// ErrClosed is returned by Source.Read on a source that is not open.
	ErrClosed = errors.New("kws: source closed")
)

// IsFatal reports whether err indicates a setup defect that must stop capture
// rather than skip a window.
func IsFatal(err error) bool {
	return errors.Is(err, ErrShapeMismatch) || errors.Is(err, ErrEngineNotLoaded)
}
