package kws

// Callbacks are invoked synchronously from the capture goroutine; re-dispatch
// to another goroutine is the caller's job. All fields are optional.
type Callbacks struct {
	OnCaptureStarted func()
	// OnCaptureStopped receives the terminal error, nil after a clean Stop.
	OnCaptureStopped func(err error)

	OnSpeechStart func()
	// OnSpeechEnd fires on the first non-speech window after speech.
	OnSpeechEnd func()

	// OnResults receives the top-K set of an accepted prediction. The slice is
	// not reused by the controller.
	OnResults func(results []Result)
	// OnBestLabel is the lightweight notification path; it only fires while the
	// controller is in the foreground.
	OnBestLabel func(label string, confidence float64)

	OnError func(err error)
}
