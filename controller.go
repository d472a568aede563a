package kws

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// StartStatus is the outcome of Controller.Start. Any status other than
// StartOK leaves the controller stopped.
type StartStatus int

const (
	StartOK StartStatus = iota
	StartAlreadyCapturing
	StartPermissionDenied
	StartDeviceError
)

func (s StartStatus) String() string {
	switch s {
	case StartOK:
		return "ok"
	case StartAlreadyCapturing:
		return "already capturing"
	case StartPermissionDenied:
		return "permission denied"
	case StartDeviceError:
		return "device error"
	default:
		return "unknown"
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default is logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMeterProvider sets the OTel meter provider. The default is the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Controller) {
		if mp != nil {
			c.meterProvider = mp
		}
	}
}

// WithPredictionSink appends every accepted prediction to sink.
func WithPredictionSink(sink PredictionSink) Option {
	return func(c *Controller) {
		c.sink = sink
	}
}

// WithReadChunk sets how many samples are requested per Source.Read. The
// default is 100 ms of audio.
func WithReadChunk(samples int) Option {
	return func(c *Controller) {
		if samples > 0 {
			c.readChunk = samples
		}
	}
}

// WithClock overrides the timestamp source for prediction records.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller owns one audio source, one classifier and the capture loop that
// ties them together. Lifecycle methods are safe for concurrent use;
// everything else runs on the capture goroutine. There is no pause state:
// SetForeground only toggles the OnBestLabel notification path.
type Controller struct {
	source Source
	engine InferenceEngine
	cb     Callbacks

	log           logrus.FieldLogger
	meterProvider metric.MeterProvider
	metrics       *pipelineMetrics
	sink          PredictionSink
	readChunk     int
	now           func() time.Time

	mu          sync.Mutex
	cfg         Config
	energy      float64
	probability float64
	stages      *pipelineStages
	sess        *captureSession

	running    atomic.Bool
	foreground atomic.Bool
}

// pipelineStages are built once per configuration and reset on every Start.
type pipelineStages struct {
	ring      *ringWindow
	vad       *energyVAD
	extractor *mfccExtractor
}

// captureSession is the state of one Start..stop cycle. All fields except
// done and err are touched only by the capture goroutine; err is written
// before done is closed.
type captureSession struct {
	*pipelineStages
	windows        int
	droppedAtStart int64

	done chan struct{}
	err  error
}

func (s *captureSession) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// New validates cfg and returns a stopped controller. The engine must already
// be loaded; its vocabulary may not be empty.
func New(cfg Config, source Source, engine InferenceEngine, cb Callbacks, opts ...Option) (*Controller, error) {
	if source == nil {
		return nil, errors.New("kws: nil audio source")
	}
	if engine == nil {
		return nil, fmt.Errorf("kws: nil inference engine: %w", ErrEngineNotLoaded)
	}
	if len(engine.Labels()) == 0 {
		return nil, fmt.Errorf("kws: inference engine has no labels: %w", ErrEngineNotLoaded)
	}
	c := &Controller{
		source:        source,
		engine:        engine,
		cb:            cb,
		log:           logrus.StandardLogger(),
		meterProvider: otel.GetMeterProvider(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.setConfig(cfg); err != nil {
		return nil, err
	}
	m, err := newPipelineMetrics(c.meterProvider, source)
	if err != nil {
		return nil, fmt.Errorf("kws: create metrics: %w", err)
	}
	c.metrics = m
	c.foreground.Store(true)
	return c, nil
}

func (c *Controller) setConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	energy, prob, err := cfg.Thresholds()
	if err != nil {
		return err
	}
	readChunk := c.readChunk
	if readChunk <= 0 {
		readChunk = cfg.SampleRate / 10
	}
	c.cfg, c.energy, c.probability = cfg, energy, prob
	c.stages = &pipelineStages{
		ring:      newRingWindow(cfg.WindowLength, cfg.HopSize, readChunk),
		vad:       newEnergyVAD(cfg.SampleRate, energy),
		extractor: newMFCCExtractor(cfg.SampleRate, cfg.FFTSize, cfg.FeatureHop, cfg.NumMelFilters, cfg.NumCoefficients),
	}
	return nil
}

// Config returns the active configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Reconfigure replaces the configuration. It fails with ErrCapturing while a
// capture session is running.
func (c *Controller) Reconfigure(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil && c.sess.alive() {
		return ErrCapturing
	}
	return c.setConfig(cfg)
}

// Start opens the source and launches the capture loop. Permission and device
// failures are not errors: they leave the controller stopped and are reported
// through the returned status only.
func (c *Controller) Start() StartStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil && c.sess.alive() {
		return StartAlreadyCapturing
	}
	if err := c.source.Open(); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			c.log.Warn("microphone permission not granted; capture not started")
			return StartPermissionDenied
		}
		c.log.WithError(err).Error("audio source failed to initialise; capture not started")
		return StartDeviceError
	}

	cfg := c.cfg
	c.stages.ring.reset()
	c.stages.vad.reset()
	sess := &captureSession{pipelineStages: c.stages, done: make(chan struct{})}
	if dc, ok := c.source.(droppedCounter); ok {
		sess.droppedAtStart = dc.Dropped()
	}
	c.sess = sess
	c.running.Store(true)
	c.log.WithFields(logrus.Fields{
		"sample_rate":           cfg.SampleRate,
		"window":                cfg.WindowLength,
		"hop":                   cfg.HopSize,
		"energy_threshold":      c.energy,
		"probability_threshold": c.probability,
		"top_k":                 cfg.TopK,
	}).Info("capture starting")
	go c.run(sess, c.probability, cfg.TopK)
	return StartOK
}

// Stop asks the capture loop to exit at its next iteration boundary, waits
// for it and returns its terminal error (nil after a clean stop). It must not
// be called from a callback, since callbacks run on the loop it waits for.
func (c *Controller) Stop() error {
	c.running.Store(false)
	return c.Wait()
}

// Wait blocks until the current capture loop exits and returns its terminal
// error. It returns nil immediately when nothing was started.
func (c *Controller) Wait() error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	<-sess.done
	return sess.err
}

// IsCapturing reports whether a capture loop is running.
func (c *Controller) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.sess.alive()
}

// SetForeground toggles the OnBestLabel notification path. Capture is not affected.
func (c *Controller) SetForeground(fg bool) {
	c.foreground.Store(fg)
}

func (c *Controller) run(sess *captureSession, threshold float64, topK int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var err error
	defer func() {
		if cerr := c.source.Close(); cerr != nil {
			c.log.WithError(cerr).Warn("closing audio source")
		}
		if dc, ok := c.source.(droppedCounter); ok {
			if n := dc.Dropped(); n > sess.droppedAtStart {
				c.log.WithField("chunks", n-sess.droppedAtStart).Warn("audio dropped; capture fell behind the source")
			}
		}
		c.running.Store(false)
		sess.err = err
		if err != nil {
			c.log.WithError(err).Error("capture stopped")
		} else {
			c.log.WithField("windows", sess.windows).Info("capture stopped")
		}
		if c.cb.OnCaptureStopped != nil {
			c.cb.OnCaptureStopped(err)
		}
		close(sess.done)
	}()

	if c.cb.OnCaptureStarted != nil {
		c.cb.OnCaptureStarted()
	}
	ctx := context.Background()
	for c.running.Load() {
		if ferr := sess.ring.fill(c.source, c.running.Load); ferr != nil {
			if !errors.Is(ferr, errFillStopped) {
				err = ferr
			}
			return
		}
		if werr := c.processWindow(ctx, sess, threshold, topK); werr != nil {
			if IsFatal(werr) {
				err = werr
				if c.cb.OnError != nil {
					c.cb.OnError(werr)
				}
				return
			}
			c.metrics.captureErrors.Add(ctx, 1)
			c.log.WithError(werr).WithField("window", sess.windows).Warn("window skipped")
		}
		sess.ring.slide()
		sess.windows++
	}
}

// processWindow gates one full window and, on speech, classifies it. Panics
// are turned into errors so a bad window cannot take down the loop.
func (c *Controller) processWindow(ctx context.Context, sess *captureSession, threshold float64, topK int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kws: window %d: panic: %v", sess.windows, r)
		}
	}()

	window := sess.ring.window()
	wasInSpeech := sess.vad.inSpeech
	decision := sess.vad.evaluate(window)
	c.metrics.recordWindow(ctx, decision.String())

	switch decision {
	case vadSkipped:
		c.log.WithField("window", sess.windows).Debug("skipped by precheck")
		return nil
	case vadSilence:
		return nil
	case vadSpeechEnd:
		if c.cb.OnSpeechEnd != nil {
			c.cb.OnSpeechEnd()
		}
		return nil
	}

	if !wasInSpeech && c.cb.OnSpeechStart != nil {
		c.cb.OnSpeechStart()
	}
	return c.classify(ctx, sess, window, threshold, topK)
}

func (c *Controller) classify(ctx context.Context, sess *captureSession, window []float64, threshold float64, topK int) error {
	start := time.Now()
	features, err := sess.extractor.extract(window)
	c.metrics.featureLatency.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("kws: extract features: %w", err)
	}

	start = time.Now()
	results, err := c.engine.Predict(features)
	c.metrics.inferenceLatency.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("kws: predict: %w", err)
	}
	if n := len(c.engine.Labels()); len(results) != n {
		return fmt.Errorf("kws: engine returned %d results for %d labels: %w", len(results), n, ErrShapeMismatch)
	}

	ranked, best, ok := rankResults(results, topK)
	if !ok {
		return nil
	}
	c.log.WithFields(logrus.Fields{
		"window":     sess.windows,
		"label":      best.Label,
		"confidence": best.Confidence,
	}).Debug("best result")
	if !accepted(best, threshold) {
		return nil
	}
	c.emit(ctx, ranked, best)
	return nil
}

func (c *Controller) emit(ctx context.Context, ranked []Result, best Result) {
	c.log.WithFields(logrus.Fields{
		"label":      best.Label,
		"confidence": best.Confidence,
	}).Info("keyword accepted")
	c.metrics.recordAccepted(ctx, best.Label)

	if c.sink != nil {
		rec := PredictionRecord{Timestamp: c.now(), Keyword: best.Label, Confidence: best.Confidence}
		if err := c.sink.Append(ctx, rec); err != nil {
			c.log.WithError(err).Warn("prediction log append failed")
		}
	}
	if c.cb.OnResults != nil {
		c.cb.OnResults(ranked)
	}
	if c.foreground.Load() && c.cb.OnBestLabel != nil {
		c.cb.OnBestLabel(best.Label, best.Confidence)
	}
}
