package kws

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEngine runs a keyword classifier through onnxruntime. Input and output
// tensors are allocated once and reused for every Predict. Call InitRuntime
// before NewONNXEngine. Predict is not safe for concurrent use.
type ONNXEngine struct {
	labels    []string
	numCoeffs int
	numFrames int
	layout    Layout
	softmax   bool

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	probs   []float64
}

var _ InferenceEngine = (*ONNXEngine)(nil)

// NewONNXEngine loads cfg.Model.Path with the given vocabulary. The model
// input must hold NumCoefficients*NumFrames float32 values and its output one
// value per label.
func NewONNXEngine(cfg Config, labels []string) (*ONNXEngine, error) {
	if cfg.Model.Path == "" {
		return nil, fmt.Errorf("config: model.path is required: %w", ErrEngineNotLoaded)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("kws: empty label vocabulary: %w", ErrEngineNotLoaded)
	}
	numCoeffs, numFrames := cfg.NumCoefficients, cfg.NumFrames()
	dims := cfg.Model.InputShape
	if len(dims) == 0 {
		dims = []int64{1, int64(numCoeffs), int64(numFrames)}
	}
	inputShape := ort.NewShape(dims...)
	if got, want := inputShape.FlattenedSize(), int64(numCoeffs*numFrames); got != want {
		return nil, fmt.Errorf("kws: model input shape %v holds %d values, features have %d: %w", dims, got, want, ErrShapeMismatch)
	}
	layout := cfg.Model.Layout
	if layout == "" {
		layout = LayoutCoefficientMajor
	}
	inputName, outputName := cfg.Model.InputName, cfg.Model.OutputName
	if inputName == "" {
		inputName = "input"
	}
	if outputName == "" {
		outputName = "output"
	}

	inputTensor, err := ort.NewTensor(inputShape, make([]float32, inputShape.FlattenedSize()))
	if err != nil {
		return nil, err
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(labels))))
	if err != nil {
		_ = inputTensor.Destroy()
		return nil, err
	}
	sess, err := ort.NewAdvancedSession(cfg.Model.Path,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil)
	if err != nil {
		_ = inputTensor.Destroy()
		_ = outputTensor.Destroy()
		return nil, fmt.Errorf("kws: load model %q: %w", cfg.Model.Path, err)
	}
	return &ONNXEngine{
		labels:    append([]string(nil), labels...),
		numCoeffs: numCoeffs,
		numFrames: numFrames,
		layout:    layout,
		softmax:   cfg.Model.Softmax,
		session:   sess,
		input:     inputTensor,
		output:    outputTensor,
		probs:     make([]float64, len(labels)),
	}, nil
}

// Labels returns the vocabulary in output order.
func (e *ONNXEngine) Labels() []string {
	return e.labels
}

// Predict copies features into the input tensor, runs the session and returns
// one Result per label. The returned slice is freshly allocated.
func (e *ONNXEngine) Predict(features FeatureMatrix) ([]Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, ErrEngineNotLoaded
	}
	if features.NumCoefficients() != e.numCoeffs || features.NumFrames() != e.numFrames {
		return nil, fmt.Errorf("kws: features %dx%d, model wants %dx%d: %w",
			features.NumCoefficients(), features.NumFrames(), e.numCoeffs, e.numFrames, ErrShapeMismatch)
	}
	if _, err := features.Flatten(e.input.GetData(), e.layout); err != nil {
		return nil, err
	}
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("kws: onnx run: %w", err)
	}
	out := e.output.GetData()
	if len(out) != len(e.labels) {
		return nil, fmt.Errorf("kws: model produced %d outputs for %d labels: %w", len(out), len(e.labels), ErrShapeMismatch)
	}
	for i, v := range out {
		e.probs[i] = float64(v)
	}
	if e.softmax {
		softmax(e.probs)
	}
	results := make([]Result, len(e.labels))
	for i, l := range e.labels {
		results[i] = Result{Label: l, Confidence: e.probs[i]}
	}
	return results, nil
}

// Close releases the session and tensors. Predict returns ErrEngineNotLoaded afterwards.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	_ = e.input.Destroy()
	_ = e.output.Destroy()
	e.session = nil
	return err
}
