package kws

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSampleRate      = 16000
	DefaultNumCoefficients = 13
	DefaultTopK            = 3
	DefaultFFTSize         = 2048
	DefaultFeatureHop      = 512
	DefaultNumMelFilters   = 128
)

// Layout is the order in which a FeatureMatrix is flattened into a model input tensor.
type Layout string

const (
	// LayoutCoefficientMajor stores row j (coefficient j over all frames) contiguously.
	LayoutCoefficientMajor Layout = "coefficient_major"
	// LayoutFrameMajor stores each frame's coefficients contiguously, the order the
	// extractor produces them in.
	LayoutFrameMajor Layout = "frame_major"
)

// IsValid reports whether l is a recognised layout.
func (l Layout) IsValid() bool {
	return l == LayoutCoefficientMajor || l == LayoutFrameMajor
}

// Config holds the pipeline configuration for one capture session. It is
// immutable while capturing; use Controller.Reconfigure between sessions.
type Config struct {
	SampleRate   int `yaml:"sample_rate"`   // Hz, e.g. 16000
	Channels     int `yaml:"channels"`      // 1 or 2; sources downmix to mono
	WindowLength int `yaml:"window_length"` // samples per analysis window, usually one second
	HopSize      int `yaml:"hop_size"`      // fresh samples admitted per cycle, 0 < HopSize <= WindowLength

	// Sensitivity selects a preset threshold pair. EnergyThreshold and
	// ProbabilityThreshold, when both set, override the preset. Zero means
	// unset, so an explicit pair cannot contain 0; use a small positive value
	// such as 1e-9 to effectively disable a gate.
	Sensitivity          Sensitivity `yaml:"sensitivity"`
	EnergyThreshold      float64     `yaml:"energy_threshold"`
	ProbabilityThreshold float64     `yaml:"probability_threshold"`

	TopK            int `yaml:"top_k"`
	NumCoefficients int `yaml:"num_coefficients"`

	FFTSize       int `yaml:"fft_size"`
	FeatureHop    int `yaml:"feature_hop"`
	NumMelFilters int `yaml:"num_mel_filters"`

	Model ModelConfig `yaml:"model"`
}

// ModelConfig describes the ONNX classifier. Only NewONNXEngine reads it; a
// host-supplied InferenceEngine may leave it empty.
type ModelConfig struct {
	Path       string  `yaml:"path"`
	LabelsPath string  `yaml:"labels_path"`
	InputName  string  `yaml:"input_name"`
	OutputName string  `yaml:"output_name"`
	InputShape []int64 `yaml:"input_shape"` // empty means (1, NumCoefficients, NumFrames)
	Layout     Layout  `yaml:"layout"`
	Softmax    bool    `yaml:"softmax"` // apply softmax to raw logits
}

// DefaultConfig returns a 16 kHz mono configuration with one-second windows,
// half-second hops and the normal sensitivity preset.
func DefaultConfig() Config {
	return Config{
		SampleRate:      DefaultSampleRate,
		Channels:        1,
		WindowLength:    DefaultSampleRate,
		HopSize:         DefaultSampleRate / 2,
		Sensitivity:     SensitivityNormal,
		TopK:            DefaultTopK,
		NumCoefficients: DefaultNumCoefficients,
		FFTSize:         DefaultFFTSize,
		FeatureHop:      DefaultFeatureHop,
		NumMelFilters:   DefaultNumMelFilters,
		Model: ModelConfig{
			InputName:  "input",
			OutputName: "output",
			Layout:     LayoutCoefficientMajor,
		},
	}
}

// LoadConfig reads the YAML file at path on top of DefaultConfig and validates it.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadConfigFromReader(f)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigFromReader decodes YAML from r on top of DefaultConfig. Unknown
// keys are rejected.
func LoadConfigFromReader(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NumFrames returns the number of feature frames one window produces.
func (c Config) NumFrames() int {
	if c.FeatureHop <= 0 || c.FFTSize <= 0 {
		return 0
	}
	pad := c.FFTSize / 2
	return 1 + (c.WindowLength+2*pad-c.FFTSize)/c.FeatureHop
}

// Thresholds resolves the energy and probability thresholds from the
// sensitivity preset and any explicit override pair.
func (c Config) Thresholds() (energy, probability float64, err error) {
	explicitEnergy := c.EnergyThreshold != 0
	explicitProb := c.ProbabilityThreshold != 0
	if explicitEnergy != explicitProb {
		return 0, 0, errors.New("config: EnergyThreshold and ProbabilityThreshold must be set together")
	}
	if explicitEnergy {
		return c.EnergyThreshold, c.ProbabilityThreshold, nil
	}
	s := c.Sensitivity
	if s == "" {
		s = SensitivityNormal
	}
	if s == SensitivityCustom {
		return 0, 0, errors.New("config: custom sensitivity requires EnergyThreshold and ProbabilityThreshold")
	}
	p, ok := presets[s]
	if !ok {
		return 0, 0, fmt.Errorf("config: sensitivity %q is invalid; valid values: quiet, normal, noisy, custom", c.Sensitivity)
	}
	return p.energy, p.probability, nil
}

// Validate checks the pipeline fields of c. It returns a joined error listing
// every problem found.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate < 100 {
		errs = append(errs, errors.New("config: SampleRate must be >= 100"))
	}
	if c.Channels != 1 && c.Channels != 2 {
		errs = append(errs, errors.New("config: Channels must be 1 or 2"))
	}
	if c.WindowLength <= 0 {
		errs = append(errs, errors.New("config: WindowLength must be > 0"))
	}
	if c.HopSize <= 0 || c.HopSize > c.WindowLength {
		errs = append(errs, fmt.Errorf("config: HopSize %d must be in (0, WindowLength]", c.HopSize))
	}
	if c.TopK <= 0 {
		errs = append(errs, errors.New("config: TopK must be > 0"))
	}
	if c.FFTSize <= 0 {
		errs = append(errs, errors.New("config: FFTSize must be > 0"))
	} else if c.WindowLength <= c.FFTSize/2 {
		errs = append(errs, fmt.Errorf("config: WindowLength %d must exceed FFTSize/2 (%d)", c.WindowLength, c.FFTSize/2))
	}
	if c.FeatureHop <= 0 {
		errs = append(errs, errors.New("config: FeatureHop must be > 0"))
	}
	if c.NumMelFilters <= 0 {
		errs = append(errs, errors.New("config: NumMelFilters must be > 0"))
	}
	if c.NumCoefficients <= 0 || c.NumCoefficients > c.NumMelFilters {
		errs = append(errs, fmt.Errorf("config: NumCoefficients %d must be in [1, NumMelFilters]", c.NumCoefficients))
	}
	energy, prob, err := c.Thresholds()
	if err != nil {
		errs = append(errs, err)
	} else {
		if energy < 0 {
			errs = append(errs, errors.New("config: EnergyThreshold must be >= 0"))
		}
		if prob < 0 || prob > 1 {
			errs = append(errs, errors.New("config: ProbabilityThreshold must be in [0, 1]"))
		}
	}
	if c.Model.Layout != "" && !c.Model.Layout.IsValid() {
		errs = append(errs, fmt.Errorf("config: model.layout %q is invalid; valid values: coefficient_major, frame_major", c.Model.Layout))
	}
	return errors.Join(errs...)
}
