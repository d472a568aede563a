package kws

// Sensitivity names a coupled (energy, probability) threshold pair.
type Sensitivity string

const (
	SensitivityQuiet  Sensitivity = "quiet"  // picks up low-volume speech, accepts low confidence
	SensitivityNormal Sensitivity = "normal"
	SensitivityNoisy  Sensitivity = "noisy" // loud input only, high confidence only
	SensitivityCustom Sensitivity = "custom"
)

type thresholdPair struct {
	energy      float64
	probability float64
}

var presets = map[Sensitivity]thresholdPair{
	SensitivityQuiet:  {energy: 0.01, probability: 0.05},
	SensitivityNormal: {energy: 0.03, probability: 0.10},
	SensitivityNoisy:  {energy: 0.06, probability: 0.20},
}

// IsValid reports whether s is a recognised sensitivity.
func (s Sensitivity) IsValid() bool {
	if s == SensitivityCustom {
		return true
	}
	_, ok := presets[s]
	return ok
}

// PresetThresholds returns the thresholds bound to a named preset. ok is false
// for custom and unknown values.
func PresetThresholds(s Sensitivity) (energy, probability float64, ok bool) {
	p, ok := presets[s]
	return p.energy, p.probability, ok
}
