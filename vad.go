package kws

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	precheckFactor   = 0.6  // precheck passes at this fraction of the energy threshold
	speechFrameRatio = 0.15 // fraction of speech frames needed to call a window speech
	vadFrameMs       = 20
)

type vadDecision int

const (
	vadSkipped   vadDecision = iota // precheck failed; no state change
	vadSilence                      // no speech, not in an utterance
	vadSpeech                       // speech; run inference
	vadSpeechEnd                    // first non-speech window after speech
)

func (d vadDecision) String() string {
	switch d {
	case vadSkipped:
		return "skipped"
	case vadSilence:
		return "silence"
	case vadSpeech:
		return "speech"
	case vadSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// energyVAD is the two-stage gate: a whole-window RMS precheck followed by a
// frame-ratio energy test. It carries the inSpeech flag for one capture
// session. Not safe for concurrent use.
type energyVAD struct {
	threshold float64
	frameLen  int
	frameHop  int
	inSpeech  bool
}

func newEnergyVAD(sampleRate int, threshold float64) *energyVAD {
	frameLen := sampleRate * vadFrameMs / 1000
	return &energyVAD{
		threshold: threshold,
		frameLen:  frameLen,
		frameHop:  max(1, frameLen/2),
	}
}

// rms returns the root mean square of x.
func rms(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(x, x) / float64(len(x)))
}

// precheck is the cheap whole-window test.
func (v *energyVAD) precheck(window []float64) bool {
	return rms(window) > v.threshold*precheckFactor
}

// hasSpeech runs the frame-ratio test: 20 ms frames with 50% overlap, a frame
// counts as speech when its RMS exceeds the threshold.
func (v *energyVAD) hasSpeech(window []float64) bool {
	speech, total := 0, 0
	for i := 0; i+v.frameLen < len(window); i += v.frameHop {
		if rms(window[i:i+v.frameLen]) > v.threshold {
			speech++
		}
		total++
	}
	if total == 0 {
		return false
	}
	return float64(speech)/float64(total) > speechFrameRatio
}

// evaluate gates one full window and updates inSpeech.
func (v *energyVAD) evaluate(window []float64) vadDecision {
	if !v.precheck(window) {
		return vadSkipped
	}
	if v.hasSpeech(window) {
		v.inSpeech = true
		return vadSpeech
	}
	if v.inSpeech {
		v.inSpeech = false
		return vadSpeechEnd
	}
	return vadSilence
}

func (v *energyVAD) reset() {
	v.inSpeech = false
}
