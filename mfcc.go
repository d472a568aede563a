package kws

import (
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/floats"
)

const melFloor = 1e-10

// mfccExtractor turns a window of samples into cepstral coefficients: centered
// STFT with reflect padding, periodic Hann window, power spectrum, HTK mel
// filterbank, log10 power in dB, orthonormal DCT-II truncated to numCoeffs.
// Filterbank, window and DCT matrix are built once. Not safe for concurrent use.
type mfccExtractor struct {
	sampleRate int
	nFFT       int
	hop        int
	nMels      int
	numCoeffs  int

	window  []float64
	filters [][]float64 // nMels x (nFFT/2+1)
	dct     [][]float64 // numCoeffs x nMels

	frame  []float64
	power  []float64
	logMel []float64
}

func newMFCCExtractor(sampleRate, nFFT, hop, nMels, numCoeffs int) *mfccExtractor {
	nBins := nFFT/2 + 1
	e := &mfccExtractor{
		sampleRate: sampleRate,
		nFFT:       nFFT,
		hop:        hop,
		nMels:      nMels,
		numCoeffs:  numCoeffs,
		window:     hannWindow(nFFT),
		filters:    melFilterbank(sampleRate, nFFT, nMels, 0, float64(sampleRate)/2),
		dct:        dctMatrix(numCoeffs, nMels),
		frame:      make([]float64, nFFT),
		power:      make([]float64, nBins),
		logMel:     make([]float64, nMels),
	}
	return e
}

// numFrames returns how many analysis frames a window of n samples yields.
func (e *mfccExtractor) numFrames(n int) int {
	pad := e.nFFT / 2
	return 1 + (n+2*pad-e.nFFT)/e.hop
}

// coefficients returns the flat coefficient stream for window. Frame i
// occupies [i*numCoeffs, (i+1)*numCoeffs).
func (e *mfccExtractor) coefficients(window []float64) ([]float64, error) {
	pad := e.nFFT / 2
	if len(window) <= pad {
		return nil, fmt.Errorf("kws: window of %d samples too short for FFT size %d", len(window), e.nFFT)
	}
	nFrames := e.numFrames(len(window))
	out := make([]float64, nFrames*e.numCoeffs)
	for t := 0; t < nFrames; t++ {
		start := t*e.hop - pad
		for i := range e.frame {
			e.frame[i] = reflectAt(window, start+i) * e.window[i]
		}
		spec := fft.FFTReal(e.frame)
		for k := range e.power {
			re, im := real(spec[k]), imag(spec[k])
			e.power[k] = re*re + im*im
		}
		for m, filter := range e.filters {
			v := floats.Dot(filter, e.power)
			if v < melFloor {
				v = melFloor
			}
			e.logMel[m] = 10 * math.Log10(v)
		}
		dst := out[t*e.numCoeffs : (t+1)*e.numCoeffs]
		for c, basis := range e.dct {
			dst[c] = floats.Dot(basis, e.logMel)
		}
	}
	return out, nil
}

// extract runs coefficients and reshapes the stream into a FeatureMatrix.
func (e *mfccExtractor) extract(window []float64) (FeatureMatrix, error) {
	flat, err := e.coefficients(window)
	if err != nil {
		return FeatureMatrix{}, err
	}
	return reshapeCoefficients(flat, e.numCoeffs)
}

// reflectAt indexes x as if it were reflect-padded on both sides (edge sample
// not repeated).
func reflectAt(x []float64, i int) float64 {
	n := len(x)
	if n == 1 {
		return x[0]
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return x[i]
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

// melFilterbank builds nMels triangular filters over [lowHz, highHz] on the
// HTK mel scale, sampled at the nFFT/2+1 real FFT bins.
func melFilterbank(sampleRate, nFFT, nMels int, lowHz, highHz float64) [][]float64 {
	nBins := nFFT/2 + 1
	lowMel, highMel := hzToMel(lowHz), hzToMel(highHz)
	hzPoints := make([]float64, nMels+2)
	for i := range hzPoints {
		hzPoints[i] = melToHz(lowMel + (highMel-lowMel)*float64(i)/float64(nMels+1))
	}
	binFreq := make([]float64, nBins)
	for k := range binFreq {
		binFreq[k] = float64(k) * float64(sampleRate) / float64(nFFT)
	}
	filters := make([][]float64, nMels)
	for m := range filters {
		left, center, right := hzPoints[m], hzPoints[m+1], hzPoints[m+2]
		row := make([]float64, nBins)
		for k, f := range binFreq {
			switch {
			case f >= left && f <= center && center > left:
				row[k] = (f - left) / (center - left)
			case f > center && f <= right && right > center:
				row[k] = (right - f) / (right - center)
			}
		}
		filters[m] = row
	}
	return filters
}

// dctMatrix returns the orthonormal DCT-II basis truncated to numCoeffs rows.
func dctMatrix(numCoeffs, n int) [][]float64 {
	m := make([][]float64, numCoeffs)
	for k := range m {
		scale := math.Sqrt(2 / float64(n))
		if k == 0 {
			scale = math.Sqrt(1 / float64(n))
		}
		row := make([]float64, n)
		for i := range row {
			row[i] = scale * math.Cos(math.Pi*float64(k)*(float64(i)+0.5)/float64(n))
		}
		m[k] = row
	}
	return m
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}
