package kws

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// InferenceEngine is a pre-loaded keyword classifier. Predict is called
// synchronously from the capture goroutine and returns one Result per label,
// in the order of Labels. It must return an error wrapping ErrShapeMismatch or
// ErrEngineNotLoaded for setup defects; the controller stops capture on those.
type InferenceEngine interface {
	Labels() []string
	Predict(features FeatureMatrix) ([]Result, error)
}

// LoadLabels reads a label vocabulary, one label per line. Blank lines are
// skipped; duplicates are rejected.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("kws: open labels %q: %w", path, err)
	}
	defer f.Close()

	var labels []string
	seen := make(map[string]int)
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		l := strings.TrimSpace(sc.Text())
		if l == "" {
			continue
		}
		if prev, ok := seen[l]; ok {
			return nil, fmt.Errorf("kws: labels %q line %d: %q duplicates line %d", path, line, l, prev)
		}
		seen[l] = line
		labels = append(labels, l)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("kws: read labels %q: %w", path, err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("kws: labels %q is empty", path)
	}
	return labels, nil
}

// softmax normalises logits in place.
func softmax(x []float64) {
	if len(x) == 0 {
		return
	}
	lse := floats.LogSumExp(x)
	for i, v := range x {
		x[i] = math.Exp(v - lse)
	}
}
