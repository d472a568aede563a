package kws

import "slices"

// Result is one label's classification confidence in [0, 1].
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// rankResults sorts results by descending confidence, keeping input order for
// ties, drops repeated labels and truncates to topK. best is the argmax over
// the full input, first occurrence on ties; ok is false for empty input.
func rankResults(results []Result, topK int) (ranked []Result, best Result, ok bool) {
	if len(results) == 0 {
		return nil, Result{}, false
	}
	best = results[0]
	for _, r := range results[1:] {
		if r.Confidence > best.Confidence {
			best = r
		}
	}

	seen := make(map[string]struct{}, len(results))
	ranked = make([]Result, 0, len(results))
	for _, r := range results {
		if _, dup := seen[r.Label]; dup {
			continue
		}
		seen[r.Label] = struct{}{}
		ranked = append(ranked, r)
	}
	slices.SortStableFunc(ranked, func(a, b Result) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, best, true
}

// accepted reports whether the best prediction clears the probability threshold.
func accepted(best Result, threshold float64) bool {
	return best.Confidence > threshold
}
