package kws

import (
	"context"
	"time"
)

// PredictionRecord is one accepted prediction.
type PredictionRecord struct {
	Timestamp  time.Time
	Keyword    string
	Confidence float64
}

// PredictionSink is an append-only store of accepted predictions. Append is
// called from the capture goroutine and should not block for long.
type PredictionSink interface {
	Append(ctx context.Context, rec PredictionRecord) error
}
