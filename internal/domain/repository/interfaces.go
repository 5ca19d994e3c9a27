package repository

import (
	"context"

	"EOSFit/internal/domain/models"
)

// ResultSink receives fit runs and derived curves once they are complete.
type ResultSink interface {
	WriteFits(ctx context.Context, run *models.FitRun) error
	WriteCurve(ctx context.Context, c *models.DerivedCurve) error
	Close() error
}

// FitStore reads back persisted fit results.
type FitStore interface {
	LatestFits(ctx context.Context, material string, kind string) ([]models.FitResult, error)
}

type Metrics interface {
	RecordFit(model, kind string, converged bool, evaluations int)
	RecordCurve(model string, rows int)
	RecordCacheLookup(hit bool)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
