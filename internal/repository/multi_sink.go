package repository

import (
	"context"
	"errors"

	"EOSFit/internal/domain/models"
	"EOSFit/internal/domain/repository"
)

// MultiSink fans every write out to all sinks. A failing sink does not stop
// the others; the errors are joined.
type MultiSink struct {
	sinks []repository.ResultSink
}

func NewMultiSink(sinks ...repository.ResultSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) WriteFits(ctx context.Context, run *models.FitRun) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.WriteFits(ctx, run))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) WriteCurve(ctx context.Context, c *models.DerivedCurve) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.WriteCurve(ctx, c))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
