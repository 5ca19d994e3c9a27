package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
	"EOSFit/internal/domain/repository"
	"EOSFit/internal/services/fitting"
	"EOSFit/internal/services/ingest"
	"EOSFit/pkg/cache"
	xlogger "EOSFit/pkg/logger"

	"github.com/google/uuid"
)

// FitInput is a validated fit request.
type FitInput struct {
	Dataset *models.Dataset
	FixedV0 float64
	Models  []eos.Tag
}

// FitRunner fits datasets, caches the per-model results and hands each run
// to the result sink.
type FitRunner struct {
	driver   *fitting.Driver
	sink     repository.ResultSink
	cache    cache.Service
	cacheTTL time.Duration
	metrics  repository.Metrics
	logger   *xlogger.Logger
	now      func() time.Time
}

// NewFitRunner wires a runner. sink and c may be nil.
func NewFitRunner(driver *fitting.Driver, sink repository.ResultSink, c cache.Service, cacheTTL time.Duration, metrics repository.Metrics, logger *xlogger.Logger) *FitRunner {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &FitRunner{
		driver:   driver,
		sink:     sink,
		cache:    c,
		cacheTTL: cacheTTL,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Run validates req and fits it.
func (r *FitRunner) Run(ctx context.Context, req models.FitRequest) (*models.FitRun, error) {
	in, err := FitInputFrom(req)
	if err != nil {
		r.metrics.RecordError("fit_input")
		return nil, err
	}
	return r.Fit(ctx, in)
}

type fitKey struct {
	Kind    eos.Kind             `json:"kind"`
	Points  []models.Observation `json:"points"`
	FixedV0 float64              `json:"fixed_v0"`
	Models  []eos.Tag            `json:"models"`
}

// Fit runs every requested model on in.Dataset. A FixedV0 of zero or less
// fits V0 freely. Per-model failures are part
// of the run; the returned error is set only when the batch itself could
// not complete or the sink rejected the run.
func (r *FitRunner) Fit(ctx context.Context, in FitInput) (*models.FitRun, error) {
	ds := in.Dataset
	// Only a positive volume pins V0.
	if !(in.FixedV0 > 0) {
		in.FixedV0 = 0
	}
	start := time.Now()
	log := r.logger.With(
		xlogger.String("material", ds.Material),
		xlogger.String("kind", string(ds.Kind)),
	)

	key := r.cacheKey(ds, in)
	results, hit := r.lookup(ctx, key)
	if !hit {
		var err error
		results, err = r.driver.FitAll(ctx, ds, ingest.GuessFor(ds), in.FixedV0, in.Models...)
		if err != nil {
			r.metrics.RecordError("fit")
			return nil, fmt.Errorf("fit %s: %w", ds.Material, err)
		}
		for _, res := range results {
			r.metrics.RecordFit(string(res.Model), string(res.Kind), res.Converged, res.Evaluations)
		}
		r.store(ctx, key, results)
	}
	r.metrics.RecordLatency("fit", time.Since(start).Seconds())

	run := &models.FitRun{
		ID:        uuid.NewString(),
		Material:  ds.Material,
		Kind:      ds.Kind,
		FixedV0:   in.FixedV0,
		Dataset:   ds,
		Results:   results,
		CreatedAt: r.now().UTC(),
	}
	log.Info("fit run complete",
		xlogger.String("run_id", run.ID),
		xlogger.Int("models", len(results)),
		xlogger.Int("converged", countConverged(results)),
		xlogger.Bool("cached", hit),
	)

	if r.sink != nil {
		if err := r.sink.WriteFits(ctx, run); err != nil {
			r.metrics.RecordError("sink")
			return run, fmt.Errorf("write fit results: %w", err)
		}
	}
	return run, nil
}

func (r *FitRunner) cacheKey(ds *models.Dataset, in FitInput) string {
	if r.cache == nil {
		return ""
	}
	d, err := cache.Digest(fitKey{Kind: ds.Kind, Points: ds.Points, FixedV0: in.FixedV0, Models: in.Models})
	if err != nil {
		return ""
	}
	return cache.GenerateKey("fit", d)
}

func (r *FitRunner) lookup(ctx context.Context, key string) ([]models.FitResult, bool) {
	if key == "" {
		return nil, false
	}
	results, err := cache.GetTyped[[]models.FitResult](ctx, r.cache, key)
	hit := err == nil
	r.metrics.RecordCacheLookup(hit)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		r.logger.Warn("fit cache read failed", xlogger.Error(err))
	}
	return results, hit
}

func (r *FitRunner) store(ctx context.Context, key string, results []models.FitResult) {
	if key == "" {
		return
	}
	if err := r.cache.Set(ctx, key, results, r.cacheTTL); err != nil {
		r.logger.Warn("fit cache write failed", xlogger.Error(err))
	}
}

func countConverged(results []models.FitResult) int {
	n := 0
	for _, r := range results {
		if r.Converged {
			n++
		}
	}
	return n
}
