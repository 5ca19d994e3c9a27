package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
	"EOSFit/internal/domain/repository"
	"EOSFit/internal/services/ingest"
	"EOSFit/pkg/cache"
	pkgkafka "EOSFit/pkg/kafka"
	xlogger "EOSFit/pkg/logger"
)

// FitJobHandler consumes fit jobs from Kafka. A job either carries its data
// inline or names a file under dataDir.
type FitJobHandler struct {
	topic   string
	runner  *FitRunner
	locks   cache.Service
	lockTTL time.Duration
	dataDir string
	metrics repository.Metrics
	logger  *xlogger.Logger
}

func NewFitJobHandler(topic string, runner *FitRunner, locks cache.Service, lockTTL time.Duration, dataDir string, metrics repository.Metrics, logger *xlogger.Logger) *FitJobHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &FitJobHandler{
		topic:   topic,
		runner:  runner,
		locks:   locks,
		lockTTL: lockTTL,
		dataDir: dataDir,
		metrics: metrics,
		logger:  logger,
	}
}

func (h *FitJobHandler) Topic() string { return h.topic }

// Handle runs one job. A job ID already seen within the lock TTL is
// dropped; a failed job releases its ID so that a redelivery can retry.
func (h *FitJobHandler) Handle(ctx context.Context, b []byte) error {
	var job models.FitJob
	if err := json.Unmarshal(b, &job); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode fit job: %w", err)
	}

	if job.ID != "" && h.locks != nil {
		key := cache.GenerateKey("job", job.ID)
		ok, err := h.locks.TryLock(ctx, key, h.lockTTL)
		if err != nil {
			return fmt.Errorf("lock job %s: %w", job.ID, err)
		}
		if !ok {
			h.logger.Info("duplicate fit job skipped", xlogger.String("job_id", job.ID))
			return nil
		}
		if err := h.run(ctx, job); err != nil {
			_ = h.locks.Unlock(context.WithoutCancel(ctx), key)
			return err
		}
		return nil
	}
	return h.run(ctx, job)
}

func (h *FitJobHandler) run(ctx context.Context, job models.FitJob) error {
	in, err := h.input(job)
	if err != nil {
		h.metrics.RecordError("fit_input")
		return fmt.Errorf("fit job %s: %w", job.ID, err)
	}
	run, err := h.runner.Fit(ctx, in)
	if err != nil {
		return fmt.Errorf("fit job %s: %w", job.ID, err)
	}
	h.logger.Debug("fit job done",
		xlogger.String("job_id", job.ID),
		xlogger.String("run_id", run.ID),
	)
	return nil
}

func (h *FitJobHandler) input(job models.FitJob) (FitInput, error) {
	if job.Path == "" {
		return FitInputFrom(models.FitRequest{
			Kind:     job.Kind,
			Material: job.Material,
			Volumes:  job.Volumes,
			Values:   job.Values,
			FixedV0:  job.FixedV0,
			Models:   job.Models,
		})
	}

	kind, err := eos.ParseKind(job.Kind)
	if err != nil {
		return FitInput{}, &eos.InputError{Reason: err.Error()}
	}
	tags, err := ResolveModels(job.Models)
	if err != nil {
		return FitInput{}, err
	}
	if !filepath.IsLocal(job.Path) {
		return FitInput{}, &eos.InputError{Reason: fmt.Sprintf("data path %q leaves the data directory", job.Path)}
	}
	f, err := os.Open(filepath.Join(h.dataDir, job.Path))
	if err != nil {
		return FitInput{}, &eos.InputError{Reason: err.Error()}
	}
	defer f.Close()

	ds, _, err := ingest.Read(f, kind, job.Material)
	if err != nil {
		return FitInput{}, err
	}
	return FitInput{Dataset: ds, FixedV0: job.FixedV0, Models: tags}, nil
}

var _ pkgkafka.MessageHandler = (*FitJobHandler)(nil)
