package repository

import (
	"context"
	"time"

	"EOSFit/internal/domain/models"
	"EOSFit/internal/domain/repository"
	pkgkafka "EOSFit/pkg/kafka"
)

type publisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// FitEvent is the message published for every model of a fit run.
type FitEvent struct {
	RunID     string           `json:"run_id"`
	Material  string           `json:"material"`
	Result    models.FitResult `json:"result"`
	K0GPa     float64          `json:"k0_gpa"`
	CreatedAt time.Time        `json:"created_at"`
}

// KafkaSink publishes fit results and curves as JSON events keyed by
// material.
type KafkaSink struct {
	p           publisher
	fitsTopic   string
	curvesTopic string
}

func NewKafkaSink(p *pkgkafka.Producer, fitsTopic, curvesTopic string) repository.ResultSink {
	return newKafkaSink(p, fitsTopic, curvesTopic)
}

func newKafkaSink(p publisher, fitsTopic, curvesTopic string) *KafkaSink {
	return &KafkaSink{p: p, fitsTopic: fitsTopic, curvesTopic: curvesTopic}
}

func (s *KafkaSink) WriteFits(ctx context.Context, run *models.FitRun) error {
	msgs := make([]pkgkafka.Message, len(run.Results))
	for i, r := range run.Results {
		r.Fitted = nil
		msgs[i] = pkgkafka.Message{
			Key: []byte(run.Material),
			Value: FitEvent{
				RunID:     run.ID,
				Material:  run.Material,
				Result:    r,
				K0GPa:     r.K0GPa(),
				CreatedAt: run.CreatedAt,
			},
		}
	}
	return s.p.PublishBatch(ctx, s.fitsTopic, msgs)
}

func (s *KafkaSink) WriteCurve(ctx context.Context, c *models.DerivedCurve) error {
	return s.p.Publish(ctx, s.curvesTopic, []byte(c.Material), c)
}

func (s *KafkaSink) Close() error {
	return nil // the producer is shared with the log digest and closed by its owner
}
