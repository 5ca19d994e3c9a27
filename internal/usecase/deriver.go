package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
	"EOSFit/internal/domain/repository"
	"EOSFit/internal/services/derive"
	"EOSFit/internal/services/transition"
	xlogger "EOSFit/pkg/logger"
)

// DeriveInput samples every record over Min..Max in Step along Axis.
type DeriveInput struct {
	Axis    models.Axis
	Min     float64
	Max     float64
	Step    float64
	Records []models.ParamRecord
}

// RecordFailure reports a record whose curve could not be derived.
type RecordFailure struct {
	Model    eos.Tag `json:"model"`
	Material string  `json:"material,omitempty"`
	Error    string  `json:"error"`
}

// DeriveOutput holds the curves that were derived and the records that
// were skipped.
type DeriveOutput struct {
	Curves   []*models.DerivedCurve `json:"curves"`
	Failures []RecordFailure        `json:"failures,omitempty"`
}

// Deriver turns parameter records into P, E, H curves.
type Deriver struct {
	engine  *derive.Engine
	sink    repository.ResultSink
	metrics repository.Metrics
	logger  *xlogger.Logger
}

func NewDeriver(engine *derive.Engine, sink repository.ResultSink, metrics repository.Metrics, logger *xlogger.Logger) *Deriver {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Deriver{engine: engine, sink: sink, metrics: metrics, logger: logger}
}

// Run derives one curve per record. A record whose pressure targets have
// no solution is reported in Failures and the others still run; invalid
// ranges and sink errors abort.
func (d *Deriver) Run(ctx context.Context, in DeriveInput) (*DeriveOutput, error) {
	start := time.Now()
	grid, err := derive.Range(in.Min, in.Max, in.Step)
	if err != nil {
		d.metrics.RecordError("derive_input")
		return nil, err
	}

	out := &DeriveOutput{}
	for _, rec := range in.Records {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		c, err := d.curve(rec, in.Axis, grid)
		if err != nil {
			if !skippable(err) {
				d.metrics.RecordError("derive_input")
				return out, err
			}
			d.metrics.RecordError("root_find")
			out.Failures = append(out.Failures, RecordFailure{Model: rec.Model, Material: rec.Material, Error: err.Error()})
			continue
		}
		d.metrics.RecordCurve(string(c.Model), len(c.Points))
		if d.sink != nil {
			if err := d.sink.WriteCurve(ctx, c); err != nil {
				d.metrics.RecordError("sink")
				return out, fmt.Errorf("write curve %s: %w", c.Code, err)
			}
		}
		out.Curves = append(out.Curves, c)
	}

	d.metrics.RecordLatency("derive", time.Since(start).Seconds())
	d.logger.Info("derivation complete",
		xlogger.Int("records", len(in.Records)),
		xlogger.Int("curves", len(out.Curves)),
		xlogger.Int("failed", len(out.Failures)),
	)
	return out, nil
}

func (d *Deriver) curve(rec models.ParamRecord, axis models.Axis, grid []float64) (*models.DerivedCurve, error) {
	if axis == models.AxisVolume {
		return d.engine.FromVolumes(rec, grid)
	}
	return d.engine.FromPressures(rec, grid)
}

func skippable(err error) bool {
	var rf *eos.RootFindError
	return errors.As(err, &rf)
}

// TransitionInput compares two phases described by the same model.
type TransitionInput struct {
	A, B     models.ParamRecord
	Min, Max float64
	Step     float64
}

// TransitionFinder locates the pressure where two phases have equal
// enthalpy.
type TransitionFinder struct {
	engine  *derive.Engine
	metrics repository.Metrics
	logger  *xlogger.Logger
}

func NewTransitionFinder(engine *derive.Engine, metrics repository.Metrics, logger *xlogger.Logger) *TransitionFinder {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &TransitionFinder{engine: engine, metrics: metrics, logger: logger}
}

func (t *TransitionFinder) Run(ctx context.Context, in TransitionInput) (*models.Transition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	grid, err := derive.Range(in.Min, in.Max, in.Step)
	if err != nil {
		return nil, err
	}
	a, err := t.engine.FromPressures(in.A, grid)
	if err != nil {
		t.metrics.RecordError("root_find")
		return nil, fmt.Errorf("phase %s: %w", in.A.Material, err)
	}
	b, err := t.engine.FromPressures(in.B, grid)
	if err != nil {
		t.metrics.RecordError("root_find")
		return nil, fmt.Errorf("phase %s: %w", in.B.Material, err)
	}
	return t.find(a, b, start)
}

// Compare locates the transition between two curves derived earlier, such
// as the contents of two curve files.
func (t *TransitionFinder) Compare(ctx context.Context, a, b *models.DerivedCurve) (*models.Transition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.find(a, b, time.Now())
}

func (t *TransitionFinder) find(a, b *models.DerivedCurve, start time.Time) (*models.Transition, error) {
	tr, err := transition.Find(a, b)
	t.metrics.RecordLatency("transition", time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	t.logger.Info("transition found",
		xlogger.String("model", string(tr.Model)),
		xlogger.String("phase_a", tr.MaterialA),
		xlogger.String("phase_b", tr.MaterialB),
		xlogger.Float64("pressure_gpa", tr.Pressure),
	)
	return tr, nil
}
