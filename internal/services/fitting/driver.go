package fitting

import (
	"context"
	"errors"
	"fmt"
	"math"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
	"EOSFit/internal/services/ingest"
	xlogger "EOSFit/pkg/logger"
)

// Option configures a Driver.
type Option func(*Driver)

// WithSettings overrides the solver budget and tolerances.
func WithSettings(s Settings) Option {
	return func(d *Driver) { d.settings = s }
}

// Driver fits datasets against the registered models.
type Driver struct {
	logger   *xlogger.Logger
	settings Settings
}

func NewDriver(logger *xlogger.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	d := &Driver{logger: logger, settings: DefaultSettings()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// chain carries starting values from converged fits to later models.
type chain struct {
	k0   float64
	seed eos.Seed
}

func (c *chain) absorb(r models.FitResult) {
	if !r.Converged {
		return
	}
	switch r.Model {
	case eos.SecondOrder:
		c.setK0(r.Params.K0)
	case eos.ThirdOrder:
		c.setK0(r.Params.K0)
		if finite(r.Params.Extra[0]) {
			c.seed.Kpo = r.Params.Extra[0]
		}
	case eos.Alpha:
		if finite(r.Params.Extra[0]) {
			c.seed.Alpha = r.Params.Extra[0]
		}
	}
}

func (c *chain) setK0(k float64) {
	if k > 0 && finite(k) {
		c.k0 = k
	}
}

// FitAll fits every model in tags (all models when empty) in registry
// order. Per-model failures are recorded in the results and never abort
// the batch; only context cancellation does.
func (d *Driver) FitAll(ctx context.Context, ds *models.Dataset, g ingest.Guess, fixedV0 float64, tags ...eos.Tag) ([]models.FitResult, error) {
	want := make(map[eos.Tag]bool, len(tags))
	for _, t := range tags {
		if _, err := eos.Lookup(t); err != nil {
			return nil, err
		}
		want[t] = true
	}

	v0 := g.V0
	if fixedV0 > 0 {
		v0 = fixedV0
	}
	c := chain{k0: EstimateK0(ds, v0), seed: eos.DefaultSeed}

	results := make([]models.FitResult, 0, len(eos.All()))
	for _, m := range eos.All() {
		if len(want) > 0 && !want[m.Tag] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		start := eos.Params{E0: g.E0, V0: v0, K0: c.k0, Extra: m.DefaultExtra(c.seed)}
		res, err := d.FitModel(ctx, m, ds, start, fixedV0)
		if err != nil && !eos.Recoverable(err) {
			return results, err
		}
		c.absorb(res)
		results = append(results, res)
	}
	return results, nil
}

// FitModel fits a single model from start. On a recoverable failure it
// returns the zero-filled result together with the typed error.
func (d *Driver) FitModel(ctx context.Context, m *eos.Model, ds *models.Dataset, start eos.Params, fixedV0 float64) (models.FitResult, error) {
	fixed := fixedV0 > 0
	n := m.NumParams(ds.Kind, fixed)

	res := models.FitResult{Model: m.Tag, Code: m.Code, Kind: ds.Kind}
	if fixed {
		res.FixedV0 = fixedV0
	}

	fail := func(err error) (models.FitResult, error) {
		res.Params = eos.Params{Extra: make([]float64, m.NumExtra())}
		res.KPrime = 0
		res.Converged = false
		res.Fitted = nil
		res.Failure = err.Error()
		d.logger.Warn("fit failed, using zero parameters",
			xlogger.String("model", string(m.Tag)),
			xlogger.String("kind", string(ds.Kind)),
			xlogger.Int("evaluations", res.Evaluations),
			xlogger.Error(err),
		)
		return res, err
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := ingest.RequireParams(ds, m, n); err != nil {
		return fail(err)
	}
	if len(start.Extra) != m.NumExtra() {
		return fail(&eos.InputError{Model: m.Tag, Reason: fmt.Sprintf("expected %d shape parameters, got %d", m.NumExtra(), len(start.Extra))})
	}

	pair := m.Funcs(fixedV0)
	f := pair.Energy
	if ds.Kind == eos.Pressure {
		f = pair.Pressure
	}
	vols, ys := ds.Volumes(), ds.Values()
	scale := 0.0
	for _, y := range ys {
		scale = math.Max(scale, math.Abs(y))
	}

	prob := Problem{
		M:     len(ys),
		Scale: scale,
		Residual: func(dst, x []float64) {
			for i, v := range vols {
				dst[i] = f(v, x) - ys[i]
			}
		},
	}

	sol, err := LevenbergMarquardt(prob, eos.Pack(ds.Kind, start, fixed), d.settings)
	if sol != nil {
		res.Evaluations = sol.Evaluations
	}
	switch {
	case errors.Is(err, ErrMaxEvaluations):
		res.Evaluations = d.settings.MaxEvaluations
		return fail(&eos.ConvergenceError{Model: m.Tag, Evaluations: d.settings.MaxEvaluations})
	case errors.Is(err, ErrNonFinite):
		return fail(&eos.DomainError{Model: m.Tag, Reason: err.Error()})
	case err != nil:
		return fail(&eos.InputError{Model: m.Tag, Reason: err.Error()})
	}

	res.Params = eos.Unpack(ds.Kind, sol.X, fixedV0)
	res.KPrime = m.KPrime(res.Params.Extra)
	res.Converged = true
	res.Fitted = make([]float64, len(vols))
	for i, v := range vols {
		res.Fitted[i] = f(v, sol.X)
	}
	d.logger.Debug("fit converged",
		xlogger.String("model", string(m.Tag)),
		xlogger.Int("evaluations", sol.Evaluations),
		xlogger.Float64("cost", sol.Cost),
	)
	return res, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
