// Package derive evaluates P, E and H curves from fitted parameters.
package derive

import (
	"fmt"
	"math"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
	xlogger "EOSFit/pkg/logger"
)

const (
	defaultTolerance     = 1e-9
	defaultMaxIterations = 50
)

// Option configures an Engine.
type Option func(*Engine)

// WithTolerance sets the Newton step tolerance in Å³.
func WithTolerance(tol float64) Option {
	return func(e *Engine) { e.tol = tol }
}

// WithMaxIterations bounds the Newton iterations per target pressure.
func WithMaxIterations(n int) Option {
	return func(e *Engine) { e.maxIter = n }
}

// Engine derives curves from parameter records. It holds no mutable state.
type Engine struct {
	logger  *xlogger.Logger
	tol     float64
	maxIter int
}

func NewEngine(logger *xlogger.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	e := &Engine{logger: logger, tol: defaultTolerance, maxIter: defaultMaxIterations}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// internal converts a record (K0 in GPa) to eV/Å³ units.
func internal(rec models.ParamRecord) (*eos.Model, eos.Params, error) {
	m, err := eos.Lookup(rec.Model)
	if err != nil {
		return nil, eos.Params{}, &eos.InputError{Model: rec.Model, Reason: err.Error()}
	}
	p := rec.Params.Clone()
	if len(p.Extra) != m.NumExtra() {
		return nil, p, &eos.InputError{Model: m.Tag, Reason: fmt.Sprintf("expected %d shape parameters, got %d", m.NumExtra(), len(p.Extra))}
	}
	if !(p.V0 > 0) || math.IsInf(p.V0, 0) {
		return nil, p, &eos.InputError{Model: m.Tag, Reason: fmt.Sprintf("V0 must be positive, got %g", p.V0)}
	}
	if !(p.K0 > 0) || math.IsInf(p.K0, 0) {
		return nil, p, &eos.InputError{Model: m.Tag, Reason: fmt.Sprintf("K0 must be positive, got %g", p.K0)}
	}
	if rec.Kind == eos.Pressure {
		p.E0 = 0
	}
	p.K0 = eos.FromGPa(p.K0)
	return m, p, nil
}

// SeedVolume is the Murnaghan estimate V0·(1 + K0'/K0·P)^(-1/K0') used to
// start the root search. It falls back to V0 when the base is not positive.
func SeedVolume(v0, k0, kprime, p float64) float64 {
	base := 1 + kprime/k0*p
	if !(base > 0) || kprime == 0 {
		return v0
	}
	v := v0 * math.Pow(base, -1/kprime)
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return v0
	}
	return v
}

// FromPressures solves P(V) = p for every target pressure (GPa) and
// evaluates E and H there. Any target without a solution aborts the curve.
func (e *Engine) FromPressures(rec models.ParamRecord, pressures []float64) (*models.DerivedCurve, error) {
	m, p, err := internal(rec)
	if err != nil {
		return nil, err
	}
	kp := m.KPrime(p.Extra)
	curve := &models.DerivedCurve{
		Model:    m.Tag,
		Code:     m.Code,
		Material: rec.Material,
		Axis:     models.AxisPressure,
		Points:   make([]models.CurvePoint, 0, len(pressures)),
	}

	for _, pGPa := range pressures {
		target := eos.FromGPa(pGPa)
		seed := SeedVolume(p.V0, p.K0, kp, target)
		f := func(v float64) float64 { return m.Pressure(v, p) - target }

		v, err := newton(f, seed, e.tol, e.tol*math.Max(1, math.Abs(target)), e.maxIter)
		if err != nil {
			e.logger.Warn("root search failed",
				xlogger.String("model", string(m.Tag)),
				xlogger.Float64("pressure_gpa", pGPa),
				xlogger.Float64("seed", seed),
				xlogger.Error(err),
			)
			return nil, &eos.RootFindError{Model: m.Tag, Pressure: pGPa, Err: err}
		}
		en := m.Energy(v, p)
		curve.Points = append(curve.Points, models.CurvePoint{
			V: v,
			P: pGPa,
			E: en,
			H: en + target*v,
		})
	}
	return curve, nil
}

// FromVolumes evaluates P, E and H directly at each volume.
func (e *Engine) FromVolumes(rec models.ParamRecord, volumes []float64) (*models.DerivedCurve, error) {
	m, p, err := internal(rec)
	if err != nil {
		return nil, err
	}
	curve := &models.DerivedCurve{
		Model:    m.Tag,
		Code:     m.Code,
		Material: rec.Material,
		Axis:     models.AxisVolume,
		Points:   make([]models.CurvePoint, 0, len(volumes)),
	}
	for _, v := range volumes {
		if !(v > 0) {
			return nil, &eos.InputError{Model: m.Tag, Reason: fmt.Sprintf("volume must be positive, got %g", v)}
		}
		pr := m.Pressure(v, p)
		en := m.Energy(v, p)
		curve.Points = append(curve.Points, models.CurvePoint{
			V: v,
			P: eos.ToGPa(pr),
			E: en,
			H: en + pr*v,
		})
	}
	return curve, nil
}

// Range returns lo, lo+step, ... up to and including hi.
func Range(lo, hi, step float64) ([]float64, error) {
	if !(step > 0) {
		return nil, &eos.InputError{Reason: fmt.Sprintf("step must be positive, got %g", step)}
	}
	if hi < lo {
		return nil, &eos.InputError{Reason: fmt.Sprintf("range is empty: %g > %g", lo, hi)}
	}
	n := int(math.Floor((hi-lo)/step+1e-9)) + 1
	if n > 1_000_000 {
		return nil, &eos.InputError{Reason: fmt.Sprintf("range has too many points (%d)", n)}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out, nil
}
