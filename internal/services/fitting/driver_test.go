package fitting

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sort"
	"testing"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
	"EOSFit/internal/services/ingest"
	xlogger "EOSFit/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var truthExtra = map[eos.Tag][]float64{
	eos.SecondOrder: nil,
	eos.ThirdOrder:  {4.5},
	eos.Vinet:       {4.5},
	eos.Alpha:       {2.6},
	eos.AlphaBeta:   {2.8, 1.6},
	eos.Modified:    {4.5},
	eos.Keane:       {4.5, 3.0},
}

func grid() []float64 {
	vols := make([]float64, 12)
	for i := range vols {
		vols[i] = 15.3 + 0.55*float64(i)
	}
	return vols
}

func truth(m *eos.Model, kind eos.Kind) eos.Params {
	k0 := 1.2
	if kind == eos.Pressure {
		k0 = 190
	}
	return eos.Params{E0: -5.2, V0: 18, K0: k0, Extra: truthExtra[m.Tag]}
}

func synth(t *testing.T, m *eos.Model, kind eos.Kind) (*models.Dataset, ingest.Guess) {
	t.Helper()
	p := truth(m, kind)
	vols := grid()
	ys := make([]float64, len(vols))
	for i, v := range vols {
		if kind == eos.Energy {
			ys[i] = m.Energy(v, p)
		} else {
			ys[i] = m.Pressure(v, p)
		}
	}
	ds, g, err := ingest.FromArrays(kind, "synthetic", vols, ys)
	require.NoError(t, err)
	return ds, g
}

func relClose(t *testing.T, want, got float64, msg string) {
	t.Helper()
	assert.InDelta(t, want, got, 1e-6*math.Max(1, math.Abs(want)), msg)
}

func TestRoundTripRecovery(t *testing.T) {
	d := NewDriver(xlogger.NewNop())
	for _, kind := range []eos.Kind{eos.Energy, eos.Pressure} {
		for _, fixed := range []bool{false, true} {
			for _, m := range eos.All() {
				ds, g := synth(t, m, kind)
				fixedV0 := 0.0
				v0 := g.V0
				if fixed {
					fixedV0, v0 = 18, 18
				}
				start := eos.Params{E0: g.E0, V0: v0, K0: EstimateK0(ds, v0), Extra: m.DefaultExtra(eos.DefaultSeed)}

				res, err := d.FitModel(context.Background(), m, ds, start, fixedV0)
				name := string(kind) + "/" + m.Code
				require.NoError(t, err, name)
				require.True(t, res.Converged, name)

				want := truth(m, kind)
				if kind == eos.Energy {
					relClose(t, want.E0, res.Params.E0, name+" E0")
				}
				relClose(t, want.V0, res.Params.V0, name+" V0")
				relClose(t, want.K0, res.Params.K0, name+" K0")

				gotExtra := append([]float64(nil), res.Params.Extra...)
				wantExtra := append([]float64(nil), want.Extra...)
				if m.Tag == eos.AlphaBeta {
					// the form is symmetric in alpha and beta
					sort.Float64s(gotExtra)
					sort.Float64s(wantExtra)
				}
				require.Len(t, gotExtra, len(wantExtra), name)
				for i := range wantExtra {
					relClose(t, wantExtra[i], gotExtra[i], name+" extra")
				}
				relClose(t, m.KPrime(want.Extra), res.KPrime, name+" K0'")
				assert.Len(t, res.Fitted, len(ds.Points))
			}
		}
	}
}

func TestFourPointScenario(t *testing.T) {
	ds, g, err := ingest.FromArrays(eos.Energy, "Si",
		[]float64{20, 18, 16, 22}, []float64{-5.0, -5.2, -5.1, -4.8})
	require.NoError(t, err)

	results, err := NewDriver(nil).FitAll(context.Background(), ds, g, 0)
	require.NoError(t, err)
	require.Len(t, results, 7)

	second := results[0]
	require.Equal(t, eos.SecondOrder, second.Model)
	require.True(t, second.Converged, second.Failure)
	assert.InDelta(t, 18, second.Params.V0, 1.0)
	assert.InDelta(t, -5.2, second.Params.E0, 0.05)
	assert.Greater(t, second.Params.K0, 0.0)
	assert.Equal(t, 4.0, second.KPrime)

	// five-parameter models cannot be determined by four points
	for _, r := range results {
		if r.Model == eos.AlphaBeta || r.Model == eos.Keane {
			assert.False(t, r.Converged)
			assert.Contains(t, r.Failure, "invalid input")
			assert.Zero(t, r.Params.K0)
		}
	}
}

func TestFitAllSubset(t *testing.T) {
	m, _ := eos.Lookup(eos.Vinet)
	ds, g := synth(t, m, eos.Energy)
	results, err := NewDriver(nil).FitAll(context.Background(), ds, g, 0, eos.Vinet)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, eos.Vinet, results[0].Model)

	_, err = NewDriver(nil).FitAll(context.Background(), ds, g, 0, "birch")
	assert.ErrorIs(t, err, eos.ErrUnknownModel)
}

func TestSinglePointIsInputError(t *testing.T) {
	ds, g, err := ingest.FromArrays(eos.Energy, "", []float64{18}, []float64{-5.2})
	require.NoError(t, err)
	results, err := NewDriver(nil).FitAll(context.Background(), ds, g, 0)
	require.NoError(t, err)
	for _, r := range results {
		assert.False(t, r.Converged, r.Code)
		assert.NotEmpty(t, r.Failure)
	}
}

func TestBadStartFallsBackToZero(t *testing.T) {
	var buf bytes.Buffer
	d := NewDriver(xlogger.NewWithWriter(&buf, zerolog.WarnLevel))
	m, _ := eos.Lookup(eos.Vinet)
	ds, _ := synth(t, m, eos.Energy)

	res, err := d.FitModel(context.Background(), m, ds, eos.Params{E0: -5, V0: -18, K0: 1, Extra: []float64{4}}, 0)
	var de *eos.DomainError
	require.True(t, errors.As(err, &de), "got %v", err)
	assert.Equal(t, eos.Vinet, de.Model)
	assert.False(t, res.Converged)
	assert.Equal(t, eos.Params{Extra: []float64{0}}, res.Params)
	assert.Zero(t, res.KPrime)
	assert.Contains(t, buf.String(), "vinet")
}

func TestBudgetExhaustion(t *testing.T) {
	s := DefaultSettings()
	s.MaxEvaluations = 5
	d := NewDriver(nil, WithSettings(s))
	m, _ := eos.Lookup(eos.Vinet)
	ds, g := synth(t, m, eos.Energy)

	start := eos.Params{E0: g.E0, V0: g.V0, K0: 1, Extra: []float64{4}}
	res, err := d.FitModel(context.Background(), m, ds, start, 0)
	var ce *eos.ConvergenceError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.False(t, res.Converged)
	assert.Equal(t, 5, res.Evaluations)
}

func TestSeedsChainOnlyFromConvergedFits(t *testing.T) {
	c := chain{k0: 1, seed: eos.DefaultSeed}
	c.absorb(models.FitResult{Model: eos.ThirdOrder, Converged: false, Params: eos.Params{K0: 9, Extra: []float64{9}}})
	assert.Equal(t, 1.0, c.k0)
	assert.Equal(t, 4.0, c.seed.Kpo)

	c.absorb(models.FitResult{Model: eos.ThirdOrder, Converged: true, Params: eos.Params{K0: 2, Extra: []float64{4.7}}})
	assert.Equal(t, 2.0, c.k0)
	assert.Equal(t, 4.7, c.seed.Kpo)

	c.absorb(models.FitResult{Model: eos.Alpha, Converged: true, Params: eos.Params{K0: 3, Extra: []float64{2.5}}})
	assert.Equal(t, 2.0, c.k0)
	assert.Equal(t, 2.5, c.seed.Alpha)
}

func TestCancelledContext(t *testing.T) {
	m, _ := eos.Lookup(eos.Vinet)
	ds, g := synth(t, m, eos.Energy)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDriver(nil).FitAll(ctx, ds, g, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
