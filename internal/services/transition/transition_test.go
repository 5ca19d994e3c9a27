package transition

import (
	"errors"
	"testing"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
	"EOSFit/internal/services/derive"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linear(material string, h0, slope float64, pressures []float64) *models.DerivedCurve {
	c := &models.DerivedCurve{Model: eos.Vinet, Material: material}
	for _, p := range pressures {
		c.Points = append(c.Points, models.CurvePoint{P: p, H: h0 + slope*p})
	}
	return c
}

func grid(lo, hi float64) []float64 {
	r, _ := derive.Range(lo, hi, 1)
	return r
}

func TestLinearCrossing(t *testing.T) {
	a := linear("diamond", -5, 0.1, grid(0, 50))
	b := linear("graphite", -5.5, 0.12, grid(0, 50))

	tr, err := Find(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 25, tr.Pressure, 1e-8)
	assert.InDelta(t, -2.5, tr.Enthalpy, 1e-8)
	assert.Equal(t, "diamond", tr.MaterialA)
	assert.Equal(t, "graphite", tr.MaterialB)
	assert.Equal(t, eos.Vinet, tr.Model)
}

func TestUnsortedAndDuplicatePressures(t *testing.T) {
	a := linear("a", -5, 0.1, []float64{30, 0, 10, 10, 50, 20, 40})
	b := linear("b", -5.5, 0.12, []float64{50, 0, 25, 5})
	tr, err := Find(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 25, tr.Pressure, 1e-8)
}

func TestOnlyOverlapIsSearched(t *testing.T) {
	// lines would cross at P=25, outside the common range [30, 50]
	a := linear("a", -5, 0.1, grid(0, 50))
	b := linear("b", -5.5, 0.12, grid(30, 80))
	_, err := Find(a, b)
	assert.ErrorIs(t, err, ErrNoTransition)
}

func TestNoCrossing(t *testing.T) {
	a := linear("a", -5, 0.1, grid(0, 50))
	b := linear("b", -6, 0.1, grid(0, 50))
	_, err := Find(a, b)
	assert.ErrorIs(t, err, ErrNoTransition)

	c := linear("c", -6, 0.1, grid(60, 70))
	_, err = Find(a, c)
	assert.ErrorIs(t, err, ErrNoTransition)
}

func TestTooFewPoints(t *testing.T) {
	a := linear("a", -5, 0.1, []float64{1, 1})
	b := linear("b", -6, 0.1, grid(0, 5))
	_, err := Find(a, b)
	var ie *eos.InputError
	assert.True(t, errors.As(err, &ie), "got %v", err)
}

func TestModelMismatch(t *testing.T) {
	a := linear("a", -5, 0.1, grid(0, 50))
	b := linear("b", -5.5, 0.12, grid(0, 50))
	b.Model = eos.Keane
	_, err := Find(a, b)
	var ie *eos.InputError
	assert.True(t, errors.As(err, &ie))
}

func TestDerivedPhases(t *testing.T) {
	// the denser phase wins once P·ΔV outweighs its energy penalty
	ground := models.ParamRecord{
		Model: eos.Vinet, Kind: eos.Energy, Material: "alpha",
		Params: eos.Params{E0: -5.2, V0: 20, K0: 100, Extra: []float64{4.5}},
	}
	dense := models.ParamRecord{
		Model: eos.Vinet, Kind: eos.Energy, Material: "beta",
		Params: eos.Params{E0: -5.0, V0: 17, K0: 150, Extra: []float64{4.5}},
	}
	engine := derive.NewEngine(nil)
	ps := grid(0, 60)
	ca, err := engine.FromPressures(ground, ps)
	require.NoError(t, err)
	cb, err := engine.FromPressures(dense, ps)
	require.NoError(t, err)

	tr, err := Find(ca, cb)
	require.NoError(t, err)
	assert.Greater(t, tr.Pressure, 0.0)
	assert.Less(t, tr.Pressure, 60.0)

	i := int(tr.Pressure)
	require.Greater(t, i, 0)
	lowGap := ca.Points[i-1].H - cb.Points[i-1].H
	highGap := ca.Points[i+2].H - cb.Points[i+2].H
	assert.Less(t, lowGap, 0.0)
	assert.Greater(t, highGap, 0.0)
}
