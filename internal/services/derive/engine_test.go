package derive

import (
	"errors"
	"math"
	"testing"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shapes = map[eos.Tag][]float64{
	eos.SecondOrder: nil,
	eos.ThirdOrder:  {4.5},
	eos.Vinet:       {4.5},
	eos.Alpha:       {2.6},
	eos.AlphaBeta:   {2.8, 1.6},
	eos.Modified:    {4.5},
	eos.Keane:       {4.5, 3.0},
}

func record(tag eos.Tag) models.ParamRecord {
	return models.ParamRecord{
		Model:  tag,
		Kind:   eos.Energy,
		Params: eos.Params{E0: -5.2, V0: 18, K0: 190, Extra: shapes[tag]},
	}
}

func TestVinetAtZeroPressure(t *testing.T) {
	rec := models.ParamRecord{
		Model:  eos.Vinet,
		Kind:   eos.Energy,
		Params: eos.Params{E0: -5.2, V0: 18, K0: 200, Extra: []float64{4}},
	}
	curve, err := NewEngine(nil).FromPressures(rec, []float64{0})
	require.NoError(t, err)
	require.Len(t, curve.Points, 1)
	pt := curve.Points[0]
	assert.InDelta(t, 18, pt.V, 1e-9)
	assert.InDelta(t, -5.2, pt.E, 1e-9)
	assert.InDelta(t, -5.2, pt.H, 1e-9)
	assert.Equal(t, 0.0, pt.P)
}

func TestPressureRoundTrip(t *testing.T) {
	pressures, err := Range(0, 50, 5)
	require.NoError(t, err)
	engine := NewEngine(nil)

	for _, m := range eos.All() {
		rec := record(m.Tag)
		curve, err := engine.FromPressures(rec, pressures)
		require.NoError(t, err, m.Code)
		require.Len(t, curve.Points, len(pressures))

		internal := rec.Params.Clone()
		internal.K0 = eos.FromGPa(internal.K0)
		prev := math.Inf(1)
		for i, pt := range curve.Points {
			got := eos.ToGPa(m.Pressure(pt.V, internal))
			assert.InDelta(t, pressures[i], got, 1e-6, "%s P=%g", m.Code, pressures[i])
			assert.InDelta(t, pt.E+eos.FromGPa(pt.P)*pt.V, pt.H, 1e-9, m.Code)
			assert.Less(t, pt.V, prev, "%s volume must shrink under pressure", m.Code)
			prev = pt.V
		}
	}
}

func TestVolumeAxisMatchesPressureAxis(t *testing.T) {
	engine := NewEngine(nil)
	for _, m := range eos.All() {
		rec := record(m.Tag)
		byP, err := engine.FromPressures(rec, []float64{10, 30})
		require.NoError(t, err)
		vols := []float64{byP.Points[0].V, byP.Points[1].V}

		byV, err := engine.FromVolumes(rec, vols)
		require.NoError(t, err)
		assert.Equal(t, models.AxisVolume, byV.Axis)
		for i := range vols {
			assert.InDelta(t, byP.Points[i].P, byV.Points[i].P, 1e-6, m.Code)
			assert.InDelta(t, byP.Points[i].E, byV.Points[i].E, 1e-9, m.Code)
			assert.InDelta(t, byP.Points[i].H, byV.Points[i].H, 1e-7, m.Code)
		}
	}
}

func TestPressureRecordsAreRelativeToZero(t *testing.T) {
	rec := record(eos.Vinet)
	rec.Kind = eos.Pressure
	curve, err := NewEngine(nil).FromVolumes(rec, []float64{18})
	require.NoError(t, err)
	assert.InDelta(t, 0, curve.Points[0].E, 1e-12)
}

func TestUnreachablePressureIsRootFindError(t *testing.T) {
	// the modified form saturates at P = -K0/K0' for large volumes
	rec := models.ParamRecord{
		Model:  eos.Modified,
		Kind:   eos.Energy,
		Params: eos.Params{E0: -5.2, V0: 18, K0: 200, Extra: []float64{4}},
	}
	curve, err := NewEngine(nil).FromPressures(rec, []float64{0, -100})
	assert.Nil(t, curve)
	var rf *eos.RootFindError
	require.True(t, errors.As(err, &rf), "got %v", err)
	assert.Equal(t, eos.Modified, rf.Model)
	assert.Equal(t, -100.0, rf.Pressure)
}

func TestInvalidRecords(t *testing.T) {
	engine := NewEngine(nil)
	bad := []models.ParamRecord{
		{Model: "birch", Params: eos.Params{V0: 1, K0: 1}},
		{Model: eos.Vinet, Params: eos.Params{V0: 18, K0: 100}},
		{Model: eos.Vinet, Params: eos.Params{V0: -1, K0: 100, Extra: []float64{4}}},
		{Model: eos.Vinet, Params: eos.Params{V0: 18, K0: 0, Extra: []float64{4}}},
	}
	for _, rec := range bad {
		_, err := engine.FromPressures(rec, []float64{1})
		var ie *eos.InputError
		assert.True(t, errors.As(err, &ie), "%v", rec)
	}
	_, err := engine.FromVolumes(record(eos.Vinet), []float64{-3})
	var ie *eos.InputError
	assert.True(t, errors.As(err, &ie))
}

func TestSeedVolume(t *testing.T) {
	assert.Equal(t, 18.0, SeedVolume(18, 1, 4, 0))
	assert.Equal(t, 18.0, SeedVolume(18, 1, 4, -1))
	assert.Less(t, SeedVolume(18, 1, 4, 0.1), 18.0)
}

func TestRange(t *testing.T) {
	r, err := Range(0, 100, 1)
	require.NoError(t, err)
	assert.Len(t, r, 101)
	assert.Equal(t, 100.0, r[100])

	r, err = Range(10, 11, 0.1)
	require.NoError(t, err)
	assert.Len(t, r, 11)

	_, err = Range(1, 0, 1)
	assert.Error(t, err)
	_, err = Range(0, 1, 0)
	assert.Error(t, err)
}

func TestNewtonRespectsPositiveAxis(t *testing.T) {
	root, err := newton(func(x float64) float64 { return x*x - 4 }, 0.1, 1e-12, 1e-12, 60)
	require.NoError(t, err)
	assert.InDelta(t, 2, root, 1e-10)

	_, err = newton(func(x float64) float64 { return 1 }, 1, 1e-12, 1e-12, 10)
	assert.ErrorIs(t, err, errFlatDerivative)
}
