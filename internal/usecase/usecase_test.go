package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
	"EOSFit/internal/services/derive"
	"EOSFit/internal/services/fitting"
	"EOSFit/internal/services/transition"
	"EOSFit/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	runs   []*models.FitRun
	curves []*models.DerivedCurve
	err    error
}

func (s *fakeSink) WriteFits(_ context.Context, run *models.FitRun) error {
	s.runs = append(s.runs, run)
	return s.err
}

func (s *fakeSink) WriteCurve(_ context.Context, c *models.DerivedCurve) error {
	s.curves = append(s.curves, c)
	return s.err
}

func (s *fakeSink) Close() error { return nil }

type fakeMetrics struct {
	fits      map[string]int
	hits      int
	misses    int
	errors    map[string]int
	curveRows int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{fits: map[string]int{}, errors: map[string]int{}}
}

func (m *fakeMetrics) RecordFit(model, _ string, converged bool, _ int) {
	m.fits[model+"/"+strconv.FormatBool(converged)]++
}
func (m *fakeMetrics) RecordCurve(_ string, rows int) { m.curveRows += rows }
func (m *fakeMetrics) RecordCacheLookup(hit bool) {
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}
func (m *fakeMetrics) RecordError(kind string) { m.errors[kind]++ }
func (m *fakeMetrics) RecordLatency(string, float64) {}

// vinetEnergies samples the Vinet energy for V0=18, K0=1.2 eV/Å³, K0'=4.5.
func vinetEnergies() ([]float64, []float64) {
	m, _ := eos.Lookup(eos.Vinet)
	p := eos.Params{E0: -5.2, V0: 18, K0: 1.2, Extra: []float64{4.5}}
	vols := make([]float64, 12)
	ys := make([]float64, 12)
	for i := range vols {
		vols[i] = 15.3 + 0.55*float64(i)
		ys[i] = m.Energy(vols[i], p)
	}
	return vols, ys
}

func vinetRequest() models.FitRequest {
	vols, ys := vinetEnergies()
	return models.FitRequest{Kind: "energy", Material: "Si", Volumes: vols, Values: ys, Models: []string{"vin"}}
}

func TestFitRunnerCachesResults(t *testing.T) {
	sink, met := &fakeSink{}, newFakeMetrics()
	mem := cache.NewMemoryCache()
	r := NewFitRunner(fitting.NewDriver(nil), sink, mem, time.Minute, met, nil)

	run, err := r.Run(context.Background(), vinetRequest())
	require.NoError(t, err)
	require.Len(t, run.Results, 1)
	res := run.Results[0]
	assert.Equal(t, eos.Vinet, res.Model)
	require.True(t, res.Converged, res.Failure)
	assert.InDelta(t, 18, res.Params.V0, 1e-6)
	assert.InDelta(t, eos.ToGPa(1.2), res.K0GPa(), 1e-4)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "Si", run.Material)

	req := vinetRequest()
	req.Material = "Ge"
	again, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Ge", again.Material)
	assert.NotEqual(t, run.ID, again.ID)
	assert.InDelta(t, res.Params.V0, again.Results[0].Params.V0, 1e-12)

	assert.Equal(t, 1, met.misses)
	assert.Equal(t, 1, met.hits)
	assert.Equal(t, 1, met.fits["vinet/true"], "cached runs are not refitted")
	assert.Len(t, sink.runs, 2)
}

func TestFitRunnerRejectsBadInput(t *testing.T) {
	met := newFakeMetrics()
	r := NewFitRunner(fitting.NewDriver(nil), nil, nil, 0, met, nil)

	req := vinetRequest()
	req.Kind = "volume"
	_, err := r.Run(context.Background(), req)
	var ie *eos.InputError
	assert.ErrorAs(t, err, &ie)

	req = vinetRequest()
	req.Models = []string{"murnaghan"}
	_, err = r.Run(context.Background(), req)
	assert.ErrorAs(t, err, &ie)

	req = vinetRequest()
	req.Values = req.Values[:3]
	_, err = r.Run(context.Background(), req)
	assert.ErrorAs(t, err, &ie)
	assert.Equal(t, 3, met.errors["fit_input"])
}

func TestNonPositiveFixedV0FitsFreely(t *testing.T) {
	r := NewFitRunner(fitting.NewDriver(nil), nil, nil, 0, nil, nil)
	for _, v0 := range []float64{0, -3} {
		req := vinetRequest()
		req.FixedV0 = v0
		run, err := r.Run(context.Background(), req)
		require.NoError(t, err)
		assert.Zero(t, run.FixedV0)
		res := run.Results[0]
		require.True(t, res.Converged, res.Failure)
		assert.Zero(t, res.FixedV0)
		assert.InDelta(t, 18, res.Params.V0, 1e-6)
	}
}

func TestFitRunnerReportsSinkErrors(t *testing.T) {
	boom := errors.New("disk full")
	r := NewFitRunner(fitting.NewDriver(nil), &fakeSink{err: boom}, nil, 0, nil, nil)
	run, err := r.Run(context.Background(), vinetRequest())
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, run, "the run is still returned")
	assert.Len(t, run.Results, 1)
}

func TestFitRunnerStopsOnCancel(t *testing.T) {
	r := NewFitRunner(fitting.NewDriver(nil), nil, nil, 0, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, vinetRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecordFromParams(t *testing.T) {
	rec, err := RecordFrom(eos.Pressure, models.RecordRequest{Model: "vin", Material: "Si", Params: []float64{18, 190, 4.5}})
	require.NoError(t, err)
	assert.Equal(t, eos.Vinet, rec.Model)
	assert.Equal(t, "Si", rec.Material)
	assert.Equal(t, 190.0, rec.Params.K0)
	assert.Equal(t, []float64{4.5}, rec.Params.Extra)

	_, err = RecordFrom(eos.Energy, models.RecordRequest{Model: "vinet", Line: "18 190"})
	var ie *eos.InputError
	assert.ErrorAs(t, err, &ie)
}

func TestDeriverSkipsUnsolvableRecords(t *testing.T) {
	sink, met := &fakeSink{}, newFakeMetrics()
	d := NewDeriver(derive.NewEngine(nil), sink, met, nil)

	in, err := DeriveInputFrom(models.DeriveRequest{
		Kind: "pressure", Axis: "pressure", Min: -100, Max: float(0), Step: 100,
		Records: []models.RecordRequest{
			{Model: "vinet", Material: "stiff", Line: "18 1000 4"},
			// saturates at -K0/K0' = -50 GPa
			{Model: "meo", Material: "soft", Line: "18 200 4"},
		},
	})
	require.NoError(t, err)

	out, err := d.Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Curves, 1)
	assert.Equal(t, "stiff", out.Curves[0].Material)
	assert.Len(t, out.Curves[0].Points, 2)
	assert.InDelta(t, 18, out.Curves[0].Points[1].V, 1e-9)

	require.Len(t, out.Failures, 1)
	assert.Equal(t, eos.Modified, out.Failures[0].Model)
	assert.Contains(t, out.Failures[0].Error, "-100")

	assert.Len(t, sink.curves, 1)
	assert.Equal(t, 1, met.errors["root_find"])
	assert.Equal(t, 2, met.curveRows)
}

func TestDeriverVolumeAxis(t *testing.T) {
	d := NewDeriver(derive.NewEngine(nil), nil, nil, nil)
	in, err := DeriveInputFrom(models.DeriveRequest{
		Kind: "E", Axis: "volume", Min: 16, Max: float(20), Step: 1,
		Records: []models.RecordRequest{{Model: "vinet", Line: "-5.2 18 190 4.5"}},
	})
	require.NoError(t, err)
	out, err := d.Run(context.Background(), in)
	require.NoError(t, err)
	pts := out.Curves[0].Points
	require.Len(t, pts, 5)
	assert.InDelta(t, 0, pts[2].P, 1e-9)
	assert.InDelta(t, -5.2, pts[2].E, 1e-9)
	assert.Greater(t, pts[0].P, pts[4].P)
}

func TestDeriverRejectsBadRange(t *testing.T) {
	d := NewDeriver(derive.NewEngine(nil), nil, nil, nil)
	_, err := d.Run(context.Background(), DeriveInput{Axis: models.AxisPressure, Min: 10, Max: 0, Step: 1})
	var ie *eos.InputError
	assert.ErrorAs(t, err, &ie)

	_, err = DeriveInputFrom(models.DeriveRequest{Kind: "E", Axis: "time", Step: 1})
	assert.ErrorAs(t, err, &ie)
}

func TestRangeMaxDefaultsOnlyWhenAbsent(t *testing.T) {
	phase := models.RecordRequest{Model: "vinet", Line: "-5.2 20 100 4.5"}
	in, err := TransitionInputFrom(models.TransitionRequest{Kind: "energy", Step: 1, PhaseA: phase, PhaseB: phase})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRangeMax, in.Max)

	in, err = TransitionInputFrom(models.TransitionRequest{Kind: "energy", Min: -5, Max: float(0), Step: 1, PhaseA: phase, PhaseB: phase})
	require.NoError(t, err)
	assert.Equal(t, 0.0, in.Max)

	d, err := DeriveInputFrom(models.DeriveRequest{Kind: "E", Axis: "pressure", Max: float(0), Step: 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, d.Max)
}

func TestTransitionFinder(t *testing.T) {
	in, err := TransitionInputFrom(models.TransitionRequest{
		Kind: "energy", Min: 0, Max: float(60), Step: 1,
		PhaseA: models.RecordRequest{Model: "vinet", Material: "alpha", Line: "-5.2 20 100 4.5"},
		PhaseB: models.RecordRequest{Model: "vinet", Material: "beta", Line: "-5.0 17 150 4.5"},
	})
	require.NoError(t, err)

	tf := NewTransitionFinder(derive.NewEngine(nil), nil, nil)
	tr, err := tf.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "alpha", tr.MaterialA)
	assert.Equal(t, "beta", tr.MaterialB)
	assert.Greater(t, tr.Pressure, 0.0)
	assert.Less(t, tr.Pressure, 60.0)

	// parallel enthalpy curves never cross
	in.B = in.A
	in.B.Params.E0 += 0.1
	_, err = tf.Run(context.Background(), in)
	assert.ErrorIs(t, err, transition.ErrNoTransition)
}

func jobPayload(t *testing.T, job models.FitJob) []byte {
	t.Helper()
	b, err := json.Marshal(job)
	require.NoError(t, err)
	return b
}

func TestFitJobHandlerInlineAndDuplicates(t *testing.T) {
	sink := &fakeSink{}
	locks := cache.NewMemoryCache()
	r := NewFitRunner(fitting.NewDriver(nil), sink, nil, 0, nil, nil)
	h := NewFitJobHandler("eos.jobs", r, locks, time.Minute, t.TempDir(), nil, nil)
	assert.Equal(t, "eos.jobs", h.Topic())

	vols, ys := vinetEnergies()
	job := models.FitJob{ID: "job-1", Kind: "energy", Material: "Si", Volumes: vols, Values: ys, Models: []string{"vinet"}}
	require.NoError(t, h.Handle(context.Background(), jobPayload(t, job)))
	require.NoError(t, h.Handle(context.Background(), jobPayload(t, job)))
	assert.Len(t, sink.runs, 1, "redelivered job is skipped")
}

func TestFitJobHandlerReleasesFailedJobs(t *testing.T) {
	locks := cache.NewMemoryCache()
	r := NewFitRunner(fitting.NewDriver(nil), nil, nil, 0, nil, nil)
	h := NewFitJobHandler("eos.jobs", r, locks, time.Minute, t.TempDir(), nil, nil)

	job := models.FitJob{ID: "job-2", Kind: "energy", Volumes: []float64{1}, Values: []float64{1, 2}}
	assert.Error(t, h.Handle(context.Background(), jobPayload(t, job)))

	ok, err := locks.TryLock(context.Background(), "job:job-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock released after failure")

	assert.Error(t, h.Handle(context.Background(), []byte("{not json")))
}

func TestFitJobHandlerReadsFiles(t *testing.T) {
	dir := t.TempDir()
	vols, ys := vinetEnergies()
	var b strings.Builder
	for i := range vols {
		b.WriteString(strconv.FormatFloat(vols[i], 'f', 10, 64) + " " + strconv.FormatFloat(ys[i], 'f', 12, 64) + "\n")
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "si.dat"), []byte(b.String()), 0o644))

	sink := &fakeSink{}
	r := NewFitRunner(fitting.NewDriver(nil), sink, nil, 0, nil, nil)
	h := NewFitJobHandler("eos.jobs", r, nil, time.Minute, dir, nil, nil)

	job := models.FitJob{Kind: "E", Material: "Si", Path: "si.dat", Models: []string{"2nd", "vin"}}
	require.NoError(t, h.Handle(context.Background(), jobPayload(t, job)))
	require.Len(t, sink.runs, 1)
	assert.Len(t, sink.runs[0].Results, 2)

	job.Path = "../etc/passwd"
	err := h.Handle(context.Background(), jobPayload(t, job))
	var ie *eos.InputError
	assert.ErrorAs(t, err, &ie)
}

func float(v float64) *float64 { return &v }
