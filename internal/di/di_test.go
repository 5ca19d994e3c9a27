package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
	"EOSFit/internal/services/report"
	"EOSFit/internal/usecase"
	"EOSFit/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Output.Dir = t.TempDir()
	cfg.Server.Port = 0
	return cfg
}

func TestInitializeAppWithFileSink(t *testing.T) {
	cfg := testConfig(t)
	app, cleanup, err := InitializeApp(cfg)
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, app.Fits)

	in, err := usecase.FitInputFrom(vinetRequest())
	require.NoError(t, err)
	run, err := app.Fits.Fit(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, run.Results, 1)
	assert.True(t, run.Results[0].Converged)

	_, err = os.Stat(filepath.Join(cfg.Output.Dir, report.FitFileName(eos.Energy, "vin", "Si")))
	assert.NoError(t, err)
}

func TestWorkRequiresBrokers(t *testing.T) {
	app, cleanup, err := InitializeApp(testConfig(t))
	require.NoError(t, err)
	defer cleanup()
	assert.Error(t, app.Work(context.Background()))
}

func TestServeStopsOnCancel(t *testing.T) {
	app, cleanup, err := InitializeApp(testConfig(t))
	require.NoError(t, err)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, app.Serve(ctx))
}

func TestInitializeAppFailsOnBadLogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Level = "loud"
	_, _, err := InitializeApp(cfg)
	assert.Error(t, err)
}

func vinetRequest() (req models.FitRequest) {
	m, _ := eos.Lookup(eos.Vinet)
	p := eos.Params{E0: -5.2, V0: 18, K0: 1.2, Extra: []float64{4.5}}
	req.Kind = "energy"
	req.Material = "Si"
	req.Models = []string{"vinet"}
	for i := 0; i < 12; i++ {
		v := 15.3 + 0.55*float64(i)
		req.Volumes = append(req.Volumes, v)
		req.Values = append(req.Values, m.Energy(v, p))
	}
	return req
}
