package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"EOSFit/internal/di"
	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
	"EOSFit/internal/services/ingest"
	"EOSFit/internal/services/report"
	"EOSFit/internal/services/transition"
	"EOSFit/internal/usecase"
	"EOSFit/pkg/config"
	applogger "EOSFit/pkg/logger"
	"EOSFit/pkg/server"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// app loads the configuration, applies mutate and wires the application.
func (o *rootOptions) app(mutate func(*config.Config)) (*config.Config, *server.App, func(), error) {
	cfg, err := config.LoadWithEnv(o.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("validate config: %w", err)
	}
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("app initialization failed: %w", err)
	}
	return cfg, app, cleanup, nil
}

func outputDir(dir string) func(*config.Config) {
	return func(c *config.Config) {
		if dir != "" {
			c.Output.Dir = dir
		}
	}
}

func newFitCmd(root *rootOptions) *cobra.Command {
	var (
		kind     string
		material string
		out      string
		fixedV0  float64
		names    []string
	)
	cmd := &cobra.Command{
		Use:   "fit DATAFILE",
		Short: "Fit a two-column volume/value table to the EOS models",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := eos.ParseKind(kind)
			if err != nil {
				return err
			}
			cfg, app, cleanup, err := root.app(outputDir(out))
			if err != nil {
				return err
			}
			defer cleanup()

			if len(names) == 0 {
				names = cfg.Fit.Models
			}
			tags, err := usecase.ResolveModels(names)
			if err != nil {
				return err
			}
			if material == "" {
				base := filepath.Base(args[0])
				material = strings.TrimSuffix(base, filepath.Ext(base))
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			ds, _, err := ingest.Read(f, k, material)
			if err != nil {
				return err
			}

			run, err := app.Fits.Fit(cmd.Context(), usecase.FitInput{Dataset: ds, FixedV0: fixedV0, Models: tags})
			if run != nil {
				if serr := report.Summary(cmd.OutOrStdout(), run.Results); serr != nil {
					return serr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "energy", "data kind: energy|pressure (E|P)")
	cmd.Flags().StringVarP(&material, "material", "m", "", "material name (defaults to the data file name)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory (overrides output.dir)")
	cmd.Flags().Float64Var(&fixedV0, "fixed-v0", 0, "pin V0 to this volume; zero or less fits it")
	cmd.Flags().StringSliceVar(&names, "models", nil, "models to fit by tag or code (default: fit.models or all)")
	return cmd
}

// readRecords loads the record line of each fit file. Kind, model and
// material come from the file name.
func readRecords(paths []string) ([]models.ParamRecord, error) {
	recs := make([]models.ParamRecord, 0, len(paths))
	for _, p := range paths {
		kind, m, material, err := report.ParseFileName(filepath.Base(p))
		if err != nil {
			return nil, err
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		rec, err := report.ReadRecord(f, m.Tag, kind)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		rec.Material = material
		recs = append(recs, rec)
	}
	return recs, nil
}

type rangeFlags struct {
	min, max, step float64
}

func (r *rangeFlags) register(cmd *cobra.Command, hi float64) {
	cmd.Flags().Float64Var(&r.min, "min", 0, "start of the range")
	cmd.Flags().Float64Var(&r.max, "max", hi, "end of the range")
	cmd.Flags().Float64Var(&r.step, "step", 1, "step")
}

func newDeriveCmd(root *rootOptions) *cobra.Command {
	var (
		axis string
		out  string
		rng  rangeFlags
	)
	cmd := &cobra.Command{
		Use:   "derive FITFILE...",
		Short: "Derive V, P, E, H curves from fit files",
		Long: `Derive V, P, E, H curves from the record line of fit files such as
Evineos.out_Si. With --axis pressure the range is in GPa and volumes are
solved for; with --axis volume the range is in Å³.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := models.Axis(axis)
			if a != models.AxisPressure && a != models.AxisVolume {
				return fmt.Errorf("--axis must be pressure or volume")
			}
			recs, err := readRecords(args)
			if err != nil {
				return err
			}
			_, app, cleanup, err := root.app(outputDir(out))
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := app.Deriver.Run(cmd.Context(), usecase.DeriveInput{
				Axis: a, Min: rng.min, Max: rng.max, Step: rng.step, Records: recs,
			})
			if err != nil {
				return err
			}
			for _, c := range res.Curves {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d rows\n", c.Code, c.Material, len(c.Points))
			}
			for _, f := range res.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s %s: %s\n", f.Model, f.Material, f.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&axis, "axis", string(models.AxisPressure), "sampled axis: pressure|volume")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory (overrides output.dir)")
	rng.register(cmd, 100)
	return cmd
}

// curvePair is two phases' curves for one model.
type curvePair struct {
	a, b *models.DerivedCurve
}

func readCurveFile(path string) (*models.DerivedCurve, error) {
	m, material, err := report.ParseCurveFileName(filepath.Base(path))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pts, err := report.ReadCurve(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &models.DerivedCurve{Model: m.Tag, Code: m.Code, Material: material, Axis: models.AxisPressure, Points: pts}, nil
}

// sharedCurves pairs the curve files of materials a and b in dir that were
// derived with the same model, in registry order.
func sharedCurves(dir, a, b string) ([]curvePair, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	byMaterial := map[string]map[eos.Tag]string{a: {}, b: {}}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m, material, err := report.ParseCurveFileName(e.Name())
		if err != nil {
			continue
		}
		if paths, ok := byMaterial[material]; ok {
			paths[m.Tag] = filepath.Join(dir, e.Name())
		}
	}

	var pairs []curvePair
	for _, m := range eos.All() {
		pa, okA := byMaterial[a][m.Tag]
		pb, okB := byMaterial[b][m.Tag]
		if !okA || !okB {
			continue
		}
		ca, err := readCurveFile(pa)
		if err != nil {
			return nil, err
		}
		cb, err := readCurveFile(pb)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, curvePair{a: ca, b: cb})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no curve files for both %s and %s in %s", a, b, dir)
	}
	return pairs, nil
}

func newTransitionCmd(root *rootOptions) *cobra.Command {
	var (
		rng rangeFlags
		dir string
	)
	cmd := &cobra.Command{
		Use:   "transition A B",
		Short: "Find the pressure at which two phases have equal enthalpy",
		Long: `A and B are two fit files such as Evineos.out_alpha, whose curves are
derived over --min..--max, or two curve files such as VPEHvin.out_alpha.
With --dir, A and B are material names and every model for which both
have a curve file in that directory is compared.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pairs []curvePair
			var recs []models.ParamRecord
			switch {
			case dir != "":
				p, err := sharedCurves(dir, args[0], args[1])
				if err != nil {
					return err
				}
				pairs = p
			case strings.HasPrefix(filepath.Base(args[0]), "VPEH"):
				a, err := readCurveFile(args[0])
				if err != nil {
					return err
				}
				b, err := readCurveFile(args[1])
				if err != nil {
					return err
				}
				pairs = []curvePair{{a: a, b: b}}
			default:
				r, err := readRecords(args)
				if err != nil {
					return err
				}
				recs = r
			}

			_, app, cleanup, err := root.app(nil)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			if recs != nil {
				tr, err := app.Finder.Run(cmd.Context(), usecase.TransitionInput{
					A: recs[0], B: recs[1], Min: rng.min, Max: rng.max, Step: rng.step,
				})
				if err != nil {
					return err
				}
				printTransition(out, tr)
				return nil
			}

			found := 0
			for _, p := range pairs {
				tr, err := app.Finder.Compare(cmd.Context(), p.a, p.b)
				if errors.Is(err, transition.ErrNoTransition) && len(pairs) > 1 {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", p.a.Model, err)
					continue
				}
				if err != nil {
					return err
				}
				printTransition(out, tr)
				found++
			}
			if found == 0 {
				return transition.ErrNoTransition
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of curve files; A and B are then material names")
	rng.register(cmd, 100)
	return cmd
}

func printTransition(w io.Writer, tr *models.Transition) {
	fmt.Fprintf(w, "%s %s -> %s: P = %.4f GPa, H = %.6f eV\n",
		tr.Model, tr.MaterialA, tr.MaterialB, tr.Pressure, tr.Enthalpy)
}

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the job worker when brokers are set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, app, cleanup, err := root.app(nil)
			if err != nil {
				return err
			}
			defer cleanup()
			app.Logger().Info("starting eosfit",
				applogger.String("env", cfg.Environment),
				applogger.String("sinks", strings.Join(cfg.Output.Sinks, ",")),
			)
			return app.Serve(cmd.Context())
		},
	}
}

func newWorkerCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume fit jobs from Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, app, cleanup, err := root.app(nil)
			if err != nil {
				return err
			}
			defer cleanup()
			return app.Work(cmd.Context())
		},
	}
}
