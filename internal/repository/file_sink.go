package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"EOSFit/internal/domain/models"
	"EOSFit/internal/domain/repository"
	"EOSFit/internal/services/report"
	applogger "EOSFit/pkg/logger"
)

// FileSink writes one eos.out file per model and one VPEH file per curve
// into a directory.
type FileSink struct {
	dir string
	l   *applogger.Logger
}

func NewFileSink(dir string, l *applogger.Logger) (repository.ResultSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &FileSink{dir: dir, l: l}, nil
}

func (s *FileSink) WriteFits(ctx context.Context, run *models.FitRun) error {
	if run.Dataset == nil {
		return fmt.Errorf("fit run %s has no dataset", run.ID)
	}
	material := materialName(run.Material, run.ID)
	for _, r := range run.Results {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := report.FitFileName(run.Kind, r.Code, material)
		err := s.create(name, func(f *os.File) error { return report.WriteModelFile(f, r, run.Dataset) })
		if err != nil {
			return err
		}
		s.l.Debug("fit file written", applogger.String("file", name))
	}
	return nil
}

func (s *FileSink) WriteCurve(ctx context.Context, c *models.DerivedCurve) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := report.CurveFileName(c.Code, materialName(c.Material, "curve"))
	if err := s.create(name, func(f *os.File) error { return report.WriteCurve(f, c) }); err != nil {
		return err
	}
	s.l.Debug("curve file written", applogger.String("file", name), applogger.Int("rows", len(c.Points)))
	return nil
}

// create writes through a temporary file so readers never see a partial
// file.
func (s *FileSink) create(name string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, name))
}

func (s *FileSink) Close() error { return nil }

func materialName(material, fallback string) string {
	if material != "" {
		return material
	}
	return fallback
}
