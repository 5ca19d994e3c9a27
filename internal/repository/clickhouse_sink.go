package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
	applogger "EOSFit/pkg/logger"
)

const (
	fitsTable   = "eos_fits"
	curvesTable = "eos_curves"
	chunkSize   = 2000
)

// ClickHouseSchema returns the idempotent DDL for the result tables.
func ClickHouseSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
            run_id String,
            material String,
            kind LowCardinality(String),
            model LowCardinality(String),
            fixed_v0 Float64,
            e0 Float64,
            v0 Float64,
            k0_gpa Float64,
            k_prime Float64,
            extra Array(Float64),
            converged UInt8,
            evaluations UInt32,
            failure String,
            created_at DateTime64(3)
        ) ENGINE = MergeTree ORDER BY (material, model, created_at)`, database, fitsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
            material String,
            model LowCardinality(String),
            axis LowCardinality(String),
            v Float64,
            p Float64,
            e Float64,
            h Float64,
            created_at DateTime64(3)
        ) ENGINE = MergeTree ORDER BY (material, model, created_at, p)`, database, curvesTable),
	}
}

// ClickHouseSink stores fit results and curves in ClickHouse and reads the
// most recent fits back.
type ClickHouseSink struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
	now      func() time.Time
}

func NewClickHouseSink(db *sql.DB, database string, l *applogger.Logger) *ClickHouseSink {
	if l == nil {
		l = applogger.NewNop()
	}
	return &ClickHouseSink{db: db, database: database, l: l, now: time.Now}
}

func (s *ClickHouseSink) table(name string) string {
	if s.database == "" {
		return name
	}
	return s.database + "." + name
}

const fitColumns = "run_id, material, kind, model, fixed_v0, e0, v0, k0_gpa, k_prime, extra, converged, evaluations, failure, created_at"

func fitArgs(run *models.FitRun) []interface{} {
	args := make([]interface{}, 0, len(run.Results)*14)
	for _, r := range run.Results {
		converged := uint8(0)
		if r.Converged {
			converged = 1
		}
		extra := r.Params.Extra
		if extra == nil {
			extra = []float64{}
		}
		args = append(args,
			run.ID, run.Material, string(run.Kind), string(r.Model), r.FixedV0,
			r.Params.E0, r.Params.V0, r.K0GPa(), r.KPrime, extra,
			converged, uint32(r.Evaluations), r.Failure, run.CreatedAt,
		)
	}
	return args
}

func placeholders(rows, cols int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	return strings.TrimSuffix(strings.Repeat(row+",", rows), ",")
}

func (s *ClickHouseSink) WriteFits(ctx context.Context, run *models.FitRun) error {
	if len(run.Results) == 0 {
		return nil
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table(fitsTable), fitColumns, placeholders(len(run.Results), 14))
	if _, err := s.db.ExecContext(ctx, q, fitArgs(run)...); err != nil {
		s.l.Error("clickhouse insert fits error",
			applogger.String("run_id", run.ID),
			applogger.String("material", run.Material),
			applogger.Error(err),
		)
		return fmt.Errorf("insert fits: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) WriteCurve(ctx context.Context, c *models.DerivedCurve) error {
	created := s.now()
	for start := 0; start < len(c.Points); start += chunkSize {
		end := min(start+chunkSize, len(c.Points))
		args := make([]interface{}, 0, (end-start)*8)
		for _, pt := range c.Points[start:end] {
			args = append(args, c.Material, string(c.Model), string(c.Axis), pt.V, pt.P, pt.E, pt.H, created)
		}
		q := fmt.Sprintf("INSERT INTO %s (material, model, axis, v, p, e, h, created_at) VALUES %s",
			s.table(curvesTable), placeholders(end-start, 8))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse insert curve error",
				applogger.String("material", c.Material),
				applogger.String("model", string(c.Model)),
				applogger.Error(err),
			)
			return fmt.Errorf("insert curve: %w", err)
		}
	}
	return nil
}

// LatestFits returns the results of the most recent run for a material and
// data kind.
func (s *ClickHouseSink) LatestFits(ctx context.Context, material string, kind string) ([]models.FitResult, error) {
	q := fmt.Sprintf(`
        SELECT model, fixed_v0, e0, v0, k0_gpa, k_prime, extra, converged, evaluations, failure
        FROM %[1]s
        WHERE material = ? AND kind = ? AND run_id = (
            SELECT argMax(run_id, created_at) FROM %[1]s WHERE material = ? AND kind = ?
        )`, s.table(fitsTable))
	rows, err := s.db.QueryContext(ctx, q, material, kind, material, kind)
	if err != nil {
		return nil, fmt.Errorf("latest fits: %w", err)
	}
	defer rows.Close()

	var out []models.FitResult
	for rows.Next() {
		var (
			r         models.FitResult
			model     string
			k0GPa     float64
			converged uint8
			evals     uint32
		)
		if err := rows.Scan(&model, &r.FixedV0, &r.Params.E0, &r.Params.V0, &k0GPa, &r.KPrime,
			&r.Params.Extra, &converged, &evals, &r.Failure); err != nil {
			return nil, fmt.Errorf("scan fit: %w", err)
		}
		m, err := eos.Lookup(eos.Tag(model))
		if err != nil {
			return nil, err
		}
		r.Model, r.Code, r.Kind = m.Tag, m.Code, eos.Kind(kind)
		r.Params.K0 = k0GPa
		if r.Kind == eos.Energy {
			r.Params.K0 = eos.FromGPa(k0GPa)
		}
		r.Converged = converged == 1
		r.Evaluations = int(evals)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	order := make(map[eos.Tag]int)
	for i, t := range eos.Tags() {
		order[t] = i
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].Model] < order[out[j].Model] })
	return out, nil
}

func (s *ClickHouseSink) Close() error {
	return nil // connection pool is owned by pkg/clickhouse
}
