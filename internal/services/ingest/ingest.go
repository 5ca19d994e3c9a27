// Package ingest turns raw volume/value columns into validated datasets.
package ingest

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
)

// Guess holds the starting E0 and V0 read off the data: the smallest value
// and the volume of the first row achieving it.
type Guess struct {
	E0 float64
	V0 float64
}

// FromArrays validates parallel volume/value columns.
func FromArrays(kind eos.Kind, material string, volumes, values []float64) (*models.Dataset, Guess, error) {
	if len(volumes) == 0 {
		return nil, Guess{}, &eos.InputError{Reason: "empty dataset"}
	}
	if len(volumes) != len(values) {
		return nil, Guess{}, &eos.InputError{
			Reason: fmt.Sprintf("length mismatch: %d volumes, %d values", len(volumes), len(values)),
		}
	}

	ds := &models.Dataset{Kind: kind, Material: material, Points: make([]models.Observation, len(volumes))}
	for i := range volumes {
		v, y := volumes[i], values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return nil, Guess{}, &eos.InputError{Reason: fmt.Sprintf("row %d: volume must be positive and finite, got %g", i+1, v)}
		}
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return nil, Guess{}, &eos.InputError{Reason: fmt.Sprintf("row %d: value must be finite, got %g", i+1, y)}
		}
		ds.Points[i] = models.Observation{Volume: v, Value: y}
	}
	return ds, GuessFor(ds), nil
}

// GuessFor returns the starting E0/V0 for ds.
func GuessFor(ds *models.Dataset) Guess {
	g := Guess{E0: math.Inf(1)}
	for _, p := range ds.Points {
		if p.Value < g.E0 {
			g.E0 = p.Value
			g.V0 = p.Volume
		}
	}
	return g
}

// Read parses a whitespace separated two-column table. Blank lines and
// lines starting with '#' are skipped; extra columns are ignored.
func Read(r io.Reader, kind eos.Kind, material string) (*models.Dataset, Guess, error) {
	var volumes, values []float64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, Guess{}, &eos.InputError{Reason: fmt.Sprintf("line %d: expected two columns", line)}
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, Guess{}, &eos.InputError{Reason: fmt.Sprintf("line %d: volume: %v", line, err)}
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, Guess{}, &eos.InputError{Reason: fmt.Sprintf("line %d: value: %v", line, err)}
		}
		volumes = append(volumes, v)
		values = append(values, y)
	}
	if err := sc.Err(); err != nil {
		return nil, Guess{}, fmt.Errorf("read dataset: %w", err)
	}
	return FromArrays(kind, material, volumes, values)
}

// RequireParams fails when ds has fewer points than the n parameters m
// needs to fit.
func RequireParams(ds *models.Dataset, m *eos.Model, n int) error {
	if len(ds.Points) < n {
		return &eos.InputError{
			Model:  m.Tag,
			Reason: fmt.Sprintf("%d points cannot determine %d parameters", len(ds.Points), n),
		}
	}
	return nil
}
