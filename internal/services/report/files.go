package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
)

const (
	fitSuffix   = "eos.out_"
	curvePrefix = "VPEH"
	curveSuffix = ".out_"
)

// FitFileName returns the name of the per-model fit file, e.g.
// "Evineos.out_Si".
func FitFileName(kind eos.Kind, code, material string) string {
	return kind.Letter() + code + fitSuffix + material
}

// CurveFileName returns the name of a derived curve file, e.g.
// "VPEHvin.out_Si".
func CurveFileName(code, material string) string {
	return curvePrefix + code + curveSuffix + material
}

// ParseFileName recovers the kind, model and material from a fit file name.
func ParseFileName(name string) (eos.Kind, *eos.Model, string, error) {
	head, material, ok := strings.Cut(name, fitSuffix)
	if !ok || len(head) != 4 {
		return "", nil, "", fmt.Errorf("not a fit file name: %q", name)
	}
	kind, err := eos.ParseKind(head[:1])
	if err != nil {
		return "", nil, "", err
	}
	m, err := eos.ByCode(head[1:])
	if err != nil {
		return "", nil, "", err
	}
	return kind, m, material, nil
}

// ParseCurveFileName recovers the model and material from a curve file
// name.
func ParseCurveFileName(name string) (*eos.Model, string, error) {
	rest, ok := strings.CutPrefix(name, curvePrefix)
	if !ok {
		return nil, "", fmt.Errorf("not a curve file name: %q", name)
	}
	code, material, ok := strings.Cut(rest, curveSuffix)
	if !ok || len(code) != 3 || material == "" {
		return nil, "", fmt.Errorf("not a curve file name: %q", name)
	}
	m, err := eos.ByCode(code)
	if err != nil {
		return nil, "", err
	}
	return m, material, nil
}

// WriteModelFile writes the record line, the formula, the point count and
// one row per observation: V, observed, fitted and the percentage
// deviation (fitted-observed)/observed·100.
func WriteModelFile(w io.Writer, r models.FitResult, ds *models.Dataset) error {
	m, err := eos.Lookup(r.Model)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n", FormatRecord(r))
	fmt.Fprintf(bw, "\n %s \n", m.Formula(ds.Kind))
	fmt.Fprintf(bw, "\n %d\n", len(ds.Points))

	for i, pt := range ds.Points {
		fit := fitted(m, r, ds.Kind, i, pt.Volume)
		diff := (fit - pt.Value) / pt.Value * 100
		fmt.Fprintf(bw, numFmt+" "+numFmt+" "+numFmt+" "+numFmt+"\n", pt.Volume, pt.Value, fit, diff)
	}
	return bw.Flush()
}

func fitted(m *eos.Model, r models.FitResult, kind eos.Kind, i int, v float64) float64 {
	if i < len(r.Fitted) {
		return r.Fitted[i]
	}
	if kind == eos.Pressure {
		return m.Pressure(v, r.Params)
	}
	return m.Energy(v, r.Params)
}

// WriteCurve writes one "V P E H" row per curve point.
func WriteCurve(w io.Writer, c *models.DerivedCurve) error {
	bw := bufio.NewWriter(w)
	for _, pt := range c.Points {
		fmt.Fprintf(bw, numFmt+" "+numFmt+" "+numFmt+" "+numFmt+"\n", pt.V, pt.P, pt.E, pt.H)
	}
	return bw.Flush()
}

// ReadCurve parses rows written by WriteCurve.
func ReadCurve(r io.Reader) ([]models.CurvePoint, error) {
	var out []models.CurvePoint
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("line %d: want 4 columns, got %d", line, len(fields))
		}
		var vals [4]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			vals[i] = v
		}
		out = append(out, models.CurvePoint{V: vals[0], P: vals[1], E: vals[2], H: vals[3]})
	}
	return out, sc.Err()
}
