// Package report renders fit results and derived curves in the plain-text
// layouts used by the eos.out and VPEH files, and reads them back.
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

const numFmt = "%15.10f"

// displayed lists the values written after V0 and K0 for a model, and the
// trailing comment naming the shape parameters that are not K0'.
func displayed(r models.FitResult) ([]float64, string) {
	x := r.Params.Extra
	switch r.Model {
	case eos.SecondOrder:
		return nil, ""
	case eos.Alpha:
		return []float64{r.KPrime, at(x, 0)}, "alpha"
	case eos.AlphaBeta:
		return []float64{r.KPrime, at(x, 0), at(x, 1)}, "alpha, beta"
	case eos.Keane:
		return []float64{at(x, 0), at(x, 1)}, "Kpi"
	default:
		return []float64{at(x, 0)}, ""
	}
}

func at(x []float64, i int) float64 {
	if i < len(x) {
		return x[i]
	}
	return 0
}

// FormatRecord renders the first line of a fit file. K0 is always written
// in GPa and pressure records carry no E0.
func FormatRecord(r models.FitResult) string {
	var b strings.Builder
	vals := make([]float64, 0, 6)
	if r.Kind == eos.Energy {
		vals = append(vals, r.Params.E0)
	}
	vals = append(vals, r.Params.V0, r.K0GPa())
	extra, comment := displayed(r)
	vals = append(vals, extra...)

	for i, v := range vals {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, numFmt, v)
	}
	if r.Model == eos.SecondOrder {
		b.WriteString("    4.0")
	}
	if comment != "" {
		b.WriteString(" : ")
		b.WriteString(comment)
	}
	return b.String()
}

// recordWidth is the number of numeric fields after V0 and K0.
func recordWidth(tag eos.Tag) int {
	switch tag {
	case eos.Alpha, eos.Keane:
		return 2
	case eos.AlphaBeta:
		return 3
	default:
		return 1
	}
}

// ParseRecord reads a record line written by FormatRecord. Display-only
// fields (the literal 4.0 and the derived K0') are dropped so that Extra
// holds exactly the model's shape parameters.
func ParseRecord(line string, tag eos.Tag, kind eos.Kind) (models.ParamRecord, error) {
	m, err := eos.Lookup(tag)
	if err != nil {
		return models.ParamRecord{}, &eos.InputError{Model: tag, Reason: err.Error()}
	}
	body, _, _ := strings.Cut(line, ":")
	fields := strings.Fields(body)

	lead := 2
	if kind == eos.Energy {
		lead = 3
	}
	if want := lead + recordWidth(m.Tag); len(fields) != want {
		return models.ParamRecord{}, &eos.InputError{
			Model:  m.Tag,
			Reason: fmt.Sprintf("record has %d fields, want %d", len(fields), want),
		}
	}

	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return models.ParamRecord{}, &eos.InputError{Model: m.Tag, Reason: fmt.Sprintf("field %d: %v", i+1, err)}
		}
		vals[i] = v
	}

	rec := models.ParamRecord{Model: m.Tag, Kind: kind}
	if kind == eos.Energy {
		rec.Params.E0, vals = vals[0], vals[1:]
	}
	rec.Params.V0, rec.Params.K0 = vals[0], vals[1]
	tail := vals[2:]
	switch m.Tag {
	case eos.SecondOrder:
		tail = nil
	case eos.Alpha, eos.AlphaBeta:
		tail = tail[1:]
	}
	if len(tail) > 0 {
		rec.Params.Extra = append([]float64(nil), tail...)
	}
	return rec, nil
}

// ReadRecord parses the first non-blank line of r as a record.
func ReadRecord(r io.Reader, tag eos.Tag, kind eos.Kind) (models.ParamRecord, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return ParseRecord(line, tag, kind)
		}
	}
	if err := sc.Err(); err != nil {
		return models.ParamRecord{}, err
	}
	return models.ParamRecord{}, &eos.InputError{Model: tag, Reason: "empty record file"}
}
