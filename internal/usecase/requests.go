package usecase

import (
	"strconv"
	"strings"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"
	"EOSFit/internal/domain/repository"
	"EOSFit/internal/services/ingest"
	"EOSFit/internal/services/report"
)

// FitInputFrom validates the wire form of a fit request.
func FitInputFrom(req models.FitRequest) (FitInput, error) {
	kind, err := eos.ParseKind(req.Kind)
	if err != nil {
		return FitInput{}, &eos.InputError{Reason: err.Error()}
	}
	tags, err := ResolveModels(req.Models)
	if err != nil {
		return FitInput{}, err
	}
	ds, _, err := ingest.FromArrays(kind, req.Material, req.Volumes, req.Values)
	if err != nil {
		return FitInput{}, err
	}
	return FitInput{Dataset: ds, FixedV0: req.FixedV0, Models: tags}, nil
}

// ResolveModels maps tags or file codes to tags. An empty list selects
// every model.
func ResolveModels(names []string) ([]eos.Tag, error) {
	tags := make([]eos.Tag, 0, len(names))
	for _, n := range names {
		m, err := eos.Resolve(strings.TrimSpace(n))
		if err != nil {
			return nil, &eos.InputError{Reason: err.Error()}
		}
		tags = append(tags, m.Tag)
	}
	return tags, nil
}

// RecordFrom builds a parameter record from either a record line or a bare
// parameter list laid out the same way.
func RecordFrom(kind eos.Kind, r models.RecordRequest) (models.ParamRecord, error) {
	m, err := eos.Resolve(r.Model)
	if err != nil {
		return models.ParamRecord{}, &eos.InputError{Reason: err.Error()}
	}
	line := r.Line
	if line == "" {
		fields := make([]string, len(r.Params))
		for i, p := range r.Params {
			fields[i] = strconv.FormatFloat(p, 'g', -1, 64)
		}
		line = strings.Join(fields, " ")
	}
	rec, err := report.ParseRecord(line, m.Tag, kind)
	if err != nil {
		return models.ParamRecord{}, err
	}
	rec.Material = r.Material
	return rec, nil
}

// DeriveInputFrom validates the wire form of a derive request.
func DeriveInputFrom(req models.DeriveRequest) (DeriveInput, error) {
	kind, err := eos.ParseKind(req.Kind)
	if err != nil {
		return DeriveInput{}, &eos.InputError{Reason: err.Error()}
	}
	in := DeriveInput{
		Axis: models.Axis(req.Axis),
		Min:  req.Min,
		Max:  rangeMax(req.Max),
		Step: req.Step,
	}
	if in.Axis != models.AxisPressure && in.Axis != models.AxisVolume {
		return DeriveInput{}, &eos.InputError{Reason: "axis must be pressure or volume"}
	}
	for _, r := range req.Records {
		rec, err := RecordFrom(kind, r)
		if err != nil {
			return DeriveInput{}, err
		}
		in.Records = append(in.Records, rec)
	}
	return in, nil
}

// TransitionInputFrom validates the wire form of a transition request.
func TransitionInputFrom(req models.TransitionRequest) (TransitionInput, error) {
	kind, err := eos.ParseKind(req.Kind)
	if err != nil {
		return TransitionInput{}, &eos.InputError{Reason: err.Error()}
	}
	a, err := RecordFrom(kind, req.PhaseA)
	if err != nil {
		return TransitionInput{}, err
	}
	b, err := RecordFrom(kind, req.PhaseB)
	if err != nil {
		return TransitionInput{}, err
	}
	return TransitionInput{A: a, B: b, Min: req.Min, Max: rangeMax(req.Max), Step: req.Step}, nil
}

func rangeMax(v *float64) float64 {
	if v == nil {
		return models.DefaultRangeMax
	}
	return *v
}

type nopMetrics struct{}

func (nopMetrics) RecordFit(string, string, bool, int) {}
func (nopMetrics) RecordCurve(string, int) {}
func (nopMetrics) RecordCacheLookup(bool) {}
func (nopMetrics) RecordError(string) {}
func (nopMetrics) RecordLatency(string, float64) {}

var _ repository.Metrics = nopMetrics{}
