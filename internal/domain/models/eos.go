package models

import (
	"time"

	"EOSFit/internal/domain/eos"
)

// Observation is one row of an input table: a volume (Å³/atom) and the
// energy (eV/atom) or pressure (GPa) measured there.
type Observation struct {
	Volume float64 `json:"volume"`
	Value  float64 `json:"value"`
}

// Dataset is a validated set of observations of a single kind.
type Dataset struct {
	Kind     eos.Kind      `json:"kind"`
	Material string        `json:"material,omitempty"`
	Points   []Observation `json:"points"`
}

// Volumes returns the volume column.
func (d *Dataset) Volumes() []float64 {
	out := make([]float64, len(d.Points))
	for i, p := range d.Points {
		out[i] = p.Volume
	}
	return out
}

// Values returns the energy or pressure column.
func (d *Dataset) Values() []float64 {
	out := make([]float64, len(d.Points))
	for i, p := range d.Points {
		out[i] = p.Value
	}
	return out
}

// FitResult is the outcome of fitting one model. Params.K0 is in eV/Å³ for
// energy fits and GPa for pressure fits. A failed fit carries a zero
// parameter vector and a non-empty Failure.
type FitResult struct {
	Model       eos.Tag    `json:"model"`
	Code        string     `json:"code"`
	Kind        eos.Kind   `json:"kind"`
	FixedV0     float64    `json:"fixed_v0,omitempty"`
	Params      eos.Params `json:"params"`
	KPrime      float64    `json:"k_prime"`
	Converged   bool       `json:"converged"`
	Evaluations int        `json:"evaluations"`
	Failure     string     `json:"failure,omitempty"`
	Fitted      []float64  `json:"fitted,omitempty"`
}

// K0GPa returns the bulk modulus in GPa regardless of the fit kind.
func (r *FitResult) K0GPa() float64 {
	if r.Kind == eos.Energy {
		return eos.ToGPa(r.Params.K0)
	}
	return r.Params.K0
}

// FitRun groups the per-model results of fitting one dataset.
type FitRun struct {
	ID        string      `json:"id"`
	Material  string      `json:"material"`
	Kind      eos.Kind    `json:"kind"`
	FixedV0   float64     `json:"fixed_v0,omitempty"`
	Dataset   *Dataset    `json:"dataset,omitempty"`
	Results   []FitResult `json:"results"`
	CreatedAt time.Time   `json:"created_at"`
}

// ParamRecord is a previously fitted parameter set as stored in a record
// line. Params.K0 is in GPa.
type ParamRecord struct {
	Model    eos.Tag    `json:"model"`
	Kind     eos.Kind   `json:"kind"`
	Material string     `json:"material,omitempty"`
	Params   eos.Params `json:"params"`
}

// CurvePoint is one row of a derived curve. P is in GPa, E and H in eV.
type CurvePoint struct {
	V float64 `json:"v"`
	P float64 `json:"p"`
	E float64 `json:"e"`
	H float64 `json:"h"`
}

// Axis selects how a derived curve is sampled.
type Axis string

const (
	AxisPressure Axis = "pressure"
	AxisVolume   Axis = "volume"
)

// DerivedCurve holds the P, E, H values derived from one parameter record.
type DerivedCurve struct {
	Model    eos.Tag      `json:"model"`
	Code     string       `json:"code"`
	Material string       `json:"material,omitempty"`
	Axis     Axis         `json:"axis"`
	Points   []CurvePoint `json:"points"`
}

// Transition is the pressure at which two phases have equal enthalpy.
type Transition struct {
	Model     eos.Tag `json:"model"`
	MaterialA string  `json:"material_a"`
	MaterialB string  `json:"material_b"`
	Pressure  float64 `json:"pressure"`
	Enthalpy  float64 `json:"enthalpy"`
}
