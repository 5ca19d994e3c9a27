package eos

import (
	"fmt"
	"math"
	"strings"
)

// Tag identifies one of the supported equation-of-state families.
type Tag string

const (
	SecondOrder Tag = "second_order"
	ThirdOrder  Tag = "third_order"
	Vinet       Tag = "vinet"
	Alpha       Tag = "alpha"
	AlphaBeta   Tag = "alpha_beta"
	Modified    Tag = "modified"
	Keane       Tag = "keane"
)

// Kind is the observable a dataset or fit refers to.
type Kind string

const (
	Energy   Kind = "energy"
	Pressure Kind = "pressure"
)

// Letter returns the single-letter prefix used in output file names.
func (k Kind) Letter() string {
	if k == Pressure {
		return "P"
	}
	return "E"
}

// ParseKind accepts "energy", "pressure" or their E/P abbreviations.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "e", "energy":
		return Energy, nil
	case "p", "pressure":
		return Pressure, nil
	}
	return "", fmt.Errorf("unknown data kind %q", s)
}

// Params is the canonical full parameter vector (E0, V0, K0, extra...).
// E0 is unused for pressure data. K0 is in the unit of the observable the
// parameters were fitted against.
type Params struct {
	E0    float64   `json:"e0"`
	V0    float64   `json:"v0"`
	K0    float64   `json:"k0"`
	Extra []float64 `json:"extra,omitempty"`
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	out := p
	if p.Extra != nil {
		out.Extra = append([]float64(nil), p.Extra...)
	}
	return out
}

// Seed carries shape-parameter guesses shared between models.
type Seed struct {
	Kpo   float64
	Alpha float64
}

// DefaultSeed holds the starting values used before any fit has converged.
var DefaultSeed = Seed{Kpo: 4, Alpha: 7.0 / 3.0}

type energyForm func(v, e0, v0, k0 float64, x []float64) float64
type pressureForm func(v, v0, k0 float64, x []float64) float64

// Model is a single equation-of-state family. Models are immutable and
// safe for concurrent use.
type Model struct {
	Tag        Tag
	Code       string
	ExtraNames []string

	energy   energyForm
	pressure pressureForm
	kprime   func(x []float64) float64
	seed     func(s Seed) []float64

	energyFormula   string
	pressureFormula string
}

// NumExtra returns the number of shape parameters after K0.
func (m *Model) NumExtra() int { return len(m.ExtraNames) }

// NumParams returns the length of the vector fitted for kind.
func (m *Model) NumParams(kind Kind, fixedV0 bool) int {
	n := 2 + m.NumExtra() // V0, K0, extras
	if kind == Energy {
		n++
	}
	if fixedV0 {
		n--
	}
	return n
}

// Energy evaluates E(V) in eV. K0 must be in eV/Å³.
func (m *Model) Energy(v float64, p Params) float64 {
	if !validVolumes(v, p.V0) {
		return math.NaN()
	}
	return m.energy(v, p.E0, p.V0, p.K0, p.Extra)
}

// Pressure evaluates P(V) in the unit of K0.
func (m *Model) Pressure(v float64, p Params) float64 {
	if !validVolumes(v, p.V0) {
		return math.NaN()
	}
	return m.pressure(v, p.V0, p.K0, p.Extra)
}

// KPrime returns the pressure derivative of the bulk modulus at V0 implied
// by the shape parameters.
func (m *Model) KPrime(extra []float64) float64 {
	if len(extra) < m.NumExtra() {
		return 0
	}
	return m.kprime(extra)
}

// DefaultExtra returns starting shape parameters derived from s.
func (m *Model) DefaultExtra(s Seed) []float64 { return m.seed(s) }

// Formula returns the closed form used for kind, for reports.
func (m *Model) Formula(kind Kind) string {
	if kind == Pressure {
		return m.pressureFormula
	}
	return m.energyFormula
}

func (m *Model) String() string { return string(m.Tag) }

func validVolumes(v, v0 float64) bool {
	return v > 0 && v0 > 0 && !math.IsInf(v, 0) && !math.IsInf(v0, 0)
}

// Func evaluates a model at volume v for a flat parameter vector.
type Func func(v float64, p []float64) float64

// Pair holds the energy and pressure functions of a model for one
// parameterization.
type Pair struct {
	Energy        Func
	Pressure      Func
	EnergyArity   int
	PressureArity int
}

// Funcs returns the flat-vector functions of m. When fixedV0 is positive V0
// is held at that value and dropped from both vectors; otherwise energy takes
// [E0 V0 K0 extra...] and pressure takes [V0 K0 extra...].
func (m *Model) Funcs(fixedV0 float64) Pair {
	fixed := fixedV0 > 0
	pair := Pair{
		EnergyArity:   m.NumParams(Energy, fixed),
		PressureArity: m.NumParams(Pressure, fixed),
	}
	if fixed {
		pair.Energy = func(v float64, p []float64) float64 {
			return m.Energy(v, Params{E0: p[0], V0: fixedV0, K0: p[1], Extra: p[2:]})
		}
		pair.Pressure = func(v float64, p []float64) float64 {
			return m.Pressure(v, Params{V0: fixedV0, K0: p[0], Extra: p[1:]})
		}
		return pair
	}
	pair.Energy = func(v float64, p []float64) float64 {
		return m.Energy(v, Params{E0: p[0], V0: p[1], K0: p[2], Extra: p[3:]})
	}
	pair.Pressure = func(v float64, p []float64) float64 {
		return m.Pressure(v, Params{V0: p[0], K0: p[1], Extra: p[2:]})
	}
	return pair
}

// Pack flattens p into the vector layout expected by Funcs.
func Pack(kind Kind, p Params, fixedV0 bool) []float64 {
	out := make([]float64, 0, 3+len(p.Extra))
	if kind == Energy {
		out = append(out, p.E0)
	}
	if !fixedV0 {
		out = append(out, p.V0)
	}
	out = append(out, p.K0)
	return append(out, p.Extra...)
}

// Unpack is the inverse of Pack. fixedV0 is stored into V0 when positive.
func Unpack(kind Kind, vec []float64, fixedV0 float64) Params {
	var p Params
	i := 0
	if kind == Energy {
		p.E0 = vec[i]
		i++
	}
	if fixedV0 > 0 {
		p.V0 = fixedV0
	} else {
		p.V0 = vec[i]
		i++
	}
	p.K0 = vec[i]
	i++
	p.Extra = append([]float64(nil), vec[i:]...)
	return p
}
