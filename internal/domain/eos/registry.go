package eos

import (
	"fmt"
	"math"
)

var registry = []*Model{
	{
		Tag:  SecondOrder,
		Code: "2nd",
		energy: func(v, e0, v0, k0 float64, _ []float64) float64 {
			f := math.Pow(v0/v, 2.0/3.0) - 1
			return e0 + 9*v0*k0/8*f*f
		},
		pressure: func(v, v0, k0 float64, _ []float64) float64 {
			x := v0 / v
			return 1.5 * k0 * (math.Pow(x, 7.0/3.0) - math.Pow(x, 5.0/3.0))
		},
		kprime:          func([]float64) float64 { return 4 },
		seed:            func(Seed) []float64 { return nil },
		energyFormula:   "Eo + ((9 * Vo * Ko) / 8) * ((Vo / V) ** (2 / 3) - 1) ** 2",
		pressureFormula: "1.5 * Ko * ((Vo / V) ** (7 / 3) - (Vo / V) ** (5 / 3))",
	},
	{
		Tag:        ThirdOrder,
		Code:       "3rd",
		ExtraNames: []string{"Kpo"},
		energy: func(v, e0, v0, k0 float64, x []float64) float64 {
			eta := math.Pow(v0/v, 2.0/3.0)
			f := eta - 1
			return e0 + 9*v0*k0/16*(f*f*f*x[0]+f*f*(6-4*eta))
		},
		pressure: func(v, v0, k0 float64, x []float64) float64 {
			r := v0 / v
			return 1.5 * k0 * (math.Pow(r, 7.0/3.0) - math.Pow(r, 5.0/3.0)) *
				(1 + 0.75*(x[0]-4)*(math.Pow(r, 2.0/3.0)-1))
		},
		kprime:        func(x []float64) float64 { return x[0] },
		seed:          func(s Seed) []float64 { return []float64{s.Kpo} },
		energyFormula: "Eo + ((9 * Vo * Ko) / 16) * ((Vo / V) ** (2 / 3) - 1) ** 3 * Kpo + ((Vo / V) ** (2 / 3) - 1) ** 2 * (6 - 4 * (Vo / V) ** (2 / 3)))",
		pressureFormula: "1.5 * Ko * ((Vo / V) ** (7 / 3) - (Vo / V) ** (5 / 3)) * " +
			"(1 + 0.75 * (Kpo - 4) * ((Vo / V) ** (2 / 3) - 1))",
	},
	{
		Tag:        Vinet,
		Code:       "vin",
		ExtraNames: []string{"Kpo"},
		energy: func(v, e0, v0, k0 float64, x []float64) float64 {
			kp := x[0]
			y := math.Cbrt(v / v0)
			d := (kp - 1) * (kp - 1)
			return e0 + 4*k0*v0/d - 2*v0*k0/d*(5+3*kp*(y-1)-3*y)*math.Exp(-1.5*(kp-1)*(y-1))
		},
		pressure: func(v, v0, k0 float64, x []float64) float64 {
			y := math.Cbrt(v / v0)
			return 3 * k0 * (1 - y) / (y * y) * math.Exp(1.5*(x[0]-1)*(1-y))
		},
		kprime: func(x []float64) float64 { return x[0] },
		seed:   func(s Seed) []float64 { return []float64{s.Kpo} },
		energyFormula: "Eo + 4 * Ko * Vo / (Kpo - 1) ** 2 - 2 * Vo * Ko / (Kpo - 1) ** 2 * " +
			"(5 + 3 * Kpo * ((V / Vo) ** (1 / 3) - 1) - 3 * (V / Vo) ** (1 / 3)) * " +
			"exp(-3 / 2 * (Kpo - 1) * ((V / Vo) ** (1 / 3) - 1))",
		pressureFormula: "3 * Ko * (1 - (V / Vo) ** (1 / 3)) / (V / Vo) ** (2 / 3) * " +
			"exp(1.5 * (Kpo - 1) * (1 - (V / Vo) ** (1 / 3)))",
	},
	{
		Tag:        Alpha,
		Code:       "alp",
		ExtraNames: []string{"alpha"},
		energy: func(v, e0, v0, k0 float64, x []float64) float64 {
			a := x[0]
			f := math.Pow(v0/v, (a-1)/2) - 1
			return e0 + 2*k0*v0/((a-1)*(a-1))*f*f
		},
		pressure: func(v, v0, k0 float64, x []float64) float64 {
			a := x[0]
			r := v0 / v
			return 2 * k0 / (a - 1) * (math.Pow(r, a) - math.Pow(r, (a+1)/2))
		},
		kprime:          func(x []float64) float64 { return (3*x[0] + 1) / 2 },
		seed:            func(s Seed) []float64 { return []float64{s.Alpha} },
		energyFormula:   "Eo + 2 * Ko * Vo / (alpha - 1) ** 2 * ((Vo / V) ** ((alpha - 1) / 2) - 1) ** 2",
		pressureFormula: "2 * Ko / (alpha - 1) * ((Vo / V) ** alpha - (Vo / V) ** ((alpha + 1) / 2))",
	},
	{
		Tag:        AlphaBeta,
		Code:       "abe",
		ExtraNames: []string{"alpha", "beta"},
		energy: func(v, e0, v0, k0 float64, x []float64) float64 {
			a, b := x[0], x[1]
			r := v0 / v
			return e0 + k0*v0/(a-b)*((math.Pow(r, a-1)-1)/(a-1)-(math.Pow(r, b-1)-1)/(b-1))
		},
		pressure: func(v, v0, k0 float64, x []float64) float64 {
			r := v0 / v
			return k0 / (x[0] - x[1]) * (math.Pow(r, x[0]) - math.Pow(r, x[1]))
		},
		kprime: func(x []float64) float64 { return x[0] + x[1] },
		seed:   func(s Seed) []float64 { return []float64{s.Alpha, (s.Alpha + 1) / 2} },
		energyFormula: "Eo + Ko * Vo / (alpha - beta) * (1 / (alpha - 1) * ((Vo / V) ** (alpha - 1) - 1) - " +
			"1 / (beta - 1) * ((Vo / V) ** (beta - 1) - 1))",
		pressureFormula: "Ko / (alpha - beta) * ((Vo / V) ** alpha - (Vo / V) ** beta)",
	},
	{
		Tag:        Modified,
		Code:       "meo",
		ExtraNames: []string{"Kpo"},
		energy: func(v, e0, v0, k0 float64, x []float64) float64 {
			kp := x[0]
			r := v / v0
			return e0 + k0*v0*(math.Pow(r, 1-kp)/(kp*(kp-1))+r/kp-1/(kp-1))
		},
		pressure: func(v, v0, k0 float64, x []float64) float64 {
			return k0 / x[0] * (math.Pow(v0/v, x[0]) - 1)
		},
		kprime:          func(x []float64) float64 { return x[0] },
		seed:            func(s Seed) []float64 { return []float64{s.Kpo} },
		energyFormula:   "Eo + Ko * Vo * ((1 / (Kpo * (Kpo - 1)) * (V / Vo) ** (1 - Kpo) + 1 / Kpo * V / Vo - 1 / (Kpo - 1)))",
		pressureFormula: "Ko / Kpo * ((Vo / V) ** Kpo - 1)",
	},
	{
		Tag:        Keane,
		Code:       "kea",
		ExtraNames: []string{"Kpo", "Kpi"},
		energy: func(v, e0, v0, k0 float64, x []float64) float64 {
			kpo, kpi := x[0], x[1]
			r := v / v0
			lnx := math.Log(v0 / v)
			return e0 +
				k0*kpo*v0/(kpi*kpi)/(kpi-1)*((kpi-1)*(r-1)+math.Pow(v0/v, kpi-1)-1) +
				k0*v0*(kpo-kpi)/kpi*(r*lnx+r-1)
		},
		pressure: func(v, v0, k0 float64, x []float64) float64 {
			kpo, kpi := x[0], x[1]
			r := v0 / v
			return k0*kpo/(kpi*kpi)*(math.Pow(r, kpi)-1) - k0*(kpo-kpi)/kpi*math.Log(r)
		},
		kprime: func(x []float64) float64 { return x[0] },
		seed:   func(s Seed) []float64 { return []float64{s.Kpo, s.Kpo} },
		energyFormula: "Eo + Ko * Kpo * Vo / Kpi ** 2 / (Kpi - 1) * ((Kpi - 1) * (V / Vo - 1) + (Vo / V) ** (Kpi - 1) - 1) + " +
			"Ko * Vo * (Kpo - Kpi) / Kpi * (V / Vo * log(Vo / V) + V / Vo - 1)",
		pressureFormula: "Ko * Kpo / Kpi ** 2 * ((Vo / V) ** Kpi - 1) - Ko * (Kpo - Kpi) / Kpi * log(Vo / V)",
	},
}

// All returns every model in fitting order.
func All() []*Model {
	out := make([]*Model, len(registry))
	copy(out, registry)
	return out
}

// Tags returns the tags of all models in fitting order.
func Tags() []Tag {
	out := make([]Tag, len(registry))
	for i, m := range registry {
		out[i] = m.Tag
	}
	return out
}

// Lookup returns the model for tag.
func Lookup(tag Tag) (*Model, error) {
	for _, m := range registry {
		if m.Tag == tag {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, tag)
}

// ByCode returns the model with the given three-character file code.
func ByCode(code string) (*Model, error) {
	for _, m := range registry {
		if m.Code == code {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: code %q", ErrUnknownModel, code)
}

// Resolve accepts either a tag or a file code.
func Resolve(s string) (*Model, error) {
	if m, err := Lookup(Tag(s)); err == nil {
		return m, nil
	}
	return ByCode(s)
}
