// Package transition locates the pressure at which two phases of a
// material reach equal enthalpy.
package transition

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"

	"gonum.org/v1/gonum/interp"
)

// ErrNoTransition is returned when the enthalpy curves do not cross inside
// their common pressure range.
var ErrNoTransition = errors.New("no phase transition in range")

const (
	scanPoints = 1000
	tolerance  = 1e-10
)

type branch struct {
	spline interp.NaturalCubic
	lo, hi float64
}

// fitBranch interpolates H(P). Points are sorted by pressure and repeated
// pressures keep their first enthalpy.
func fitBranch(c *models.DerivedCurve) (*branch, error) {
	pts := make([]models.CurvePoint, 0, len(c.Points))
	for _, pt := range c.Points {
		if !math.IsNaN(pt.P) && !math.IsNaN(pt.H) {
			pts = append(pts, pt)
		}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].P < pts[j].P })

	ps := make([]float64, 0, len(pts))
	hs := make([]float64, 0, len(pts))
	for i, pt := range pts {
		if i > 0 && pt.P == pts[i-1].P {
			continue
		}
		ps = append(ps, pt.P)
		hs = append(hs, pt.H)
	}
	if len(ps) < 2 {
		return nil, &eos.InputError{Model: c.Model, Reason: fmt.Sprintf("%s: need at least 2 distinct pressures, got %d", c.Material, len(ps))}
	}

	b := &branch{lo: ps[0], hi: ps[len(ps)-1]}
	if err := b.spline.Fit(ps, hs); err != nil {
		return nil, err
	}
	return b, nil
}

// Find returns the lowest pressure in the overlap of a and b at which the
// interpolated enthalpies are equal.
func Find(a, b *models.DerivedCurve) (*models.Transition, error) {
	if a.Model != "" && b.Model != "" && a.Model != b.Model {
		return nil, &eos.InputError{Model: a.Model, Reason: fmt.Sprintf("cannot compare with %s curve", b.Model)}
	}
	ba, err := fitBranch(a)
	if err != nil {
		return nil, err
	}
	bb, err := fitBranch(b)
	if err != nil {
		return nil, err
	}

	lo, hi := math.Max(ba.lo, bb.lo), math.Min(ba.hi, bb.hi)
	if !(lo < hi) {
		return nil, fmt.Errorf("%w: pressure ranges do not overlap", ErrNoTransition)
	}
	g := func(p float64) float64 { return ba.spline.Predict(p) - bb.spline.Predict(p) }

	p, ok := scan(g, lo, hi)
	if !ok {
		return nil, ErrNoTransition
	}
	return &models.Transition{
		Model:     a.Model,
		MaterialA: a.Material,
		MaterialB: b.Material,
		Pressure:  p,
		Enthalpy:  ba.spline.Predict(p),
	}, nil
}

// scan walks a uniform grid for the first sign change of g and refines it
// by bisection.
func scan(g func(float64) float64, lo, hi float64) (float64, bool) {
	step := (hi - lo) / (scanPoints - 1)
	x0, g0 := lo, g(lo)
	if g0 == 0 {
		return x0, true
	}
	for i := 1; i < scanPoints; i++ {
		x1 := lo + float64(i)*step
		if i == scanPoints-1 {
			x1 = hi
		}
		g1 := g(x1)
		if g1 == 0 {
			return x1, true
		}
		if math.Signbit(g0) != math.Signbit(g1) {
			return bisect(g, x0, x1, g0), true
		}
		x0, g0 = x1, g1
	}
	return 0, false
}

func bisect(g func(float64) float64, a, b, ga float64) float64 {
	for i := 0; i < 200 && b-a > tolerance; i++ {
		m := a + (b-a)/2
		gm := g(m)
		if gm == 0 {
			return m
		}
		if math.Signbit(gm) == math.Signbit(ga) {
			a, ga = m, gm
		} else {
			b = m
		}
	}
	return a + (b-a)/2
}
