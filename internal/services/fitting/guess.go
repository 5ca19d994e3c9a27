package fitting

import (
	"math"

	"EOSFit/internal/domain/eos"
	"EOSFit/internal/domain/models"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	fallbackK0Energy   = 1.5   // eV/Å³
	fallbackK0Pressure = 150.0 // GPa
)

// EstimateK0 returns a starting bulk modulus in the native unit of ds.
//
// Energy data: fit E ≈ aV² + bV + c; at the vertex V* = -b/2a the
// curvature gives K0 = V*·E''(V*) = 2a·V*.
// Pressure data: fit P ≈ α + βV; K0 = -V0·dP/dV = -β·v0.
func EstimateK0(ds *models.Dataset, v0 float64) float64 {
	vols, ys := ds.Volumes(), ds.Values()
	if ds.Kind == eos.Pressure {
		if len(vols) < 2 {
			return fallbackK0Pressure
		}
		_, slope := stat.LinearRegression(vols, ys, nil, false)
		if slope < 0 && !math.IsNaN(slope) && v0 > 0 {
			return -slope * v0
		}
		return fallbackK0Pressure
	}

	if len(vols) < 3 {
		return fallbackK0Energy
	}
	a := mat.NewDense(len(vols), 3, nil)
	for i, v := range vols {
		a.Set(i, 0, v*v)
		a.Set(i, 1, v)
		a.Set(i, 2, 1)
	}
	var c mat.VecDense
	if err := c.SolveVec(a, mat.NewVecDense(len(ys), ys)); err != nil {
		return fallbackK0Energy
	}
	qa, qb := c.AtVec(0), c.AtVec(1)
	if qa <= 0 {
		return fallbackK0Energy
	}
	vstar := -qb / (2 * qa)
	k0 := 2 * qa * vstar
	if k0 <= 0 || math.IsNaN(k0) || math.IsInf(k0, 0) {
		return fallbackK0Energy
	}
	return k0
}
