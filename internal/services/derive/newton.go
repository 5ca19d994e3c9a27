package derive

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
)

var (
	errNonFinite      = errors.New("non-finite function value")
	errFlatDerivative = errors.New("derivative vanished")
	errNoConvergence  = errors.New("iteration limit reached")
)

// newton solves f(x) = 0 for x > 0 starting at x0. The iteration stops
// when the step falls below tol and |f| is below ftol.
func newton(f func(float64) float64, x0, tol, ftol float64, maxIter int) (float64, error) {
	x := x0
	for i := 0; i < maxIter; i++ {
		fx := f(x)
		if math.IsNaN(fx) || math.IsInf(fx, 0) {
			return x, fmt.Errorf("%w at V=%g", errNonFinite, x)
		}
		d := fd.Derivative(f, x, &fd.Settings{
			Formula:     fd.Central,
			Step:        1e-6 * math.Max(x, 1e-3),
			OriginKnown: true,
			OriginValue: fx,
		})
		if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return x, fmt.Errorf("%w at V=%g", errFlatDerivative, x)
		}

		step := fx / d
		next := x - step
		for halvings := 0; next <= 0 && halvings < 64; halvings++ {
			step /= 2
			next = x - step
		}
		if next <= 0 {
			return x, fmt.Errorf("%w: volume left the positive axis", errNonFinite)
		}

		if math.Abs(next-x) <= tol {
			if fn := f(next); math.Abs(fn) <= ftol {
				return next, nil
			}
		}
		x = next
	}
	return x, errNoConvergence
}
