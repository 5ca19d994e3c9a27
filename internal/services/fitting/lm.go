package fitting

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrMaxEvaluations is returned when the residual budget is spent.
	ErrMaxEvaluations = errors.New("fitting: evaluation budget exhausted")
	// ErrNonFinite is returned when the model cannot be evaluated near the
	// current iterate.
	ErrNonFinite = errors.New("fitting: non-finite model evaluation")
)

const (
	jacobianStep = 6e-6
	maxDamping   = 1e16
	scaleFloor   = 1e-8
	machEps      = 2.220446049250313e-16
)

// Settings bounds a Levenberg-Marquardt run.
type Settings struct {
	MaxEvaluations int
	XTolerance     float64
	FTolerance     float64
	InitialDamping float64
}

// DefaultSettings mirrors the budget of the classic MINPACK driver.
func DefaultSettings() Settings {
	return Settings{
		MaxEvaluations: 20000,
		XTolerance:     1e-10,
		FTolerance:     1e-14,
		InitialDamping: 1e-3,
	}
}

// Problem is a nonlinear least-squares problem: minimise ½‖r(x)‖².
type Problem struct {
	// Residual writes r(x) into dst. len(dst) == M.
	Residual func(dst, x []float64)
	M        int
	// Scale is the magnitude of the observations, used for the
	// exact-fit stopping test.
	Scale float64
}

// Solution is the outcome of a successful run.
type Solution struct {
	X           []float64
	Cost        float64
	Evaluations int
	Iterations  int
}

// LevenbergMarquardt minimises p starting from x0. The parameters are
// rescaled by |x0| so that E0, V0 and K0 of very different magnitudes take
// comparable steps.
func LevenbergMarquardt(p Problem, x0 []float64, s Settings) (*Solution, error) {
	n := len(x0)
	m := p.M
	if n == 0 || m < n {
		return nil, fmt.Errorf("fitting: need at least %d residuals, have %d", n, m)
	}
	if s.MaxEvaluations <= 0 {
		s = DefaultSettings()
	}

	scale := make([]float64, n)
	u := make([]float64, n)
	for j, v := range x0 {
		scale[j] = math.Abs(v)
		if scale[j] < scaleFloor {
			scale[j] = 1
		}
		u[j] = v / scale[j]
	}

	evals := 0
	x := make([]float64, n)
	residual := func(dst, uu []float64) {
		evals++
		for j := range uu {
			x[j] = uu[j] * scale[j]
		}
		p.Residual(dst, x)
	}
	unscale := func(uu []float64) []float64 {
		out := make([]float64, n)
		for j := range uu {
			out[j] = uu[j] * scale[j]
		}
		return out
	}

	r := make([]float64, m)
	residual(r, u)
	if !allFinite(r) {
		return nil, fmt.Errorf("%w: at initial guess", ErrNonFinite)
	}
	cost := 0.5 * floats.Dot(r, r)

	jac := mat.NewDense(m, n, nil)
	jset := &fd.JacobianSettings{Formula: fd.Central, Step: jacobianStep}
	fd.Jacobian(jac, residual, u, jset)
	if !denseFinite(jac) {
		return nil, fmt.Errorf("%w: in jacobian", ErrNonFinite)
	}

	floor := 0.5 * float64(m) * math.Pow(machEps*math.Max(p.Scale, 1e-300), 2)
	mu := s.InitialDamping
	nu := 2.0

	aug := mat.NewDense(m+n, n, nil)
	rhs := mat.NewVecDense(m+n, nil)
	colNorm := make([]float64, n)
	h := make([]float64, n)
	trial := make([]float64, n)
	rTrial := make([]float64, m)
	lin := make([]float64, m)

	done := func(iter int) *Solution {
		return &Solution{X: unscale(u), Cost: cost, Evaluations: evals, Iterations: iter}
	}

	for iter := 1; evals < s.MaxEvaluations; iter++ {
		if cost <= floor {
			return done(iter), nil
		}

		// Augmented system [J·D⁻¹; √μ·I] z = [-r; 0] with D the column norms.
		for j := 0; j < n; j++ {
			colNorm[j] = mat.Norm(jac.ColView(j), 2)
			if colNorm[j] == 0 {
				colNorm[j] = 1
			}
		}
		sq := math.Sqrt(mu)
		aug.Zero()
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				aug.Set(i, j, jac.At(i, j)/colNorm[j])
			}
			rhs.SetVec(i, -r[i])
		}
		for j := 0; j < n; j++ {
			aug.Set(m+j, j, sq)
			rhs.SetVec(m+j, 0)
		}

		var qr mat.QR
		qr.Factorize(aug)
		var z mat.VecDense
		if err := qr.SolveVecTo(&z, false, rhs); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
				mu *= nu
				nu *= 2
				if mu > maxDamping {
					return nil, fmt.Errorf("%w: singular step", ErrNonFinite)
				}
				continue
			}
		}
		for j := 0; j < n; j++ {
			h[j] = z.AtVec(j) / colNorm[j]
			trial[j] = u[j] + h[j]
		}

		small := true
		for j := 0; j < n; j++ {
			if math.Abs(h[j])/(math.Abs(u[j])+1e-12) > s.XTolerance {
				small = false
				break
			}
		}

		residual(rTrial, trial)
		if !allFinite(rTrial) {
			mu *= nu
			nu *= 2
			if mu > maxDamping {
				return nil, fmt.Errorf("%w: damping limit reached", ErrNonFinite)
			}
			continue
		}
		costTrial := 0.5 * floats.Dot(rTrial, rTrial)

		copy(lin, r)
		for i := 0; i < m; i++ {
			lin[i] += floats.Dot(jac.RawRowView(i), h)
		}
		predicted := cost - 0.5*floats.Dot(lin, lin)
		rho := -1.0
		if predicted > 0 {
			rho = (cost - costTrial) / predicted
		}

		if rho > 0 {
			reduction := cost - costTrial
			copy(u, trial)
			copy(r, rTrial)
			cost = costTrial
			fd.Jacobian(jac, residual, u, jset)
			if !denseFinite(jac) {
				return nil, fmt.Errorf("%w: in jacobian", ErrNonFinite)
			}
			mu *= math.Max(1.0/3.0, 1-math.Pow(2*rho-1, 3))
			nu = 2
			if small || (reduction <= s.FTolerance*(cost+reduction) && mu < 1) {
				return done(iter), nil
			}
			continue
		}

		mu *= nu
		nu *= 2
		if small && mu > 1e10 {
			return done(iter), nil
		}
	}
	return nil, fmt.Errorf("%w after %d evaluations", ErrMaxEvaluations, evals)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func denseFinite(d *mat.Dense) bool {
	r, _ := d.Dims()
	for i := 0; i < r; i++ {
		if !allFinite(d.RawRowView(i)) {
			return false
		}
	}
	return true
}
