package trustregion

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/QUADRA/internal/optimization"
)

// solver minimizes a fitted quadratic model over the unit ball in the
// model's scaled frame, intersected with the scaled problem bounds, subject
// to any constraint models being non-positive. All models share the same
// center and scale, so a single z vector addresses them all.
//
// Neither SCS nor MOSEK ship Go bindings; the validated names select
// between two in-process solvers of the corresponding method family:
// "SCS" resolves to the operator-splitting projected-gradient solver and
// "MOSEK" to the projected-Newton solver.
type solver interface {
	Name() string
	Solve(obj *Quadratic, constrs []*Quadratic, zbounds [][2]float64) ([]float64, error)
}

// penalty schedule shared by both solvers: constraint models are enforced
// through an escalating quadratic penalty.
var penaltyWeights = []float64{1e1, 1e2, 1e3, 1e4, 1e5}

// merit is the penalized objective 0.5*rho*sum(max(0, c_k)^2).
func merit(obj *Quadratic, constrs []*Quadratic, z []float64, rho float64) float64 {
	v := obj.atZ(z)
	for _, c := range constrs {
		if viol := c.atZ(z); viol > 0 {
			v += 0.5 * rho * viol * viol
		}
	}
	return v
}

// meritGrad accumulates the gradient of the penalized objective into dst.
func meritGrad(obj *Quadratic, constrs []*Quadratic, z []float64, rho float64, dst []float64) {
	copy(dst, obj.gradZ(z))
	for _, c := range constrs {
		viol := c.atZ(z)
		if viol <= 0 {
			continue
		}
		cg := c.gradZ(z)
		for i := range dst {
			dst[i] += rho * viol * cg[i]
		}
	}
}

// projectFeasible projects z onto the unit ball intersected with the box
// by alternating projections. Both sets are convex, so a handful of passes
// lands inside the intersection.
func projectFeasible(z []float64, zbounds [][2]float64) {
	for pass := 0; pass < 8; pass++ {
		if zbounds != nil {
			for i := range z {
				if z[i] < zbounds[i][0] {
					z[i] = zbounds[i][0]
				}
				if z[i] > zbounds[i][1] {
					z[i] = zbounds[i][1]
				}
			}
		}
		norm := 0.0
		for _, v := range z {
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if norm <= 1 {
			if zbounds == nil || pass > 0 {
				return
			}
			continue
		}
		for i := range z {
			z[i] /= norm
		}
		if zbounds == nil {
			return
		}
	}
}

// splittingSolver is a first-order operator-splitting solver: projected
// gradient descent on the penalized objective with a curvature-derived
// step size.
type splittingSolver struct{}

func (s *splittingSolver) Name() string { return SolverSCS }

func (s *splittingSolver) Solve(obj *Quadratic, constrs []*Quadratic, zbounds [][2]float64) ([]float64, error) {
	const op = "splittingSolver.Solve"
	const innerIters = 300

	n := obj.n
	z := make([]float64, n)
	grad := make([]float64, n)
	next := make([]float64, n)

	lipObj := 2 * obj.maxEig()
	lipConstr := 0.0
	for _, c := range constrs {
		g0 := c.gradZ(make([]float64, n))
		gn := 0.0
		for _, v := range g0 {
			gn += v * v
		}
		lam := c.maxEig()
		// Crude curvature bound for the penalty term inside the unit ball.
		lipConstr += gn + 4*lam*lam + 2*lam
	}

	rhos := penaltyWeights
	if len(constrs) == 0 {
		rhos = rhos[:1]
	}

	for _, rho := range rhos {
		step := 1 / (lipObj + rho*lipConstr + 1e-12)
		for iter := 0; iter < innerIters; iter++ {
			meritGrad(obj, constrs, z, rho, grad)
			moved := 0.0
			for i := range z {
				next[i] = z[i] - step*grad[i]
			}
			projectFeasible(next, zbounds)
			for i := range z {
				d := next[i] - z[i]
				moved += d * d
				z[i] = next[i]
			}
			if moved < 1e-20 {
				break
			}
		}
	}

	for _, v := range z {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, optimization.NewError(optimization.KindSolve,
				"solver produced non-finite iterate").WithOperation(op)
		}
	}
	return z, nil
}

// newtonSolver is a second-order solver: damped projected Newton steps on
// the penalized objective, with a backtracking line search.
type newtonSolver struct{}

func (s *newtonSolver) Name() string { return SolverMOSEK }

func (s *newtonSolver) Solve(obj *Quadratic, constrs []*Quadratic, zbounds [][2]float64) ([]float64, error) {
	const op = "newtonSolver.Solve"
	const outerIters = 30

	n := obj.n
	z := make([]float64, n)
	grad := make([]float64, n)
	trial := make([]float64, n)

	rhos := penaltyWeights
	if len(constrs) == 0 {
		rhos = rhos[:1]
	}

	for _, rho := range rhos {
		for iter := 0; iter < outerIters; iter++ {
			meritGrad(obj, constrs, z, rho, grad)

			// Hessian of the penalized objective, Gauss-Newton form for
			// the active constraint terms.
			h := mat.NewSymDense(n, nil)
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					h.SetSym(i, j, 2*obj.hess.At(i, j))
				}
			}
			for _, c := range constrs {
				viol := c.atZ(z)
				if viol <= 0 {
					continue
				}
				cg := c.gradZ(z)
				for i := 0; i < n; i++ {
					for j := i; j < n; j++ {
						h.SetSym(i, j, h.At(i, j)+rho*(cg[i]*cg[j]+2*viol*c.hess.At(i, j)))
					}
				}
			}
			for i := 0; i < n; i++ {
				h.SetSym(i, i, h.At(i, i)+1e-10)
			}

			var chol mat.Cholesky
			if !chol.Factorize(h) {
				return nil, optimization.NewError(optimization.KindSolve,
					"Newton system is not positive definite").WithOperation(op)
			}
			d := mat.NewVecDense(n, nil)
			if err := chol.SolveVecTo(d, mat.NewVecDense(n, grad)); err != nil {
				return nil, optimization.WrapError(err, optimization.KindSolve,
					"Newton solve failed").WithOperation(op)
			}

			// Backtracking on the merit function; the step is projected
			// before it is evaluated so feasibility is never left.
			base := merit(obj, constrs, z, rho)
			alpha := 1.0
			improved := false
			for bt := 0; bt < 20; bt++ {
				for i := range trial {
					trial[i] = z[i] - alpha*d.AtVec(i)
				}
				projectFeasible(trial, zbounds)
				if merit(obj, constrs, trial, rho) < base-1e-16 {
					improved = true
					break
				}
				alpha /= 2
			}
			if !improved {
				break
			}
			moved := 0.0
			for i := range z {
				diff := trial[i] - z[i]
				moved += diff * diff
				z[i] = trial[i]
			}
			if moved < 1e-20 {
				break
			}
		}
	}

	for _, v := range z {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, optimization.NewError(optimization.KindSolve,
				"solver produced non-finite iterate").WithOperation(op)
		}
	}
	return z, nil
}
