package trustregion

import (
	"errors"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/QUADRA/internal/optimization"
)

// Quadratic is a local model m(x) = c + b^T z + z^T H z fitted in the
// scaled frame z = (x - center) / scale. Fitting in the scaled frame keeps
// the design matrix well conditioned regardless of the region size.
type Quadratic struct {
	n      int
	center []float64
	scale  float64
	hess   *mat.SymDense
	lin    []float64
	c      float64
}

// Value evaluates the model at a point in the original coordinates.
func (q *Quadratic) Value(x []float64) float64 {
	return q.atZ(q.toZ(x))
}

func (q *Quadratic) toZ(x []float64) []float64 {
	z := make([]float64, q.n)
	for i := range z {
		z[i] = (x[i] - q.center[i]) / q.scale
	}
	return z
}

func (q *Quadratic) fromZ(z []float64) []float64 {
	x := make([]float64, q.n)
	for i := range x {
		x[i] = q.center[i] + q.scale*z[i]
	}
	return x
}

func (q *Quadratic) atZ(z []float64) float64 {
	v := q.c
	for i := 0; i < q.n; i++ {
		v += q.lin[i] * z[i]
		for j := 0; j < q.n; j++ {
			v += z[i] * q.hess.At(i, j) * z[j]
		}
	}
	return v
}

// gradZ returns the gradient b + 2Hz in the scaled frame.
func (q *Quadratic) gradZ(z []float64) []float64 {
	g := make([]float64, q.n)
	for i := 0; i < q.n; i++ {
		g[i] = q.lin[i]
		for j := 0; j < q.n; j++ {
			g[i] += 2 * q.hess.At(i, j) * z[j]
		}
	}
	return g
}

// maxEig returns the largest eigenvalue of H, used by the splitting solver
// as a curvature bound for its step size.
func (q *Quadratic) maxEig() float64 {
	var eig mat.EigenSym
	if !eig.Factorize(q.hess, false) {
		return 1.0
	}
	vals := eig.Values(nil)
	maxv := vals[0]
	for _, v := range vals[1:] {
		if v > maxv {
			maxv = v
		}
	}
	if maxv <= 0 {
		return 1.0
	}
	return maxv
}

// nFeatures returns the quadratic monomial count for dimension n.
func nFeatures(n int) int {
	return 1 + n + n*(n+1)/2
}

// features expands z into the monomial basis [1, z_i, z_i*z_j (i<=j)].
func features(z []float64, dst []float64) {
	n := len(z)
	dst[0] = 1
	copy(dst[1:1+n], z)
	k := 1 + n
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst[k] = z[i] * z[j]
			k++
		}
	}
}

// fitter fits quadratic surrogate models by regularized least squares.
type fitter struct {
	logger *zap.Logger
	ridge  float64
}

func newFitter(logger *zap.Logger) *fitter {
	return &fitter{
		logger: logger.Named("surrogate"),
		ridge:  1e-10,
	}
}

// Fit builds the quadratic model from the sample window. The window must
// contain at least n+1 affinely independent points; a degenerate window
// (coincident or collinear samples) yields a fit error and the caller is
// expected to re-sample before retrying.
func (f *fitter) Fit(X [][]float64, y []float64, center []float64, radius float64) (*Quadratic, error) {
	const op = "fitter.Fit"

	n := len(center)
	m := len(X)
	if m != len(y) {
		return nil, optimization.NewErrorf(optimization.KindFit,
			"dimension mismatch: %d samples but %d values", m, len(y)).WithOperation(op)
	}
	if m < n+1 {
		return nil, optimization.NewErrorf(optimization.KindFit,
			"need at least %d samples to fit in %d dimensions, got %d", n+1, n, m).WithOperation(op)
	}
	if !(radius > 0) {
		return nil, optimization.NewErrorf(optimization.KindFit,
			"radius must be positive, got %v", radius).WithOperation(op)
	}

	p := nFeatures(n)
	q := &Quadratic{
		n:      n,
		center: append([]float64(nil), center...),
		scale:  radius,
		lin:    make([]float64, n),
	}

	// Design matrix in the scaled frame.
	phi := mat.NewDense(m, p, nil)
	row := make([]float64, p)
	for i, x := range X {
		features(q.toZ(x), row)
		phi.SetRow(i, row)
	}

	// Rank check via SVD: a window whose points are coincident or
	// collinear cannot determine even the linear part of the model.
	var svd mat.SVD
	if !svd.Factorize(phi, mat.SVDNone) {
		return nil, optimization.NewError(optimization.KindFit,
			"SVD factorization of design matrix failed").WithOperation(op)
	}
	s := svd.Values(nil)
	threshold := float64(max(m, p)) * s[0] * 1e-12
	rank := 0
	for _, v := range s {
		if v > threshold {
			rank++
		}
	}
	if s[0] == 0 || rank < n+1 {
		return nil, optimization.NewErrorf(optimization.KindFit,
			"degenerate sample window: effective rank %d < %d", rank, n+1).WithOperation(op)
	}

	f.logger.Debug("fitting quadratic surrogate",
		zap.Int("samples", m),
		zap.Int("features", p),
		zap.Int("rank", rank),
		zap.Float64("condition_number", s[0]/math.Max(s[len(s)-1], 1e-300)),
	)

	w, err := f.solveRidge(phi, y, p)
	if err != nil {
		return nil, optimization.WrapError(err, optimization.KindFit, "ridge solve failed").WithOperation(op)
	}

	// Unpack coefficients: constant, linear, then upper-triangle quadratic
	// terms. Cross terms carry the factor 2 from symmetry.
	q.c = w[0]
	copy(q.lin, w[1:1+n])
	q.hess = mat.NewSymDense(n, nil)
	k := 1 + n
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if i == j {
				q.hess.SetSym(i, j, w[k])
			} else {
				q.hess.SetSym(i, j, w[k]/2)
			}
			k++
		}
	}

	f.convexify(q)
	return q, nil
}

// solveRidge solves (Phi^T Phi + jitter I) w = Phi^T y with escalating
// jitter. The regularized normal matrix is positive definite for any
// positive jitter, but escalation keeps the residual in check when the
// window is poorly scaled.
func (f *fitter) solveRidge(phi *mat.Dense, y []float64, p int) ([]float64, error) {
	m, _ := phi.Dims()

	var gram mat.SymDense
	gram.SymOuterK(1, phi.T())

	rhs := mat.NewVecDense(p, nil)
	rhs.MulVec(phi.T(), mat.NewVecDense(m, y))

	jitter := f.ridge
	const maxAttempts = 6
	for attempt := 0; attempt < maxAttempts; attempt++ {
		reg := mat.NewSymDense(p, nil)
		reg.CopySym(&gram)
		for i := 0; i < p; i++ {
			reg.SetSym(i, i, reg.At(i, i)+jitter)
		}

		var chol mat.Cholesky
		if !chol.Factorize(reg) {
			f.logger.Debug("Cholesky factorization failed, increasing jitter",
				zap.Int("attempt", attempt+1),
				zap.Float64("jitter", jitter))
			jitter *= 100
			continue
		}

		w := mat.NewVecDense(p, nil)
		if err := chol.SolveVecTo(w, rhs); err != nil {
			jitter *= 100
			continue
		}

		out := make([]float64, p)
		copy(out, w.RawVector().Data)
		for _, v := range out {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.New("non-finite coefficients")
			}
		}
		return out, nil
	}

	return nil, errors.New("normal equations could not be factorized")
}

// convexify projects the Hessian onto the positive semidefinite cone by
// clamping negative eigenvalues, so the subproblem stays convex.
func (f *fitter) convexify(q *Quadratic) {
	const epsEig = 1e-8

	var eig mat.EigenSym
	if !eig.Factorize(q.hess, true) {
		// Leave the model as fitted; the solvers guard against
		// indefinite curvature with their own step control.
		f.logger.Warn("eigendecomposition failed, skipping convexification")
		return
	}

	vals := eig.Values(nil)
	minv := vals[0]
	for _, v := range vals[1:] {
		if v < minv {
			minv = v
		}
	}
	if minv >= epsEig {
		return
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	clamped := make([]float64, len(vals))
	for i, v := range vals {
		clamped[i] = math.Max(v, epsEig)
	}

	var tmp, rebuilt mat.Dense
	tmp.Mul(&vecs, mat.NewDiagDense(len(vals), clamped))
	rebuilt.Mul(&tmp, vecs.T())

	for i := 0; i < q.n; i++ {
		for j := i; j < q.n; j++ {
			q.hess.SetSym(i, j, (rebuilt.At(i, j)+rebuilt.At(j, i))/2)
		}
	}

	f.logger.Debug("clamped indefinite Hessian",
		zap.Float64("min_eigenvalue", minv))
}
