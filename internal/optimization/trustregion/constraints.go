package trustregion

import (
	"go.uber.org/zap"
)

// constraintHandler turns true constraint evaluations into a feasibility
// decision for subproblem candidates. Two modes exist: Discrimination
// screens candidates against a fitted feasibility surface, Regression fits
// a surrogate per constraint and imposes them on the subproblem directly.
type constraintHandler interface {
	Name() string

	// Update refits the handler from the current sample window. X and G
	// are parallel; the center and radius frame the fit.
	Update(X [][]float64, G [][]float64, center []float64, radius float64) error

	// Models returns the constraint surrogates to impose on the
	// subproblem solve; nil when the handler screens candidates instead.
	Models() []*Quadratic

	// Accept reports whether a subproblem candidate should be evaluated.
	Accept(x []float64) bool
}

// noopHandler is used for unconstrained problems.
type noopHandler struct{}

func (noopHandler) Name() string { return "none" }
func (noopHandler) Update(_, _ [][]float64, _ []float64, _ float64) error {
	return nil
}
func (noopHandler) Models() []*Quadratic    { return nil }
func (noopHandler) Accept(_ []float64) bool { return true }

// margin reduces a constraint vector to its worst violation max_i(g_i).
// A point is feasible when the margin is non-positive.
func margin(g []float64) float64 {
	m := g[0]
	for _, v := range g[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// discriminationHandler classifies candidates by a quadratic surface
// fitted to the feasibility margin of the observed samples. The zero level
// set of the surface separates the feasible samples from the infeasible
// ones; candidates on the infeasible side are rejected without spending a
// constraint surrogate on the subproblem. When the fit degenerates the
// handler falls back to the label of the nearest observed sample.
type discriminationHandler struct {
	fitter  *fitter
	logger  *zap.Logger
	surface *Quadratic
	samples [][]float64
	labels  []bool
}

func newDiscriminationHandler(f *fitter, logger *zap.Logger) *discriminationHandler {
	return &discriminationHandler{
		fitter: f,
		logger: logger.Named("discrimination"),
	}
}

func (h *discriminationHandler) Name() string { return HandlingDiscrimination }

func (h *discriminationHandler) Update(X [][]float64, G [][]float64, center []float64, radius float64) error {
	h.samples = X
	h.labels = make([]bool, len(X))
	margins := make([]float64, len(X))
	for i, g := range G {
		margins[i] = margin(g)
		h.labels[i] = margins[i] <= 0
	}

	surface, err := h.fitter.Fit(X, margins, center, radius)
	if err != nil {
		h.logger.Debug("margin surface fit failed, using nearest-sample labels",
			zap.Error(err))
		h.surface = nil
		return err
	}
	h.surface = surface
	return nil
}

func (h *discriminationHandler) Models() []*Quadratic { return nil }

func (h *discriminationHandler) Accept(x []float64) bool {
	if h.surface != nil {
		return h.surface.Value(x) <= 0
	}
	if len(h.samples) == 0 {
		return true
	}
	// Nearest-sample vote.
	best := 0
	bestDist := euclidean(x, h.samples[0])
	for i := 1; i < len(h.samples); i++ {
		if d := euclidean(x, h.samples[i]); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return h.labels[best]
}

// regressionHandler fits one quadratic surrogate per constraint, the same
// way the objective is fit, and imposes them on the subproblem solve.
type regressionHandler struct {
	fitter *fitter
	logger *zap.Logger
	models []*Quadratic
}

func newRegressionHandler(f *fitter, logger *zap.Logger) *regressionHandler {
	return &regressionHandler{
		fitter: f,
		logger: logger.Named("regression"),
	}
}

func (h *regressionHandler) Name() string { return HandlingRegression }

func (h *regressionHandler) Update(X [][]float64, G [][]float64, center []float64, radius float64) error {
	if len(G) == 0 {
		h.models = nil
		return nil
	}
	nConstr := len(G[0])
	models := make([]*Quadratic, 0, nConstr)
	vals := make([]float64, len(X))
	for k := 0; k < nConstr; k++ {
		for i, g := range G {
			vals[i] = g[k]
		}
		m, err := h.fitter.Fit(X, vals, center, radius)
		if err != nil {
			h.logger.Debug("constraint surrogate fit failed",
				zap.Int("constraint", k),
				zap.Error(err))
			h.models = nil
			return err
		}
		models = append(models, m)
	}
	h.models = models
	return nil
}

func (h *regressionHandler) Models() []*Quadratic { return h.models }

// Accept passes everything: regression enforces feasibility inside the
// subproblem, so its candidates are accepted as proposed.
func (h *regressionHandler) Accept(_ []float64) bool { return true }
