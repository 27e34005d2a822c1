package trustregion

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/copyleftdev/QUADRA/internal/optimization"
)

// maxConsecutiveSolveFailures caps how many subproblem failures in a row
// the loop absorbs before surfacing the error: past that point it cannot
// make progress.
const maxConsecutiveSolveFailures = 5

// duplicateTolerance is the distance under which two points are the same
// sample; duplicates reuse the recorded evaluation and spend no budget.
const duplicateTolerance = 1e-14

// Optimizer is the trust-region loop. One Optimize call exclusively owns
// all of its sample history and region state; instances are independent,
// so concurrent optimizations need no coordination as long as the
// objective and constraints are pure.
type Optimizer struct {
	cfg       Config
	sampler   sampler
	solver    solver
	heuristic heuristic
	fitter    *fitter
	logger    *zap.Logger

	best    *optimization.Solution
	history []optimization.Evaluation
	cancel  context.CancelFunc
}

// New creates a trust-region optimizer from the configuration. All
// arguments are validated here; an invalid configuration fails immediately
// and never reaches the loop.
func New(cfg Config) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, _ := zap.NewDevelopment()
	logger = logger.Named("trust_region")

	return &Optimizer{
		cfg:       cfg,
		sampler:   resolveSampler(cfg.Sampling),
		solver:    resolveSolver(cfg.Solver),
		heuristic: resolveHeuristic(cfg),
		fitter:    newFitter(logger),
		logger:    logger,
	}, nil
}

// SetLogger replaces the optimizer's logger, letting callers route the
// loop's structured logs into their own sink.
func (o *Optimizer) SetLogger(logger *zap.Logger) {
	o.logger = logger.Named("trust_region")
	o.fitter = newFitter(o.logger)
}

// runState is the per-call iteration state: the sample history, the
// evaluation budget and the centers visited by global restarts.
type runState struct {
	X    [][]float64
	F    []float64
	G    [][]float64
	feas []bool

	evals    int
	maxEvals int
	iter     int

	bounds  [][2]float64
	centers [][]float64
}

// Optimize runs the trust-region iteration until the radius collapses,
// the evaluation budget is exhausted or the iteration cap is reached.
func (o *Optimizer) Optimize(ctx context.Context, problem optimization.Problem) (*optimization.Result, error) {
	const op = "Optimizer.Optimize"

	if problem.Objective == nil {
		return nil, optimization.ConfigErrorf("objective function is required").WithOperation(op)
	}
	if problem.Bounds != nil {
		if len(problem.Bounds) != len(o.cfg.X0) {
			return nil, optimization.ConfigErrorf("bounds dimension %d does not match x0 dimension %d",
				len(problem.Bounds), len(o.cfg.X0)).WithOperation(op)
		}
		for i, b := range problem.Bounds {
			if !(b[0] < b[1]) {
				return nil, optimization.ConfigErrorf("bounds[%d] must satisfy low < high, got %v", i, b).WithOperation(op)
			}
		}
	}
	maxEvals := problem.MaxFuncEvals
	if maxEvals <= 0 {
		maxEvals = 100
	}

	ctx, o.cancel = context.WithCancel(ctx)
	defer o.cancel()

	rng := rand.New(rand.NewSource(problem.Seed))

	radius := o.cfg.InitRadius
	if o.cfg.RescaleRadius && problem.Bounds != nil {
		radius = rescaleRadius(radius, problem.Bounds)
	}
	maxRadius := radius * maxRadiusFactor

	st := &runState{
		maxEvals: maxEvals,
		bounds:   problem.Bounds,
	}
	o.best = nil
	o.history = o.history[:0]

	handler := o.newHandler(problem)

	if err := o.mergePrior(problem, st); err != nil {
		return nil, err
	}

	center := o.initialCenter(problem, st)
	centerIdx, ok := o.evaluate(problem, st, center)
	if !ok {
		return o.finalize(st, -1, false), nil
	}
	st.centers = append(st.centers, append([]float64(nil), st.X[centerIdx]...))

	bestIdx := o.bestFeasible(st)

	var (
		fStore    []float64
		xStore    [][]float64
		gStore    [][]float64
		converged bool

		solveFails int
		stall      int
		lastBestF  = math.Inf(1)
	)
	if bestIdx >= 0 {
		lastBestF = st.F[bestIdx]
	}

	// The incumbent value is +Inf until a feasible sample exists, so the
	// recorded objective can only ever decrease. The recorded point falls
	// back to the least violating sample while the search is infeasible.
	record := func() {
		idx := bestIdx
		f := math.Inf(1)
		if idx >= 0 {
			f = st.F[idx]
		} else {
			idx = o.leastViolating(st)
		}
		fStore = append(fStore, f)
		xStore = append(xStore, append([]float64(nil), st.X[idx]...))
		gStore = append(gStore, append([]float64(nil), st.G[idx]...))
	}

	for st.iter = 1; st.iter <= o.cfg.MaxIter; st.iter++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if st.evals >= st.maxEvals {
			break
		}

		tr := Region{Center: st.X[centerIdx], Radius: radius}
		budgetFrac := float64(st.evals) / float64(st.maxEvals)
		sampleRegion := o.heuristic.SampleRegion(tr, budgetFrac)

		// Top up the sample window before fitting. Every draw spends one
		// unit of the budget; the cutoff is hard, so the loop stops
		// mid-batch the moment the budget runs out.
		if exhausted := o.topUp(problem, st, tr, sampleRegion, handler, rng); exhausted {
			break
		}

		wX, wF, wG := o.window(st, tr)

		if len(problem.Constraints) > 0 {
			// Fit failures are absorbed: the handlers degrade to their
			// internal fallbacks and screening continues.
			_ = handler.Update(wX, wG, tr.Center, tr.Radius)
		}

		model, err := o.fitter.Fit(wX, wF, tr.Center, tr.Radius)
		if err != nil {
			model, err = o.refitAfterResample(problem, st, tr, handler, rng)
		}
		if err != nil {
			o.logger.Debug("surrogate fit degenerate, shrinking region",
				zap.Int("iteration", st.iter),
				zap.Error(err))
			radius *= o.cfg.BetaRed
			record()
			if radius < o.cfg.MinRadius {
				converged = true
				break
			}
			continue
		}

		z, err := o.solver.Solve(model, handler.Models(), scaledBounds(tr, st.bounds))
		if err != nil {
			solveFails++
			o.logger.Warn("subproblem solve failed",
				zap.Int("iteration", st.iter),
				zap.Int("consecutive", solveFails),
				zap.Error(err))
			if solveFails >= maxConsecutiveSolveFailures {
				return nil, optimization.WrapErrorf(err, optimization.KindSolve,
					"%d consecutive subproblem failures", solveFails).WithOperation(op)
			}
			// Fall back to the best known feasible sample; as that point
			// is already evaluated the step is treated as rejected.
			radius *= o.cfg.BetaRed
			record()
			if radius < o.cfg.MinRadius {
				converged = true
				break
			}
			continue
		}
		solveFails = 0

		xCand := clipToBounds(model.fromZ(z), st.bounds)
		predicted := model.atZ(make([]float64, model.n)) - model.atZ(z)

		// While no feasible sample exists the screen is bypassed: every
		// observed point is on the infeasible side, so the handler would
		// reject the very candidates that restore feasibility.
		feasibleKnown := o.bestFeasible(st) >= 0

		outOfBudget := false
		switch {
		case predicted <= 1e-12:
			// The model promises nothing inside the region.
			radius *= o.cfg.BetaRed

		case feasibleKnown && !handler.Accept(xCand):
			// Discrimination rejected the candidate: no budget is spent.
			radius *= o.cfg.BetaRed

		default:
			candIdx, ok := o.evaluate(problem, st, xCand)
			if !ok {
				outOfBudget = true
				break
			}

			accepted := false
			rho := (st.F[centerIdx] - st.F[candIdx]) / predicted
			switch {
			case math.IsNaN(rho) || rho < o.cfg.Eta1:
				radius *= o.cfg.BetaRed
			case rho >= o.cfg.Eta2:
				radius = math.Min(radius*o.cfg.BetaInc, maxRadius)
				accepted = true
			default:
				accepted = true
			}

			switch {
			case accepted && st.feas[candIdx]:
				centerIdx = candIdx
			case !feasibleKnown && len(st.G[candIdx]) > 0 &&
				margin(st.G[candIdx]) < margin(st.G[centerIdx]):
				// Restoration step: with only infeasible samples the
				// center chases decreasing violation so the region can
				// reach the feasible set even when it lies beyond the
				// current radius.
				centerIdx = candIdx
			}
		}

		// Sampling may have found a better feasible point than the
		// accepted step did; the incumbent tracks the whole history.
		if i := o.bestFeasible(st); i >= 0 {
			bestIdx = i
		}

		if outOfBudget {
			record()
			break
		}

		if bestIdx >= 0 && st.feas[bestIdx] {
			if lastBestF-st.F[bestIdx] < o.cfg.Tolerance {
				stall++
			} else {
				stall = 0
			}
			lastBestF = st.F[bestIdx]
			if stall >= 3*o.cfg.NMinSamples {
				radius *= o.cfg.BetaRed
				stall = 0
			}
		}

		record()

		if o.cfg.Method == MethodGlobal && radius < o.cfg.ConvRadius && st.evals < st.maxEvals {
			if newCenter, restart := o.heuristic.Restart(rng, st); restart {
				idx, ok := o.evaluate(problem, st, newCenter)
				if !ok {
					break
				}
				o.logger.Info("restarting trust region",
					zap.Int("iteration", st.iter),
					zap.Float64s("center", newCenter))
				st.centers = append(st.centers, append([]float64(nil), st.X[idx]...))
				centerIdx = idx
				if st.feas[idx] && bestIdx < 0 {
					bestIdx = idx
				}
				radius = o.cfg.InitRadius
			}
		}

		if radius < o.cfg.MinRadius {
			converged = true
			break
		}
	}

	if i := o.bestFeasible(st); i >= 0 {
		bestIdx = i
	}
	if bestIdx < 0 {
		bestIdx = o.leastViolating(st)
	}
	result := o.finalize(st, bestIdx, converged)
	result.FStore = fStore
	result.XStore = xStore
	result.GStore = gStore

	o.logger.Info("optimization finished",
		zap.Int("func_evals", result.FuncEvals),
		zap.Float64("best_f", result.F),
		zap.Float64("g_viol", result.GViol),
		zap.Bool("converged", result.Converged))

	return result, nil
}

// GetBestSolution returns the best solution found so far
func (o *Optimizer) GetBestSolution() *optimization.Solution {
	return o.best
}

// GetHistory returns the history of true-function evaluations
func (o *Optimizer) GetHistory() []optimization.Evaluation {
	return o.history
}

// Stop stops the optimization process
func (o *Optimizer) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
}

// newHandler picks the constraint handler for the problem.
func (o *Optimizer) newHandler(problem optimization.Problem) constraintHandler {
	if len(problem.Constraints) == 0 {
		return noopHandler{}
	}
	if o.cfg.ConstrHandling == HandlingRegression {
		return newRegressionHandler(o.fitter, o.logger)
	}
	return newDiscriminationHandler(o.fitter, o.logger)
}

// mergePrior validates and appends externally supplied evaluations to the
// history. Prior evaluations never consume budget.
func (o *Optimizer) mergePrior(problem optimization.Problem, st *runState) error {
	prior := problem.Prior
	if prior == nil || len(prior.XSamples) == 0 {
		return nil
	}
	if len(prior.FEvals) != len(prior.XSamples) {
		return optimization.ConfigErrorf("prior evals: %d samples but %d objective values",
			len(prior.XSamples), len(prior.FEvals))
	}
	if len(prior.GEvals) > 0 && len(prior.GEvals) != len(prior.XSamples) {
		return optimization.ConfigErrorf("prior evals: %d samples but %d constraint vectors",
			len(prior.XSamples), len(prior.GEvals))
	}

	for i, x := range prior.XSamples {
		if len(x) != len(o.cfg.X0) {
			return optimization.ConfigErrorf("prior evals: sample %d has dimension %d, want %d",
				i, len(x), len(o.cfg.X0))
		}
		var g []float64
		if len(prior.GEvals) > 0 {
			g = append([]float64(nil), prior.GEvals[i]...)
		} else {
			g = make([]float64, len(problem.Constraints))
		}
		feasible := true
		for _, gv := range g {
			if gv > o.cfg.Tolerance {
				feasible = false
				break
			}
		}
		xx := append([]float64(nil), x...)
		st.X = append(st.X, xx)
		st.F = append(st.F, prior.FEvals[i])
		st.G = append(st.G, g)
		st.feas = append(st.feas, feasible)
		o.history = append(o.history, optimization.Evaluation{
			Iteration: 0, X: xx, F: prior.FEvals[i], G: g, Feasible: feasible,
		})
	}
	return nil
}

// initialCenter resolves the first region center: the configured x0, or
// a prior-derived point when seed data selects one.
func (o *Optimizer) initialCenter(problem optimization.Problem, st *runState) []float64 {
	prior := problem.Prior
	if prior == nil || len(prior.XSamples) == 0 {
		return o.cfg.X0
	}
	if prior.X0Method == "bound center" {
		bounds := prior.Bounds
		if bounds == nil {
			bounds = problem.Bounds
		}
		if bounds != nil {
			mid := make([]float64, len(bounds))
			for i, b := range bounds {
				mid[i] = (b[0] + b[1]) / 2
			}
			return mid
		}
		return o.cfg.X0
	}
	// Default "best eval": the lowest feasible observed value, falling
	// back to the least violating sample.
	best := -1
	for i := range st.X {
		if !st.feas[i] {
			continue
		}
		if best < 0 || st.F[i] < st.F[best] {
			best = i
		}
	}
	if best < 0 {
		best = o.leastViolating(st)
	}
	if best < 0 {
		return o.cfg.X0
	}
	return st.X[best]
}

// evaluate runs the true objective and constraints at x, spending one
// unit of budget. Duplicate points reuse the recorded evaluation for free.
// The second return is false when the budget is already exhausted.
func (o *Optimizer) evaluate(problem optimization.Problem, st *runState, x []float64) (int, bool) {
	for i, prev := range st.X {
		if euclidean(x, prev) < duplicateTolerance {
			return i, true
		}
	}
	if st.evals >= st.maxEvals {
		return -1, false
	}
	st.evals++

	xx := append([]float64(nil), x...)
	g := make([]float64, len(problem.Constraints))
	feasible := true

	f, err := problem.Objective(xx)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		// A failed simulator call is recorded as worst-case infeasible so
		// the loop survives it; the point never becomes the incumbent.
		o.logger.Warn("objective evaluation failed",
			zap.Float64s("x", xx),
			zap.Error(err))
		f = math.Inf(1)
		feasible = false
		for i := range g {
			g[i] = math.Inf(1)
		}
	} else {
		for i, constr := range problem.Constraints {
			gv, gerr := constr(xx)
			if gerr != nil || math.IsNaN(gv) {
				gv = math.Inf(1)
			}
			g[i] = gv
			if gv > o.cfg.Tolerance {
				feasible = false
			}
		}
	}

	st.X = append(st.X, xx)
	st.F = append(st.F, f)
	st.G = append(st.G, g)
	st.feas = append(st.feas, feasible)
	o.history = append(o.history, optimization.Evaluation{
		Iteration: st.iter, X: xx, F: f, G: g, Feasible: feasible,
	})

	if feasible && (o.best == nil || f < o.best.Value) {
		o.best = &optimization.Solution{
			Parameters: append([]float64(nil), xx...),
			Value:      f,
		}
	}

	return len(st.X) - 1, true
}

// topUp draws and evaluates additional samples until the region holds
// NMinSamples points, reporting whether the budget ran out mid-batch.
func (o *Optimizer) topUp(problem optimization.Problem, st *runState, tr, sampleRegion Region, handler constraintHandler, rng *rand.Rand) bool {
	inRegion := 0
	for _, x := range st.X {
		if tr.contains(x) {
			inRegion++
		}
	}
	need := o.cfg.NMinSamples - inRegion
	if need <= 0 {
		return false
	}

	points := o.sampler.Sample(rng, sampleRegion, st.bounds, st.X, need)
	for _, p := range points {
		if !o.heuristic.Screen(p, handler.Accept) {
			continue
		}
		if _, ok := o.evaluate(problem, st, p); !ok {
			return true
		}
	}
	return false
}

// window selects the sample window for fitting: the points inside the
// region, or the full history when the region holds too few.
func (o *Optimizer) window(st *runState, tr Region) ([][]float64, []float64, [][]float64) {
	var wX [][]float64
	var wF []float64
	var wG [][]float64
	for i, x := range st.X {
		if tr.contains(x) {
			wX = append(wX, x)
			wF = append(wF, st.F[i])
			wG = append(wG, st.G[i])
		}
	}
	if len(wX) < o.cfg.NMinSamples {
		return st.X, st.F, st.G
	}
	return wX, wF, wG
}

// refitAfterResample handles a degenerate fit by forcing a fresh batch of
// samples and retrying once.
func (o *Optimizer) refitAfterResample(problem optimization.Problem, st *runState, tr Region, handler constraintHandler, rng *rand.Rand) (*Quadratic, error) {
	points := o.sampler.Sample(rng, tr, st.bounds, st.X, o.cfg.NMinSamples)
	for _, p := range points {
		if _, ok := o.evaluate(problem, st, p); !ok {
			break
		}
	}
	wX, wF, wG := o.window(st, tr)
	if len(problem.Constraints) > 0 {
		_ = handler.Update(wX, wG, tr.Center, tr.Radius)
	}
	return o.fitter.Fit(wX, wF, tr.Center, tr.Radius)
}

// bestFeasible returns the index of the feasible sample with the lowest
// objective value, or -1 when no feasible sample exists.
func (o *Optimizer) bestFeasible(st *runState) int {
	best := -1
	for i := range st.X {
		if !st.feas[i] {
			continue
		}
		if best < 0 || st.F[i] < st.F[best] {
			best = i
		}
	}
	return best
}

// leastViolating returns the index of the sample with the smallest
// constraint margin, breaking ties by objective value. Used when no
// feasible point is known.
func (o *Optimizer) leastViolating(st *runState) int {
	best := -1
	bestMargin := math.Inf(1)
	for i := range st.X {
		m := 0.0
		if len(st.G[i]) > 0 {
			m = margin(st.G[i])
		}
		if best < 0 || m < bestMargin || (m == bestMargin && st.F[i] < st.F[best]) {
			best = i
			bestMargin = m
		}
	}
	return best
}

// finalize assembles the result for the chosen incumbent.
func (o *Optimizer) finalize(st *runState, bestIdx int, converged bool) *optimization.Result {
	result := &optimization.Result{
		FuncEvals: st.evals,
		Converged: converged,
	}
	if bestIdx < 0 {
		return result
	}
	result.X = append([]float64(nil), st.X[bestIdx]...)
	result.F = st.F[bestIdx]
	for _, gv := range st.G[bestIdx] {
		if gv > 0 {
			result.GViol += gv
		}
	}
	return result
}

// scaledBounds maps the problem bounds into the model's scaled frame.
func scaledBounds(tr Region, bounds [][2]float64) [][2]float64 {
	if bounds == nil {
		return nil
	}
	zb := make([][2]float64, len(bounds))
	for i, b := range bounds {
		zb[i][0] = (b[0] - tr.Center[i]) / tr.Radius
		zb[i][1] = (b[1] - tr.Center[i]) / tr.Radius
	}
	return zb
}

// rescaleRadius scales the configured radius by the median half-width of
// the bounds, so one radius setting behaves comparably across problems
// with very different variable ranges.
func rescaleRadius(radius float64, bounds [][2]float64) float64 {
	halfWidths := make([]float64, len(bounds))
	for i, b := range bounds {
		halfWidths[i] = (b[1] - b[0]) / 2
	}
	sort.Float64s(halfWidths)
	n := len(halfWidths)
	median := halfWidths[n/2]
	if n%2 == 0 {
		median = (halfWidths[n/2-1] + halfWidths[n/2]) / 2
	}
	return radius * median
}
