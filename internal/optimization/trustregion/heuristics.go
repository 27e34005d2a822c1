package trustregion

import (
	"math"
	"math/rand"
)

// heuristic is the exploration strategy layered on the core loop. The
// variant is selected once at configuration time; the loop invokes it
// uniformly and never branches on the configured names.
type heuristic interface {
	Name() string

	// SampleRegion derives the region new samples are drawn from, given
	// the trust region and the fraction of the evaluation budget consumed.
	SampleRegion(tr Region, budgetFrac float64) Region

	// Screen reports whether a proposed sample point should be evaluated;
	// accept is the constraint handler's candidate test.
	Screen(x []float64, accept func([]float64) bool) bool

	// Restart proposes a new region center once the radius has locally
	// converged under the global method. Returning false terminates the
	// run instead.
	Restart(rng *rand.Rand, st *runState) ([]float64, bool)
}

// baseHeuristic is the plain strategy: samples come from the trust region
// itself and every draw is evaluated. Under the global method it restarts
// at a dispersed random center.
type baseHeuristic struct {
	global           bool
	initRadius       float64
	minRestartRadius float64
	noX0             int
}

func (h *baseHeuristic) Name() string { return "base" }

func (h *baseHeuristic) SampleRegion(tr Region, _ float64) Region { return tr }

func (h *baseHeuristic) Screen(_ []float64, _ func([]float64) bool) bool { return true }

func (h *baseHeuristic) Restart(rng *rand.Rand, st *runState) ([]float64, bool) {
	if !h.global {
		return nil, false
	}
	// Draw candidate centers and keep the one farthest from everywhere
	// the optimizer has already converged.
	var best []float64
	bestDist := math.Inf(-1)
	for i := 0; i < h.noX0; i++ {
		cand := h.randomCenter(rng, st)
		d := minDistance(cand, st.centers)
		if d > bestDist {
			bestDist = d
			best = cand
		}
	}
	if best == nil || bestDist < h.minRestartRadius {
		return nil, false
	}
	return best, true
}

// randomCenter draws a restart candidate from the bounds, or from a wide
// ball around the first center when the problem is unbounded.
func (h *baseHeuristic) randomCenter(rng *rand.Rand, st *runState) []float64 {
	n := len(st.centers[0])
	if st.bounds != nil {
		x := make([]float64, n)
		for i := range x {
			lo, hi := st.bounds[i][0], st.bounds[i][1]
			x[i] = lo + rng.Float64()*(hi-lo)
		}
		return x
	}
	wide := Region{
		Center: st.centers[0],
		Radius: math.Max(10*h.initRadius, 2*h.minRestartRadius),
	}
	return drawInRegion(rng, wide, nil)
}

// feasibleSamplingHeuristic evaluates only draws the constraint handler
// predicts feasible, keeping the budget inside the feasible region.
type feasibleSamplingHeuristic struct {
	baseHeuristic
}

func (h *feasibleSamplingHeuristic) Name() string { return ExploreFeasibleSampling }

func (h *feasibleSamplingHeuristic) Screen(x []float64, accept func([]float64) bool) bool {
	return accept(x)
}

// exploitExploreHeuristic spends the first part of the budget sampling a
// widened region, then contracts sampling inside the trust region. The
// split is governed by the sampling/trust ratio pair.
type exploitExploreHeuristic struct {
	baseHeuristic
	ratio [2]float64
}

func (h *exploitExploreHeuristic) Name() string { return ExploreExploitExplore }

func (h *exploitExploreHeuristic) SampleRegion(tr Region, budgetFrac float64) Region {
	if budgetFrac < h.ratio[0] {
		return Region{Center: tr.Center, Radius: tr.Radius / h.ratio[1]}
	}
	return Region{Center: tr.Center, Radius: tr.Radius * h.ratio[1]}
}

// samplingRegionHeuristic keeps a sampling region wider than the trust
// region for the whole run: the model is trusted inside the inner ball but
// informed by samples from the outer one.
type samplingRegionHeuristic struct {
	baseHeuristic
	ratio [2]float64
}

func (h *samplingRegionHeuristic) Name() string { return ExploreSamplingRegion }

func (h *samplingRegionHeuristic) SampleRegion(tr Region, _ float64) Region {
	return Region{Center: tr.Center, Radius: tr.Radius / h.ratio[1]}
}

// tisHeuristic (trust-region informed sampling) restarts at the most
// isolated evaluated sample, steering the global search into the least
// explored part of the space.
type tisHeuristic struct {
	baseHeuristic
}

func (h *tisHeuristic) Name() string { return ExploreTIS }

func (h *tisHeuristic) Restart(_ *rand.Rand, st *runState) ([]float64, bool) {
	var best []float64
	bestScore := math.Inf(-1)
	for i, x := range st.X {
		if minDistance(x, st.centers) < h.minRestartRadius {
			continue
		}
		score := math.Inf(1)
		for j, other := range st.X {
			if i == j {
				continue
			}
			if d := euclidean(x, other); d < score {
				score = d
			}
		}
		if score > bestScore {
			bestScore = score
			best = x
		}
	}
	if best == nil {
		return nil, false
	}
	return append([]float64(nil), best...), true
}

// tipHeuristic (trust-region informed point) restarts at the best
// evaluated sample that previous regions have not already converged on.
type tipHeuristic struct {
	baseHeuristic
}

func (h *tipHeuristic) Name() string { return ExploreTIP }

func (h *tipHeuristic) Restart(_ *rand.Rand, st *runState) ([]float64, bool) {
	var best []float64
	bestF := math.Inf(1)
	for i, x := range st.X {
		if !st.feas[i] || st.F[i] >= bestF {
			continue
		}
		if minDistance(x, st.centers) < h.minRestartRadius {
			continue
		}
		bestF = st.F[i]
		best = x
	}
	if best == nil {
		return nil, false
	}
	return append([]float64(nil), best...), true
}

func minDistance(x []float64, points [][]float64) float64 {
	d := math.Inf(1)
	for _, p := range points {
		if dd := euclidean(x, p); dd < d {
			d = dd
		}
	}
	return d
}
