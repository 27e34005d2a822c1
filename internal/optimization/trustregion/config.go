// Package trustregion implements a derivative-free trust-region optimizer
// for constrained black-box functions. Each iteration samples the simulator
// inside the current region, fits a local quadratic surrogate, minimizes it
// over the region with a convex solver, and accepts or rejects the candidate
// step with a predicted-vs-actual improvement ratio test.
package trustregion

import (
	"math"

	"github.com/copyleftdev/QUADRA/internal/optimization"
)

// Constraint handling modes.
const (
	HandlingDiscrimination = "Discrimination"
	HandlingRegression     = "Regression"
)

// Sampling strategies.
const (
	SamplingBase = "base"
	SamplingG    = "g"
)

// Exploration heuristics. ExploreNone selects the plain loop.
const (
	ExploreNone             = ""
	ExploreFeasibleSampling = "feasible_sampling"
	ExploreExploitExplore   = "exploit_explore"
	ExploreSamplingRegion   = "sampling_region"
	ExploreTIS              = "TIS"
	ExploreTIP              = "TIP"
)

// Search methods.
const (
	MethodLocal  = "local"
	MethodGlobal = "global"
)

// Solver names accepted by the configuration. Neither solver ships Go
// bindings, so the names select between two in-process convex solvers of
// the corresponding method family (see subproblem.go).
const (
	SolverSCS   = "SCS"
	SolverMOSEK = "MOSEK"
)

// maxRadiusFactor caps trust-region growth at a multiple of the initial radius.
const maxRadiusFactor = 16.0

// Config holds the constructor configuration for the optimizer.
// All fields are validated eagerly by Validate; invalid values fail with
// a descriptive configuration error rather than being silently clamped.
type Config struct {
	// X0 is the initial guess
	X0 []float64

	// InitRadius is the initial trust-region radius; must be > 0
	InitRadius float64

	// MaxIter is the iteration cap; must be > 0
	MaxIter int

	// Tolerance gates acceptance of marginal improvements for
	// stagnation detection; must be > 0
	Tolerance float64

	// BetaInc is the radius growth factor; must be > 1
	BetaInc float64

	// BetaRed is the radius reduction factor; must be in (0, 1)
	BetaRed float64

	// Eta1, Eta2 are the ratio-test thresholds; both in [0, 1]
	// with Eta1 < Eta2
	Eta1 float64
	Eta2 float64

	// Method is "local" or "global"; global restarts the region after
	// local convergence while evaluation budget remains
	Method string

	// NMinSamples is the minimum number of points inside the region
	// required before the surrogate is fit; must be >= 1
	NMinSamples int

	// ConstrHandling is "Discrimination" or "Regression"
	ConstrHandling string

	// Sampling is "base" (MCD space filling) or "g" (geometric)
	Sampling string

	// Explore selects an exploration heuristic; non-empty values
	// require Sampling == "base"
	Explore string

	// SamplingTrustRatio is a two-element fraction pair; both entries
	// in (0, 1) and summing to at most 1
	SamplingTrustRatio [2]float64

	// MinRadius is the radius floor that triggers termination
	MinRadius float64

	// MinRestartRadius is the minimum distance a global restart center
	// must keep from previous centers
	MinRestartRadius float64

	// ConvRadius is the radius below which the global method considers
	// the current region locally converged and may restart
	ConvRadius float64

	// NoX0 is the number of candidate centers drawn per global restart
	NoX0 int

	// RescaleRadius rescales InitRadius to the bound widths before a run
	RescaleRadius bool

	// Solver is the convex subproblem solver name: "SCS" or "MOSEK"
	Solver string
}

// DefaultConfig returns a Config with the standard defaults for the
// given initial guess.
func DefaultConfig(x0 []float64) Config {
	return Config{
		X0:                 x0,
		InitRadius:         1.0,
		MaxIter:            100,
		Tolerance:          1e-8,
		BetaInc:            1.2,
		BetaRed:            0.8,
		Eta1:               0.2,
		Eta2:               0.8,
		Method:             MethodLocal,
		NMinSamples:        6,
		ConstrHandling:     HandlingDiscrimination,
		Sampling:           SamplingG,
		Explore:            ExploreNone,
		SamplingTrustRatio: [2]float64{0.1, 0.9},
		MinRadius:          0.05,
		MinRestartRadius:   2.0,
		ConvRadius:         0.2,
		NoX0:               5,
		RescaleRadius:      false,
		Solver:             SolverSCS,
	}
}

// Validate checks every constructor argument and returns a configuration
// error describing the first violation found.
func (c Config) Validate() error {
	if len(c.X0) == 0 {
		return optimization.ConfigErrorf("x0 must be a non-empty vector")
	}
	for i, v := range c.X0 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return optimization.ConfigErrorf("x0[%d] must be finite, got %v", i, v)
		}
	}
	if !(c.InitRadius > 0) {
		return optimization.ConfigErrorf("init_radius must be > 0, got %v", c.InitRadius)
	}
	if c.MaxIter <= 0 {
		return optimization.ConfigErrorf("max_iter must be > 0, got %d", c.MaxIter)
	}
	if !(c.Tolerance > 0) {
		return optimization.ConfigErrorf("tolerance must be > 0, got %v", c.Tolerance)
	}
	if !(c.BetaInc > 1) {
		return optimization.ConfigErrorf("beta_inc must be > 1, got %v", c.BetaInc)
	}
	if !(c.BetaRed > 0 && c.BetaRed < 1) {
		return optimization.ConfigErrorf("beta_red must be in (0, 1), got %v", c.BetaRed)
	}
	if c.Eta1 < 0 || c.Eta1 > 1 || c.Eta2 < 0 || c.Eta2 > 1 {
		return optimization.ConfigErrorf("eta1 and eta2 must be in [0, 1], got %v and %v", c.Eta1, c.Eta2)
	}
	if !(c.Eta1 < c.Eta2) {
		return optimization.ConfigErrorf("eta1 must be < eta2, got %v and %v", c.Eta1, c.Eta2)
	}
	if c.Method != MethodLocal && c.Method != MethodGlobal {
		return optimization.ConfigErrorf("method must be %q or %q, got %q", MethodLocal, MethodGlobal, c.Method)
	}
	if c.NMinSamples < 1 {
		return optimization.ConfigErrorf("N_min_samples must be >= 1, got %d", c.NMinSamples)
	}
	if c.ConstrHandling != HandlingDiscrimination && c.ConstrHandling != HandlingRegression {
		return optimization.ConfigErrorf("constr_handling must be %q or %q, got %q",
			HandlingDiscrimination, HandlingRegression, c.ConstrHandling)
	}
	if c.Sampling != SamplingBase && c.Sampling != SamplingG {
		return optimization.ConfigErrorf("sampling must be %q or %q, got %q", SamplingBase, SamplingG, c.Sampling)
	}
	switch c.Explore {
	case ExploreNone, ExploreFeasibleSampling, ExploreExploitExplore,
		ExploreSamplingRegion, ExploreTIS, ExploreTIP:
	default:
		return optimization.ConfigErrorf("unknown exploration heuristic %q", c.Explore)
	}
	if c.Explore != ExploreNone && c.Sampling != SamplingBase {
		return optimization.ConfigErrorf(
			"exploration heuristics require MCD sampling: set sampling to %q or explore to none",
			SamplingBase)
	}
	r := c.SamplingTrustRatio
	if !(r[0] > 0 && r[0] < 1) || !(r[1] > 0 && r[1] < 1) {
		return optimization.ConfigErrorf("sampling_trust_ratio entries must be in (0, 1), got %v", r)
	}
	if r[0]+r[1] > 1+1e-12 {
		return optimization.ConfigErrorf("sampling_trust_ratio entries must sum to at most 1, got %v", r)
	}
	if !(c.MinRadius > 0) {
		return optimization.ConfigErrorf("min_radius must be > 0, got %v", c.MinRadius)
	}
	if !(c.MinRestartRadius > 0) {
		return optimization.ConfigErrorf("min_restart_radius must be > 0, got %v", c.MinRestartRadius)
	}
	if !(c.ConvRadius > 0) {
		return optimization.ConfigErrorf("conv_radius must be > 0, got %v", c.ConvRadius)
	}
	if c.NoX0 < 1 {
		return optimization.ConfigErrorf("no_x0 must be >= 1, got %d", c.NoX0)
	}
	if c.Solver != SolverSCS && c.Solver != SolverMOSEK {
		return optimization.ConfigErrorf("solver must be %q or %q, got %q", SolverSCS, SolverMOSEK, c.Solver)
	}
	return nil
}

// resolveSampler maps the validated sampling name to a sampler.
func resolveSampler(name string) sampler {
	if name == SamplingBase {
		return &mcdSampler{candidates: mcdCandidatePool}
	}
	return &geometricSampler{}
}

// resolveSolver maps the validated solver name to a subproblem solver.
func resolveSolver(name string) solver {
	if name == SolverMOSEK {
		return &newtonSolver{}
	}
	return &splittingSolver{}
}

// resolveHeuristic maps the validated explore name to a strategy variant.
// Validation guarantees the (sampling, explore) pair is consistent, so the
// loop never sees a conflicting combination.
func resolveHeuristic(c Config) heuristic {
	base := baseHeuristic{
		global:           c.Method == MethodGlobal,
		initRadius:       c.InitRadius,
		minRestartRadius: c.MinRestartRadius,
		noX0:             c.NoX0,
	}
	switch c.Explore {
	case ExploreFeasibleSampling:
		return &feasibleSamplingHeuristic{baseHeuristic: base}
	case ExploreExploitExplore:
		return &exploitExploreHeuristic{baseHeuristic: base, ratio: c.SamplingTrustRatio}
	case ExploreSamplingRegion:
		return &samplingRegionHeuristic{baseHeuristic: base, ratio: c.SamplingTrustRatio}
	case ExploreTIS:
		return &tisHeuristic{baseHeuristic: base}
	case ExploreTIP:
		return &tipHeuristic{baseHeuristic: base}
	default:
		return &base
	}
}
