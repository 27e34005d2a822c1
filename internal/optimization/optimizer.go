package optimization

import (
	"context"
)

// Optimizer defines the interface for optimization algorithms
type Optimizer interface {
	// Optimize runs the optimization process on the given problem
	Optimize(ctx context.Context, problem Problem) (*Result, error)

	// GetBestSolution returns the best solution found so far
	GetBestSolution() *Solution

	// GetHistory returns the history of true-function evaluations
	GetHistory() []Evaluation

	// Stop gracefully stops the optimization process
	Stop()
}

// ObjectiveFunc evaluates the black-box objective at x.
// The function is assumed deterministic and possibly expensive;
// every call counts against the evaluation budget.
type ObjectiveFunc func(x []float64) (float64, error)

// ConstraintFunc evaluates a single constraint at x.
// A point is feasible with respect to the constraint when g(x) <= 0.
type ConstraintFunc func(x []float64) (float64, error)

// Problem describes one optimization run
type Problem struct {
	// Objective function to minimize
	Objective ObjectiveFunc

	// Constraint functions, each interpreted as g(x) <= 0
	Constraints []ConstraintFunc

	// Bounds for each dimension [min, max]; nil means unbounded
	Bounds [][2]float64

	// Hard cap on true-function evaluations
	MaxFuncEvals int

	// Random seed for reproducibility of stochastic sampling
	Seed int64

	// Prior evaluations seeded into the sample history before the
	// first iteration; may be nil
	Prior *PriorEvals
}

// PriorEvals carries externally supplied seed data merged into the
// sample history before the first iteration.
type PriorEvals struct {
	// XSamples holds previously sampled points
	XSamples [][]float64

	// FEvals holds the objective values matching XSamples
	FEvals []float64

	// GEvals holds the constraint vectors matching XSamples; may be
	// empty when the problem is unconstrained
	GEvals [][]float64

	// Bounds the prior data was collected under
	Bounds [][2]float64

	// X0Method determines how the initial center is chosen:
	// "best eval" picks the lowest feasible observed f,
	// "bound center" uses the midpoint of the bounds.
	X0Method string
}

// Solution represents a solution in the optimization space
type Solution struct {
	Parameters []float64
	Value      float64
}

// Evaluation represents a single true evaluation of the objective
// and constraints at a point.
type Evaluation struct {
	Iteration int
	X         []float64
	F         float64
	G         []float64
	Feasible  bool
}

// Result contains the output of an optimization run
type Result struct {
	// X is the final incumbent
	X []float64

	// F is the objective value at the incumbent
	F float64

	// FuncEvals is the total number of true-function evaluations
	FuncEvals int

	// FStore is the best objective value at each iteration;
	// non-increasing across iterations
	FStore []float64

	// XStore is the incumbent at each iteration
	XStore [][]float64

	// GStore is the constraint vector at the incumbent, per iteration
	GStore [][]float64

	// GViol is the total constraint violation sum(max(0, g_i)) at
	// the final incumbent
	GViol float64

	// Converged reports whether the trust region collapsed below the
	// minimum radius (as opposed to running out of budget or iterations)
	Converged bool
}
