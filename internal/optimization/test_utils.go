package optimization

import (
	"math"
	"math/rand"
	"testing"
)

// testObjectiveFunc is a simple quadratic objective function for testing
func testObjectiveFunc(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

// testNoisyObjectiveFunc adds random noise to the objective function
func testNoisyObjectiveFunc(noiseScale float64) ObjectiveFunc {
	return func(x []float64) (float64, error) {
		val, _ := testObjectiveFunc(x)
		return val + noiseScale*(rand.Float64()-0.5), nil
	}
}

// testLinearConstraint returns g(x) = x[i] - limit, feasible when x[i] <= limit
func testLinearConstraint(i int, limit float64) ConstraintFunc {
	return func(x []float64) (float64, error) {
		return x[i] - limit, nil
	}
}

// assertFloat64SlicesEqual checks if two float64 slices are approximately equal
func assertFloat64SlicesEqual(t *testing.T, got, want []float64, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}

// assertMonotoneNonIncreasing checks the trust-region monotonicity guarantee
func assertMonotoneNonIncreasing(t *testing.T, vals []float64) {
	t.Helper()

	for i := 1; i < len(vals); i++ {
		if vals[i] > vals[i-1]+1e-12 {
			t.Fatalf("sequence increased at index %d: %v -> %v", i, vals[i-1], vals[i])
		}
	}
}
