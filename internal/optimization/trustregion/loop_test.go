package trustregion

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/copyleftdev/QUADRA/internal/optimization"
)

func sphereObjective(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

func newTestOptimizer(t *testing.T, cfg Config) *Optimizer {
	t.Helper()
	o, err := New(cfg)
	require.NoError(t, err)
	o.SetLogger(zap.NewNop())
	return o
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig(nil)
	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, optimization.IsKind(err, optimization.KindConfig))
}

func TestOptimizeRequiresObjective(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig([]float64{0, 0}))
	_, err := o.Optimize(context.Background(), optimization.Problem{})
	require.Error(t, err)
	assert.True(t, optimization.IsKind(err, optimization.KindConfig))
}

func TestOptimizeValidatesBounds(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig([]float64{0, 0}))

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := o.Optimize(context.Background(), optimization.Problem{
			Objective: sphereObjective,
			Bounds:    [][2]float64{{-1, 1}},
		})
		require.Error(t, err)
		assert.True(t, optimization.IsKind(err, optimization.KindConfig))
	})

	t.Run("inverted bounds", func(t *testing.T) {
		_, err := o.Optimize(context.Background(), optimization.Problem{
			Objective: sphereObjective,
			Bounds:    [][2]float64{{-1, 1}, {1, -1}},
		})
		require.Error(t, err)
		assert.True(t, optimization.IsKind(err, optimization.KindConfig))
	})
}

func TestOptimizeSphere(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig([]float64{5, 5}))

	result, err := o.Optimize(context.Background(), optimization.Problem{
		Objective:    sphereObjective,
		Bounds:       [][2]float64{{-10, 10}, {-10, 10}},
		MaxFuncEvals: 250,
		Seed:         1,
	})
	require.NoError(t, err)

	assert.Less(t, result.F, 1e-2, "should reach the optimum basin")
	assert.InDelta(t, 0, result.X[0], 0.2)
	assert.InDelta(t, 0, result.X[1], 0.2)
	assert.LessOrEqual(t, result.FuncEvals, 250)

	best := o.GetBestSolution()
	require.NotNil(t, best)
	assert.Equal(t, result.F, best.Value)
}

func TestOptimizeHonorsBudget(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig([]float64{5, 5}))

	result, err := o.Optimize(context.Background(), optimization.Problem{
		Objective:    sphereObjective,
		MaxFuncEvals: 30,
		Seed:         2,
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, result.FuncEvals, 30)
	assert.Equal(t, result.FuncEvals, len(o.GetHistory()))
}

func TestOptimizeIncumbentIsMonotone(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig([]float64{4, -3}))

	result, err := o.Optimize(context.Background(), optimization.Problem{
		Objective:    sphereObjective,
		MaxFuncEvals: 150,
		Seed:         3,
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.FStore)
	for i := 1; i < len(result.FStore); i++ {
		assert.LessOrEqual(t, result.FStore[i], result.FStore[i-1]+1e-12,
			"incumbent objective rose at iteration %d", i)
	}

	// The stores are parallel; the reported incumbent can only improve
	// on the last recorded value when sampling spent the final budget.
	require.Equal(t, len(result.FStore), len(result.XStore))
	require.Equal(t, len(result.FStore), len(result.GStore))
	assert.LessOrEqual(t, result.F, result.FStore[len(result.FStore)-1])
}

func TestOptimizeIsReproducible(t *testing.T) {
	run := func() *optimization.Result {
		o := newTestOptimizer(t, DefaultConfig([]float64{5, 5}))
		result, err := o.Optimize(context.Background(), optimization.Problem{
			Objective:    sphereObjective,
			Bounds:       [][2]float64{{-10, 10}, {-10, 10}},
			MaxFuncEvals: 120,
			Seed:         42,
		})
		require.NoError(t, err)
		return result
	}

	a := run()
	b := run()
	assert.Equal(t, a.F, b.F)
	assert.Equal(t, a.X, b.X)
	assert.Equal(t, a.FuncEvals, b.FuncEvals)
	assert.Equal(t, a.FStore, b.FStore)
}

func TestOptimizeConstrained(t *testing.T) {
	// Minimize -x0 subject to x0 - 1 <= 0: the optimum is on the
	// constraint boundary at x0 = 1.
	objective := func(x []float64) (float64, error) { return -x[0], nil }
	constraint := func(x []float64) (float64, error) { return x[0] - 1, nil }

	for _, handling := range []string{HandlingDiscrimination, HandlingRegression} {
		t.Run(handling, func(t *testing.T) {
			cfg := DefaultConfig([]float64{0, 0})
			cfg.ConstrHandling = handling

			o := newTestOptimizer(t, cfg)
			result, err := o.Optimize(context.Background(), optimization.Problem{
				Objective:    objective,
				Constraints:  []optimization.ConstraintFunc{constraint},
				Bounds:       [][2]float64{{-2, 2}, {-2, 2}},
				MaxFuncEvals: 150,
				Seed:         5,
			})
			require.NoError(t, err)

			assert.Greater(t, result.X[0], 0.5, "should push towards the boundary")
			assert.LessOrEqual(t, result.GViol, 1e-6, "incumbent must be feasible")
		})
	}
}

func TestOptimizeInfeasibleStart(t *testing.T) {
	// Minimize ||x||^2 subject to x0 - 1 <= 0, starting at (3, 3): every
	// point within the initial region violates the constraint, so the
	// search must first walk the center towards the feasible set.
	constraint := func(x []float64) (float64, error) { return x[0] - 1, nil }

	cases := []struct {
		name    string
		explore string
		method  string
	}{
		{"base", ExploreNone, MethodLocal},
		{"sampling_region", ExploreSamplingRegion, MethodLocal},
		{"TIS", ExploreTIS, MethodGlobal},
		{"TIP", ExploreTIP, MethodGlobal},
	}
	for _, solver := range []string{SolverSCS, SolverMOSEK} {
		for _, tc := range cases {
			t.Run(solver+" "+tc.name, func(t *testing.T) {
				cfg := DefaultConfig([]float64{3, 3})
				cfg.Solver = solver
				cfg.Explore = tc.explore
				cfg.Method = tc.method
				if tc.explore != ExploreNone {
					cfg.Sampling = SamplingBase
				}

				o := newTestOptimizer(t, cfg)
				result, err := o.Optimize(context.Background(), optimization.Problem{
					Objective:    sphereObjective,
					Constraints:  []optimization.ConstraintFunc{constraint},
					Bounds:       [][2]float64{{-5, 5}, {-5, 5}},
					MaxFuncEvals: 300,
					Seed:         7,
				})
				require.NoError(t, err)

				assert.LessOrEqual(t, result.GViol, 1e-6, "incumbent must be feasible")
				assert.LessOrEqual(t, result.X[0], 1+1e-6)
				assert.Less(t, result.F, 9.0, "should leave the infeasible start behind")

				// The recorded incumbent objective never rises, even while
				// the only known samples are infeasible.
				require.NotEmpty(t, result.FStore)
				for i := 1; i < len(result.FStore); i++ {
					assert.LessOrEqual(t, result.FStore[i], result.FStore[i-1]+1e-12,
						"incumbent objective rose at iteration %d", i)
				}
			})
		}
	}
}

func TestOptimizeStopsAtRadiusFloor(t *testing.T) {
	// With a generous budget the run terminates because the radius
	// collapsed, and no evaluation is spent past that point.
	cfg := DefaultConfig([]float64{1, 1})
	cfg.MaxIter = 1000

	o := newTestOptimizer(t, cfg)
	result, err := o.Optimize(context.Background(), optimization.Problem{
		Objective:    sphereObjective,
		MaxFuncEvals: 5000,
		Seed:         11,
	})
	require.NoError(t, err)

	assert.True(t, result.Converged, "run should end on the radius floor")
	assert.Less(t, result.FuncEvals, 5000, "budget should be left over")
	assert.Len(t, o.GetHistory(), result.FuncEvals)
}

func TestOptimizeAbsorbsEvaluationFailures(t *testing.T) {
	// The objective blows up away from the start; failed evaluations are
	// recorded as worst-case infeasible and never become the incumbent.
	calls := 0
	objective := func(x []float64) (float64, error) {
		calls++
		if calls%4 == 0 {
			return 0, optimization.NewError(optimization.KindEvaluation, "simulator crashed")
		}
		return sphereObjective(x)
	}

	o := newTestOptimizer(t, DefaultConfig([]float64{3, 3}))
	result, err := o.Optimize(context.Background(), optimization.Problem{
		Objective:    objective,
		MaxFuncEvals: 100,
		Seed:         6,
	})
	require.NoError(t, err)

	assert.False(t, math.IsInf(result.F, 1), "a failed evaluation must not win")
	assert.Less(t, result.F, 18.0, "progress despite failures")
}

func TestOptimizeWithPriorEvaluations(t *testing.T) {
	evalCount := 0
	objective := func(x []float64) (float64, error) {
		evalCount++
		return sphereObjective(x)
	}

	prior := &optimization.PriorEvals{
		XSamples: [][]float64{{5, 5}, {0.1, 0.1}, {-2, 1}},
		FEvals:   []float64{50, 0.02, 5},
	}

	o := newTestOptimizer(t, DefaultConfig([]float64{5, 5}))
	result, err := o.Optimize(context.Background(), optimization.Problem{
		Objective:    objective,
		Prior:        prior,
		MaxFuncEvals: 40,
		Seed:         7,
	})
	require.NoError(t, err)

	// Prior data spends no budget and seeds the incumbent: the search
	// starts from the best prior point, not from x0.
	assert.LessOrEqual(t, result.FuncEvals, 40)
	assert.LessOrEqual(t, evalCount, 40)
	assert.LessOrEqual(t, result.F, 0.02)
}

func TestOptimizeRejectsBadPrior(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig([]float64{0, 0}))

	tests := []struct {
		name  string
		prior *optimization.PriorEvals
	}{
		{"mismatched lengths", &optimization.PriorEvals{
			XSamples: [][]float64{{1, 1}, {2, 2}},
			FEvals:   []float64{1},
		}},
		{"wrong dimension", &optimization.PriorEvals{
			XSamples: [][]float64{{1, 1, 1}},
			FEvals:   []float64{1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Optimize(context.Background(), optimization.Problem{
				Objective: sphereObjective,
				Prior:     tt.prior,
			})
			require.Error(t, err)
			assert.True(t, optimization.IsKind(err, optimization.KindConfig))
		})
	}
}

func TestOptimizeBoundCenterStart(t *testing.T) {
	var first []float64
	objective := func(x []float64) (float64, error) {
		if first == nil {
			first = append([]float64(nil), x...)
		}
		return sphereObjective(x)
	}

	o := newTestOptimizer(t, DefaultConfig([]float64{5, 5}))
	_, err := o.Optimize(context.Background(), optimization.Problem{
		Objective: objective,
		Bounds:    [][2]float64{{-4, 8}, {-10, 2}},
		Prior: &optimization.PriorEvals{
			XSamples: [][]float64{{1, 1}},
			FEvals:   []float64{2},
			X0Method: "bound center",
		},
		MaxFuncEvals: 20,
		Seed:         8,
	})
	require.NoError(t, err)

	require.NotNil(t, first)
	assert.Equal(t, []float64{2, -4}, first)
}

func TestOptimizeContextCancellation(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig([]float64{5, 5}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Optimize(ctx, optimization.Problem{
		Objective:    sphereObjective,
		MaxFuncEvals: 100,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptimizeGlobalRestarts(t *testing.T) {
	// A two-basin objective: the local method from the poor start finds
	// the shallow basin, the global method escapes it. Basins at (3, 0)
	// (value 1) and (-3, 0) (value 0).
	twoBasins := func(x []float64) (float64, error) {
		a := math.Hypot(x[0]-3, x[1])
		b := math.Hypot(x[0]+3, x[1])
		return math.Min(a*a+1, b*b), nil
	}

	cfg := DefaultConfig([]float64{3.5, 0})
	cfg.Method = MethodGlobal
	cfg.MinRestartRadius = 1.5
	cfg.ConvRadius = 0.3

	o := newTestOptimizer(t, cfg)
	result, err := o.Optimize(context.Background(), optimization.Problem{
		Objective:    twoBasins,
		Bounds:       [][2]float64{{-6, 6}, {-6, 6}},
		MaxFuncEvals: 400,
		Seed:         9,
	})
	require.NoError(t, err)

	// Local convergence near (3, 0), and evidence that the search left
	// the first region: some evaluation must be well away from the start.
	assert.Less(t, result.F, 1.3)
	start := []float64{3.5, 0}
	escaped := false
	for _, ev := range o.GetHistory() {
		if euclidean(ev.X, start) > cfg.MinRestartRadius {
			escaped = true
			break
		}
	}
	assert.True(t, escaped, "global method should restart away from the first basin")
}

func TestRescaleRadius(t *testing.T) {
	bounds := [][2]float64{{-10, 10}, {-2, 2}, {-4, 4}}
	// Half-widths are 10, 2, 4; the median is 4.
	assert.InDelta(t, 4.0, rescaleRadius(1.0, bounds), 1e-12)

	even := [][2]float64{{-10, 10}, {-2, 2}}
	// Half-widths 10 and 2 average to 6.
	assert.InDelta(t, 6.0, rescaleRadius(1.0, even), 1e-12)
}

func TestScaledBounds(t *testing.T) {
	tr := Region{Center: []float64{1, -1}, Radius: 2}
	zb := scaledBounds(tr, [][2]float64{{-3, 5}, {-1, 3}})
	assert.Equal(t, [2]float64{-2, 2}, zb[0])
	assert.Equal(t, [2]float64{0, 2}, zb[1])

	assert.Nil(t, scaledBounds(tr, nil))
}

func TestEvaluateDeduplicates(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig([]float64{0, 0}))
	st := &runState{maxEvals: 10}
	problem := optimization.Problem{Objective: sphereObjective}

	i, ok := o.evaluate(problem, st, []float64{1, 2})
	require.True(t, ok)
	j, ok := o.evaluate(problem, st, []float64{1, 2})
	require.True(t, ok)

	assert.Equal(t, i, j)
	assert.Equal(t, 1, st.evals, "duplicates are free")
}

func TestStopInterruptsRun(t *testing.T) {
	o := newTestOptimizer(t, DefaultConfig([]float64{5, 5}))

	objective := func(x []float64) (float64, error) {
		// Stop after a few evaluations; the loop notices the cancelled
		// context at the next iteration boundary.
		o.Stop()
		return sphereObjective(x)
	}

	_, err := o.Optimize(context.Background(), optimization.Problem{
		Objective:    objective,
		MaxFuncEvals: 1000,
	})
	assert.ErrorIs(t, err, context.Canceled)
}
