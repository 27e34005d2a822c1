package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/QUADRA/internal/benchmarks"
	"github.com/copyleftdev/QUADRA/internal/optimization"
	"github.com/copyleftdev/QUADRA/internal/optimization/trustregion"
)

var (
	problemName    string
	dim            int
	maxFuncEvals   int
	maxIter        int
	initRadius     float64
	method         string
	sampling       string
	explore        string
	constrHandling string
	solverName     string
	seed           int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single optimization on a benchmark problem",
	Long:  `Runs the trust-region optimizer against a named benchmark and prints the result.`,
	RunE:  runBenchmark,
}

func init() {
	runCmd.Flags().StringVar(&problemName, "problem", "", "Benchmark problem name (required)")
	runCmd.Flags().IntVar(&dim, "dim", 2, "Problem dimension, for scalable benchmarks")
	runCmd.Flags().IntVar(&maxFuncEvals, "max-evals", 100, "Function evaluation budget")
	runCmd.Flags().IntVar(&maxIter, "max-iter", 100, "Max trust-region iterations")
	runCmd.Flags().Float64Var(&initRadius, "init-radius", 1.0, "Initial trust-region radius")
	runCmd.Flags().StringVar(&method, "method", "local", "Search method: local, global")
	runCmd.Flags().StringVar(&sampling, "sampling", "base", "Sampling rule: base, g")
	runCmd.Flags().StringVar(&explore, "explore", "", "Exploration heuristic (feasible_sampling, exploit_explore, sampling_region, TIS, TIP)")
	runCmd.Flags().StringVar(&constrHandling, "constr-handling", "Discrimination", "Constraint handling: Discrimination, Regression")
	runCmd.Flags().StringVar(&solverName, "solver", "SCS", "Subproblem solver: SCS, MOSEK")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed")

	runCmd.MarkFlagRequired("problem")
	rootCmd.AddCommand(runCmd)
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	bench, ok := benchmarks.Lookup(problemName, dim)
	if !ok {
		return fmt.Errorf("unknown problem %q (known: %v)", problemName, benchmarks.Names())
	}

	cfg := trustregion.DefaultConfig(bench.X0)
	cfg.MaxIter = maxIter
	cfg.InitRadius = initRadius
	cfg.Method = method
	cfg.Sampling = sampling
	cfg.Explore = explore
	cfg.ConstrHandling = constrHandling
	cfg.Solver = solverName

	optimizer, err := trustregion.New(cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	optimizer.SetLogger(zapLogger)

	problem := optimization.Problem{
		Objective:    bench.Objective,
		Constraints:  bench.Constraints,
		Bounds:       bench.Bounds,
		MaxFuncEvals: maxFuncEvals,
		Seed:         seed,
	}

	start := time.Now()
	result, err := optimizer.Optimize(context.Background(), problem)
	if err != nil {
		return fmt.Errorf("optimization failed: %w", err)
	}
	elapsed := time.Since(start)

	printResult(problemName, bench, result, elapsed)
	return nil
}

func printResult(name string, bench benchmarks.Problem, result *optimization.Result, elapsed time.Duration) {
	fmt.Printf("problem:    %s (dim %d)\n", name, len(result.X))
	fmt.Printf("best x:     %v\n", result.X)
	fmt.Printf("best f:     %.6g\n", result.F)
	fmt.Printf("gap:        %.6g\n", result.F-bench.Optimum)
	if len(bench.Constraints) > 0 {
		fmt.Printf("violation:  %.3g\n", result.GViol)
	}
	fmt.Printf("f evals:    %d\n", result.FuncEvals)
	fmt.Printf("converged:  %v\n", result.Converged)
	fmt.Printf("elapsed:    %s\n", elapsed.Round(time.Millisecond))
}
