package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/QUADRA/internal/benchmarks"
	"github.com/copyleftdev/QUADRA/internal/optimization"
	"github.com/copyleftdev/QUADRA/internal/optimization/trustregion"
)

var suitePath string

// suiteSpec is the YAML schema for a batch of optimization runs.
type suiteSpec struct {
	Runs []suiteRun `yaml:"runs"`
}

type suiteRun struct {
	Name           string    `yaml:"name"`
	Problem        string    `yaml:"problem"`
	Dim            int       `yaml:"dim"`
	X0             []float64 `yaml:"x0"`
	MaxFuncEvals   int       `yaml:"max_f_eval"`
	MaxIter        int       `yaml:"max_iter"`
	InitRadius     float64   `yaml:"init_radius"`
	Method         string    `yaml:"method"`
	Sampling       string    `yaml:"sampling"`
	Explore        string    `yaml:"explore"`
	ConstrHandling string    `yaml:"constr_handling"`
	Solver         string    `yaml:"solver"`
	Seed           int64     `yaml:"seed"`
}

var suiteCmd = &cobra.Command{
	Use:   "suite",
	Short: "Run a YAML-defined suite of optimizations",
	Long:  `Reads a suite file describing multiple benchmark runs and executes them in order.`,
	RunE:  runSuite,
}

func init() {
	suiteCmd.Flags().StringVar(&suitePath, "file", "suite.yaml", "Suite definition file")
	rootCmd.AddCommand(suiteCmd)
}

func runSuite(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(suitePath)
	if err != nil {
		return fmt.Errorf("failed to read suite file: %w", err)
	}

	var suite suiteSpec
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return fmt.Errorf("failed to parse suite file: %w", err)
	}
	if len(suite.Runs) == 0 {
		return fmt.Errorf("suite file %s defines no runs", suitePath)
	}

	failures := 0
	for i, run := range suite.Runs {
		name := run.Name
		if name == "" {
			name = fmt.Sprintf("run-%d", i+1)
		}
		if err := executeSuiteRun(name, run); err != nil {
			fmt.Printf("[%s] FAILED: %v\n", name, err)
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d runs failed", failures, len(suite.Runs))
	}
	return nil
}

func executeSuiteRun(name string, run suiteRun) error {
	bench, ok := benchmarks.Lookup(run.Problem, run.Dim)
	if !ok {
		return fmt.Errorf("unknown problem %q", run.Problem)
	}

	x0 := bench.X0
	if len(run.X0) > 0 {
		x0 = run.X0
	}

	cfg := trustregion.DefaultConfig(x0)
	if run.MaxIter > 0 {
		cfg.MaxIter = run.MaxIter
	}
	if run.InitRadius > 0 {
		cfg.InitRadius = run.InitRadius
	}
	if run.Method != "" {
		cfg.Method = run.Method
	}
	if run.Sampling != "" {
		cfg.Sampling = run.Sampling
	}
	if run.Explore != "" {
		cfg.Explore = run.Explore
	}
	if run.ConstrHandling != "" {
		cfg.ConstrHandling = run.ConstrHandling
	}
	if run.Solver != "" {
		cfg.Solver = run.Solver
	}

	optimizer, err := trustregion.New(cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	optimizer.SetLogger(zapLogger)

	maxEvals := run.MaxFuncEvals
	if maxEvals <= 0 {
		maxEvals = 100
	}
	problem := optimization.Problem{
		Objective:    bench.Objective,
		Constraints:  bench.Constraints,
		Bounds:       bench.Bounds,
		MaxFuncEvals: maxEvals,
		Seed:         run.Seed,
	}

	start := time.Now()
	result, err := optimizer.Optimize(context.Background(), problem)
	if err != nil {
		return err
	}

	fmt.Printf("[%s] f=%.6g evals=%d converged=%v elapsed=%s\n",
		name, result.F, result.FuncEvals, result.Converged, time.Since(start).Round(time.Millisecond))
	return nil
}
