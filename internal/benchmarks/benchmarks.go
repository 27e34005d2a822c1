// Package benchmarks provides the named test problems shared by the
// optimization service and the CLI. Objectives are registered by name so
// callers can refer to them over the wire.
package benchmarks

import (
	"math"
	"sort"

	"github.com/copyleftdev/QUADRA/internal/optimization"
)

// Problem is a named benchmark: an objective, optional constraints and
// the standard starting point and bounds for the given dimension.
type Problem struct {
	Name        string
	Objective   optimization.ObjectiveFunc
	Constraints []optimization.ConstraintFunc
	Bounds      [][2]float64
	X0          []float64

	// Optimum is the known best objective value, for reporting.
	Optimum float64
}

type builder func(dim int) Problem

var registry = map[string]builder{
	"sphere":          sphere,
	"rosenbrock":      rosenbrock,
	"rastrigin":       rastrigin,
	"rosenbrock-disk": rosenbrockDisk,
	"eggholder":       eggholder,
}

// Lookup returns the benchmark with the given name in the given dimension.
// Fixed-dimension benchmarks ignore dim. The second return is false for an
// unknown name.
func Lookup(name string, dim int) (Problem, bool) {
	b, ok := registry[name]
	if !ok {
		return Problem{}, false
	}
	if dim < 2 {
		dim = 2
	}
	return b(dim), true
}

// Names returns the registered benchmark names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func uniformBounds(dim int, lo, hi float64) [][2]float64 {
	bounds := make([][2]float64, dim)
	for i := range bounds {
		bounds[i] = [2]float64{lo, hi}
	}
	return bounds
}

func constantVector(dim int, v float64) []float64 {
	x := make([]float64, dim)
	for i := range x {
		x[i] = v
	}
	return x
}

func sphere(dim int) Problem {
	return Problem{
		Name: "sphere",
		Objective: func(x []float64) (float64, error) {
			sum := 0.0
			for _, v := range x {
				sum += v * v
			}
			return sum, nil
		},
		Bounds:  uniformBounds(dim, -10, 10),
		X0:      constantVector(dim, 5),
		Optimum: 0,
	}
}

func rosenbrock(dim int) Problem {
	return Problem{
		Name: "rosenbrock",
		Objective: func(x []float64) (float64, error) {
			sum := 0.0
			for i := 0; i < len(x)-1; i++ {
				a := x[i+1] - x[i]*x[i]
				b := 1 - x[i]
				sum += 100*a*a + b*b
			}
			return sum, nil
		},
		Bounds:  uniformBounds(dim, -5, 10),
		X0:      constantVector(dim, -1),
		Optimum: 0,
	}
}

func rastrigin(dim int) Problem {
	return Problem{
		Name: "rastrigin",
		Objective: func(x []float64) (float64, error) {
			sum := 10 * float64(len(x))
			for _, v := range x {
				sum += v*v - 10*math.Cos(2*math.Pi*v)
			}
			return sum, nil
		},
		Bounds:  uniformBounds(dim, -5.12, 5.12),
		X0:      constantVector(dim, 2),
		Optimum: 0,
	}
}

// rosenbrockDisk is the classic constrained variant: the Rosenbrock valley
// restricted to the unit-radius-sqrt(2) disk.
func rosenbrockDisk(int) Problem {
	p := rosenbrock(2)
	p.Name = "rosenbrock-disk"
	p.Constraints = []optimization.ConstraintFunc{
		func(x []float64) (float64, error) {
			return x[0]*x[0] + x[1]*x[1] - 2, nil
		},
	}
	p.Bounds = uniformBounds(2, -1.5, 1.5)
	p.X0 = []float64{0, 0}
	return p
}

func eggholder(int) Problem {
	return Problem{
		Name: "eggholder",
		Objective: func(x []float64) (float64, error) {
			a := -(x[1] + 47) * math.Sin(math.Sqrt(math.Abs(x[1]+x[0]/2+47)))
			b := -x[0] * math.Sin(math.Sqrt(math.Abs(x[0]-(x[1]+47))))
			return a + b, nil
		},
		Bounds:  uniformBounds(2, -512, 512),
		X0:      []float64{0, 0},
		Optimum: -959.6407,
	}
}
