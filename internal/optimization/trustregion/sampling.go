package trustregion

import (
	"math"
	"math/rand"
)

// Region is the trust region: a ball of the given radius around the
// current incumbent.
type Region struct {
	Center []float64
	Radius float64
}

// contains reports whether x lies inside the region.
func (r Region) contains(x []float64) bool {
	return euclidean(x, r.Center) <= r.Radius+1e-12
}

// sampler draws candidate evaluation points inside a region. Samplers
// never produce a point outside the supplied bounds.
type sampler interface {
	Name() string
	Sample(rng *rand.Rand, region Region, bounds [][2]float64, existing [][]float64, count int) [][]float64
}

// mcdCandidatePool is the number of uniform draws the MCD sampler screens
// for each point it keeps.
const mcdCandidatePool = 32

// geometricSampler draws points uniformly from the region without the
// distance-maximization step. Cheaper per draw, less uniform coverage.
type geometricSampler struct{}

func (s *geometricSampler) Name() string { return SamplingG }

func (s *geometricSampler) Sample(rng *rand.Rand, region Region, bounds [][2]float64, existing [][]float64, count int) [][]float64 {
	out := make([][]float64, 0, count)
	for len(out) < count {
		out = append(out, drawInRegion(rng, region, bounds))
	}
	return out
}

// mcdSampler implements Maximum-Closest-Distance sampling: each kept point
// maximizes the minimum distance to all previously drawn points, which
// spreads the window across the region and reduces clustering bias. The
// choice is deterministic given the starting set and the rng state; ties
// are broken by the lowest candidate index.
type mcdSampler struct {
	candidates int
}

func (s *mcdSampler) Name() string { return SamplingBase }

func (s *mcdSampler) Sample(rng *rand.Rand, region Region, bounds [][2]float64, existing [][]float64, count int) [][]float64 {
	chosen := make([][]float64, 0, count)
	reference := append([][]float64(nil), existing...)

	for len(chosen) < count {
		cands := make([][]float64, s.candidates)
		for i := range cands {
			cands[i] = drawInRegion(rng, region, bounds)
		}
		best := pickMCD(cands, reference)
		chosen = append(chosen, cands[best])
		reference = append(reference, cands[best])
	}
	return chosen
}

// pickMCD returns the index of the candidate whose minimum distance to the
// reference set is largest; the lowest index wins ties. With an empty
// reference set the first candidate wins.
func pickMCD(cands [][]float64, reference [][]float64) int {
	best := 0
	bestDist := math.Inf(-1)
	for i, c := range cands {
		d := math.Inf(1)
		for _, r := range reference {
			if dd := euclidean(c, r); dd < d {
				d = dd
			}
		}
		if d > bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// drawInRegion draws one point uniformly from the ball, clipped to bounds.
// The direction comes from a normal draw and the length from the usual
// u^(1/n) radial correction.
func drawInRegion(rng *rand.Rand, region Region, bounds [][2]float64) []float64 {
	n := len(region.Center)
	dir := make([]float64, n)
	norm := 0.0
	for i := range dir {
		dir[i] = rng.NormFloat64()
		norm += dir[i] * dir[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}

	length := region.Radius * math.Pow(rng.Float64(), 1/float64(n))

	x := make([]float64, n)
	for i := range x {
		x[i] = region.Center[i] + length*dir[i]/norm
	}
	return clipToBounds(x, bounds)
}

// clipToBounds clamps x into the box, in place.
func clipToBounds(x []float64, bounds [][2]float64) []float64 {
	if bounds == nil {
		return x
	}
	for i := range x {
		if x[i] < bounds[i][0] {
			x[i] = bounds[i][0]
		}
		if x[i] > bounds[i][1] {
			x[i] = bounds[i][1]
		}
	}
	return x
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
