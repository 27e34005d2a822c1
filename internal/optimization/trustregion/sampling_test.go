package trustregion

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickMCD(t *testing.T) {
	t.Run("farthest candidate wins", func(t *testing.T) {
		cands := [][]float64{{0.1, 0}, {5, 0}, {2, 0}}
		reference := [][]float64{{0, 0}}
		assert.Equal(t, 1, pickMCD(cands, reference))
	})

	t.Run("minimum distance governs", func(t *testing.T) {
		// The second candidate is far from one reference point but on
		// top of the other; its minimum distance is tiny.
		cands := [][]float64{{3, 3}, {10, 0}}
		reference := [][]float64{{0, 0}, {10, 0.01}}
		assert.Equal(t, 0, pickMCD(cands, reference))
	})

	t.Run("lowest index breaks ties", func(t *testing.T) {
		cands := [][]float64{{1, 0}, {1, 0}, {1, 0}}
		reference := [][]float64{{0, 0}}
		assert.Equal(t, 0, pickMCD(cands, reference))
	})

	t.Run("empty reference set", func(t *testing.T) {
		cands := [][]float64{{1, 0}, {2, 0}}
		assert.Equal(t, 0, pickMCD(cands, nil))
	})
}

func TestSamplersStayInRegion(t *testing.T) {
	region := Region{Center: []float64{1, -2}, Radius: 0.5}

	samplers := []sampler{
		&geometricSampler{},
		&mcdSampler{candidates: mcdCandidatePool},
	}

	for _, s := range samplers {
		t.Run(s.Name(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			points := s.Sample(rng, region, nil, nil, 40)
			require.Len(t, points, 40)
			for _, p := range points {
				assert.LessOrEqual(t, euclidean(p, region.Center), region.Radius+1e-12)
			}
		})
	}
}

func TestSamplersRespectBounds(t *testing.T) {
	// Bounds cut through the ball; every draw must land in the box.
	region := Region{Center: []float64{0, 0}, Radius: 2}
	bounds := [][2]float64{{-0.5, 0.5}, {-2, 0.1}}

	samplers := []sampler{
		&geometricSampler{},
		&mcdSampler{candidates: mcdCandidatePool},
	}

	for _, s := range samplers {
		t.Run(s.Name(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(11))
			points := s.Sample(rng, region, bounds, nil, 40)
			for _, p := range points {
				for i := range p {
					assert.GreaterOrEqual(t, p[i], bounds[i][0])
					assert.LessOrEqual(t, p[i], bounds[i][1])
				}
			}
		})
	}
}

func TestMCDSpreadsSamples(t *testing.T) {
	// MCD draws should be more dispersed than plain uniform draws: the
	// minimum pairwise distance of the chosen set must beat the uniform
	// sampler's on the same region.
	region := Region{Center: []float64{0, 0}, Radius: 1}

	minPairwise := func(points [][]float64) float64 {
		d := math.Inf(1)
		for i := range points {
			for j := i + 1; j < len(points); j++ {
				if dd := euclidean(points[i], points[j]); dd < d {
					d = dd
				}
			}
		}
		return d
	}

	mcd := &mcdSampler{candidates: mcdCandidatePool}
	uniform := &geometricSampler{}

	// Average over seeds so one lucky uniform draw cannot flip the test.
	var mcdTotal, uniformTotal float64
	for seed := int64(0); seed < 10; seed++ {
		mcdTotal += minPairwise(mcd.Sample(rand.New(rand.NewSource(seed)), region, nil, nil, 8))
		uniformTotal += minPairwise(uniform.Sample(rand.New(rand.NewSource(seed)), region, nil, nil, 8))
	}
	assert.Greater(t, mcdTotal, uniformTotal)
}

func TestMCDAvoidsExistingSamples(t *testing.T) {
	region := Region{Center: []float64{0, 0}, Radius: 1}
	existing := [][]float64{{0, 0}}

	rng := rand.New(rand.NewSource(3))
	s := &mcdSampler{candidates: mcdCandidatePool}
	points := s.Sample(rng, region, nil, existing, 5)

	// With the center occupied, chosen points should keep clear of it.
	for _, p := range points {
		assert.Greater(t, euclidean(p, existing[0]), 0.1)
	}
}

func TestRegionContains(t *testing.T) {
	r := Region{Center: []float64{1, 1}, Radius: 1}
	assert.True(t, r.contains([]float64{1, 1}))
	assert.True(t, r.contains([]float64{1.7, 1.7}))
	assert.False(t, r.contains([]float64{2.5, 1}))
}

func TestClipToBounds(t *testing.T) {
	bounds := [][2]float64{{-1, 1}, {0, 2}}
	x := clipToBounds([]float64{-3, 5}, bounds)
	assert.Equal(t, []float64{-1, 2}, x)

	// nil bounds leave the point untouched
	y := clipToBounds([]float64{-3, 5}, nil)
	assert.Equal(t, []float64{-3, 5}, y)
}
