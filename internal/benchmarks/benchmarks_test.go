package benchmarks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	t.Run("known problem", func(t *testing.T) {
		p, ok := Lookup("sphere", 3)
		require.True(t, ok)
		assert.Equal(t, "sphere", p.Name)
		assert.Len(t, p.X0, 3)
		assert.Len(t, p.Bounds, 3)
	})

	t.Run("unknown problem", func(t *testing.T) {
		_, ok := Lookup("styblinski", 2)
		assert.False(t, ok)
	})

	t.Run("dimension floor", func(t *testing.T) {
		p, ok := Lookup("rosenbrock", 0)
		require.True(t, ok)
		assert.Len(t, p.X0, 2)
	})
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	require.NotEmpty(t, names)
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
	assert.Contains(t, names, "sphere")
	assert.Contains(t, names, "rosenbrock-disk")
}

func TestObjectiveValues(t *testing.T) {
	t.Run("sphere optimum", func(t *testing.T) {
		p, _ := Lookup("sphere", 2)
		v, err := p.Objective([]float64{0, 0})
		require.NoError(t, err)
		assert.Equal(t, p.Optimum, v)
	})

	t.Run("rosenbrock optimum", func(t *testing.T) {
		p, _ := Lookup("rosenbrock", 4)
		v, err := p.Objective([]float64{1, 1, 1, 1})
		require.NoError(t, err)
		assert.InDelta(t, 0, v, 1e-12)
	})

	t.Run("rastrigin optimum", func(t *testing.T) {
		p, _ := Lookup("rastrigin", 3)
		v, err := p.Objective([]float64{0, 0, 0})
		require.NoError(t, err)
		assert.InDelta(t, 0, v, 1e-12)
	})
}

func TestRosenbrockDiskConstraint(t *testing.T) {
	p, ok := Lookup("rosenbrock-disk", 2)
	require.True(t, ok)
	require.Len(t, p.Constraints, 1)

	inside, err := p.Constraints[0]([]float64{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0, inside, 1e-12, "the optimum sits on the disk boundary")

	outside, err := p.Constraints[0]([]float64{1.4, 1.4})
	require.NoError(t, err)
	assert.Greater(t, outside, 0.0)
}
