package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 100, cfg.Optimization.MaxFuncEvals)
	assert.Equal(t, 100, cfg.Optimization.MaxIter)
	assert.Equal(t, "SCS", cfg.Optimization.Solver)
	assert.Equal(t, 16, cfg.Optimization.MaxJobs)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("OPT_MAX_F_EVAL", "500")
	t.Setenv("OPT_SOLVER", "MOSEK")
	t.Setenv("OPT_MAX_JOBS", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Optimization.MaxFuncEvals)
	assert.Equal(t, "MOSEK", cfg.Optimization.Solver)
	assert.Equal(t, 2, cfg.Optimization.MaxJobs)
}
