package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresetsStrictlyIncreasing(t *testing.T) {
	presets := Presets()
	require.Len(t, presets, 4)
	assert.Equal(t, []string{"minimal", "fast", "production", "research"},
		[]string{presets[0].Name, presets[1].Name, presets[2].Name, presets[3].Name})

	for i, p := range presets {
		require.NoError(t, p.Validate(), p.Name)
		if i == 0 {
			continue
		}
		prev, cur := presets[i-1].CmaEs, p.CmaEs
		assert.Greater(t, cur.PopulationSize, prev.PopulationSize, p.Name)
		assert.Greater(t, cur.MaxGenerations, prev.MaxGenerations, p.Name)
		assert.Greater(t, cur.MaxEvaluations, prev.MaxEvaluations, p.Name)
		assert.Greater(t, cur.Restarts, prev.Restarts, p.Name)
		assert.Greater(t, cur.LBFGSMaxIterations, prev.LBFGSMaxIterations, p.Name)
		assert.Less(t, cur.Tolerance, prev.Tolerance, p.Name)
	}
}

func TestPresetByName(t *testing.T) {
	p, err := PresetByName(" Production ")
	require.NoError(t, err)
	assert.Equal(t, Production(), p)

	_, err = PresetByName("turbo")
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestOptimizationConfigValidate(t *testing.T) {
	cases := map[string]func(c *OptimizationConfig){
		"tiny population":   func(c *OptimizationConfig) { c.CmaEs.PopulationSize = 2 },
		"zero generations":  func(c *OptimizationConfig) { c.CmaEs.MaxGenerations = 0 },
		"zero tolerance":    func(c *OptimizationConfig) { c.CmaEs.Tolerance = 0 },
		"evals below pop":   func(c *OptimizationConfig) { c.CmaEs.MaxEvaluations = 4 },
		"negative restarts": func(c *OptimizationConfig) { c.CmaEs.Restarts = -1 },
		"sigma0 too big":    func(c *OptimizationConfig) { c.CmaEs.Sigma0 = 2 },
		"no lbfgs iters":    func(c *OptimizationConfig) { c.CmaEs.LBFGSMaxIterations = 0 },
		"unknown method":    func(c *OptimizationConfig) { c.GlobalMethod = "annealing" },
		"zero min rows":     func(c *OptimizationConfig) { c.MinRows = 0 },
		"zero sanity":       func(c *OptimizationConfig) { c.SanityThreshold = 0 },
		"bad proximity": func(c *OptimizationConfig) {
			c.AdaptiveBounds.Enabled = true
			c.AdaptiveBounds.EdgeProximity = 0.7
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Fast()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidParameters)
		})
	}

	c := Fast()
	c.CmaEs.LBFGSEnabled = false
	c.CmaEs.LBFGSMaxIterations = 0
	assert.NoError(t, c.Validate())
}
