package calibration

import (
	"fmt"
	"math"
	"strings"
)

const (
	GlobalCMAES   = "cmaes"
	GlobalDiffEvo = "diffevo"
)

// CmaEsConfig sizes the global and local optimizer stages.
type CmaEsConfig struct {
	PopulationSize int     `yaml:"population_size" json:"population_size"`
	MaxGenerations int     `yaml:"max_generations" json:"max_generations"`
	Tolerance      float64 `yaml:"tolerance" json:"tolerance"`
	// MaxEvaluations bounds objective evaluations across all restarts.
	MaxEvaluations   int     `yaml:"max_evaluations" json:"max_evaluations"`
	Restarts         int     `yaml:"restarts" json:"restarts"`
	StallGenerations int     `yaml:"stall_generations" json:"stall_generations"`
	Sigma0           float64 `yaml:"sigma0" json:"sigma0"`
	ParallelEval     bool    `yaml:"parallel_eval" json:"parallel_eval"`
	// MiniOnRefinement runs a short global search around a warm start
	// instead of going straight to the local stage.
	MiniOnRefinement   bool `yaml:"mini_on_refinement" json:"mini_on_refinement"`
	LBFGSEnabled       bool `yaml:"lbfgs_enabled" json:"lbfgs_enabled"`
	LBFGSMaxIterations int  `yaml:"lbfgs_max_iterations" json:"lbfgs_max_iterations"`
}

// AdaptiveBoundsConfig controls re-running the fit with a wider box when the
// optimum lands near an edge.
type AdaptiveBoundsConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	MaxIterations   int     `yaml:"max_iterations" json:"max_iterations"`
	EdgeProximity   float64 `yaml:"edge_proximity" json:"edge_proximity"`
	ExpansionFactor float64 `yaml:"expansion_factor" json:"expansion_factor"`
}

type OptimizationConfig struct {
	Name           string               `yaml:"name" json:"name"`
	GlobalMethod   string               `yaml:"global_method" json:"global_method"`
	CmaEs          CmaEsConfig          `yaml:"cmaes" json:"cmaes"`
	AdaptiveBounds AdaptiveBoundsConfig `yaml:"adaptive_bounds" json:"adaptive_bounds"`
	// MinRows is the smallest usable slice. Below it calibration fails when
	// StrictMinRows is set and only warns otherwise.
	MinRows       int  `yaml:"min_rows" json:"min_rows"`
	StrictMinRows bool `yaml:"strict_min_rows" json:"strict_min_rows"`
	// SanityThreshold is the objective above which an exhausted budget is
	// reported as non-convergence.
	SanityThreshold float64 `yaml:"sanity_threshold" json:"sanity_threshold"`
}

func baseConfig(name string) OptimizationConfig {
	return OptimizationConfig{
		Name:         name,
		GlobalMethod: GlobalCMAES,
		CmaEs: CmaEsConfig{
			Sigma0:           0.3,
			MiniOnRefinement: true,
			LBFGSEnabled:     true,
		},
		AdaptiveBounds: AdaptiveBoundsConfig{
			MaxIterations:   3,
			EdgeProximity:   0.1,
			ExpansionFactor: 0.25,
		},
		MinRows:         5,
		StrictMinRows:   true,
		SanityThreshold: 1e-6,
	}
}

// Minimal is the cheapest preset, for smoke tests.
func Minimal() OptimizationConfig {
	c := baseConfig("minimal")
	c.CmaEs.PopulationSize = 8
	c.CmaEs.MaxGenerations = 40
	c.CmaEs.Tolerance = 1e-4
	c.CmaEs.MaxEvaluations = 2_000
	c.CmaEs.Restarts = 1
	c.CmaEs.StallGenerations = 10
	c.CmaEs.LBFGSMaxIterations = 50
	c.SanityThreshold = 1e-4
	return c
}

func Fast() OptimizationConfig {
	c := baseConfig("fast")
	c.CmaEs.PopulationSize = 12
	c.CmaEs.MaxGenerations = 100
	c.CmaEs.Tolerance = 1e-6
	c.CmaEs.MaxEvaluations = 20_000
	c.CmaEs.Restarts = 2
	c.CmaEs.StallGenerations = 20
	c.CmaEs.LBFGSMaxIterations = 200
	c.SanityThreshold = 1e-5
	return c
}

func Production() OptimizationConfig {
	c := baseConfig("production")
	c.CmaEs.PopulationSize = 24
	c.CmaEs.MaxGenerations = 200
	c.CmaEs.Tolerance = 1e-8
	c.CmaEs.MaxEvaluations = 200_000
	c.CmaEs.Restarts = 4
	c.CmaEs.StallGenerations = 30
	c.CmaEs.LBFGSMaxIterations = 500
	return c
}

func Research() OptimizationConfig {
	c := baseConfig("research")
	c.CmaEs.PopulationSize = 48
	c.CmaEs.MaxGenerations = 400
	c.CmaEs.Tolerance = 1e-10
	c.CmaEs.MaxEvaluations = 1_000_000
	c.CmaEs.Restarts = 6
	c.CmaEs.StallGenerations = 50
	c.CmaEs.LBFGSMaxIterations = 1000
	c.CmaEs.ParallelEval = true
	return c
}

// Presets lists the named presets from cheapest to most thorough.
func Presets() []OptimizationConfig {
	return []OptimizationConfig{Minimal(), Fast(), Production(), Research()}
}

func PresetByName(name string) (OptimizationConfig, error) {
	for _, p := range Presets() {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return OptimizationConfig{}, fmt.Errorf("calibration.PresetByName: unknown preset %q: %w", name, ErrInvalidParameters)
}

func (c OptimizationConfig) Validate() error {
	e := c.CmaEs
	var problem string
	switch {
	case c.GlobalMethod != GlobalCMAES && c.GlobalMethod != GlobalDiffEvo:
		problem = fmt.Sprintf("unknown global_method %q", c.GlobalMethod)
	case e.PopulationSize < 4:
		problem = fmt.Sprintf("population_size=%d must be >= 4", e.PopulationSize)
	case e.MaxGenerations <= 0:
		problem = fmt.Sprintf("max_generations=%d must be positive", e.MaxGenerations)
	case !(e.Tolerance > 0) || math.IsInf(e.Tolerance, 0):
		problem = fmt.Sprintf("tolerance=%g must be positive and finite", e.Tolerance)
	case e.MaxEvaluations <= e.PopulationSize:
		problem = fmt.Sprintf("max_evaluations=%d must exceed population_size", e.MaxEvaluations)
	case e.Restarts < 0:
		problem = fmt.Sprintf("restarts=%d must be >= 0", e.Restarts)
	case e.StallGenerations < 0:
		problem = fmt.Sprintf("stall_generations=%d must be >= 0", e.StallGenerations)
	case !(e.Sigma0 > 0 && e.Sigma0 <= 1):
		problem = fmt.Sprintf("sigma0=%g must lie in (0, 1]", e.Sigma0)
	case e.LBFGSEnabled && e.LBFGSMaxIterations <= 0:
		problem = fmt.Sprintf("lbfgs_max_iterations=%d must be positive", e.LBFGSMaxIterations)
	case c.MinRows < 1:
		problem = fmt.Sprintf("min_rows=%d must be positive", c.MinRows)
	case !(c.SanityThreshold > 0):
		problem = fmt.Sprintf("sanity_threshold=%g must be positive", c.SanityThreshold)
	case c.AdaptiveBounds.Enabled && c.AdaptiveBounds.MaxIterations < 1:
		problem = "adaptive_bounds.max_iterations must be positive"
	case c.AdaptiveBounds.Enabled && !(c.AdaptiveBounds.EdgeProximity > 0 && c.AdaptiveBounds.EdgeProximity < 0.5):
		problem = fmt.Sprintf("adaptive_bounds.edge_proximity=%g must lie in (0, 0.5)", c.AdaptiveBounds.EdgeProximity)
	case c.AdaptiveBounds.Enabled && !(c.AdaptiveBounds.ExpansionFactor > 0):
		problem = fmt.Sprintf("adaptive_bounds.expansion_factor=%g must be positive", c.AdaptiveBounds.ExpansionFactor)
	default:
		return nil
	}
	return fmt.Errorf("calibration.OptimizationConfig.Validate: %s: %w", problem, ErrInvalidParameters)
}
