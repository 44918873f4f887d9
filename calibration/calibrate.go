package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/bcdannyboy/volsurf/models"
)

type Status int

const (
	StatusConverged Status = iota
	StatusNotConverged
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusNotConverged:
		return "not_converged"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Diagnostics describes how a result was reached.
type Diagnostics struct {
	Seed              uint64         `json:"seed"`
	RowsUsed          int            `json:"rows_used"`
	RowsExcluded      int            `json:"rows_excluded"`
	Exclusions        map[string]int `json:"exclusions,omitempty"`
	GlobalSkipped     bool           `json:"global_skipped"`
	GlobalIterations  int            `json:"global_iterations"`
	GlobalEvaluations int            `json:"global_evaluations"`
	GlobalRestarts    int            `json:"global_restarts"`
	GlobalObjective   float64        `json:"global_objective"`
	LocalIterations   int            `json:"local_iterations"`
	LocalEvaluations  int            `json:"local_evaluations"`
	LocalObjective    float64        `json:"local_objective"`
	BoundsExpansions  int            `json:"bounds_expansions"`
	Repaired          bool           `json:"repaired"`
}

// Result is a fitted slice. On StatusNotConverged the parameters are still
// the best point found and Err wraps ErrDidNotConverge.
type Result struct {
	Objective   float64               `json:"objective"`
	Params      models.SVIParams      `json:"params"`
	Vector      []float64             `json:"vector"`
	Bounds      models.SVIParamBounds `json:"bounds"`
	Status      Status                `json:"status"`
	Warnings    []string              `json:"warnings,omitempty"`
	Diagnostics Diagnostics           `json:"diagnostics"`
	Err         error                 `json:"-"`
}

// Calibrator runs the two-stage fit. The zero value uses CMA-ES (or DiffEvo
// when the config asks for it) followed by L-BFGS and logs to slog.Default.
type Calibrator struct {
	Global Minimizer
	Local  Minimizer
	Logger *slog.Logger
	// LogEvery is the optimizer progress logging interval in iterations.
	LogEvery int
}

func NewCalibrator(logger *slog.Logger) *Calibrator {
	return &Calibrator{Logger: logger}
}

// Calibrate fits data with a background context and the default Calibrator.
func Calibrate(data []models.MarketDataRow, cfg OptimizationConfig, params CalibrationParams, initialGuess []float64) (*Result, error) {
	return NewCalibrator(nil).Calibrate(context.Background(), data, cfg, params, initialGuess)
}

type stageResult struct {
	X             []float64
	F             float64
	global        Solution
	globalSkipped bool
	local         Solution
}

func (c *Calibrator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Calibrator) global(cfg OptimizationConfig) Minimizer {
	if c.Global != nil {
		return c.Global
	}
	if cfg.GlobalMethod == GlobalDiffEvo {
		return &DiffEvo{}
	}
	return &CMAES{Logger: c.logger(), LogEvery: c.LogEvery}
}

func (c *Calibrator) local() Minimizer {
	if c.Local != nil {
		return c.Local
	}
	return &LBFGS{Logger: c.logger(), LogEvery: c.LogEvery}
}

// Calibrate fits one expiration slice. initialGuess, when non-nil, is a
// (a, b, rho, m, sigma) warm start.
func (c *Calibrator) Calibrate(ctx context.Context, data []models.MarketDataRow, cfg OptimizationConfig, params CalibrationParams, initialGuess []float64) (*Result, error) {
	log := c.logger()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("calibration.Calibrate: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("calibration.Calibrate: %w", err)
	}
	if err := checkSingleExpiration(data); err != nil {
		return nil, fmt.Errorf("calibration.Calibrate: %w", err)
	}
	if initialGuess != nil {
		if err := checkGuess(initialGuess); err != nil {
			return nil, fmt.Errorf("calibration.Calibrate: %w", err)
		}
	}

	obj, err := NewObjective(data, params.weighting(), ObjectiveOptions{Prior: initialGuess, RegLambda: params.RegLambda})
	if err != nil {
		return nil, fmt.Errorf("calibration.Calibrate: %w", err)
	}

	res := &Result{Diagnostics: Diagnostics{
		RowsUsed:     obj.Used(),
		RowsExcluded: obj.Excluded(),
		Exclusions:   obj.Exclusions(),
	}}
	if obj.Excluded() > 0 {
		log.Warn("rows excluded from calibration", "excluded", obj.Excluded(), "reasons", obj.Exclusions())
	}
	if obj.Used() < cfg.MinRows {
		err := fmt.Errorf("calibration.Calibrate: %d usable rows, need %d: %w", obj.Used(), cfg.MinRows, ErrInsufficientData)
		if cfg.StrictMinRows {
			return nil, err
		}
		log.Warn("calibrating a thin slice", "rows", obj.Used(), "min_rows", cfg.MinRows)
		res.Warnings = append(res.Warnings, err.Error())
	}

	bounds, err := c.bounds(obj.T(), params)
	if err != nil {
		return nil, fmt.Errorf("calibration.Calibrate: %w", err)
	}

	seed := resolveSeed(params.Seed)
	res.Diagnostics.Seed = seed

	warm := initialGuess != nil
	start := bounds.Midpoint()
	if warm {
		start = bounds.Clamp(initialGuess)
	}

	log.Debug("calibration started", "rows", obj.Used(), "t", obj.T(), "preset", cfg.Name, "seed", seed, "warm", warm)
	best, err := c.runStages(ctx, obj, cfg, bounds, start, warm, seed)
	if err != nil {
		return nil, fmt.Errorf("calibration.Calibrate: %w", err)
	}

	if cfg.AdaptiveBounds.Enabled {
		for i := 0; i < cfg.AdaptiveBounds.MaxIterations; i++ {
			wider, changed := bounds.Expand(best.X, cfg.AdaptiveBounds.EdgeProximity, cfg.AdaptiveBounds.ExpansionFactor)
			if !changed {
				break
			}
			bounds = wider
			res.Diagnostics.BoundsExpansions++
			log.Debug("optimum near bound, expanding", "iteration", i+1, "objective", best.F)

			cand, err := c.runStages(ctx, obj, cfg, bounds, best.X, true, seed+uint64(i+1)*1000)
			if err != nil {
				return nil, fmt.Errorf("calibration.Calibrate: bounds expansion %d: %w", i+1, err)
			}
			if cand.F < best.F {
				best = cand
			}
		}
	}

	p, repaired, err := repair(obj.T(), best.X, bounds)
	if err != nil {
		return nil, fmt.Errorf("calibration.Calibrate: %w", err)
	}
	res.Params = p
	res.Vector = p.Vector()
	res.Bounds = bounds
	res.Objective = obj.Evaluate(res.Vector)
	res.Diagnostics.Repaired = repaired
	if repaired {
		log.Debug("final parameters repaired", "before", best.X, "after", res.Vector, "objective", res.Objective)
	}

	d := &res.Diagnostics
	d.GlobalSkipped = best.globalSkipped
	d.GlobalIterations = best.global.Iterations
	d.GlobalEvaluations = best.global.Evaluations
	d.GlobalRestarts = best.global.Restarts
	d.GlobalObjective = best.global.F
	d.LocalIterations = best.local.Iterations
	d.LocalEvaluations = best.local.Evaluations
	d.LocalObjective = best.local.F

	budgetOut := best.global.BudgetExhausted || (best.globalSkipped && best.local.BudgetExhausted)
	if budgetOut && res.Objective > cfg.SanityThreshold {
		res.Status = StatusNotConverged
		res.Err = fmt.Errorf("calibration.Calibrate: objective %.3g above %.3g after budget: %w",
			res.Objective, cfg.SanityThreshold, ErrDidNotConverge)
		res.Warnings = append(res.Warnings, res.Err.Error())
		log.Warn("calibration did not converge", "objective", res.Objective, "threshold", cfg.SanityThreshold)
	}

	log.Debug("calibration finished", "objective", res.Objective, "status", res.Status.String(),
		"global_evaluations", d.GlobalEvaluations, "local_iterations", d.LocalIterations)
	return res, nil
}

func (c *Calibrator) runStages(ctx context.Context, obj *Objective, cfg OptimizationConfig, bounds models.SVIParamBounds, start []float64, warm bool, seed uint64) (stageResult, error) {
	e := cfg.CmaEs
	concurrent := 0
	if e.ParallelEval {
		concurrent = runtime.GOMAXPROCS(0)
	}
	budget := Budget{
		Population:      e.PopulationSize,
		MaxIterations:   e.MaxGenerations,
		MaxEvaluations:  e.MaxEvaluations,
		Restarts:        e.Restarts,
		Tolerance:       e.Tolerance,
		StallIterations: e.StallGenerations,
		StepSize:        e.Sigma0,
		Concurrent:      concurrent,
	}

	var out stageResult
	switch {
	case warm && !e.MiniOnRefinement:
		out.globalSkipped = true
		x := bounds.Clamp(start)
		out.global = Solution{X: x, F: obj.Evaluate(x), Evaluations: 1}
	default:
		if warm {
			// Short search around the warm start.
			budget.Restarts = 0
			budget.StepSize = e.Sigma0 / 3
			budget.MaxIterations = max(e.MaxGenerations/2, 1)
		}
		sol, err := c.global(cfg).Minimize(ctx, Problem{Func: obj.Evaluate, Bounds: bounds, Start: start, Budget: budget, Seed: seed})
		if err != nil {
			return out, fmt.Errorf("global stage: %w", err)
		}
		out.global = sol
	}
	out.X, out.F = out.global.X, out.global.F

	if e.LBFGSEnabled {
		lb := budget
		lb.MaxIterations = e.LBFGSMaxIterations
		sol, err := c.local().Minimize(ctx, Problem{Func: obj.Evaluate, Bounds: bounds, Start: out.X, Budget: lb, Seed: seed})
		if err != nil {
			return out, fmt.Errorf("local stage: %w", err)
		}
		out.local = sol
		if sol.F < out.F {
			out.X, out.F = sol.X, sol.F
		}
	}
	return out, nil
}

func (c *Calibrator) bounds(t float64, params CalibrationParams) (models.SVIParamBounds, error) {
	if params.ParamBounds != nil {
		return *params.ParamBounds, nil
	}
	return models.DeriveBounds(t)
}

// Evaluate returns the objective of p against data without optimizing.
func Evaluate(data []models.MarketDataRow, p models.SVIParams, params CalibrationParams) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, fmt.Errorf("calibration.Evaluate: %w", err)
	}
	if err := params.Validate(); err != nil {
		return 0, fmt.Errorf("calibration.Evaluate: %w", err)
	}
	if err := checkSingleExpiration(data); err != nil {
		return 0, fmt.Errorf("calibration.Evaluate: %w", err)
	}
	obj, err := NewObjective(data, params.weighting(), ObjectiveOptions{})
	if err != nil {
		return 0, fmt.Errorf("calibration.Evaluate: %w", err)
	}
	return obj.Evaluate(p.Vector()), nil
}

func checkGuess(x []float64) error {
	if len(x) != models.NumParams {
		return fmt.Errorf("initial guess has %d values, want %d: %w", len(x), models.NumParams, ErrInvalidParameters)
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("initial guess value %d is %g: %w", i, v, ErrInvalidParameters)
		}
	}
	return nil
}

func resolveSeed(seed *uint64) uint64 {
	if seed != nil {
		return *seed
	}
	return uint64(time.Now().UnixNano())
}
