package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/optimize"
)

// CMAES is the default global stage: gonum's CMA-ES searching the unit box,
// restarted with a doubled population around the best point so far. Restart r
// draws from seed+r, so a fixed seed gives a fixed result whether or not the
// population is evaluated concurrently.
type CMAES struct {
	Logger   *slog.Logger
	LogEvery int
}

func (c *CMAES) Minimize(ctx context.Context, p Problem) (Solution, error) {
	if err := p.validate(); err != nil {
		return Solution{}, fmt.Errorf("calibration.CMAES.Minimize: %w", err)
	}
	b := p.Budget
	best := p.startPoint()
	mean := p.Bounds.Normalize(best.X)
	unit := unitObjective(p)
	pop := b.Population
	remaining := b.MaxEvaluations - best.Evaluations

	for r := 0; r <= b.Restarts; r++ {
		// Generations, not evaluations, are capped so every run stops on a
		// generation boundary.
		gens := min(b.MaxIterations, remaining/pop)
		if gens < 1 {
			// A restart the evaluation budget cannot afford still counts
			// as running out of budget.
			best.BudgetExhausted = true
			break
		}
		if err := ctx.Err(); err != nil {
			return best, fmt.Errorf("calibration.CMAES.Minimize: %w", err)
		}

		method := &optimize.CmaEsChol{
			InitStepSize: b.StepSize,
			Population:   pop,
			Src:          rand.NewSource(p.Seed + uint64(r)),
		}
		settings := &optimize.Settings{
			Converger: &optimize.FunctionConverge{
				Relative:   b.Tolerance,
				Iterations: b.StallIterations,
			},
			MajorIterations: gens,
			Concurrent:      b.Concurrent,
			Recorder:        newProgressRecorder(c.Logger, fmt.Sprintf("cmaes[%d]", r), c.LogEvery),
		}
		res, err := optimize.Minimize(optimize.Problem{Func: unit, Status: contextStatus(ctx)}, mean, settings, method)
		if err != nil {
			if ctx.Err() != nil {
				return best, fmt.Errorf("calibration.CMAES.Minimize: %w", ctx.Err())
			}
			return best, fmt.Errorf("calibration.CMAES.Minimize: restart %d: %w", r, err)
		}

		remaining -= res.FuncEvaluations
		best.Evaluations += res.FuncEvaluations
		best.Iterations += res.MajorIterations
		best.Restarts = r
		best.BudgetExhausted = exhausted(res.Status)

		prev := best.F
		x := p.Bounds.Denormalize(nil, clampUnit(res.X))
		if f := p.Func(x); f < best.F {
			best.X, best.F = x, f
		}
		if r > 0 && prev-best.F <= b.Tolerance*math.Abs(prev) {
			break
		}
		mean = p.Bounds.Normalize(best.X)
		pop *= 2
	}
	return best, nil
}
