package calibration

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/MaxHalford/eaopt"

	"github.com/bcdannyboy/volsurf/models"
)

// DiffEvo is an alternative global stage backed by eaopt's differential
// evolution. It searches the unit box from a random population, so Start only
// serves as a fallback when nothing better is found.
type DiffEvo struct {
	CrossoverRate      float64
	DifferentialWeight float64
}

func (d *DiffEvo) Minimize(ctx context.Context, p Problem) (Solution, error) {
	if err := p.validate(); err != nil {
		return Solution{}, fmt.Errorf("calibration.DiffEvo.Minimize: %w", err)
	}
	b := p.Budget
	best := p.startPoint()

	agents := max(b.Population, 4)
	steps := b.MaxIterations
	if b.MaxEvaluations > 0 {
		steps = min(steps, b.MaxEvaluations/agents-1)
	}
	steps = max(steps, 1)

	cr, dw := d.CrossoverRate, d.DifferentialWeight
	if cr == 0 {
		cr = 0.9
	}
	if dw == 0 {
		dw = 0.8
	}

	de, err := eaopt.NewDiffEvo(uint(agents), uint(steps), 0, 1, cr, dw, b.Concurrent > 1,
		rand.New(rand.NewSource(int64(p.Seed))))
	if err != nil {
		return best, fmt.Errorf("calibration.DiffEvo.Minimize: %w", err)
	}
	de.GA.EarlyStop = func(*eaopt.GA) bool { return ctx.Err() != nil }

	u, _, err := de.Minimize(unitObjective(p), models.NumParams)
	if err != nil {
		return best, fmt.Errorf("calibration.DiffEvo.Minimize: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return best, fmt.Errorf("calibration.DiffEvo.Minimize: %w", err)
	}

	best.Iterations = steps
	best.Evaluations += agents * (steps + 1)
	best.BudgetExhausted = true
	x := p.Bounds.Denormalize(nil, clampUnit(u))
	if f := p.Func(x); f < best.F {
		best.X, best.F = x, f
	}
	return best, nil
}
