package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

const logitEdge = 1e-9

// LBFGS is the default local stage. The box is removed by the substitution
// x = low + width*logistic(z), the objective is rescaled to 1 at the start
// point and gradients come from central finite differences.
type LBFGS struct {
	Logger   *slog.Logger
	LogEvery int
	Store    int
}

func (l *LBFGS) Minimize(ctx context.Context, p Problem) (Solution, error) {
	if err := p.validate(); err != nil {
		return Solution{}, fmt.Errorf("calibration.LBFGS.Minimize: %w", err)
	}
	sol := p.startPoint()
	if !(sol.F > 0) || sol.F >= infeasiblePenalty {
		return sol, nil
	}

	lo, hi := p.Bounds.Lower(), p.Bounds.Upper()
	toX := func(z []float64) []float64 {
		x := make([]float64, len(z))
		for i, v := range z {
			x[i] = lo[i] + (hi[i]-lo[i])/(1+math.Exp(-v))
		}
		return x
	}

	// Each round rescales the objective to 1 at its start point, so a fit
	// that has already shrunk the residual by orders of magnitude gets a
	// well-conditioned finite-difference gradient again.
	remaining := p.Budget.MaxIterations
	for round := 0; round < polishRounds && remaining > 0; round++ {
		if !(sol.F > 0) {
			break
		}
		res, err := l.polish(ctx, p, sol, toX, remaining)
		if err != nil {
			return sol, err
		}
		sol.Iterations += res.MajorIterations
		sol.Evaluations += res.FuncEvaluations + res.GradEvaluations*2*len(sol.X)
		sol.BudgetExhausted = exhausted(res.Status)
		remaining -= max(res.MajorIterations, 1)

		before := sol.F
		x := p.Bounds.Clamp(toX(res.X))
		if f := p.Func(x); f < sol.F {
			sol.X, sol.F = x, f
		}
		if sol.F > polishGain*before {
			break
		}
	}
	return sol, nil
}

const (
	polishRounds = 4
	// A round must at least halve the objective for another to run.
	polishGain = 0.5
)

func (l *LBFGS) polish(ctx context.Context, p Problem, start Solution, toX func([]float64) []float64, iterations int) (*optimize.Result, error) {
	scale := start.F
	g := func(z []float64) float64 {
		return p.Func(toX(z)) / scale
	}

	z0 := make([]float64, len(start.X))
	for i, v := range p.Bounds.Normalize(start.X) {
		u := math.Max(logitEdge, math.Min(1-logitEdge, v))
		z0[i] = math.Log(u / (1 - u))
	}

	fdSettings := &fd.Settings{Formula: fd.Central}
	problem := optimize.Problem{
		Func: g,
		Grad: func(grad, z []float64) {
			fd.Gradient(grad, g, z, fdSettings)
		},
		Status: contextStatus(ctx),
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Relative:   p.Budget.Tolerance,
			Iterations: max(p.Budget.StallIterations, 1),
		},
		MajorIterations: iterations,
		Recorder:        newProgressRecorder(l.Logger, "lbfgs", l.LogEvery),
	}

	res, err := optimize.Minimize(problem, z0, settings, &optimize.LBFGS{Store: l.Store})
	if ctx.Err() != nil {
		return nil, fmt.Errorf("calibration.LBFGS.Minimize: %w", ctx.Err())
	}
	if res == nil {
		return nil, fmt.Errorf("calibration.LBFGS.Minimize: %w", err)
	}
	if err != nil && l.Logger != nil {
		// Line search failures near the optimum are expected.
		l.Logger.Debug("local search stopped early", "err", err, "status", res.Status.String())
	}
	return res, nil
}
