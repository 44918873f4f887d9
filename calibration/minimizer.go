package calibration

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/bcdannyboy/volsurf/models"
)

// outOfBoxPenalty scales the squared distance outside the unit box that the
// global stages add to the clamped objective.
const outOfBoxPenalty = 1e3

// Budget limits one minimizer run.
type Budget struct {
	Population     int
	MaxIterations  int
	MaxEvaluations int
	Restarts       int
	Tolerance      float64
	// StallIterations is how many iterations without relative improvement
	// count as convergence.
	StallIterations int
	// StepSize is the initial search radius in the unit box.
	StepSize float64
	// Concurrent is the number of parallel objective evaluations. 0 is serial.
	Concurrent int
}

// Problem is a bounded scalar minimization.
type Problem struct {
	Func   func(x []float64) float64
	Bounds models.SVIParamBounds
	Start  []float64
	Budget Budget
	Seed   uint64
}

// Solution is the best point a minimizer found.
type Solution struct {
	X               []float64
	F               float64
	Iterations      int
	Evaluations     int
	Restarts        int
	BudgetExhausted bool
}

// Minimizer finds a low point of Problem.Func inside Problem.Bounds.
type Minimizer interface {
	Minimize(ctx context.Context, p Problem) (Solution, error)
}

func (p Problem) validate() error {
	if p.Func == nil {
		return fmt.Errorf("calibration.Problem: nil objective: %w", ErrInvalidParameters)
	}
	if len(p.Start) != models.NumParams {
		return fmt.Errorf("calibration.Problem: start has %d values, want %d: %w", len(p.Start), models.NumParams, ErrInvalidParameters)
	}
	return p.Bounds.Validate()
}

func (p Problem) startPoint() Solution {
	x := p.Bounds.Clamp(p.Start)
	return Solution{X: x, F: p.Func(x), Evaluations: 1}
}

// unitObjective evaluates p.Func on the unit cube. Points outside are clamped
// and charged a quadratic penalty.
func unitObjective(p Problem) func([]float64) float64 {
	return func(u []float64) float64 {
		x := make([]float64, len(u))
		var excess float64
		for i, v := range u {
			c := math.Max(0, math.Min(1, v))
			excess += (v - c) * (v - c)
			x[i] = c
		}
		p.Bounds.Denormalize(x, x)
		return p.Func(x) + outOfBoxPenalty*excess
	}
}

func clampUnit(u []float64) []float64 {
	out := make([]float64, len(u))
	for i, v := range u {
		out[i] = math.Max(0, math.Min(1, v))
	}
	return out
}

// contextStatus stops a gonum run once ctx is done.
func contextStatus(ctx context.Context) func() (optimize.Status, error) {
	return func() (optimize.Status, error) {
		if err := ctx.Err(); err != nil {
			return optimize.Failure, err
		}
		return optimize.NotTerminated, nil
	}
}

func exhausted(s optimize.Status) bool {
	return s == optimize.IterationLimit || s == optimize.FunctionEvaluationLimit
}
