package calibration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcdannyboy/volsurf/models"
)

func bowlProblem(t *testing.T) (Problem, []float64) {
	t.Helper()
	bounds, err := models.DeriveBounds(0.5)
	require.NoError(t, err)
	center := []float64{0.3, 0.4, -0.2, 0.1, 0.5}
	return Problem{
		Func:   quadratic(center),
		Bounds: bounds,
		Start:  bounds.Midpoint(),
		Budget: Budget{
			Population:      10,
			MaxIterations:   300,
			MaxEvaluations:  20000,
			Restarts:        1,
			Tolerance:       1e-12,
			StallIterations: 30,
			StepSize:        0.3,
		},
		Seed: 7,
	}, center
}

func TestCMAESFindsBowlMinimum(t *testing.T) {
	p, center := bowlProblem(t)
	sol, err := (&CMAES{}).Minimize(context.Background(), p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, center, sol.X, 1e-3)
	assert.Less(t, sol.F, 1e-6)
	assert.Greater(t, sol.Evaluations, p.Budget.Population)
	assert.LessOrEqual(t, sol.Evaluations, p.Budget.MaxEvaluations+2*p.Budget.Population)
}

func TestCMAESIsReproducible(t *testing.T) {
	p, _ := bowlProblem(t)
	p.Budget.MaxIterations = 20

	a, err := (&CMAES{}).Minimize(context.Background(), p)
	require.NoError(t, err)
	b, err := (&CMAES{}).Minimize(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	p.Budget.Concurrent = 4
	c, err := (&CMAES{}).Minimize(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, a.X, c.X)
	assert.Equal(t, a.F, c.F)
}

func TestCMAESStaysInBounds(t *testing.T) {
	p, _ := bowlProblem(t)
	// Minimum outside the box on a: best point sits on the upper bound.
	center := []float64{10, 0.4, -0.2, 0.1, 0.5}
	p.Func = quadratic(center)
	sol, err := (&CMAES{}).Minimize(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, p.Bounds.Contains(sol.X))
	assert.InDelta(t, p.Bounds.A.High, sol.X[0], 1e-3)
}

func TestCMAESHonoursContext(t *testing.T) {
	p, _ := bowlProblem(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&CMAES{}).Minimize(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCMAESFlagsSkippedRestartAsExhausted(t *testing.T) {
	p, _ := bowlProblem(t)
	p.Budget.MaxIterations = 50
	p.Budget.Restarts = 2
	// Any stall converges.
	p.Budget.Tolerance = 1
	p.Budget.StallIterations = 1
	// Two generations fit the first run; whatever they leave is less than
	// one generation of the doubled population.
	p.Budget.MaxEvaluations = 1 + 2*p.Budget.Population + p.Budget.Population/2

	sol, err := (&CMAES{}).Minimize(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, sol.BudgetExhausted)
	assert.Equal(t, 0, sol.Restarts)
	assert.LessOrEqual(t, sol.Evaluations, p.Budget.MaxEvaluations)
}

func TestCMAESFlagsUnaffordableFirstRunAsExhausted(t *testing.T) {
	p, _ := bowlProblem(t)
	p.Budget.MaxEvaluations = p.Budget.Population

	sol, err := (&CMAES{}).Minimize(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, sol.BudgetExhausted)
	assert.Equal(t, 1, sol.Evaluations)
}

func TestLBFGSPolishesNearbyStart(t *testing.T) {
	p, center := bowlProblem(t)
	p.Start = []float64{0.32, 0.38, -0.25, 0.12, 0.45}
	p.Budget.MaxIterations = 200
	p.Budget.Tolerance = 1e-10

	sol, err := (&LBFGS{}).Minimize(context.Background(), p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, center, sol.X, 1e-5)
	assert.Greater(t, sol.Iterations, 0)
}

func TestLBFGSDrivesNoiselessResidualDeep(t *testing.T) {
	p, center := bowlProblem(t)
	p.Start = []float64{0.35, 0.3, -0.1, 0.05, 0.6}
	p.Budget.MaxIterations = 300
	p.Budget.Tolerance = 1e-6
	p.Budget.StallIterations = 20

	start := p.Func(p.Start)
	sol, err := (&LBFGS{}).Minimize(context.Background(), p)
	require.NoError(t, err)
	assert.Less(t, sol.F, 1e-8*start)
	assert.InDeltaSlice(t, center, sol.X, 1e-3)
	assert.LessOrEqual(t, sol.Iterations, p.Budget.MaxIterations)
}

func TestLBFGSReturnsStartWhenAlreadyOptimal(t *testing.T) {
	p, center := bowlProblem(t)
	p.Start = center
	sol, err := (&LBFGS{}).Minimize(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, center, sol.X)
	assert.Equal(t, 0.0, sol.F)
}

func TestDiffEvoFindsBowlMinimum(t *testing.T) {
	p, center := bowlProblem(t)
	p.Budget.Population = 30
	p.Budget.MaxIterations = 200
	sol, err := (&DiffEvo{}).Minimize(context.Background(), p)
	require.NoError(t, err)
	assert.InDeltaSlice(t, center, sol.X, 0.05)
	assert.True(t, sol.BudgetExhausted)
}

func TestProblemValidate(t *testing.T) {
	p, _ := bowlProblem(t)
	p.Start = []float64{1, 2}
	_, err := (&CMAES{}).Minimize(context.Background(), p)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	p, _ = bowlProblem(t)
	p.Func = nil
	_, err = (&LBFGS{}).Minimize(context.Background(), p)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}
