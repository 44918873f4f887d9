package calibration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/bcdannyboy/volsurf/models"
)

const (
	// infeasiblePenalty is returned, scaled by 1+violation, for points that
	// break the SVI constraints.
	infeasiblePenalty = 1e6
	maxViolation      = 1e6
)

// ObjectiveOptions adds an optional pull towards a prior parameter vector.
type ObjectiveOptions struct {
	Prior     []float64
	RegLambda float64
}

// Objective is the weighted mean squared total-variance error of an SVI slice
// against market quotes. It is immutable after construction and safe for
// concurrent use.
type Objective struct {
	t          float64
	k          []float64
	marketW    []float64
	weights    []float64
	weightSum  float64
	prior      []float64
	lambda     float64
	exclusions map[string]int
	used       int
}

func NewObjective(rows []models.MarketDataRow, weighting models.Weighting, opts ObjectiveOptions) (*Objective, error) {
	if weighting == nil {
		weighting = models.DefaultSviModelParams()
	}
	o := &Objective{exclusions: make(map[string]int)}

	usable := make([]models.MarketDataRow, 0, len(rows))
	var vegaSum float64
	for _, r := range rows {
		if reason := exclusionReason(r, weighting.RequiresVega()); reason != "" {
			o.exclusions[reason]++
			continue
		}
		usable = append(usable, r)
		if r.Vega > 0 {
			vegaSum += r.Vega
		}
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("calibration.NewObjective: all %d rows excluded %v: %w", len(rows), o.exclusions, ErrInsufficientData)
	}

	o.used = len(usable)
	o.k = make([]float64, o.used)
	o.marketW = make([]float64, o.used)
	o.weights = make([]float64, o.used)
	var tSum float64
	for i, r := range usable {
		k := r.LogMoneyness()
		o.k[i] = k
		o.marketW[i] = r.MarketTotalVariance()
		o.weights[i] = weighting.VegaWeight(r.Vega, vegaSum) * weighting.ATMWeight(k)
		tSum += r.YearsToExp
	}
	o.t = tSum / float64(o.used)
	o.weightSum = floats.Sum(o.weights)
	if !(o.weightSum > 0) || math.IsInf(o.weightSum, 0) {
		return nil, fmt.Errorf("calibration.NewObjective: weights sum to %g: %w", o.weightSum, ErrInsufficientData)
	}

	if len(opts.Prior) > 0 && opts.RegLambda > 0 {
		if len(opts.Prior) != models.NumParams {
			return nil, fmt.Errorf("calibration.NewObjective: prior has %d values: %w", len(opts.Prior), ErrInvalidParameters)
		}
		o.prior = append([]float64(nil), opts.Prior...)
		o.lambda = opts.RegLambda
	}
	return o, nil
}

// Evaluate returns the objective at x = (a, b, rho, m, sigma). Infeasible
// points get a large finite penalty instead of NaN or Inf.
func (o *Objective) Evaluate(x []float64) float64 {
	p := models.SVIParamsFromVector(o.t, x)
	if v := p.Violation(); v > 0 {
		return infeasiblePenalty * (1 + math.Min(v, maxViolation))
	}

	var sum float64
	for i, k := range o.k {
		d := p.TotalVariance(k) - o.marketW[i]
		sum += o.weights[i] * d * d
	}
	f := sum / o.weightSum

	if o.lambda > 0 {
		for i, v := range x {
			d := v - o.prior[i]
			f += o.lambda * d * d
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return infeasiblePenalty
	}
	return f
}

// T is the slice maturity, the mean maturity of the usable rows.
func (o *Objective) T() float64 { return o.t }

func (o *Objective) Used() int { return o.used }

func (o *Objective) Excluded() int {
	var n int
	for _, c := range o.exclusions {
		n += c
	}
	return n
}

// Exclusions counts excluded rows by reason.
func (o *Objective) Exclusions() map[string]int {
	out := make(map[string]int, len(o.exclusions))
	for k, v := range o.exclusions {
		out[k] = v
	}
	return out
}

// Weights returns the per-row weights normalized to sum to one.
func (o *Objective) Weights() []float64 {
	out := append([]float64(nil), o.weights...)
	floats.Scale(1/o.weightSum, out)
	return out
}
