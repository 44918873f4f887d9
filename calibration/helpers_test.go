package calibration

import (
	"context"
	"math"

	"github.com/bcdannyboy/volsurf/models"
	"github.com/bcdannyboy/volsurf/pricing"
)

const testExpiration = int64(1735286400)

// syntheticSlice prices calls and puts on a log-moneyness grid from p.
func syntheticSlice(p models.SVIParams, ks []float64) []models.MarketDataRow {
	const S = 100.0
	fixed := models.DefaultFixedParameters()
	var rows []models.MarketDataRow
	for _, typ := range []models.OptionType{models.Call, models.Put} {
		for _, k := range ks {
			K := S * math.Exp(k)
			iv := p.ImpliedVol(k)
			rows = append(rows, models.MarketDataRow{
				OptionType:      typ,
				StrikePrice:     K,
				UnderlyingPrice: S,
				YearsToExp:      p.T,
				MarketIV:        iv,
				Vega:            pricing.Vega(S, K, p.T, fixed.R, fixed.Q, iv),
				Expiration:      testExpiration,
			})
		}
	}
	return rows
}

func grid(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out
}

var trueParams = models.SVIParams{T: 0.5, A: 0.01, B: 0.1, Rho: -0.3, M: 0.02, Sigma: 0.15}

// smileSlice is 5 calls and 5 puts on a 100 underlying with a known smile.
func smileSlice() []models.MarketDataRow {
	strikes := []float64{80, 90, 100, 110, 120}
	ivs := []float64{0.22, 0.19, 0.18, 0.20, 0.24}
	fixed := models.DefaultFixedParameters()
	var rows []models.MarketDataRow
	for _, typ := range []models.OptionType{models.Call, models.Put} {
		for i, K := range strikes {
			rows = append(rows, models.MarketDataRow{
				OptionType:      typ,
				StrikePrice:     K,
				UnderlyingPrice: 100,
				YearsToExp:      0.25,
				MarketIV:        ivs[i],
				Vega:            pricing.Vega(100, K, 0.25, fixed.R, fixed.Q, ivs[i]),
				Expiration:      testExpiration,
			})
		}
	}
	return rows
}

// countingMinimizer returns its start point and counts calls.
type countingMinimizer struct {
	calls     int
	x         []float64
	exhausted bool
}

func (m *countingMinimizer) Minimize(_ context.Context, p Problem) (Solution, error) {
	m.calls++
	if m.x != nil {
		return Solution{X: append([]float64(nil), m.x...), F: p.Func(m.x), Evaluations: 1, BudgetExhausted: m.exhausted}, nil
	}
	sol := p.startPoint()
	sol.BudgetExhausted = m.exhausted
	return sol, nil
}

// Quality bands for the Fast preset on noiseless SVI data, in squared total
// variance. Seeded runs land well inside noiselessBand; unseeded runs draw
// a fresh seed each time and get a wider band.
const (
	noiselessBand = 1e-7
	unseededBand  = 1e-6
)

func quadratic(center []float64) func([]float64) float64 {
	return func(x []float64) float64 {
		var s float64
		for i, v := range x {
			d := v - center[i]
			s += d * d
		}
		return s
	}
}
