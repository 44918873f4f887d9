// Package realized estimates historical volatility from daily OHLC bars, for
// comparison against the implied vol of a fitted slice.
package realized

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const TradingDays = 252

type Bar struct {
	Date  string  `json:"date"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

func (b Bar) valid() bool {
	return b.Open > 0 && b.High > 0 && b.Low > 0 && b.Close > 0 && b.High >= b.Low
}

// Estimator returns an annualized volatility, or 0 when bars cannot support
// an estimate.
type Estimator func(bars []Bar) float64

// GarmanKlass uses the open, high, low and close of each bar.
func GarmanKlass(bars []Bar) float64 {
	n, sum := 0, 0.0
	for _, b := range bars {
		if !b.valid() {
			continue
		}
		hl := math.Log(b.High / b.Low)
		co := math.Log(b.Close / b.Open)
		sum += 0.5*hl*hl - (2*math.Ln2-1)*co*co
		n++
	}
	if n == 0 || sum <= 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n) * TradingDays)
}

// Parkinson uses the high/low range only.
func Parkinson(bars []Bar) float64 {
	n, sum := 0, 0.0
	for _, b := range bars {
		if !b.valid() {
			continue
		}
		hl := math.Log(b.High / b.Low)
		sum += hl * hl
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / (4 * float64(n) * math.Ln2) * TradingDays)
}

// CloseToClose is the sample standard deviation of daily log returns.
func CloseToClose(bars []Bar) float64 {
	var returns []float64
	for i := 1; i < len(bars); i++ {
		if bars[i].Close > 0 && bars[i-1].Close > 0 {
			returns = append(returns, math.Log(bars[i].Close/bars[i-1].Close))
		}
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(TradingDays)
}

var windows = []struct {
	name string
	days int
}{
	{"1w", 5},
	{"1m", 21},
	{"3m", 63},
	{"6m", 126},
	{"1y", 252},
}

// Windows applies est to the trailing 1w, 1m, 3m, 6m and 1y of bars, which
// must be in date order. Windows longer than the history are omitted.
func Windows(bars []Bar, est Estimator) map[string]float64 {
	out := make(map[string]float64)
	for _, w := range windows {
		if len(bars) < w.days {
			continue
		}
		if v := est(bars[len(bars)-w.days:]); v > 0 {
			out[w.name] = v
		}
	}
	return out
}

// Summary is the realized vol report for one underlying.
type Summary struct {
	GarmanKlass  map[string]float64 `json:"garman_klass,omitempty"`
	Parkinson    map[string]float64 `json:"parkinson,omitempty"`
	CloseToClose map[string]float64 `json:"close_to_close,omitempty"`
}

func Summarize(bars []Bar) Summary {
	return Summary{
		GarmanKlass:  Windows(bars, GarmanKlass),
		Parkinson:    Windows(bars, Parkinson),
		CloseToClose: Windows(bars, CloseToClose),
	}
}
