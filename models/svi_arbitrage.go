package models

import (
	"fmt"
	"math"
)

const butterflyTolerance = 1e-9

// ButterflyDensity returns Gatheral's g(k). A negative value means the slice
// implies a negative risk-neutral density at k.
func (p SVIParams) ButterflyDensity(k float64) float64 {
	d := k - p.M
	r := math.Sqrt(d*d + p.Sigma*p.Sigma)
	w := p.A + p.B*(p.Rho*d+r)
	if w <= 0 {
		return math.Inf(-1)
	}
	w1 := p.B * (p.Rho + d/r)
	w2 := p.B * p.Sigma * p.Sigma / (r * r * r)

	x := 1 - k*w1/(2*w)
	return x*x - w1*w1/4*(1/w+0.25) + w2/2
}

// CheckButterfly scans n evenly spaced points on [kMin, kMax] and returns an
// error naming the first point where g(k) is negative.
func (p SVIParams) CheckButterfly(kMin, kMax float64, n int) error {
	if n < 2 || kMax <= kMin {
		return fmt.Errorf("models.CheckButterfly: bad grid [%g, %g] n=%d: %w", kMin, kMax, n, ErrInvalidParameters)
	}
	step := (kMax - kMin) / float64(n-1)
	for i := 0; i < n; i++ {
		k := kMin + float64(i)*step
		if g := p.ButterflyDensity(k); g < -butterflyTolerance {
			return fmt.Errorf("models.CheckButterfly: g(%.4f)=%.3g: %w", k, g, ErrInvalidParameters)
		}
	}
	return nil
}
