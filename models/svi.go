package models

import (
	"fmt"
	"math"
)

const (
	// MinImpliedVol is reported when the total variance at a strike is not positive.
	MinImpliedVol = 1e-6

	feasibilityTolerance = 1e-12

	// MaturityTolerance is the largest gap between a quote's maturity and the
	// slice maturity that still counts as the same slice (five minutes).
	MaturityTolerance = 5.0 / (60 * 24 * 365)
)

// SVIParams is a raw SVI parameterisation of one expiration slice:
//
//	w(k) = a + b*(rho*(k-m) + sqrt((k-m)^2 + sigma^2))
//
// T is the slice maturity in years.
type SVIParams struct {
	T     float64 `json:"t"`
	A     float64 `json:"a"`
	B     float64 `json:"b"`
	Rho   float64 `json:"rho"`
	M     float64 `json:"m"`
	Sigma float64 `json:"sigma"`
}

// NumParams is the number of fitted SVI parameters (a, b, rho, m, sigma).
const NumParams = 5

func NewSVIParams(t, a, b, rho, m, sigma float64) (SVIParams, error) {
	p := SVIParams{T: t, A: a, B: b, Rho: rho, M: m, Sigma: sigma}
	if err := p.Validate(); err != nil {
		return SVIParams{}, err
	}
	return p, nil
}

// SVIParamsFromVector builds params from an optimizer vector ordered a, b, rho, m, sigma.
// The result is not validated.
func SVIParamsFromVector(t float64, x []float64) SVIParams {
	return SVIParams{T: t, A: x[0], B: x[1], Rho: x[2], M: x[3], Sigma: x[4]}
}

func (p SVIParams) Vector() []float64 {
	return []float64{p.A, p.B, p.Rho, p.M, p.Sigma}
}

func (p SVIParams) TotalVariance(k float64) float64 {
	d := k - p.M
	return p.A + p.B*(p.Rho*d+math.Sqrt(d*d+p.Sigma*p.Sigma))
}

func (p SVIParams) ImpliedVol(k float64) float64 {
	w := p.TotalVariance(k)
	if w <= 0 || p.T <= 0 || math.IsNaN(w) {
		return MinImpliedVol
	}
	return math.Sqrt(w / p.T)
}

// MinTotalVariance is the minimum of w(k) over all k.
func (p SVIParams) MinTotalVariance() float64 {
	return p.A + p.B*p.Sigma*math.Sqrt(1-p.Rho*p.Rho)
}

// Violation measures how far p is from the feasible set. Zero means feasible.
func (p SVIParams) Violation() float64 {
	for _, v := range []float64{p.T, p.A, p.B, p.Rho, p.M, p.Sigma} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.MaxFloat32
		}
	}
	var v float64
	if p.T <= 0 {
		v += -p.T + 1
	}
	if p.B < 0 {
		v += -p.B
	}
	if a := math.Abs(p.Rho); a >= 1 {
		v += a - 1 + feasibilityTolerance
	}
	if p.Sigma <= 0 {
		v += -p.Sigma + feasibilityTolerance
	}
	if v > 0 {
		return v
	}
	if mv := p.MinTotalVariance(); mv < -feasibilityTolerance {
		v += -mv
	}
	return v
}

func (p SVIParams) Validate() error {
	switch {
	case p.Violation() == math.MaxFloat32:
		return fmt.Errorf("models.SVIParams.Validate: non-finite value in %+v: %w", p, ErrInvalidParameters)
	case p.T <= 0:
		return fmt.Errorf("models.SVIParams.Validate: t=%g must be positive: %w", p.T, ErrInvalidParameters)
	case p.B < 0:
		return fmt.Errorf("models.SVIParams.Validate: b=%g must be non-negative: %w", p.B, ErrInvalidParameters)
	case math.Abs(p.Rho) >= 1:
		return fmt.Errorf("models.SVIParams.Validate: rho=%g must lie in (-1, 1): %w", p.Rho, ErrInvalidParameters)
	case p.Sigma <= 0:
		return fmt.Errorf("models.SVIParams.Validate: sigma=%g must be positive: %w", p.Sigma, ErrInvalidParameters)
	case p.MinTotalVariance() < -feasibilityTolerance:
		return fmt.Errorf("models.SVIParams.Validate: minimum total variance %g is negative: %w",
			p.MinTotalVariance(), ErrInvalidParameters)
	}
	return nil
}

// CheckMaturity reports whether a quote maturity t belongs to this slice.
func (p SVIParams) CheckMaturity(t float64) error {
	if math.Abs(t-p.T) > MaturityTolerance {
		return fmt.Errorf("models.SVIParams.CheckMaturity: t=%g differs from slice t=%g: %w", t, p.T, ErrInvalidParameters)
	}
	return nil
}
