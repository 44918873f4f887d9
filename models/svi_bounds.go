package models

import (
	"fmt"
	"math"
)

const (
	// minBoundsT floors the maturity used for bounds at one hour.
	minBoundsT = 1.0 / (24 * 365)
	// maxBoundsVol caps the implied vol the a/b bounds are sized for.
	maxBoundsVol = 2.0

	maxRho   = 0.999
	minB     = 1e-5
	minSigma = 1e-3

	structuralRho   = 1 - 1e-6
	structuralSigma = 1e-6
)

type Interval struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

func (i Interval) Width() float64 {
	return i.High - i.Low
}

func (i Interval) Clamp(v float64) float64 {
	return math.Max(i.Low, math.Min(i.High, v))
}

func (i Interval) Contains(v float64) bool {
	return v >= i.Low && v <= i.High
}

// SVIParamBounds is the box both optimizer stages search in.
type SVIParamBounds struct {
	A     Interval `json:"a" yaml:"a"`
	B     Interval `json:"b" yaml:"b"`
	Rho   Interval `json:"rho" yaml:"rho"`
	M     Interval `json:"m" yaml:"m"`
	Sigma Interval `json:"sigma" yaml:"sigma"`
}

// DeriveBounds sizes the box for a slice with maturity t. The variance
// parameters a and b scale with t, m and sigma grow with sqrt(t) and rho is fixed.
func DeriveBounds(t float64) (SVIParamBounds, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 {
		return SVIParamBounds{}, fmt.Errorf("models.DeriveBounds: t=%g must be positive and finite: %w", t, ErrInvalidParameters)
	}
	t = math.Max(t, minBoundsT)

	wMax := maxBoundsVol * maxBoundsVol * t
	// b*(1+|rho|) <= 4 keeps the wings within Lee's moment bound.
	bHi := math.Min(2, math.Max(0.1, 2*t))
	shape := 0.1 + math.Sqrt(t)

	return SVIParamBounds{
		A:     Interval{Low: -0.5 * wMax, High: wMax},
		B:     Interval{Low: minB, High: bHi},
		Rho:   Interval{Low: -maxRho, High: maxRho},
		M:     Interval{Low: -math.Min(1.5, shape), High: math.Min(1.5, shape)},
		Sigma: Interval{Low: minSigma, High: math.Min(2, shape)},
	}, nil
}

func (b SVIParamBounds) intervals() [NumParams]Interval {
	return [NumParams]Interval{b.A, b.B, b.Rho, b.M, b.Sigma}
}

func boundsFromIntervals(iv [NumParams]Interval) SVIParamBounds {
	return SVIParamBounds{A: iv[0], B: iv[1], Rho: iv[2], M: iv[3], Sigma: iv[4]}
}

func (b SVIParamBounds) Lower() []float64 {
	iv := b.intervals()
	out := make([]float64, NumParams)
	for i := range iv {
		out[i] = iv[i].Low
	}
	return out
}

func (b SVIParamBounds) Upper() []float64 {
	iv := b.intervals()
	out := make([]float64, NumParams)
	for i := range iv {
		out[i] = iv[i].High
	}
	return out
}

var paramNames = [NumParams]string{"a", "b", "rho", "m", "sigma"}

// Validate checks that the box is well formed and contains a feasible point.
func (b SVIParamBounds) Validate() error {
	for i, iv := range b.intervals() {
		if math.IsNaN(iv.Low) || math.IsNaN(iv.High) || math.IsInf(iv.Low, 0) || math.IsInf(iv.High, 0) {
			return fmt.Errorf("models.SVIParamBounds.Validate: %s bound not finite: %w", paramNames[i], ErrInvalidParameters)
		}
		if iv.Low >= iv.High {
			return fmt.Errorf("models.SVIParamBounds.Validate: %s low %g >= high %g: %w",
				paramNames[i], iv.Low, iv.High, ErrInvalidParameters)
		}
	}
	if b.Rho.Low < -1 || b.Rho.High > 1 {
		return fmt.Errorf("models.SVIParamBounds.Validate: rho bounds [%g, %g] outside [-1, 1]: %w",
			b.Rho.Low, b.Rho.High, ErrInvalidParameters)
	}
	if b.B.High <= 0 {
		return fmt.Errorf("models.SVIParamBounds.Validate: b high %g must be positive: %w", b.B.High, ErrInvalidParameters)
	}
	if b.Sigma.High <= 0 {
		return fmt.Errorf("models.SVIParamBounds.Validate: sigma high %g must be positive: %w", b.Sigma.High, ErrInvalidParameters)
	}

	rho := Interval{Low: math.Max(b.Rho.Low, -structuralRho), High: math.Min(b.Rho.High, structuralRho)}.Clamp(0)
	if b.A.High+b.B.High*b.Sigma.High*math.Sqrt(1-rho*rho) < 0 {
		return fmt.Errorf("models.SVIParamBounds.Validate: no point satisfies a + b*sigma*sqrt(1-rho^2) >= 0: %w", ErrInvalidParameters)
	}
	return nil
}

// Contains reports whether every component of x lies inside its interval.
func (b SVIParamBounds) Contains(x []float64) bool {
	for i, iv := range b.intervals() {
		if !iv.Contains(x[i]) {
			return false
		}
	}
	return true
}

func (b SVIParamBounds) Clamp(x []float64) []float64 {
	iv := b.intervals()
	out := make([]float64, NumParams)
	for i := range iv {
		out[i] = iv[i].Clamp(x[i])
	}
	return out
}

func (b SVIParamBounds) Midpoint() []float64 {
	iv := b.intervals()
	out := make([]float64, NumParams)
	for i := range iv {
		out[i] = 0.5 * (iv[i].Low + iv[i].High)
	}
	return out
}

// Normalize maps x from the box onto the unit cube.
func (b SVIParamBounds) Normalize(x []float64) []float64 {
	iv := b.intervals()
	out := make([]float64, NumParams)
	for i := range iv {
		out[i] = (x[i] - iv[i].Low) / iv[i].Width()
	}
	return out
}

// Denormalize is the inverse of Normalize. dst may alias u.
func (b SVIParamBounds) Denormalize(dst, u []float64) []float64 {
	if dst == nil {
		dst = make([]float64, NumParams)
	}
	iv := b.intervals()
	for i := range iv {
		dst[i] = iv[i].Low + u[i]*iv[i].Width()
	}
	return dst
}

// Expand widens every side of the box that x lies within proximity (a
// fraction of the width) of, by factor times the width. Structural limits on
// b, rho and sigma are kept. The second result reports whether anything moved.
func (b SVIParamBounds) Expand(x []float64, proximity, factor float64) (SVIParamBounds, bool) {
	iv := b.intervals()
	changed := false
	for i := range iv {
		w := iv[i].Width()
		if x[i]-iv[i].Low < proximity*w {
			iv[i].Low -= factor * w
			changed = true
		}
		if iv[i].High-x[i] < proximity*w {
			iv[i].High += factor * w
			changed = true
		}
	}
	iv[1].Low = math.Max(iv[1].Low, 0)
	iv[2].Low = math.Max(iv[2].Low, -structuralRho)
	iv[2].High = math.Min(iv[2].High, structuralRho)
	iv[4].Low = math.Max(iv[4].Low, structuralSigma)

	out := boundsFromIntervals(iv)
	return out, changed && out != b
}
