package pricing

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/bcdannyboy/volsurf/models"
)

const (
	maxIterations = 100
	epsilon       = 1e-10

	minVol = 1e-6
	maxVol = 10.0
)

var ErrNoConvergence = errors.New("implied volatility did not converge")

// CalculateBSM prices a European option on an asset paying a continuous
// dividend yield q and returns its greeks.
func CalculateBSM(optType models.OptionType, S, K, T, r, q, sigma float64) BSMResult {
	if T <= 0 || sigma <= 0 {
		return BSMResult{Price: intrinsic(optType, S, K, T, r, q)}
	}
	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r-q+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	dq := math.Exp(-q * T)
	dr := math.Exp(-r * T)

	var price, delta, theta, rho float64
	base := -(S * dq * normPDF(d1) * sigma) / (2 * sqrtT)
	if optType.IsCall() {
		price = S*dq*normCDF(d1) - K*dr*normCDF(d2)
		delta = dq * normCDF(d1)
		theta = base - r*K*dr*normCDF(d2) + q*S*dq*normCDF(d1)
		rho = K * T * dr * normCDF(d2)
	} else {
		price = K*dr*normCDF(-d2) - S*dq*normCDF(-d1)
		delta = dq * (normCDF(d1) - 1)
		theta = base + r*K*dr*normCDF(-d2) - q*S*dq*normCDF(-d1)
		rho = -K * T * dr * normCDF(-d2)
	}

	return BSMResult{
		Price: price,
		Delta: delta,
		Gamma: dq * normPDF(d1) / (S * sigma * sqrtT),
		Theta: theta,
		Vega:  S * dq * normPDF(d1) * sqrtT,
		Rho:   rho,
	}
}

func BlackScholesPrice(optType models.OptionType, S, K, T, r, q, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		return intrinsic(optType, S, K, T, r, q)
	}
	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r-q+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	if optType.IsCall() {
		return S*math.Exp(-q*T)*normCDF(d1) - K*math.Exp(-r*T)*normCDF(d2)
	}
	return K*math.Exp(-r*T)*normCDF(-d2) - S*math.Exp(-q*T)*normCDF(-d1)
}

// Vega is the same for calls and puts.
func Vega(S, K, T, r, q, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		return 0
	}
	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r-q+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	return S * math.Exp(-q*T) * normPDF(d1) * sqrtT
}

// ImpliedVolatility inverts BlackScholesPrice. Newton steps are used while
// they stay inside the current bracket, bisection otherwise.
func ImpliedVolatility(optType models.OptionType, price, S, K, T, r, q float64) (float64, error) {
	if T <= 0 || S <= 0 || K <= 0 || math.IsNaN(price) {
		return 0, fmt.Errorf("pricing.ImpliedVolatility: bad inputs S=%g K=%g T=%g price=%g: %w", S, K, T, price, ErrNoConvergence)
	}
	lo, hi := minVol, maxVol
	pLo := BlackScholesPrice(optType, S, K, T, r, q, lo)
	pHi := BlackScholesPrice(optType, S, K, T, r, q, hi)
	if price < pLo-epsilon || price > pHi+epsilon {
		return 0, fmt.Errorf("pricing.ImpliedVolatility: price %g outside [%g, %g]: %w", price, pLo, pHi, ErrNoConvergence)
	}

	sigma := 0.5 // Initial guess
	for i := 0; i < maxIterations; i++ {
		diff := BlackScholesPrice(optType, S, K, T, r, q, sigma) - price
		if math.Abs(diff) < epsilon {
			return sigma, nil
		}
		if diff > 0 {
			hi = sigma
		} else {
			lo = sigma
		}

		next := sigma
		if vega := Vega(S, K, T, r, q, sigma); vega > 1e-12 {
			next = sigma - diff/vega
		}
		if next <= lo || next >= hi || next == sigma {
			next = 0.5 * (lo + hi)
		}
		if hi-lo < epsilon {
			return next, nil
		}
		sigma = next
	}
	return 0, fmt.Errorf("pricing.ImpliedVolatility: no convergence after %d iterations: %w", maxIterations, ErrNoConvergence)
}

func intrinsic(optType models.OptionType, S, K, T, r, q float64) float64 {
	T = math.Max(T, 0)
	fwd := S*math.Exp(-q*T) - K*math.Exp(-r*T)
	if optType.IsCall() {
		return math.Max(fwd, 0)
	}
	return math.Max(-fwd, 0)
}

func normCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

func normPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}
