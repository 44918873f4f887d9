package pricing

import (
	"math"

	"github.com/bcdannyboy/volsurf/models"
)

// OptionMetrics prices a quote at vol and fills the full greek set, including
// shadow and skew gammas.
func OptionMetrics(row models.MarketDataRow, fixed models.FixedParameters, vol float64) BSMResult {
	S, K, T := row.UnderlyingPrice, row.StrikePrice, row.YearsToExp
	result := CalculateBSM(row.OptionType, S, K, T, fixed.R, fixed.Q, vol)
	result.ImpliedVolatility = vol
	result.ShadowUpGamma, result.ShadowDownGamma = ShadowGamma(row, fixed, vol, 0.01, 0.05)
	result.SkewGamma = SkewGamma(row, fixed, vol, 0.001*vol)
	return result
}

// ShadowGamma calculates the Shadow Up-Gamma and Shadow Down-Gamma: the delta
// change when spot and vol move together by priceChange and volChange.
func ShadowGamma(row models.MarketDataRow, fixed models.FixedParameters, vol, priceChange, volChange float64) (float64, float64) {
	S := row.UnderlyingPrice
	delta := func(spot, sigma float64) float64 {
		return CalculateBSM(row.OptionType, spot, row.StrikePrice, row.YearsToExp, fixed.R, fixed.Q, sigma).Delta
	}
	base := delta(S, vol)

	upS := S * (1 + priceChange)
	shadowUpGamma := (delta(upS, vol*(1+volChange)) - base) / (upS - S)

	downS := S * (1 - priceChange)
	shadowDownGamma := (base - delta(downS, vol*(1-volChange))) / (S - downS)

	return shadowUpGamma, shadowDownGamma
}

// SkewGamma calculates the Skew Gamma (Volga) by central differences of vega.
func SkewGamma(row models.MarketDataRow, fixed models.FixedParameters, vol, volStep float64) float64 {
	if volStep <= 0 {
		return 0
	}
	S, K, T := row.UnderlyingPrice, row.StrikePrice, row.YearsToExp
	vegaUp := Vega(S, K, T, fixed.R, fixed.Q, vol+volStep)
	vegaDown := Vega(S, K, T, fixed.R, fixed.Q, vol-volStep)
	return (vegaUp - vegaDown) / (2 * volStep)
}

// ForwardDelta is the Black-Scholes delta of an option at log-moneyness
// x = ln(K/F), discounted by the dividend yield only. Without a positive vol
// or maturity a call has no delta and a put has -1.
func ForwardDelta(optType models.OptionType, x, sigma, T, q float64) float64 {
	if sigma <= 0 || T <= 0 {
		if optType.IsCall() {
			return 0
		}
		return -1
	}
	sd := sigma * math.Sqrt(T)
	d1 := -x/sd + 0.5*sd
	dq := math.Exp(-q * T)
	if optType.IsCall() {
		return dq * normCDF(d1)
	}
	return dq * (normCDF(d1) - 1)
}
