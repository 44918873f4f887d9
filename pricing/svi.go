package pricing

import (
	"sort"

	"github.com/bcdannyboy/volsurf/models"
)

// PriceWithSVI reprices every row at the vol implied by params. Results are
// sorted by strike, calls before puts on equal strikes. Rows whose maturity
// does not belong to the slice are reported with Valid=false and zero prices.
func PriceWithSVI(params models.SVIParams, rows []models.MarketDataRow, fixed models.FixedParameters) []models.PricingResult {
	results := make([]models.PricingResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, priceRow(params, row, fixed))
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Strike != results[j].Strike {
			return results[i].Strike < results[j].Strike
		}
		return results[i].OptionType.IsCall() && !results[j].OptionType.IsCall()
	})
	return results
}

func priceRow(params models.SVIParams, row models.MarketDataRow, fixed models.FixedParameters) models.PricingResult {
	res := models.PricingResult{
		OptionType: row.OptionType,
		Strike:     row.StrikePrice,
		Underlying: row.UnderlyingPrice,
		YearsToExp: row.YearsToExp,
		MarketIV:   row.MarketIV,
	}
	if row.StrikePrice <= 0 || row.UnderlyingPrice <= 0 || params.CheckMaturity(row.YearsToExp) != nil {
		return res
	}

	S, K, T := row.UnderlyingPrice, row.StrikePrice, params.T
	res.ModelIV = params.ImpliedVol(row.LogMoneyness())
	res.ModelPrice = BlackScholesPrice(row.OptionType, S, K, T, fixed.R, fixed.Q, res.ModelIV)
	if row.MarketIV > 0 {
		res.MarketPrice = BlackScholesPrice(row.OptionType, S, K, T, fixed.R, fixed.Q, row.MarketIV)
		res.IVError = res.ModelIV - row.MarketIV
		res.PriceError = res.ModelPrice - res.MarketPrice
	}
	res.Valid = true
	return res
}
