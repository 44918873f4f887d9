package calibration

import (
	"fmt"
	"math"

	"github.com/bcdannyboy/volsurf/models"
)

// Reasons a quote is left out of the objective.
const (
	ExcludedNonFinite = "non_finite"
	ExcludedMaturity  = "non_positive_maturity"
	ExcludedIV        = "non_positive_iv"
	ExcludedPrice     = "non_positive_price"
	ExcludedVega      = "non_positive_vega"
)

// checkSingleExpiration rejects an empty slice or one mixing expirations.
func checkSingleExpiration(rows []models.MarketDataRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("calibration.checkSingleExpiration: no rows: %w", ErrInsufficientData)
	}
	exp := rows[0].Expiration
	for i, r := range rows[1:] {
		if r.Expiration != exp {
			return fmt.Errorf("calibration.checkSingleExpiration: row %d expires at %d, row 0 at %d: %w",
				i+1, r.Expiration, exp, ErrMultiExpiration)
		}
	}
	return nil
}

// exclusionReason returns "" for a usable quote.
func exclusionReason(r models.MarketDataRow, requireVega bool) string {
	for _, v := range []float64{r.StrikePrice, r.UnderlyingPrice, r.YearsToExp, r.MarketIV, r.Vega} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ExcludedNonFinite
		}
	}
	switch {
	case r.YearsToExp <= 0:
		return ExcludedMaturity
	case r.MarketIV <= 0:
		return ExcludedIV
	case r.StrikePrice <= 0 || r.UnderlyingPrice <= 0:
		return ExcludedPrice
	case requireVega && r.Vega <= 0:
		return ExcludedVega
	}
	return ""
}
