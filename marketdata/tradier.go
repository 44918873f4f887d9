package marketdata

import (
	"fmt"
	"math"
	"time"

	"github.com/bcdannyboy/volsurf/models"
	"github.com/bcdannyboy/volsurf/pricing"
	"github.com/bcdannyboy/volsurf/realized"
	"github.com/bcdannyboy/volsurf/tradier"
)

// US equity options stop trading at 16:00 New York time, 20:00 UTC during
// daylight saving. The hour of standard time is ignored.
const expiryHourUTC = 20

// FromTradierChain converts a tradier chain into slice rows as of asOf.
// Contracts without a usable implied vol are skipped: the greeks' mid IV is
// used when present, otherwise the bid/ask mid price is inverted.
func FromTradierChain(chain *tradier.OptionChain, underlying float64, asOf time.Time, fixed models.FixedParameters) ([]models.MarketDataRow, error) {
	if chain == nil {
		return nil, fmt.Errorf("marketdata.FromTradierChain: nil chain")
	}
	if !(underlying > 0) || math.IsInf(underlying, 0) {
		return nil, fmt.Errorf("marketdata.FromTradierChain: underlying price %g: %w", underlying, models.ErrInvalidParameters)
	}

	var rows []models.MarketDataRow
	for _, opt := range chain.Options.Option {
		date := opt.ExpirationDate
		if date == "" {
			date = chain.ExpirationDate
		}
		expDay, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("marketdata.FromTradierChain: %s: failed to parse expiration date: %w", opt.Symbol, err)
		}
		expiry := expDay.Add(expiryHourUTC * time.Hour)
		years := expiry.Sub(asOf).Hours() / 24 / 365
		if years <= 0 {
			continue
		}

		optType, err := models.ParseOptionType(opt.OptionType)
		if err != nil {
			continue
		}

		iv := 0.0
		if opt.Greeks != nil && opt.Greeks.MidIv > 0 {
			iv = opt.Greeks.MidIv
		} else if mid := opt.Mid(); mid > 0 {
			iv, err = pricing.ImpliedVolatility(optType, mid, underlying, opt.Strike, years, fixed.R, fixed.Q)
			if err != nil {
				continue
			}
		}
		if !(iv > 0) {
			continue
		}

		rows = append(rows, models.MarketDataRow{
			OptionType:      optType,
			StrikePrice:     opt.Strike,
			UnderlyingPrice: underlying,
			YearsToExp:      years,
			MarketIV:        iv,
			Vega:            pricing.Vega(underlying, opt.Strike, years, fixed.R, fixed.Q, iv),
			Expiration:      expiry.Unix(),
		})
	}
	return rows, nil
}

// BarsFromTradierHistory converts daily tradier history into OHLC bars.
func BarsFromTradierHistory(days []tradier.HistoryDay) []realized.Bar {
	bars := make([]realized.Bar, 0, len(days))
	for _, d := range days {
		bars = append(bars, realized.Bar{Date: d.Date, Open: d.Open, High: d.High, Low: d.Low, Close: d.Close})
	}
	return bars
}
