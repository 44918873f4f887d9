package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcdannyboy/volsurf/models"
	"github.com/bcdannyboy/volsurf/pricing"
	"github.com/bcdannyboy/volsurf/tradier"
)

func TestFromTradierChain(t *testing.T) {
	const spot = 470.0
	fixed := models.DefaultFixedParameters()
	asOf := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	years := (46*24 + 20) / 24.0 / 365

	putPrice := pricing.BlackScholesPrice(models.Put, spot, 450, years, fixed.R, fixed.Q, 0.25)

	chain := &tradier.OptionChain{
		ExpirationDate: "2024-02-16",
		Options: tradier.OptionList{Option: []tradier.Option{
			{Symbol: "C480", OptionType: "call", Strike: 480, Bid: 5, Ask: 6, Greeks: &tradier.Greeks{MidIv: 0.2}},
			{Symbol: "P450", OptionType: "put", Strike: 450, Bid: putPrice - 0.01, Ask: putPrice + 0.01, ExpirationDate: "2024-02-16"},
			{Symbol: "OLD", OptionType: "call", Strike: 470, Bid: 1, Ask: 2, ExpirationDate: "2023-12-15"},
			{Symbol: "EMPTY", OptionType: "put", Strike: 300},
		}},
	}

	rows, err := FromTradierChain(chain, spot, asOf, fixed)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	call := rows[0]
	assert.Equal(t, models.Call, call.OptionType)
	assert.Equal(t, 0.2, call.MarketIV)
	assert.InDelta(t, years, call.YearsToExp, 1e-12)
	assert.Equal(t, time.Date(2024, 2, 16, 20, 0, 0, 0, time.UTC).Unix(), call.Expiration)
	assert.InDelta(t, pricing.Vega(spot, 480, years, fixed.R, fixed.Q, 0.2), call.Vega, 1e-12)

	put := rows[1]
	assert.Equal(t, models.Put, put.OptionType)
	assert.InDelta(t, 0.25, put.MarketIV, 1e-4)
	assert.Equal(t, call.Expiration, put.Expiration)

	assert.Len(t, GroupByExpiration(rows), 1)
}

func TestFromTradierChainErrors(t *testing.T) {
	now := time.Now()
	_, err := FromTradierChain(nil, 100, now, models.DefaultFixedParameters())
	assert.Error(t, err)

	_, err = FromTradierChain(&tradier.OptionChain{}, 0, now, models.DefaultFixedParameters())
	assert.ErrorIs(t, err, models.ErrInvalidParameters)

	bad := &tradier.OptionChain{Options: tradier.OptionList{Option: []tradier.Option{{OptionType: "call", ExpirationDate: "16/02/2024"}}}}
	_, err = FromTradierChain(bad, 100, now, models.DefaultFixedParameters())
	assert.Error(t, err)
}

func TestBarsFromTradierHistory(t *testing.T) {
	bars := BarsFromTradierHistory([]tradier.HistoryDay{
		{Date: "2024-01-02", Open: 472.2, High: 473.7, Low: 470.5, Close: 472.6, Volume: 10},
		{Date: "2024-01-03", Open: 470.4, High: 471.2, Low: 468.2, Close: 468.8},
	})
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-01-03", bars[1].Date)
	assert.Equal(t, 473.7, bars[0].High)
	assert.Empty(t, BarsFromTradierHistory(nil))
}
