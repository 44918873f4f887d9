package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcdannyboy/volsurf/models"
)

func TestBlackScholesKnownValue(t *testing.T) {
	// Hull, Options Futures and Other Derivatives: S=42 K=40 r=10% vol=20% T=0.5.
	call := BlackScholesPrice(models.Call, 42, 40, 0.5, 0.1, 0, 0.2)
	put := BlackScholesPrice(models.Put, 42, 40, 0.5, 0.1, 0, 0.2)
	assert.InDelta(t, 4.76, call, 0.01)
	assert.InDelta(t, 0.81, put, 0.01)
}

func TestPutCallParityWithDividend(t *testing.T) {
	S, K, T, r, q, vol := 100.0, 95.0, 0.75, 0.03, 0.015, 0.25
	call := BlackScholesPrice(models.Call, S, K, T, r, q, vol)
	put := BlackScholesPrice(models.Put, S, K, T, r, q, vol)
	assert.InDelta(t, S*math.Exp(-q*T)-K*math.Exp(-r*T), call-put, 1e-10)
}

func TestCalculateBSMMatchesPriceAndVega(t *testing.T) {
	for _, typ := range []models.OptionType{models.Call, models.Put} {
		res := CalculateBSM(typ, 100, 110, 0.4, 0.02, 0.01, 0.3)
		assert.InDelta(t, BlackScholesPrice(typ, 100, 110, 0.4, 0.02, 0.01, 0.3), res.Price, 1e-12)
		assert.InDelta(t, Vega(100, 110, 0.4, 0.02, 0.01, 0.3), res.Vega, 1e-12)
		assert.Greater(t, res.Gamma, 0.0)
	}
}

func TestDegenerateInputsPriceIntrinsic(t *testing.T) {
	assert.InDelta(t, 10, BlackScholesPrice(models.Call, 110, 100, 0, 0.05, 0, 0.2), 1e-12)
	assert.InDelta(t, 0, BlackScholesPrice(models.Put, 110, 100, 0, 0.05, 0, 0.2), 1e-12)
	assert.Equal(t, 0.0, Vega(100, 100, 0, 0.01, 0, 0.2))
}

func TestImpliedVolatilityRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		typ  models.OptionType
		K, T float64
		vol  float64
	}{
		{"atm call", models.Call, 100, 0.25, 0.2},
		{"otm put", models.Put, 80, 0.25, 0.35},
		{"itm call short dated", models.Call, 90, 0.02, 0.6},
		{"deep otm call", models.Call, 150, 1, 0.45},
		{"low vol put", models.Put, 100, 2, 0.05},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price := BlackScholesPrice(tc.typ, 100, tc.K, tc.T, 0.02, 0.01, tc.vol)
			iv, err := ImpliedVolatility(tc.typ, price, 100, tc.K, tc.T, 0.02, 0.01)
			require.NoError(t, err)
			assert.InDelta(t, tc.vol, iv, 1e-6)
		})
	}
}

func TestImpliedVolatilityRejectsArbitragePrice(t *testing.T) {
	_, err := ImpliedVolatility(models.Call, 150, 100, 100, 0.5, 0.01, 0)
	assert.ErrorIs(t, err, ErrNoConvergence)

	_, err = ImpliedVolatility(models.Call, 1, 100, 100, 0, 0.01, 0)
	assert.ErrorIs(t, err, ErrNoConvergence)
}

func TestOptionMetrics(t *testing.T) {
	row := models.MarketDataRow{OptionType: models.Call, StrikePrice: 100, UnderlyingPrice: 100, YearsToExp: 0.5}
	fixed := models.DefaultFixedParameters()
	res := OptionMetrics(row, fixed, 0.2)

	assert.Equal(t, 0.2, res.ImpliedVolatility)
	assert.Greater(t, res.ShadowUpGamma, 0.0)
	assert.Greater(t, res.ShadowDownGamma, 0.0)
	assert.False(t, math.IsNaN(res.SkewGamma))
}

func TestForwardDeltaMatchesSpotDelta(t *testing.T) {
	S, T, r, q, vol := 100.0, 0.5, 0.03, 0.01, 0.25
	F := S * math.Exp((r-q)*T)
	for _, K := range []float64{80, 100, 125} {
		x := math.Log(K / F)
		for _, typ := range []models.OptionType{models.Call, models.Put} {
			want := CalculateBSM(typ, S, K, T, r, q, vol).Delta
			assert.InDelta(t, want, ForwardDelta(typ, x, vol, T, q), 1e-12, "%s K=%v", typ, K)
		}
	}
}

func TestForwardDeltaDegenerate(t *testing.T) {
	assert.Equal(t, 0.0, ForwardDelta(models.Call, 0, 0, 0.5, 0))
	assert.Equal(t, -1.0, ForwardDelta(models.Put, 0, 0.2, 0, 0))
	// At the money forward with no carry the call delta sits just above 1/2.
	assert.InDelta(t, 0.5, ForwardDelta(models.Call, 0, 0.2, 0.5, 0), 0.03)
}
