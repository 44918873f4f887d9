package surface

import (
	"context"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcdannyboy/volsurf/calibration"
	"github.com/bcdannyboy/volsurf/lineariv"
	"github.com/bcdannyboy/volsurf/marketdata"
	"github.com/bcdannyboy/volsurf/models"
)

func sliceRows(t *testing.T, p models.SVIParams, expiry int64, spot float64) []models.MarketDataRow {
	t.Helper()
	var rows []models.MarketDataRow
	for strike := 70.0; strike <= 130; strike += 5 {
		k := math.Log(strike / spot)
		typ := models.Put
		if strike >= spot {
			typ = models.Call
		}
		rows = append(rows, models.MarketDataRow{
			OptionType:      typ,
			StrikePrice:     strike,
			UnderlyingPrice: spot,
			YearsToExp:      p.T,
			MarketIV:        p.ImpliedVol(k),
			Vega:            1,
			Expiration:      expiry,
		})
	}
	return rows
}

func newFitter(t *testing.T) *Fitter {
	t.Helper()
	return &Fitter{
		Config:   calibration.Fast(),
		Params:   calibration.DefaultCalibrationParams().WithSeed(7),
		Fixed:    models.DefaultFixedParameters(),
		Workers:  2,
		Progress: io.Discard,
	}
}

func TestFit(t *testing.T) {
	near := models.SVIParams{T: 0.25, A: 0.008, B: 0.08, Rho: -0.4, M: 0.01, Sigma: 0.12}
	far := models.SVIParams{T: 0.5, A: 0.01, B: 0.1, Rho: -0.3, M: 0.02, Sigma: 0.15}

	var rows []models.MarketDataRow
	rows = append(rows, sliceRows(t, far, 2000, 100)...)
	rows = append(rows, sliceRows(t, near, 1000, 100)...)
	rows = append(rows, models.MarketDataRow{OptionType: models.Call, StrikePrice: 100, UnderlyingPrice: 100, YearsToExp: 0.1, MarketIV: 0.2, Vega: 1, Expiration: 500})

	slices := marketdata.GroupByExpiration(rows)
	require.Len(t, slices, 3)

	fits := newFitter(t).Fit(context.Background(), slices)
	require.Len(t, fits, 3)

	thin := fits[0]
	assert.False(t, thin.OK())
	assert.Nil(t, thin.Result)
	assert.Contains(t, thin.Error, "usable rows")
	assert.Nil(t, thin.LinearIV)

	for i, want := range []models.SVIParams{near, far} {
		fit := fits[i+1]
		require.True(t, fit.OK(), fit.Error)
		assert.Equal(t, slices[i+1].Expiration, fit.Expiration)
		assert.InDelta(t, want.T, fit.Result.Params.T, 1e-12)
		assert.Less(t, fit.Result.Objective, 1e-7)
		assert.Empty(t, fit.Butterfly)

		require.Len(t, fit.Quotes, 13)
		for _, q := range fit.Quotes {
			require.True(t, q.Valid)
			require.NotNil(t, q.Greeks)
			assert.InDelta(t, q.MarketIV, q.ModelIV, 5e-3)
			assert.InDelta(t, q.ModelIV, q.Greeks.ImpliedVolatility, 1e-15)
		}
		assert.Less(t, fit.Quotes[0].Strike, fit.Quotes[12].Strike)

		// The linear read sits at the forward, not at spot.
		require.NotNil(t, fit.LinearIV)
		fixed := models.DefaultFixedParameters()
		kF := (fixed.R - fixed.Q) * want.T
		assert.InDelta(t, want.ImpliedVol(kF), fit.LinearIV.ATMIV, 5e-3)
		assert.InDelta(t, want.T, fit.LinearIV.TTE, 1e-12)
		require.NotNil(t, fit.LinearIV.RR25)
		assert.Less(t, *fit.LinearIV.RR25, 0.0)
	}
}

func TestFitSliceLinearIVConfig(t *testing.T) {
	p := models.SVIParams{T: 0.5, A: 0.01, B: 0.1, Rho: -0.3, M: 0.02, Sigma: 0.15}
	slices := marketdata.GroupByExpiration(sliceRows(t, p, 1000, 100))
	require.Len(t, slices, 1)

	f := newFitter(t)
	f.LinearIV = &lineariv.Config{Deltas: []float64{0.25}, SolverTol: 1e-8, MinPoints: 3}
	fit := f.FitSlice(context.Background(), slices[0])
	require.True(t, fit.OK(), fit.Error)
	require.NotNil(t, fit.LinearIV)
	require.Len(t, fit.LinearIV.DeltaIVs, 1)
	assert.Nil(t, fit.LinearIV.RR25)

	// Too few quotes for the linear read leaves the calibration alone.
	f.LinearIV = &lineariv.Config{MinPoints: 100}
	fit = f.FitSlice(context.Background(), slices[0])
	require.True(t, fit.OK(), fit.Error)
	assert.Nil(t, fit.LinearIV)
}

func TestFitEmpty(t *testing.T) {
	assert.Empty(t, newFitter(t).Fit(context.Background(), nil))
}

func TestFitCancelled(t *testing.T) {
	p := models.SVIParams{T: 0.5, A: 0.01, B: 0.1, Rho: -0.3, M: 0.02, Sigma: 0.15}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newFitter(t)
	f.Progress = nil
	fits := f.Fit(ctx, marketdata.GroupByExpiration(sliceRows(t, p, 1000, 100)))
	require.Len(t, fits, 1)
	assert.False(t, fits[0].OK())
}

func TestCheckButterfly(t *testing.T) {
	spot := 100.0
	var rows []models.MarketDataRow
	for _, k := range []float64{-0.5, 0, 0.5, 0.9} {
		rows = append(rows, models.MarketDataRow{StrikePrice: spot * math.Exp(k), UnderlyingPrice: spot})
	}

	clean := models.SVIParams{T: 0.5, A: 0.01, B: 0.1, Rho: -0.3, M: 0.02, Sigma: 0.15}
	assert.NoError(t, checkButterfly(clean, rows))

	// Axel Vogt's arbitrageable slice.
	vogt := models.SVIParams{T: 1, A: -0.0410, B: 0.1331, Rho: 0.3060, M: 0.3586, Sigma: 0.4153}
	assert.ErrorIs(t, checkButterfly(vogt, rows), models.ErrInvalidParameters)

	assert.NoError(t, checkButterfly(vogt, rows[:1]))
}
