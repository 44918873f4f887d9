package surface

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhhuango/json"

	"github.com/bcdannyboy/volsurf/calibration"
	"github.com/bcdannyboy/volsurf/lineariv"
	"github.com/bcdannyboy/volsurf/marketdata"
	"github.com/bcdannyboy/volsurf/models"
	"github.com/bcdannyboy/volsurf/realized"
)

func sampleFits() []SliceFit {
	p := models.SVIParams{T: 0.5, A: 0.01, B: 0.1, Rho: -0.3, M: 0.02, Sigma: 0.15}
	rr, bf := -0.015, 0.004
	return []SliceFit{
		{
			Expiration: marketdata.Expiration{Timestamp: 1736496000, Label: "10JAN25", Count: 12},
			Result: &calibration.Result{
				Objective:   1.5e-9,
				Params:      p,
				Vector:      p.Vector(),
				Status:      calibration.StatusConverged,
				Diagnostics: calibration.Diagnostics{RowsUsed: 11, Seed: 7},
			},
			LinearIV: &lineariv.Output{
				ATMIV:    0.1875,
				DeltaIVs: []lineariv.DeltaIV{{Delta: -0.25, IV: 0.2}, {Delta: 0.25, IV: 0.185}},
				RR25:     &rr,
				BF25:     &bf,
				TTE:      0.5,
			},
		},
		{
			Expiration: marketdata.Expiration{Timestamp: 1737100800, Label: "17JAN25", Count: 2},
			Error:      "calibration.Calibrate: 2 usable rows, need 5",
		},
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, sampleFits()))

	out := buf.String()
	assert.Contains(t, out, "10JAN25")
	assert.Contains(t, out, "11/12")
	assert.Contains(t, out, "converged")
	assert.Contains(t, out, "17JAN25")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "18.75%")
	assert.Contains(t, out, "-1.50%")
	assert.Contains(t, out, "+0.40%")
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fits.json")
	require.NoError(t, WriteJSON(path, Report{Preset: "fast", Fits: sampleFits()}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Preset string `json:"preset"`
		Fits   []struct {
			Expiration marketdata.Expiration `json:"expiration"`
			Result     *struct {
				Status string    `json:"status"`
				Vector []float64 `json:"vector"`
			} `json:"result"`
			LinearIV *struct {
				ATMIV float64  `json:"atm_iv"`
				RR25  *float64 `json:"rr_25"`
			} `json:"linear_iv"`
			Error string `json:"error"`
		} `json:"fits"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "fast", doc.Preset)
	require.Len(t, doc.Fits, 2)
	require.NotNil(t, doc.Fits[0].Result)
	assert.Equal(t, "converged", doc.Fits[0].Result.Status)
	assert.Len(t, doc.Fits[0].Result.Vector, models.NumParams)
	require.NotNil(t, doc.Fits[0].LinearIV)
	assert.Equal(t, 0.1875, doc.Fits[0].LinearIV.ATMIV)
	require.NotNil(t, doc.Fits[0].LinearIV.RR25)
	assert.Equal(t, -0.015, *doc.Fits[0].LinearIV.RR25)
	assert.Nil(t, doc.Fits[1].Result)
	assert.Nil(t, doc.Fits[1].LinearIV)
	assert.NotEmpty(t, doc.Fits[1].Error)

	assert.Error(t, WriteJSON(filepath.Join(t.TempDir(), "missing", "fits.json"), Report{}))
}

func TestWriteRealized(t *testing.T) {
	var buf bytes.Buffer
	s := realized.Summary{
		GarmanKlass:  map[string]float64{"1w": 0.12, "1m": 0.15},
		Parkinson:    map[string]float64{"1w": 0.11, "1m": 0.14},
		CloseToClose: map[string]float64{"1m": 0.13},
	}
	require.NoError(t, WriteRealized(&buf, s))

	out := buf.String()
	assert.Contains(t, out, "12.00%")
	assert.Contains(t, out, "13.00%")
	assert.NotContains(t, out, "3m")
}
