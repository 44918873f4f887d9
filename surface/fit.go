package surface

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/cpu"
	mpb "github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"

	"github.com/bcdannyboy/volsurf/calibration"
	"github.com/bcdannyboy/volsurf/lineariv"
	"github.com/bcdannyboy/volsurf/marketdata"
	"github.com/bcdannyboy/volsurf/models"
	"github.com/bcdannyboy/volsurf/pricing"
)

const (
	jobBatchSize       = 64
	butterflyGridSize  = 201
	butterflyGridWiden = 0.25
)

// QuoteFit is one repriced quote with greeks at the fitted vol.
type QuoteFit struct {
	models.PricingResult
	Greeks *pricing.BSMResult `json:"greeks,omitempty"`
}

// SliceFit is the outcome for one expiration. Error is set when calibration
// failed outright; a non-converged fit keeps its Result. LinearIV is read off
// the quotes independently of the calibration.
type SliceFit struct {
	Expiration marketdata.Expiration `json:"expiration"`
	Result     *calibration.Result   `json:"result,omitempty"`
	LinearIV   *lineariv.Output      `json:"linear_iv,omitempty"`
	Butterfly  string                `json:"butterfly,omitempty"`
	Quotes     []QuoteFit            `json:"quotes,omitempty"`
	Error      string                `json:"error,omitempty"`
	Elapsed    time.Duration         `json:"elapsed_ns"`
}

func (f SliceFit) OK() bool {
	return f.Error == "" && f.Result != nil
}

// Fitter calibrates expiration slices concurrently.
type Fitter struct {
	Calibrator *calibration.Calibrator
	Config     calibration.OptimizationConfig
	Params     calibration.CalibrationParams
	Fixed      models.FixedParameters
	// LinearIV configures the model-free ATM and delta read. Nil uses
	// lineariv.DefaultConfig at the Fixed rate and yield.
	LinearIV *lineariv.Config
	// Workers is the pool size. Zero means one per logical CPU.
	Workers int
	// Progress receives a progress bar when non-nil.
	Progress io.Writer
	Logger   *slog.Logger
}

type job struct {
	index int
	slice marketdata.Slice
}

type result struct {
	index int
	fit   SliceFit
}

// Fit calibrates every slice and returns the fits in input order.
func (f *Fitter) Fit(ctx context.Context, slices []marketdata.Slice) []SliceFit {
	fits := make([]SliceFit, len(slices))
	if len(slices) == 0 {
		return fits
	}

	numWorkers := min(f.workers(), len(slices))
	f.logger().Info("calibrating slices", "slices", len(slices), "workers", numWorkers, "preset", f.Config.Name)

	var p *mpb.Progress
	var bar *mpb.Bar
	if f.Progress != nil {
		p = mpb.New(mpb.WithWidth(64), mpb.WithOutput(f.Progress))
		bar = p.AddBar(int64(len(slices)),
			mpb.PrependDecorators(
				decor.Name("Slices"),
				decor.Percentage(decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersNoUnit("(%d / %d)", decor.WCSyncSpace),
			),
		)
	}

	var wg sync.WaitGroup
	jobs := make(chan job, jobBatchSize)
	results := make(chan result, jobBatchSize)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go f.worker(ctx, jobs, results, &wg, bar)
	}

	go func() {
		for i, s := range slices {
			jobs <- job{index: i, slice: s}
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		fits[r.index] = r.fit
	}
	if p != nil {
		p.Wait()
	}
	return fits
}

func (f *Fitter) worker(ctx context.Context, jobs <-chan job, results chan<- result, wg *sync.WaitGroup, bar *mpb.Bar) {
	defer wg.Done()
	for j := range jobs {
		results <- result{index: j.index, fit: f.FitSlice(ctx, j.slice)}
		if bar != nil {
			bar.Increment()
		}
	}
}

// FitSlice calibrates a single slice, reprices it and checks the fitted
// smile for butterfly arbitrage over the quoted moneyness range.
func (f *Fitter) FitSlice(ctx context.Context, s marketdata.Slice) SliceFit {
	start := time.Now()
	fit := SliceFit{Expiration: s.Expiration}
	log := f.logger().With("expiration", s.Expiration.Label)

	cal := f.Calibrator
	if cal == nil {
		cal = calibration.NewCalibrator(f.Logger)
	}
	res, err := cal.Calibrate(ctx, s.Rows, f.Config, f.Params, nil)
	fit.Elapsed = time.Since(start)

	linear, lerr := lineariv.BuildFromRows(s.Rows, f.linearConfig(), log)
	if lerr != nil {
		log.Warn("linear iv unavailable", "err", lerr)
	} else {
		fit.LinearIV = linear
	}

	if err != nil {
		log.Warn("calibration failed", "err", err)
		fit.Error = err.Error()
		return fit
	}
	fit.Result = res

	if errors.Is(res.Err, calibration.ErrDidNotConverge) {
		log.Warn("calibration did not converge", "objective", res.Objective)
	}
	if err := checkButterfly(res.Params, s.Rows); err != nil {
		fit.Butterfly = err.Error()
		log.Warn("butterfly arbitrage in fitted slice", "err", err)
	}

	for _, pr := range pricing.PriceWithSVI(res.Params, s.Rows, f.Fixed) {
		q := QuoteFit{PricingResult: pr}
		if pr.Valid {
			row := models.MarketDataRow{
				OptionType:      pr.OptionType,
				StrikePrice:     pr.Strike,
				UnderlyingPrice: pr.Underlying,
				YearsToExp:      pr.YearsToExp,
			}
			greeks := pricing.OptionMetrics(row, f.Fixed, pr.ModelIV)
			q.Greeks = &greeks
		}
		fit.Quotes = append(fit.Quotes, q)
	}

	log.Info("slice calibrated",
		"objective", res.Objective,
		"status", res.Status.String(),
		"rows", res.Diagnostics.RowsUsed,
		"elapsed", fit.Elapsed,
	)
	return fit
}

func checkButterfly(p models.SVIParams, rows []models.MarketDataRow) error {
	kMin, kMax := math.Inf(1), math.Inf(-1)
	for _, r := range rows {
		k := r.LogMoneyness()
		if math.IsNaN(k) || math.IsInf(k, 0) {
			continue
		}
		kMin = math.Min(kMin, k)
		kMax = math.Max(kMax, k)
	}
	if !(kMax > kMin) {
		return nil
	}
	pad := butterflyGridWiden * (kMax - kMin)
	return p.CheckButterfly(kMin-pad, kMax+pad, butterflyGridSize)
}

func (f *Fitter) linearConfig() lineariv.Config {
	if f.LinearIV != nil {
		return *f.LinearIV
	}
	cfg := lineariv.DefaultConfig()
	cfg.RiskFreeRate = f.Fixed.R
	cfg.DividendYield = f.Fixed.Q
	return cfg
}

func (f *Fitter) workers() int {
	if f.Workers > 0 {
		return f.Workers
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func (f *Fitter) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
