package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bcdannyboy/volsurf/config"
	"github.com/bcdannyboy/volsurf/marketdata"
	"github.com/bcdannyboy/volsurf/models"
	"github.com/bcdannyboy/volsurf/realized"
	"github.com/bcdannyboy/volsurf/surface"
	"github.com/bcdannyboy/volsurf/tradier"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults plus environment when empty)")
	csvPath := flag.String("csv", "", "snapshot CSV to calibrate")
	symbol := flag.String("symbol", "", "symbol root filter for -csv, or the tradier symbol to fetch")
	expiration := flag.String("expiration", "", "only calibrate this expiration (10JAN25, 2025-01-10 or unix seconds)")
	preset := flag.String("preset", "", "optimizer preset: minimal|fast|production|research")
	seed := flag.Int64("seed", -1, "random seed; negative draws one from the clock")
	out := flag.String("out", "", "JSON output path")
	workers := flag.Int("workers", 0, "concurrent slices; 0 uses every logical CPU")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	applyFlags(cfg, *preset, *seed, *out, *workers, *verbose, *logFormat)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	optCfg, err := cfg.OptimizationConfig()
	if err != nil {
		slog.Error("invalid optimizer settings", "err", err)
		os.Exit(1)
	}
	params, err := cfg.CalibrationParams()
	if err != nil {
		slog.Error("invalid calibration settings", "err", err)
		os.Exit(1)
	}
	fixed := cfg.FixedParameters()
	linear := cfg.LinearIVSettings()

	slog.Info("volsurf starting",
		"config", *configPath,
		"preset", optCfg.Name,
		"global", optCfg.GlobalMethod,
		"r", fixed.R,
		"q", fixed.Q,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rows, summary, err := loadRows(ctx, cfg, *csvPath, *symbol, *expiration, fixed)
	if err != nil {
		slog.Error("failed to load market data", "err", err)
		os.Exit(1)
	}
	slices := marketdata.GroupByExpiration(rows)
	if len(slices) == 0 {
		slog.Error("no market data to calibrate")
		os.Exit(1)
	}
	for _, s := range slices {
		slog.Debug("expiration", "label", s.Expiration.Label, "timestamp", s.Expiration.Timestamp, "rows", s.Expiration.Count)
	}

	fitter := &surface.Fitter{
		Config:   optCfg,
		Params:   params,
		Fixed:    fixed,
		LinearIV: &linear,
		Workers:  cfg.Output.Workers,
		Progress: os.Stderr,
	}
	start := time.Now()
	fits := fitter.Fit(ctx, slices)

	if err := surface.WriteTable(os.Stdout, fits); err != nil {
		slog.Error("failed to render table", "err", err)
	}
	if summary != nil {
		if err := surface.WriteRealized(os.Stdout, *summary); err != nil {
			slog.Error("failed to render realized vol", "err", err)
		}
	}
	report := surface.Report{Preset: optCfg.Name, Symbol: *symbol, Realized: summary, Fits: fits}
	if err := surface.WriteJSON(cfg.Output.JSONPath, report); err != nil {
		slog.Error("failed to write results", "err", err)
		os.Exit(1)
	}

	failed := 0
	for _, f := range fits {
		if !f.OK() {
			failed++
		}
	}
	slog.Info("done",
		"slices", len(fits),
		"failed", failed,
		"elapsed", time.Since(start),
		"out", cfg.Output.JSONPath,
	)
	if failed == len(fits) {
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, preset string, seed int64, out string, workers int, verbose bool, logFormat string) {
	if preset != "" {
		cfg.Calibration.Preset = preset
	}
	if seed >= 0 {
		s := uint64(seed)
		cfg.Calibration.Seed = &s
	}
	if out != "" {
		cfg.Output.JSONPath = out
	}
	if workers > 0 {
		cfg.Output.Workers = workers
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
}

// loadRows reads the CSV snapshot when one is configured and otherwise
// fetches live chains from tradier, along with a realized vol summary.
func loadRows(ctx context.Context, cfg *config.Config, csvPath, symbol, expiration string, fixed models.FixedParameters) ([]models.MarketDataRow, *realized.Summary, error) {
	if csvPath == "" {
		csvPath = cfg.Data.CSVPath
	}
	if symbol == "" {
		symbol = cfg.Data.Symbol
	}

	if csvPath != "" {
		rows, err := marketdata.LoadCSV(csvPath, marketdata.Options{Symbol: symbol, Fixed: fixed})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("loaded snapshot", "path", csvPath, "rows", len(rows), "symbol", symbol)
		if expiration != "" {
			rows, err = marketdata.FilterByExpiration(rows, expiration)
		}
		return rows, nil, err
	}

	if symbol == "" {
		return nil, nil, errors.New("need -csv or -symbol")
	}
	if cfg.Tradier.Token == "" {
		return nil, nil, errors.New("TRADIER_KEY is not set")
	}
	return fetchTradier(ctx, cfg, symbol, expiration, fixed)
}

func fetchTradier(ctx context.Context, cfg *config.Config, symbol, expiration string, fixed models.FixedParameters) ([]models.MarketDataRow, *realized.Summary, error) {
	client := tradier.NewClient(cfg.Tradier.Token,
		tradier.WithBaseURL(cfg.Tradier.BaseURL),
		tradier.WithTimeout(cfg.TradierTimeout()),
	)

	quote, err := client.Quote(ctx, symbol)
	if err != nil {
		return nil, nil, err
	}
	spot := quote.Mid()
	slog.Info("fetched quote", "symbol", symbol, "price", spot)

	dates := []string{expiration}
	if expiration == "" {
		if dates, err = client.Expirations(ctx, symbol); err != nil {
			return nil, nil, err
		}
	} else if ts, err := marketdata.ParseExpiration(expiration); err == nil {
		dates = []string{time.Unix(ts, 0).UTC().Format("2006-01-02")}
	}

	now := time.Now()
	var rows []models.MarketDataRow
	for _, date := range dates {
		chain, err := client.Chain(ctx, symbol, date)
		if err != nil {
			return nil, nil, err
		}
		slice, err := marketdata.FromTradierChain(chain, spot, now, fixed)
		if err != nil {
			return nil, nil, fmt.Errorf("expiration %s: %w", date, err)
		}
		slog.Debug("fetched chain", "expiration", date, "contracts", len(chain.Options.Option), "rows", len(slice))
		rows = append(rows, slice...)
	}

	var summary *realized.Summary
	days, err := client.History(ctx, symbol, now.AddDate(-1, 0, -14), now)
	if err != nil {
		slog.Warn("no price history, skipping realized vol", "err", err)
	} else {
		s := realized.Summarize(marketdata.BarsFromTradierHistory(days))
		summary = &s
		slog.Info("realized vol", "days", len(days), "garman_klass_1m", s.GarmanKlass["1m"], "parkinson_1m", s.Parkinson["1m"])
	}
	return rows, summary, nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
