package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bcdannyboy/volsurf/calibration"
	"github.com/bcdannyboy/volsurf/lineariv"
	"github.com/bcdannyboy/volsurf/models"
)

// Config is the full volsurf configuration.
type Config struct {
	Calibration CalibrationConfig `yaml:"calibration"`
	Market      MarketConfig      `yaml:"market"`
	LinearIV    LinearIVConfig    `yaml:"linear_iv"`
	Data        DataConfig        `yaml:"data"`
	Tradier     TradierConfig     `yaml:"tradier"`
	Output      OutputConfig      `yaml:"output"`
	Log         LogConfig         `yaml:"log"`
}

// CalibrationConfig picks a preset and overrides a few of its knobs.
type CalibrationConfig struct {
	Preset           string   `yaml:"preset"`
	GlobalMethod     string   `yaml:"global_method"`
	ParallelEval     *bool    `yaml:"parallel_eval"`
	Seed             *uint64  `yaml:"seed"`
	RegLambda        float64  `yaml:"reg_lambda"`
	ATMBoostFactor   *float64 `yaml:"atm_boost_factor"`
	UseVegaWeighting *bool    `yaml:"use_vega_weighting"`
	AdaptiveBounds   bool     `yaml:"adaptive_bounds"`
	MinRows          int      `yaml:"min_rows"`
	StrictMinRows    *bool    `yaml:"strict_min_rows"`
}

type MarketConfig struct {
	RiskFreeRate  float64 `yaml:"risk_free_rate"`
	DividendYield float64 `yaml:"dividend_yield"`
}

// LinearIVConfig tunes the model-free ATM and fixed-delta read. Rate and
// yield come from MarketConfig.
type LinearIVConfig struct {
	Deltas             []float64 `yaml:"deltas"`
	SolverTol          float64   `yaml:"solver_tol"`
	MinPoints          int       `yaml:"min_points"`
	AllowExtrapolation *bool     `yaml:"allow_extrapolation"`
}

// DataConfig names the default input. A CSV path wins over a tradier fetch.
type DataConfig struct {
	CSVPath string `yaml:"csv_path"`
	Symbol  string `yaml:"symbol"`
}

type TradierConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"-"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type OutputConfig struct {
	JSONPath string `yaml:"json_path"`
	Workers  int    `yaml:"workers"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file at path and the .env file if present. Environment
// variables override the YAML for the keys they cover. An empty path yields
// the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TRADIER_KEY"); v != "" {
		cfg.Tradier.Token = v
	}
	if v := os.Getenv("VOLSURF_PRESET"); v != "" {
		cfg.Calibration.Preset = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Calibration.Preset == "" {
		cfg.Calibration.Preset = "production"
	}
	if cfg.Market.RiskFreeRate == 0 {
		cfg.Market.RiskFreeRate = models.DefaultFixedParameters().R
	}
	if cfg.Tradier.BaseURL == "" {
		cfg.Tradier.BaseURL = "https://api.tradier.com"
	}
	if cfg.Tradier.TimeoutSeconds <= 0 {
		cfg.Tradier.TimeoutSeconds = 30
	}
	if cfg.Output.JSONPath == "" {
		cfg.Output.JSONPath = "svi_fits.json"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	if _, err := c.OptimizationConfig(); err != nil {
		return fmt.Errorf("config.Validate: %w", err)
	}
	if _, err := c.CalibrationParams(); err != nil {
		return fmt.Errorf("config.Validate: %w", err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.Validate: unknown log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config.Validate: unknown log format %q", c.Log.Format)
	}
	for _, d := range c.LinearIV.Deltas {
		if !(d > -1 && d < 1) || d == 0 {
			return fmt.Errorf("config.Validate: linear_iv delta %g must be in (-1, 1) and non-zero", d)
		}
	}
	if c.LinearIV.SolverTol < 0 || c.LinearIV.MinPoints < 0 {
		return fmt.Errorf("config.Validate: linear_iv solver_tol and min_points must be >= 0")
	}
	if c.Output.Workers < 0 {
		return fmt.Errorf("config.Validate: workers=%d must be >= 0", c.Output.Workers)
	}
	return nil
}

// OptimizationConfig resolves the preset and applies the overrides.
func (c *Config) OptimizationConfig() (calibration.OptimizationConfig, error) {
	opt, err := calibration.PresetByName(c.Calibration.Preset)
	if err != nil {
		return opt, err
	}
	cc := c.Calibration
	if cc.GlobalMethod != "" {
		opt.GlobalMethod = strings.ToLower(cc.GlobalMethod)
	}
	if cc.ParallelEval != nil {
		opt.CmaEs.ParallelEval = *cc.ParallelEval
	}
	if cc.MinRows > 0 {
		opt.MinRows = cc.MinRows
	}
	if cc.StrictMinRows != nil {
		opt.StrictMinRows = *cc.StrictMinRows
	}
	opt.AdaptiveBounds.Enabled = cc.AdaptiveBounds
	return opt, opt.Validate()
}

func (c *Config) CalibrationParams() (calibration.CalibrationParams, error) {
	w := models.DefaultSviModelParams()
	if c.Calibration.ATMBoostFactor != nil {
		w.ATMBoostFactor = *c.Calibration.ATMBoostFactor
	}
	if c.Calibration.UseVegaWeighting != nil {
		w.UseVegaWeighting = *c.Calibration.UseVegaWeighting
	}
	p := calibration.CalibrationParams{
		ModelParams: w,
		RegLambda:   c.Calibration.RegLambda,
		Seed:        c.Calibration.Seed,
	}
	return p, p.Validate()
}

func (c *Config) FixedParameters() models.FixedParameters {
	return models.FixedParameters{R: c.Market.RiskFreeRate, Q: c.Market.DividendYield}
}

// LinearIVSettings fills unset linear_iv keys from lineariv.DefaultConfig.
func (c *Config) LinearIVSettings() lineariv.Config {
	out := lineariv.DefaultConfig()
	l := c.LinearIV
	if len(l.Deltas) > 0 {
		out.Deltas = append([]float64(nil), l.Deltas...)
	}
	if l.SolverTol > 0 {
		out.SolverTol = l.SolverTol
	}
	if l.MinPoints > 0 {
		out.MinPoints = l.MinPoints
	}
	if l.AllowExtrapolation != nil {
		out.AllowExtrapolation = *l.AllowExtrapolation
	}
	out.RiskFreeRate = c.Market.RiskFreeRate
	out.DividendYield = c.Market.DividendYield
	return out
}

func (c *Config) TradierTimeout() time.Duration {
	return time.Duration(c.Tradier.TimeoutSeconds) * time.Second
}
