package models

import (
	"fmt"
	"math"
)

// Weighting decides how much each quote counts in a calibration objective.
type Weighting interface {
	ATMWeight(k float64) float64
	VegaWeight(vega, vegaSum float64) float64
	// RequiresVega reports whether quotes without a positive vega are unusable.
	RequiresVega() bool
}

// SviModelParams weights quotes by normalized vega and by closeness to the money.
type SviModelParams struct {
	ATMBoostFactor   float64 `json:"atm_boost_factor" yaml:"atm_boost_factor"`
	UseVegaWeighting bool    `json:"use_vega_weighting" yaml:"use_vega_weighting"`
}

func DefaultSviModelParams() SviModelParams {
	return SviModelParams{ATMBoostFactor: 25.0, UseVegaWeighting: true}
}

// ATMWeight decays as exp(-factor*|k|).
func (s SviModelParams) ATMWeight(k float64) float64 {
	return math.Exp(-s.ATMBoostFactor * math.Abs(k))
}

func (s SviModelParams) VegaWeight(vega, vegaSum float64) float64 {
	if !s.UseVegaWeighting {
		return 1
	}
	if vegaSum <= 0 {
		return 0
	}
	return vega / vegaSum
}

func (s SviModelParams) RequiresVega() bool {
	return s.UseVegaWeighting
}

func (s SviModelParams) Validate() error {
	if math.IsNaN(s.ATMBoostFactor) || math.IsInf(s.ATMBoostFactor, 0) || s.ATMBoostFactor < 0 {
		return fmt.Errorf("models.SviModelParams.Validate: atm_boost_factor=%g must be finite and >= 0: %w",
			s.ATMBoostFactor, ErrInvalidParameters)
	}
	return nil
}
