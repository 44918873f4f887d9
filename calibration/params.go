package calibration

import (
	"fmt"
	"math"

	"github.com/bcdannyboy/volsurf/models"
)

// CalibrationParams carries the per-call knobs of a calibration.
type CalibrationParams struct {
	// ParamBounds overrides the maturity-derived box when set.
	ParamBounds *models.SVIParamBounds
	// ModelParams weights the quotes. Nil means models.DefaultSviModelParams.
	ModelParams models.Weighting
	// RegLambda pulls the fit towards the initial guess with
	// RegLambda * |x - guess|^2. Ignored without an initial guess. It
	// defaults to 0 even when a guess is supplied, so a warm start only
	// seeds the search; set it (1e-2 is a usual value) to also penalise
	// drift from the guess.
	RegLambda float64
	// Seed fixes the global stage's random stream. Nil draws a seed from the
	// clock, which is reported in Diagnostics.Seed.
	Seed *uint64
}

func DefaultCalibrationParams() CalibrationParams {
	return CalibrationParams{ModelParams: models.DefaultSviModelParams()}
}

// WithSeed returns a copy of p with a fixed seed.
func (p CalibrationParams) WithSeed(seed uint64) CalibrationParams {
	p.Seed = &seed
	return p
}

func (p CalibrationParams) weighting() models.Weighting {
	if p.ModelParams == nil {
		return models.DefaultSviModelParams()
	}
	return p.ModelParams
}

func (p CalibrationParams) Validate() error {
	if math.IsNaN(p.RegLambda) || math.IsInf(p.RegLambda, 0) || p.RegLambda < 0 {
		return fmt.Errorf("calibration.CalibrationParams.Validate: reg_lambda=%g: %w", p.RegLambda, ErrInvalidParameters)
	}
	if v, ok := p.weighting().(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("calibration.CalibrationParams.Validate: %w", err)
		}
	}
	if p.ParamBounds != nil {
		if err := p.ParamBounds.Validate(); err != nil {
			return fmt.Errorf("calibration.CalibrationParams.Validate: %w", err)
		}
	}
	return nil
}
