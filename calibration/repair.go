package calibration

import (
	"fmt"
	"math"
	"slices"

	"github.com/bcdannyboy/volsurf/models"
)

const (
	repairEpsilon = 1e-10
	maxRepairRho  = 1 - 1e-9
	minRepairSig  = 1e-9
)

// repair maps x to a feasible SVI point inside bounds. It clamps each
// coordinate into the box, then, if the minimum variance is still negative,
// raises a alone to -b*sigma*sqrt(1-rho^2), capped at the upper a bound. The
// second result reports whether x changed.
func repair(t float64, x []float64, bounds models.SVIParamBounds) (models.SVIParams, bool, error) {
	c := bounds.Clamp(x)
	c[1] = math.Max(c[1], 0)
	c[2] = math.Max(-maxRepairRho, math.Min(maxRepairRho, c[2]))
	c[4] = math.Max(c[4], minRepairSig)

	p := models.SVIParamsFromVector(t, c)
	if err := p.Validate(); err != nil {
		floor := -p.B*p.Sigma*math.Sqrt(1-p.Rho*p.Rho) + repairEpsilon
		p.A = math.Min(math.Max(p.A, floor), bounds.A.High)
		if err := p.Validate(); err != nil {
			return models.SVIParams{}, false, fmt.Errorf("calibration.repair: %w", err)
		}
	}
	return p, !slices.Equal(p.Vector(), x), nil
}
