package calibration

import (
	"errors"

	"github.com/bcdannyboy/volsurf/models"
)

var (
	// ErrInvalidParameters covers malformed bounds, configs and initial guesses.
	ErrInvalidParameters = models.ErrInvalidParameters
	// ErrInsufficientData means too few usable quotes remained.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrMultiExpiration means the quotes span more than one expiration.
	ErrMultiExpiration = errors.New("data spans multiple expirations")
	// ErrDidNotConverge is reported on a Result, never returned as a call error.
	ErrDidNotConverge = errors.New("optimization did not converge")
)
