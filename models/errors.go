package models

import "errors"

// ErrInvalidParameters is returned for infeasible SVI parameters and
// malformed bounds.
var ErrInvalidParameters = errors.New("invalid parameters")
