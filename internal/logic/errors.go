package logic

import "errors"

// ErrInvalidTargeting is returned when a targeting rule set fails structural
// validation on a path that cannot proceed with it.
var ErrInvalidTargeting = errors.New("invalid targeting rules")
