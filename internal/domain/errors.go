package domain

import "errors"

// ErrValidation marks input that is structurally invalid and must be dropped.
var ErrValidation = errors.New("validation error")
