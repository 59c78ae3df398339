package repository

import "errors"

// ErrNotFound is returned when no archived copy of a trip exists.
var ErrNotFound = errors.New("archived trip not found")
