package db

import "errors"

// ErrNotFound is wrapped into errors returned by Get* methods when a row is
// absent, so callers can distinguish it from a transient database failure
// per the error taxonomy in spec §7.
var ErrNotFound = errors.New("row not found")
