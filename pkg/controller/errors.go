package controller

import "errors"

// ErrLeaseHeldByOther is returned when the single-active-simulation lease
// is held by a Simulation other than the one being reconciled. The
// reconciler treats this as a transition to Blocked, not a reconcile
// failure.
var ErrLeaseHeldByOther = errors.New("controller: simulation lease held by another simulation")

// ErrMaxRetriesExceeded is returned once a Simulation has spent
// MaxRetries consecutive Retrying transitions without reaching Running.
var ErrMaxRetriesExceeded = errors.New("controller: exceeded maximum retry attempts")
