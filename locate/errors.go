package locate

import "errors"

var (
	// ErrConfig reports an invalid or missing construction parameter.
	ErrConfig = errors.New("invalid configuration")

	// ErrNotFitted is returned by operations that need trained state.
	ErrNotFitted = errors.New("model is not fitted")

	// ErrDimensionMismatch is returned when a fingerprint length differs from
	// the dimensionality a fitted stage was trained on.
	ErrDimensionMismatch = errors.New("fingerprint dimension mismatch")

	// ErrNoObservations is returned when a data-driven beacon policy is fit
	// on an empty observation list.
	ErrNoObservations = errors.New("no observations")

	// ErrBeaconSetFrozen is returned when a registry whose beacon set is
	// already established is asked to select a new one.
	ErrBeaconSetFrozen = errors.New("beacon set already established")
)
