package core

import "errors"

// Error taxonomy. Engine code classifies failures with errors.Is against
// these sentinels; adapters wrap infrastructure errors with them.
var (
	// ErrValidationSkip marks a record that cannot be processed (missing
	// project, non-positive amount, unresolved name). Logged and skipped.
	ErrValidationSkip = errors.New("validation skip")

	// ErrNoAllocatableBasis is returned when the total allocation weight is zero.
	ErrNoAllocatableBasis = errors.New("no allocatable basis")

	// ErrLookupFailure wraps read failures from the directory or record store.
	ErrLookupFailure = errors.New("lookup failure")

	// ErrWriteFailure wraps create/update failures after adapter retries.
	ErrWriteFailure = errors.New("write failure")

	// ErrCredentialOrConfig aborts a whole allocation kind for a period.
	ErrCredentialOrConfig = errors.New("credential or configuration error")
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidRate      = errors.New("invalid conversion rate")
	ErrEmptyProject     = errors.New("empty project")
	ErrEmptyNaturalKey  = errors.New("empty natural key")
	ErrInvalidPeriod    = errors.New("invalid period")
	ErrUnknownRole      = errors.New("unknown role")
	ErrUnknownCategory  = errors.New("unknown category")
	ErrEmptyDescription = errors.New("empty description")
)
