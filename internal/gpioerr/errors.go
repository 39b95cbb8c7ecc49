// Package gpioerr holds the sentinel errors shared by the register model and
// its collaborators. The strings are stable and safe to surface over the API.
package gpioerr

import "errors"

var (
	// Pin addressing
	ErrOutOfRange = errors.New("pin_out_of_range")

	// Mapping
	ErrMappingUnavailable = errors.New("mapping_unavailable")
	ErrShortMapping       = errors.New("short_mapping")

	// Interrupt configuration
	ErrStaleAcknowledge = errors.New("stale_acknowledge")
	ErrInvalidTrigger   = errors.New("invalid_trigger")

	// Mode
	ErrInvalidDirection = errors.New("invalid_direction")

	// Collaborators
	ErrNotExported = errors.New("not_exported")
	ErrPinClaimed  = errors.New("pin_claimed")

	// Generic / pass-through
	ErrUnsupported = errors.New("unsupported")
)
