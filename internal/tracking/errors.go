package tracking

import (
	"context"
	"errors"

	"github.com/banshee-data/trackheat/internal/db"
)

// Messages carried by TrackingError notifications.
const (
	MessageServiceDisabled    = "Location services are disabled. Enable them to continue."
	MessageServiceUnsupported = "This device does not support location tracking."
	MessagePermissionDenied   = "Location permission was denied."
	MessageStorageFault       = "Failed to save location sample."
	MessageUnexpected         = "Unexpected error while tracking location."
)

// failure is the outcome of classifying one sampling error.
type failure struct {
	label   string // metrics label
	message string
	fatal   bool
}

func classify(err error) failure {
	switch {
	case errors.Is(err, ErrServiceDisabled):
		return failure{"service_disabled", MessageServiceDisabled, true}
	case errors.Is(err, ErrServiceUnsupported):
		return failure{"service_unsupported", MessageServiceUnsupported, true}
	case errors.Is(err, ErrPermissionDenied):
		return failure{"permission_denied", MessagePermissionDenied, true}
	case errors.Is(err, db.ErrStorageFault):
		return failure{"storage", MessageStorageFault, false}
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return failure{"timeout", MessageUnexpected, false}
	case errors.Is(err, ErrInvalidPosition):
		return failure{"invalid_position", MessageUnexpected, false}
	default:
		return failure{"unexpected", MessageUnexpected, false}
	}
}
