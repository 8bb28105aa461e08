package threat

import (
	"errors"
	"fmt"

	"threatmap/internal/common"
)

var (
	// ErrInvalidCoordinates marks an entry whose latitude or longitude is
	// missing, not finite or out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrNoUsableRecords is returned when a tier answered but nothing
	// survived normalization.
	ErrNoUsableRecords = errors.New("no usable records")
)

// NetworkError is a transport failure or a non-2xx response.
type NetworkError struct {
	Tier       common.Tier
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s feed %s: HTTP %d", e.Tier, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s feed %s: %v", e.Tier, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SchemaError means the primary feed answered with JSON of the wrong shape.
type SchemaError struct {
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema: %s: %v", e.Reason, e.Err)
	}
	return "schema: " + e.Reason
}

func (e *SchemaError) Unwrap() error { return e.Err }

// FormatError means the secondary feed answered with something that is not
// a usable text list.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("format: %s: %v", e.Reason, e.Err)
	}
	return "format: " + e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

// failureReason buckets an error for the tier failure metric.
func failureReason(err error) string {
	var (
		netErr    *NetworkError
		schemaErr *SchemaError
		formatErr *FormatError
	)
	switch {
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &schemaErr):
		return "schema"
	case errors.As(err, &formatErr):
		return "format"
	case errors.Is(err, ErrNoUsableRecords):
		return "empty"
	default:
		return "other"
	}
}
