package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData means a metric had too few frames or keypoints to say anything
	ErrInsufficientData = errors.New("insufficient data")
	// ErrMissingCredentials is returned at construction time, before any batch starts
	ErrMissingCredentials = errors.New("missing credentials")
)

// TransportError is a network, timeout or non-2xx failure at the generation or download boundary.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": transport failure"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Rejected reports whether the remote side answered with a non-2xx status
// rather than the request failing to complete.
func (e *TransportError) Rejected() bool { return e.StatusCode != 0 }

// ModelInferenceError wraps a failure of a detection or similarity primitive.
type ModelInferenceError struct {
	Primitive string
	Err       error
}

func (e *ModelInferenceError) Error() string {
	return fmt.Sprintf("%s inference failed: %v", e.Primitive, e.Err)
}

func (e *ModelInferenceError) Unwrap() error { return e.Err }

// AggregationError is raised when a sub-score handed to the aggregator is unusable.
type AggregationError struct {
	Field  string
	Reason string
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation: %s: %s", e.Field, e.Reason)
}

// InsufficientData wraps ErrInsufficientData with a detail message.
func InsufficientData(detail string) error {
	return fmt.Errorf("%w: %s", ErrInsufficientData, detail)
}
