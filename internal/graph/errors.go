package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected runtime conditions.
var (
	// ErrPoolExhausted is returned by a non-blocking allocation against a
	// fully-issued pool.
	ErrPoolExhausted = errors.New("graph: allocator pool exhausted")

	// ErrAllocatorClosed is returned by any allocation attempted after the
	// allocator has been unblocked for shutdown.
	ErrAllocatorClosed = errors.New("graph: allocator closed")

	// ErrPipelineAlreadyRunning indicates Start was called twice on the same Pipeline.
	ErrPipelineAlreadyRunning = errors.New("graph: pipeline already running")

	// ErrFilterNotFound indicates a requested filter name is not registered in a Factory.
	ErrFilterNotFound = errors.New("graph: filter not found")

	// ErrIncompatibleMetadata indicates a pin received metadata incompatible
	// with what it already holds.
	ErrIncompatibleMetadata = errors.New("graph: incompatible metadata update")

	// ErrInputAlreadyConnected indicates a second producer tried to connect
	// to an Input pin that does not declare multi-connect.
	ErrInputAlreadyConnected = errors.New("graph: input already connected")
)

// FilterError wraps an error with the failing filter's identity: it is
// always the outermost error surfaced by Pipeline.Exception() and
// waitForEndOfStream().
type FilterError struct {
	FilterName string
	Err error
}

// Error implements the error interface.
func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.FilterName, e.Err)
}

// Unwrap returns the underlying error.
func (e *FilterError) Unwrap() error {
	return e.Err
}

// NewFilterError wraps err with the given filter name.
func NewFilterError(filterName string, err error) *FilterError {
	return &FilterError{FilterName: filterName, Err: err}
}
