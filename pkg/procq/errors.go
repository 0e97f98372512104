package procq

import "errors"

var (
	// ErrCapacityExceeded is returned when more than MaxCallbacks callbacks are registered.
	ErrCapacityExceeded = errors.New("procq: callback capacity exceeded")
	// ErrNilCallback is returned when a nil callback is registered.
	ErrNilCallback = errors.New("procq: nil callback")
	// ErrStopped is returned by mutating operations once the queue no longer accepts them.
	ErrStopped = errors.New("procq: queue stopped")
	// ErrAlreadyStopped is returned by every Stop/Shutdown call after the first one.
	ErrAlreadyStopped = errors.New("procq: queue already stopped")
	// ErrEmptyQueue is returned by Pop when no element is pending.
	ErrEmptyQueue = errors.New("procq: queue is empty")
)
