package procq

import "fmt"

// MaxCallbacks is the number of callbacks a single queue can hold.
const MaxCallbacks = 10

// Callback is invoked once per element, on the worker goroutine, with mutable
// access to the element.
type Callback[T any] func(v *T)

// registry is an append-only, capacity-bounded, ordered set of callbacks.
// It is not synchronized; Queue guards it.
type registry[T any] struct {
	slots [MaxCallbacks]Callback[T]
	len   int
}

func (r *registry[T]) add(cb Callback[T]) error {
	if cb == nil {
		return ErrNilCallback
	}
	if r.len >= MaxCallbacks {
		return fmt.Errorf("%w: %d callbacks already registered", ErrCapacityExceeded, r.len)
	}
	r.slots[r.len] = cb
	r.len++
	return nil
}

// snapshot copies the installed callbacks so the worker can run them without
// holding the lock.
func (r *registry[T]) snapshot() ([MaxCallbacks]Callback[T], int) {
	return r.slots, r.len
}
