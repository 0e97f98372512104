package procq

import (
	"time"

	"github.com/google/uuid"
)

// item is the envelope an element travels in from Push to the end of its
// callback pass.
type item[T any] struct {
	id         uuid.UUID
	enqueuedAt time.Time
	value      T
}

func newItem[T any](v T) item[T] {
	return item[T]{
		id:         uuid.New(),
		enqueuedAt: time.Now().UTC(),
		value:      v,
	}
}

func (i item[T]) Id() uuid.UUID {
	return i.id
}

func (i item[T]) EnqueuedAt() time.Time {
	return i.enqueuedAt
}

func (i item[T]) Value() T {
	return i.value
}
