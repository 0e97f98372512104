package procq

import (
	"context"
	"errors"
)

// Feed pushes every value received from in until in is closed, ctx ends or the
// queue stops accepting values. It returns how many values were accepted.
// A closed channel is not an error.
func (q *Queue[T]) Feed(ctx context.Context, in <-chan T) (int, error) {
	accepted := 0

	for {
		if err := ctx.Err(); err != nil {
			return accepted, err
		}

		select {
		case v, ok := <-in:
			if !ok {
				return accepted, nil
			}
			if err := q.Push(v); err != nil {
				return accepted, err
			}
			accepted++
		case <-ctx.Done():
			return accepted, ctx.Err()
		}
	}
}

// FeedValues is Feed over a fixed set of values, pushed one by one so that the
// worker can start before the last value arrives.
func (q *Queue[T]) FeedValues(ctx context.Context, values ...T) (int, error) {
	in := make(chan T)

	go func() {
		defer close(in)
		for _, v := range values {
			select {
			case in <- v:
			case <-ctx.Done():
				return
			}
		}
	}()

	n, err := q.Feed(ctx, in)
	if errors.Is(err, ErrStopped) {
		// unblock the sender goroutine
		for range in {
		}
	}
	return n, err
}
