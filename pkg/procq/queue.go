package procq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ib-77/procq/internal/telemetry"
)

// Queue is an unbounded FIFO drained by one background worker that runs every
// registered callback against each element.
//
// A single mutex guards the element list, the callback registry and the
// shutdown state. The worker waits on a condition variable bound to that mutex
// while the queue is empty, and runs callbacks with the mutex released.
type Queue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    list[T]
	inflight *node[T]
	registry registry[T]

	stopping bool
	stopped  bool
	stopOnce sync.Once
	done     chan struct{}

	processed atomic.Uint64

	name    string
	logger  *zap.Logger
	metrics *telemetry.QueueMetrics
	onPanic PanicHandler
}

// New installs callbacks in argument order and starts the worker.
func New[T any](callbacks ...Callback[T]) (*Queue[T], error) {
	return NewWithOptions(Options{}, callbacks...)
}

// NewWithOptions is New with explicit options. No worker is started when an
// error is returned.
func NewWithOptions[T any](opts Options, callbacks ...Callback[T]) (*Queue[T], error) {
	opts = opts.withDefaults()

	q := &Queue[T]{
		done:    make(chan struct{}),
		name:    opts.Name,
		logger:  opts.Logger.Named("procq").With(zap.String("queue", opts.Name)),
		onPanic: opts.OnPanic,
	}
	q.cond = sync.NewCond(&q.mu)

	if len(callbacks) > MaxCallbacks {
		return nil, fmt.Errorf("%w: %d initial callbacks, limit is %d",
			ErrCapacityExceeded, len(callbacks), MaxCallbacks)
	}
	for i, cb := range callbacks {
		if err := q.registry.add(cb); err != nil {
			return nil, fmt.Errorf("initial callback %d: %w", i, err)
		}
	}

	if opts.Registerer != nil {
		m, err := telemetry.NewQueueMetrics(opts.Registerer, opts.Name)
		if err != nil {
			return nil, fmt.Errorf("procq: register metrics: %w", err)
		}
		q.metrics = m
		q.metrics.Callbacks(q.registry.len)
	}

	go q.run()
	return q, nil
}

// Name returns the name the queue was created with.
func (q *Queue[T]) Name() string {
	return q.name
}

// AddCallback appends cb to the registry. It takes effect from the next element
// the worker dequeues. Callbacks can still be added while the queue drains.
func (q *Queue[T]) AddCallback(cb Callback[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrStopped
	}
	if err := q.registry.add(cb); err != nil {
		return err
	}
	q.metrics.Callbacks(q.registry.len)
	q.logger.Debug("callback registered", zap.Int("callbacks", q.registry.len))
	return nil
}

// TasksCount returns the number of installed callbacks.
func (q *Queue[T]) TasksCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.registry.len
}

// Push appends v and wakes the worker. It never blocks on the worker and fails
// only with ErrStopped once Stop or Shutdown has been called. Every element for
// which Push returned nil is processed before the worker exits.
func (q *Queue[T]) Push(v T) error {
	return q.PushAll(v)
}

// PushAll appends vs in order within a single critical section. Either all
// values are accepted or none is.
func (q *Queue[T]) PushAll(vs ...T) error {
	if len(vs) == 0 {
		return nil
	}

	items := make([]item[T], len(vs))
	for i, v := range vs {
		items[i] = newItem(v)
	}

	q.mu.Lock()
	if q.stopping {
		q.mu.Unlock()
		q.metrics.Rejected(len(vs))
		return ErrStopped
	}
	for _, it := range items {
		q.items.pushBack(it)
	}
	depth := q.items.len
	q.cond.Signal()
	q.mu.Unlock()

	q.metrics.Pushed(len(items), depth)
	if ce := q.logger.Check(zap.DebugLevel, "elements pushed"); ce != nil {
		ce.Write(zap.Stringer("first_id", items[0].Id()), zap.Int("count", len(items)), zap.Int("depth", depth))
	}
	return nil
}

// Pop removes the oldest element the worker has not picked up yet, without
// running any callback on it. The element currently being processed is never
// removed by Pop.
func (q *Queue[T]) Pop() (T, error) {
	var zero T

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return zero, ErrStopped
	}

	n := q.items.head
	if n != nil && n == q.inflight {
		n = n.next
	}
	if n == nil {
		return zero, ErrEmptyQueue
	}

	q.items.remove(n)
	q.metrics.Removed(q.items.len)
	q.logger.Debug("element popped without processing", zap.Stringer("id", n.value.Id()))
	return n.value.Value(), nil
}

// Size returns the number of queued elements, including the one whose callback
// pass is in progress.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.len
}

// Empty reports whether Size is zero.
func (q *Queue[T]) Empty() bool {
	return q.Size() == 0
}

// Front returns a copy of the oldest element as it was pushed. Changes made by
// callbacks to an element in progress are not visible here.
func (q *Queue[T]) Front() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.head == nil {
		var zero T
		return zero, false
	}
	return q.items.head.value.Value(), true
}

// Back returns a copy of the newest element.
func (q *Queue[T]) Back() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.tail == nil {
		var zero T
		return zero, false
	}
	return q.items.tail.value.Value(), true
}

// Processed returns how many elements have completed a full callback pass.
func (q *Queue[T]) Processed() uint64 {
	return q.processed.Load()
}

// Done is closed once the worker has drained the queue and exited.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Stop refuses further pushes, waits until every accepted element has been
// processed and the worker has exited. Calls after the first one wait for the
// same termination and return ErrAlreadyStopped.
//
// Stop must not be called from a callback.
func (q *Queue[T]) Stop() error {
	first := q.requestStop()
	<-q.done
	if !first {
		return ErrAlreadyStopped
	}
	return nil
}

// Shutdown is Stop bounded by ctx. When ctx ends first, the worker keeps
// draining in the background and the context error is returned.
func (q *Queue[T]) Shutdown(ctx context.Context) error {
	first := q.requestStop()
	select {
	case <-q.done:
		if !first {
			return ErrAlreadyStopped
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("procq: shutdown of queue %q: %w", q.name, ctx.Err())
	}
}

func (q *Queue[T]) requestStop() bool {
	first := false
	q.stopOnce.Do(func() {
		first = true

		q.mu.Lock()
		q.stopping = true
		pending := q.items.len
		q.cond.Signal()
		q.mu.Unlock()

		q.logger.Info("stop requested, draining", zap.Int("pending", pending))
	})
	return first
}

func (q *Queue[T]) run() {
	defer close(q.done)
	q.logger.Info("worker started")

	for {
		q.mu.Lock()
		for q.items.len == 0 && !q.stopping {
			q.cond.Wait()
		}
		if q.items.len == 0 {
			q.stopped = true
			q.mu.Unlock()
			q.logger.Info("worker stopped", zap.Uint64("processed", q.processed.Load()))
			return
		}

		n := q.items.head
		q.inflight = n
		current := n.value
		callbacks, count := q.registry.snapshot()
		q.mu.Unlock()

		q.process(&current, callbacks[:count])

		q.mu.Lock()
		q.items.remove(n)
		q.inflight = nil
		depth := q.items.len
		q.mu.Unlock()

		q.processed.Add(1)
		q.metrics.Processed(current.EnqueuedAt(), depth)
	}
}

// process runs the callbacks against one element. The element is a working
// copy owned by the worker, so callbacks never race with readers of the list.
func (q *Queue[T]) process(it *item[T], callbacks []Callback[T]) {
	for i, cb := range callbacks {
		q.invoke(it, i, cb)
	}
}

func (q *Queue[T]) invoke(it *item[T], index int, cb Callback[T]) {
	defer func() {
		if r := recover(); r != nil {
			q.metrics.Panicked()
			q.logger.Error("callback panicked",
				zap.Stringer("id", it.Id()),
				zap.Int("callback", index),
				zap.Any("panic", r))
			if q.onPanic != nil {
				q.onPanic(it.Id(), index, r)
			}
		}
	}()
	cb(&it.value)
}
