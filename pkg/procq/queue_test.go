package procq

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// recorder collects the values a callback observed, in order.
type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (r *recorder[T]) callback() Callback[T] {
	return func(v *T) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.values = append(r.values, *v)
	}
}

func (r *recorder[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	rec := &recorder[int]{}
	q, err := New(rec.callback())
	require.NoError(t, err)

	expected := make([]int, 0, 100)
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Push(i))
		expected = append(expected, i)
	}

	require.NoError(t, q.Stop())
	assert.Equal(t, expected, rec.snapshot())
	assert.True(t, q.Empty())
	assert.Equal(t, uint64(100), q.Processed())
}

func TestQueue_CallbacksRunInRegistrationOrder(t *testing.T) {
	t.Parallel()

	var trace []string
	q, err := New(
		func(v *int) { trace = append(trace, fmt.Sprintf("a%d", *v)); *v *= 10 },
		func(v *int) { trace = append(trace, fmt.Sprintf("b%d", *v)); *v++ },
	)
	require.NoError(t, err)
	require.NoError(t, q.AddCallback(func(v *int) { trace = append(trace, fmt.Sprintf("c%d", *v)) }))

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	require.NoError(t, q.Stop())

	assert.Equal(t, []string{"a1", "b10", "c11", "a2", "b20", "c21"}, trace)
}

func TestQueue_DrainsOnStop(t *testing.T) {
	t.Parallel()

	const k = 500
	var first, second atomic.Int64

	q, err := New(
		func(v *int) { first.Add(1) },
		func(v *int) { second.Add(1) },
	)
	require.NoError(t, err)

	for i := 0; i < k; i++ {
		require.NoError(t, q.Push(i))
	}
	require.NoError(t, q.Stop())

	assert.Equal(t, int64(k), first.Load())
	assert.Equal(t, int64(k), second.Load())
	assert.Equal(t, 0, q.Size())

	select {
	case <-q.Done():
	default:
		t.Fatal("worker still running after Stop returned")
	}
}

func TestQueue_CapacityEnforced(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	counting := func(v *int) { calls.Add(1) }

	q, err := New[int]()
	require.NoError(t, err)

	for i := 0; i < MaxCallbacks; i++ {
		require.NoError(t, q.AddCallback(counting))
	}
	assert.Equal(t, MaxCallbacks, q.TasksCount())

	err = q.AddCallback(counting)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, MaxCallbacks, q.TasksCount())

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Stop())
	assert.Equal(t, int64(MaxCallbacks), calls.Load())
}

func TestNew_TooManyInitialCallbacks(t *testing.T) {
	t.Parallel()

	callbacks := make([]Callback[int], MaxCallbacks+1)
	for i := range callbacks {
		callbacks[i] = func(v *int) {}
	}

	q, err := New(callbacks...)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Nil(t, q)

	q, err = New(callbacks[:MaxCallbacks]...)
	require.NoError(t, err)
	assert.Equal(t, MaxCallbacks, q.TasksCount())
	require.NoError(t, q.Stop())
}

func TestQueue_NilCallbackRejected(t *testing.T) {
	t.Parallel()

	_, err := New[int](nil)
	assert.ErrorIs(t, err, ErrNilCallback)

	q, err := New[int]()
	require.NoError(t, err)
	assert.ErrorIs(t, q.AddCallback(nil), ErrNilCallback)
	assert.Equal(t, 0, q.TasksCount())
	require.NoError(t, q.Stop())
}

func TestQueue_ZeroCallbacks(t *testing.T) {
	t.Parallel()

	q, err := New[string]()
	require.NoError(t, err)
	assert.Equal(t, 0, q.TasksCount())

	for i := 0; i < 50; i++ {
		require.NoError(t, q.Push(fmt.Sprint(i)))
	}
	require.NoError(t, q.Stop())

	assert.True(t, q.Empty())
	assert.Equal(t, uint64(50), q.Processed())
}

func TestQueue_LateCallbackSeesOnlyLaterElements(t *testing.T) {
	t.Parallel()

	early := &recorder[string]{}
	late := &recorder[string]{}

	q, err := New(early.callback())
	require.NoError(t, err)

	require.NoError(t, q.Push("A"))
	require.Eventually(t, func() bool { return q.Processed() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, q.AddCallback(late.callback()))
	require.NoError(t, q.Push("B"))
	require.NoError(t, q.Stop())

	assert.Equal(t, []string{"A", "B"}, early.snapshot())
	assert.Equal(t, []string{"B"}, late.snapshot())
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	const (
		producers = 8
		perWorker = 250
	)

	type tagged struct {
		producer int
		seq      int
		visits   int
	}

	seen := make(map[[2]int]int)
	var seenMu sync.Mutex
	lastSeq := make([]int, producers)
	for i := range lastSeq {
		lastSeq[i] = -1
	}
	var outOfOrder atomic.Int64

	q, err := New(
		func(v *tagged) { v.visits++ },
		func(v *tagged) { v.visits++ },
		func(v *tagged) {
			seenMu.Lock()
			defer seenMu.Unlock()
			if v.visits != 2 {
				t.Errorf("element %d/%d reached last callback after %d visits", v.producer, v.seq, v.visits)
			}
			seen[[2]int{v.producer, v.seq}]++
			if v.seq <= lastSeq[v.producer] {
				outOfOrder.Add(1)
			}
			lastSeq[v.producer] = v.seq
		},
	)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for s := 0; s < perWorker; s++ {
				if err := q.Push(tagged{producer: p, seq: s}); err != nil {
					t.Errorf("push: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, q.Stop())

	assert.Len(t, seen, producers*perWorker)
	for key, n := range seen {
		assert.Equal(t, 1, n, "element %v processed %d times", key, n)
	}
	assert.Zero(t, outOfOrder.Load(), "per-producer order must be preserved")
	assert.Equal(t, uint64(producers*perWorker), q.Processed())
}

func TestQueue_PushAfterStopRejected(t *testing.T) {
	t.Parallel()

	rec := &recorder[int]{}
	q, err := New(rec.callback())
	require.NoError(t, err)

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Stop())

	assert.ErrorIs(t, q.Push(2), ErrStopped)
	assert.ErrorIs(t, q.PushAll(3, 4), ErrStopped)
	assert.ErrorIs(t, q.AddCallback(rec.callback()), ErrStopped)
	_, err = q.Pop()
	assert.ErrorIs(t, err, ErrStopped)

	assert.Equal(t, []int{1}, rec.snapshot())
}

func TestQueue_StopTwice(t *testing.T) {
	t.Parallel()

	q, err := New[int]()
	require.NoError(t, err)

	require.NoError(t, q.Stop())
	assert.ErrorIs(t, q.Stop(), ErrAlreadyStopped)
	assert.ErrorIs(t, q.Shutdown(context.Background()), ErrAlreadyStopped)
}

func TestQueue_ConcurrentStop(t *testing.T) {
	t.Parallel()

	q, err := New(func(v *int) { time.Sleep(time.Millisecond) })
	require.NoError(t, err)
	require.NoError(t, q.PushAll(1, 2, 3, 4, 5))

	var nilCount, alreadyCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := q.Stop(); err {
			case nil:
				nilCount.Add(1)
			case ErrAlreadyStopped:
				alreadyCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), nilCount.Load())
	assert.Equal(t, int64(3), alreadyCount.Load())
	assert.Equal(t, uint64(5), q.Processed())
}

// blockingQueue returns a queue whose worker is parked inside the callback for
// the first element until release is closed.
func blockingQueue(t *testing.T, rec *recorder[int]) (q *Queue[int], release chan struct{}) {
	t.Helper()

	entered := make(chan struct{})
	release = make(chan struct{})
	var once sync.Once

	q, err := New(func(v *int) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}, rec.callback())
	require.NoError(t, err)

	require.NoError(t, q.Push(1))
	<-entered
	return q, release
}

func TestQueue_PopSkipsElementInProgress(t *testing.T) {
	t.Parallel()

	rec := &recorder[int]{}
	q, release := blockingQueue(t, rec)

	require.NoError(t, q.PushAll(2, 3))
	assert.Equal(t, 3, q.Size())

	front, ok := q.Front()
	require.True(t, ok)
	assert.Equal(t, 1, front)
	back, ok := q.Back()
	require.True(t, ok)
	assert.Equal(t, 3, back)

	v, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, q.Size())

	close(release)
	require.NoError(t, q.Stop())
	assert.Equal(t, []int{1, 3}, rec.snapshot())
}

func TestQueue_PopEmpty(t *testing.T) {
	t.Parallel()

	rec := &recorder[int]{}
	q, release := blockingQueue(t, rec)

	_, err := q.Pop()
	assert.ErrorIs(t, err, ErrEmptyQueue)
	assert.Equal(t, 1, q.Size())

	close(release)
	require.NoError(t, q.Stop())

	_, ok := q.Front()
	assert.False(t, ok)
	_, ok = q.Back()
	assert.False(t, ok)
}

func TestQueue_ShutdownDeadline(t *testing.T) {
	t.Parallel()

	rec := &recorder[int]{}
	q, release := blockingQueue(t, rec)
	require.NoError(t, q.Push(2))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, q.Push(3), ErrStopped)

	close(release)
	assert.ErrorIs(t, q.Stop(), ErrAlreadyStopped)
	assert.Equal(t, []int{1, 2}, rec.snapshot())
}

func TestQueue_CallbackCanPushAndRegister(t *testing.T) {
	t.Parallel()

	rec := &recorder[int]{}
	done := make(chan struct{})

	var q *Queue[int]
	var err error
	q, err = New(func(v *int) {
		switch *v {
		case 1:
			assert.NoError(t, q.Push(2))
			assert.NoError(t, q.AddCallback(rec.callback()))
		case 2:
			close(done)
		}
	})
	require.NoError(t, err)

	require.NoError(t, q.Push(1))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("element pushed from a callback was not processed")
	}
	require.NoError(t, q.Stop())

	assert.Equal(t, []int{2}, rec.snapshot())
	assert.Equal(t, 2, q.TasksCount())
}

func TestQueue_CallbackRegisteredFromCallback(t *testing.T) {
	t.Parallel()

	late := &recorder[int]{}
	var q *Queue[int]
	var err error
	q, err = New(func(v *int) {
		if *v == 1 {
			assert.NoError(t, q.AddCallback(late.callback()))
		}
	})
	require.NoError(t, err)

	require.NoError(t, q.PushAll(1, 2, 3))
	require.NoError(t, q.Stop())

	assert.Equal(t, []int{2, 3}, late.snapshot())
}

func TestQueue_PanickingCallbackIsRecovered(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	reg := prometheus.NewRegistry()

	var panicked []int
	rec := &recorder[int]{}

	q, err := NewWithOptions(Options{
		Name:       "panics",
		Logger:     zap.New(core),
		Registerer: reg,
		OnPanic: func(element uuid.UUID, callback int, recovered any) {
			assert.NotEqual(t, uuid.Nil, element)
			assert.Equal(t, "boom", recovered)
			panicked = append(panicked, callback)
		},
	},
		func(v *int) {
			if *v%2 == 0 {
				panic("boom")
			}
		},
		rec.callback(),
	)
	require.NoError(t, err)

	require.NoError(t, q.PushAll(1, 2, 3, 4))
	require.NoError(t, q.Stop())

	assert.Equal(t, []int{1, 2, 3, 4}, rec.snapshot(), "later callbacks still run after a panic")
	assert.Equal(t, []int{0, 0}, panicked)

	entries := logs.FilterMessage("callback panicked").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "panics", entries[0].ContextMap()["queue"])
	assert.Equal(t, int64(0), entries[0].ContextMap()["callback"])

	assert.Equal(t, 1, logs.FilterMessage("worker stopped").Len())
}

func TestQueue_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	q, err := NewWithOptions[int](Options{Name: "metrics", Registerer: reg}, func(v *int) {})
	require.NoError(t, err)

	require.NoError(t, q.PushAll(1, 2, 3))
	require.NoError(t, q.Stop())
	require.ErrorIs(t, q.Push(4), ErrStopped)

	expected := `
# HELP procq_elements_processed_total Elements that completed a full callback pass.
# TYPE procq_elements_processed_total counter
procq_elements_processed_total{queue="metrics"} 3
# HELP procq_elements_pushed_total Elements accepted by Push.
# TYPE procq_elements_pushed_total counter
procq_elements_pushed_total{queue="metrics"} 3
# HELP procq_elements_rejected_total Elements refused because the queue was stopping.
# TYPE procq_elements_rejected_total counter
procq_elements_rejected_total{queue="metrics"} 1
# HELP procq_queue_depth Elements currently queued, including the one being processed.
# TYPE procq_queue_depth gauge
procq_queue_depth{queue="metrics"} 0
# HELP procq_callbacks_registered Callbacks installed on the queue.
# TYPE procq_callbacks_registered gauge
procq_callbacks_registered{queue="metrics"} 1
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"procq_elements_processed_total",
		"procq_elements_pushed_total",
		"procq_elements_rejected_total",
		"procq_queue_depth",
		"procq_callbacks_registered",
	)
	assert.NoError(t, err)
}

func TestQueue_SameNameSharesMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	a, err := NewWithOptions[int](Options{Name: "shared", Registerer: reg})
	require.NoError(t, err)
	b, err := NewWithOptions[int](Options{Name: "shared", Registerer: reg})
	require.NoError(t, err)

	require.NoError(t, a.Push(1))
	require.NoError(t, b.Push(2))
	require.NoError(t, a.Stop())
	require.NoError(t, b.Stop())

	count, err := testutil.GatherAndCount(reg, "procq_elements_pushed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQueue_Name(t *testing.T) {
	t.Parallel()

	q, err := New[int]()
	require.NoError(t, err)
	assert.Equal(t, "default", q.Name())
	require.NoError(t, q.Stop())
}
