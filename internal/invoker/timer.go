package invoker

import "time"

// Clock is the time source for elapsed-time measurement.
// Tests substitute a deterministic implementation.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock (with its monotonic reading).
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// ExecutionTimer accumulates the time spent in timed operations.
//
// The total only ever grows; a clock that goes backwards contributes zero.
// Not safe for concurrent use: a timer belongs to exactly one run.
type ExecutionTimer struct {
	clock Clock
	total time.Duration
}

// NewExecutionTimer creates a timer reading from clock.
// A nil clock falls back to SystemClock.
func NewExecutionTimer(clock Clock) *ExecutionTimer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ExecutionTimer{clock: clock}
}

// AggregateErr times fn, adds its duration and returns fn's error.
// The duration is recorded even if fn panics.
func (t *ExecutionTimer) AggregateErr(fn func() error) error {
	start := t.clock.Now()
	defer t.add(start)
	return fn()
}

func (t *ExecutionTimer) add(start time.Time) {
	if d := t.clock.Now().Sub(start); d > 0 {
		t.total += d
	}
}

// Total returns the accumulated duration.
func (t *ExecutionTimer) Total() time.Duration {
	return t.total
}
