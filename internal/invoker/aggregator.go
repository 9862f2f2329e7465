package invoker

import (
	"context"
	"sync"
)

// Aggregator collects failures from the phases of a test run instead of
// failing fast. Work run through Run or RunAsync never propagates an error
// or a panic to the caller; it is recorded and the caller carries on.
//
// Thread-safety: all methods are safe for concurrent use.
type Aggregator struct {
	mu   sync.Mutex
	errs []error
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add records err. Nil errors are ignored. An *AggregateError is flattened
// so that ToError never nests composites.
func (a *Aggregator) Add(err error) {
	if err == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if agg, ok := err.(*AggregateError); ok {
		a.errs = append(a.errs, agg.Errors...)
		return
	}
	a.errs = append(a.errs, err)
}

// Run executes fn and records its error or panic.
func (a *Aggregator) Run(fn func() error) {
	a.Add(Capture(fn))
}

// RunAsync executes a context-aware operation and records its error or panic.
// The call blocks until fn returns.
func (a *Aggregator) RunAsync(ctx context.Context, fn func(context.Context) error) {
	a.Add(Capture(func() error { return fn(ctx) }))
}

// HasFailures reports whether anything has been recorded.
func (a *Aggregator) HasFailures() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.errs) > 0
}

// Errors returns a copy of the recorded failures in capture order.
func (a *Aggregator) Errors() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]error, len(a.errs))
	copy(out, a.errs)
	return out
}

// Clear drops every recorded failure.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = nil
}

// ToError materializes the recorded failures: nil when empty, the failure
// itself when there is exactly one, and an *AggregateError otherwise.
func (a *Aggregator) ToError() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch len(a.errs) {
	case 0:
		return nil
	case 1:
		return a.errs[0]
	default:
		errs := make([]error, len(a.errs))
		copy(errs, a.errs)
		return &AggregateError{Errors: errs}
	}
}

// Capture runs fn and converts a panic into a *PanicError.
func Capture(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return fn()
}
