package invoker

import (
	"context"
	"sync"
)

// AsyncVoidScope tracks the fire-and-forget work posted by an async void
// test method. The invoker creates one scope per such call and hands it to
// the method through its context; the method posts work with Go.
//
// Thread-safety: all methods are safe for concurrent use.
type AsyncVoidScope struct {
	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool
	faults  *Aggregator
}

// NewAsyncVoidScope creates an open scope with no pending operations.
func NewAsyncVoidScope() *AsyncVoidScope {
	s := &AsyncVoidScope{faults: NewAggregator()}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Go posts fn as an operation of the scope and runs it on a new goroutine.
// An error returned or a panic raised by fn is captured by the scope.
// Posting to a closed scope runs nothing and returns ErrScopeClosed.
func (s *AsyncVoidScope) Go(fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrScopeClosed
	}
	s.pending++
	s.mu.Unlock()

	go func() {
		defer s.complete()
		s.faults.Add(Capture(fn))
	}()
	return nil
}

func (s *AsyncVoidScope) complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	if s.pending == 0 {
		s.idle.Broadcast()
	}
}

// Pending returns the number of operations still running.
func (s *AsyncVoidScope) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Wait blocks until no operation is pending and returns the captured
// failures. Operations posted by running operations extend the wait.
func (s *AsyncVoidScope) Wait() error {
	s.mu.Lock()
	for s.pending > 0 {
		s.idle.Wait()
	}
	s.mu.Unlock()
	return s.faults.ToError()
}

// Close rejects further posts. Operations already running are unaffected.
func (s *AsyncVoidScope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

type scopeKey struct{}

// WithAsyncVoidScope returns a context carrying s.
func WithAsyncVoidScope(ctx context.Context, s *AsyncVoidScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// AsyncVoidFrom returns the scope carried by ctx.
func AsyncVoidFrom(ctx context.Context) (*AsyncVoidScope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*AsyncVoidScope)
	return s, ok && s != nil
}

// Go posts fn to the async void scope carried by ctx.
//
// Async void test methods use it in place of a bare go statement so that the
// invoker waits for fn and records its failure:
//
//	func (t *UploadTests) TestFireAndForget(ctx context.Context) {
//	    invoker.Go(ctx, func() error {
//	        return t.client.Upload(ctx, payload)
//	    })
//	}
func Go(ctx context.Context, fn func() error) error {
	s, ok := AsyncVoidFrom(ctx)
	if !ok {
		return ErrNoAsyncScope
	}
	return s.Go(fn)
}
