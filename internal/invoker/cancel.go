package invoker

import (
	"context"
	"sync"
)

// CancellationSignal is a set-once flag shared by every run scheduled
// together. Once requested it never resets.
//
// The zero value is ready to use. Thread-safety: all methods are safe for
// concurrent use.
type CancellationSignal struct {
	once sync.Once
	mu   sync.Mutex
	done chan struct{}
}

// NewCancellationSignal creates an unset signal.
func NewCancellationSignal() *CancellationSignal {
	return &CancellationSignal{}
}

func (c *CancellationSignal) channel() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done
}

// RequestCancel sets the signal. Calling it more than once is a no-op.
func (c *CancellationSignal) RequestCancel() {
	ch := c.channel()
	c.once.Do(func() { close(ch) })
}

// IsCancellationRequested polls the signal without blocking.
func (c *CancellationSignal) IsCancellationRequested() bool {
	select {
	case <-c.channel():
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once cancellation is requested.
func (c *CancellationSignal) Done() <-chan struct{} {
	return c.channel()
}

// Context derives a context from parent that is cancelled when the signal
// is set. Callers must call the returned cancel function to release it.
func (c *CancellationSignal) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := c.channel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
