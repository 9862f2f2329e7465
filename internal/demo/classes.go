// Package demo holds sample test classes that exercise every completion
// convention the invoker understands. The CLI runs plans against Registry.
package demo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/testinvoke/internal/invoker"
)

// Calculator is a plain synchronous test class.
type Calculator struct{}

// Add fails unless a+b == want.
func (Calculator) Add(a, b, want int) error {
	if got := a + b; got != want {
		return fmt.Errorf("%d + %d = %d, want %d", a, b, got, want)
	}
	return nil
}

// Divide panics with a runtime error when b is zero.
func (Calculator) Divide(a, b int) int {
	return a / b
}

// Sum accepts any number of operands.
func (Calculator) Sum(want int, operands ...int) error {
	total := 0
	for _, n := range operands {
		total += n
	}
	if total != want {
		return fmt.Errorf("sum = %d, want %d", total, want)
	}
	return nil
}

// AsyncTests covers the asynchronous conventions.
type AsyncTests struct {
	delay time.Duration
}

// NewAsyncTests is the constructor used by the registry.
func NewAsyncTests(delayMillis int) *AsyncTests {
	return &AsyncTests{delay: time.Duration(delayMillis) * time.Millisecond}
}

// Delayed returns a started task that succeeds after the configured delay.
func (a *AsyncTests) Delayed(ctx context.Context) *invoker.Task {
	return invoker.StartTask(ctx, func(ctx context.Context) error {
		select {
		case <-time.After(a.delay):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Channel completes through an error channel.
func (a *AsyncTests) Channel(fail bool) <-chan error {
	ch := make(chan error, 1)
	go func() {
		time.Sleep(a.delay)
		if fail {
			ch <- errors.New("channel reported failure")
		}
		close(ch)
	}()
	return ch
}

// Group fans out n checks on an errgroup; the k-th one fails when k == failAt.
func (a *AsyncTests) Group(n, failAt int) *errgroup.Group {
	g := new(errgroup.Group)
	for k := 0; k < n; k++ {
		g.Go(func() error {
			time.Sleep(a.delay)
			if k == failAt {
				return fmt.Errorf("check %d failed", k)
			}
			return nil
		})
	}
	return g
}

// FireAndForget posts work to the async void scope and returns at once.
// The posted work fails when fail is set.
func (a *AsyncTests) FireAndForget(ctx context.Context, fail bool) {
	_ = invoker.Go(ctx, func() error {
		time.Sleep(a.delay)
		if fail {
			return errors.New("posted work failed")
		}
		return nil
	})
}

// Forgotten returns a task nobody started.
func (a *AsyncTests) Forgotten() *invoker.Task {
	return invoker.NewTask(func(context.Context) error { return nil })
}

// Connection is a fake resource with full setup and teardown.
type Connection struct {
	opened atomic.Bool
	closed atomic.Bool
	failOn string
}

// NewConnection is the registry constructor. failOn names a lifecycle step
// ("initialize", "dispose") that should fail.
func NewConnection(failOn string) *Connection {
	return &Connection{failOn: failOn}
}

// InitializeAsync implements invoker.Initializer.
func (c *Connection) InitializeAsync(context.Context) error {
	if c.failOn == "initialize" {
		return errors.New("connection refused")
	}
	c.opened.Store(true)
	return nil
}

// DisposeAsync implements invoker.AsyncDisposer.
func (c *Connection) DisposeAsync(context.Context) error {
	if c.failOn == "dispose" {
		return errors.New("connection did not close cleanly")
	}
	return nil
}

// Dispose implements invoker.Disposer.
func (c *Connection) Dispose() error {
	c.closed.Store(true)
	return nil
}

// Query fails unless the connection was initialized.
func (c *Connection) Query() error {
	if !c.opened.Load() {
		return errors.New("query on unopened connection")
	}
	return nil
}

// Ping is a static check that needs no instance.
func Ping() error { return nil }
