package invoker

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Awaitable is an in-flight operation the invoker can wait on.
type Awaitable interface {
	Await() error
}

// Task is the primary async wrapper a test method can return.
//
// A Task created with NewTask does nothing until Start is called; returning
// an unstarted Task from a test method is reported as ErrTaskNotStarted.
//
// Thread-safety: all methods are safe for concurrent use.
type Task struct {
	fn func(context.Context) error

	mu      sync.Mutex
	started bool
	done    chan struct{}
	err     error
}

// NewTask creates an unstarted task that will run fn.
func NewTask(fn func(context.Context) error) *Task {
	return &Task{fn: fn, done: make(chan struct{})}
}

// StartTask creates a task and starts it immediately.
func StartTask(ctx context.Context, fn func(context.Context) error) *Task {
	return NewTask(fn).Start(ctx)
}

// CompletedTask returns a task that has already finished with err.
func CompletedTask(err error) *Task {
	t := &Task{started: true, done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// Start runs the task's function on a new goroutine. Calling Start on a
// running or finished task is a no-op.
func (t *Task) Start(ctx context.Context) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return t
	}
	t.started = true
	go func() {
		err := Capture(func() error { return t.fn(ctx) })
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
	}()
	return t
}

// Started reports whether Start has been called.
func (t *Task) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Done returns a channel closed when the task finishes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Await blocks until the task finishes and returns its error.
// An unstarted task returns ErrTaskNotStarted immediately.
func (t *Task) Await() error {
	if !t.Started() {
		return ErrTaskNotStarted
	}
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// chanAwaitable is the lightweight wrapper: the first value received is the
// result, and a closed channel means success.
type chanAwaitable struct {
	ch <-chan error
}

func (c chanAwaitable) Await() error {
	if c.ch == nil {
		return fmt.Errorf("test method returned a nil error channel")
	}
	return <-c.ch
}

// Recognizer decides whether a concrete type belongs to a foreign async
// convention.
type Recognizer func(t reflect.Type) bool

// Adapter converts a recognized value into a started Task.
type Adapter func(ctx context.Context, v reflect.Value) *Task

// AdapterFactory resolves the Adapter for one concrete type. Its result is
// cached until the next Register.
type AdapterFactory func(t reflect.Type) (Adapter, error)

type adapterEntry struct {
	recognize Recognizer
	resolve   AdapterFactory
}

type resolved struct {
	adapter Adapter
	err     error
}

// AdapterRegistry recognizes foreign async values and converts them to
// Tasks. Resolution is cached per concrete reflect.Type.
//
// Thread-safety: safe for concurrent use.
type AdapterRegistry struct {
	mu      sync.RWMutex
	entries []adapterEntry
	cache   sync.Map // reflect.Type -> resolved
}

// NewAdapterRegistry returns an empty registry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{}
}

// DefaultAdapters returns a registry that knows golang.org/x/sync/errgroup.
func DefaultAdapters() *AdapterRegistry {
	r := NewAdapterRegistry()
	r.Register(PackageRecognizer("golang.org/x/sync/errgroup"), WaitMethodAdapter("Wait"))
	return r
}

// Register adds a convention. Earlier registrations win.
func (r *AdapterRegistry) Register(recognize Recognizer, resolve AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, adapterEntry{recognize: recognize, resolve: resolve})
	r.cache.Clear()
}

// lookup returns the adapter for t, or nil if no convention recognizes t.
func (r *AdapterRegistry) lookup(t reflect.Type) (Adapter, error) {
	if cached, ok := r.cache.Load(t); ok {
		res := cached.(resolved)
		return res.adapter, res.err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var res resolved
	for _, e := range r.entries {
		if e.recognize(t) {
			res.adapter, res.err = e.resolve(t)
			break
		}
	}
	// Register clears the cache under the write lock, so a result stored
	// here always reflects the current entries.
	actual, _ := r.cache.LoadOrStore(t, res)
	res = actual.(resolved)
	return res.adapter, res.err
}

// Normalize classifies the results of a test method call.
//
// It returns a nil Awaitable when the call is already complete, and an
// error when the call failed synchronously: a non-nil trailing error, an
// unstarted Task, or a foreign value whose adapter cannot be resolved.
func (r *AdapterRegistry) Normalize(ctx context.Context, out []reflect.Value) (Awaitable, error) {
	if err := trailingError(out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	v := out[0]
	if v.Type() == errorType || isNilValue(v) {
		return nil, nil
	}

	switch x := v.Interface().(type) {
	case *Task:
		if !x.Started() {
			return nil, ErrTaskNotStarted
		}
		return x, nil
	case <-chan error:
		return chanAwaitable{ch: x}, nil
	case chan error:
		return chanAwaitable{ch: x}, nil
	case Awaitable:
		return x, nil
	}

	if r == nil {
		return nil, nil
	}
	adapter, err := r.lookup(v.Type())
	if err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, nil
	}
	return adapter(ctx, v), nil
}

// PackageRecognizer matches types (or pointers to types) defined in pkgPath
// or one of its subpackages.
func PackageRecognizer(pkgPath string) Recognizer {
	return func(t reflect.Type) bool {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		p := t.PkgPath()
		return p == pkgPath || strings.HasPrefix(p, pkgPath+"/")
	}
}

// WaitMethodAdapter resolves a method named name with signature
// func() error and adapts values by starting a Task that calls it.
func WaitMethodAdapter(name string) AdapterFactory {
	return func(t reflect.Type) (Adapter, error) {
		m, ok := t.MethodByName(name)
		if !ok {
			return nil, fmt.Errorf("async type %s has no %s method", t, name)
		}
		mt := m.Type // includes the receiver
		if mt.NumIn() != 1 || mt.NumOut() != 1 || mt.Out(0) != errorType {
			return nil, fmt.Errorf("async type %s: %s must have signature func() error", t, name)
		}
		idx := m.Index
		return func(ctx context.Context, v reflect.Value) *Task {
			wait := v.Method(idx)
			return StartTask(ctx, func(context.Context) error {
				res := wait.Call(nil)
				if res[0].IsNil() {
					return nil
				}
				return res[0].Interface().(error)
			})
		}, nil
	}
}
