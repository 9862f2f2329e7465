package invoker

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// TestClass describes the type that holds a test method.
type TestClass struct {
	// Name is the display name of the class.
	Name string

	// Type is allocated with reflect.New when Constructor is nil.
	Type reflect.Type

	// Constructor optionally builds the instance from the constructor
	// arguments. It must be a func returning the instance, optionally
	// followed by an error.
	Constructor any
}

// ClassOf describes T; the default factory allocates a *T.
func ClassOf[T any](name string) *TestClass {
	return &TestClass{Name: name, Type: reflect.TypeFor[T]()}
}

// NewTestClass describes a class built by ctor.
func NewTestClass(name string, ctor any) *TestClass {
	return &TestClass{Name: name, Constructor: ctor}
}

// TestMethod describes the method under test.
//
// Func is a func value. For instance methods it is a method expression such
// as (*CalcTests).TestAdd, whose first parameter receives the instance. A
// context.Context parameter directly after the receiver (or first, for
// static methods) is supplied by the invoker and does not count toward the
// method's arity.
type TestMethod struct {
	Name string
	Func any

	// Static methods run without constructing the class.
	Static bool

	// AsyncVoid marks a fire-and-forget method: it returns nothing but
	// posts work through Go(ctx, fn), and the test is not finished until
	// all posted work is.
	AsyncVoid bool
}

// Hook runs around a test method. Hooks are the Go rendition of
// before/after attributes.
type Hook interface {
	Before(method *TestMethod) error
	After(method *TestMethod) error
}

// HookName returns the name reported for h in hook messages: h.Name() when
// h has such a method, otherwise its type name.
func HookName(h Hook) string {
	if n, ok := h.(interface{ Name() string }); ok {
		return n.Name()
	}
	t := reflect.TypeOf(h)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}

// Disposer is probed on the test class instance after the method runs.
type Disposer interface {
	Dispose() error
}

// AsyncDisposer is probed on the test class instance after the method runs.
// DisposeAsync runs before Dispose when an instance implements both.
type AsyncDisposer interface {
	DisposeAsync(ctx context.Context) error
}

// Initializer is probed on the test class instance after the before hooks.
// A failure prevents the test method from running.
type Initializer interface {
	InitializeAsync(ctx context.Context) error
}

// InstanceFactory creates test class instances.
type InstanceFactory interface {
	CreateInstance(ctx context.Context, class *TestClass, args []any) (any, error)
}

// FactoryFunc adapts a function to InstanceFactory.
type FactoryFunc func(ctx context.Context, class *TestClass, args []any) (any, error)

// CreateInstance calls f.
func (f FactoryFunc) CreateInstance(ctx context.Context, class *TestClass, args []any) (any, error) {
	return f(ctx, class, args)
}

// ReflectFactory is the default InstanceFactory. It calls the class
// Constructor with the supplied arguments, or allocates a zero *Type when
// there is no constructor and no arguments.
type ReflectFactory struct{}

// CreateInstance implements InstanceFactory.
func (ReflectFactory) CreateInstance(ctx context.Context, class *TestClass, args []any) (any, error) {
	if class == nil {
		return nil, fmt.Errorf("no test class")
	}
	if class.Constructor == nil {
		if len(args) > 0 {
			return nil, &ArityError{Target: "constructor of " + class.Name, Expected: 0, Actual: len(args)}
		}
		if class.Type == nil {
			return nil, fmt.Errorf("test class %s has neither a type nor a constructor", class.Name)
		}
		return reflect.New(class.Type).Interface(), nil
	}

	sig, err := newSignature("constructor of "+class.Name, class.Constructor, false)
	if err != nil {
		return nil, err
	}
	out, err := sig.call(ctx, nil, args)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("constructor of %s returns nothing", class.Name)
	}
	if errv := trailingError(out); errv != nil {
		return nil, errv
	}
	if isNilValue(out[0]) {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// Phase is the coarse state reported to a StatusReporter.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseRunning      Phase = "running"
	PhaseCleaningUp   Phase = "cleaning-up"
)

// Status is a snapshot of a run's progress.
type Status struct {
	Phase Phase

	// Elapsed and Err are set for PhaseCleaningUp.
	Elapsed time.Duration
	Err     error
}

// StatusReporter observes phase changes; used by test-introspection APIs.
type StatusReporter interface {
	ReportStatus(id Identity, status Status)
}

// StatusFunc adapts a function to StatusReporter.
type StatusFunc func(id Identity, status Status)

// ReportStatus calls f.
func (f StatusFunc) ReportStatus(id Identity, status Status) { f(id, status) }

// CallInterceptor runs immediately before and after the test method call.
// An error from BeforeCall is recorded and the method is not called.
type CallInterceptor interface {
	BeforeCall(ctx context.Context, id Identity, instance any) error
	AfterCall(ctx context.Context, id Identity, instance any) error
}
