package invoker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Request is one test to run.
type Request struct {
	Identity Identity

	// ConstructorArgs are passed to the test class factory.
	ConstructorArgs []any

	// MethodArgs are passed to the test method.
	MethodArgs []any

	// Hooks run around the test method, in declared order.
	Hooks []Hook
}

// Invoker runs tests one at a time per call to Run.
//
// Thread-safety model:
//   - New/options: configure once
//   - Run: safe from any number of goroutines; each call is independent
type Invoker struct {
	bus         MessageBus
	factory     InstanceFactory
	adapters    *AdapterRegistry
	status      StatusReporter
	interceptor CallInterceptor
	clock       Clock
	logger      *slog.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithFactory replaces the default ReflectFactory.
func WithFactory(f InstanceFactory) Option {
	return func(inv *Invoker) {
		inv.factory = f
	}
}

// WithAdapters replaces the default foreign async conventions.
func WithAdapters(r *AdapterRegistry) Option {
	return func(inv *Invoker) {
		inv.adapters = r
	}
}

// WithStatusReporter observes phase changes.
func WithStatusReporter(s StatusReporter) Option {
	return func(inv *Invoker) {
		inv.status = s
	}
}

// WithCallInterceptor installs code that runs directly around the method call.
func WithCallInterceptor(c CallInterceptor) Option {
	return func(inv *Invoker) {
		inv.interceptor = c
	}
}

// WithClock replaces the clock used for elapsed-time measurement.
func WithClock(c Clock) Option {
	return func(inv *Invoker) {
		inv.clock = c
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(inv *Invoker) {
		inv.logger = l
	}
}

// New creates an Invoker that publishes lifecycle messages to bus.
// A nil bus discards messages.
func New(bus MessageBus, opts ...Option) *Invoker {
	if bus == nil {
		bus = DiscardBus{}
	}
	inv := &Invoker{
		bus:      bus,
		factory:  ReflectFactory{},
		adapters: DefaultAdapters(),
		clock:    SystemClock{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// run is the mutable state of one Run call. Nothing in it is shared.
type run struct {
	inv      *Invoker
	id       Identity
	req      Request
	agg      *Aggregator
	cancel   *CancellationSignal
	timer    *ExecutionTimer
	hooks    *hookRunner
	logger   *slog.Logger
	instance any
}

// Run executes req and returns the total elapsed time.
//
// Failures are recorded in agg, never returned; the caller decides pass or
// fail from agg afterwards. cancel may be shared with other runs; a nil
// cancel gets a private signal.
//
// Execution flow:
//  1. Report initializing
//  2. Construct the instance (unless static or agg already failed)
//  3. Before hooks
//  4. InitializeAsync
//  5. Dispatch the method
//  6. DisposeAsync, Dispose (with dispose messages)
//  7. After hooks
//
// Steps 6 and 7 always run once steps 1-5 have started, whatever failed.
func (inv *Invoker) Run(ctx context.Context, req Request, agg *Aggregator, cancel *CancellationSignal) time.Duration {
	if agg == nil {
		agg = NewAggregator()
	}
	if cancel == nil {
		cancel = NewCancellationSignal()
	}
	r := &run{
		inv:    inv,
		id:     req.Identity,
		req:    req,
		agg:    agg,
		cancel: cancel,
		timer:  NewExecutionTimer(inv.clock),
		hooks:  newHookRunner(req.Hooks),
		logger: inv.logger.With("test_id", req.Identity.Ref.TestID),
	}

	if cancel.IsCancellationRequested() {
		r.logger.Debug("run skipped: cancellation already requested", "test", r.id.DisplayName)
		return 0
	}

	agg.Run(func() error { return r.setUp(ctx) })

	// Cleanup must survive a cancelled caller context.
	cleanupCtx := context.WithoutCancel(ctx)
	agg.Run(func() error {
		r.dispose(cleanupCtx)
		return nil
	})
	agg.Run(func() error {
		r.hooks.after(r)
		return nil
	})

	r.logger.Debug("run finished",
		"test", r.id.DisplayName,
		"elapsed", r.timer.Total(),
		"failed", agg.HasFailures(),
	)
	return r.timer.Total()
}

// setUp covers everything up to and including the method call. A returned
// error is recorded by the caller's aggregation.
func (r *run) setUp(ctx context.Context) error {
	r.reportStatus(Status{Phase: PhaseInitializing})

	method := r.id.Method
	if method == nil {
		return fmt.Errorf("test %q has no method", r.id.DisplayName)
	}

	if !method.Static && !r.agg.HasFailures() {
		r.construct(ctx)
	}
	if r.cancel.IsCancellationRequested() {
		return nil
	}

	if !r.agg.HasFailures() {
		r.hooks.before(r)
	}
	if r.cancel.IsCancellationRequested() || r.agg.HasFailures() {
		return nil
	}

	if init, ok := r.instance.(Initializer); ok {
		err := r.timer.AggregateErr(func() error {
			return Capture(func() error { return init.InitializeAsync(ctx) })
		})
		if err != nil {
			return err
		}
	}

	if r.cancel.IsCancellationRequested() || r.agg.HasFailures() {
		return nil
	}
	r.running(ctx)
	return nil
}

// construct creates the test class instance. Failures are recorded, and the
// instance stays nil. A rejected starting message skips construction.
func (r *run) construct(ctx context.Context) {
	if !r.publish(ClassConstructionStarting{r.id.Ref}) {
		return
	}

	var instance any
	err := r.timer.AggregateErr(func() error {
		return Capture(func() error {
			var err error
			instance, err = r.inv.factory.CreateInstance(ctx, r.id.Class, r.req.ConstructorArgs)
			return err
		})
	})
	switch {
	case err != nil:
		r.agg.Add(err)
		r.logger.Warn("test class construction failed", "test", r.id.DisplayName, "error", err)
	case instance == nil:
		r.agg.Add(ErrNilInstance)
	default:
		r.instance = instance
	}

	r.publish(ClassConstructionFinished{r.id.Ref})
}

// running wraps the method call with the call interceptor and status reports.
func (r *run) running(ctx context.Context) {
	if ic := r.inv.interceptor; ic != nil {
		r.agg.Run(func() error { return ic.BeforeCall(ctx, r.id, r.instance) })
	}

	if !r.agg.HasFailures() {
		r.reportStatus(Status{Phase: PhaseRunning})
		r.logger.Debug("invoking test method", "test", r.id.DisplayName, "method", r.id.Method.Name)
		r.invokeTestMethod(ctx)
		r.reportStatus(Status{
			Phase:   PhaseCleaningUp,
			Elapsed: r.timer.Total(),
			Err:     r.agg.ToError(),
		})
	}

	if ic := r.inv.interceptor; ic != nil {
		r.agg.Run(func() error { return ic.AfterCall(ctx, r.id, r.instance) })
	}
}

// dispose runs DisposeAsync then Dispose. Dispose messages are only sent
// when the instance has at least one of the two capabilities.
func (r *run) dispose(ctx context.Context) {
	if r.instance == nil {
		return
	}
	asyncDisposer, isAsync := r.instance.(AsyncDisposer)
	disposer, isSync := r.instance.(Disposer)
	if !isAsync && !isSync {
		return
	}

	r.publish(ClassDisposeStarting{r.id.Ref})

	if isAsync {
		r.agg.Add(r.timer.AggregateErr(func() error {
			return Capture(func() error { return asyncDisposer.DisposeAsync(ctx) })
		}))
	}
	if isSync {
		r.agg.Add(r.timer.AggregateErr(func() error {
			return Capture(disposer.Dispose)
		}))
	}

	r.publish(ClassDisposeFinished{r.id.Ref})
}

// publish delivers msg and requests cancellation when the bus rejects it.
// A panicking bus counts as a rejection.
func (r *run) publish(msg Message) bool {
	ok := false
	if err := Capture(func() error {
		ok = r.inv.bus.Publish(msg)
		return nil
	}); err != nil {
		r.logger.Error("message bus panicked", "kind", msg.Kind(), "error", err)
	}
	if !ok {
		r.logger.Debug("message rejected, requesting cancellation", "kind", msg.Kind())
		r.cancel.RequestCancel()
	}
	return ok
}

func (r *run) reportStatus(s Status) {
	if r.inv.status == nil {
		return
	}
	if err := Capture(func() error {
		r.inv.status.ReportStatus(r.id, s)
		return nil
	}); err != nil {
		r.logger.Error("status reporter panicked", "phase", s.Phase, "error", err)
	}
}
