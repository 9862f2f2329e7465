package invoker_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/testinvoke/internal/invoker"
	"github.com/roach88/testinvoke/internal/testutil"
)

var (
	errMethod  = errors.New("method failed")
	errBefore  = errors.New("before failed")
	errLate    = errors.New("failed after returning")
	errDispose = errors.New("dispose failed")
)

// lifecycleFixture implements every optional capability and logs each call.
type lifecycleFixture struct {
	log             *testutil.Log
	initErr         error
	disposeAsyncErr error
	disposeErr      error
}

func (f *lifecycleFixture) InitializeAsync(context.Context) error {
	f.log.Add("initialize")
	return f.initErr
}

func (f *lifecycleFixture) DisposeAsync(context.Context) error {
	f.log.Add("dispose-async")
	return f.disposeAsyncErr
}

func (f *lifecycleFixture) Dispose() error {
	f.log.Add("dispose")
	return f.disposeErr
}

func (f *lifecycleFixture) TestPass() {
	f.log.Add("method")
}

func (f *lifecycleFixture) TestFail() error {
	f.log.Add("method")
	return errMethod
}

// plainFixture has no optional capabilities.
type plainFixture struct {
	log *testutil.Log
}

func (f *plainFixture) Add(a, b int) error {
	f.log.Add(fmt.Sprintf("add(%d,%d)", a, b))
	if a+b != 3 {
		return fmt.Errorf("%d+%d != 3", a, b)
	}
	return nil
}

func (f *plainFixture) FireAndForget(ctx context.Context) {
	f.log.Add("method")
	_ = invoker.Go(ctx, func() error {
		time.Sleep(10 * time.Millisecond)
		f.log.Add("posted")
		return errLate
	})
}

func (f *plainFixture) FireAndPanic(ctx context.Context) {
	_ = invoker.Go(ctx, func() error {
		f.log.Add("posted")
		return nil
	})
	panic("synchronous part blew up")
}

func (f *plainFixture) ReturnsChannel() <-chan error {
	ch := make(chan error, 1)
	go func() {
		f.log.Add("channel")
		ch <- errLate
	}()
	return ch
}

func (f *plainFixture) ReturnsGroup() *errgroup.Group {
	g := new(errgroup.Group)
	g.Go(func() error {
		f.log.Add("group")
		return nil
	})
	return g
}

func (f *plainFixture) ReturnsUnstarted() *invoker.Task {
	return invoker.NewTask(func(context.Context) error { return nil })
}

// disposeOnly implements only Dispose.
type disposeOnly struct{ log *testutil.Log }

func (d *disposeOnly) Dispose() error {
	d.log.Add("dispose")
	return nil
}

func (d *disposeOnly) Test() { d.log.Add("method") }

type fixture struct {
	log    *testutil.Log
	bus    *testutil.RecordingBus
	agg    *invoker.Aggregator
	cancel *invoker.CancellationSignal
}

func newFixture() *fixture {
	log := testutil.NewLog()
	return &fixture{
		log:    log,
		bus:    testutil.NewRecordingBus().WithLog(log),
		agg:    invoker.NewAggregator(),
		cancel: invoker.NewCancellationSignal(),
	}
}

func (f *fixture) lifecycleClass(fx *lifecycleFixture) *invoker.TestClass {
	fx.log = f.log
	return invoker.NewTestClass("LifecycleTests", func() *lifecycleFixture {
		f.log.Add("construct")
		return fx
	})
}

func (f *fixture) plainClass() *invoker.TestClass {
	return invoker.NewTestClass("PlainTests", func() *plainFixture {
		return &plainFixture{log: f.log}
	})
}

func (f *fixture) run(t *testing.T, req invoker.Request, opts ...invoker.Option) time.Duration {
	t.Helper()
	return invoker.New(f.bus, opts...).Run(context.Background(), req, f.agg, f.cancel)
}

func request(class *invoker.TestClass, method *invoker.TestMethod, hooks ...invoker.Hook) invoker.Request {
	return invoker.Request{
		Identity: invoker.NewIdentity("asm", "col", class, method, "", 0),
		Hooks:    hooks,
	}
}

func TestRun_FullLifecycleOrder(t *testing.T) {
	f := newFixture()
	a := testutil.NewRecordingHook("A", f.log)
	b := testutil.NewRecordingHook("B", f.log)
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	elapsed := f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method, a, b))

	require.NoError(t, f.agg.ToError())
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	assert.Equal(t, []string{
		"class-construction-starting",
		"construct",
		"class-construction-finished",
		"before-hook-starting(A)",
		"before:A",
		"before-hook-finished(A)",
		"before-hook-starting(B)",
		"before:B",
		"before-hook-finished(B)",
		"initialize",
		"method",
		"class-dispose-starting",
		"dispose-async",
		"dispose",
		"class-dispose-finished",
		"after-hook-starting(B)",
		"after:B",
		"after-hook-finished(B)",
		"after-hook-starting(A)",
		"after:A",
		"after-hook-finished(A)",
	}, f.log.Entries())
	assert.False(t, f.cancel.IsCancellationRequested())
}

func TestRun_FullLifecycleGolden(t *testing.T) {
	f := newFixture()
	a := testutil.NewRecordingHook("A", f.log)
	b := testutil.NewRecordingHook("B", f.log)
	method := &invoker.TestMethod{Name: "TestFail", Func: (*lifecycleFixture).TestFail}

	f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method, a, b))

	require.ErrorIs(t, f.agg.ToError(), errMethod)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "lifecycle_failing_method", []byte(strings.Join(f.log.Entries(), "\n")+"\n"))
}

func TestRun_FailingBeforeHookStopsLaterHooks(t *testing.T) {
	f := newFixture()
	a := testutil.NewRecordingHook("A", f.log)
	b := testutil.NewRecordingHook("B", f.log)
	b.BeforeErr = errBefore
	c := testutil.NewRecordingHook("C", f.log)
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method, a, b, c))

	assert.Same(t, errBefore, f.agg.ToError())
	entries := f.log.Entries()
	assert.Contains(t, entries, "before:A")
	assert.Contains(t, entries, "before:B")
	assert.Contains(t, entries, "before-hook-finished(B)", "a failing hook still gets its finished message")
	assert.NotContains(t, entries, "before:C")
	assert.NotContains(t, entries, "initialize")
	assert.NotContains(t, entries, "method")
	assert.Contains(t, entries, "dispose")
	assert.Equal(t, []string{"after:A"}, filterPrefix(entries, "after:"))
}

func TestRun_PanickingBeforeHookIsCaptured(t *testing.T) {
	f := newFixture()
	a := testutil.NewRecordingHook("A", f.log)
	a.PanicBefore = "hook exploded"
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method, a))

	assert.True(t, invoker.IsPanic(f.agg.ToError()))
	assert.Empty(t, filterPrefix(f.log.Entries(), "after:"))
	assert.NotContains(t, f.log.Entries(), "method")
}

func TestRun_AfterHookFailuresDoNotStopSiblings(t *testing.T) {
	f := newFixture()
	errA := errors.New("after A")
	errC := errors.New("after C")
	a := testutil.NewRecordingHook("A", f.log)
	a.AfterErr = errA
	b := testutil.NewRecordingHook("B", f.log)
	c := testutil.NewRecordingHook("C", f.log)
	c.AfterErr = errC
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method, a, b, c))

	assert.Equal(t, []string{"after:C", "after:B", "after:A"}, filterPrefix(f.log.Entries(), "after:"))
	assert.Equal(t, []error{errC, errA}, f.agg.Errors())
}

func TestRun_HookOrderingProperty(t *testing.T) {
	for n := 0; n <= 5; n++ {
		for failAt := -1; failAt < n; failAt++ {
			t.Run(fmt.Sprintf("hooks=%d/fail=%d", n, failAt), func(t *testing.T) {
				f := newFixture()
				var hooks []invoker.Hook
				for i := 0; i < n; i++ {
					h := testutil.NewRecordingHook(fmt.Sprintf("H%d", i), f.log)
					if i == failAt {
						h.BeforeErr = errBefore
					}
					hooks = append(hooks, h)
				}
				method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

				f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method, hooks...))

				entries := f.log.Entries()
				befores := filterPrefix(entries, "before:")
				afters := filterPrefix(entries, "after:")

				var succeeded []string
				for i, name := range befores {
					if i != failAt {
						succeeded = append(succeeded, strings.TrimPrefix(name, "before:"))
					}
				}
				var afterNames []string
				for _, name := range afters {
					afterNames = append(afterNames, strings.TrimPrefix(name, "after:"))
				}
				assert.Equal(t, reversed(succeeded), afterNames)

				if failAt >= 0 {
					assert.Len(t, befores, failAt+1, "no hook after the failing one runs")
					assert.NotContains(t, entries, "method")
				} else {
					assert.Len(t, befores, n)
					assert.Contains(t, entries, "method")
				}
			})
		}
	}
}

func TestRun_ConstructorFailureSkipsHooksAndMethod(t *testing.T) {
	f := newFixture()
	boom := errors.New("constructor failed")
	class := invoker.NewTestClass("Broken", func() (*lifecycleFixture, error) {
		return nil, boom
	})
	a := testutil.NewRecordingHook("A", f.log)
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	f.run(t, request(class, method, a))

	assert.Same(t, boom, f.agg.ToError())
	assert.Equal(t, []string{"class-construction-starting", "class-construction-finished"}, f.log.Entries())
}

func TestRun_ConstructorPanicIsCaptured(t *testing.T) {
	f := newFixture()
	class := invoker.NewTestClass("Panicky", func() *lifecycleFixture { panic("ctor") })
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	f.run(t, request(class, method))

	assert.True(t, invoker.IsPanic(f.agg.ToError()))
	assert.Equal(t, 0, f.bus.Count(invoker.KindClassDisposeStarting))
}

func TestRun_CustomFactoryCreatesInstance(t *testing.T) {
	f := newFixture()
	fx := &plainFixture{log: f.log}
	var gotClass string
	var gotArgs []any
	factory := invoker.FactoryFunc(func(_ context.Context, class *invoker.TestClass, args []any) (any, error) {
		gotClass = class.Name
		gotArgs = args
		f.log.Add("factory")
		return fx, nil
	})
	method := &invoker.TestMethod{Name: "Add", Func: (*plainFixture).Add}
	req := request(invoker.ClassOf[plainFixture]("PlainTests"), method)
	req.ConstructorArgs = []any{"fixture-data"}
	req.MethodArgs = []any{1, 2}

	f.run(t, req, invoker.WithFactory(factory))

	require.NoError(t, f.agg.ToError())
	assert.Equal(t, "PlainTests", gotClass)
	assert.Equal(t, []any{"fixture-data"}, gotArgs)
	assert.Equal(t, []string{
		"class-construction-starting",
		"factory",
		"class-construction-finished",
		"add(1,2)",
	}, f.log.Entries())
}

func TestRun_CustomFactoryFailureIsRecorded(t *testing.T) {
	f := newFixture()
	boom := errors.New("no instance for you")
	factory := invoker.FactoryFunc(func(context.Context, *invoker.TestClass, []any) (any, error) {
		return nil, boom
	})
	method := &invoker.TestMethod{Name: "Add", Func: (*plainFixture).Add}
	req := request(invoker.ClassOf[plainFixture]("PlainTests"), method)
	req.MethodArgs = []any{1, 2}

	f.run(t, req, invoker.WithFactory(factory))

	assert.Same(t, boom, f.agg.ToError())
	assert.Equal(t, []string{"class-construction-starting", "class-construction-finished"}, f.log.Entries())
}

func TestRun_NilInstanceIsAFailure(t *testing.T) {
	f := newFixture()
	class := invoker.NewTestClass("Nil", func() *lifecycleFixture { return nil })
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	f.run(t, request(class, method))

	assert.ErrorIs(t, f.agg.ToError(), invoker.ErrNilInstance)
	assert.NotContains(t, f.log.Entries(), "method")
}

func TestRun_StaticMethodSkipsConstruction(t *testing.T) {
	f := newFixture()
	a := testutil.NewRecordingHook("A", f.log)
	method := &invoker.TestMethod{
		Name:   "Static",
		Static: true,
		Func:   func() { f.log.Add("static") },
	}

	f.run(t, request(invoker.ClassOf[plainFixture]("PlainTests"), method, a))

	require.NoError(t, f.agg.ToError())
	assert.Equal(t, []string{
		"before-hook-starting(A)",
		"before:A",
		"before-hook-finished(A)",
		"static",
		"after-hook-starting(A)",
		"after:A",
		"after-hook-finished(A)",
	}, f.log.Entries())
}

func TestRun_PreexistingFailureSkipsEverything(t *testing.T) {
	f := newFixture()
	prior := errors.New("fixture setup failed")
	f.agg.Add(prior)
	a := testutil.NewRecordingHook("A", f.log)
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	elapsed := f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method, a))

	assert.Empty(t, f.log.Entries())
	assert.Same(t, prior, f.agg.ToError())
	assert.Equal(t, time.Duration(0), elapsed)
}

func TestRun_ArityMismatchRecordsOneFailure(t *testing.T) {
	f := newFixture()
	method := &invoker.TestMethod{Name: "Add", Func: (*plainFixture).Add}
	req := request(f.plainClass(), method)
	req.MethodArgs = []any{1}

	f.run(t, req)

	errs := f.agg.Errors()
	require.Len(t, errs, 1)
	assert.True(t, invoker.IsArityMismatch(errs[0]))
	assert.Contains(t, errs[0].Error(), "PlainTests.Add: expected 2 parameter value(s), but 1 parameter value(s) were provided")
	assert.Empty(t, filterPrefix(f.log.Entries(), "add("), "method must not be called")
}

func TestRun_MethodArgumentsArePassed(t *testing.T) {
	f := newFixture()
	method := &invoker.TestMethod{Name: "Add", Func: (*plainFixture).Add}
	req := request(f.plainClass(), method)
	req.MethodArgs = []any{1, 2}

	f.run(t, req)

	require.NoError(t, f.agg.ToError())
	assert.Equal(t, []string{"add(1,2)"}, f.log.Entries())
}

func TestRun_SynchronousErrorIsRecorded(t *testing.T) {
	f := newFixture()
	method := &invoker.TestMethod{Name: "Add", Func: (*plainFixture).Add}
	req := request(f.plainClass(), method)
	req.MethodArgs = []any{2, 2}

	f.run(t, req)

	assert.EqualError(t, f.agg.ToError(), "2+2 != 3")
}

func TestRun_CompletedTaskMeasuresAwait(t *testing.T) {
	f := newFixture()
	clock := testutil.NewDeterministicClock(0)
	method := &invoker.TestMethod{
		Name:   "Async",
		Static: true,
		Func: func(ctx context.Context) *invoker.Task {
			return invoker.StartTask(ctx, func(context.Context) error {
				clock.Advance(2 * time.Second)
				return nil
			})
		},
	}

	elapsed := f.run(t, request(invoker.ClassOf[plainFixture]("PlainTests"), method), invoker.WithClock(clock))

	assert.NoError(t, f.agg.ToError())
	assert.Equal(t, 2*time.Second, elapsed)
}

func TestRun_ElapsedSumsEveryTimedPhase(t *testing.T) {
	f := newFixture()
	clock := testutil.NewDeterministicClock(time.Millisecond)
	a := testutil.NewRecordingHook("A", f.log)
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	elapsed := f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method, a), invoker.WithClock(clock))

	// construct, before A, initialize, method, dispose async, dispose, after A
	assert.Equal(t, 7*time.Millisecond, elapsed)
}

func TestRun_UnstartedTaskFailsInsteadOfHanging(t *testing.T) {
	f := newFixture()
	method := &invoker.TestMethod{Name: "ReturnsUnstarted", Func: (*plainFixture).ReturnsUnstarted}

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.run(t, request(f.plainClass(), method))
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run hung on an unstarted task")
	}
	assert.ErrorIs(t, f.agg.ToError(), invoker.ErrTaskNotStarted)
}

func TestRun_ChannelCompletion(t *testing.T) {
	f := newFixture()
	method := &invoker.TestMethod{Name: "ReturnsChannel", Func: (*plainFixture).ReturnsChannel}

	f.run(t, request(f.plainClass(), method))

	assert.Same(t, errLate, f.agg.ToError())
	assert.Equal(t, []string{"channel"}, f.log.Entries())
}

func TestRun_ErrgroupCompletion(t *testing.T) {
	f := newFixture()
	method := &invoker.TestMethod{Name: "ReturnsGroup", Func: (*plainFixture).ReturnsGroup}

	f.run(t, request(f.plainClass(), method))

	assert.NoError(t, f.agg.ToError())
	assert.Equal(t, []string{"group"}, f.log.Entries())
}

func TestRun_AsyncVoidFaultAppearsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	method := &invoker.TestMethod{
		Name:      "FireAndForget",
		Func:      (*plainFixture).FireAndForget,
		AsyncVoid: true,
	}

	f.run(t, request(f.plainClass(), method))

	assert.Equal(t, []error{errLate}, f.agg.Errors())
	assert.Equal(t, []string{"method", "posted"}, f.log.Entries(), "posted work finishes before the run returns")
}

func TestRun_AsyncVoidWaitsEvenWhenSyncPartPanics(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture()
	method := &invoker.TestMethod{
		Name:      "FireAndPanic",
		Func:      (*plainFixture).FireAndPanic,
		AsyncVoid: true,
	}

	f.run(t, request(f.plainClass(), method))

	errs := f.agg.Errors()
	require.Len(t, errs, 1)
	assert.True(t, invoker.IsPanic(errs[0]))
	assert.Equal(t, []string{"posted"}, f.log.Entries())
}

func TestRun_NotAsyncVoidHasNoScope(t *testing.T) {
	f := newFixture()
	var postErr error
	method := &invoker.TestMethod{
		Name:   "Plain",
		Static: true,
		Func: func(ctx context.Context) {
			postErr = invoker.Go(ctx, func() error { return nil })
		},
	}

	f.run(t, request(invoker.ClassOf[plainFixture]("PlainTests"), method))

	assert.ErrorIs(t, postErr, invoker.ErrNoAsyncScope)
}

func TestRun_RejectedConstructionStartCancels(t *testing.T) {
	f := newFixture()
	f.bus.RejectKind(invoker.KindClassConstructionStarting)
	a := testutil.NewRecordingHook("A", f.log)
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method, a))

	assert.True(t, f.cancel.IsCancellationRequested())
	assert.Equal(t, []string{"class-construction-starting"}, f.log.Entries())
	assert.NoError(t, f.agg.ToError(), "backpressure is not a failure")
}

func TestRun_RejectedConstructionFinishStillDisposes(t *testing.T) {
	f := newFixture()
	f.bus.RejectKind(invoker.KindClassConstructionFinished)
	a := testutil.NewRecordingHook("A", f.log)
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method, a))

	assert.True(t, f.cancel.IsCancellationRequested())
	assert.Equal(t, []string{
		"class-construction-starting",
		"construct",
		"class-construction-finished",
		"class-dispose-starting",
		"dispose-async",
		"dispose",
		"class-dispose-finished",
	}, f.log.Entries())
}

func TestRun_RejectedHookStartSkipsThatHook(t *testing.T) {
	f := newFixture()
	f.bus.RejectHook(invoker.KindBeforeHookStarting, "B")
	a := testutil.NewRecordingHook("A", f.log)
	b := testutil.NewRecordingHook("B", f.log)
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method, a, b))

	entries := f.log.Entries()
	assert.True(t, f.cancel.IsCancellationRequested())
	assert.NotContains(t, entries, "before:B")
	assert.NotContains(t, entries, "method")
	assert.Equal(t, []string{"after:A"}, filterPrefix(entries, "after:"))
}

func TestRun_RejectedFinishStopsBeforePhase(t *testing.T) {
	f := newFixture()
	f.bus.RejectHook(invoker.KindBeforeHookFinished, "A")
	a := testutil.NewRecordingHook("A", f.log)
	b := testutil.NewRecordingHook("B", f.log)
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method, a, b))

	entries := f.log.Entries()
	assert.Contains(t, entries, "before:A")
	assert.NotContains(t, entries, "before-hook-starting(B)")
	assert.NotContains(t, entries, "method")
	assert.Equal(t, []string{"after:A"}, filterPrefix(entries, "after:"))
}

func TestRun_RejectedAfterHookStillRunsEveryAfter(t *testing.T) {
	f := newFixture()
	f.bus.RejectKind(invoker.KindAfterHookStarting)
	a := testutil.NewRecordingHook("A", f.log)
	b := testutil.NewRecordingHook("B", f.log)
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method, a, b))

	assert.True(t, f.cancel.IsCancellationRequested())
	assert.Equal(t, []string{"after:B", "after:A"}, filterPrefix(f.log.Entries(), "after:"))
}

func TestRun_InFlightAwaitCompletesAfterCancellation(t *testing.T) {
	f := newFixture()
	a := testutil.NewRecordingHook("A", f.log)
	var finished atomic.Bool
	method := &invoker.TestMethod{
		Name:   "Slow",
		Static: true,
		Func: func(ctx context.Context) *invoker.Task {
			return invoker.StartTask(ctx, func(context.Context) error {
				f.cancel.RequestCancel()
				time.Sleep(20 * time.Millisecond)
				finished.Store(true)
				f.log.Add("finished")
				return nil
			})
		},
	}

	f.run(t, request(invoker.ClassOf[plainFixture]("PlainTests"), method, a))

	assert.True(t, finished.Load())
	assert.True(t, f.cancel.IsCancellationRequested())
	assert.Equal(t, []string{"finished", "after:A"}, filterPrefix2(f.log.Entries(), "finished", "after:"))
}

func TestRun_AlreadyCancelledDoesNothing(t *testing.T) {
	f := newFixture()
	f.cancel.RequestCancel()
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	elapsed := f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method))

	assert.Equal(t, time.Duration(0), elapsed)
	assert.Empty(t, f.log.Entries())
	assert.Empty(t, f.bus.Messages())
}

func TestRun_BothDisposersRunOnceWithOnePairOfMessages(t *testing.T) {
	f := newFixture()
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	f.run(t, request(f.lifecycleClass(&lifecycleFixture{}), method))

	entries := f.log.Entries()
	assert.Equal(t, 1, f.bus.Count(invoker.KindClassDisposeStarting))
	assert.Equal(t, 1, f.bus.Count(invoker.KindClassDisposeFinished))
	assert.Equal(t, []string{"class-dispose-starting", "dispose-async", "dispose", "class-dispose-finished"},
		entries[len(entries)-4:])
}

func TestRun_AsyncDisposeFailureStillDisposesSync(t *testing.T) {
	f := newFixture()
	a := testutil.NewRecordingHook("A", f.log)
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}
	fx := &lifecycleFixture{disposeAsyncErr: errDispose}

	f.run(t, request(f.lifecycleClass(fx), method, a))

	assert.Same(t, errDispose, f.agg.ToError())
	assert.Contains(t, f.log.Entries(), "dispose")
	assert.Contains(t, f.log.Entries(), "after:A")
}

func TestRun_SyncDisposeOnly(t *testing.T) {
	f := newFixture()
	class := invoker.NewTestClass("DisposeOnly", func() *disposeOnly { return &disposeOnly{log: f.log} })
	method := &invoker.TestMethod{Name: "Test", Func: (*disposeOnly).Test}

	f.run(t, request(class, method))

	require.NoError(t, f.agg.ToError())
	assert.Equal(t, []string{
		"class-construction-starting",
		"class-construction-finished",
		"method",
		"class-dispose-starting",
		"dispose",
		"class-dispose-finished",
	}, f.log.Entries())
}

func TestRun_NoDisposerNoDisposeMessages(t *testing.T) {
	f := newFixture()
	method := &invoker.TestMethod{Name: "Add", Func: (*plainFixture).Add}
	req := request(f.plainClass(), method)
	req.MethodArgs = []any{1, 2}

	f.run(t, req)

	assert.Equal(t, 0, f.bus.Count(invoker.KindClassDisposeStarting))
	assert.Equal(t, 0, f.bus.Count(invoker.KindClassDisposeFinished))
}

func TestRun_InitializeFailureIsFatalButCleansUp(t *testing.T) {
	f := newFixture()
	boom := errors.New("initialize failed")
	a := testutil.NewRecordingHook("A", f.log)
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}

	f.run(t, request(f.lifecycleClass(&lifecycleFixture{initErr: boom}), method, a))

	assert.Same(t, boom, f.agg.ToError())
	entries := f.log.Entries()
	assert.NotContains(t, entries, "method")
	assert.Contains(t, entries, "dispose")
	assert.Contains(t, entries, "after:A")
}

func TestRun_FailuresAreAggregatedInCaptureOrder(t *testing.T) {
	f := newFixture()
	errAfter := errors.New("after failed")
	a := testutil.NewRecordingHook("A", f.log)
	a.AfterErr = errAfter
	method := &invoker.TestMethod{Name: "TestFail", Func: (*lifecycleFixture).TestFail}
	fx := &lifecycleFixture{disposeErr: errDispose}

	f.run(t, request(f.lifecycleClass(fx), method, a))

	var composite *invoker.AggregateError
	require.ErrorAs(t, f.agg.ToError(), &composite)
	assert.Equal(t, []error{errMethod, errDispose, errAfter}, composite.Errors)
}

func TestRun_StatusBroadcasts(t *testing.T) {
	f := newFixture()
	var statuses []invoker.Status
	var ids []string
	reporter := invoker.StatusFunc(func(id invoker.Identity, st invoker.Status) {
		ids = append(ids, id.DisplayName)
		statuses = append(statuses, st)
	})
	clock := testutil.NewDeterministicClock(time.Millisecond)
	method := &invoker.TestMethod{Name: "TestFail", Func: (*lifecycleFixture).TestFail}
	req := request(f.lifecycleClass(&lifecycleFixture{}), method)

	f.run(t, req, invoker.WithStatusReporter(reporter), invoker.WithClock(clock))

	require.Len(t, statuses, 3)
	assert.Equal(t, []string{req.Identity.DisplayName, req.Identity.DisplayName, req.Identity.DisplayName}, ids)
	assert.Equal(t, invoker.PhaseInitializing, statuses[0].Phase)
	assert.Equal(t, invoker.PhaseRunning, statuses[1].Phase)
	cleaning := statuses[2]
	assert.Equal(t, invoker.PhaseCleaningUp, cleaning.Phase)
	assert.Equal(t, 3*time.Millisecond, cleaning.Elapsed, "construct, initialize and method were timed")
	assert.Same(t, errMethod, cleaning.Err)
}

type interceptor struct {
	log       *testutil.Log
	beforeErr error
}

func (i *interceptor) BeforeCall(context.Context, invoker.Identity, any) error {
	i.log.Add("before-call")
	return i.beforeErr
}

func (i *interceptor) AfterCall(context.Context, invoker.Identity, any) error {
	i.log.Add("after-call")
	return nil
}

func TestRun_CallInterceptorWrapsMethod(t *testing.T) {
	f := newFixture()
	ic := &interceptor{log: f.log}
	method := &invoker.TestMethod{Name: "Add", Func: (*plainFixture).Add}
	req := request(f.plainClass(), method)
	req.MethodArgs = []any{1, 2}

	f.run(t, req, invoker.WithCallInterceptor(ic))

	assert.Equal(t, []string{"before-call", "add(1,2)", "after-call"}, f.log.Entries())
}

func TestRun_CallInterceptorFailureSkipsMethod(t *testing.T) {
	f := newFixture()
	boom := errors.New("interceptor refused")
	ic := &interceptor{log: f.log, beforeErr: boom}
	method := &invoker.TestMethod{Name: "Add", Func: (*plainFixture).Add}
	req := request(f.plainClass(), method)
	req.MethodArgs = []any{1, 2}

	f.run(t, req, invoker.WithCallInterceptor(ic))

	assert.Same(t, boom, f.agg.ToError())
	assert.Equal(t, []string{"before-call", "after-call"}, f.log.Entries())
}

func TestRun_PanickingBusCancelsButDoesNotEscape(t *testing.T) {
	agg := invoker.NewAggregator()
	cancel := invoker.NewCancellationSignal()
	bus := invoker.MessageBusFunc(func(invoker.Message) bool { panic("sink down") })
	method := &invoker.TestMethod{Name: "Static", Static: true, Func: func() {}}
	hook := testutil.NewRecordingHook("A", testutil.NewLog())

	assert.NotPanics(t, func() {
		invoker.New(bus).Run(context.Background(), request(invoker.ClassOf[plainFixture]("P"), method, hook), agg, cancel)
	})
	assert.True(t, cancel.IsCancellationRequested())
}

func TestRun_MissingMethodIsAFailure(t *testing.T) {
	f := newFixture()
	req := invoker.Request{Identity: invoker.Identity{DisplayName: "nothing"}}

	f.run(t, req)

	assert.ErrorContains(t, f.agg.ToError(), "has no method")
}

func TestRun_MessagesCarryTestRef(t *testing.T) {
	f := newFixture()
	a := testutil.NewRecordingHook("A", f.log)
	method := &invoker.TestMethod{Name: "TestPass", Func: (*lifecycleFixture).TestPass}
	req := request(f.lifecycleClass(&lifecycleFixture{}), method, a)

	f.run(t, req)

	msgs := f.bus.Messages()
	require.NotEmpty(t, msgs)
	for _, m := range msgs {
		assert.Equal(t, req.Identity.Ref, m.Ref())
	}
}

func TestRun_ConcurrentRunsShareBusAndSignal(t *testing.T) {
	bus := testutil.NewRecordingBus()
	cancel := invoker.NewCancellationSignal()
	inv := invoker.New(bus)
	const runs = 32

	var wg sync.WaitGroup
	aggs := make([]*invoker.Aggregator, runs)
	for i := 0; i < runs; i++ {
		aggs[i] = invoker.NewAggregator()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			log := testutil.NewLog()
			class := invoker.NewTestClass("Plain", func() *plainFixture { return &plainFixture{log: log} })
			method := &invoker.TestMethod{Name: "Add", Func: (*plainFixture).Add}
			req := invoker.Request{
				Identity:   invoker.NewIdentity("asm", "col", class, method, "", i),
				MethodArgs: []any{1, 2},
				Hooks:      []invoker.Hook{testutil.NewRecordingHook("H", log)},
			}
			inv.Run(context.Background(), req, aggs[i], cancel)
		}(i)
	}
	wg.Wait()

	for _, agg := range aggs {
		assert.NoError(t, agg.ToError())
	}
	// construction pair + before pair + after pair per run
	assert.Len(t, bus.Messages(), runs*6)
}

func filterPrefix(entries []string, prefix string) []string {
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

func filterPrefix2(entries []string, prefixes ...string) []string {
	var out []string
	for _, e := range entries {
		for _, p := range prefixes {
			if strings.HasPrefix(e, p) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func reversed(in []string) []string {
	var out []string
	for i := len(in) - 1; i >= 0; i-- {
		out = append(out, in[i])
	}
	return out
}
