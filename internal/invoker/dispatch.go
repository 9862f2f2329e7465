package invoker

import (
	"context"
	"reflect"
)

// invokeTestMethod validates arity, calls the method and waits for it to
// complete under whichever convention its results use. Every failure is
// recorded in the run's aggregator.
func (r *run) invokeTestMethod(ctx context.Context) {
	method := r.id.Method
	target := method.Name
	if r.id.Class != nil {
		target = r.id.Class.Name + "." + method.Name
	}

	sig, err := newSignature(target, method.Func, !method.Static)
	if err != nil {
		r.agg.Add(err)
		return
	}
	if sig.arity() != len(r.req.MethodArgs) {
		r.agg.Add(&ArityError{Target: target, Expected: sig.arity(), Actual: len(r.req.MethodArgs)})
		return
	}

	callCtx, stop := r.cancel.Context(ctx)
	defer stop()

	var scope *AsyncVoidScope
	if method.AsyncVoid && sig.returnsNothing() {
		scope = NewAsyncVoidScope()
		defer scope.Close()
		callCtx = WithAsyncVoidScope(callCtx, scope)
	}

	err = r.timer.AggregateErr(func() error {
		out, err := sig.call(callCtx, r.instance, r.req.MethodArgs)
		if err != nil {
			// The synchronous part failed; work it already posted still
			// runs and must not outlive the method.
			if scope != nil {
				r.agg.Add(err)
				return scope.Wait()
			}
			return err
		}
		return r.await(callCtx, out, scope)
	})
	if err != nil {
		r.logger.Warn("test method failed", "test", r.id.DisplayName, "error", err)
	}
	r.agg.Add(err)
}

// await waits for the method's completion: a recognized awaitable first,
// then the async void scope.
func (r *run) await(ctx context.Context, out []reflect.Value, scope *AsyncVoidScope) error {
	awaitable, err := r.inv.adapters.Normalize(ctx, out)
	if err != nil {
		return err
	}
	if awaitable != nil {
		return Capture(awaitable.Await)
	}
	if scope != nil {
		return scope.Wait()
	}
	return nil
}
