package invoker

// hookRunner runs before hooks in declared order and after hooks in reverse
// order of the before hooks that succeeded.
//
// INVARIANT: ran holds a subsequence of hooks, in the order their Before
// succeeded. It is the only authority for which hooks get an After.
type hookRunner struct {
	hooks []Hook
	ran   []Hook
}

func newHookRunner(hooks []Hook) *hookRunner {
	cp := make([]Hook, len(hooks))
	copy(cp, hooks)
	return &hookRunner{hooks: cp}
}

// before runs Before on each hook until one fails or the run is cancelled.
// A hook whose starting message is rejected is not run.
func (h *hookRunner) before(r *run) {
	method := r.id.Method
	for _, hook := range h.hooks {
		name := HookName(hook)
		if !r.publish(NewHookMessage(KindBeforeHookStarting, r.id.Ref, name)) {
			break
		}

		err := r.timer.AggregateErr(func() error {
			return Capture(func() error { return hook.Before(method) })
		})
		if err == nil {
			h.ran = append(h.ran, hook)
		} else {
			r.agg.Add(err)
			r.logger.Warn("before hook failed", "test", r.id.DisplayName, "hook", name, "error", err)
		}

		r.publish(NewHookMessage(KindBeforeHookFinished, r.id.Ref, name))

		if err != nil || r.cancel.IsCancellationRequested() {
			break
		}
	}
}

// after pops every hook that ran and calls its After. A failing After never
// stops the remaining ones.
func (h *hookRunner) after(r *run) {
	method := r.id.Method
	for len(h.ran) > 0 {
		hook := h.ran[len(h.ran)-1]
		h.ran = h.ran[:len(h.ran)-1]
		name := HookName(hook)

		r.publish(NewHookMessage(KindAfterHookStarting, r.id.Ref, name))

		err := r.timer.AggregateErr(func() error {
			return Capture(func() error { return hook.After(method) })
		})
		if err != nil {
			r.agg.Add(err)
			r.logger.Warn("after hook failed", "test", r.id.DisplayName, "hook", name, "error", err)
		}

		r.publish(NewHookMessage(KindAfterHookFinished, r.id.Ref, name))
	}
}

