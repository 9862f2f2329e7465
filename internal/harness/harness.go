package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/testinvoke/internal/invoker"
	"github.com/roach88/testinvoke/internal/store"
)

// Harness runs plans against a Registry.
//
// Thread-safety: a Harness may run several plans concurrently; each Run
// has its own cancellation signal.
type Harness struct {
	registry   *Registry
	parallel   int
	stopOnFail bool
	bus        invoker.MessageBus
	journal    *store.Store
	clock      invoker.Clock
	adapters   *invoker.AdapterRegistry
	logger     *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithParallel runs up to n cases at once. n < 1 means sequential.
func WithParallel(n int) Option {
	return func(h *Harness) {
		h.parallel = n
	}
}

// WithStopOnFailure requests cancellation of the remaining cases as soon as
// one case fails. Cases already running finish their cleanup.
func WithStopOnFailure() Option {
	return func(h *Harness) {
		h.stopOnFail = true
	}
}

// WithBus forwards every lifecycle message to bus. A bus that rejects a
// message cancels the whole run.
func WithBus(bus invoker.MessageBus) Option {
	return func(h *Harness) {
		h.bus = bus
	}
}

// WithJournal records messages and outcomes of each run in st.
func WithJournal(st *store.Store) Option {
	return func(h *Harness) {
		h.journal = st
	}
}

// WithClock replaces the clock used to time tests.
func WithClock(c invoker.Clock) Option {
	return func(h *Harness) {
		h.clock = c
	}
}

// WithLogger sets the logger for the harness and the invokers it creates.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// New creates a Harness for reg.
func New(reg *Registry, opts ...Option) *Harness {
	h := &Harness{
		registry: reg,
		parallel: 1,
		bus:      invoker.DiscardBus{},
		clock:    invoker.SystemClock{},
		adapters: invoker.DefaultAdapters(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs by default
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.parallel < 1 {
		h.parallel = 1
	}
	if h.bus == nil {
		h.bus = invoker.DiscardBus{}
	}
	return h
}

// Run executes every case of plan and returns the report.
//
// Execution flow:
//  1. Begin a journal run (if a journal is configured)
//  2. Run the cases, at most parallel at a time, sharing one cancellation signal
//  3. Evaluate each case's expectations
//  4. Record outcomes in the journal
//
// The error return is reserved for infrastructure failures (journal
// writes). Test failures are reported in the Report.
func (h *Harness) Run(ctx context.Context, plan *Plan) (*Report, error) {
	report := &Report{
		Plan:    plan.Name,
		Results: make([]CaseResult, len(plan.Cases)),
	}

	downstream := h.bus
	if h.journal != nil {
		runID, err := h.journal.BeginRun(ctx, plan.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to begin journal run: %w", err)
		}
		report.RunID = runID
		downstream = h.journal.Bus(runID, h.bus, store.WithBusLogger(h.logger))
	}

	cancel := invoker.NewCancellationSignal()
	logger := h.logger.With("plan", plan.Name)
	logger.Info("plan starting", "cases", len(plan.Cases), "parallel", h.parallel)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.parallel)
	for i := range plan.Cases {
		g.Go(func() error {
			res := h.runCase(gctx, plan, i, downstream, cancel, logger)
			report.Results[i] = res

			if h.journal != nil && res.Outcome != OutcomeSkipped {
				if err := h.journal.RecordOutcome(gctx, report.RunID, store.Outcome{
					TestID:      res.TestID,
					DisplayName: res.Name,
					Passed:      res.Outcome == OutcomePass,
					Elapsed:     res.Elapsed,
					Failures:    res.Errors,
				}); err != nil {
					return fmt.Errorf("record outcome of %s: %w", res.Name, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.tally()
	logger.Info("plan finished",
		"passed", report.Passed,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report, nil
}

// runCase resolves and runs one case. It never fails: resolution errors
// become a failed result.
func (h *Harness) runCase(
	ctx context.Context,
	plan *Plan,
	index int,
	downstream invoker.MessageBus,
	cancel *invoker.CancellationSignal,
	logger *slog.Logger,
) CaseResult {
	c := plan.Cases[index]
	res := CaseResult{Name: caseName(c), Pass: true, Trace: []TraceEvent{}}

	class, method, hooks, err := h.resolve(c)
	if err != nil {
		res.Outcome = OutcomeFail
		res.Errors = []string{err.Error()}
		EvaluateExpect(&res, c.Expect)
		return res
	}

	assembly := plan.Assembly
	if assembly == "" {
		assembly = plan.Name
	}
	collection := c.Collection
	if collection == "" {
		collection = c.Class
	}
	id := invoker.NewIdentity(assembly, collection, class, method, c.DisplayName, index)
	res.Name = id.DisplayName
	res.TestID = id.Ref.TestID

	if cancel.IsCancellationRequested() || ctx.Err() != nil {
		res.Outcome = OutcomeSkipped
		EvaluateExpect(&res, c.Expect)
		return res
	}

	trace := &traceBus{next: downstream}
	inv := invoker.New(trace,
		invoker.WithClock(h.clock),
		invoker.WithAdapters(h.adapters),
		invoker.WithLogger(logger),
	)
	agg := invoker.NewAggregator()
	res.Elapsed = inv.Run(ctx, invoker.Request{
		Identity:        id,
		ConstructorArgs: c.ConstructorArgs,
		MethodArgs:      c.Args,
		Hooks:           hooks,
	}, agg, cancel)

	res.Trace = trace.events()
	res.Outcome = OutcomePass
	for _, e := range agg.Errors() {
		res.Errors = append(res.Errors, e.Error())
		res.Outcome = OutcomeFail
	}
	EvaluateExpect(&res, c.Expect)

	if res.Outcome == OutcomeFail && h.stopOnFail {
		logger.Info("stopping after failure", "test", res.Name)
		cancel.RequestCancel()
	}
	logger.Debug("case finished", "test", res.Name, "outcome", res.Outcome, "pass", res.Pass)
	return res
}

// resolve looks up the class, method and fresh hook instances for c.
func (h *Harness) resolve(c Case) (*invoker.TestClass, *invoker.TestMethod, []invoker.Hook, error) {
	class, method, err := h.registry.Lookup(c.Class, c.Method)
	if err != nil {
		return nil, nil, nil, err
	}
	hooks := make([]invoker.Hook, 0, len(c.Hooks))
	for _, name := range c.Hooks {
		hook, err := h.registry.Hook(name)
		if err != nil {
			return nil, nil, nil, err
		}
		hooks = append(hooks, hook)
	}
	return class, method, hooks, nil
}

func caseName(c Case) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Class + "." + c.Method
}

// traceBus records the messages of one case and forwards them downstream.
// Its answer is the downstream answer.
type traceBus struct {
	next invoker.MessageBus

	mu    sync.Mutex
	trace []TraceEvent
}

// Publish implements invoker.MessageBus.
func (b *traceBus) Publish(msg invoker.Message) bool {
	b.mu.Lock()
	b.trace = append(b.trace, TraceEvent{
		Seq:  int64(len(b.trace) + 1),
		Kind: msg.Kind(),
		Hook: invoker.HookOf(msg),
	})
	b.mu.Unlock()
	return b.next.Publish(msg)
}

func (b *traceBus) events() []TraceEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TraceEvent, len(b.trace))
	copy(out, b.trace)
	return out
}
