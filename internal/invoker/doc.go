// Package invoker runs exactly one test to completion.
//
// An Invoker drives a single test through a fixed lifecycle and reports every
// phase to a MessageBus:
//
//  1. Initializing status is reported.
//  2. The test class is constructed (skipped for static methods).
//  3. Before hooks run in declared order; the first failure stops the phase.
//  4. The instance's InitializeAsync runs, if it implements Initializer.
//  5. The test method is dispatched and its completion awaited.
//  6. The instance is disposed (DisposeAsync, then Dispose).
//  7. After hooks run in reverse order of the before hooks that succeeded.
//
// Failures never escape Run. Every error and recovered panic lands in the
// caller's Aggregator, and Run always returns the total elapsed time.
//
// # Completion conventions
//
// A test method may complete in several ways:
//
//   - Synchronously, returning nothing, a value, or an error.
//   - By returning a started *Task (the primary async wrapper).
//   - By returning a chan error / <-chan error (the lightweight wrapper).
//   - By returning a value from a foreign async package registered in an
//     AdapterRegistry; *errgroup.Group is registered by default.
//   - Fire-and-forget: a method marked AsyncVoid posts work with Go(ctx, fn)
//     and the invoker waits for all posted work before moving on.
//
// # Cancellation
//
// Cancellation is cooperative. A MessageBus that returns false from Publish
// sets the shared CancellationSignal; no new phase starts afterward, but an
// in-flight await finishes and cleanup (disposal, after hooks) always runs.
//
// # Concurrency
//
// An Invoker is immutable after New and safe for concurrent use. Each call to
// Run owns its instance, hook stack, timer and aggregator; only the bus and
// the cancellation signal are shared between runs.
package invoker
