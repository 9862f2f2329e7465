// Package harness runs plans of test cases through the invoker.
//
// # Plan Format
//
// Plans are YAML or CUE files with the following structure:
//
//	name: calculator
//	description: "Arithmetic checks"
//	cases:
//	  - class: Calculator
//	    method: Add
//	    args: [1, 2, 3]
//	    hooks: [trace]
//	  - class: Calculator
//	    method: Divide
//	    args: [1, 0]
//	    expect:
//	      outcome: fail
//	      failures: 1
//	      assertions:
//	        - type: failure_contains
//	          text: "divide by zero"
//
// CUE plans are unified with the embedded #Plan schema before decoding, so
// the schema's constraints apply on top of the Go-side validation.
//
// # Assertion Types
//
//   - trace_contains: an event appears in the case's trace
//   - trace_order: events appear in order
//   - trace_count: an event appears exactly N times
//   - failure_contains: some captured failure contains a substring
//
// Events are written as "kind" or "kind(hook)", for example
// "before-hook-starting(trace)".
//
// # Concurrency
//
// Cases run through an errgroup bounded by WithParallel. All cases of one
// run share a cancellation signal: a rejected message or WithStopOnFailure
// stops cases that have not started, and they are reported as skipped.
package harness
