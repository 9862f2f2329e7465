package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Trace    []string // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, event)
	}

	return buf.String()
}

// assertTraceContains checks that the event appears in the trace.
func assertTraceContains(trace []string, a Assertion) error {
	for _, event := range trace {
		if event == a.Event {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.Event,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that events appear in the specified order.
// Events don't need to be consecutive.
func assertTraceOrder(trace []string, a Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(a.Events) && event == a.Events[next] {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}

	actual := fmt.Sprintf("missing %s after %v", a.Events[next], a.Events[:next])
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("events in order: %v", a.Events),
		Actual:   actual,
		Trace:    trace,
	}
}

// assertTraceCount checks that the event appears exactly Count times.
func assertTraceCount(trace []string, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFailureContains checks that some captured failure mentions Text.
func assertFailureContains(failures []string, trace []string, a Assertion) error {
	for _, f := range failures {
		if strings.Contains(f, a.Text) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertFailureContains,
		Expected: fmt.Sprintf("a failure containing %q", a.Text),
		Actual:   fmt.Sprintf("failures: %q", failures),
		Trace:    trace,
	}
}

// EvaluateExpect checks result against expect and records every mismatch
// on the result. A nil expect means the test must pass.
func EvaluateExpect(result *CaseResult, expect *Expect) {
	if result.Outcome == OutcomeSkipped {
		result.addMismatch("case was skipped after cancellation")
		return
	}

	want := OutcomePass
	if expect != nil && expect.Outcome != "" {
		want = expect.Outcome
	}
	if result.Outcome != want {
		msg := fmt.Sprintf("expected outcome %s, got %s", want, result.Outcome)
		if len(result.Errors) > 0 {
			msg += ": " + strings.Join(result.Errors, "; ")
		}
		result.addMismatch(msg)
	}
	if expect == nil {
		return
	}

	if expect.Failures != nil && *expect.Failures != len(result.Errors) {
		result.addMismatch(fmt.Sprintf("expected %d failure(s), got %d", *expect.Failures, len(result.Errors)))
	}

	trace := result.Strings()
	for _, a := range expect.Assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(trace, a)
		case AssertTraceCount:
			err = assertTraceCount(trace, a)
		case AssertFailureContains:
			err = assertFailureContains(result.Errors, trace, a)
		default:
			err = fmt.Errorf("unknown assertion type: %s", a.Type)
		}
		if err != nil {
			result.addMismatch(err.Error())
		}
	}
}
