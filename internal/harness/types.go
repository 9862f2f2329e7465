package harness

import (
	"time"

	"github.com/roach88/testinvoke/internal/invoker"
)

// TraceEvent is one lifecycle message as observed by a case.
type TraceEvent struct {
	Seq  int64               `json:"seq"`
	Kind invoker.MessageKind `json:"kind"`
	Hook string              `json:"hook,omitempty"`
}

// String renders the event as "kind" or "kind(hook)", the form assertions use.
func (e TraceEvent) String() string {
	if e.Hook == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + "(" + e.Hook + ")"
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	Name   string `json:"name"`
	TestID string `json:"test_id"`

	// Outcome is pass, fail or skipped (cancelled before it started).
	Outcome string `json:"outcome"`

	// Pass is true when the case met its expectations. A case expected to
	// fail passes when it fails.
	Pass bool `json:"pass"`

	Elapsed time.Duration `json:"elapsed"`

	// Errors holds the captured failures in capture order.
	Errors []string `json:"errors,omitempty"`

	// Mismatches holds unmet expectations. Empty when Pass is true.
	Mismatches []string `json:"mismatches,omitempty"`

	Trace []TraceEvent `json:"trace"`
}

// Strings returns the trace in assertion form.
func (r *CaseResult) Strings() []string {
	out := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		out[i] = e.String()
	}
	return out
}

// addMismatch records an unmet expectation and marks the result as failed.
func (r *CaseResult) addMismatch(msg string) {
	r.Mismatches = append(r.Mismatches, msg)
	r.Pass = false
}

// Report is the outcome of a whole plan.
type Report struct {
	Plan    string       `json:"plan"`
	RunID   string       `json:"run_id,omitempty"`
	Results []CaseResult `json:"results"`
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Skipped int          `json:"skipped"`
}

// Pass reports whether every case met its expectations.
func (r *Report) Pass() bool {
	return r.Failed == 0 && r.Skipped == 0
}

// tally recomputes the counters from Results.
func (r *Report) tally() {
	r.Passed, r.Failed, r.Skipped = 0, 0, 0
	for _, res := range r.Results {
		switch {
		case res.Outcome == OutcomeSkipped:
			r.Skipped++
		case res.Pass:
			r.Passed++
		default:
			r.Failed++
		}
	}
}
