package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the deterministic part of a CaseResult: everything but
// elapsed time and identity hashes.
type TraceSnapshot struct {
	Name    string   `json:"name"`
	Outcome string   `json:"outcome"`
	Trace   []string `json:"trace"`
	Errors  []string `json:"errors,omitempty"`
}

// Snapshot returns the golden-comparable form of r.
func (r *CaseResult) Snapshot() TraceSnapshot {
	return TraceSnapshot{
		Name:    r.Name,
		Outcome: r.Outcome,
		Trace:   r.Strings(),
		Errors:  r.Errors,
	}
}

// AssertGolden compares a case result's trace against a golden file.
// The golden file is stored in testdata/golden/{name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, name string, result *CaseResult) error {
	t.Helper()

	data, err := json.MarshalIndent(result.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

// AssertReportGolden compares the snapshots of every case in report
// against one golden file.
func AssertReportGolden(t *testing.T, name string, report *Report) error {
	t.Helper()

	snaps := make([]TraceSnapshot, len(report.Results))
	for i := range report.Results {
		snaps[i] = report.Results[i].Snapshot()
	}
	data, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
