package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/testinvoke/internal/invoker"
)

// Run is one journaled plan execution.
type Run struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MessageRecord is a journaled lifecycle message.
type MessageRecord struct {
	Seq      int64               `json:"seq"`
	Kind     invoker.MessageKind `json:"kind"`
	TestID   string              `json:"test_id"`
	ClassID  string              `json:"class_id"`
	MethodID string              `json:"method_id"`
	Hook     string              `json:"hook,omitempty"`
	Accepted bool                `json:"accepted"`
}

// ListRuns returns every run, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label FROM runs ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Label); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recently begun run's ID, or ErrNoRuns.
func (s *Store) LatestRun(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY id COLLATE BINARY DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRuns
	}
	if err != nil {
		return "", fmt.Errorf("query latest run: %w", err)
	}
	return id, nil
}

// ReadMessages returns the messages of runID in publish order.
// Returns an empty slice (not nil) if the run has none.
func (s *Store) ReadMessages(ctx context.Context, runID string) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, test_id, class_id, method_id, hook, accepted
		FROM messages
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	records := []MessageRecord{}
	for rows.Next() {
		var (
			rec  MessageRecord
			kind string
		)
		if err := rows.Scan(&rec.Seq, &kind, &rec.TestID, &rec.ClassID, &rec.MethodID, &rec.Hook, &rec.Accepted); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		rec.Kind = invoker.MessageKind(kind)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return records, nil
}

// ReadOutcomes returns the outcomes of runID in the order they were recorded.
func (s *Store) ReadOutcomes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, test_id, display_name, passed, elapsed, failures
		FROM outcomes
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []Outcome{}
	for rows.Next() {
		var (
			o            Outcome
			seconds      float64
			failuresJSON string
		)
		if err := rows.Scan(&o.Seq, &o.TestID, &o.DisplayName, &o.Passed, &seconds, &failuresJSON); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Elapsed = time.Duration(seconds * float64(time.Second))
		if err := json.Unmarshal([]byte(failuresJSON), &o.Failures); err != nil {
			return nil, fmt.Errorf("unmarshal failures for %s: %w", o.TestID, err)
		}
		if len(o.Failures) == 0 {
			o.Failures = nil
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}
