package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/testinvoke/internal/invoker"
)

// Outcome is the recorded result of one test.
type Outcome struct {
	Seq         int64         `json:"seq"`
	TestID      string        `json:"test_id"`
	DisplayName string        `json:"display_name"`
	Passed      bool          `json:"passed"`
	Elapsed     time.Duration `json:"elapsed"`
	Failures    []string      `json:"failures,omitempty"`
}

// Bus is an invoker.MessageBus that journals every message of one run and
// forwards it to the next bus. The next bus decides whether the run
// continues; a journal write failure also stops it.
type Bus struct {
	store  *Store
	runID  string
	next   invoker.MessageBus
	logger *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger used to report write failures.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = l
	}
}

// Bus returns a journaling bus for runID. A nil next accepts everything.
func (s *Store) Bus(runID string, next invoker.MessageBus, opts ...BusOption) *Bus {
	if next == nil {
		next = invoker.DiscardBus{}
	}
	b := &Bus{
		store:  s,
		runID:  runID,
		next:   next,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements invoker.MessageBus.
func (b *Bus) Publish(msg invoker.Message) bool {
	accepted := b.next.Publish(msg)
	if err := b.store.writeMessage(context.Background(), b.runID, msg, accepted); err != nil {
		b.logger.Error("journal write failed", "run_id", b.runID, "kind", msg.Kind(), "error", err)
		return false
	}
	return accepted
}

func (s *Store) writeMessage(ctx context.Context, runID string, msg invoker.Message, accepted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.nextSeq(ctx, runID)
	if err != nil {
		return err
	}
	ref := msg.Ref()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages
		(run_id, seq, kind, test_id, class_id, method_id, hook, accepted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		seq,
		string(msg.Kind()),
		ref.TestID,
		ref.ClassID,
		ref.MethodID,
		invoker.HookOf(msg),
		accepted,
	)
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	s.claimSeq(runID, seq)
	return nil
}

// RecordOutcome stores the result of one test. Recording the same test
// twice in a run replaces the earlier outcome.
func (s *Store) RecordOutcome(ctx context.Context, runID string, o Outcome) error {
	failures := o.Failures
	if failures == nil {
		failures = []string{}
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.nextSeq(ctx, runID)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outcomes
		(run_id, seq, test_id, display_name, passed, elapsed, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, test_id) DO UPDATE SET
			seq = excluded.seq,
			display_name = excluded.display_name,
			passed = excluded.passed,
			elapsed = excluded.elapsed,
			failures = excluded.failures
	`,
		runID,
		seq,
		o.TestID,
		o.DisplayName,
		o.Passed,
		o.Elapsed.Seconds(),
		string(failuresJSON),
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	s.claimSeq(runID, seq)
	return nil
}
