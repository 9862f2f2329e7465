package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/testinvoke/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - defaults to the latest run
	TestID   string // optional - filter to one test
}

// TraceResult is the journaled view of one run.
type TraceResult struct {
	RunID    string                `json:"run_id"`
	Messages []store.MessageRecord `json:"messages"`
	Outcomes []store.Outcome       `json:"outcomes"`
	Stats    TraceStats            `json:"stats"`
}

// TraceStats summarizes a TraceResult.
type TraceStats struct {
	Messages int `json:"messages"`
	Rejected int `json:"rejected"`
	Tests    int `json:"tests"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journaled lifecycle of a run",
		Long: `Show the lifecycle messages and outcomes journaled for a run.

Messages are listed in publish order. Rejected messages (those that
requested cancellation) are marked.

The output includes:
- Messages: every lifecycle message with its test
- Outcomes: pass/fail, elapsed time and failures per test
- Stats: summary counts

Examples:
  testinvoke trace --db ./runs.db
  testinvoke trace --db ./runs.db --run 0192f1c4-...
  testinvoke trace --db ./runs.db --test 5b0c... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID to trace (default: latest run)")
	cmd.Flags().StringVar(&opts.TestID, "test", "", "filter to a single test ID")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	runID := opts.RunID
	if runID == "" {
		runID, err = st.LatestRun(ctx)
		if errors.Is(err, store.ErrNoRuns) {
			if out.JSON() {
				return out.Error(CodeRunNotFound, err.Error(), nil)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find latest run", err)
		}
	}

	messages, err := st.ReadMessages(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read messages", err)
	}
	outcomes, err := st.ReadOutcomes(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read outcomes", err)
	}

	result := buildTrace(runID, messages, outcomes, opts.TestID)

	if out.JSON() {
		return out.Success(result)
	}
	if len(result.Messages) == 0 && len(result.Outcomes) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No messages found for run: %s\n", runID)
		return nil
	}
	writeTraceText(cmd.OutOrStdout(), result)
	return nil
}

// buildTrace filters the journal to testID (when set) and computes stats.
func buildTrace(runID string, messages []store.MessageRecord, outcomes []store.Outcome, testID string) TraceResult {
	result := TraceResult{
		RunID:    runID,
		Messages: []store.MessageRecord{},
		Outcomes: []store.Outcome{},
	}

	for _, m := range messages {
		if testID != "" && m.TestID != testID {
			continue
		}
		result.Messages = append(result.Messages, m)
		if !m.Accepted {
			result.Stats.Rejected++
		}
	}
	for _, o := range outcomes {
		if testID != "" && o.TestID != testID {
			continue
		}
		result.Outcomes = append(result.Outcomes, o)
		if o.Passed {
			result.Stats.Passed++
		} else {
			result.Stats.Failed++
		}
	}

	result.Stats.Messages = len(result.Messages)
	result.Stats.Tests = len(result.Outcomes)
	return result
}

// writeTraceText outputs the trace result as text.
func writeTraceText(w io.Writer, result TraceResult) {
	fmt.Fprintf(w, "Trace for Run: %s\n", result.RunID)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Messages ===")
	for _, m := range result.Messages {
		event := string(m.Kind)
		if m.Hook != "" {
			event += "(" + m.Hook + ")"
		}
		line := fmt.Sprintf("  [%d] %-34s test=%s", m.Seq, event, truncateID(m.TestID))
		if !m.Accepted {
			line += " (rejected)"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Outcomes ===")
	if len(result.Outcomes) == 0 {
		fmt.Fprintln(w, "  (no outcomes)")
	}
	for _, o := range result.Outcomes {
		mark := "✓"
		if !o.Passed {
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s %s (%s) test=%s\n", mark, o.DisplayName, o.Elapsed.Round(time.Microsecond), truncateID(o.TestID))
		for _, f := range o.Failures {
			fmt.Fprintf(w, "      %s\n", f)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Messages: %d\n", result.Stats.Messages)
	fmt.Fprintf(w, "  Rejected: %d\n", result.Stats.Rejected)
	fmt.Fprintf(w, "  Tests:    %d\n", result.Stats.Tests)
	fmt.Fprintf(w, "  Passed:   %d\n", result.Stats.Passed)
	fmt.Fprintf(w, "  Failed:   %d\n", result.Stats.Failed)
}

// truncateID shortens an ID for display.
func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
