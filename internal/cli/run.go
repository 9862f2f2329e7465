package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/testinvoke/internal/demo"
	"github.com/roach88/testinvoke/internal/harness"
	"github.com/roach88/testinvoke/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database   string
	Parallel   int
	StopOnFail bool

	// Registry overrides the built-in demo registry (for testing).
	Registry *harness.Registry
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Run a test plan",
		Long: `Run every case of a YAML or CUE plan through the invocation engine.

Each case is resolved against the registry, invoked with its hooks, and
checked against its expectations. With --db, every lifecycle message and
outcome is journaled so the run can be inspected with trace.

Exit codes:
  0 - All cases met their expectations
  1 - One or more cases failed or were skipped
  2 - Command error (unreadable plan, database error, etc.)

Examples:
  testinvoke run plan.yaml
  testinvoke run plan.cue --parallel 4
  testinvoke run plan.yaml --db ./runs.db --stop-on-fail
  testinvoke run plan.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal the run to this SQLite database")
	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 1, "maximum number of cases running at once")
	cmd.Flags().BoolVar(&opts.StopOnFail, "stop-on-fail", false, "skip remaining cases after the first failure")

	return cmd
}

func runPlan(opts *RunOptions, planPath string, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	plan, err := harness.LoadPlan(planPath)
	if err != nil {
		if out.JSON() {
			_ = out.Error(CodePlanInvalid, err.Error(), map[string]string{"plan": planPath})
		}
		return WrapExitError(ExitCommandError, "failed to load plan", err)
	}
	logger.Debug("plan loaded", "plan", plan.Name, "cases", len(plan.Cases))

	reg := opts.Registry
	if reg == nil {
		reg = demo.Registry(logger)
	}

	hopts := []harness.Option{
		harness.WithParallel(opts.Parallel),
		harness.WithLogger(logger),
	}
	if opts.StopOnFail {
		hopts = append(hopts, harness.WithStopOnFailure())
	}

	if opts.Database != "" {
		logger.Debug("opening journal", "path", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		hopts = append(hopts, harness.WithJournal(st))
	}

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	report, err := harness.New(reg, hopts...).Run(ctx, plan)
	if err != nil {
		if out.JSON() {
			_ = out.Error(CodeJournal, err.Error(), nil)
		}
		return WrapExitError(ExitCommandError, "run failed", err)
	}

	if out.JSON() {
		if report.Pass() {
			return out.Success(report)
		}
		if err := out.Failure(CodeCasesFailed, summary(report), report); err != nil {
			return err
		}
		return NewExitError(ExitFailure, summary(report))
	}

	writeReportText(cmd.OutOrStdout(), report, opts.Verbose)
	if !report.Pass() {
		return NewExitError(ExitFailure, summary(report))
	}
	return nil
}

// signalContext cancels on SIGINT or SIGTERM. Cases not yet started are
// skipped; running ones finish their cleanup.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Warn("received signal, skipping remaining cases", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func summary(r *harness.Report) string {
	return fmt.Sprintf("%d passed, %d failed, %d skipped", r.Passed, r.Failed, r.Skipped)
}

// writeReportText prints one line per case, the unmet expectations of
// failing cases, and a summary.
func writeReportText(w io.Writer, r *harness.Report, verbose bool) {
	for _, res := range r.Results {
		switch {
		case res.Outcome == harness.OutcomeSkipped:
			fmt.Fprintf(w, "- %s (skipped)\n", res.Name)
		case res.Pass:
			fmt.Fprintf(w, "✓ %s (%s)\n", res.Name, res.Elapsed.Round(time.Microsecond))
		default:
			fmt.Fprintf(w, "✗ %s (%s)\n", res.Name, res.Elapsed.Round(time.Microsecond))
			for _, m := range res.Mismatches {
				fmt.Fprintf(w, "  %s\n", m)
			}
		}
		if verbose {
			for _, e := range res.Trace {
				fmt.Fprintf(w, "    [%d] %s\n", e.Seq, e)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Plan %s: %s\n", r.Plan, summary(r))
	if r.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", r.RunID)
	}
}
