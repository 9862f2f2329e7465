package cli

import (
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/testinvoke/internal/demo"
	"github.com/roach88/testinvoke/internal/harness"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions

	// Registry overrides the built-in demo registry (for testing).
	Registry *harness.Registry
}

// ListResult is what a registry offers to plans.
type ListResult struct {
	Classes map[string][]string `json:"classes"`
	Hooks   []string            `json:"hooks"`
}

// String renders the listing as two tables for text output.
func (r ListResult) String() string {
	names := make([]string, 0, len(r.Classes))
	for name := range r.Classes {
		names = append(names, name)
	}
	sort.Strings(names)

	classes := table.NewWriter()
	classes.SetStyle(table.StyleDefault)
	classes.AppendHeader(table.Row{"Class", "Methods"})
	for _, name := range names {
		classes.AppendRow(table.Row{name, strings.Join(r.Classes[name], ", ")})
	}

	hooks := table.NewWriter()
	hooks.SetStyle(table.StyleDefault)
	hooks.AppendHeader(table.Row{"Hook"})
	for _, h := range r.Hooks {
		hooks.AppendRow(table.Row{h})
	}

	return classes.Render() + "\n\n" + hooks.Render()
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered classes, methods and hooks",
		Long: `List the test classes, methods and hooks that plans can name.

Examples:
  testinvoke list
  testinvoke list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := opts.Registry
			if reg == nil {
				reg = demo.Registry(nil)
			}
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(ListResult{Classes: reg.Classes(), Hooks: reg.Hooks()})
		},
	}

	return cmd
}
