package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/output"
	"github.com/spiffcs/testdeck/internal/tui"
)

// NewCmdReports creates the reports command with subcommands.
func NewCmdReports(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reports",
		Aliases: []string{"report"},
		Short:   "List reports and their results",
		Long: `List execution reports.

When run without a subcommand, lists reports (same as 'testdeck reports list').`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReportsList(cmd, opts)
		},
	}
	addListFlags(cmd, opts)

	cmd.AddCommand(NewCmdReportsList(opts))
	cmd.AddCommand(NewCmdReportsShow(opts))
	return cmd
}

// NewCmdReportsList creates the reports list subcommand.
func NewCmdReportsList(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports page by page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReportsList(cmd, opts)
		},
	}
	addListFlags(cmd, opts)
	return cmd
}

// NewCmdReportsShow creates the reports show subcommand.
func NewCmdReportsShow(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <report-id>",
		Short: "Show a report and its per-testcase results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReportsShow(cmd, opts, args[0])
		},
	}
	addListFlags(cmd, opts)
	return cmd
}

func runReportsList(cmd *cobra.Command, opts *Options) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	return showList(ctx, rt, listing[model.Report]{
		title:   "Reports",
		pager:   rt.session.Reports(rt.pagerOptions()...),
		columns: tui.ReportColumns(),
		write:   output.Formatter.Reports,
	}, cmd.OutOrStdout())
}

func runReportsShow(cmd *cobra.Command, opts *Options, id string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	r, err := rt.session.Report(ctx, id)
	if err != nil {
		return err
	}
	if !rt.useTUI {
		if err := rt.formatter().Report(r, cmd.OutOrStdout()); err != nil {
			return err
		}
		if rt.format == output.FormatTable {
			fmt.Fprintln(cmd.OutOrStdout())
		}
	}
	return showList(ctx, rt, listing[model.ReportDetail]{
		title:   "Results of " + r.Name,
		pager:   rt.session.ReportDetails(id, rt.pagerOptions()...),
		columns: tui.ReportDetailColumns(),
		write:   output.Formatter.ReportDetails,
	}, cmd.OutOrStdout())
}
