package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/output"
	"github.com/spiffcs/testdeck/internal/tui"
)

// NewCmdTestcases creates the testcases command with subcommands.
func NewCmdTestcases(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "testcases",
		Aliases: []string{"tc"},
		Short:   "List and run the testcases of a test file",
	}
	cmd.AddCommand(NewCmdTestcasesList(opts))
	cmd.AddCommand(NewCmdTestcasesRun(opts))
	return cmd
}

// NewCmdTestcasesList creates the testcases list subcommand.
func NewCmdTestcasesList(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <file-id>",
		Short: "List the testcases parsed from a test file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestcasesList(cmd, opts, args[0])
		},
	}
	addListFlags(cmd, opts)
	return cmd
}

// NewCmdTestcasesRun creates the testcases run subcommand.
func NewCmdTestcasesRun(opts *Options) *cobra.Command {
	var reportName string
	var watch bool

	cmd := &cobra.Command{
		Use:   "run <testcase-id>",
		Short: "Run a testcase into a new report",
		Long: `Start executing a testcase. Results are written to a new report which
is listed by 'testdeck reports'. Use --watch to follow the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestcasesRun(cmd, opts, args[0], reportName, watch)
		},
	}
	cmd.Flags().StringVar(&reportName, "name", "", "Report name (default: run-<timestamp>)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the run until it finishes")
	return cmd
}

func runTestcasesList(cmd *cobra.Command, opts *Options, fileID string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	return showTestcases(ctx, rt, model.TestFile{ID: fileID}, cmd)
}

// showTestcases lists the testcases of f. The browser runs the selected
// testcase with R.
func showTestcases(ctx context.Context, rt *appRuntime, f model.TestFile, cmd *cobra.Command) error {
	sess := rt.session
	title := "Testcases"
	if f.Name != "" {
		title += " of " + f.Name
	}
	return showList(ctx, rt, listing[model.Testcase]{
		title:   title,
		pager:   sess.Testcases(f.ID, rt.pagerOptions()...),
		columns: tui.TestcaseColumns(),
		write:   output.Formatter.Testcases,
		actions: []tui.Action[model.Testcase]{{
			Key:  "R",
			Help: "run",
			Run: func(ctx context.Context, c model.Testcase) (string, error) {
				res, err := sess.RunTestcase(ctx, c.ID, defaultReportName(time.Now()))
				if err != nil {
					return "", err
				}
				return runMessage(res.ReportID, res.Message), nil
			},
		}},
	}, cmd.OutOrStdout())
}

func runTestcasesRun(cmd *cobra.Command, opts *Options, id, reportName string, watch bool) error {
	ctx := cmd.Context()
	var ropts []runtimeOption
	if watch {
		ropts = append(ropts, withLive())
	}
	rt, err := newRuntime(ctx, opts, ropts...)
	if err != nil {
		return err
	}
	defer rt.close()

	if reportName == "" {
		reportName = defaultReportName(time.Now())
	}
	res, err := rt.session.RunTestcase(ctx, id, reportName)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), runMessage(res.ReportID, res.Message))

	if !watch {
		return nil
	}
	if res.ReportID == "" {
		return fmt.Errorf("server did not return a report id to watch")
	}
	jobs, err := follow(ctx, rt, []string{res.ReportID}, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return summarize(jobs, cmd.OutOrStdout())
}

func defaultReportName(now time.Time) string {
	return "run-" + now.Format("20060102-150405")
}

func runMessage(reportID, msg string) string {
	if msg == "" {
		msg = "Run started"
	}
	if reportID == "" {
		return msg
	}
	return fmt.Sprintf("%s (report %s)", msg, reportID)
}
