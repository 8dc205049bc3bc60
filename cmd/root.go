package cmd

import (
	"github.com/spf13/cobra"
)

// New creates the root command with all subcommands registered.
func New() *cobra.Command {
	opts := NewOptions()

	rootCmd := &cobra.Command{
		Use:   "testdeck",
		Short: "Browse and run test files, testcases and reports",
		Long: `A console for a test management server. It lists uploaded test
files, their testcases and execution reports page by page, uploads and
deletes files, starts runs and follows job progress live.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFilesList(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	// `testdeck` and `testdeck files list` work identically
	addListFlags(rootCmd, opts)

	pf := rootCmd.PersistentFlags()
	pf.CountVarP(&opts.Verbosity, "verbose", "v", "Increase verbosity (-v info, -vv debug, -vvv trace)")
	// TUI flag with tri-state: nil = auto, true = force, false = disable
	pf.Var(newTUIFlag(opts), "tui", "Enable/disable the interactive display (default: auto-detect)")
	pf.Lookup("tui").NoOptDefVal = "true"
	pf.StringVar(&opts.CPUProfile, "cpuprofile", "", "Write CPU profile to file")
	pf.StringVar(&opts.MemProfile, "memprofile", "", "Write memory profile to file")
	pf.StringVar(&opts.Trace, "trace", "", "Write execution trace to file")

	rootCmd.AddCommand(NewCmdFiles(opts))
	rootCmd.AddCommand(NewCmdTestcases(opts))
	rootCmd.AddCommand(NewCmdReports(opts))
	rootCmd.AddCommand(NewCmdWatch(opts))
	rootCmd.AddCommand(NewCmdStatus(opts))
	rootCmd.AddCommand(NewCmdConfig())
	rootCmd.AddCommand(NewCmdVersion())
	rootCmd.AddCommand(NewCmdMockServer())

	return rootCmd
}

// addListFlags adds the flags shared by every paginated listing.
func addListFlags(cmd *cobra.Command, opts *Options) {
	addOutputFlag(cmd, opts)
	cmd.Flags().IntVar(&opts.Page, "page", 1, "Page to show, starting at 1")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "l", 0, "Items per page (default: configured page_size)")
}

// addOutputFlag adds --output to a command that renders resources.
func addOutputFlag(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVarP(&opts.Format, "output", "o", "", "Output format (table, json)")
}
