package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spiffcs/testdeck/internal/log"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/output"
	"github.com/spiffcs/testdeck/internal/tui"
)

// NewCmdFiles creates the files command with subcommands.
func NewCmdFiles(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "files",
		Aliases: []string{"file"},
		Short:   "List and manage test files",
		Long: `List and manage uploaded test files.

When run without a subcommand, lists test files (same as 'testdeck files list').`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFilesList(cmd, opts)
		},
	}
	addListFlags(cmd, opts)

	cmd.AddCommand(NewCmdFilesList(opts))
	cmd.AddCommand(NewCmdFilesShow(opts))
	cmd.AddCommand(NewCmdFilesUpload(opts))
	cmd.AddCommand(NewCmdFilesDelete(opts))
	return cmd
}

// NewCmdFilesList creates the files list subcommand.
func NewCmdFilesList(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List test files page by page",
		Long: `List uploaded test files, newest first.

In a terminal this opens an interactive browser: n/p change page, r
refreshes and D deletes the selected file. Files still being processed
show live progress.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFilesList(cmd, opts)
		},
	}
	addListFlags(cmd, opts)
	return cmd
}

// NewCmdFilesShow creates the files show subcommand.
func NewCmdFilesShow(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <file-id>",
		Short: "Show a test file and its testcases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilesShow(cmd, opts, args[0])
		},
	}
	addListFlags(cmd, opts)
	return cmd
}

// NewCmdFilesUpload creates the files upload subcommand.
func NewCmdFilesUpload(opts *Options) *cobra.Command {
	var name string
	var watch bool

	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a test file",
		Long: `Upload a spreadsheet of testcases. The server parses it in the
background; use --watch to follow processing until it finishes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilesUpload(cmd, opts, args[0], name, watch)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Name of the test file (default: the file's base name)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow processing until it finishes")
	return cmd
}

// NewCmdFilesDelete creates the files delete subcommand.
func NewCmdFilesDelete(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <file-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a test file and its testcases",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilesDelete(cmd, opts, args[0])
		},
	}
}

func runFilesList(cmd *cobra.Command, opts *Options) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	sess := rt.session
	return showList(ctx, rt, listing[model.TestFile]{
		title:   "Test files",
		pager:   sess.Files(rt.pagerOptions()...),
		columns: tui.FileColumns(),
		write:   output.Formatter.Files,
		actions: []tui.Action[model.TestFile]{{
			Key:  "D",
			Help: "delete",
			Run: func(ctx context.Context, f model.TestFile) (string, error) {
				if model.IsPlaceholder(f.ID) {
					return "Upload still in progress", nil
				}
				if err := sess.Delete(ctx, f.ID); err != nil {
					return "", err
				}
				return "Deleted " + f.Name, nil
			},
		}},
	}, cmd.OutOrStdout())
}

func runFilesShow(cmd *cobra.Command, opts *Options, id string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	f, err := rt.session.TestFile(ctx, id)
	if err != nil {
		return err
	}
	// The interactive browser takes the whole screen; print the detail
	// only for one-shot output.
	if !rt.useTUI {
		if err := rt.formatter().TestFile(f, cmd.OutOrStdout()); err != nil {
			return err
		}
		if rt.format == output.FormatTable {
			fmt.Fprintln(cmd.OutOrStdout())
		}
	}
	return showTestcases(ctx, rt, f, cmd)
}

func runFilesUpload(cmd *cobra.Command, opts *Options, path, name string, watch bool) error {
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

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open test file: %w", err)
	}
	defer file.Close()

	filename := filepath.Base(path)
	if name == "" {
		name = filename
	}

	log.Info("uploading test file", "path", path, "name", name)
	created, err := rt.session.Upload(ctx, name, filename, file)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%s)\n", created.Name, created.ID)

	if !watch {
		return nil
	}
	jobs, err := follow(ctx, rt, []string{created.ID}, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return summarize(jobs, cmd.OutOrStdout())
}

func runFilesDelete(cmd *cobra.Command, opts *Options, id string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.session.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted test file %s\n", id)
	return nil
}
