package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spiffcs/testdeck/internal/log"
	"github.com/spiffcs/testdeck/internal/mockserver"
	"github.com/spiffcs/testdeck/internal/model"
)

// NewCmdMockServer creates the hidden mock-server command used for local
// development against an in-memory API.
func NewCmdMockServer() *cobra.Command {
	var addr string
	var seed int
	var step int
	var interval time.Duration
	var verbosity int

	cmd := &cobra.Command{
		Use:    "mock-server",
		Short:  "Serve an in-memory test management API",
		Hidden: true,
		Long: `Serve the test management API and its progress socket from memory.
Uploads and runs report simulated progress. Point the client at it with
TESTDECK_API_URL=http://localhost:3005.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log.Initialize(max(verbosity, 1), os.Stderr)
			srv := mockserver.New()
			srv.Step = step
			srv.Interval = interval
			seedMockServer(srv, seed)
			return serve(cmd.Context(), addr, srv.Handler())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":3005", "Listen address")
	cmd.Flags().IntVar(&seed, "seed", 25, "Number of test files to create at startup")
	cmd.Flags().IntVar(&step, "step", 10, "Progress increment of simulated jobs (0 disables simulation)")
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "Delay between simulated progress updates")
	cmd.Flags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v info, -vv debug, -vvv trace)")
	return cmd
}

// seedMockServer fills srv with n processed files, two testcases each and
// one finished report.
func seedMockServer(srv *mockserver.Server, n int) {
	for i := n; i >= 1; i-- {
		f := model.TestFile{
			ID:     uuid.NewString(),
			Name:   fmt.Sprintf("suite-%02d.xlsx", i),
			URL:    fmt.Sprintf("/uploads/suite-%02d.xlsx", i),
			Status: model.StatusSuccess,
		}
		srv.AddFiles(f)
		srv.AddTestcases(
			model.Testcase{ID: uuid.NewString(), FileID: f.ID, RowIndex: 1, IsProcessed: true, Data: map[string]any{"item_no": fmt.Sprintf("%d.1", i), "step_confirm": "login succeeds"}},
			model.Testcase{ID: uuid.NewString(), FileID: f.ID, RowIndex: 2, IsProcessed: true, Data: map[string]any{"item_no": fmt.Sprintf("%d.2", i), "step_confirm": "dashboard shows totals"}},
		)
	}

	r := model.Report{ID: uuid.NewString(), Name: "smoke", Status: model.StatusFailed, Progress: 100}
	srv.AddReports(r)
	srv.AddReportDetails(r.ID,
		model.ReportDetail{
			ID:       uuid.NewString(),
			Testcase: model.TestcaseRef{Data: map[string]any{"item_no": "1.1"}},
			Status:   model.StatusSuccess,
			Steps:    []model.StepResult{{Step: "1", IsSuccess: true}},
		},
		model.ReportDetail{
			ID:           uuid.NewString(),
			Testcase:     model.TestcaseRef{Data: map[string]any{"item_no": "1.2"}},
			Status:       model.StatusFailed,
			ErrorMessage: "expected total 12, got 11",
			Steps:        []model.StepResult{{Step: "1", IsSuccess: true}, {Step: "2", ErrorMessage: "assertion failed"}},
		},
	)
}

// serve runs h on addr until ctx is done.
func serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("mock server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
