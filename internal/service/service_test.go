package service

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spiffcs/testdeck/internal/api"
	"github.com/spiffcs/testdeck/internal/mockserver"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/realtime"
)

type harness struct {
	srv    *mockserver.Server
	client *api.Client
	wsURL  string
}

func newHarness(t *testing.T, files int) *harness {
	t.Helper()
	srv := mockserver.New()
	for i := range files {
		srv.AddFiles(model.TestFile{
			ID:     "f" + string(rune('a'+i)),
			Name:   "file" + string(rune('a'+i)) + ".xlsx",
			Status: model.StatusSuccess,
		})
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{
		srv:    srv,
		client: api.NewClient(t.Context(), ts.URL, "", api.WithRetry(1, time.Millisecond, time.Millisecond)),
		wsURL:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (h *harness) session(t *testing.T, client API, live bool) *Session {
	t.Helper()
	var d realtime.Dialer
	if live {
		d = &realtime.WebsocketDialer{URL: h.wsURL}
	}
	s := New(client, d, Options{PageSize: 5, ReconnectDelay: 10 * time.Millisecond})
	if err := s.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// gatedAPI blocks uploads until release is closed.
type gatedAPI struct {
	*api.Client
	started chan struct{}
	release chan struct{}
}

func (g *gatedAPI) UploadTestFile(ctx context.Context, name, filename string, content io.Reader) (string, error) {
	close(g.started)
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.Client.UploadTestFile(ctx, name, filename, content)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ids[T model.Resource](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ResourceID()
	}
	return out
}

func TestUploadShowsPlaceholderUntilConfirmed(t *testing.T) {
	h := newHarness(t, 7)
	g := &gatedAPI{Client: h.client, started: make(chan struct{}), release: make(chan struct{})}
	s := h.session(t, g, false)
	ctx := t.Context()

	files := s.Files()
	defer files.Close()
	if err := files.Load(ctx); err != nil {
		t.Fatal(err)
	}

	type result struct {
		f   model.TestFile
		err error
	}
	done := make(chan result, 1)
	go func() {
		f, err := s.Upload(ctx, "checkout", "checkout.xlsx", strings.NewReader("sheet"))
		done <- result{f, err}
	}()
	<-g.started

	st := files.State()
	if !IsPlaceholder(st.Items[0].ID) || st.Items[0].Name != "checkout" {
		t.Fatalf("first item = %+v, want placeholder", st.Items[0])
	}
	if st.Items[0].Status != model.StatusProcessing {
		t.Errorf("placeholder status = %q, want processing", st.Items[0].Status)
	}
	if st.Total != 8 || len(st.Items) != 5 {
		t.Errorf("total %d, items %d; want 8 and 5", st.Total, len(st.Items))
	}
	if !s.IsPending(OpUpload) {
		t.Error("IsPending(upload) = false during the call")
	}

	close(g.release)
	res := <-done
	if res.err != nil {
		t.Fatalf("Upload() error = %v", res.err)
	}
	st = files.State()
	if st.Items[0].ID != res.f.ID || IsPlaceholder(st.Items[0].ID) {
		t.Errorf("first item = %+v, want server record %s", st.Items[0], res.f.ID)
	}
	if st.Total != 8 {
		t.Errorf("total = %d, want 8", st.Total)
	}
	if s.IsPending(OpUpload) {
		t.Error("IsPending(upload) = true after settling")
	}
	if !s.Tracked(res.f.ID) {
		t.Error("uploaded file is not tracked")
	}
}

func TestUploadFinishesFromPushedEvent(t *testing.T) {
	h := newHarness(t, 3)
	s := h.session(t, h.client, true)
	ctx := t.Context()

	files := s.Files()
	defer files.Close()
	if err := files.Load(ctx); err != nil {
		t.Fatal(err)
	}

	f, err := s.Upload(ctx, "checkout", "checkout.xlsx", strings.NewReader("sheet"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if got := files.State().Items[0]; got.ID != f.ID || got.Status != model.StatusProcessing {
		t.Fatalf("first item = %+v, want %s processing", got, f.ID)
	}
	waitJoined(t, h.srv, f.ID)
	lists := h.srv.Requests(mockserver.RouteListFiles)

	h.srv.Push(model.ProgressEvent{ResourceID: f.ID, Progress: 100, Status: model.StatusSuccess})
	eventually(t, "pushed status", func() bool {
		st := files.State()
		return len(st.Items) > 0 && st.Items[0].Status == model.StatusSuccess
	})

	if got := files.State().Items[0].Progress; got != 100 {
		t.Errorf("progress = %d, want 100", got)
	}
	if got := h.srv.Requests(mockserver.RouteListFiles); got != lists {
		t.Errorf("list requests = %d, want %d: the event should not need a refetch", got, lists)
	}
}

func TestUploadFailureRestoresPage(t *testing.T) {
	h := newHarness(t, 3)
	h.srv.FailNext(mockserver.RouteUpload, 1)
	s := h.session(t, h.client, false)
	ctx := t.Context()

	files := s.Files()
	defer files.Close()
	if err := files.Load(ctx); err != nil {
		t.Fatal(err)
	}
	before := files.State()

	_, err := s.Upload(ctx, "broken", "broken.xlsx", strings.NewReader("x"))
	var rejected *api.ServerRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("Upload() error = %v, want *api.ServerRejected", err)
	}
	after := files.State()
	if !reflect.DeepEqual(before.Items, after.Items) || before.Total != after.Total {
		t.Errorf("page changed after failed upload: %v -> %v", ids(before.Items), ids(after.Items))
	}
	if got := h.srv.Requests(mockserver.RouteUpload); got != 1 {
		t.Errorf("upload requests = %d, want 1", got)
	}
}

func TestDeleteRemovesAndRefetches(t *testing.T) {
	h := newHarness(t, 7)
	s := h.session(t, h.client, false)
	ctx := t.Context()

	files := s.Files()
	defer files.Close()
	if err := files.Load(ctx); err != nil {
		t.Fatal(err)
	}
	before := h.srv.Requests(mockserver.RouteListFiles)

	if err := s.Delete(ctx, "fb"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	st := files.State()
	for _, f := range st.Items {
		if f.ID == "fb" {
			t.Fatal("deleted file still listed")
		}
	}
	if st.Total != 6 {
		t.Errorf("total = %d, want 6", st.Total)
	}

	// The shown page is refetched so the item pulled forward appears.
	eventually(t, "refetch", func() bool {
		return h.srv.Requests(mockserver.RouteListFiles) > before && len(files.State().Items) == 5
	})
	if got := ids(files.State().Items); got[4] != "ff" {
		t.Errorf("items = %v, want ff pulled onto the first page", got)
	}
}

func TestDeleteRejectedRestoresItem(t *testing.T) {
	h := newHarness(t, 3)
	s := h.session(t, h.client, false)
	ctx := t.Context()

	files := s.Files()
	defer files.Close()
	if err := files.Load(ctx); err != nil {
		t.Fatal(err)
	}
	h.srv.RemoveFile("fa")

	if err := s.Delete(ctx, "fa"); err == nil {
		t.Fatal("Delete() error = nil for a file the server no longer has")
	}
	if got := ids(files.State().Items); got[0] != "fa" {
		t.Errorf("items = %v, want fa restored", got)
	}
}

func TestProgressReachesEveryView(t *testing.T) {
	h := newHarness(t, 2)
	h.srv.AddFiles(model.TestFile{ID: "live", Name: "live.xlsx", Status: model.StatusProcessing})
	s := h.session(t, h.client, true)
	ctx := t.Context()

	files := s.Files()
	defer files.Close()
	if err := files.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TestFile(ctx, "live"); err != nil {
		t.Fatal(err)
	}
	s.Track(s.Cache().Get(files.Key()).Data)
	if !s.Tracked("live") || s.Tracked("fa") {
		t.Fatal("Track() should subscribe only unfinished jobs")
	}
	waitJoined(t, h.srv, "live")

	h.srv.Push(model.ProgressEvent{ResourceID: "live", Progress: 60})
	eventually(t, "progress 60 in list", func() bool {
		return findFile(files.State().Items, "live").Progress == 60
	})
	detail, err := s.TestFile(ctx, "live")
	if err != nil {
		t.Fatal(err)
	}
	if detail.Progress != 60 {
		t.Errorf("detail progress = %d, want 60", detail.Progress)
	}

	h.srv.Push(model.ProgressEvent{ResourceID: "live", Progress: 100})
	eventually(t, "success in list", func() bool {
		return findFile(files.State().Items, "live").Status == model.StatusSuccess
	})
	eventually(t, "tracking released", func() bool { return !s.Tracked("live") })
}

func TestRunTestcaseTracksReport(t *testing.T) {
	h := newHarness(t, 1)
	h.srv.AddTestcases(model.Testcase{ID: "c1", FileID: "fa", RowIndex: 1})
	s := h.session(t, h.client, true)
	ctx := t.Context()

	reports := s.Reports()
	defer reports.Close()
	if err := reports.Load(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := s.RunTestcase(ctx, "c1", "smoke")
	if err != nil {
		t.Fatalf("RunTestcase() error = %v", err)
	}
	st := reports.State()
	if len(st.Items) != 1 || st.Items[0].ID != res.ReportID || st.Items[0].Status != model.StatusRunning {
		t.Fatalf("reports = %+v, want running %s", st.Items, res.ReportID)
	}
	waitJoined(t, h.srv, res.ReportID)

	h.srv.Push(model.ProgressEvent{ResourceID: res.ReportID, Progress: 100, Status: model.StatusFailed})
	eventually(t, "report failed", func() bool {
		items := reports.State().Items
		return len(items) == 1 && items[0].Status == model.StatusFailed
	})
	eventually(t, "tracking released", func() bool { return !s.Tracked(res.ReportID) })
}

func TestPrefetch(t *testing.T) {
	h := newHarness(t, 3)
	h.srv.AddReports(model.Report{ID: "r1", Name: "nightly", Status: model.StatusRunning})
	s := h.session(t, h.client, false)

	var (
		mu   sync.Mutex
		seen []int
	)
	res, err := s.Prefetch(t.Context(), func(completed, total int) {
		if total != 2 {
			t.Errorf("total = %d, want 2", total)
		}
		mu.Lock()
		seen = append(seen, completed)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Prefetch() error = %v", err)
	}
	if len(res.Files.Items) != 3 || len(res.Reports.Items) != 1 {
		t.Errorf("prefetched %d files and %d reports", len(res.Files.Items), len(res.Reports.Items))
	}
	mu.Lock()
	if len(seen) != 3 || seen[0] != 0 || !slices.Contains(seen, 2) {
		t.Errorf("progress reports = %v, want 0 then 1 and 2", seen)
	}
	mu.Unlock()
	if !s.Tracked("r1") {
		t.Error("running report not tracked")
	}

	// Served from cache.
	files := s.Files()
	defer files.Close()
	if err := files.Load(t.Context()); err != nil {
		t.Fatal(err)
	}
	if got := h.srv.Requests(mockserver.RouteListFiles); got != 1 {
		t.Errorf("list requests = %d, want 1", got)
	}
}

func TestPrefetchError(t *testing.T) {
	h := newHarness(t, 1)
	h.srv.FailNext(mockserver.RouteListReports, 5)
	s := h.session(t, h.client, false)

	_, err := s.Prefetch(t.Context(), nil)
	if err == nil || !strings.Contains(err.Error(), "reports") {
		t.Errorf("Prefetch() error = %v, want reports failure", err)
	}
}

func findFile(items []model.TestFile, id string) model.TestFile {
	for _, f := range items {
		if f.ID == id {
			return f
		}
	}
	return model.TestFile{}
}

func waitJoined(t *testing.T, srv *mockserver.Server, room string) {
	t.Helper()
	eventually(t, "join "+room, func() bool { return srv.Members(room) > 0 })
}

func TestMarkStaleRereadsDetail(t *testing.T) {
	h := newHarness(t, 2)
	s := h.session(t, h.client, false)

	for range 2 {
		if _, err := s.TestFile(t.Context(), "fa"); err != nil {
			t.Fatal(err)
		}
	}
	if got := h.srv.Requests(mockserver.RouteGetFile); got != 1 {
		t.Fatalf("get requests = %d, want 1 (second read cached)", got)
	}

	// Only the named id is reread.
	if _, err := s.TestFile(t.Context(), "fb"); err != nil {
		t.Fatal(err)
	}
	s.MarkStale("fa")
	if _, err := s.TestFile(t.Context(), "fa"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TestFile(t.Context(), "fb"); err != nil {
		t.Fatal(err)
	}
	if got := h.srv.Requests(mockserver.RouteGetFile); got != 3 {
		t.Errorf("get requests = %d, want 3", got)
	}
}
