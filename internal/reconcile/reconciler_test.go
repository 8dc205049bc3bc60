package reconcile

import (
	"context"
	"net/url"
	"testing"
	"testing/synctest"
	"time"

	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/query"
	"github.com/spiffcs/testdeck/internal/realtime"
)

func filesPage(ids ...string) *model.Page {
	p := &model.Page{Total: len(ids), Page: 1, Limit: 10}
	for _, id := range ids {
		p.Items = append(p.Items, model.TestFile{ID: id, Name: id + ".xlsx", Status: model.StatusProcessing})
	}
	return p
}

func seed(c *query.Cache, key query.Key, p *model.Page) {
	c.Set(key, func(*model.Page) *model.Page { return p })
}

func fileIn(t *testing.T, c *query.Cache, key query.Key, id string) model.TestFile {
	t.Helper()
	e, ok := c.Peek(key)
	if !ok || e.Data == nil {
		t.Fatalf("no data for %s", key)
	}
	i := e.Data.IndexOf(id)
	if i < 0 {
		t.Fatalf("%s does not hold %s", key, id)
	}
	return e.Data.Items[i].(model.TestFile)
}

func detailKey(kind, id string) query.Key {
	return query.NewKey(kind, url.Values{"id": {id}})
}

func TestApplyPatchesEveryContainingEntry(t *testing.T) {
	c := query.New()
	small := query.PageKey(model.KindTestFiles, 1, 10)
	large := query.PageKey(model.KindTestFiles, 1, 20)
	detail := detailKey(model.KindTestFile, "f1")
	other := query.PageKey(model.KindTestFiles, 2, 10)
	seed(c, small, filesPage("f1", "f2"))
	seed(c, large, filesPage("f1", "f2", "f3"))
	seed(c, detail, filesPage("f1"))
	seed(c, other, filesPage("f4"))
	before := c.Get(other).Version

	r := New(c)
	if !r.Apply(model.ProgressEvent{ResourceID: "f1", Progress: 40}) {
		t.Fatal("Apply() = false, want true")
	}

	for _, key := range []query.Key{small, large, detail} {
		if got := fileIn(t, c, key, "f1").Progress; got != 40 {
			t.Errorf("%s progress = %d, want 40", key, got)
		}
	}
	if got := fileIn(t, c, small, "f2").Progress; got != 0 {
		t.Errorf("f2 progress = %d, want 0", got)
	}
	if got := c.Get(other).Version; got != before {
		t.Errorf("unrelated entry version changed from %d to %d", before, got)
	}
}

func TestTerminalEventInvalidatesDetails(t *testing.T) {
	c := query.New()
	list := query.PageKey(model.KindTestFiles, 1, 10)
	detail := detailKey(model.KindTestFile, "f1")
	cases := query.PageKey(model.KindTestcases, 1, 10, "file_id", "f1")
	otherCases := query.PageKey(model.KindTestcases, 1, 10, "file_id", "f2")
	seed(c, list, filesPage("f1"))
	seed(c, detail, filesPage("f1"))
	seed(c, cases, &model.Page{Page: 1, Limit: 10})
	seed(c, otherCases, &model.Page{Page: 1, Limit: 10})

	var finished []string
	r := New(c, WithOnTerminal(func(ev model.ProgressEvent) { finished = append(finished, ev.ResourceID) }))
	r.Apply(model.ProgressEvent{ResourceID: "f1", Progress: 100}.Normalize())

	if got := fileIn(t, c, list, "f1"); got.Status != model.StatusSuccess || got.Progress != 100 {
		t.Errorf("list item = %+v, want success at 100", got)
	}
	tests := []struct {
		key   query.Key
		stale bool
	}{
		{list, false},
		{detail, true},
		{cases, true},
		{otherCases, false},
	}
	for _, tt := range tests {
		if got := c.Get(tt.key).Stale; got != tt.stale {
			t.Errorf("%s stale = %v, want %v", tt.key, got, tt.stale)
		}
	}
	if len(finished) != 1 || finished[0] != "f1" {
		t.Errorf("terminal callbacks = %v, want [f1]", finished)
	}
}

func TestNonTerminalEventKeepsDetailsFresh(t *testing.T) {
	c := query.New()
	detail := detailKey(model.KindReport, "r1")
	seed(c, detail, &model.Page{Items: []model.Resource{model.Report{ID: "r1", Status: model.StatusRunning}}, Total: 1, Page: 1, Limit: 1})

	New(c).Apply(model.ProgressEvent{ResourceID: "r1", Progress: 50})

	e := c.Get(detail)
	if e.Stale {
		t.Error("detail invalidated by a progress update")
	}
	if got := e.Data.Items[0].(model.Report).Progress; got != 50 {
		t.Errorf("report progress = %d, want 50", got)
	}
}

func TestUnmatchedEventReplayedWhenResourceAppears(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := query.New()
		list := query.PageKey(model.KindTestFiles, 1, 10)
		seed(c, list, filesPage("f1"))

		r := New(c)
		ch := realtime.New(nil)
		l := ch.Listen()
		done := make(chan error, 1)
		go func() { done <- r.Run(t.Context(), l) }()
		synctest.Wait()

		if r.Apply(model.ProgressEvent{ResourceID: "new", Progress: 30}) {
			t.Fatal("Apply() = true for an uncached resource")
		}
		if got := r.Buffered("new"); got != 1 {
			t.Fatalf("Buffered() = %d, want 1", got)
		}

		c.Set(list, model.InsertFirst(model.TestFile{ID: "new", Status: model.StatusProcessing}))
		synctest.Wait()

		if got := fileIn(t, c, list, "new").Progress; got != 30 {
			t.Errorf("replayed progress = %d, want 30", got)
		}
		if got := r.Buffered("new"); got != 0 {
			t.Errorf("Buffered() after replay = %d, want 0", got)
		}

		l.Close()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v, want nil after listener close", err)
		}
	})
}

func TestBufferedEventsReplayBeforeNewer(t *testing.T) {
	c := query.New()
	list := query.PageKey(model.KindTestFiles, 1, 10)
	seed(c, list, filesPage("f1"))

	r := New(c)
	r.Apply(model.ProgressEvent{ResourceID: "f9", Progress: 10})
	r.Apply(model.ProgressEvent{ResourceID: "f9", Progress: 20, Status: model.StatusFailed})

	seed(c, list, filesPage("f1", "f9"))
	r.Apply(model.ProgressEvent{ResourceID: "f9", Progress: 60})

	got := fileIn(t, c, list, "f9")
	if got.Progress != 60 {
		t.Errorf("progress = %d, want the newest value 60", got.Progress)
	}
	if got.Status != model.StatusFailed {
		t.Errorf("status = %q, want failed carried from the buffered event", got.Status)
	}
}

func TestUnmatchedEventsExpire(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := query.New()
	list := query.PageKey(model.KindTestFiles, 1, 10)

	r := New(c, WithTTL(10*time.Second), WithClock(func() time.Time { return now }))
	r.Apply(model.ProgressEvent{ResourceID: "f1", Progress: 70})

	now = now.Add(5 * time.Second)
	r.Sweep()
	if got := r.Buffered("f1"); got != 1 {
		t.Fatalf("Buffered() before ttl = %d, want 1", got)
	}

	now = now.Add(6 * time.Second)
	r.Sweep()
	if got := r.Buffered("f1"); got != 0 {
		t.Fatalf("Buffered() after ttl = %d, want 0", got)
	}

	seed(c, list, filesPage("f1"))
	r.Sweep()
	if got := fileIn(t, c, list, "f1").Progress; got != 0 {
		t.Errorf("expired event applied: progress = %d", got)
	}
}

func TestSweepReplaysMissedNotifications(t *testing.T) {
	c := query.New()
	list := query.PageKey(model.KindTestFiles, 1, 10)

	r := New(c)
	r.Apply(model.ProgressEvent{ResourceID: "f1", Progress: 15})
	seed(c, list, filesPage("f1"))
	r.Sweep()

	if got := fileIn(t, c, list, "f1").Progress; got != 15 {
		t.Errorf("progress = %d, want 15", got)
	}
}

func pageOf(items ...model.Resource) *model.Page {
	return &model.Page{Items: items, Total: len(items), Page: 1, Limit: 10}
}

func TestEventSurvivesOlderInFlightResponse(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := query.New()
		list := query.PageKey(model.KindTestFiles, 1, 10)
		seed(c, list, filesPage("f1"))

		r := New(c)
		l := realtime.New(nil).Listen()
		done := make(chan error, 1)
		go func() { done <- r.Run(t.Context(), l) }()

		release := make(chan struct{})
		fetched := make(chan error, 1)
		go func() {
			_, err := c.Fetch(context.Background(), list, func(context.Context) (*model.Page, error) {
				<-release
				// The server read happened before the job finished.
				return filesPage("f1"), nil
			})
			fetched <- err
		}()
		synctest.Wait()

		r.Apply(model.ProgressEvent{ResourceID: "f1", Progress: 100, Status: model.StatusSuccess})
		if got := fileIn(t, c, list, "f1"); got.Status != model.StatusSuccess {
			t.Fatalf("after event status = %q, want success", got.Status)
		}

		close(release)
		if err := <-fetched; err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		synctest.Wait()

		got := fileIn(t, c, list, "f1")
		if got.Status != model.StatusSuccess || got.Progress != 100 {
			t.Errorf("after response = %s %d%%, want success 100%%", got.Status, got.Progress)
		}

		l.Close()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
}

func TestCatchUpOnlyMovesForward(t *testing.T) {
	tests := []struct {
		name         string
		event        model.ProgressEvent
		read         model.TestFile
		wantStatus   model.Status
		wantProgress int
	}{
		{
			name:         "older read is corrected",
			event:        model.ProgressEvent{ResourceID: "f1", Progress: 60},
			read:         model.TestFile{ID: "f1", Status: model.StatusProcessing, Progress: 20},
			wantStatus:   model.StatusProcessing,
			wantProgress: 60,
		},
		{
			name:         "newer read wins",
			event:        model.ProgressEvent{ResourceID: "f1", Progress: 40},
			read:         model.TestFile{ID: "f1", Status: model.StatusProcessing, Progress: 80},
			wantStatus:   model.StatusProcessing,
			wantProgress: 80,
		},
		{
			name:         "finished read is kept",
			event:        model.ProgressEvent{ResourceID: "f1", Progress: 100, Status: model.StatusSuccess},
			read:         model.TestFile{ID: "f1", Status: model.StatusFailed, Progress: 30},
			wantStatus:   model.StatusFailed,
			wantProgress: 30,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := query.New()
			list := query.PageKey(model.KindTestFiles, 1, 10)
			seed(c, list, filesPage("f1"))

			r := New(c)
			r.Apply(tt.event)
			seed(c, list, pageOf(tt.read))
			r.Sweep()

			got := fileIn(t, c, list, "f1")
			if got.Status != tt.wantStatus || got.Progress != tt.wantProgress {
				t.Errorf("f1 = %s %d, want %s %d", got.Status, got.Progress, tt.wantStatus, tt.wantProgress)
			}
		})
	}
}

func TestAppliedEventForgotten(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	list := query.PageKey(model.KindTestFiles, 1, 10)

	t.Run("after a later terminal read", func(t *testing.T) {
		c := query.New(query.WithClock(clock))
		seed(c, list, filesPage("f1"))
		r := New(c, WithClock(clock))
		r.Apply(model.ProgressEvent{ResourceID: "f1", Progress: 100, Status: model.StatusSuccess})

		r.Sweep()
		if !r.Remembered("f1") {
			t.Fatal("event forgotten before any read confirmed it")
		}

		now = now.Add(time.Second)
		finished := model.TestFile{ID: "f1", Status: model.StatusSuccess, Progress: 100}
		if _, err := c.Fetch(context.Background(), list, func(context.Context) (*model.Page, error) {
			return pageOf(finished), nil
		}); err != nil {
			t.Fatal(err)
		}
		r.Sweep()
		if r.Remembered("f1") {
			t.Error("event still kept after a terminal read")
		}
	})

	t.Run("after retention", func(t *testing.T) {
		c := query.New(query.WithClock(clock))
		seed(c, list, filesPage("f2"))
		r := New(c, WithClock(clock), WithRetention(time.Minute))
		r.Apply(model.ProgressEvent{ResourceID: "f2", Progress: 10})

		now = now.Add(30 * time.Second)
		r.Sweep()
		if !r.Remembered("f2") {
			t.Fatal("event forgotten before retention elapsed")
		}
		now = now.Add(31 * time.Second)
		r.Sweep()
		if r.Remembered("f2") {
			t.Error("event kept past retention")
		}
	})
}
