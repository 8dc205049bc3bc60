package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func filesPage(page, limit, total int, ids ...string) *Page {
	p := &Page{Total: total, Page: page, Limit: limit}
	for _, id := range ids {
		p.Items = append(p.Items, TestFile{ID: id, Name: id + ".xlsx", Status: StatusSuccess})
	}
	return p
}

func TestPageCount(t *testing.T) {
	tests := []struct {
		name  string
		page  *Page
		count int
	}{
		{"nil", nil, 0},
		{"empty", &Page{Limit: 10}, 0},
		{"exact", &Page{Total: 20, Limit: 10}, 2},
		{"partial", &Page{Total: 25, Limit: 10}, 3},
		{"single", &Page{Total: 1, Limit: 10}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.page.PageCount(); got != tt.count {
				t.Errorf("PageCount() = %d, want %d", got, tt.count)
			}
		})
	}
}

func TestInsertFirst(t *testing.T) {
	placeholder := TestFile{ID: "tmp", Status: StatusProcessing}

	t.Run("first page prepends and trims", func(t *testing.T) {
		before := filesPage(1, 2, 5, "a", "b")
		after := InsertFirst(placeholder)(before)

		if after.Total != 6 {
			t.Errorf("Total = %d, want 6", after.Total)
		}
		if len(after.Items) != 2 {
			t.Fatalf("len(Items) = %d, want 2", len(after.Items))
		}
		if after.Items[0].ResourceID() != "tmp" || after.Items[1].ResourceID() != "a" {
			t.Errorf("unexpected order: %v", after.Items)
		}
		if !reflect.DeepEqual(before, filesPage(1, 2, 5, "a", "b")) {
			t.Error("InsertFirst modified its input")
		}
	})

	t.Run("later page only grows total", func(t *testing.T) {
		before := filesPage(2, 2, 5, "c", "d")
		after := InsertFirst(placeholder)(before)
		if after.Total != 6 {
			t.Errorf("Total = %d, want 6", after.Total)
		}
		if after.Contains("tmp") {
			t.Error("placeholder should not appear on page 2")
		}
	})

	t.Run("nil stays nil", func(t *testing.T) {
		if InsertFirst(placeholder)(nil) != nil {
			t.Error("expected nil")
		}
	})
}

func TestRemoveByID(t *testing.T) {
	before := filesPage(1, 10, 3, "a", "b", "c")

	after := RemoveByID("b")(before)
	if after.Total != 2 || len(after.Items) != 2 || after.Contains("b") {
		t.Errorf("unexpected page after removal: %+v", after)
	}
	if len(before.Items) != 3 {
		t.Error("RemoveByID modified its input")
	}

	again := RemoveByID("b")(after)
	if again != after {
		t.Error("removing an absent id should return the same snapshot")
	}
	if !reflect.DeepEqual(again, filesPage(1, 10, 2, "a", "c")) {
		t.Errorf("unexpected page: %+v", again)
	}
}

func TestApplyProgress(t *testing.T) {
	before := &Page{
		Items: []Resource{
			TestFile{ID: "f1", Status: StatusProcessing},
			Testcase{ID: "c1"},
		},
		Total: 2, Page: 1, Limit: 10,
	}

	after := ApplyProgress(ProgressEvent{ResourceID: "f1", Progress: 100, Status: StatusSuccess})(before)
	got := after.Items[0].(TestFile)
	if got.Status != StatusSuccess || got.Progress != 100 {
		t.Errorf("unexpected file after progress: %+v", got)
	}
	if before.Items[0].(TestFile).Status != StatusProcessing {
		t.Error("ApplyProgress modified its input")
	}

	same := ApplyProgress(ProgressEvent{ResourceID: "c1", Progress: 50})(before)
	if !reflect.DeepEqual(same, before) {
		t.Error("non-progressive items should be left alone")
	}
}

func TestProgressEventUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ProgressEvent
	}{
		{
			name: "resource id",
			in:   `{"resourceId":"r1","progress":40,"status":"running"}`,
			want: ProgressEvent{ResourceID: "r1", Progress: 40, Status: StatusRunning},
		},
		{
			name: "file id alias completes",
			in:   `{"fileId":"f1","progress":100}`,
			want: ProgressEvent{ResourceID: "f1", Progress: 100, Status: StatusSuccess},
		},
		{
			name: "report id with fractional progress",
			in:   `{"reportId":"rep","progress":33.6}`,
			want: ProgressEvent{ResourceID: "rep", Progress: 34},
		},
		{
			name: "clamped",
			in:   `{"fileId":"f1","progress":140,"status":"failed"}`,
			want: ProgressEvent{ResourceID: "f1", Progress: 100, Status: StatusFailed},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ProgressEvent
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusProcessing, StatusRunning, ""} {
		if s.Terminal() {
			t.Errorf("%q should not be terminal", s)
		}
	}
}

func TestInsertFirstExisting(t *testing.T) {
	before := filesPage(1, 10, 2, "a", "b")
	confirmed := TestFile{ID: "b", Name: "b.xlsx", Status: StatusProcessing}

	after := InsertFirst(confirmed)(before)
	if after.Total != 2 || len(after.Items) != 2 {
		t.Fatalf("inserting a known id should not grow the page: %+v", after)
	}
	if after.Items[1].(TestFile).Status != StatusProcessing {
		t.Errorf("expected item to be replaced in place, got %+v", after.Items[1])
	}
}

func TestProgressEventAdvances(t *testing.T) {
	tests := []struct {
		name     string
		ev       ProgressEvent
		status   Status
		progress int
		want     bool
	}{
		{"higher progress", ProgressEvent{Progress: 60, Status: StatusProcessing}, StatusProcessing, 20, true},
		{"lower progress", ProgressEvent{Progress: 20, Status: StatusProcessing}, StatusProcessing, 60, false},
		{"same state", ProgressEvent{Progress: 20, Status: StatusProcessing}, StatusProcessing, 20, false},
		{"terminal event", ProgressEvent{Progress: 100, Status: StatusSuccess}, StatusProcessing, 100, true},
		{"cached terminal", ProgressEvent{Progress: 100, Status: StatusSuccess}, StatusFailed, 40, false},
		{"status change", ProgressEvent{Progress: 0, Status: StatusProcessing}, StatusPending, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.Advances(tt.status, tt.progress); got != tt.want {
				t.Errorf("Advances(%q, %d) = %v, want %v", tt.status, tt.progress, got, tt.want)
			}
		})
	}
}

func TestResourceProgressRounds(t *testing.T) {
	var f TestFile
	if err := json.Unmarshal([]byte(`{"_id":"f1","test_file_name":"a","progress":66.6,"status":"processing"}`), &f); err != nil {
		t.Fatal(err)
	}
	if f.ID != "f1" || f.Progress != 67 {
		t.Errorf("test file = %+v, want f1 at 67", f)
	}
	var r Report
	if err := json.Unmarshal([]byte(`{"_id":"r1","progress":null}`), &r); err != nil {
		t.Fatal(err)
	}
	if r.ID != "r1" || r.Progress != 0 {
		t.Errorf("report = %+v, want r1 at 0", r)
	}
}
