package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/pager"
)

func init() {
	color.NoColor = true
}

func filesState() pager.State[model.TestFile] {
	return pager.State[model.TestFile]{
		Items: []model.TestFile{
			{ID: "f1", Name: "checkout.xlsx", Status: model.StatusProcessing, Progress: 35},
			{ID: "f2", Name: "a-very-long-file-name-that-will-not-fit-in-the-column.xlsx", Status: model.StatusSuccess},
		},
		Total:     12,
		PageIndex: 0,
		PageCount: 6,
		PageSize:  2,
	}
}

func TestTableFiles(t *testing.T) {
	tests := []struct {
		name     string
		live     bool
		contains []string
		excludes []string
	}{
		{
			name:     "live progress",
			live:     true,
			contains: []string{"ID", "Name", "Status", "checkout.xlsx", "processing 35%", "success", "Page 1 of 6 (12 total)", "next: --page 2"},
		},
		{
			name:     "offline progress",
			live:     false,
			contains: []string{"processing ?%"},
			excludes: []string{"35%"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewFormatter(FormatTable, tt.live).Files(filesState(), &buf); err != nil {
				t.Fatal(err)
			}
			out := buf.String()
			for _, s := range tt.contains {
				if !strings.Contains(out, s) {
					t.Errorf("output missing %q:\n%s", s, out)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(out, s) {
					t.Errorf("output should not contain %q:\n%s", s, out)
				}
			}
		})
	}
}

func TestTableTruncatesLongNames(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{Live: true}).Files(filesState(), &buf); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "in-the-column.xlsx") {
		t.Errorf("long name was not truncated:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "...") {
		t.Errorf("truncated name has no ellipsis:\n%s", buf.String())
	}
}

func TestTableEmpty(t *testing.T) {
	tests := []struct {
		name string
		st   pager.State[model.Report]
		want string
	}{
		{"no data", pager.State[model.Report]{}, "No reports found."},
		{"past the end", pager.State[model.Report]{Total: 3, PageIndex: 4}, "No reports on page 5 (3 total)."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := (&TableFormatter{}).Reports(tt.st, &buf); err != nil {
				t.Fatal(err)
			}
			if got := strings.TrimSpace(buf.String()); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTableLastPageHasNoNextHint(t *testing.T) {
	st := pager.State[model.Testcase]{
		Items:     []model.Testcase{{ID: "c1", RowIndex: 3, Data: map[string]any{"item_no": "1.2", "step_confirm": "Order placed"}}},
		Total:     1,
		PageCount: 1,
		PageSize:  10,
	}
	var buf bytes.Buffer
	if err := (&TableFormatter{}).Testcases(st, &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "1.2") || !strings.Contains(out, "Order placed") {
		t.Errorf("testcase fields missing:\n%s", out)
	}
	if strings.Contains(out, "next:") {
		t.Errorf("last page should not suggest a next page:\n%s", out)
	}
}

func TestTableReportDetails(t *testing.T) {
	st := pager.State[model.ReportDetail]{
		Items: []model.ReportDetail{{
			ID:           "d1",
			Testcase:     model.TestcaseRef{Data: map[string]any{"item_no": "4"}},
			Status:       model.StatusFailed,
			ErrorMessage: "button not found",
			Steps:        []model.StepResult{{Step: "open", IsSuccess: true}, {Step: "click"}},
		}},
		Total:     1,
		PageCount: 1,
	}
	var buf bytes.Buffer
	if err := (&TableFormatter{}).ReportDetails(st, &buf); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"failed", "button not found", "4"} {
		if !strings.Contains(buf.String(), s) {
			t.Errorf("output missing %q:\n%s", s, buf.String())
		}
	}
}

func TestTableReport(t *testing.T) {
	tests := []struct {
		name     string
		live     bool
		report   model.Report
		contains string
		excludes string
	}{
		{"running live", true, model.Report{ID: "r1", Name: "nightly", Status: model.StatusRunning, Progress: 50}, "Progress: ██████████░░░░░░░░░░ 50%", ""},
		{"running offline", false, model.Report{ID: "r1", Name: "nightly", Status: model.StatusRunning, Progress: 50}, "running ?%", "Progress:"},
		{"finished offline", false, model.Report{ID: "r1", Name: "nightly", Status: model.StatusSuccess, Progress: 100}, "Progress: ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := (&TableFormatter{Live: tt.live}).Report(tt.report, &buf); err != nil {
				t.Fatal(err)
			}
			out := buf.String()
			if !strings.Contains(out, tt.contains) {
				t.Errorf("output missing %q:\n%s", tt.contains, out)
			}
			if tt.excludes != "" && strings.Contains(out, tt.excludes) {
				t.Errorf("output should not contain %q:\n%s", tt.excludes, out)
			}
		})
	}
}

func TestJSONFiles(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatJSON, true).Files(filesState(), &buf); err != nil {
		t.Fatal(err)
	}
	var got struct {
		Items []struct {
			ID       string `json:"_id"`
			Progress int    `json:"progress"`
		} `json:"items"`
		Total     int `json:"total"`
		Page      int `json:"page"`
		PageCount int `json:"page_count"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, buf.String())
	}
	if len(got.Items) != 2 || got.Items[0].ID != "f1" || got.Items[0].Progress != 35 {
		t.Errorf("items = %+v", got.Items)
	}
	if got.Total != 12 || got.Page != 1 || got.PageCount != 6 {
		t.Errorf("paging = total %d page %d of %d", got.Total, got.Page, got.PageCount)
	}
}

func TestJSONEmptyListIsArray(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONFormatter{}).Reports(pager.State[model.Report]{}, &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"items":[]`) {
		t.Errorf("empty list should encode as []: %s", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"json", FormatJSON, false},
		{"", FormatTable, false},
		{"markdown", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}
