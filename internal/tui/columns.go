package tui

import (
	"strconv"

	"github.com/spiffcs/testdeck/internal/format"
	"github.com/spiffcs/testdeck/internal/model"
)

// FileColumns are the columns of the test file list.
func FileColumns() []Column[model.TestFile] {
	return []Column[model.TestFile]{
		{Title: "Name", Width: 36, Value: func(f model.TestFile, _ bool) string { return f.Name }},
		{
			Title: "Status", Width: 16,
			Value: func(f model.TestFile, live bool) string {
				return format.StatusText(f.Status, f.Progress, live)
			},
			Status: func(f model.TestFile) model.Status { return f.Status },
		},
		{Title: "ID", Width: 24, Value: func(f model.TestFile, _ bool) string { return f.ID }},
	}
}

// TestcaseColumns are the columns of a file's testcase list.
func TestcaseColumns() []Column[model.Testcase] {
	return []Column[model.Testcase]{
		{Title: "Row", Width: 5, Value: func(c model.Testcase, _ bool) string { return strconv.Itoa(c.RowIndex) }},
		{Title: "Item", Width: 10, Value: func(c model.Testcase, _ bool) string { return c.Field("item_no") }},
		{Title: "Expected", Width: 40, Value: func(c model.Testcase, _ bool) string { return c.Field("step_confirm") }},
		{Title: "Automated", Width: 9, Value: func(c model.Testcase, _ bool) string { return yesNo(c.Automated()) }},
		{Title: "ID", Width: 24, Value: func(c model.Testcase, _ bool) string { return c.ID }},
	}
}

// ReportColumns are the columns of the report list.
func ReportColumns() []Column[model.Report] {
	return []Column[model.Report]{
		{Title: "Report", Width: 32, Value: func(r model.Report, _ bool) string { return r.Name }},
		{
			Title: "Status", Width: 16,
			Value: func(r model.Report, live bool) string {
				return format.StatusText(r.Status, r.Progress, live)
			},
			Status: func(r model.Report) model.Status { return r.Status },
		},
		{
			Title: "Progress", Width: 12,
			Value: func(r model.Report, live bool) string {
				if !live && !r.Status.Terminal() {
					return format.Unknown
				}
				return format.Bar(r.Progress, 12)
			},
		},
		{Title: "ID", Width: 24, Value: func(r model.Report, _ bool) string { return r.ID }},
	}
}

// ReportDetailColumns are the columns of a report's per-testcase results.
func ReportDetailColumns() []Column[model.ReportDetail] {
	return []Column[model.ReportDetail]{
		{Title: "Item", Width: 10, Value: func(d model.ReportDetail, _ bool) string { return d.Testcase.ItemNo() }},
		{
			Title: "Result", Width: 8,
			Value:  func(d model.ReportDetail, _ bool) string { return string(d.Status) },
			Status: func(d model.ReportDetail) model.Status { return d.Status },
		},
		{
			Title: "Steps", Width: 9,
			Value: func(d model.ReportDetail, _ bool) string {
				return strconv.Itoa(len(d.Steps)-d.FailedSteps()) + "/" + strconv.Itoa(len(d.Steps))
			},
		},
		{Title: "Error", Width: 44, Value: func(d model.ReportDetail, _ bool) string { return d.ErrorMessage }},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
