package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spiffcs/testdeck/internal/format"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/pager"
	"golang.org/x/term"
)

// TableFormatter formats output as a terminal table
type TableFormatter struct {
	// Live is false when progress of running jobs may be stale.
	Live bool
}

type column[T model.Resource] struct {
	title  string
	width  int
	value  func(T) string
	status func(T) model.Status
}

// hyperlink creates a clickable terminal hyperlink using OSC 8
func hyperlink(text, url string) string {
	if url == "" || !term.IsTerminal(int(os.Stdout.Fd())) {
		return text
	}
	return fmt.Sprintf("\033]8;;%s\033\\%s\033]8;;\033\\", url, text)
}

func colorStatus(s model.Status, text string) string {
	switch format.ToneOf(s) {
	case format.ToneGood:
		return color.GreenString(text)
	case format.ToneBad:
		return color.RedString(text)
	case format.ToneActive:
		return color.YellowString(text)
	default:
		return color.WhiteString(text)
	}
}

func writeTable[T model.Resource](w io.Writer, st pager.State[T], noun string, cols []column[T]) error {
	if len(st.Items) == 0 {
		if st.Total > 0 {
			fmt.Fprintf(w, "No %s on page %d (%d total).\n", noun, st.PageIndex+1, st.Total)
		} else {
			fmt.Fprintf(w, "No %s found.\n", noun)
		}
		return nil
	}

	header := make([]string, len(cols))
	width := 0
	for i, c := range cols {
		header[i] = format.Fit(c.title, c.width)
		width += c.width + 2
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(header, "  "), " "))
	fmt.Fprintln(w, strings.Repeat("-", width-2))

	for _, item := range st.Items {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cell := format.Fit(c.value(item), c.width)
			if c.status != nil {
				cell = colorStatus(c.status(item), cell)
			}
			cells[i] = cell
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}

	printPageFooter(w, st.PageIndex, st.PageCount, st.Total)
	return nil
}

func printPageFooter(w io.Writer, index, count, total int) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Page %d of %d (%d total)", index+1, max(count, 1), total)
	if index+1 < count {
		fmt.Fprintf(w, "  next: --page %d", index+2)
	}
	fmt.Fprintln(w)
}

// Files outputs a page of test files.
func (f *TableFormatter) Files(st pager.State[model.TestFile], w io.Writer) error {
	return writeTable(w, st, "test files", []column[model.TestFile]{
		{title: "ID", width: 24, value: func(tf model.TestFile) string { return tf.ID }},
		{title: "Name", width: 36, value: func(tf model.TestFile) string { return tf.Name }},
		{
			title:  "Status",
			width:  16,
			value:  func(tf model.TestFile) string { return format.StatusText(tf.Status, tf.Progress, f.Live) },
			status: func(tf model.TestFile) model.Status { return tf.Status },
		},
	})
}

// Testcases outputs a page of testcases.
func (f *TableFormatter) Testcases(st pager.State[model.Testcase], w io.Writer) error {
	return writeTable(w, st, "testcases", []column[model.Testcase]{
		{title: "ID", width: 24, value: func(c model.Testcase) string { return c.ID }},
		{title: "Row", width: 5, value: func(c model.Testcase) string { return strconv.Itoa(c.RowIndex) }},
		{title: "Item", width: 10, value: func(c model.Testcase) string { return c.Field("item_no") }},
		{title: "Expected", width: 40, value: func(c model.Testcase) string { return c.Field("step_confirm") }},
		{title: "Processed", width: 9, value: func(c model.Testcase) string { return strconv.FormatBool(c.IsProcessed) }},
	})
}

// Reports outputs a page of reports.
func (f *TableFormatter) Reports(st pager.State[model.Report], w io.Writer) error {
	return writeTable(w, st, "reports", []column[model.Report]{
		{title: "ID", width: 24, value: func(r model.Report) string { return r.ID }},
		{title: "Report", width: 32, value: func(r model.Report) string { return r.Name }},
		{
			title:  "Status",
			width:  16,
			value:  func(r model.Report) string { return format.StatusText(r.Status, r.Progress, f.Live) },
			status: func(r model.Report) model.Status { return r.Status },
		},
	})
}

// ReportDetails outputs a page of per-testcase results.
func (f *TableFormatter) ReportDetails(st pager.State[model.ReportDetail], w io.Writer) error {
	return writeTable(w, st, "results", []column[model.ReportDetail]{
		{title: "Item", width: 10, value: func(d model.ReportDetail) string { return d.Testcase.ItemNo() }},
		{
			title:  "Result",
			width:  8,
			value:  func(d model.ReportDetail) string { return string(d.Status) },
			status: func(d model.ReportDetail) model.Status { return d.Status },
		},
		{title: "Failed", width: 6, value: func(d model.ReportDetail) string { return strconv.Itoa(d.FailedSteps()) }},
		{title: "Error", width: 48, value: func(d model.ReportDetail) string { return d.ErrorMessage }},
	})
}

// TestFile outputs one test file.
func (f *TableFormatter) TestFile(tf model.TestFile, w io.Writer) error {
	fmt.Fprintf(w, "%s  %s\n", color.New(color.Bold).Sprint(tf.Name), color.HiBlackString(tf.ID))
	fmt.Fprintf(w, "  Status: %s\n", colorStatus(tf.Status, format.StatusText(tf.Status, tf.Progress, f.Live)))
	if tf.URL != "" {
		fmt.Fprintf(w, "  URL: %s\n", hyperlink(tf.URL, tf.URL))
	}
	if len(tf.InputVariables) > 0 && string(tf.InputVariables) != "null" {
		fmt.Fprintf(w, "  Input variables: %s\n", tf.InputVariables)
	}
	return nil
}

// Report outputs one report with a progress bar.
func (f *TableFormatter) Report(r model.Report, w io.Writer) error {
	fmt.Fprintf(w, "%s  %s\n", color.New(color.Bold).Sprint(r.Name), color.HiBlackString(r.ID))
	fmt.Fprintf(w, "  Status: %s\n", colorStatus(r.Status, format.StatusText(r.Status, r.Progress, f.Live)))
	if f.Live || r.Status.Terminal() {
		fmt.Fprintf(w, "  Progress: %s %d%%\n", format.Bar(r.Progress, 20), format.Percent(r.Progress))
	}
	return nil
}
