package output

import (
	"fmt"
	"io"

	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/pager"
)

// Format represents the output format
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatTable, FormatJSON:
		return Format(s), nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q: use table or json", s)
	}
}

// Formatter renders pages and single records.
type Formatter interface {
	Files(st pager.State[model.TestFile], w io.Writer) error
	Testcases(st pager.State[model.Testcase], w io.Writer) error
	Reports(st pager.State[model.Report], w io.Writer) error
	ReportDetails(st pager.State[model.ReportDetail], w io.Writer) error
	TestFile(f model.TestFile, w io.Writer) error
	Report(r model.Report, w io.Writer) error
}

// NewFormatter creates a formatter for the specified format. live tells the
// table formatter whether in-flight progress values are current.
func NewFormatter(format Format, live bool) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Pretty: true}
	default:
		return &TableFormatter{Live: live}
	}
}
