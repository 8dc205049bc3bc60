package output

import (
	"encoding/json"
	"io"

	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/pager"
)

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	Pretty bool
}

// ListOutput wraps one page with its position in the collection.
type ListOutput[T model.Resource] struct {
	Items     []T `json:"items"`
	Total     int `json:"total"`
	Page      int `json:"page"`
	PageCount int `json:"page_count"`
	Limit     int `json:"limit"`
}

func listOutput[T model.Resource](st pager.State[T]) ListOutput[T] {
	items := st.Items
	if items == nil {
		items = []T{}
	}
	return ListOutput[T]{
		Items:     items,
		Total:     st.Total,
		Page:      st.PageIndex + 1,
		PageCount: st.PageCount,
		Limit:     st.PageSize,
	}
}

func (f *JSONFormatter) encode(v any, w io.Writer) error {
	encoder := json.NewEncoder(w)
	if f.Pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(v)
}

func (f *JSONFormatter) Files(st pager.State[model.TestFile], w io.Writer) error {
	return f.encode(listOutput(st), w)
}

func (f *JSONFormatter) Testcases(st pager.State[model.Testcase], w io.Writer) error {
	return f.encode(listOutput(st), w)
}

func (f *JSONFormatter) Reports(st pager.State[model.Report], w io.Writer) error {
	return f.encode(listOutput(st), w)
}

func (f *JSONFormatter) ReportDetails(st pager.State[model.ReportDetail], w io.Writer) error {
	return f.encode(listOutput(st), w)
}

func (f *JSONFormatter) TestFile(tf model.TestFile, w io.Writer) error {
	return f.encode(tf, w)
}

func (f *JSONFormatter) Report(r model.Report, w io.Writer) error {
	return f.encode(r, w)
}
