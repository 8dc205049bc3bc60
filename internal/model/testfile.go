package model

import (
	"encoding/json"
	"strings"
)

// TestFile is an uploaded test definition file.
type TestFile struct {
	ID             string          `json:"_id"`
	Name           string          `json:"test_file_name"`
	URL            string          `json:"url,omitempty"`
	Status         Status          `json:"status"`
	Progress       int             `json:"progress,omitempty"`
	InputVariables json.RawMessage `json:"input_variables,omitempty"`
}

func (f TestFile) ResourceID() string { return f.ID }

// UnmarshalJSON rounds fractional progress.
func (f *TestFile) UnmarshalJSON(data []byte) error {
	type plain TestFile
	var raw struct {
		plain
		Progress *progressNumber `json:"progress"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = TestFile(raw.plain)
	f.Progress = raw.Progress.percent()
	return nil
}

// ProgressState returns the status and progress pushed events update.
func (f TestFile) ProgressState() (Status, int) { return f.Status, f.Progress }

// WithProgress returns a copy of f updated from ev.
func (f TestFile) WithProgress(ev ProgressEvent) Resource {
	f.Progress = ev.Progress
	if ev.Status != "" {
		f.Status = ev.Status
	}
	return f
}

// Testcase is one row parsed out of a test file.
type Testcase struct {
	ID             string          `json:"_id"`
	FileID         string          `json:"file_id"`
	RowIndex       int             `json:"row_index"`
	Data           map[string]any  `json:"data,omitempty"`
	IsProcessed    bool            `json:"is_processed"`
	AutomationCode json.RawMessage `json:"automation_code,omitempty"`
}

func (c Testcase) ResourceID() string { return c.ID }

// Automated reports whether the server generated automation code for c.
func (c Testcase) Automated() bool {
	code := strings.TrimSpace(string(c.AutomationCode))
	return code != "" && code != "null" && code != `""`
}

// Field returns the string form of a data column, or "" when absent.
func (c Testcase) Field(name string) string {
	v, ok := c.Data[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

var (
	_ Progressive = TestFile{}
	_ Resource    = Testcase{}
)
