package model

import "encoding/json"

// Report is the result of running testcases.
type Report struct {
	ID       string `json:"_id"`
	Name     string `json:"report_name"`
	Progress int    `json:"progress"`
	Status   Status `json:"status"`
}

func (r Report) ResourceID() string { return r.ID }

// UnmarshalJSON rounds fractional progress.
func (r *Report) UnmarshalJSON(data []byte) error {
	type plain Report
	var raw struct {
		plain
		Progress *progressNumber `json:"progress"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Report(raw.plain)
	r.Progress = raw.Progress.percent()
	return nil
}

// ProgressState returns the status and progress pushed events update.
func (r Report) ProgressState() (Status, int) { return r.Status, r.Progress }

// WithProgress returns a copy of r updated from ev.
func (r Report) WithProgress(ev ProgressEvent) Resource {
	r.Progress = ev.Progress
	if ev.Status != "" {
		r.Status = ev.Status
	}
	return r
}

// ReportDetail is the outcome of one testcase inside a report.
type ReportDetail struct {
	ID           string       `json:"_id"`
	Testcase     TestcaseRef  `json:"test_case_id"`
	Status       Status       `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	EvidencePath string       `json:"evidence_path,omitempty"`
	Steps        []StepResult `json:"detail_result,omitempty"`
}

func (d ReportDetail) ResourceID() string { return d.ID }

// TestcaseRef is the populated testcase reference embedded in a detail.
type TestcaseRef struct {
	ID   string         `json:"_id,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// ItemNo returns the spreadsheet item number of the referenced testcase.
func (r TestcaseRef) ItemNo() string {
	return Testcase{Data: r.Data}.Field("item_no")
}

// StepConfirm returns the expected outcome column of the referenced testcase.
func (r TestcaseRef) StepConfirm() string {
	return Testcase{Data: r.Data}.Field("step_confirm")
}

// StepResult is the outcome of a single automation step.
type StepResult struct {
	Step         string `json:"step"`
	IsSuccess    bool   `json:"isSuccess"`
	Description  string `json:"description,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// FailedSteps counts steps that did not succeed.
func (d ReportDetail) FailedSteps() int {
	n := 0
	for _, s := range d.Steps {
		if !s.IsSuccess {
			n++
		}
	}
	return n
}

var (
	_ Progressive = Report{}
	_ Resource    = ReportDetail{}
)
