package model

import (
	"encoding/json"
	"math"
)

// ProgressEvent is a push notification about a single resource. It is not
// tied to any request, only to ResourceID.
type ProgressEvent struct {
	ResourceID string `json:"resourceId"`
	Progress   int    `json:"progress"`
	Status     Status `json:"status,omitempty"`
}

// UnmarshalJSON accepts the fileId and reportId aliases sent by older
// servers and fractional progress values.
func (e *ProgressEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		ResourceID string   `json:"resourceId"`
		FileID     string   `json:"fileId"`
		ReportID   string   `json:"reportId"`
		Progress   *progressNumber `json:"progress"`
		Status     Status          `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = ProgressEvent{ResourceID: raw.ResourceID, Status: raw.Status}
	switch {
	case e.ResourceID != "":
	case raw.FileID != "":
		e.ResourceID = raw.FileID
	default:
		e.ResourceID = raw.ReportID
	}
	e.Progress = raw.Progress.percent()
	*e = e.Normalize()
	return nil
}

// Normalize clamps progress to [0,100] and treats a completed event with no
// status as a success.
func (e ProgressEvent) Normalize() ProgressEvent {
	if e.Progress < 0 {
		e.Progress = 0
	}
	if e.Progress > 100 {
		e.Progress = 100
	}
	if e.Status == "" && e.Progress == 100 {
		e.Status = StatusSuccess
	}
	return e
}

// Terminal reports whether ev ends the resource's job.
func (e ProgressEvent) Terminal() bool {
	return e.Status.Terminal()
}

// Advances reports whether applying e moves an item at status and progress
// forward. A finished item never moves.
func (e ProgressEvent) Advances(status Status, progress int) bool {
	switch {
	case status.Terminal():
		return false
	case e.Terminal():
		return true
	case e.Progress != progress:
		return e.Progress > progress
	default:
		return e.Status != "" && e.Status != status
	}
}

// progressNumber decodes a progress value, which servers may send as a
// fractional number.
type progressNumber float64

func (p *progressNumber) percent() int {
	if p == nil {
		return 0
	}
	return int(math.Round(float64(*p)))
}
