// Package model defines the resources served by the test management API and
// the page snapshots the query cache stores for them.
package model

import "strings"

// Query kinds. List kinds are plural; detail kinds take an "id" param.
const (
	KindTestFiles     = "testfiles"
	KindTestFile      = "testfile"
	KindTestcases     = "testcases"
	KindReports       = "reports"
	KindReport        = "report"
	KindReportDetails = "report-details"
)

// Status is the server-side lifecycle state of a test file or report.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRunning    Status = "running"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further progress is expected.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// placeholderPrefix marks ids the server has not assigned yet.
const placeholderPrefix = "pending-"

// PlaceholderID returns the id of an optimistic item.
func PlaceholderID(suffix string) string { return placeholderPrefix + suffix }

// IsPlaceholder reports whether id belongs to an optimistic item.
func IsPlaceholder(id string) bool { return strings.HasPrefix(id, placeholderPrefix) }

// Resource is any item held in a cached page. Implementations are value
// types so a cached snapshot cannot be modified through an item it contains.
type Resource interface {
	ResourceID() string
}

// Progressive is implemented by resources whose progress and status are
// pushed over the realtime channel.
type Progressive interface {
	Resource
	WithProgress(ev ProgressEvent) Resource
	ProgressState() (Status, int)
}
