package entity

import "time"

// TrackingStatus is the lifecycle state of a generation request row.
type TrackingStatus string

const (
	StatusQueued     TrackingStatus = "QUEUED"
	StatusProcessing TrackingStatus = "PROCESSING"
	StatusSucceeded  TrackingStatus = "SUCCEEDED"
	StatusFailed     TrackingStatus = "FAILED"
	StatusCanceled   TrackingStatus = "CANCELED"
)

// IsTerminal reports whether s admits no further transitions. Terminal rows
// must carry a null lock.
func (s TrackingStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// RequestJSONLimit bounds the persisted envelope copy; longer payloads are
// cut and suffixed with TruncationMarker.
const (
	RequestJSONLimit = 131072
	TruncationMarker = "[TRUNCATED]"
)

// TrackingRecord is the per-request row in the record store. Exactly one of
// TemplateID or CompositeDocumentID is set.
type TrackingRecord struct {
	ID                  string
	Status              TrackingStatus
	RequestHash         string
	RequestJSON         string
	Attempts            int
	LockedUntil         *time.Time
	ScheduledRetryTime  *time.Time
	Priority            *int
	OutputFileID        string
	MergedDocxFileID    string
	ErrorMessage        string
	CorrelationID       string
	CreatedAt           time.Time
	ModifiedAt          time.Time
	TemplateID          string
	CompositeDocumentID string

	// Lookups holds the dynamic per-object-type lookup columns keyed by the
	// field name from the supported-object map.
	Lookups map[string]string
}

// TruncateRequestJSON enforces the persisted-envelope size bound.
func TruncateRequestJSON(s string) string {
	if len(s) <= RequestJSONLimit {
		return s
	}
	return s[:RequestJSONLimit-len(TruncationMarker)] + TruncationMarker
}
