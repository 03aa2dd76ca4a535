// Package trackingrepo persists tracking rows on the record store. Field
// names are data here, not code: the dynamic lookup columns come from the
// supported-object map at runtime.
package trackingrepo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
)

const (
	objectType = "DocumentRequest__c"

	fStatus         = "Status__c"
	fRequestHash    = "RequestHash__c"
	fRequestJSON    = "RequestJson__c"
	fAttempts       = "Attempts__c"
	fLockedUntil    = "LockedUntil__c"
	fScheduledRetry = "ScheduledRetryTime__c"
	fPriority       = "Priority__c"
	fOutputFile     = "OutputFileId__c"
	fMergedDocxFile = "MergedDocxFileId__c"
	fError          = "Error__c"
	fCorrelationID  = "CorrelationId__c"
	fTemplateID     = "TemplateId__c"
	fCompositeID    = "CompositeDocumentId__c"
	fCreated        = "CreatedDate"
	fModstamp       = "SystemModstamp"
)

var selectFields = strings.Join([]string{
	"Id", fStatus, fRequestHash, fRequestJSON, fAttempts, fLockedUntil,
	fScheduledRetry, fPriority, fOutputFile, fMergedDocxFile, fError,
	fCorrelationID, fTemplateID, fCompositeID, fCreated, fModstamp,
}, ", ")

// Repo implements port.TrackingRepository.
type Repo struct {
	store port.RecordStore
}

func New(store port.RecordStore) *Repo {
	return &Repo{store: store}
}

// Insert creates a row. A duplicate request hash surfaces as a conflict via
// the store's unique constraint; callers must re-run their lookup then.
func (r *Repo) Insert(ctx context.Context, rec *entity.TrackingRecord) (string, error) {
	fields := map[string]any{
		fStatus:        string(rec.Status),
		fRequestHash:   rec.RequestHash,
		fRequestJSON:   entity.TruncateRequestJSON(rec.RequestJSON),
		fAttempts:      rec.Attempts,
		fCorrelationID: rec.CorrelationID,
	}
	if rec.TemplateID != "" {
		fields[fTemplateID] = rec.TemplateID
	}
	if rec.CompositeDocumentID != "" {
		fields[fCompositeID] = rec.CompositeDocumentID
	}
	if rec.Priority != nil {
		fields[fPriority] = *rec.Priority
	}
	if rec.LockedUntil != nil {
		fields[fLockedUntil] = soqlTime(*rec.LockedUntil)
	}
	for field, value := range rec.Lookups {
		fields[field] = value
	}

	id, err := r.store.CreateRecord(ctx, objectType, fields)
	if err != nil {
		return "", fmt.Errorf("inserting tracking row: %w", err)
	}
	return id, nil
}

func (r *Repo) Get(ctx context.Context, id string) (*entity.TrackingRecord, error) {
	soql := fmt.Sprintf("SELECT %s FROM %s WHERE Id = %s LIMIT 1",
		selectFields, objectType, soqlQuote(id))
	rows, err := r.store.Query(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("loading tracking row: %w", err)
	}
	if len(rows) == 0 {
		return nil, entity.NewError(entity.KindValidation, "tracking record %s not found", id)
	}
	return fromRow(rows[0]), nil
}

// FetchDue returns rows eligible for processing: queued rows past any
// scheduled retry time, plus PROCESSING rows whose lease expired. The second
// arm reclaims work from replicas that died mid-claim; a null lease never
// matches, so interactive rows stay untouched.
func (r *Repo) FetchDue(ctx context.Context, limit int, now time.Time) ([]*entity.TrackingRecord, error) {
	ts := soqlTime(now)
	soql := fmt.Sprintf(
		"SELECT %s FROM %s WHERE"+
			" (%s = '%s' OR (%s = '%s' AND %s < %s))"+
			" AND (%s = null OR %s <= %s)"+
			" ORDER BY %s DESC NULLS LAST, %s ASC LIMIT %d",
		selectFields, objectType,
		fStatus, entity.StatusQueued,
		fStatus, entity.StatusProcessing, fLockedUntil, ts,
		fScheduledRetry, fScheduledRetry, ts,
		fPriority, fCreated, limit)

	rows, err := r.store.Query(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("fetching due tracking rows: %w", err)
	}
	out := make([]*entity.TrackingRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// Claim transitions a fetched row to PROCESSING with a lease. The patch is
// conditioned on the row's modification stamp so only one replica wins.
func (r *Repo) Claim(ctx context.Context, rec *entity.TrackingRecord, until time.Time) error {
	fields := map[string]any{
		fStatus:      string(entity.StatusProcessing),
		fLockedUntil: soqlTime(until),
	}
	if err := r.store.PatchRecordIf(ctx, objectType, rec.ID, fields, rec.ModifiedAt); err != nil {
		return fmt.Errorf("claiming tracking row: %w", err)
	}
	return nil
}

// MarkSucceeded finalizes a row. The semantic keys outputFileId and
// mergedDocxFileId map onto their columns; any other key is a dynamic lookup
// column name from the supported-object map and passes through verbatim.
func (r *Repo) MarkSucceeded(ctx context.Context, id string, fields map[string]any) error {
	patch := map[string]any{
		fStatus:      string(entity.StatusSucceeded),
		fError:       nil,
		fLockedUntil: nil,
	}
	for k, v := range fields {
		switch k {
		case "outputFileId":
			patch[fOutputFile] = v
		case "mergedDocxFileId":
			patch[fMergedDocxFile] = v
		default:
			patch[k] = v
		}
	}
	if err := r.store.PatchRecord(ctx, objectType, id, patch); err != nil {
		return fmt.Errorf("marking tracking row succeeded: %w", err)
	}
	return nil
}

func (r *Repo) MarkFailed(ctx context.Context, id, message string) error {
	err := r.store.PatchRecord(ctx, objectType, id, map[string]any{
		fStatus:      string(entity.StatusFailed),
		fError:       message,
		fLockedUntil: nil,
	})
	if err != nil {
		return fmt.Errorf("marking tracking row failed: %w", err)
	}
	return nil
}

// Requeue returns a row to the queue for another attempt.
func (r *Repo) Requeue(ctx context.Context, id string, attempts int, retryAt time.Time) error {
	err := r.store.PatchRecord(ctx, objectType, id, map[string]any{
		fStatus:         string(entity.StatusQueued),
		fAttempts:       attempts,
		fLockedUntil:    nil,
		fScheduledRetry: soqlTime(retryAt),
	})
	if err != nil {
		return fmt.Errorf("requeueing tracking row: %w", err)
	}
	return nil
}

// LookupByHash returns the most recent successful row with the given hash
// created after since, or nil when there is none.
func (r *Repo) LookupByHash(ctx context.Context, hash string, since time.Time) (*entity.TrackingRecord, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = %s AND %s = '%s' AND %s > %s ORDER BY %s DESC LIMIT 1",
		selectFields, objectType,
		fRequestHash, soqlQuote(hash),
		fStatus, entity.StatusSucceeded,
		fCreated, soqlTime(since),
		fCreated)

	rows, err := r.store.Query(ctx, soql)
	if err != nil {
		return nil, fmt.Errorf("looking up tracking row by hash: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return fromRow(rows[0]), nil
}

// --- row mapping ---

func fromRow(row map[string]any) *entity.TrackingRecord {
	rec := &entity.TrackingRecord{
		ID:                  str(row["Id"]),
		Status:              entity.TrackingStatus(str(row[fStatus])),
		RequestHash:         str(row[fRequestHash]),
		RequestJSON:         str(row[fRequestJSON]),
		Attempts:            intval(row[fAttempts]),
		OutputFileID:        str(row[fOutputFile]),
		MergedDocxFileID:    str(row[fMergedDocxFile]),
		ErrorMessage:        str(row[fError]),
		CorrelationID:       str(row[fCorrelationID]),
		TemplateID:          str(row[fTemplateID]),
		CompositeDocumentID: str(row[fCompositeID]),
		CreatedAt:           timeval(row[fCreated]),
		ModifiedAt:          timeval(row[fModstamp]),
		LockedUntil:         timeptr(row[fLockedUntil]),
		ScheduledRetryTime:  timeptr(row[fScheduledRetry]),
	}
	if p, ok := row[fPriority]; ok && p != nil {
		v := intval(p)
		rec.Priority = &v
	}
	return rec
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func intval(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

// storeTimeLayouts covers the store's datetime rendering and plain RFC 3339.
var storeTimeLayouts = []string{"2006-01-02T15:04:05.000-0700", time.RFC3339}

func timeval(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	for _, layout := range storeTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func timeptr(v any) *time.Time {
	t := timeval(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

func soqlTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// soqlQuote renders a string literal with the store's escaping rules.
func soqlQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
