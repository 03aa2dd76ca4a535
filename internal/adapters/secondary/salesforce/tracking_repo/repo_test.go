package trackingrepo

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
)

type fakeStore struct {
	port.RecordStore

	queries []string
	rows    []map[string]any

	created    map[string]any
	patched    map[string]any
	patchedID  string
	condStamp  time.Time
	patchIfErr error
}

func (f *fakeStore) Query(_ context.Context, soql string) ([]map[string]any, error) {
	f.queries = append(f.queries, soql)
	return f.rows, nil
}

func (f *fakeStore) CreateRecord(_ context.Context, _ string, fields map[string]any) (string, error) {
	f.created = fields
	return "a00-1", nil
}

func (f *fakeStore) PatchRecord(_ context.Context, _, id string, fields map[string]any) error {
	f.patchedID = id
	f.patched = fields
	return nil
}

func (f *fakeStore) PatchRecordIf(_ context.Context, _, id string, fields map[string]any, unmodifiedSince time.Time) error {
	if f.patchIfErr != nil {
		return f.patchIfErr
	}
	f.patchedID = id
	f.patched = fields
	f.condStamp = unmodifiedSince
	return nil
}

func TestInsertMapsFieldsAndLookups(t *testing.T) {
	store := &fakeStore{}
	repo := New(store)

	id, err := repo.Insert(context.Background(), &entity.TrackingRecord{
		Status:        entity.StatusProcessing,
		RequestHash:   "hash-1",
		RequestJSON:   `{"templateId":"068X"}`,
		CorrelationID: "cid-1",
		TemplateID:    "068X",
		Lookups:       map[string]string{"AccountLookup__c": "001X"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a00-1", id)

	assert.Equal(t, "PROCESSING", store.created["Status__c"])
	assert.Equal(t, "hash-1", store.created["RequestHash__c"])
	assert.Equal(t, "001X", store.created["AccountLookup__c"])
	assert.NotContains(t, store.created, "CompositeDocumentId__c", "unset target is omitted")
}

func TestInsertTruncatesOversizedEnvelope(t *testing.T) {
	store := &fakeStore{}
	repo := New(store)

	huge := strings.Repeat("x", entity.RequestJSONLimit+100)
	_, err := repo.Insert(context.Background(), &entity.TrackingRecord{RequestJSON: huge})
	require.NoError(t, err)

	stored := store.created["RequestJson__c"].(string)
	assert.Len(t, stored, entity.RequestJSONLimit)
	assert.True(t, strings.HasSuffix(stored, entity.TruncationMarker))
}

func TestFetchDueQueryShape(t *testing.T) {
	store := &fakeStore{rows: []map[string]any{{
		"Id":          "a00-1",
		"Status__c":   "QUEUED",
		"Attempts__c": float64(2),
		"Priority__c": float64(5),
		"CreatedDate": "2026-08-24T10:00:00.000+0000",
	}}}
	repo := New(store)

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	rows, err := repo.FetchDue(context.Background(), 20, now)
	require.NoError(t, err)

	soql := store.queries[0]
	assert.Contains(t, soql,
		"(Status__c = 'QUEUED' OR (Status__c = 'PROCESSING' AND LockedUntil__c < 2026-08-24T12:00:00Z))")
	assert.Contains(t, soql, "ORDER BY Priority__c DESC NULLS LAST, CreatedDate ASC LIMIT 20")

	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Attempts)
	require.NotNil(t, rows[0].Priority)
	assert.Equal(t, 5, *rows[0].Priority)
}

// A replica that dies after claiming never requeues its row. The fetch
// predicate must admit PROCESSING rows once their lease lapses so another
// replica picks them up, while leaving live leases and unleased rows alone.
func TestFetchDueReclaimsExpiredLeases(t *testing.T) {
	store := &fakeStore{}
	repo := New(store)

	stamp := time.Date(2026, 8, 24, 11, 58, 0, 0, time.UTC)
	until := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Claim(context.Background(),
		&entity.TrackingRecord{ID: "a00-1", ModifiedAt: stamp}, until))
	assert.Equal(t, "PROCESSING", store.patched["Status__c"])

	// The claimer crashes here; hours later another replica polls.
	later := until.Add(2 * time.Hour)
	_, err := repo.FetchDue(context.Background(), 20, later)
	require.NoError(t, err)

	soql := store.queries[0]
	assert.Contains(t, soql, "Status__c = 'PROCESSING' AND LockedUntil__c < 2026-08-24T14:00:00Z",
		"an expired lease makes the row eligible again")
	assert.NotContains(t, soql, "LockedUntil__c = null OR",
		"rows without a lease are not reclaimable through the PROCESSING arm")
}

func TestClaimUsesModificationStamp(t *testing.T) {
	store := &fakeStore{}
	repo := New(store)

	stamp := time.Date(2026, 8, 24, 11, 59, 0, 0, time.UTC)
	until := time.Date(2026, 8, 24, 12, 2, 0, 0, time.UTC)
	err := repo.Claim(context.Background(), &entity.TrackingRecord{ID: "a00-1", ModifiedAt: stamp}, until)
	require.NoError(t, err)

	assert.Equal(t, "a00-1", store.patchedID)
	assert.Equal(t, "PROCESSING", store.patched["Status__c"])
	assert.Equal(t, "2026-08-24T12:02:00Z", store.patched["LockedUntil__c"])
	assert.Equal(t, stamp, store.condStamp)
}

func TestClaimSurfacesLostRace(t *testing.T) {
	store := &fakeStore{patchIfErr: entity.NewError(entity.KindRecordStoreConflict, "mid-air collision")}
	repo := New(store)

	err := repo.Claim(context.Background(), &entity.TrackingRecord{ID: "a00-1"}, time.Now())
	require.Error(t, err)
	assert.Equal(t, entity.KindRecordStoreConflict, entity.KindOf(err))
}

func TestMarkSucceededTranslatesSemanticKeys(t *testing.T) {
	store := &fakeStore{}
	repo := New(store)

	err := repo.MarkSucceeded(context.Background(), "a00-1", map[string]any{
		"outputFileId":     "068P",
		"mergedDocxFileId": "068D",
		"AccountLookup__c": "001X",
	})
	require.NoError(t, err)

	assert.Equal(t, "SUCCEEDED", store.patched["Status__c"])
	assert.Equal(t, "068P", store.patched["OutputFileId__c"])
	assert.Equal(t, "068D", store.patched["MergedDocxFileId__c"])
	assert.Equal(t, "001X", store.patched["AccountLookup__c"], "dynamic lookup columns pass through")
	assert.Nil(t, store.patched["LockedUntil__c"], "terminal rows carry a null lock")
	assert.Nil(t, store.patched["Error__c"])
}

func TestRequeueSchedulesRetry(t *testing.T) {
	store := &fakeStore{}
	repo := New(store)

	retryAt := time.Date(2026, 8, 24, 12, 5, 0, 0, time.UTC)
	require.NoError(t, repo.Requeue(context.Background(), "a00-1", 2, retryAt))

	assert.Equal(t, "QUEUED", store.patched["Status__c"])
	assert.Equal(t, 2, store.patched["Attempts__c"])
	assert.Equal(t, "2026-08-24T12:05:00Z", store.patched["ScheduledRetryTime__c"])
	assert.Nil(t, store.patched["LockedUntil__c"])
}

func TestLookupByHashQuotesAndFilters(t *testing.T) {
	store := &fakeStore{rows: []map[string]any{{"Id": "a00-9", "OutputFileId__c": "068P"}}}
	repo := New(store)

	since := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	rec, err := repo.LookupByHash(context.Background(), "ha'sh", since)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "068P", rec.OutputFileID)

	soql := store.queries[0]
	assert.Contains(t, soql, `RequestHash__c = 'ha\'sh'`)
	assert.Contains(t, soql, "Status__c = 'SUCCEEDED'")
	assert.Contains(t, soql, "CreatedDate > 2026-08-23T12:00:00Z")
}

func TestLookupByHashMissReturnsNil(t *testing.T) {
	repo := New(&fakeStore{})
	rec, err := repo.LookupByHash(context.Background(), "h", time.Now())
	require.NoError(t, err)
	assert.Nil(t, rec)
}
