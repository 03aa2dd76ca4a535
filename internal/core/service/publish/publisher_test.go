package publish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
)

type fakeStore struct {
	port.RecordStore
	uploads   []string // filenames in call order
	links     []string // parent ids in call order
	linkFails map[string]error
	uploadErr error
}

func (f *fakeStore) UploadContentVersion(_ context.Context, filename string, _ []byte) (*port.UploadResult, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads = append(f.uploads, filename)
	return &port.UploadResult{
		ContentVersionID:  "068-" + filename,
		ContentDocumentID: "069-" + filename,
	}, nil
}

func (f *fakeStore) CreateLink(_ context.Context, _, parentID string) (string, error) {
	if err, ok := f.linkFails[parentID]; ok {
		return "", err
	}
	f.links = append(f.links, parentID)
	return "06A-" + parentID, nil
}

type fakeTemplates struct {
	port.TemplateRepository
	objects []entity.SupportedObject
}

func (f *fakeTemplates) SupportedObjects(context.Context) ([]entity.SupportedObject, error) {
	return f.objects, nil
}

type fakeTracking struct {
	port.TrackingRepository
	succeededID     string
	succeededFields map[string]any
	failedID        string
	failedMessage   string
}

func (f *fakeTracking) MarkSucceeded(_ context.Context, id string, fields map[string]any) error {
	f.succeededID = id
	f.succeededFields = fields
	return nil
}

func (f *fakeTracking) MarkFailed(_ context.Context, id, message string) error {
	f.failedID = id
	f.failedMessage = message
	return nil
}

func supportedAccountContact() []entity.SupportedObject {
	return []entity.SupportedObject{
		{ObjectType: "AccountId", LookupField: "AccountLookup__c", IsActive: true, DisplayOrder: 1},
		{ObjectType: "ContactId", LookupField: "ContactLookup__c", IsActive: true, DisplayOrder: 2},
	}
}

func TestPublishPDFHappyPath(t *testing.T) {
	store := &fakeStore{}
	tracking := &fakeTracking{}
	p := New(store, &fakeTemplates{objects: supportedAccountContact()}, tracking)

	env := &entity.Envelope{
		Parents:       map[string]string{"AccountId": "001X"},
		CorrelationID: "cid-1",
	}
	rec := &entity.TrackingRecord{ID: "a00-1"}

	result, err := p.Publish(context.Background(), []byte("%PDF"), nil, env, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"document-a00-1.pdf"}, store.uploads)
	assert.Equal(t, []string{"001X"}, store.links)
	assert.Equal(t, 1, result.LinkCount)
	assert.Empty(t, result.LinkErrors)

	assert.Equal(t, "a00-1", tracking.succeededID)
	assert.Equal(t, result.PDFContentVersionID, tracking.succeededFields["outputFileId"])
	assert.Equal(t, result.PDFContentVersionID, tracking.succeededFields["AccountLookup__c"])
	_, hasDocx := tracking.succeededFields["mergedDocxFileId"]
	assert.False(t, hasDocx)
}

func TestPublishStoresMergedDocx(t *testing.T) {
	store := &fakeStore{}
	tracking := &fakeTracking{}
	p := New(store, &fakeTemplates{objects: supportedAccountContact()}, tracking)

	env := &entity.Envelope{Parents: map[string]string{"AccountId": "001X"}}
	rec := &entity.TrackingRecord{ID: "a00-2"}

	result, err := p.Publish(context.Background(), []byte("%PDF"), []byte("docx"), env, rec)
	require.NoError(t, err)

	require.Len(t, store.uploads, 2)
	assert.Equal(t, result.DocxContentVersionID, tracking.succeededFields["mergedDocxFileId"])
	assert.Equal(t, result.PDFContentVersionID, tracking.succeededFields["outputFileId"])
}

func TestPublishDocxOnly(t *testing.T) {
	store := &fakeStore{}
	tracking := &fakeTracking{}
	p := New(store, &fakeTemplates{objects: supportedAccountContact()}, tracking)

	env := &entity.Envelope{Parents: map[string]string{"AccountId": "001X"}}
	rec := &entity.TrackingRecord{ID: "a00-3"}

	result, err := p.Publish(context.Background(), nil, []byte("docx"), env, rec)
	require.NoError(t, err)

	assert.Empty(t, result.PDFContentVersionID)
	assert.Equal(t, result.DocxContentVersionID, tracking.succeededFields["outputFileId"])
	assert.Equal(t, 1, result.LinkCount, "the docx document is linked when it is the only artifact")
}

func TestPublishSkipsUnsupportedParents(t *testing.T) {
	store := &fakeStore{}
	tracking := &fakeTracking{}
	p := New(store, &fakeTemplates{objects: supportedAccountContact()}, tracking)

	env := &entity.Envelope{Parents: map[string]string{
		"AccountId":     "001X",
		"CustomZebraId": "z01",
	}}
	rec := &entity.TrackingRecord{ID: "a00-4"}

	result, err := p.Publish(context.Background(), []byte("%PDF"), nil, env, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"001X"}, store.links)
	assert.Equal(t, 1, result.LinkCount)
}

func TestPublishPartialLinkFailureSucceeds(t *testing.T) {
	store := &fakeStore{linkFails: map[string]error{
		"003X": entity.NewError(entity.KindLinkFailed, "link rejected"),
	}}
	tracking := &fakeTracking{}
	p := New(store, &fakeTemplates{objects: supportedAccountContact()}, tracking)

	env := &entity.Envelope{Parents: map[string]string{
		"AccountId": "001X",
		"ContactId": "003X",
	}}
	rec := &entity.TrackingRecord{ID: "a00-5"}

	result, err := p.Publish(context.Background(), []byte("%PDF"), nil, env, rec)
	require.NoError(t, err)

	assert.Equal(t, 1, result.LinkCount)
	assert.Len(t, result.LinkErrors, 1)
	assert.Equal(t, "a00-5", tracking.succeededID)
}

func TestPublishAllLinksFailedOrphansFile(t *testing.T) {
	store := &fakeStore{linkFails: map[string]error{
		"001X": entity.NewError(entity.KindLinkFailed, "link rejected"),
	}}
	tracking := &fakeTracking{}
	p := New(store, &fakeTemplates{objects: supportedAccountContact()}, tracking)

	env := &entity.Envelope{Parents: map[string]string{"AccountId": "001X"}}
	rec := &entity.TrackingRecord{ID: "a00-6"}

	result, err := p.Publish(context.Background(), []byte("%PDF"), nil, env, rec)
	require.Error(t, err)
	assert.Equal(t, entity.KindLinkFailed, entity.KindOf(err))

	assert.Equal(t, "a00-6", tracking.failedID)
	assert.Contains(t, tracking.failedMessage, "orphaned")
	assert.Contains(t, tracking.failedMessage, result.PDFContentVersionID)
	assert.Empty(t, tracking.succeededID)
}

func TestPublishNoParentsStillSucceeds(t *testing.T) {
	store := &fakeStore{}
	tracking := &fakeTracking{}
	p := New(store, &fakeTemplates{objects: supportedAccountContact()}, tracking)

	env := &entity.Envelope{Parents: map[string]string{}}
	rec := &entity.TrackingRecord{ID: "a00-7"}

	result, err := p.Publish(context.Background(), []byte("%PDF"), nil, env, rec)
	require.NoError(t, err)
	assert.Zero(t, result.LinkCount)
	assert.Equal(t, "a00-7", tracking.succeededID)
}

func TestPublishFileNameTemplate(t *testing.T) {
	store := &fakeStore{}
	p := New(store, &fakeTemplates{}, &fakeTracking{})

	env := &entity.Envelope{
		TemplateID:    "068X",
		CorrelationID: "cid-9",
		Options:       entity.EnvelopeOptions{OutputFileName: "invoice-{templateId}.pdf"},
	}
	_, err := p.Publish(context.Background(), []byte("%PDF"), nil, env, &entity.TrackingRecord{ID: "a00-8"})
	require.NoError(t, err)

	assert.Equal(t, []string{"invoice-068X.pdf"}, store.uploads)
}

func TestPublishFileNameDataTokens(t *testing.T) {
	store := &fakeStore{}
	p := New(store, &fakeTemplates{}, &fakeTracking{})

	env := &entity.Envelope{
		CorrelationID: "cid-9",
		Data: map[string]any{
			"Name":    "Acme Corp",
			"Account": map[string]any{"Number": float64(42)},
		},
		Options: entity.EnvelopeOptions{OutputFileName: "{Name}-{Account.Number}{Missing.Path}"},
	}
	_, err := p.Publish(context.Background(), []byte("%PDF"), nil, env, &entity.TrackingRecord{ID: "a00-9"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Acme Corp-42.pdf"}, store.uploads,
		"data paths resolve, unresolved tokens drop out")
}
