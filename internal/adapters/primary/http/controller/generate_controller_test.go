package controller

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/docgen-engine/internal/adapters/primary/http/dto"
	"github.com/rendis/docgen-engine/internal/adapters/primary/http/mapper"
	"github.com/rendis/docgen-engine/internal/adapters/primary/http/middleware"
	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
	"github.com/rendis/docgen-engine/internal/core/service/assembly"
	"github.com/rendis/docgen-engine/internal/core/service/generation"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

type fakeAssembler struct {
	env *entity.Envelope
	err error
}

func (f *fakeAssembler) Assemble(context.Context, *assembly.Request) (*entity.Envelope, error) {
	return f.env, f.err
}

type fakeGuard struct {
	prior    *entity.TrackingRecord
	winner   *entity.TrackingRecord
	conflict bool

	lookups    int
	registered *entity.TrackingRecord
}

func (f *fakeGuard) Lookup(context.Context, string) (*entity.TrackingRecord, error) {
	f.lookups++
	return f.prior, nil
}

func (f *fakeGuard) Register(_ context.Context, rec *entity.TrackingRecord) (*entity.TrackingRecord, bool, error) {
	if f.conflict {
		return f.winner, true, nil
	}
	rec.ID = "a00-new"
	f.registered = rec
	return nil, false, nil
}

type fakeRunner struct {
	out  *generation.Output
	err  error
	runs int
}

func (f *fakeRunner) Run(_ context.Context, _ *entity.Envelope, _ *entity.TrackingRecord, _ string) (*generation.Output, error) {
	f.runs++
	return f.out, f.err
}

type fakeMarker struct {
	failed map[string]string
}

func (f *fakeMarker) MarkFailed(_ context.Context, id, message string) error {
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[id] = message
	return nil
}

type fakeURLs struct{}

func (fakeURLs) DownloadURL(cv string) string { return "https://store.example.com/download/" + cv }

type harness struct {
	assembler *fakeAssembler
	guard     *fakeGuard
	runner    *fakeRunner
	marker    *fakeMarker
	router    *gin.Engine
}

func newHarness() *harness {
	h := &harness{
		assembler: &fakeAssembler{env: &entity.Envelope{
			TemplateID:   "068X",
			Templates:    []entity.TemplateSection{{BinaryID: "cv-068X"}},
			Data:         map[string]any{},
			OutputFormat: entity.FormatPDF,
			RequestHash:  "hash-1",
		}},
		guard: &fakeGuard{},
		runner: &fakeRunner{out: &generation.Output{
			Publish: &port.PublishResult{PDFContentVersionID: "068P"},
		}},
		marker: &fakeMarker{},
	}
	ctrl := NewGenerateController(mapper.NewGenerateMapper(), h.assembler, h.guard, h.runner, h.marker, fakeURLs{})
	h.router = gin.New()
	h.router.Use(middleware.Correlation())
	h.router.POST("/generate", ctrl.Generate)
	return h
}

func (h *harness) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.CorrelationHeader, "cid-test")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

const validBody = `{"templateId":"068X","primaryRecordId":"001X","outputFormat":"PDF"}`

func TestGenerateHappyPath(t *testing.T) {
	h := newHarness()
	w := h.post(t, validBody)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp dto.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "068P", resp.ContentVersionID)
	assert.Equal(t, "https://store.example.com/download/068P", resp.DownloadURL)
	assert.Equal(t, "cid-test", resp.CorrelationID)
	assert.False(t, resp.CacheHit)
	assert.Empty(t, resp.DocxBase64)

	require.NotNil(t, h.guard.registered)
	assert.Equal(t, entity.StatusProcessing, h.guard.registered.Status)
	assert.Equal(t, "hash-1", h.guard.registered.RequestHash)
	assert.Equal(t, "068X", h.guard.registered.TemplateID)
	assert.Contains(t, h.guard.registered.RequestJSON, `"templateId":"068X"`)
}

func TestGenerateServesPriorArtifact(t *testing.T) {
	h := newHarness()
	h.guard.prior = &entity.TrackingRecord{ID: "a00-old", OutputFileID: "068-cached"}

	w := h.post(t, validBody)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.CacheHit)
	assert.Equal(t, "068-cached", resp.ContentVersionID)
	assert.Zero(t, h.runner.runs, "cache hits never regenerate")
}

func TestGenerateServesRaceWinner(t *testing.T) {
	h := newHarness()
	h.guard.conflict = true
	h.guard.winner = &entity.TrackingRecord{ID: "a00-winner", OutputFileID: "068-won"}

	w := h.post(t, validBody)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.CacheHit)
	assert.Equal(t, "068-won", resp.ContentVersionID)
	assert.Zero(t, h.runner.runs)
}

func TestGenerateFailureMarksTrackingRow(t *testing.T) {
	h := newHarness()
	h.runner.err = entity.NewError(entity.KindTemplateInvalid, "unclosed block")

	w := h.post(t, validBody)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "templateInvalid")
	assert.Contains(t, w.Body.String(), "cid-test")
	assert.Contains(t, h.marker.failed["a00-new"], "unclosed block")
}

func TestGenerateRejectsMalformedBody(t *testing.T) {
	h := newHarness()
	w := h.post(t, `{"templateId":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validationError")
}

func TestGenerateRejectsUnknownFormat(t *testing.T) {
	h := newHarness()
	w := h.post(t, `{"templateId":"068X","outputFormat":"XLSX"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "outputFormat must be PDF or DOCX")
}

func TestGenerateReturnsDocxWhenRequested(t *testing.T) {
	h := newHarness()
	h.runner.out = &generation.Output{
		Publish:   &port.PublishResult{DocxContentVersionID: "068D"},
		DocxBytes: []byte("merged-docx"),
	}

	w := h.post(t, `{"templateId":"068X","outputFormat":"DOCX","options":{"returnDocxToClient":true}}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "068D", resp.ContentVersionID)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("merged-docx")), resp.DocxBase64)
}

func TestGenerateBodyCorrelationIDWins(t *testing.T) {
	h := newHarness()
	w := h.post(t, `{"templateId":"068X","outputFormat":"PDF","correlationId":"cid-body"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cid-body", resp.CorrelationID)
	assert.Equal(t, "cid-body", w.Header().Get(middleware.CorrelationHeader))
	require.NotNil(t, h.guard.registered)
	assert.Equal(t, "cid-body", h.guard.registered.CorrelationID)
}

func TestGeneratePreCreatedRowSkipsRegistration(t *testing.T) {
	h := newHarness()
	h.runner.err = entity.NewError(entity.KindTemplateInvalid, "unclosed block")

	w := h.post(t, `{"templateId":"068X","outputFormat":"PDF","trackingRecordId":"a00-pre"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Zero(t, h.guard.lookups, "a caller-owned row bypasses the idempotency guard")
	assert.Nil(t, h.guard.registered)
	assert.Contains(t, h.marker.failed["a00-pre"], "unclosed block",
		"failures land on the caller's row")
}

func TestGenerateAssemblyErrorShortCircuits(t *testing.T) {
	h := newHarness()
	h.assembler.env = nil
	h.assembler.err = entity.NewError(entity.KindTemplateNotFound, "template 068X not found")

	w := h.post(t, validBody)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, h.runner.runs)
	assert.Nil(t, h.guard.registered)
}
