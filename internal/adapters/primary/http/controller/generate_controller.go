// Package controller holds the gin handlers of the HTTP surface.
package controller

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rendis/docgen-engine/internal/adapters/primary/http/dto"
	"github.com/rendis/docgen-engine/internal/adapters/primary/http/mapper"
	"github.com/rendis/docgen-engine/internal/adapters/primary/http/middleware"
	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
	"github.com/rendis/docgen-engine/internal/core/service/assembly"
	"github.com/rendis/docgen-engine/internal/core/service/generation"
	"github.com/rendis/docgen-engine/internal/infra/metrics"
)

// URLBuilder derives the public download URL of a stored artifact.
type URLBuilder interface {
	DownloadURL(contentVersionID string) string
}

// Assembler resolves a request into an envelope.
type Assembler interface {
	Assemble(ctx context.Context, req *assembly.Request) (*entity.Envelope, error)
}

// Guard is the idempotency boundary of the interactive path.
type Guard interface {
	Lookup(ctx context.Context, hash string) (*entity.TrackingRecord, error)
	Register(ctx context.Context, rec *entity.TrackingRecord) (*entity.TrackingRecord, bool, error)
}

// Runner executes an assembled envelope.
type Runner interface {
	Run(ctx context.Context, env *entity.Envelope, rec *entity.TrackingRecord, mode string) (*generation.Output, error)
}

// FailureMarker finalizes a tracking row after an interactive failure.
type FailureMarker interface {
	MarkFailed(ctx context.Context, id, message string) error
}

// GenerateController serves POST /generate.
type GenerateController struct {
	mapper    *mapper.GenerateMapper
	assembler Assembler
	guard     Guard
	runner    Runner
	tracking  FailureMarker
	urls      URLBuilder
}

func NewGenerateController(m *mapper.GenerateMapper, assembler Assembler, guard Guard, runner Runner, tracking FailureMarker, urls URLBuilder) *GenerateController {
	return &GenerateController{
		mapper:    m,
		assembler: assembler,
		guard:     guard,
		runner:    runner,
		tracking:  tracking,
		urls:      urls,
	}
}

// Generate runs the interactive path: assemble, dedupe, generate, publish.
func (g *GenerateController) Generate(c *gin.Context) {
	ctx := c.Request.Context()
	cid := middleware.CorrelationID(c)

	var body dto.GenerateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, entity.WrapError(entity.KindValidation, err, "malformed request body"))
		return
	}
	if body.CorrelationID != "" {
		middleware.Rebind(c, body.CorrelationID)
		cid = middleware.CorrelationID(c)
	}

	req, err := g.mapper.ToAssemblyRequest(&body, cid)
	if err != nil {
		respondError(c, err)
		return
	}

	env, err := g.assembler.Assemble(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}

	rec := g.trackingRow(env, cid)
	if body.TrackingRecordID != "" {
		// The caller already owns a row; skip dedupe registration and anchor
		// the run on it.
		rec.ID = body.TrackingRecordID
	} else {
		if prior, err := g.guard.Lookup(ctx, env.RequestHash); err != nil {
			respondError(c, err)
			return
		} else if prior != nil {
			g.respondCached(c, cid, prior)
			return
		}

		winner, conflict, err := g.guard.Register(ctx, rec)
		if err != nil {
			respondError(c, err)
			return
		}
		if conflict {
			g.respondCached(c, cid, winner)
			return
		}
	}
	env.TrackingRecordID = rec.ID

	out, err := g.runner.Run(ctx, env, rec, metrics.ModeInteractive)
	if err != nil {
		if markErr := g.tracking.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
			slog.WarnContext(ctx, "marking tracking row failed", "tracking_record_id", rec.ID, "error", markErr)
		}
		respondError(c, err)
		return
	}

	resp := dto.GenerateResponse{
		ContentVersionID: primaryVersion(out.Publish),
		CorrelationID:    cid,
	}
	resp.DownloadURL = g.urls.DownloadURL(resp.ContentVersionID)
	if len(out.DocxBytes) > 0 {
		resp.DocxBase64 = base64.StdEncoding.EncodeToString(out.DocxBytes)
	}
	c.JSON(http.StatusOK, resp)
}

// trackingRow builds the PROCESSING row that anchors this request. The
// envelope copy is persisted for replay and audit.
func (g *GenerateController) trackingRow(env *entity.Envelope, cid string) *entity.TrackingRecord {
	raw, _ := json.Marshal(env)
	return &entity.TrackingRecord{
		Status:              entity.StatusProcessing,
		RequestHash:         env.RequestHash,
		RequestJSON:         entity.TruncateRequestJSON(string(raw)),
		CorrelationID:       cid,
		TemplateID:          env.TemplateID,
		CompositeDocumentID: env.CompositeDocumentID,
	}
}

func (g *GenerateController) respondCached(c *gin.Context, cid string, prior *entity.TrackingRecord) {
	c.JSON(http.StatusOK, dto.GenerateResponse{
		DownloadURL:      g.urls.DownloadURL(prior.OutputFileID),
		ContentVersionID: prior.OutputFileID,
		CorrelationID:    cid,
		CacheHit:         true,
	})
}

func primaryVersion(res *port.PublishResult) string {
	if res.PDFContentVersionID != "" {
		return res.PDFContentVersionID
	}
	return res.DocxContentVersionID
}

func respondError(c *gin.Context, err error) {
	c.JSON(entity.HTTPStatus(err), dto.ErrorResponse{
		Error: dto.ErrorBody{
			Kind:          string(entity.KindOf(err)),
			Message:       entity.PublicMessage(err),
			CorrelationID: middleware.CorrelationID(c),
			Retryable:     entity.IsRetryable(err),
		},
	})
}
