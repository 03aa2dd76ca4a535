// Package publish uploads generated artifacts, links them to their parent
// records, and finalizes the tracking row.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
)

// Publisher implements the upload-and-link step.
type Publisher struct {
	store     port.RecordStore
	templates port.TemplateRepository
	tracking  port.TrackingRepository
}

func New(store port.RecordStore, templates port.TemplateRepository, tracking port.TrackingRepository) *Publisher {
	return &Publisher{store: store, templates: templates, tracking: tracking}
}

// Publish uploads the artifacts, creates one link per supported parent, and
// marks the tracking row SUCCEEDED. Individual link failures accumulate; only
// losing every link fails the row, with the orphaned file noted.
func (p *Publisher) Publish(ctx context.Context, pdfBytes, docxBytes []byte, env *entity.Envelope, rec *entity.TrackingRecord) (*port.PublishResult, error) {
	base := fileNameBase(env, rec)
	result := &port.PublishResult{}

	var primary *port.UploadResult
	if pdfBytes != nil {
		uploaded, err := p.store.UploadContentVersion(ctx, base+".pdf", pdfBytes)
		if err != nil {
			return nil, err
		}
		result.PDFContentVersionID = uploaded.ContentVersionID
		primary = uploaded
	}
	if docxBytes != nil {
		uploaded, err := p.store.UploadContentVersion(ctx, base+".docx", docxBytes)
		if err != nil {
			return nil, err
		}
		result.DocxContentVersionID = uploaded.ContentVersionID
		if primary == nil {
			primary = uploaded
		}
	}
	if primary == nil {
		return nil, entity.NewError(entity.KindInternal, "publish called without any artifact")
	}

	supported, err := p.templates.SupportedObjects(ctx)
	if err != nil {
		return nil, err
	}

	attempted := 0
	for _, obj := range supported {
		parentID := env.Parents[obj.ObjectType]
		if parentID == "" {
			continue
		}
		attempted++
		if _, linkErr := p.store.CreateLink(ctx, primary.ContentDocumentID, parentID); linkErr != nil {
			slog.WarnContext(ctx, "artifact link failed",
				"parent_type", obj.ObjectType, "parent_id", parentID, "error", linkErr)
			result.LinkErrors = append(result.LinkErrors, linkErr)
			continue
		}
		result.LinkCount++
	}

	if attempted > 0 && result.LinkCount == 0 {
		msg := fmt.Sprintf("artifact %s uploaded but every parent link failed; file is orphaned",
			primary.ContentVersionID)
		if mfErr := p.tracking.MarkFailed(ctx, rec.ID, msg); mfErr != nil {
			slog.ErrorContext(ctx, "failing tracking row after link loss", "error", mfErr)
		}
		return result, entity.NewError(entity.KindLinkFailed, "%s", msg)
	}

	fields := map[string]any{"outputFileId": primary.ContentVersionID}
	if result.PDFContentVersionID != "" && result.DocxContentVersionID != "" {
		fields["mergedDocxFileId"] = result.DocxContentVersionID
	}
	if lookup := p.primaryLookupField(supported, env.Parents); lookup != "" {
		fields[lookup] = primary.ContentVersionID
	}
	if err := p.tracking.MarkSucceeded(ctx, rec.ID, fields); err != nil {
		return result, err
	}
	return result, nil
}

// primaryLookupField picks the dynamic lookup column for the first supported
// parent present on the envelope. The supported list arrives in display
// order, which defines primacy.
func (p *Publisher) primaryLookupField(supported []entity.SupportedObject, parents map[string]string) string {
	for _, obj := range supported {
		if parents[obj.ObjectType] != "" && obj.LookupField != "" {
			return obj.LookupField
		}
	}
	return ""
}

// fileNameBase derives the artifact name without extension. The caller's
// template may reference the correlation id, template id, current date, or
// any dot path into the data tree; tokens that resolve to nothing drop out.
func fileNameBase(env *entity.Envelope, rec *entity.TrackingRecord) string {
	name := env.Options.OutputFileName
	if name == "" {
		if rec.ID != "" {
			return "document-" + rec.ID
		}
		return "document-" + env.CorrelationID
	}
	name = nameToken.ReplaceAllStringFunc(name, func(tok string) string {
		switch key := tok[1 : len(tok)-1]; key {
		case "correlationId":
			return env.CorrelationID
		case "templateId":
			return env.TemplateID
		case "date":
			return time.Now().UTC().Format("2006-01-02")
		default:
			return dataToken(env.Data, key)
		}
	})
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".pdf"), ".docx")
	return sanitizeFileName(name)
}

var nameToken = regexp.MustCompile(`\{[^{}]+\}`)

// dataToken resolves a dot path against the data tree. Missing segments and
// non-scalar values resolve to empty.
func dataToken(data map[string]any, path string) string {
	var cur any = data
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[seg]
	}
	switch v := cur.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

func sanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == ' ', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "document"
	}
	return out
}
