// Package mapper translates wire shapes into core requests.
package mapper

import (
	"github.com/rendis/docgen-engine/internal/adapters/primary/http/dto"
	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/service/assembly"
)

// GenerateMapper validates and converts generation requests.
type GenerateMapper struct{}

func NewGenerateMapper() *GenerateMapper {
	return &GenerateMapper{}
}

// ToAssemblyRequest validates the wire request and produces the core request.
func (m *GenerateMapper) ToAssemblyRequest(req *dto.GenerateRequest, correlationID string) (*assembly.Request, error) {
	format := entity.OutputFormat(req.OutputFormat)
	if format != entity.FormatPDF && format != entity.FormatDOCX {
		return nil, entity.NewError(entity.KindValidation, "outputFormat must be PDF or DOCX")
	}

	strategy := entity.CompositeStrategy(req.TemplateStrategy)
	switch strategy {
	case "", entity.StrategyOwnTemplate, entity.StrategyConcatenateTemplates:
	default:
		return nil, entity.NewError(entity.KindValidation, "templateStrategy must be OWN_TEMPLATE or CONCATENATE_TEMPLATES")
	}
	if strategy == entity.StrategyOwnTemplate && req.TemplateID == "" {
		return nil, entity.NewError(entity.KindValidation, "templateStrategy OWN_TEMPLATE requires templateId")
	}
	if strategy == entity.StrategyConcatenateTemplates && req.CompositeDocumentID == "" && len(req.Templates) == 0 {
		return nil, entity.NewError(entity.KindValidation, "templateStrategy CONCATENATE_TEMPLATES requires templates")
	}

	targets := 0
	for _, set := range []bool{req.TemplateID != "", req.CompositeDocumentID != "", len(req.Templates) > 0} {
		if set {
			targets++
		}
	}
	switch {
	case targets == 0:
		return nil, entity.NewError(entity.KindValidation, "one of templateId, compositeDocumentId or templates is required")
	case targets > 1:
		return nil, entity.NewError(entity.KindValidation, "templateId, compositeDocumentId and templates are mutually exclusive")
	}
	if req.CompositeDocumentID != "" && len(req.RecordIDs) == 0 && len(req.Data) == 0 {
		return nil, entity.NewError(entity.KindValidation, "composite requests require recordIds or inline data")
	}
	if len(req.Templates) > 0 && len(req.RecordIDs) == 0 && len(req.Data) == 0 {
		return nil, entity.NewError(entity.KindValidation, "templates requests require recordIds or inline data")
	}
	for _, t := range req.Templates {
		if t.TemplateID == "" || t.Namespace == "" {
			return nil, entity.NewError(entity.KindValidation, "every templates entry needs templateId and namespace")
		}
	}

	locale := req.Locale
	if locale == "" {
		locale = "en"
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	out := &assembly.Request{
		TemplateID:          req.TemplateID,
		CompositeDocumentID: req.CompositeDocumentID,
		PrimaryRecordID:     req.PrimaryRecordID,
		RecordIDs:           req.RecordIDs,
		Data:                req.Data,
		Parents:             req.Parents,
		Strategy:            strategy,
		OutputFormat:        format,
		Locale:              locale,
		Timezone:            timezone,
		CorrelationID:       correlationID,
	}
	for _, t := range req.Templates {
		out.Sections = append(out.Sections, entity.TemplateSection{
			TemplateID: t.TemplateID,
			Namespace:  t.Namespace,
			Sequence:   t.Sequence,
		})
	}
	if req.Options != nil {
		out.Options = entity.EnvelopeOptions{
			StoreMergedDocx:    req.Options.StoreMergedDocx,
			ReturnDocxToClient: req.Options.ReturnDocxToClient,
			OutputFileName:     req.Options.OutputFileName,
		}
	}
	return out, nil
}
