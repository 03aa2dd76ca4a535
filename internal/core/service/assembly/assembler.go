// Package assembly turns generation requests into fully resolved envelopes:
// data trees fetched through providers, parent ids harvested, template
// binaries resolved, and the idempotency hash computed.
package assembly

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
)

// Request is the caller-facing shape of a generation request, before any
// metadata or data resolution has happened.
type Request struct {
	TemplateID          string
	CompositeDocumentID string

	// PrimaryRecordID drives the single-template path; RecordIDs seeds the
	// composite variable pool.
	PrimaryRecordID string
	RecordIDs       map[string]string

	// Data is caller-supplied inline data. It overlays provider output key
	// by key at the top level.
	Data    map[string]any
	Parents map[string]string

	// Strategy and Sections drive ad-hoc concatenation: callers may request
	// CONCATENATE_TEMPLATES with an explicit section list instead of naming a
	// configured composite document.
	Strategy entity.CompositeStrategy
	Sections []entity.TemplateSection

	OutputFormat  entity.OutputFormat
	Options       entity.EnvelopeOptions
	Locale        string
	Timezone      string
	CorrelationID string
}

// Assembler builds envelopes from requests.
type Assembler struct {
	templates port.TemplateRepository
	providers port.ProviderRegistry
	soql      port.DataProvider
	wellKnown []string
}

func NewAssembler(templates port.TemplateRepository, providers port.ProviderRegistry, soql port.DataProvider, wellKnownFKs []string) *Assembler {
	return &Assembler{
		templates: templates,
		providers: providers,
		soql:      soql,
		wellKnown: wellKnownFKs,
	}
}

// Assemble resolves the request into an envelope ready for the pipeline.
func (a *Assembler) Assemble(ctx context.Context, req *Request) (*entity.Envelope, error) {
	switch {
	case req.TemplateID != "" && req.CompositeDocumentID != "":
		return nil, entity.NewError(entity.KindValidation, "templateId and compositeDocumentId are mutually exclusive")
	case req.TemplateID != "":
		return a.assembleSingle(ctx, req)
	case req.CompositeDocumentID != "":
		return a.assembleComposite(ctx, req)
	case len(req.Sections) > 0:
		return a.assembleSections(ctx, req)
	default:
		return nil, entity.NewError(entity.KindValidation, "either templateId, compositeDocumentId or templates is required")
	}
}

func (a *Assembler) assembleSingle(ctx context.Context, req *Request) (*entity.Envelope, error) {
	tpl, err := a.templates.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	data := map[string]any{}
	if req.PrimaryRecordID != "" {
		provider, err := a.resolveProvider(tpl)
		if err != nil {
			return nil, err
		}
		if data, err = provider.Fetch(ctx, tpl, req.PrimaryRecordID); err != nil {
			return nil, err
		}
	}
	data = overlay(data, req.Data)

	parents := a.extractParents(data)
	if tpl.PrimaryParentType != "" && req.PrimaryRecordID != "" {
		parents[tpl.PrimaryParentType] = req.PrimaryRecordID
	}
	for k, v := range req.Parents {
		parents[k] = v
	}

	hash, err := SingleRequestHash(req.TemplateID, req.OutputFormat, data)
	if err != nil {
		return nil, entity.WrapError(entity.KindValidation, err, "computing request hash")
	}

	return &entity.Envelope{
		TemplateID: req.TemplateID,
		Templates: []entity.TemplateSection{
			{TemplateID: tpl.ID, BinaryID: tpl.TemplateBinaryID},
		},
		Data:          data,
		Parents:       parents,
		OutputFormat:  req.OutputFormat,
		Options:       req.Options,
		Locale:        req.Locale,
		Timezone:      req.Timezone,
		CorrelationID: req.CorrelationID,
		RequestHash:   hash,
	}, nil
}

func (a *Assembler) assembleComposite(ctx context.Context, req *Request) (*entity.Envelope, error) {
	comp, err := a.templates.GetComposite(ctx, req.CompositeDocumentID)
	if err != nil {
		return nil, err
	}
	if !comp.IsActive {
		return nil, entity.NewError(entity.KindCompositeInactive, "composite document %s is inactive", comp.ID)
	}

	slots := comp.ActiveSlots()
	if len(slots) == 0 {
		return nil, entity.NewError(entity.KindNoSections, "composite document %s has no active slots", comp.ID)
	}
	seen := make(map[string]struct{}, len(slots))
	for _, slot := range slots {
		if _, dup := seen[slot.Namespace]; dup {
			return nil, entity.NewError(entity.KindCompositeDuplicateNamespace,
				"composite document %s declares namespace %s twice", comp.ID, slot.Namespace)
		}
		seen[slot.Namespace] = struct{}{}
	}

	pool := newVariablePool(req.RecordIDs, a.wellKnown)
	data := make(map[string]any, len(slots))
	sections := make([]entity.TemplateSection, 0, len(slots))

	for _, slot := range slots {
		tpl, err := a.templates.GetTemplate(ctx, slot.TemplateID)
		if err != nil {
			return nil, err
		}

		recordID, ok := pool.get(slot.Namespace)
		if !ok && tpl.PrimaryParentType != "" {
			recordID, ok = pool.get(tpl.PrimaryParentType)
		}
		if !ok {
			return nil, entity.NewError(entity.KindValidation,
				"no driving record id for namespace %s", slot.Namespace)
		}

		provider, err := a.resolveProvider(tpl)
		if err != nil {
			return nil, err
		}
		tree, err := provider.Fetch(ctx, tpl, recordID)
		if err != nil {
			return nil, err
		}
		pool.harvest(tree)
		data[slot.Namespace] = tree

		sections = append(sections, entity.TemplateSection{
			TemplateID: slot.TemplateID,
			Namespace:  slot.Namespace,
			Sequence:   slot.Sequence,
			BinaryID:   tpl.TemplateBinaryID,
		})
	}
	data = overlay(data, req.Data)

	parents := a.extractParents(data)
	for key, id := range pool.snapshot() {
		if _, present := parents[key]; !present {
			parents[key] = id
		}
	}
	for k, v := range req.Parents {
		parents[k] = v
	}

	hash, err := CompositeRequestHash(comp.ID, req.OutputFormat, req.RecordIDs, data)
	if err != nil {
		return nil, entity.WrapError(entity.KindValidation, err, "computing request hash")
	}

	env := &entity.Envelope{
		CompositeDocumentID: comp.ID,
		Strategy:            comp.Strategy,
		Data:                data,
		Parents:             parents,
		OutputFormat:        req.OutputFormat,
		Options:             req.Options,
		Locale:              req.Locale,
		Timezone:            req.Timezone,
		CorrelationID:       req.CorrelationID,
		RequestHash:         hash,
	}
	if comp.StoreMergedDocx {
		env.Options.StoreMergedDocx = true
	}
	if comp.ReturnDocxToClient {
		env.Options.ReturnDocxToClient = true
	}

	switch comp.Strategy {
	case entity.StrategyOwnTemplate:
		if comp.TemplateBinaryID == "" {
			return nil, entity.NewError(entity.KindTemplateInvalid,
				"composite document %s has no master template", comp.ID)
		}
		env.Templates = []entity.TemplateSection{{BinaryID: comp.TemplateBinaryID}}
	case entity.StrategyConcatenateTemplates:
		env.Templates = sections
	default:
		return nil, entity.NewError(entity.KindValidation,
			"composite document %s has unknown strategy %q", comp.ID, comp.Strategy)
	}
	return env, nil
}

// assembleSections handles ad-hoc concatenation: the caller names the section
// templates directly instead of referencing a configured composite document.
func (a *Assembler) assembleSections(ctx context.Context, req *Request) (*entity.Envelope, error) {
	if req.Strategy != entity.StrategyConcatenateTemplates {
		return nil, entity.NewError(entity.KindValidation,
			"templates requires templateStrategy CONCATENATE_TEMPLATES")
	}

	ordered := make([]entity.TemplateSection, len(req.Sections))
	copy(ordered, req.Sections)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	seen := make(map[string]struct{}, len(ordered))
	for _, s := range ordered {
		if _, dup := seen[s.Namespace]; dup {
			return nil, entity.NewError(entity.KindCompositeDuplicateNamespace,
				"namespace %s appears twice in templates", s.Namespace)
		}
		seen[s.Namespace] = struct{}{}
	}

	pool := newVariablePool(req.RecordIDs, a.wellKnown)
	data := make(map[string]any, len(ordered))
	sections := make([]entity.TemplateSection, 0, len(ordered))
	templateIDs := make([]string, 0, len(ordered))

	for _, s := range ordered {
		tpl, err := a.templates.GetTemplate(ctx, s.TemplateID)
		if err != nil {
			return nil, err
		}

		// An inline subtree for the namespace satisfies the section without a
		// provider round trip.
		if sub, ok := req.Data[s.Namespace].(map[string]any); ok {
			pool.harvest(sub)
			data[s.Namespace] = sub
		} else {
			recordID, ok := pool.get(s.Namespace)
			if !ok && tpl.PrimaryParentType != "" {
				recordID, ok = pool.get(tpl.PrimaryParentType)
			}
			if !ok {
				return nil, entity.NewError(entity.KindValidation,
					"no driving record id for namespace %s", s.Namespace)
			}

			provider, err := a.resolveProvider(tpl)
			if err != nil {
				return nil, err
			}
			tree, err := provider.Fetch(ctx, tpl, recordID)
			if err != nil {
				return nil, err
			}
			pool.harvest(tree)
			data[s.Namespace] = tree
		}

		sections = append(sections, entity.TemplateSection{
			TemplateID: tpl.ID,
			Namespace:  s.Namespace,
			Sequence:   s.Sequence,
			BinaryID:   tpl.TemplateBinaryID,
		})
		templateIDs = append(templateIDs, tpl.ID)
	}
	data = overlay(data, req.Data)

	parents := a.extractParents(data)
	for key, id := range pool.snapshot() {
		if _, present := parents[key]; !present {
			parents[key] = id
		}
	}
	for k, v := range req.Parents {
		parents[k] = v
	}

	hash, err := CompositeRequestHash(strings.Join(templateIDs, ","), req.OutputFormat, req.RecordIDs, data)
	if err != nil {
		return nil, entity.WrapError(entity.KindValidation, err, "computing request hash")
	}

	return &entity.Envelope{
		Strategy:      entity.StrategyConcatenateTemplates,
		Templates:     sections,
		Data:          data,
		Parents:       parents,
		OutputFormat:  req.OutputFormat,
		Options:       req.Options,
		Locale:        req.Locale,
		Timezone:      req.Timezone,
		CorrelationID: req.CorrelationID,
		RequestHash:   hash,
	}, nil
}

func (a *Assembler) resolveProvider(tpl *entity.Template) (port.DataProvider, error) {
	if tpl.DataSource != entity.DataSourceCustom {
		return a.soql, nil
	}
	provider, ok := a.providers.Resolve(tpl.ProviderClassName)
	if !ok {
		return nil, entity.NewError(entity.KindValidation,
			"template %s names unknown data provider %q", tpl.ID, tpl.ProviderClassName)
	}
	return provider, nil
}

// extractParents scans the tree for well-known foreign keys. Object types the
// publisher cannot link are filtered later against the supported-object map.
func (a *Assembler) extractParents(data map[string]any) map[string]string {
	pool := newVariablePool(nil, a.wellKnown)
	pool.harvest(data)

	out := make(map[string]string)
	for _, key := range a.wellKnown {
		if id, ok := pool.get(key); ok {
			out[key] = id
		}
	}
	if len(out) == 0 {
		slog.Debug("no well-known foreign keys found in data tree")
	}
	return out
}

// overlay copies caller-supplied keys over provider output. Caller data wins
// on collision; the merge is shallow by top-level key.
func overlay(base, extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}
