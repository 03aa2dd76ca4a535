// Package generation drives an envelope end to end: template load, merge,
// optional concatenation, optional PDF conversion, and publication.
package generation

import (
	"context"
	"time"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
	"github.com/rendis/docgen-engine/internal/infra/metrics"
)

// TemplateLoader resolves template binaries, cache-first.
type TemplateLoader interface {
	Load(ctx context.Context, contentVersionID string) ([]byte, error)
}

// Output is what a completed run hands back to the entry point.
type Output struct {
	Publish *port.PublishResult

	// DocxBytes carries the merged document when the caller asked for it
	// back (returnDocxToClient).
	DocxBytes []byte
}

// Pipeline wires the generation stages together. Tracking-row transitions on
// failure belong to the entry points, which differ between the interactive
// and batch paths.
type Pipeline struct {
	loader         TemplateLoader
	merger         port.Merger
	concatenator   port.Concatenator
	converter      port.Converter
	publisher      port.Publisher
	imageAllowlist []string
}

func NewPipeline(loader TemplateLoader, merger port.Merger, concatenator port.Concatenator, converter port.Converter, publisher port.Publisher, imageAllowlist []string) *Pipeline {
	return &Pipeline{
		loader:         loader,
		merger:         merger,
		concatenator:   concatenator,
		converter:      converter,
		publisher:      publisher,
		imageAllowlist: imageAllowlist,
	}
}

// Run executes the envelope. mode labels metrics as interactive or batch.
func (p *Pipeline) Run(ctx context.Context, env *entity.Envelope, rec *entity.TrackingRecord, mode string) (*Output, error) {
	start := time.Now()
	out, err := p.run(ctx, env, rec)

	label := env.TemplateID
	if label == "" {
		label = env.CompositeDocumentID
	}
	if err != nil {
		metrics.GenerationFailures.WithLabelValues(string(entity.KindOf(err)), mode).Inc()
		return nil, err
	}
	metrics.GenerationDuration.WithLabelValues(label, string(env.OutputFormat), mode).
		Observe(float64(time.Since(start).Milliseconds()))
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, env *entity.Envelope, rec *entity.TrackingRecord) (*Output, error) {
	merged, err := p.materialize(ctx, env)
	if err != nil {
		return nil, err
	}

	var pdf []byte
	if env.OutputFormat == entity.FormatPDF {
		if pdf, err = p.converter.Convert(ctx, merged, env.CorrelationID); err != nil {
			return nil, err
		}
	}

	var docxToStore []byte
	switch {
	case env.OutputFormat == entity.FormatDOCX:
		docxToStore = merged
	case env.Options.StoreMergedDocx:
		docxToStore = merged
	}

	published, err := p.publisher.Publish(ctx, pdf, docxToStore, env, rec)
	if err != nil {
		return nil, err
	}

	out := &Output{Publish: published}
	if env.Options.ReturnDocxToClient {
		out.DocxBytes = merged
	}
	return out, nil
}

// materialize produces the merged document for any of the three strategies.
func (p *Pipeline) materialize(ctx context.Context, env *entity.Envelope) ([]byte, error) {
	opts := port.MergeOptions{
		ImageAllowlist: p.imageAllowlist,
		Locale:         env.Locale,
		Timezone:       env.Timezone,
		CorrelationID:  env.CorrelationID,
	}

	// Everything that is not an explicit concatenation merges a single master
	// binary: plain templates and OWN_TEMPLATE composites alike.
	if env.Strategy != entity.StrategyConcatenateTemplates {
		if len(env.Templates) == 0 || env.Templates[0].BinaryID == "" {
			return nil, entity.NewError(entity.KindTemplateInvalid, "envelope carries no template binary")
		}
		bytes, err := p.loader.Load(ctx, env.Templates[0].BinaryID)
		if err != nil {
			return nil, err
		}
		return p.merger.Merge(ctx, bytes, env.Data, opts)
	}

	sections := make([]port.Section, 0, len(env.Templates))
	for _, section := range env.Templates {
		bytes, err := p.loader.Load(ctx, section.BinaryID)
		if err != nil {
			return nil, err
		}
		tree, _ := env.Data[section.Namespace].(map[string]any)
		mergedSection, err := p.merger.Merge(ctx, bytes, tree, opts)
		if err != nil {
			return nil, err
		}
		sections = append(sections, port.Section{Bytes: mergedSection, Sequence: section.Sequence})
	}
	return p.concatenator.Concatenate(sections)
}
