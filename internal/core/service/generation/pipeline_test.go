package generation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
	"github.com/rendis/docgen-engine/internal/infra/metrics"
)

type fakeLoader struct {
	binaries map[string][]byte
	loads    []string
}

func (f *fakeLoader) Load(_ context.Context, id string) ([]byte, error) {
	f.loads = append(f.loads, id)
	data, ok := f.binaries[id]
	if !ok {
		return nil, entity.NewError(entity.KindTemplateNotFound, "binary %s not found", id)
	}
	return data, nil
}

type fakeMerger struct {
	err    error
	merges []string
}

func (f *fakeMerger) Merge(_ context.Context, templateBytes []byte, data map[string]any, _ port.MergeOptions) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	name, _ := data["name"].(string)
	f.merges = append(f.merges, name)
	return []byte(fmt.Sprintf("merged(%s,%s)", templateBytes, name)), nil
}

type fakeConcat struct{ sections []port.Section }

func (f *fakeConcat) Concatenate(sections []port.Section) ([]byte, error) {
	f.sections = sections
	var out []byte
	for _, s := range sections {
		out = append(out, s.Bytes...)
	}
	return out, nil
}

type fakeConverter struct {
	err   error
	calls int
}

func (f *fakeConverter) Convert(_ context.Context, docxBytes []byte, _ string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	return append([]byte("pdf:"), docxBytes...), nil
}

func (f *fakeConverter) Stats() port.ConverterStats { return port.ConverterStats{} }

type fakePublisher struct {
	pdf, docx []byte
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, pdfBytes, docxBytes []byte, _ *entity.Envelope, _ *entity.TrackingRecord) (*port.PublishResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.pdf, f.docx = pdfBytes, docxBytes
	return &port.PublishResult{PDFContentVersionID: "068-out", LinkCount: 1}, nil
}

func newPipeline(loader *fakeLoader, merger *fakeMerger, concat *fakeConcat, conv *fakeConverter, pub *fakePublisher) *Pipeline {
	return NewPipeline(loader, merger, concat, conv, pub, nil)
}

func singleEnvelope(format entity.OutputFormat) *entity.Envelope {
	return &entity.Envelope{
		TemplateID:   "068X",
		Templates:    []entity.TemplateSection{{TemplateID: "068X", BinaryID: "cv-X"}},
		Data:         map[string]any{"name": "acme"},
		OutputFormat: format,
	}
}

func TestRunSinglePDF(t *testing.T) {
	loader := &fakeLoader{binaries: map[string][]byte{"cv-X": []byte("tpl")}}
	conv := &fakeConverter{}
	pub := &fakePublisher{}
	p := newPipeline(loader, &fakeMerger{}, &fakeConcat{}, conv, pub)

	out, err := p.Run(context.Background(), singleEnvelope(entity.FormatPDF),
		&entity.TrackingRecord{ID: "a00-1"}, metrics.ModeInteractive)
	require.NoError(t, err)

	assert.Equal(t, []string{"cv-X"}, loader.loads)
	assert.Equal(t, 1, conv.calls)
	assert.Equal(t, "pdf:merged(tpl,acme)", string(pub.pdf))
	assert.Nil(t, pub.docx, "merged docx is not stored unless asked")
	assert.Equal(t, "068-out", out.Publish.PDFContentVersionID)
	assert.Nil(t, out.DocxBytes)
}

func TestRunSingleDocxSkipsConversion(t *testing.T) {
	loader := &fakeLoader{binaries: map[string][]byte{"cv-X": []byte("tpl")}}
	conv := &fakeConverter{}
	pub := &fakePublisher{}
	p := newPipeline(loader, &fakeMerger{}, &fakeConcat{}, conv, pub)

	_, err := p.Run(context.Background(), singleEnvelope(entity.FormatDOCX), nil, metrics.ModeInteractive)
	require.NoError(t, err)

	assert.Zero(t, conv.calls)
	assert.Nil(t, pub.pdf)
	assert.Equal(t, "merged(tpl,acme)", string(pub.docx))
}

func TestRunStoreMergedDocx(t *testing.T) {
	loader := &fakeLoader{binaries: map[string][]byte{"cv-X": []byte("tpl")}}
	pub := &fakePublisher{}
	p := newPipeline(loader, &fakeMerger{}, &fakeConcat{}, &fakeConverter{}, pub)

	env := singleEnvelope(entity.FormatPDF)
	env.Options.StoreMergedDocx = true
	env.Options.ReturnDocxToClient = true

	out, err := p.Run(context.Background(), env, nil, metrics.ModeInteractive)
	require.NoError(t, err)

	assert.Equal(t, "merged(tpl,acme)", string(pub.docx))
	assert.Equal(t, "merged(tpl,acme)", string(out.DocxBytes))
}

func TestRunCompositeConcatenate(t *testing.T) {
	loader := &fakeLoader{binaries: map[string][]byte{
		"cv-A": []byte("tplA"),
		"cv-T": []byte("tplT"),
	}}
	merger := &fakeMerger{}
	concat := &fakeConcat{}
	pub := &fakePublisher{}
	p := newPipeline(loader, merger, concat, &fakeConverter{}, pub)

	env := &entity.Envelope{
		CompositeDocumentID: "CD1",
		Strategy:            entity.StrategyConcatenateTemplates,
		Templates: []entity.TemplateSection{
			{Namespace: "Account", Sequence: 10, BinaryID: "cv-A"},
			{Namespace: "Terms", Sequence: 20, BinaryID: "cv-T"},
		},
		Data: map[string]any{
			"Account": map[string]any{"name": "acct"},
			"Terms":   map[string]any{"name": "terms"},
		},
		OutputFormat: entity.FormatPDF,
	}

	_, err := p.Run(context.Background(), env, nil, metrics.ModeBatch)
	require.NoError(t, err)

	assert.Equal(t, []string{"acct", "terms"}, merger.merges, "each slot merges its namespace subtree")
	require.Len(t, concat.sections, 2)
	assert.Equal(t, 10, concat.sections[0].Sequence)
	assert.Equal(t, "pdf:merged(tplA,acct)merged(tplT,terms)", string(pub.pdf))
}

func TestRunCompositeOwnTemplate(t *testing.T) {
	loader := &fakeLoader{binaries: map[string][]byte{"cv-master": []byte("master")}}
	merger := &fakeMerger{}
	pub := &fakePublisher{}
	p := newPipeline(loader, merger, &fakeConcat{}, &fakeConverter{}, pub)

	env := &entity.Envelope{
		CompositeDocumentID: "CD1",
		Strategy:            entity.StrategyOwnTemplate,
		Templates:           []entity.TemplateSection{{BinaryID: "cv-master"}},
		Data:                map[string]any{"name": "all"},
		OutputFormat:        entity.FormatDOCX,
	}

	_, err := p.Run(context.Background(), env, nil, metrics.ModeBatch)
	require.NoError(t, err)
	assert.Equal(t, "merged(master,all)", string(pub.docx))
}

func TestRunConversionFailurePropagates(t *testing.T) {
	loader := &fakeLoader{binaries: map[string][]byte{"cv-X": []byte("tpl")}}
	conv := &fakeConverter{err: entity.NewError(entity.KindConversionTimeout, "too slow")}
	p := newPipeline(loader, &fakeMerger{}, &fakeConcat{}, conv, &fakePublisher{})

	_, err := p.Run(context.Background(), singleEnvelope(entity.FormatPDF), nil, metrics.ModeInteractive)
	require.Error(t, err)
	assert.Equal(t, entity.KindConversionTimeout, entity.KindOf(err))
}

func TestRunMissingBinary(t *testing.T) {
	p := newPipeline(&fakeLoader{}, &fakeMerger{}, &fakeConcat{}, &fakeConverter{}, &fakePublisher{})

	env := singleEnvelope(entity.FormatPDF)
	env.Templates = nil
	_, err := p.Run(context.Background(), env, nil, metrics.ModeInteractive)
	require.Error(t, err)
	assert.Equal(t, entity.KindTemplateInvalid, entity.KindOf(err))
}
