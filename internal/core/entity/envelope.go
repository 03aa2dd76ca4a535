package entity

// OutputFormat is the requested artifact format.
type OutputFormat string

const (
	FormatPDF  OutputFormat = "PDF"
	FormatDOCX OutputFormat = "DOCX"
)

// TemplateSection is one ordered entry of a CONCATENATE_TEMPLATES envelope.
type TemplateSection struct {
	TemplateID string `json:"templateId"`
	Namespace  string `json:"namespace"`
	Sequence   int    `json:"sequence"`

	// BinaryID is the resolved content version of the slot template. Filled
	// by the assembler; absent on wire envelopes.
	BinaryID string `json:"binaryId,omitempty"`
}

// EnvelopeOptions carries per-request generation flags.
type EnvelopeOptions struct {
	StoreMergedDocx    bool   `json:"storeMergedDocx,omitempty"`
	ReturnDocxToClient bool   `json:"returnDocxToClient,omitempty"`
	OutputFileName     string `json:"outputFileName,omitempty"`
}

// Envelope is the in-process payload that drives generation end to end. Data
// is a JSON tree; in composite mode it is namespaced per slot.
type Envelope struct {
	TemplateID          string            `json:"templateId,omitempty"`
	CompositeDocumentID string            `json:"compositeDocumentId,omitempty"`
	Strategy            CompositeStrategy `json:"templateStrategy,omitempty"`
	Templates           []TemplateSection `json:"templates,omitempty"`
	Data                map[string]any    `json:"data"`
	Parents             map[string]string `json:"parents,omitempty"`
	OutputFormat        OutputFormat      `json:"outputFormat"`
	Options             EnvelopeOptions   `json:"options,omitempty"`
	Locale              string            `json:"locale,omitempty"`
	Timezone            string            `json:"timezone,omitempty"`
	CorrelationID       string            `json:"correlationId"`
	TrackingRecordID    string            `json:"trackingRecordId,omitempty"`

	// RequestHash is the idempotency hash of the envelope. Computed by the
	// assembler; both writers must derive the same value for equivalent
	// requests.
	RequestHash string `json:"requestHash,omitempty"`
}

// IsComposite reports whether the envelope targets a composite document.
func (e *Envelope) IsComposite() bool { return e.CompositeDocumentID != "" }
