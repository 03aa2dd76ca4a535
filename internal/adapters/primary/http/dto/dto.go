// Package dto holds the wire shapes of the HTTP surface.
package dto

import "time"

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	TemplateID          string            `json:"templateId,omitempty"`
	CompositeDocumentID string            `json:"compositeDocumentId,omitempty"`
	PrimaryRecordID     string            `json:"primaryRecordId,omitempty"`
	RecordIDs           map[string]string `json:"recordIds,omitempty"`
	Data                map[string]any    `json:"data,omitempty"`
	Parents             map[string]string `json:"parents,omitempty"`
	OutputFormat        string            `json:"outputFormat" binding:"required"`
	Options             *GenerateOptions  `json:"options,omitempty"`
	Locale              string            `json:"locale,omitempty"`
	Timezone            string            `json:"timezone,omitempty"`

	// CorrelationID in the body wins over the transport header; absent both,
	// one is minted. TrackingRecordID points at a pre-created row and skips
	// the idempotency registration.
	CorrelationID    string `json:"correlationId,omitempty"`
	TrackingRecordID string `json:"trackingRecordId,omitempty"`

	// TemplateStrategy and Templates support ad-hoc concatenation without a
	// configured composite document.
	TemplateStrategy string                    `json:"templateStrategy,omitempty"`
	Templates        []GenerateTemplateSection `json:"templates,omitempty"`
}

// GenerateTemplateSection names one section of an ad-hoc concatenation.
type GenerateTemplateSection struct {
	TemplateID string `json:"templateId"`
	Namespace  string `json:"namespace"`
	Sequence   int    `json:"sequence"`
}

// GenerateOptions mirrors the envelope options.
type GenerateOptions struct {
	StoreMergedDocx    bool   `json:"storeMergedDocx,omitempty"`
	ReturnDocxToClient bool   `json:"returnDocxToClient,omitempty"`
	OutputFileName     string `json:"outputFileName,omitempty"`
}

// GenerateResponse is the success body of POST /generate.
type GenerateResponse struct {
	DownloadURL      string `json:"downloadUrl"`
	ContentVersionID string `json:"contentVersionId"`
	CorrelationID    string `json:"correlationId"`
	CacheHit         bool   `json:"cacheHit"`

	// DocxBase64 is present only when returnDocxToClient was requested.
	DocxBase64 string `json:"docxBase64,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
	Retryable     bool   `json:"retryable"`
}

// WorkerStatusResponse is the per-replica view of GET /worker/status.
type WorkerStatusResponse struct {
	IsRunning         bool      `json:"isRunning"`
	CurrentQueueDepth int       `json:"currentQueueDepth"`
	LastPollTime      time.Time `json:"lastPollTime"`
	CorrelationID     string    `json:"correlationId"`
}

// WorkerStatsResponse extends the status view with the per-replica counters.
type WorkerStatsResponse struct {
	WorkerStatusResponse

	TotalProcessed uint64 `json:"totalProcessed"`
	TotalSucceeded uint64 `json:"totalSucceeded"`
	TotalFailed    uint64 `json:"totalFailed"`
	TotalRetries   uint64 `json:"totalRetries"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`

	ConversionActive    int64  `json:"conversionActive"`
	ConversionQueued    int64  `json:"conversionQueued"`
	ConversionCompleted uint64 `json:"conversionCompleted"`
	ConversionFailed    uint64 `json:"conversionFailed"`

	CacheHits      uint64 `json:"cacheHits"`
	CacheMisses    uint64 `json:"cacheMisses"`
	CacheEvictions uint64 `json:"cacheEvictions"`
	CacheSizeBytes int64  `json:"cacheSizeBytes"`
	CacheEntries   int    `json:"cacheEntries"`
}

// ReadyResponse is the body of GET /readyz.
type ReadyResponse struct {
	Ready  bool        `json:"ready"`
	Checks ReadyChecks `json:"checks"`
}

type ReadyChecks struct {
	JWKS    bool `json:"jwks"`
	Records bool `json:"records"`
	Secrets bool `json:"secrets"`
}
