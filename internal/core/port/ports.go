// Package port declares the boundaries between the generation core and its
// collaborators. Services accept these interfaces and return concrete types.
package port

import (
	"context"
	"time"

	"github.com/rendis/docgen-engine/internal/core/entity"
)

// RecordStore is the thin REST surface of the external object store. It never
// retries; retry policy belongs to the call site so interactive and batch
// paths can differ.
type RecordStore interface {
	// Query runs a SOQL statement and returns the matched records.
	Query(ctx context.Context, soql string) ([]map[string]any, error)

	// ReadRecord fetches selected fields of a single row.
	ReadRecord(ctx context.Context, objectType, id string, fields []string) (map[string]any, error)

	// CreateRecord inserts a row and returns its id. A unique-constraint
	// violation surfaces as KindRecordStoreConflict.
	CreateRecord(ctx context.Context, objectType string, fields map[string]any) (string, error)

	// PatchRecord partially updates a row.
	PatchRecord(ctx context.Context, objectType, id string, fields map[string]any) error

	// PatchRecordIf is PatchRecord guarded by the store's optimistic
	// concurrency (If-Unmodified-Since); a lost race surfaces as
	// KindRecordStoreConflict.
	PatchRecordIf(ctx context.Context, objectType, id string, fields map[string]any, unmodifiedSince time.Time) error

	// DownloadBinary fetches the payload behind a content version.
	DownloadBinary(ctx context.Context, contentVersionID string) ([]byte, error)

	// UploadContentVersion creates a new immutable file.
	UploadContentVersion(ctx context.Context, filename string, data []byte) (*UploadResult, error)

	// CreateLink attaches an uploaded document to a parent record
	// (shareType V, visibility AllUsers) and returns the link id.
	CreateLink(ctx context.Context, contentDocumentID, parentID string) (string, error)
}

// UploadResult identifies a freshly created file.
type UploadResult struct {
	ContentVersionID  string
	ContentDocumentID string
}

// TrackingRepository persists tracking rows on top of the record store.
type TrackingRepository interface {
	Insert(ctx context.Context, rec *entity.TrackingRecord) (string, error)
	Get(ctx context.Context, id string) (*entity.TrackingRecord, error)

	// FetchDue returns up to limit rows eligible for processing at now,
	// ordered by priority descending (nulls last) then createdAt ascending.
	FetchDue(ctx context.Context, limit int, now time.Time) ([]*entity.TrackingRecord, error)

	// Claim transitions a fetched row to PROCESSING with a lease, guarded by
	// the row's modification stamp. Losing the claim race surfaces as
	// KindRecordStoreConflict.
	Claim(ctx context.Context, rec *entity.TrackingRecord, until time.Time) error

	MarkSucceeded(ctx context.Context, id string, fields map[string]any) error
	MarkFailed(ctx context.Context, id, message string) error

	// Requeue schedules another attempt after a retryable failure.
	Requeue(ctx context.Context, id string, attempts int, retryAt time.Time) error

	// LookupByHash returns the most recent SUCCEEDED row with the given
	// request hash created after since, or nil.
	LookupByHash(ctx context.Context, hash string, since time.Time) (*entity.TrackingRecord, error)
}

// TemplateRepository reads admin-configured metadata and template binaries.
type TemplateRepository interface {
	GetTemplate(ctx context.Context, id string) (*entity.Template, error)
	GetComposite(ctx context.Context, id string) (*entity.CompositeDocument, error)
	SupportedObjects(ctx context.Context) ([]entity.SupportedObject, error)
	DownloadTemplateBinary(ctx context.Context, contentVersionID string) ([]byte, error)
}

// CacheStats is a point-in-time view of the template cache.
type CacheStats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	SizeBytes  int64
	EntryCount int
}

// TemplateCache is the process-local content-addressed binary cache.
type TemplateCache interface {
	Get(id string) ([]byte, bool)
	Put(id string, data []byte)
	Stats() CacheStats
}

// MergeOptions carries per-call merge context.
type MergeOptions struct {
	ImageAllowlist []string
	Locale         string
	Timezone       string
	CorrelationID  string
}

// Merger binds a data tree into a template document.
type Merger interface {
	Merge(ctx context.Context, templateBytes []byte, data map[string]any, opts MergeOptions) ([]byte, error)
}

// Section is one ordered input of a concatenation.
type Section struct {
	Bytes    []byte
	Sequence int
}

// Concatenator combines merged documents into one with section breaks.
type Concatenator interface {
	Concatenate(sections []Section) ([]byte, error)
}

// ConverterStats is a point-in-time view of the conversion pool.
type ConverterStats struct {
	Active    int64
	Queued    int64
	Completed uint64
	Failed    uint64
}

// Converter renders a merged document to PDF through the bounded pool.
type Converter interface {
	Convert(ctx context.Context, docxBytes []byte, correlationID string) ([]byte, error)
	Stats() ConverterStats
}

// PublishResult reports the outcome of the upload-and-link step.
type PublishResult struct {
	PDFContentVersionID  string
	DocxContentVersionID string
	LinkCount            int
	LinkErrors           []error
}

// Publisher uploads artifacts, links parents, and finalizes the tracking row.
type Publisher interface {
	Publish(ctx context.Context, pdfBytes, docxBytes []byte, env *entity.Envelope, rec *entity.TrackingRecord) (*PublishResult, error)
}

// DataProvider produces a data tree for a driving record. SOQL templates and
// named custom providers both satisfy it.
type DataProvider interface {
	Fetch(ctx context.Context, tpl *entity.Template, recordID string) (map[string]any, error)
}

// ProviderRegistry resolves named custom data providers.
type ProviderRegistry interface {
	Resolve(name string) (DataProvider, bool)
}
