package template

import (
	"context"

	"github.com/rendis/docgen-engine/internal/core/port"
	"github.com/rendis/docgen-engine/internal/infra/metrics"
)

// Loader resolves template binaries cache-first. Concurrent misses for the
// same id may download twice; the second Put is a no-op and the binary is
// immutable, so the duplication is harmless.
type Loader struct {
	cache port.TemplateCache
	repo  port.TemplateRepository
}

func NewLoader(cache port.TemplateCache, repo port.TemplateRepository) *Loader {
	return &Loader{cache: cache, repo: repo}
}

// Load returns the bytes behind a content version id.
func (l *Loader) Load(ctx context.Context, contentVersionID string) ([]byte, error) {
	if data, ok := l.cache.Get(contentVersionID); ok {
		metrics.TemplateCacheHits.Inc()
		return data, nil
	}
	metrics.TemplateCacheMisses.Inc()

	data, err := l.repo.DownloadTemplateBinary(ctx, contentVersionID)
	if err != nil {
		return nil, err
	}
	l.cache.Put(contentVersionID, data)
	return data, nil
}
