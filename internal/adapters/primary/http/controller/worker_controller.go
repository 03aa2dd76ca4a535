package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rendis/docgen-engine/internal/adapters/primary/http/dto"
	"github.com/rendis/docgen-engine/internal/adapters/primary/http/middleware"
	"github.com/rendis/docgen-engine/internal/core/port"
	"github.com/rendis/docgen-engine/internal/infra/worker"
)

// PollerStats exposes the local replica's poll loop state.
type PollerStats interface {
	Stats() worker.Stats
}

// WorkerController serves the per-replica worker control endpoints. The
// numbers describe this replica only; fleet-wide views belong to Prometheus.
type WorkerController struct {
	poller    PollerStats
	converter port.Converter
	cache     port.TemplateCache
}

func NewWorkerController(poller PollerStats, converter port.Converter, cache port.TemplateCache) *WorkerController {
	return &WorkerController{poller: poller, converter: converter, cache: cache}
}

// Status is GET /worker/status.
func (w *WorkerController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, w.status(c))
}

func (w *WorkerController) status(c *gin.Context) dto.WorkerStatusResponse {
	s := w.poller.Stats()
	return dto.WorkerStatusResponse{
		IsRunning:         s.IsRunning,
		CurrentQueueDepth: s.CurrentQueueDepth,
		LastPollTime:      s.LastPollTime,
		CorrelationID:     middleware.CorrelationID(c),
	}
}

// Stats is GET /worker/stats.
func (w *WorkerController) Stats(c *gin.Context) {
	ps := w.poller.Stats()
	cs := w.converter.Stats()
	ts := w.cache.Stats()
	c.JSON(http.StatusOK, dto.WorkerStatsResponse{
		WorkerStatusResponse: w.status(c),

		TotalProcessed: ps.Processed,
		TotalSucceeded: ps.Succeeded,
		TotalFailed:    ps.Failed,
		TotalRetries:   ps.Retried,
		UptimeSeconds:  ps.UptimeSeconds,

		ConversionActive:    cs.Active,
		ConversionQueued:    cs.Queued,
		ConversionCompleted: cs.Completed,
		ConversionFailed:    cs.Failed,

		CacheHits:      ts.Hits,
		CacheMisses:    ts.Misses,
		CacheEvictions: ts.Evictions,
		CacheSizeBytes: ts.SizeBytes,
		CacheEntries:   ts.EntryCount,
	})
}
