// Package idempotency deduplicates interactive generation requests by their
// request hash. The record store's unique constraint on the hash column backs
// the window lookup so racing writers converge on a single row.
package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
	"github.com/rendis/docgen-engine/internal/infra/metrics"
)

// Guard answers whether an equivalent request already succeeded recently.
type Guard struct {
	tracking port.TrackingRepository
	window   time.Duration
	now      func() time.Time
}

func NewGuard(tracking port.TrackingRepository, window time.Duration) *Guard {
	return &Guard{tracking: tracking, window: window, now: time.Now}
}

// Lookup returns the most recent SUCCEEDED record carrying hash inside the
// idempotency window, or nil on a miss. A store error is returned as-is so
// the caller decides whether to fail or generate anyway.
func (g *Guard) Lookup(ctx context.Context, hash string) (*entity.TrackingRecord, error) {
	since := g.now().Add(-g.window)
	rec, err := g.tracking.LookupByHash(ctx, hash, since)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	metrics.IdempotencyHits.Inc()
	slog.DebugContext(ctx, "idempotency hit", "tracking_record_id", rec.ID)
	return rec, nil
}

// Register inserts a fresh tracking row for hash. A unique-constraint
// conflict means another writer won the race; the winner's row is returned
// with conflict=true so the caller can serve its artifact instead.
func (g *Guard) Register(ctx context.Context, rec *entity.TrackingRecord) (winner *entity.TrackingRecord, conflict bool, err error) {
	id, err := g.tracking.Insert(ctx, rec)
	if err == nil {
		rec.ID = id
		return nil, false, nil
	}
	if entity.KindOf(err) != entity.KindRecordStoreConflict {
		return nil, false, err
	}

	existing, lookupErr := g.tracking.LookupByHash(ctx, rec.RequestHash, g.now().Add(-g.window))
	if lookupErr != nil {
		return nil, false, lookupErr
	}
	if existing == nil {
		// The winner has not succeeded yet. Surface the conflict so the
		// caller can tell the client to retry shortly.
		return nil, false, err
	}
	metrics.IdempotencyHits.Inc()
	return existing, true, nil
}
