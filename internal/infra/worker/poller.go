// Package worker runs the queued-batch poller: one scheduling loop per
// replica, claiming due tracking rows through the record store's lock column
// and processing them concurrently through the generation pipeline.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/core/port"
	"github.com/rendis/docgen-engine/internal/core/service/generation"
	"github.com/rendis/docgen-engine/internal/infra/logging"
	"github.com/rendis/docgen-engine/internal/infra/metrics"
)

// Runner is the slice of the generation pipeline the poller needs.
type Runner interface {
	Run(ctx context.Context, env *entity.Envelope, rec *entity.TrackingRecord, mode string) (*generation.Output, error)
}

// Config holds the poller's scheduling knobs.
type Config struct {
	ActiveInterval time.Duration
	IdleInterval   time.Duration
	BatchSize      int
	LockTTL        time.Duration
	MaxAttempts    int
	DrainGrace     time.Duration
	StartupJitter  time.Duration
}

// Backoff maps a retry attempt number (1-based) to its delay; false means the
// table is exhausted and the failure is terminal.
type Backoff func(attempt int) (time.Duration, bool)

// Stats is the per-replica counter view exposed by the worker API.
type Stats struct {
	IsRunning         bool      `json:"isRunning"`
	CurrentQueueDepth int       `json:"currentQueueDepth"`
	LastPollTime      time.Time `json:"lastPollTime"`
	Processed         uint64    `json:"processed"`
	Succeeded         uint64    `json:"succeeded"`
	Failed            uint64    `json:"failed"`
	Retried           uint64    `json:"retried"`
	UptimeSeconds     int64     `json:"uptimeSeconds"`
}

// Poller is the scheduling loop.
type Poller struct {
	cfg      Config
	tracking port.TrackingRepository
	runner   Runner
	backoff  Backoff
	now      func() time.Time

	running    atomic.Bool
	queueDepth atomic.Int64
	lastPoll   atomic.Int64 // unix nanos
	processed  atomic.Uint64
	succeeded  atomic.Uint64
	failed     atomic.Uint64
	retried    atomic.Uint64
	startedAt  time.Time

	stop chan struct{}
	done chan struct{}
}

func New(cfg Config, tracking port.TrackingRepository, runner Runner, backoff Backoff) *Poller {
	return &Poller{
		cfg:      cfg,
		tracking: tracking,
		runner:   runner,
		backoff:  backoff,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop. A small random delay desynchronizes replicas that
// boot together.
func (p *Poller) Start(ctx context.Context) {
	p.startedAt = p.now()
	p.running.Store(true)
	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	defer p.running.Store(false)

	if p.cfg.StartupJitter > 0 {
		jitter := time.Duration(rand.Int63n(int64(p.cfg.StartupJitter)))
		select {
		case <-time.After(jitter):
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}

	for {
		fetched := p.Cycle(ctx)

		interval := p.cfg.IdleInterval
		if fetched > 0 {
			interval = p.cfg.ActiveInterval
		}
		select {
		case <-time.After(interval):
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts scheduling and waits for in-flight tasks up to the drain grace
// window. Rows still processing past the window keep running until their
// locks expire; another replica will pick them up.
func (p *Poller) Stop() {
	close(p.stop)
	select {
	case <-p.done:
	case <-time.After(p.cfg.DrainGrace):
		slog.Warn("worker drain grace exceeded; exiting with tasks in flight")
	}
}

// Cycle runs one fetch-claim-process round and returns how many rows were
// fetched.
func (p *Poller) Cycle(ctx context.Context) int {
	now := p.now()
	rows, err := p.tracking.FetchDue(ctx, p.cfg.BatchSize, now)
	if err != nil {
		slog.ErrorContext(ctx, "fetching due rows", "error", err)
		return 0
	}
	p.queueDepth.Store(int64(len(rows)))
	p.lastPoll.Store(now.UnixNano())
	metrics.QueueDepth.Set(float64(len(rows)))
	if len(rows) == 0 {
		return 0
	}

	// Task contexts are detached from the loop: claimed rows run to
	// completion even during shutdown, bounded by their lock lease.
	taskCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, rec := range rows {
		if err := p.tracking.Claim(ctx, rec, now.Add(p.cfg.LockTTL)); err != nil {
			if entity.KindOf(err) == entity.KindRecordStoreConflict {
				slog.DebugContext(ctx, "row claimed by another replica", "tracking_record_id", rec.ID)
				continue
			}
			slog.WarnContext(ctx, "claiming row", "tracking_record_id", rec.ID, "error", err)
			continue
		}
		rec := rec
		g.Go(func() error {
			p.process(taskCtx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return len(rows)
}

func (p *Poller) process(ctx context.Context, rec *entity.TrackingRecord) {
	p.processed.Add(1)
	ctx = logging.WithCorrelationID(ctx, rec.CorrelationID)

	env, err := parseEnvelope(rec)
	if err == nil {
		_, err = p.runner.Run(ctx, env, rec, metrics.ModeBatch)
	}
	if err == nil {
		p.succeeded.Add(1)
		slog.InfoContext(ctx, "batch row processed", "tracking_record_id", rec.ID)
		return
	}

	p.resolveFailure(ctx, rec, err)
}

// resolveFailure applies the retry policy: retryable failures requeue with
// backoff until the attempt table is exhausted, everything else is terminal.
func (p *Poller) resolveFailure(ctx context.Context, rec *entity.TrackingRecord, cause error) {
	attempt := rec.Attempts + 1
	delay, more := p.backoff(attempt)

	if entity.IsRetryable(cause) && attempt <= p.cfg.MaxAttempts && more {
		retryAt := p.now().Add(delay)
		if err := p.tracking.Requeue(ctx, rec.ID, attempt, retryAt); err != nil {
			slog.ErrorContext(ctx, "requeueing row", "tracking_record_id", rec.ID, "error", err)
			return
		}
		p.retried.Add(1)
		metrics.Retries.WithLabelValues(strconv.Itoa(attempt)).Inc()
		slog.WarnContext(ctx, "batch row requeued",
			"tracking_record_id", rec.ID, "attempt", attempt, "retry_at", retryAt, "error", cause)
		return
	}

	p.failed.Add(1)
	if err := p.tracking.MarkFailed(ctx, rec.ID, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "failing row", "tracking_record_id", rec.ID, "error", err)
		return
	}
	slog.ErrorContext(ctx, "batch row failed terminally",
		"tracking_record_id", rec.ID, "attempts", attempt, "error", cause)
}

func parseEnvelope(rec *entity.TrackingRecord) (*entity.Envelope, error) {
	var env entity.Envelope
	if err := json.Unmarshal([]byte(rec.RequestJSON), &env); err != nil {
		return nil, entity.WrapError(entity.KindValidation, err,
			"tracking row %s carries an unreadable envelope", rec.ID)
	}
	env.TrackingRecordID = rec.ID
	if env.CorrelationID == "" {
		env.CorrelationID = rec.CorrelationID
	}
	return &env, nil
}

// Stats snapshots the counters.
func (p *Poller) Stats() Stats {
	last := time.Time{}
	if n := p.lastPoll.Load(); n > 0 {
		last = time.Unix(0, n)
	}
	uptime := int64(0)
	if !p.startedAt.IsZero() {
		uptime = int64(p.now().Sub(p.startedAt).Seconds())
	}
	return Stats{
		IsRunning:         p.running.Load(),
		CurrentQueueDepth: int(p.queueDepth.Load()),
		LastPollTime:      last,
		Processed:         p.processed.Load(),
		Succeeded:         p.succeeded.Load(),
		Failed:            p.failed.Load(),
		Retried:           p.retried.Load(),
		UptimeSeconds:     uptime,
	}
}
