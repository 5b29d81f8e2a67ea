// Package offline guarantees eventual delivery of queued CoT events. One
// scheduled worker scans the offline_queue, leases pending items so no item
// ever has two in-flight attempts, and retries with exponential backoff
// until delivery or the retry ceiling.
package offline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/takpipe/internal/audit"
	"github.com/your-org/takpipe/internal/config"
	"github.com/your-org/takpipe/internal/models"
	"github.com/your-org/takpipe/internal/observability"
)

// QueueStore is the persistence boundary for the offline queue.
type QueueStore interface {
	LeasePending(ctx context.Context, limit int, leaseTTL time.Duration, maxRetries int) ([]models.QueuedDetection, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, rec *models.AuditRecord) error
	RecordRetryFailure(ctx context.Context, id uuid.UUID, backoff time.Duration) (int, error)
	PendingCount(ctx context.Context) (int, error)
}

// Sink is the downstream endpoint. Ping gates each sync pass so a known-dead
// sink doesn't burn retry budget.
type Sink interface {
	Send(ctx context.Context, uid string, doc []byte) error
	Ping(ctx context.Context) error
}

type Syncer struct {
	store QueueStore
	sink  Sink
	audit *audit.Recorder
	cfg   config.QueueConfig
}

func NewSyncer(store QueueStore, snk Sink, rec *audit.Recorder, cfg config.QueueConfig) *Syncer {
	return &Syncer{store: store, sink: snk, audit: rec, cfg: cfg}
}

// Run drives the sync loop until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	slog.Info("offline syncer started",
		"scan_interval", s.cfg.ScanInterval.String(),
		"max_retries", s.cfg.MaxRetries,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("offline syncer stopped")
			return
		case <-ticker.C:
			delivered, failed := s.SyncOnce(ctx)
			if delivered > 0 || failed > 0 {
				slog.Info("sync pass complete", "delivered", delivered, "failed", failed)
			}
			if count, err := s.store.PendingCount(ctx); err == nil {
				observability.QueueDepth.Set(float64(count))
			}
		}
	}
}

// SyncOnce runs a single sync pass and reports per-item outcomes.
func (s *Syncer) SyncOnce(ctx context.Context) (delivered, failed int) {
	if err := s.sink.Ping(ctx); err != nil {
		slog.Debug("sink unreachable, skipping sync pass", "error", err)
		return 0, 0
	}

	items, err := s.store.LeasePending(ctx, s.cfg.BatchSize, s.cfg.LeaseTTL, s.cfg.MaxRetries)
	if err != nil {
		slog.Error("lease pending items", "error", err)
		return 0, 0
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return delivered, failed
		}
		if s.deliver(ctx, item) {
			delivered++
		} else {
			failed++
		}
	}
	return delivered, failed
}

func (s *Syncer) deliver(ctx context.Context, item models.QueuedDetection) bool {
	var payload models.QueuePayload
	if err := json.Unmarshal(item.DetectionJSON, &payload); err != nil {
		// A corrupt payload can never deliver; count it against the retry
		// ceiling so it eventually surfaces as FAILED_PERMANENT.
		slog.Error("unmarshal queued payload", "queue_id", item.ID, "error", err)
		s.fail(ctx, item, err.Error(), payload.Detection.Source)
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.LeaseTTL/2)
	err := s.sink.Send(sendCtx, payload.UID, []byte(payload.CoT))
	cancel()

	if err != nil {
		s.fail(ctx, item, err.Error(), payload.Detection.Source)
		return false
	}

	rec := audit.NewRecord(models.AuditDelivered, payload.Detection.Source, models.AuditSuccess, map[string]any{
		"detection_id": payload.Detection.ID,
		"queue_id":     item.ID,
		"uid":          payload.UID,
		"retry_count":  item.RetryCount,
	})
	if err := s.store.MarkDelivered(ctx, item.ID, rec); err != nil {
		// Delivered but not committed: the lease expires and the item is
		// retried; the sink dedupes on uid.
		slog.Error("mark delivered", "queue_id", item.ID, "error", err)
		return false
	}

	observability.RetryAttempts.WithLabelValues("delivered").Inc()
	return true
}

func (s *Syncer) fail(ctx context.Context, item models.QueuedDetection, reason, source string) {
	count, err := s.store.RecordRetryFailure(ctx, item.ID, s.backoff(item.RetryCount+1))
	if err != nil {
		slog.Error("record retry failure", "queue_id", item.ID, "error", err)
		return
	}

	if count >= s.cfg.MaxRetries {
		observability.RetryAttempts.WithLabelValues("failed_permanent").Inc()
		s.audit.Record(ctx, models.AuditFailedPermanent, source, models.AuditFailure, map[string]any{
			"queue_id":    item.ID,
			"retry_count": count,
			"reason":      reason,
		})
		slog.Error("queue item exhausted retries, retained for inspection",
			"queue_id", item.ID, "retries", count)
		return
	}

	observability.RetryAttempts.WithLabelValues("failed").Inc()
	s.audit.Record(ctx, models.AuditRetry, source, models.AuditFailure, map[string]any{
		"queue_id":    item.ID,
		"retry_count": count,
		"reason":      reason,
	})
}

// backoff doubles per attempt from the base, bounded by the ceiling.
func (s *Syncer) backoff(retryCount int) time.Duration {
	d := s.cfg.BaseBackoff
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	if d > s.cfg.MaxBackoff {
		return s.cfg.MaxBackoff
	}
	return d
}
