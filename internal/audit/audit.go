// Package audit maintains the append-only ledger of pipeline transitions.
// Records are write-once: the Store interface exposes inserts only, so no
// caller can edit or delete history.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/takpipe/internal/models"
)

// Store is the insert-only persistence boundary for audit records.
type Store interface {
	AppendAudit(ctx context.Context, rec *models.AuditRecord) error
}

type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends one ledger entry. A storage failure never propagates:
// the record is written to the process log instead, which is the durable
// side channel when the database is down. details must be JSON-marshalable.
func (r *Recorder) Record(ctx context.Context, action models.AuditAction, source string, status models.AuditStatus, details any) {
	rec := NewRecord(action, source, status, details)

	if err := r.store.AppendAudit(ctx, rec); err != nil {
		slog.Error("audit_fallback",
			"error", err,
			"audit_id", rec.ID,
			"action", rec.Action,
			"source", rec.Source,
			"status", rec.Status,
			"details", string(rec.Details),
			"timestamp", rec.Timestamp,
		)
	}
}

// NewRecord builds an audit record without persisting it. Used where the
// insert must ride in the caller's transaction (queue delivery commits
// synced_at and the DELIVERED record atomically).
func NewRecord(action models.AuditAction, source string, status models.AuditStatus, details any) *models.AuditRecord {
	payload, err := json.Marshal(details)
	if err != nil {
		payload = json.RawMessage(`{}`)
	}
	if details == nil {
		payload = json.RawMessage(`{}`)
	}

	return &models.AuditRecord{
		ID:        uuid.New(),
		Action:    action,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Details:   payload,
		Status:    status,
	}
}
