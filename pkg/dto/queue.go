package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/takpipe/internal/models"
)

type QueueItemResponse struct {
	ID            uuid.UUID `json:"id"`
	DetectionID   uuid.UUID `json:"detection_id,omitempty"`
	UID           string    `json:"cot_uid,omitempty"`
	CreatedAt     string    `json:"created_at"`
	SyncedAt      string    `json:"synced_at,omitempty"`
	RetryCount    int       `json:"retry_count"`
	NextAttemptAt string    `json:"next_attempt_at"`
	State         string    `json:"state"` // QUEUED, RETRYING, DELIVERED, FAILED_PERMANENT
}

type QueueListResponse struct {
	Items []QueueItemResponse `json:"items"`
	Total int                 `json:"total"`
}

// ToQueueItemResponse derives the item's state from its row: delivered once
// synced_at is set, permanently failed once the retry ceiling is hit.
func ToQueueItemResponse(q *models.QueuedDetection, payload *models.QueuePayload, maxRetries int) QueueItemResponse {
	r := QueueItemResponse{
		ID:            q.ID,
		CreatedAt:     q.CreatedAt.Format(time.RFC3339),
		RetryCount:    q.RetryCount,
		NextAttemptAt: q.NextAttemptAt.Format(time.RFC3339),
	}
	if payload != nil {
		r.DetectionID = payload.Detection.ID
		r.UID = payload.UID
	}

	switch {
	case q.SyncedAt != nil:
		r.SyncedAt = q.SyncedAt.Format(time.RFC3339)
		r.State = "DELIVERED"
	case q.RetryCount >= maxRetries:
		r.State = "FAILED_PERMANENT"
	case q.RetryCount > 0:
		r.State = "RETRYING"
	default:
		r.State = "QUEUED"
	}
	return r
}

type AuditRecordResponse struct {
	ID        uuid.UUID `json:"id"`
	Action    string    `json:"action"`
	Source    string    `json:"source"`
	Timestamp string    `json:"timestamp"`
	Details   any       `json:"details"`
	Status    string    `json:"status"`
}

type AuditListResponse struct {
	Records []AuditRecordResponse `json:"records"`
	Total   int                   `json:"total"`
}
