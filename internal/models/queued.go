package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QueuedDetection is an offline_queue row: a detection whose synchronous
// dispatch failed and which awaits background redelivery. synced_at is set
// exactly once; a row is never mutated after that.
type QueuedDetection struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	DetectionJSON json.RawMessage `json:"detection_json" db:"detection_json"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	SyncedAt      *time.Time      `json:"synced_at,omitempty" db:"synced_at"`
	RetryCount    int             `json:"retry_count" db:"retry_count"`
	NextAttemptAt time.Time       `json:"next_attempt_at" db:"next_attempt_at"`
	LockedUntil   *time.Time      `json:"locked_until,omitempty" db:"locked_until"`
}

// QueuePayload is the detection_json body: the original input, the resolved
// detection, and the already-encoded CoT document. Redelivery reuses the
// stored uid and document so the sink can dedupe on uid.
type QueuePayload struct {
	Input     InputDetection `json:"input"`
	Detection Detection      `json:"detection"`
	Flag      ConfidenceFlag `json:"confidence_flag"`
	UID       string         `json:"cot_uid"`
	CoT       string         `json:"cot_xml"`
}
