package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditIngested        AuditAction = "INGESTED"
	AuditResolved        AuditAction = "RESOLVED"
	AuditEncoded         AuditAction = "ENCODED"
	AuditDelivered       AuditAction = "DELIVERED"
	AuditQueued          AuditAction = "QUEUED"
	AuditRetry           AuditAction = "RETRY"
	AuditFailed          AuditAction = "FAILED"
	AuditFailedPermanent AuditAction = "FAILED_PERMANENT"
)

type AuditStatus string

const (
	AuditSuccess AuditStatus = "SUCCESS"
	AuditFailure AuditStatus = "FAILURE"
	AuditPending AuditStatus = "PENDING"
)

// AuditRecord is one append-only audit_trail row. Once written it is never
// updated or deleted; the insert-only store interface enforces that.
type AuditRecord struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Action    AuditAction     `json:"action" db:"action"`
	Source    string          `json:"source" db:"source"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Details   json.RawMessage `json:"details" db:"details"`
	Status    AuditStatus     `json:"status" db:"status"`
}
