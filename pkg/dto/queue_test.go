package dto

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/your-org/takpipe/internal/models"
)

func TestToQueueItemResponseStates(t *testing.T) {
	now := time.Now().UTC()
	base := models.QueuedDetection{
		ID:            uuid.New(),
		CreatedAt:     now,
		NextAttemptAt: now,
	}

	fresh := base
	assert.Equal(t, "QUEUED", ToQueueItemResponse(&fresh, nil, 10).State)

	retrying := base
	retrying.RetryCount = 3
	assert.Equal(t, "RETRYING", ToQueueItemResponse(&retrying, nil, 10).State)

	exhausted := base
	exhausted.RetryCount = 10
	assert.Equal(t, "FAILED_PERMANENT", ToQueueItemResponse(&exhausted, nil, 10).State)

	delivered := base
	delivered.RetryCount = 10
	delivered.SyncedAt = &now
	r := ToQueueItemResponse(&delivered, nil, 10)
	assert.Equal(t, "DELIVERED", r.State) // synced_at wins over retry count
	assert.NotEmpty(t, r.SyncedAt)
}

func TestToQueueItemResponsePayloadFields(t *testing.T) {
	now := time.Now().UTC()
	item := models.QueuedDetection{ID: uuid.New(), CreatedAt: now, NextAttemptAt: now}
	payload := models.QueuePayload{
		Detection: models.Detection{ID: uuid.New()},
		UID:       "cam-01-123-abc",
	}

	r := ToQueueItemResponse(&item, &payload, 10)
	assert.Equal(t, payload.Detection.ID, r.DetectionID)
	assert.Equal(t, "cam-01-123-abc", r.UID)
}
