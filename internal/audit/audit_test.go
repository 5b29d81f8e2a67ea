package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/takpipe/internal/models"
)

type memStore struct {
	records []*models.AuditRecord
	err     error
}

func (m *memStore) AppendAudit(_ context.Context, rec *models.AuditRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func TestRecordAppends(t *testing.T) {
	store := &memStore{}
	r := NewRecorder(store)

	r.Record(context.Background(), models.AuditIngested, "cam-01", models.AuditPending, map[string]any{
		"class": "vehicle",
	})

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, models.AuditIngested, rec.Action)
	assert.Equal(t, "cam-01", rec.Source)
	assert.Equal(t, models.AuditPending, rec.Status)
	assert.JSONEq(t, `{"class":"vehicle"}`, string(rec.Details))
	assert.WithinDuration(t, time.Now().UTC(), rec.Timestamp, time.Minute)
}

func TestRecordStoreFailureDoesNotPropagate(t *testing.T) {
	store := &memStore{err: errors.New("database down")}
	r := NewRecorder(store)

	assert.NotPanics(t, func() {
		r.Record(context.Background(), models.AuditDelivered, "cam-01", models.AuditSuccess, nil)
	})
	assert.Empty(t, store.records)
}

func TestNewRecordNilDetails(t *testing.T) {
	rec := NewRecord(models.AuditQueued, "cam-01", models.AuditPending, nil)
	assert.JSONEq(t, `{}`, string(rec.Details))
}

func TestNewRecordUnmarshalableDetails(t *testing.T) {
	rec := NewRecord(models.AuditFailed, "cam-01", models.AuditFailure, func() {})
	assert.JSONEq(t, `{}`, string(rec.Details))
}
