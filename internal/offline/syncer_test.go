package offline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/takpipe/internal/audit"
	"github.com/your-org/takpipe/internal/config"
	"github.com/your-org/takpipe/internal/models"
)

// memQueueStore mirrors the lease semantics of the real store: pending items
// only, no double-lease, delivered items never come back.
type memQueueStore struct {
	mu       sync.Mutex
	items    map[uuid.UUID]*models.QueuedDetection
	backoffs []time.Duration
	failMark bool
}

func newMemQueueStore() *memQueueStore {
	return &memQueueStore{items: map[uuid.UUID]*models.QueuedDetection{}}
}

func (m *memQueueStore) enqueue(payload models.QueuePayload) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := json.Marshal(payload)
	id := uuid.New()
	m.items[id] = &models.QueuedDetection{
		ID:            id,
		DetectionJSON: data,
		CreatedAt:     time.Now().UTC(),
		NextAttemptAt: time.Now().UTC(),
	}
	return id
}

func (m *memQueueStore) LeasePending(_ context.Context, limit int, leaseTTL time.Duration, maxRetries int) ([]models.QueuedDetection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var out []models.QueuedDetection
	for _, item := range m.items {
		if len(out) >= limit {
			break
		}
		if item.SyncedAt != nil || item.RetryCount >= maxRetries {
			continue
		}
		if item.NextAttemptAt.After(now) {
			continue
		}
		if item.LockedUntil != nil && item.LockedUntil.After(now) {
			continue
		}
		until := now.Add(leaseTTL)
		item.LockedUntil = &until
		out = append(out, *item)
	}
	return out, nil
}

func (m *memQueueStore) MarkDelivered(_ context.Context, id uuid.UUID, _ *models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMark {
		return errors.New("database down")
	}
	now := time.Now().UTC()
	m.items[id].SyncedAt = &now
	return nil
}

func (m *memQueueStore) RecordRetryFailure(_ context.Context, id uuid.UUID, backoff time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[id]
	item.RetryCount++
	item.LockedUntil = nil
	// Keep items immediately eligible so tests drive passes directly.
	item.NextAttemptAt = time.Now().UTC()
	m.backoffs = append(m.backoffs, backoff)
	return item.RetryCount, nil
}

func (m *memQueueStore) PendingCount(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.items {
		if item.SyncedAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *memQueueStore) item(id uuid.UUID) models.QueuedDetection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.items[id]
}

// flakySink fails the first failures sends, then succeeds.
type flakySink struct {
	mu       sync.Mutex
	failures int
	pingErr  error
	sent     []string
}

func (f *flakySink) Send(_ context.Context, uid string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("connection refused")
	}
	f.sent = append(f.sent, uid)
	return nil
}

func (f *flakySink) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

type memAuditStore struct {
	mu      sync.Mutex
	records []*models.AuditRecord
}

func (m *memAuditStore) AppendAudit(_ context.Context, rec *models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memAuditStore) actions() []models.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditAction, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Action)
	}
	return out
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		ScanInterval: 10 * time.Millisecond,
		BaseBackoff:  30 * time.Second,
		MaxBackoff:   15 * time.Minute,
		LeaseTTL:     2 * time.Minute,
		MaxRetries:   10,
		BatchSize:    50,
	}
}

func testPayload(uid string) models.QueuePayload {
	return models.QueuePayload{
		Detection: models.Detection{ID: uuid.New(), Source: "cam-01"},
		Flag:      models.ConfidenceHigh,
		UID:       uid,
		CoT:       `<?xml version="1.0"?><event uid="` + uid + `"/>`,
	}
}

func TestSyncOnceDeliversPending(t *testing.T) {
	store := newMemQueueStore()
	sink := &flakySink{}
	auditStore := &memAuditStore{}
	s := NewSyncer(store, sink, audit.NewRecorder(auditStore), testQueueConfig())

	id := store.enqueue(testPayload("uid-1"))

	delivered, failed := s.SyncOnce(context.Background())
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"uid-1"}, sink.sent)
	require.NotNil(t, store.item(id).SyncedAt)

	// A delivered item never goes out again.
	delivered, failed = s.SyncOnce(context.Background())
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, failed)
	assert.Len(t, sink.sent, 1)
}

func TestSyncOnceRetriesUntilDelivery(t *testing.T) {
	store := newMemQueueStore()
	sink := &flakySink{failures: 2}
	auditStore := &memAuditStore{}
	s := NewSyncer(store, sink, audit.NewRecorder(auditStore), testQueueConfig())

	id := store.enqueue(testPayload("uid-1"))

	_, failed := s.SyncOnce(context.Background())
	assert.Equal(t, 1, failed)
	_, failed = s.SyncOnce(context.Background())
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, store.item(id).RetryCount)

	delivered, _ := s.SyncOnce(context.Background())
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []string{"uid-1"}, sink.sent)

	actions := auditStore.actions()
	assert.Equal(t, []models.AuditAction{models.AuditRetry, models.AuditRetry}, actions)
}

func TestSyncOnceExhaustsRetries(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxRetries = 3
	store := newMemQueueStore()
	sink := &flakySink{failures: 100}
	auditStore := &memAuditStore{}
	s := NewSyncer(store, sink, audit.NewRecorder(auditStore), cfg)

	id := store.enqueue(testPayload("uid-1"))

	for i := 0; i < 5; i++ {
		s.SyncOnce(context.Background())
	}

	item := store.item(id)
	assert.Equal(t, 3, item.RetryCount)
	assert.Nil(t, item.SyncedAt) // retained, never deleted

	actions := auditStore.actions()
	assert.Equal(t, []models.AuditAction{
		models.AuditRetry,
		models.AuditRetry,
		models.AuditFailedPermanent,
	}, actions)
}

func TestSyncOnceSkipsWhenSinkUnreachable(t *testing.T) {
	store := newMemQueueStore()
	sink := &flakySink{pingErr: errors.New("no route to host")}
	auditStore := &memAuditStore{}
	s := NewSyncer(store, sink, audit.NewRecorder(auditStore), testQueueConfig())

	id := store.enqueue(testPayload("uid-1"))

	delivered, failed := s.SyncOnce(context.Background())
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 0, store.item(id).RetryCount) // no retry budget burned
}

func TestSyncOnceMarkDeliveredFailureLeavesItemPending(t *testing.T) {
	store := newMemQueueStore()
	store.failMark = true
	sink := &flakySink{}
	auditStore := &memAuditStore{}
	s := NewSyncer(store, sink, audit.NewRecorder(auditStore), testQueueConfig())

	id := store.enqueue(testPayload("uid-1"))

	delivered, failed := s.SyncOnce(context.Background())
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 1, failed)
	assert.Nil(t, store.item(id).SyncedAt)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	cfg := testQueueConfig()
	store := newMemQueueStore()
	sink := &flakySink{failures: 100}
	auditStore := &memAuditStore{}
	s := NewSyncer(store, sink, audit.NewRecorder(auditStore), cfg)

	store.enqueue(testPayload("uid-1"))

	for i := 0; i < 8; i++ {
		s.SyncOnce(context.Background())
	}

	require.Len(t, store.backoffs, 8)
	assert.Equal(t, 30*time.Second, store.backoffs[0])
	assert.Equal(t, 60*time.Second, store.backoffs[1])
	assert.Equal(t, 120*time.Second, store.backoffs[2])
	assert.Equal(t, 240*time.Second, store.backoffs[3])
	assert.Equal(t, 480*time.Second, store.backoffs[4])
	assert.Equal(t, 15*time.Minute, store.backoffs[5]) // 960s clipped to the ceiling
	assert.Equal(t, 15*time.Minute, store.backoffs[6])
	assert.Equal(t, 15*time.Minute, store.backoffs[7])
}

func TestSyncOnceCorruptPayloadCountsAgainstRetries(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxRetries = 2
	store := newMemQueueStore()
	sink := &flakySink{}
	auditStore := &memAuditStore{}
	s := NewSyncer(store, sink, audit.NewRecorder(auditStore), cfg)

	store.mu.Lock()
	id := uuid.New()
	store.items[id] = &models.QueuedDetection{
		ID:            id,
		DetectionJSON: json.RawMessage("{not json"),
		NextAttemptAt: time.Now().UTC(),
	}
	store.mu.Unlock()

	s.SyncOnce(context.Background())
	s.SyncOnce(context.Background())
	s.SyncOnce(context.Background())

	assert.Equal(t, 2, store.item(id).RetryCount)
	assert.Empty(t, sink.sent)
	assert.Contains(t, auditStore.actions(), models.AuditFailedPermanent)
}
