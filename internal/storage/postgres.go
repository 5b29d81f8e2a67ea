package storage

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/takpipe/internal/config"
	"github.com/your-org/takpipe/internal/models"
)

//go:embed schema.sql
var Schema string

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// --- Detections ---

// CreateDetection inserts a resolved detection. Rows are write-once: no
// update path exists anywhere in the store.
func (s *PostgresStore) CreateDetection(ctx context.Context, d *models.Detection) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO detections (id, source, class_name, confidence, latitude, longitude, accuracy, image_key, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at`,
		d.ID, d.Source, d.ClassName, d.Confidence, d.Latitude, d.Longitude, d.Accuracy, d.ImageKey, d.Timestamp,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create detection: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDetection(ctx context.Context, id uuid.UUID) (*models.Detection, error) {
	d := &models.Detection{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, source, class_name, confidence, latitude, longitude, accuracy, image_key, timestamp, created_at
		 FROM detections WHERE id = $1`, id,
	).Scan(&d.ID, &d.Source, &d.ClassName, &d.Confidence, &d.Latitude, &d.Longitude, &d.Accuracy, &d.ImageKey, &d.Timestamp, &d.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get detection: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListDetections(ctx context.Context, source string, from, to *time.Time, limit, offset int) ([]models.Detection, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	baseWhere := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if source != "" {
		baseWhere += fmt.Sprintf(" AND source = $%d", argIdx)
		args = append(args, source)
		argIdx++
	}
	if from != nil {
		baseWhere += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		baseWhere += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *to)
		argIdx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM detections " + baseWhere
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count detections: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, source, class_name, confidence, latitude, longitude, accuracy, image_key, timestamp, created_at
		 FROM detections %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	var detections []models.Detection
	for rows.Next() {
		var d models.Detection
		if err := rows.Scan(&d.ID, &d.Source, &d.ClassName, &d.Confidence, &d.Latitude, &d.Longitude,
			&d.Accuracy, &d.ImageKey, &d.Timestamp, &d.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan detection: %w", err)
		}
		detections = append(detections, d)
	}
	return detections, total, nil
}

// --- Offline queue ---

func (s *PostgresStore) EnqueueDetection(ctx context.Context, q *models.QueuedDetection) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO offline_queue (id, detection_json, retry_count, next_attempt_at)
		 VALUES ($1, $2, 0, now()) RETURNING created_at`,
		q.ID, q.DetectionJSON,
	).Scan(&q.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue detection: %w", err)
	}
	return nil
}

// LeasePending claims up to limit undelivered items whose backoff window has
// passed and whose lease (if any) has expired. Claimed rows get locked_until
// set so overlapping scan intervals never dispatch the same item twice.
// Oldest, least-retried items come first.
func (s *PostgresStore) LeasePending(ctx context.Context, limit int, leaseTTL time.Duration, maxRetries int) ([]models.QueuedDetection, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE offline_queue SET locked_until = now() + $1
		 WHERE id IN (
			SELECT id FROM offline_queue
			WHERE synced_at IS NULL
			  AND retry_count < $2
			  AND next_attempt_at <= now()
			  AND (locked_until IS NULL OR locked_until < now())
			ORDER BY retry_count ASC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, detection_json, created_at, synced_at, retry_count, next_attempt_at, locked_until`,
		leaseTTL, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("lease pending: %w", err)
	}
	defer rows.Close()

	var items []models.QueuedDetection
	for rows.Next() {
		var q models.QueuedDetection
		if err := rows.Scan(&q.ID, &q.DetectionJSON, &q.CreatedAt, &q.SyncedAt,
			&q.RetryCount, &q.NextAttemptAt, &q.LockedUntil); err != nil {
			return nil, fmt.Errorf("scan queued detection: %w", err)
		}
		items = append(items, q)
	}
	// RETURNING does not preserve the subquery's order; re-apply it so the
	// batch is attempted least-retried, oldest first.
	sortLeased(items)
	return items, nil
}

func sortLeased(items []models.QueuedDetection) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].RetryCount != items[j].RetryCount {
			return items[i].RetryCount < items[j].RetryCount
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

// MarkDelivered sets synced_at and appends the DELIVERED audit record in one
// transaction, so a delivered item can never miss its terminal audit entry.
// synced_at is set exactly once; a second call is a no-op.
func (s *PostgresStore) MarkDelivered(ctx context.Context, id uuid.UUID, rec *models.AuditRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mark delivered: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE offline_queue SET synced_at = now(), locked_until = NULL
		 WHERE id = $1 AND synced_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already delivered by a previous attempt.
		return nil
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_trail (id, action, source, timestamp, details, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Action, rec.Source, rec.Timestamp, rec.Details, rec.Status); err != nil {
		return fmt.Errorf("append delivered audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mark delivered: %w", err)
	}
	return nil
}

// RecordRetryFailure bumps retry_count, schedules the next attempt and
// releases the lease. Returns the new retry count.
func (s *PostgresStore) RecordRetryFailure(ctx context.Context, id uuid.UUID, backoff time.Duration) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`UPDATE offline_queue
		 SET retry_count = retry_count + 1, next_attempt_at = now() + $1, locked_until = NULL
		 WHERE id = $2 AND synced_at IS NULL
		 RETURNING retry_count`, backoff, id,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("record retry failure: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListQueued(ctx context.Context, pendingOnly bool, limit, offset int) ([]models.QueuedDetection, int, error) {
	if limit <= 0 {
		limit = 50
	}

	where := ""
	if pendingOnly {
		where = "WHERE synced_at IS NULL"
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM offline_queue "+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queued: %w", err)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, detection_json, created_at, synced_at, retry_count, next_attempt_at, locked_until
		 FROM offline_queue %s ORDER BY created_at ASC LIMIT $1 OFFSET $2`, where),
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list queued: %w", err)
	}
	defer rows.Close()

	var items []models.QueuedDetection
	for rows.Next() {
		var q models.QueuedDetection
		if err := rows.Scan(&q.ID, &q.DetectionJSON, &q.CreatedAt, &q.SyncedAt,
			&q.RetryCount, &q.NextAttemptAt, &q.LockedUntil); err != nil {
			return nil, 0, fmt.Errorf("scan queued detection: %w", err)
		}
		items = append(items, q)
	}
	return items, total, nil
}

// PendingCount returns the number of undelivered queue items.
func (s *PostgresStore) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM offline_queue WHERE synced_at IS NULL`).Scan(&count)
	return count, err
}

// --- Audit trail ---

// AppendAudit inserts one audit record. The store exposes no update or
// delete for audit_trail: the ledger is insert-only by construction.
func (s *PostgresStore) AppendAudit(ctx context.Context, rec *models.AuditRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_trail (id, action, source, timestamp, details, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Action, rec.Source, rec.Timestamp, rec.Details, rec.Status)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, source, action string, limit, offset int) ([]models.AuditRecord, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	baseWhere := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if source != "" {
		baseWhere += fmt.Sprintf(" AND source = $%d", argIdx)
		args = append(args, source)
		argIdx++
	}
	if action != "" {
		baseWhere += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, action)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_trail "+baseWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit records: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, action, source, timestamp, details, status
		 FROM audit_trail %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		if err := rows.Scan(&r.ID, &r.Action, &r.Source, &r.Timestamp, &r.Details, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, r)
	}
	return records, total, nil
}
