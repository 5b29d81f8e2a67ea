// Package pipeline orchestrates one detection through the state machine
// RECEIVED → VALIDATED → RESOLVED → {DELIVERED | QUEUED}. Once a detection
// resolves, ingestion succeeds from the caller's point of view regardless
// of delivery outcome; delivery failures fall back to the offline queue.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/takpipe/internal/audit"
	"github.com/your-org/takpipe/internal/cot"
	"github.com/your-org/takpipe/internal/geo"
	"github.com/your-org/takpipe/internal/models"
	"github.com/your-org/takpipe/internal/observability"
	"github.com/your-org/takpipe/internal/storage"
)

// DetectionStore persists resolved detections and failed deliveries.
type DetectionStore interface {
	CreateDetection(ctx context.Context, d *models.Detection) error
	EnqueueDetection(ctx context.Context, q *models.QueuedDetection) error
}

// ImageStore keeps the source imagery. Optional; failures are logged, never fatal.
type ImageStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Publisher feeds resolved detections to live consumers. Optional.
type Publisher interface {
	PublishDetection(ctx context.Context, source string, data interface{}) error
}

// Sink is the downstream COP/TAK endpoint.
type Sink interface {
	Send(ctx context.Context, uid string, doc []byte) error
}

// Service composes the four pipeline subsystems.
type Service struct {
	resolver        *geo.Resolver
	encoder         *cot.Encoder
	store           DetectionStore
	images          ImageStore
	publisher       Publisher
	sink            Sink
	audit           *audit.Recorder
	dispatchTimeout time.Duration
}

type Deps struct {
	Resolver        *geo.Resolver
	Encoder         *cot.Encoder
	Store           DetectionStore
	Images          ImageStore
	Publisher       Publisher
	Sink            Sink
	Audit           *audit.Recorder
	DispatchTimeout time.Duration
}

func New(d Deps) *Service {
	if d.DispatchTimeout == 0 {
		d.DispatchTimeout = 5 * time.Second
	}
	return &Service{
		resolver:        d.Resolver,
		encoder:         d.Encoder,
		store:           d.Store,
		images:          d.Images,
		publisher:       d.Publisher,
		sink:            d.Sink,
		audit:           d.Audit,
		dispatchTimeout: d.DispatchTimeout,
	}
}

// ValidationError rejects a request before anything is persisted or audited.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Result is what the ingestion endpoint returns to the caller.
type Result struct {
	Detection models.Detection
	Flag      models.ConfidenceFlag
	UID       string
	CoT       []byte
	Delivered bool
}

// Validate checks the structural constraints on an input detection.
func Validate(in models.InputDetection) error {
	switch {
	case in.CameraLatitude < -90 || in.CameraLatitude > 90:
		return &ValidationError{"camera_latitude", "must be in [-90, 90]"}
	case in.CameraLongitude < -180 || in.CameraLongitude > 180:
		return &ValidationError{"camera_longitude", "must be in [-180, 180]"}
	case in.Confidence < 0 || in.Confidence > 1:
		return &ValidationError{"detection_confidence", "must be in [0, 1]"}
	case in.FocalLength <= 0:
		return &ValidationError{"focal_length", "must be strictly positive"}
	case in.SensorWidthMM <= 0:
		return &ValidationError{"sensor_width_mm", "must be strictly positive"}
	case in.SensorHeightMM <= 0:
		return &ValidationError{"sensor_height_mm", "must be strictly positive"}
	case in.ImageWidth <= 0:
		return &ValidationError{"image_width", "must be strictly positive"}
	case in.ImageHeight <= 0:
		return &ValidationError{"image_height", "must be strictly positive"}
	case in.PixelX < 0 || in.PixelX > float64(in.ImageWidth):
		return &ValidationError{"pixel_x", "must be inside the image"}
	case in.PixelY < 0 || in.PixelY > float64(in.ImageHeight):
		return &ValidationError{"pixel_y", "must be inside the image"}
	case in.Class == "":
		return &ValidationError{"detection_class", "must not be empty"}
	}
	return nil
}

// Ingest runs the full pipeline for one detection. image may be nil.
//
// Error contract: *ValidationError means nothing was persisted or audited;
// geo.ErrNoGroundIntersection means the geometry has no solution (audited
// FAILED); any other error is a storage failure.
func (s *Service) Ingest(ctx context.Context, in models.InputDetection, image []byte) (*Result, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}

	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	s.audit.Record(ctx, models.AuditIngested, in.Source, models.AuditPending, map[string]any{
		"class":      in.Class,
		"confidence": in.Confidence,
		"pixel_x":    in.PixelX,
		"pixel_y":    in.PixelY,
	})
	observability.DetectionsIngested.WithLabelValues(in.Source).Inc()

	start := time.Now()
	pos, err := s.resolver.Resolve(in)
	observability.ResolveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ResolutionFailures.WithLabelValues(in.Source).Inc()
		s.audit.Record(ctx, models.AuditFailed, in.Source, models.AuditFailure, map[string]any{
			"reason": err.Error(),
			"class":  in.Class,
		})
		if errors.Is(err, geo.ErrNoGroundIntersection) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve detection: %w", err)
	}

	det := models.Detection{
		ID:         uuid.New(),
		Source:     in.Source,
		ClassName:  in.Class,
		Confidence: in.Confidence,
		Latitude:   pos.Latitude,
		Longitude:  pos.Longitude,
		Accuracy:   pos.Accuracy,
		Timestamp:  in.Timestamp,
	}
	flag := s.resolver.Flag(pos.Accuracy)

	if s.images != nil && len(image) > 0 {
		key := storage.ImageKey(det.ID)
		if err := s.images.PutObject(ctx, key, image, "image/jpeg"); err != nil {
			slog.Warn("store source image", "detection_id", det.ID, "error", err)
		} else {
			det.ImageKey = key
		}
	}

	if err := s.store.CreateDetection(ctx, &det); err != nil {
		s.audit.Record(ctx, models.AuditFailed, in.Source, models.AuditFailure, map[string]any{
			"reason":       err.Error(),
			"detection_id": det.ID,
		})
		return nil, fmt.Errorf("persist detection: %w", err)
	}

	s.audit.Record(ctx, models.AuditResolved, in.Source, models.AuditSuccess, map[string]any{
		"detection_id": det.ID,
		"latitude":     det.Latitude,
		"longitude":    det.Longitude,
		"accuracy":     det.Accuracy,
		"flag":         flag,
		"slant_m":      pos.SlantM,
	})

	uid := s.encoder.NewUID(det.Source, det.Timestamp)
	doc, err := s.encoder.Encode(det, flag, uid)
	if err != nil {
		s.audit.Record(ctx, models.AuditFailed, in.Source, models.AuditFailure, map[string]any{
			"reason":       err.Error(),
			"detection_id": det.ID,
		})
		return nil, fmt.Errorf("encode cot event: %w", err)
	}
	s.audit.Record(ctx, models.AuditEncoded, in.Source, models.AuditSuccess, map[string]any{
		"detection_id": det.ID,
		"uid":          uid,
	})

	if s.publisher != nil {
		if err := s.publisher.PublishDetection(ctx, det.Source, det); err != nil {
			slog.Warn("publish live detection", "detection_id", det.ID, "error", err)
		}
	}

	res := &Result{Detection: det, Flag: flag, UID: uid, CoT: doc}
	res.Delivered = s.dispatch(ctx, in, det, flag, uid, doc)
	return res, nil
}

// dispatch attempts synchronous delivery; on failure the detection goes to
// the offline queue. The caller never waits on retry logic.
func (s *Service) dispatch(ctx context.Context, in models.InputDetection, det models.Detection, flag models.ConfidenceFlag, uid string, doc []byte) bool {
	// The detection is already persisted; a client disconnect must not strand
	// it between delivered and queued.
	ctx = context.WithoutCancel(ctx)

	sendCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()

	sendErr := s.sink.Send(sendCtx, uid, doc)
	if sendErr == nil {
		observability.DispatchResults.WithLabelValues("delivered").Inc()
		s.audit.Record(ctx, models.AuditDelivered, det.Source, models.AuditSuccess, map[string]any{
			"detection_id": det.ID,
			"uid":          uid,
		})
		return true
	}

	slog.Warn("synchronous dispatch failed, queueing", "detection_id", det.ID, "error", sendErr)
	observability.DispatchResults.WithLabelValues("queued").Inc()

	payload, err := json.Marshal(models.QueuePayload{
		Input:     in,
		Detection: det,
		Flag:      flag,
		UID:       uid,
		CoT:       string(doc),
	})
	if err != nil {
		// Unreachable in practice; every field marshals.
		slog.Error("marshal queue payload", "detection_id", det.ID, "error", err)
		return false
	}

	q := &models.QueuedDetection{ID: uuid.New(), DetectionJSON: payload}
	if err := s.store.EnqueueDetection(ctx, q); err != nil {
		// Queue insert failed on top of a failed dispatch. The audit
		// fallback is the remaining durable record of this outcome.
		s.audit.Record(ctx, models.AuditFailed, det.Source, models.AuditFailure, map[string]any{
			"detection_id": det.ID,
			"uid":          uid,
			"reason":       fmt.Sprintf("enqueue after dispatch failure: %v", err),
		})
		return false
	}

	s.audit.Record(ctx, models.AuditQueued, det.Source, models.AuditPending, map[string]any{
		"detection_id": det.ID,
		"queue_id":     q.ID,
		"uid":          uid,
	})
	return false
}
