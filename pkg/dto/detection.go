package dto

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/takpipe/internal/models"
)

// CameraParams is the pose/intrinsics object of the JSON wire shape.
type CameraParams struct {
	LocationLat       float64 `json:"location_lat"`
	LocationLon       float64 `json:"location_lon"`
	LocationElevation float64 `json:"location_elevation"`
	Heading           float64 `json:"heading"`
	Pitch             float64 `json:"pitch"`
	Roll              float64 `json:"roll"`
	FocalLength       float64 `json:"focal_length"`
	SensorWidthMM     float64 `json:"sensor_width_mm"`
	SensorHeightMM    float64 `json:"sensor_height_mm"`
	ImageWidth        int     `json:"image_width"`
	ImageHeight       int     `json:"image_height"`
}

// IngestJSONRequest is the JSON-with-embedded-image wire shape.
type IngestJSONRequest struct {
	ImageBase64  string       `json:"image_base64"`
	PixelX       float64      `json:"pixel_x"`
	PixelY       float64      `json:"pixel_y"`
	ObjectClass  string       `json:"object_class" binding:"required"`
	AIConfidence float64      `json:"ai_confidence"`
	Source       string       `json:"source"`
	CameraID     string       `json:"camera_id"`
	Timestamp    string       `json:"timestamp"`
	Camera       CameraParams `json:"camera" binding:"required"`
}

// Normalize converts the JSON shape into the canonical InputDetection and
// the decoded image bytes.
func (r *IngestJSONRequest) Normalize() (models.InputDetection, []byte, error) {
	var image []byte
	if r.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(r.ImageBase64)
		if err != nil {
			return models.InputDetection{}, nil, fmt.Errorf("decode image_base64: %w", err)
		}
		image = data
	}

	var ts time.Time
	if r.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, r.Timestamp)
		if err != nil {
			return models.InputDetection{}, nil, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed
	}

	source := r.Source
	if source == "" {
		source = r.CameraID
	}
	if source == "" {
		source = "unknown"
	}

	return models.InputDetection{
		PixelX:          r.PixelX,
		PixelY:          r.PixelY,
		CameraLatitude:  r.Camera.LocationLat,
		CameraLongitude: r.Camera.LocationLon,
		CameraElevation: r.Camera.LocationElevation,
		Heading:         r.Camera.Heading,
		Pitch:           r.Camera.Pitch,
		Roll:            r.Camera.Roll,
		FocalLength:     r.Camera.FocalLength,
		SensorWidthMM:   r.Camera.SensorWidthMM,
		SensorHeightMM:  r.Camera.SensorHeightMM,
		ImageWidth:      r.Camera.ImageWidth,
		ImageHeight:     r.Camera.ImageHeight,
		Class:           r.ObjectClass,
		Confidence:      r.AIConfidence,
		Source:          source,
		Timestamp:       ts,
	}, image, nil
}

type DetectionResponse struct {
	ID         uuid.UUID `json:"id"`
	Source     string    `json:"source"`
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	ImageURL   string    `json:"image_url,omitempty"`
	Timestamp  string    `json:"timestamp"`
	CreatedAt  string    `json:"created_at"`
}

type DetectionListResponse struct {
	Detections []DetectionResponse `json:"detections"`
	Total      int                 `json:"total"`
}

func ToDetectionResponse(d *models.Detection) DetectionResponse {
	r := DetectionResponse{
		ID:         d.ID,
		Source:     d.Source,
		ClassName:  d.ClassName,
		Confidence: d.Confidence,
		Latitude:   d.Latitude,
		Longitude:  d.Longitude,
		Accuracy:   d.Accuracy,
		Timestamp:  d.Timestamp.Format(time.RFC3339),
		CreatedAt:  d.CreatedAt.Format(time.RFC3339),
	}
	if d.ImageKey != "" {
		r.ImageURL = "/v1/detections/" + d.ID.String() + "/image"
	}
	return r
}

// WSDetection is the WebSocket message for live detection delivery.
type WSDetection struct {
	Type   string            `json:"type"` // detection_resolved
	Source string            `json:"source"`
	Data   DetectionResponse `json:"data"`
}
