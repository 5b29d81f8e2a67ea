package models

import (
	"time"

	"github.com/google/uuid"
)

// InputDetection is the canonical, request-scoped form of an inbound
// detection. Both wire shapes (multipart and JSON) normalize into it
// at the API boundary.
type InputDetection struct {
	PixelX          float64   `json:"pixel_x"`
	PixelY          float64   `json:"pixel_y"`
	CameraLatitude  float64   `json:"camera_latitude"`
	CameraLongitude float64   `json:"camera_longitude"`
	CameraElevation float64   `json:"camera_elevation"` // meters above reference
	Heading         float64   `json:"heading"`          // degrees clockwise from north
	Pitch           float64   `json:"pitch"`            // degrees, negative = below horizon
	Roll            float64   `json:"roll"`             // degrees
	FocalLength     float64   `json:"focal_length"`     // mm
	SensorWidthMM   float64   `json:"sensor_width_mm"`
	SensorHeightMM  float64   `json:"sensor_height_mm"`
	ImageWidth      int       `json:"image_width"`
	ImageHeight     int       `json:"image_height"`
	Class           string    `json:"detection_class"`
	Confidence      float64   `json:"detection_confidence"`
	Source          string    `json:"source"`
	Timestamp       time.Time `json:"timestamp"`
}

// Detection is a resolved detection persisted to the detections table.
// Created once on successful geolocation, never mutated.
type Detection struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Source     string    `json:"source" db:"source"`
	ClassName  string    `json:"class_name" db:"class_name"`
	Confidence float64   `json:"confidence" db:"confidence"`
	Latitude   float64   `json:"latitude" db:"latitude"`
	Longitude  float64   `json:"longitude" db:"longitude"`
	Accuracy   float64   `json:"accuracy" db:"accuracy"` // estimated horizontal error, meters
	ImageKey   string    `json:"image_key,omitempty" db:"image_key"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ConfidenceFlag classifies the geolocation accuracy estimate.
type ConfidenceFlag string

const (
	ConfidenceHigh   ConfidenceFlag = "HIGH"
	ConfidenceMedium ConfidenceFlag = "MEDIUM"
	ConfidenceLow    ConfidenceFlag = "LOW"
)
