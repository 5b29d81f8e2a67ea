package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/takpipe/internal/config"
	"github.com/your-org/takpipe/internal/cot"
	"github.com/your-org/takpipe/internal/geo"
	"github.com/your-org/takpipe/internal/models"
	"github.com/your-org/takpipe/internal/pipeline"
	"github.com/your-org/takpipe/pkg/dto"
)

// DetectionReader is the read side of the detections table.
type DetectionReader interface {
	GetDetection(ctx context.Context, id uuid.UUID) (*models.Detection, error)
	ListDetections(ctx context.Context, source string, from, to *time.Time, limit, offset int) ([]models.Detection, int, error)
}

// ImageReader fetches stored source imagery.
type ImageReader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type DetectionHandler struct {
	pipeline *pipeline.Service
	db       DetectionReader
	images   ImageReader
	encoder  *cot.Encoder
	resolver *geo.Resolver
	geoCfg   config.GeoConfig
}

func NewDetectionHandler(p *pipeline.Service, db DetectionReader, images ImageReader, enc *cot.Encoder, res *geo.Resolver, geoCfg config.GeoConfig) *DetectionHandler {
	return &DetectionHandler{
		pipeline: p,
		db:       db,
		images:   images,
		encoder:  enc,
		resolver: res,
		geoCfg:   geoCfg,
	}
}

// Ingest accepts either wire shape, normalizes it to InputDetection and runs
// the pipeline. On success the CoT document is the response body.
func (h *DetectionHandler) Ingest(c *gin.Context) {
	var (
		in    models.InputDetection
		img   []byte
		err   error
		isMul = strings.HasPrefix(c.ContentType(), "multipart/form-data")
	)

	if isMul {
		in, img, err = h.parseMultipart(c)
	} else {
		in, img, err = parseJSON(c)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.pipeline.Ingest(c.Request.Context(), in, img)
	if err != nil {
		var vErr *pipeline.ValidationError
		switch {
		case errors.As(err, &vErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Reason, "field": vErr.Field})
		case errors.Is(err, geo.ErrNoGroundIntersection):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "ray does not intersect the ground"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.Header("X-Detection-ID", res.Detection.ID.String())
	c.Header("X-Confidence-Flag", string(res.Flag))
	c.Data(http.StatusCreated, "application/xml", res.CoT)
}

func parseJSON(c *gin.Context) (models.InputDetection, []byte, error) {
	var req dto.IngestJSONRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return models.InputDetection{}, nil, err
	}
	return req.Normalize()
}

// parseMultipart reads the binary-image wire shape. Missing intrinsics fall
// back to configured defaults; image dimensions come from the image header
// when not supplied.
func (h *DetectionHandler) parseMultipart(c *gin.Context) (models.InputDetection, []byte, error) {
	var img []byte
	if file, _, err := c.Request.FormFile("image"); err == nil {
		defer file.Close()
		if data, err := io.ReadAll(file); err == nil {
			img = data
		}
	}

	in := models.InputDetection{
		ImageWidth:  h.geoCfg.DefaultImageWidth,
		ImageHeight: h.geoCfg.DefaultImageHeight,
		Class:       c.PostForm("detection_class"),
		Source:      c.PostForm("source"),
	}
	if in.Source == "" {
		in.Source = "unknown"
	}

	for _, f := range []struct {
		dst      *float64
		field    string
		fallback float64
	}{
		{&in.PixelX, "pixel_x", 0},
		{&in.PixelY, "pixel_y", 0},
		{&in.CameraLatitude, "camera_latitude", 0},
		{&in.CameraLongitude, "camera_longitude", 0},
		{&in.CameraElevation, "camera_elevation", 0},
		{&in.Heading, "camera_heading", 0},
		{&in.Pitch, "camera_pitch", 0},
		{&in.Roll, "camera_roll", 0},
		{&in.FocalLength, "focal_length", h.geoCfg.DefaultFocalLengthMM},
		{&in.SensorWidthMM, "sensor_width_mm", h.geoCfg.DefaultSensorWidthMM},
		{&in.SensorHeightMM, "sensor_height_mm", h.geoCfg.DefaultSensorHeightMM},
		{&in.Confidence, "detection_confidence", 0},
	} {
		v, err := formFloat(c, f.field, f.fallback)
		if err != nil {
			return models.InputDetection{}, nil, err
		}
		*f.dst = v
	}

	if len(img) > 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(img)); err == nil {
			in.ImageWidth = cfg.Width
			in.ImageHeight = cfg.Height
		}
	}

	return in, img, nil
}

// formFloat parses a numeric form field. An absent field takes the fallback;
// a present but malformed value is an error, never a silent default.
func formFloat(c *gin.Context, field string, fallback float64) (float64, error) {
	v := c.PostForm(field)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", field, v)
	}
	return f, nil
}

func (h *DetectionHandler) List(c *gin.Context) {
	var from, to *time.Time
	if fromStr := c.Query("from"); fromStr != "" {
		if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
			from = &t
		}
	}
	if toStr := c.Query("to"); toStr != "" {
		if t, err := time.Parse(time.RFC3339, toStr); err == nil {
			to = &t
		}
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	detections, total, err := h.db.ListDetections(c.Request.Context(), c.Query("source"), from, to, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.DetectionResponse, 0, len(detections))
	for i := range detections {
		resp = append(resp, dto.ToDetectionResponse(&detections[i]))
	}

	c.JSON(http.StatusOK, dto.DetectionListResponse{Detections: resp, Total: total})
}

func (h *DetectionHandler) Get(c *gin.Context) {
	det, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.ToDetectionResponse(det))
}

// CoT re-encodes a persisted detection as a fresh CoT event.
func (h *DetectionHandler) CoT(c *gin.Context) {
	det, ok := h.lookup(c)
	if !ok {
		return
	}

	flag := h.resolver.Flag(det.Accuracy)
	uid := h.encoder.NewUID(det.Source, det.Timestamp)
	doc, err := h.encoder.Encode(*det, flag, uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("X-Confidence-Flag", string(flag))
	c.Data(http.StatusOK, "application/xml", doc)
}

// Image proxies the detection's source image from MinIO.
func (h *DetectionHandler) Image(c *gin.Context) {
	det, ok := h.lookup(c)
	if !ok {
		return
	}
	if det.ImageKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "detection has no stored image"})
		return
	}

	data, err := h.images.GetObject(c.Request.Context(), det.ImageKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *DetectionHandler) lookup(c *gin.Context) (*models.Detection, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid detection id"})
		return nil, false
	}

	det, err := h.db.GetDetection(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if det == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "detection not found"})
		return nil, false
	}
	return det, true
}
