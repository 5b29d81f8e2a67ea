package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/takpipe/internal/audit"
	"github.com/your-org/takpipe/internal/config"
	"github.com/your-org/takpipe/internal/cot"
	"github.com/your-org/takpipe/internal/geo"
	"github.com/your-org/takpipe/internal/models"
	"github.com/your-org/takpipe/internal/pipeline"
)

type stubStore struct {
	detections []*models.Detection
	queued     []*models.QueuedDetection
}

func (s *stubStore) CreateDetection(_ context.Context, d *models.Detection) error {
	d.CreatedAt = time.Now().UTC()
	s.detections = append(s.detections, d)
	return nil
}

func (s *stubStore) EnqueueDetection(_ context.Context, q *models.QueuedDetection) error {
	s.queued = append(s.queued, q)
	return nil
}

func (s *stubStore) GetDetection(_ context.Context, id uuid.UUID) (*models.Detection, error) {
	for _, d := range s.detections {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func (s *stubStore) ListDetections(_ context.Context, source string, _, _ *time.Time, _, _ int) ([]models.Detection, int, error) {
	var out []models.Detection
	for _, d := range s.detections {
		if source != "" && d.Source != source {
			continue
		}
		out = append(out, *d)
	}
	return out, len(out), nil
}

type stubSink struct{ fail bool }

func (s *stubSink) Send(context.Context, string, []byte) error {
	if s.fail {
		return errors.New("connection refused")
	}
	return nil
}

type nopAuditStore struct{}

func (nopAuditStore) AppendAudit(context.Context, *models.AuditRecord) error { return nil }

func newTestRouter(store *stubStore, sink *stubSink) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()

	resolver := geo.NewResolver(cfg.Geo)
	encoder := cot.NewEncoder(cfg.CoT)
	svc := pipeline.New(pipeline.Deps{
		Resolver: resolver,
		Encoder:  encoder,
		Store:    store,
		Sink:     sink,
		Audit:    audit.NewRecorder(nopAuditStore{}),
	})
	h := NewDetectionHandler(svc, store, nil, encoder, resolver, cfg.Geo)

	r := gin.New()
	r.POST("/v1/detections", h.Ingest)
	r.GET("/v1/detections", h.List)
	r.GET("/v1/detections/:id", h.Get)
	r.GET("/v1/detections/:id/cot", h.CoT)
	return r
}

func ingestBody(mutate func(map[string]any)) *bytes.Reader {
	body := map[string]any{
		"pixel_x":       960.0,
		"pixel_y":       540.0,
		"object_class":  "vehicle",
		"ai_confidence": 0.9,
		"source":        "cam-01",
		"timestamp":     "2026-08-26T10:30:00Z",
		"camera": map[string]any{
			"location_lat":       48.2082,
			"location_lon":       16.3738,
			"location_elevation": 100.0,
			"heading":            0.0,
			"pitch":              -45.0,
			"focal_length":       24.0,
			"sensor_width_mm":    36.0,
			"sensor_height_mm":   24.0,
			"image_width":        1920,
			"image_height":       1080,
		},
	}
	if mutate != nil {
		mutate(body)
	}
	data, _ := json.Marshal(body)
	return bytes.NewReader(data)
}

func camera(body map[string]any) map[string]any {
	return body["camera"].(map[string]any)
}

func TestIngestJSON(t *testing.T) {
	store := &stubStore{}
	r := newTestRouter(store, &stubSink{})

	req := httptest.NewRequest(http.MethodPost, "/v1/detections", ingestBody(nil))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Detection-ID"))
	assert.Equal(t, "HIGH", w.Header().Get("X-Confidence-Flag"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "<?xml"))
	assert.Contains(t, w.Body.String(), `type="a-n-G-E-V"`)

	require.Len(t, store.detections, 1)
	assert.Empty(t, store.queued)
}

func TestIngestJSONValidation(t *testing.T) {
	r := newTestRouter(&stubStore{}, &stubSink{})

	cases := []struct {
		name   string
		mutate func(map[string]any)
		field  string
	}{
		{"latitude out of range", func(b map[string]any) { camera(b)["location_lat"] = 90.0001 }, "camera_latitude"},
		{"confidence out of range", func(b map[string]any) { b["ai_confidence"] = 1.5 }, "detection_confidence"},
		{"pixel outside image", func(b map[string]any) { b["pixel_x"] = 5000.0 }, "pixel_x"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/detections", ingestBody(tc.mutate))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, http.StatusBadRequest, w.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.field, resp["field"])
		})
	}
}

func TestIngestJSONBoundaryLatitudeAccepted(t *testing.T) {
	r := newTestRouter(&stubStore{}, &stubSink{})

	req := httptest.NewRequest(http.MethodPost, "/v1/detections", ingestBody(func(b map[string]any) {
		camera(b)["location_lat"] = 90.0
	}))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestIngestJSONHorizonRay(t *testing.T) {
	r := newTestRouter(&stubStore{}, &stubSink{})

	req := httptest.NewRequest(http.MethodPost, "/v1/detections", ingestBody(func(b map[string]any) {
		camera(b)["pitch"] = 0.0
	}))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestIngestJSONMalformedBody(t *testing.T) {
	r := newTestRouter(&stubStore{}, &stubSink{})

	req := httptest.NewRequest(http.MethodPost, "/v1/detections", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestSinkDownStillCreated(t *testing.T) {
	store := &stubStore{}
	r := newTestRouter(store, &stubSink{fail: true})

	req := httptest.NewRequest(http.MethodPost, "/v1/detections", ingestBody(nil))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// Delivery failure is not the caller's problem; the detection is queued.
	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, store.detections, 1)
	require.Len(t, store.queued, 1)
}

func TestIngestMultipart(t *testing.T) {
	store := &stubStore{}
	r := newTestRouter(store, &stubSink{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"pixel_x":              "960",
		"pixel_y":              "540",
		"camera_latitude":      "48.2082",
		"camera_longitude":     "16.3738",
		"camera_elevation":     "100",
		"camera_heading":       "0",
		"camera_pitch":         "-45",
		"detection_class":      "person",
		"detection_confidence": "0.8",
		"source":               "drone-7",
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/detections", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// Intrinsics not sent fall back to configured defaults.
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `type="a-h-G-U-C"`)
	require.Len(t, store.detections, 1)
	assert.Equal(t, "drone-7", store.detections[0].Source)
}

func TestIngestMultipartMalformedNumber(t *testing.T) {
	store := &stubStore{}
	r := newTestRouter(store, &stubSink{})

	cases := []struct {
		name  string
		field string
		value string
	}{
		{"confidence not a number", "detection_confidence", "abc"},
		{"pixel not a number", "pixel_x", "not-a-number"},
		{"latitude not a number", "camera_latitude", "48,2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			fields := map[string]string{
				"pixel_x":              "960",
				"pixel_y":              "540",
				"camera_latitude":      "48.2082",
				"camera_longitude":     "16.3738",
				"camera_elevation":     "100",
				"camera_pitch":         "-45",
				"detection_class":      "person",
				"detection_confidence": "0.8",
				"source":               "drone-7",
			}
			fields[tc.field] = tc.value
			for k, v := range fields {
				require.NoError(t, mw.WriteField(k, v))
			}
			require.NoError(t, mw.Close())

			req := httptest.NewRequest(http.MethodPost, "/v1/detections", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			// Malformed scalars are rejected, never coerced to a default.
			require.Equal(t, http.StatusBadRequest, w.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp["error"], tc.field)
		})
	}

	assert.Empty(t, store.detections)
}

func TestGetDetection(t *testing.T) {
	store := &stubStore{}
	r := newTestRouter(store, &stubSink{})

	req := httptest.NewRequest(http.MethodPost, "/v1/detections", ingestBody(nil))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	id := w.Header().Get("X-Detection-ID")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/detections/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp["id"])
	assert.Equal(t, "vehicle", resp["class_name"])
}

func TestGetDetectionNotFound(t *testing.T) {
	r := newTestRouter(&stubStore{}, &stubSink{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/detections/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/detections/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetectionCoTExport(t *testing.T) {
	store := &stubStore{}
	r := newTestRouter(store, &stubSink{})

	req := httptest.NewRequest(http.MethodPost, "/v1/detections", ingestBody(nil))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	id := w.Header().Get("X-Detection-ID")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/detections/%s/cot", id), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))

	ev, err := cot.Decode(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "a-n-G-E-V", ev.Type)
	assert.InDelta(t, store.detections[0].Latitude, ev.Point.Lat, 1e-9)
}

func TestListDetectionsFilterBySource(t *testing.T) {
	store := &stubStore{}
	r := newTestRouter(store, &stubSink{})

	for _, source := range []string{"cam-01", "cam-02", "cam-01"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/detections", ingestBody(func(b map[string]any) {
			b["source"] = source
		}))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/detections?source=cam-01", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Detections []map[string]any `json:"detections"`
		Total      int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Detections, 2)
}
