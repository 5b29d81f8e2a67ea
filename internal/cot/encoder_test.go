package cot

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/takpipe/internal/config"
	"github.com/your-org/takpipe/internal/models"
)

func testDetection() models.Detection {
	return models.Detection{
		ID:         uuid.New(),
		Source:     "cam-01",
		ClassName:  "vehicle",
		Confidence: 0.87,
		Latitude:   48.209123,
		Longitude:  16.374456,
		Accuracy:   12.5,
		Timestamp:  time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := NewEncoder(config.Default().CoT)
	det := testDetection()

	doc, err := e.Encode(det, models.ConfidenceMedium, "cam-01-1756204200000-abc123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(doc), "<?xml"))

	ev, err := Decode(doc)
	require.NoError(t, err)

	assert.Equal(t, "2.0", ev.Version)
	assert.Equal(t, "cam-01-1756204200000-abc123", ev.UID)
	assert.Equal(t, "a-n-G-E-V", ev.Type)
	assert.InDelta(t, det.Latitude, ev.Point.Lat, 1e-9)
	assert.InDelta(t, det.Longitude, ev.Point.Lon, 1e-9)
	assert.InDelta(t, det.Accuracy, ev.Point.CE, 1e-9)
	assert.Equal(t, "vehicle", ev.Detail.Detection.Class)
	assert.InDelta(t, 0.87, ev.Detail.Detection.Confidence, 1e-9)
	assert.Equal(t, "cam-01", ev.Detail.Detection.Source)
	assert.Equal(t, "MEDIUM", ev.Detail.Detection.Flag)
}

func TestEncodeStaleOffset(t *testing.T) {
	cfg := config.Default().CoT
	cfg.StaleTTL = 5 * time.Minute
	e := NewEncoder(cfg)
	det := testDetection()

	doc, err := e.Encode(det, models.ConfidenceHigh, "uid-1")
	require.NoError(t, err)
	ev, err := Decode(doc)
	require.NoError(t, err)

	start, err := time.Parse(cotTime, ev.Start)
	require.NoError(t, err)
	stale, err := time.Parse(cotTime, ev.Stale)
	require.NoError(t, err)

	assert.Equal(t, det.Timestamp, start)
	assert.Equal(t, 5*time.Minute, stale.Sub(start))
}

func TestEncodeRejectsOutOfRangeCoordinates(t *testing.T) {
	e := NewEncoder(config.Default().CoT)

	det := testDetection()
	det.Latitude = 90.5
	_, err := e.Encode(det, models.ConfidenceHigh, "uid-1")
	assert.Error(t, err)

	det = testDetection()
	det.Longitude = -180.5
	_, err = e.Encode(det, models.ConfidenceHigh, "uid-1")
	assert.Error(t, err)
}

func TestTypeFor(t *testing.T) {
	e := NewEncoder(config.Default().CoT)

	assert.Equal(t, "a-h-G-U-C", e.TypeFor("person"))
	assert.Equal(t, "a-n-G-E-V-T", e.TypeFor("Truck"))
	assert.Equal(t, "a-u-A-M-F-Q", e.TypeFor(" drone "))
	assert.Equal(t, "a-u-G", e.TypeFor("giraffe"))
	assert.Equal(t, "a-u-G", e.TypeFor(""))
}

func TestTypeForConfigOverride(t *testing.T) {
	cfg := config.Default().CoT
	cfg.TypeMap = map[string]string{"vehicle": "a-f-G-E-V"}
	e := NewEncoder(cfg)

	assert.Equal(t, "a-f-G-E-V", e.TypeFor("vehicle"))
	assert.Equal(t, "a-h-G-U-C", e.TypeFor("person"))
}

func TestNewUID(t *testing.T) {
	e := NewEncoder(config.Default().CoT)
	ts := time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC)

	uid := e.NewUID("cam 01/roof", ts)
	assert.True(t, strings.HasPrefix(uid, "cam-01-roof-"))
	assert.Contains(t, uid, strconv.FormatInt(ts.UnixMilli(), 10))

	other := e.NewUID("cam 01/roof", ts)
	assert.NotEqual(t, uid, other)

	assert.True(t, strings.HasPrefix(e.NewUID("", ts), "unknown-"))
}
