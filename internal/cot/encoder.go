package cot

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/takpipe/internal/config"
	"github.com/your-org/takpipe/internal/models"
)

// cotTime is the timestamp layout used by CoT events (UTC, millisecond).
const cotTime = "2006-01-02T15:04:05.000Z"

const eventVersion = "2.0"

// Event is a CoT/TAK event document.
type Event struct {
	XMLName xml.Name `xml:"event"`
	Version string   `xml:"version,attr"`
	UID     string   `xml:"uid,attr"`
	Type    string   `xml:"type,attr"`
	Time    string   `xml:"time,attr"`
	Start   string   `xml:"start,attr"`
	Stale   string   `xml:"stale,attr"`
	How     string   `xml:"how,attr"`
	Point   Point    `xml:"point"`
	Detail  Detail   `xml:"detail"`
}

// Point carries the resolved position. CE and LE are circular and linear
// error estimates in meters.
type Point struct {
	Lat float64 `xml:"lat,attr"`
	Lon float64 `xml:"lon,attr"`
	HAE float64 `xml:"hae,attr"`
	CE  float64 `xml:"ce,attr"`
	LE  float64 `xml:"le,attr"`
}

type Detail struct {
	Detection DetectionDetail `xml:"detection"`
	Remarks   string          `xml:"remarks,omitempty"`
}

// DetectionDetail carries the original classification alongside the event.
type DetectionDetail struct {
	Class      string  `xml:"class,attr"`
	Confidence float64 `xml:"confidence,attr"`
	Source     string  `xml:"source,attr,omitempty"`
	Flag       string  `xml:"flag,attr,omitempty"`
}

// Encoder builds CoT documents from resolved detections. Pure and safe for
// concurrent use.
type Encoder struct {
	cfg config.CoTConfig
}

func NewEncoder(cfg config.CoTConfig) *Encoder {
	return &Encoder{cfg: cfg}
}

// NewUID returns a collision-resistant event uid: deterministic
// source/timestamp prefix plus a randomized suffix.
func (e *Encoder) NewUID(source string, ts time.Time) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s-%d-%s", sanitizeUID(source), ts.UnixMilli(), suffix)
}

// Encode renders the detection as a CoT event with the given uid.
// It fails only on structurally invalid coordinates; everything in range
// always encodes.
func (e *Encoder) Encode(det models.Detection, flag models.ConfidenceFlag, uid string) ([]byte, error) {
	if det.Latitude < -90 || det.Latitude > 90 {
		return nil, fmt.Errorf("latitude out of range: %f", det.Latitude)
	}
	if det.Longitude < -180 || det.Longitude > 180 {
		return nil, fmt.Errorf("longitude out of range: %f", det.Longitude)
	}

	ts := det.Timestamp.UTC()
	ev := Event{
		Version: eventVersion,
		UID:     uid,
		Type:    e.TypeFor(det.ClassName),
		Time:    ts.Format(cotTime),
		Start:   ts.Format(cotTime),
		Stale:   ts.Add(e.cfg.StaleTTL).Format(cotTime),
		How:     e.cfg.How,
		Point: Point{
			Lat: det.Latitude,
			Lon: det.Longitude,
			HAE: 0.0, // ground model resolves to the reference surface
			CE:  det.Accuracy,
			LE:  det.Accuracy,
		},
		Detail: Detail{
			Detection: DetectionDetail{
				Class:      det.ClassName,
				Confidence: det.Confidence,
				Source:     det.Source,
				Flag:       string(flag),
			},
		},
	}

	body, err := xml.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal cot event: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Decode parses a CoT document back into an Event.
func Decode(doc []byte) (*Event, error) {
	ev := &Event{}
	if err := xml.Unmarshal(doc, ev); err != nil {
		return nil, fmt.Errorf("unmarshal cot event: %w", err)
	}
	return ev, nil
}

// sanitizeUID keeps the uid prefix free of characters that trip up
// downstream parsers.
func sanitizeUID(source string) string {
	if source == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '-'
		}
	}, source)
}
