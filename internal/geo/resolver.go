package geo

import (
	"errors"
	"math"

	"github.com/your-org/takpipe/internal/config"
	"github.com/your-org/takpipe/internal/models"
)

// ErrNoGroundIntersection is returned when the sensor ray never reaches the
// ground model (e.g. the pixel points at or above the horizon).
var ErrNoGroundIntersection = errors.New("ray does not intersect the ground")

// Position is a resolved geodetic point with its accuracy estimate.
type Position struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64 // estimated horizontal error, meters (larger = worse)
	SlantM    float64 // camera-to-ground distance, meters
}

// Resolver converts a pixel inside a posed camera image into geographic
// coordinates by ray projection. It is a pure function of its inputs and
// safe for concurrent use.
type Resolver struct {
	cfg config.GeoConfig
}

func NewResolver(cfg config.GeoConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

type vec3 struct{ x, y, z float64 }

func (v vec3) norm() vec3 {
	m := math.Sqrt(v.x*v.x + v.y*v.y + v.z*v.z)
	return vec3{v.x / m, v.y / m, v.z / m}
}

func (v vec3) scale(s float64) vec3 { return vec3{v.x * s, v.y * s, v.z * s} }

func (v vec3) add(o vec3) vec3 { return vec3{v.x + o.x, v.y + o.y, v.z + o.z} }

func cross(a, b vec3) vec3 {
	return vec3{
		a.y*b.z - a.z*b.y,
		a.z*b.x - a.x*b.z,
		a.x*b.y - a.y*b.x,
	}
}

// Resolve returns the geographic position seen by the given pixel.
// The input must already be validated (pipeline does that).
func (r *Resolver) Resolve(in models.InputDetection) (Position, error) {
	dir := r.rayENU(in)

	var pos Position
	var err error
	if in.CameraElevation < r.cfg.AltitudeThresholdM {
		pos, err = r.intersectFlat(in, dir)
	} else {
		pos, err = r.intersectEllipsoid(in, dir)
	}
	if err != nil {
		return Position{}, err
	}

	pos.Accuracy = r.accuracy(pos.SlantM, dir)
	return pos, nil
}

// Flag classifies an accuracy estimate against the configured thresholds.
// Thresholds are inclusive on the better (smaller) side.
func (r *Resolver) Flag(accuracy float64) models.ConfidenceFlag {
	switch {
	case accuracy <= r.cfg.HighAccuracyM:
		return models.ConfidenceHigh
	case accuracy <= r.cfg.MediumAccuracyM:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// rayENU maps the pixel to a camera-frame ray via the pinhole model and
// rotates it into the local east-north-up frame at the camera.
//
// Camera frame: x right, y down, z along the optical axis. A pixel at image
// center maps to (0,0,1); an edge pixel reaches the field-of-view boundary
// set by the physical sensor size and focal length.
func (r *Resolver) rayENU(in models.InputDetection) vec3 {
	w := float64(in.ImageWidth)
	h := float64(in.ImageHeight)

	// Offsets on the physical sensor, in mm.
	xm := (in.PixelX - w/2) * (in.SensorWidthMM / w)
	ym := (in.PixelY - h/2) * (in.SensorHeightMM / h)

	cam := vec3{xm, ym, in.FocalLength}.norm()

	yaw := radians(in.Heading)
	pitch := radians(in.Pitch)
	roll := radians(in.Roll)

	sy, cy := math.Sincos(yaw)
	sp, cp := math.Sincos(pitch)
	sr, cr := math.Sincos(roll)

	// Optical axis in ENU. Heading is clockwise from north, pitch positive
	// above the horizon.
	forward := vec3{sy * cp, cy * cp, sp}
	right0 := vec3{cy, -sy, 0}
	down0 := cross(forward, right0)

	// Roll about the optical axis, positive clockwise looking out.
	right := right0.scale(cr).add(down0.scale(sr))
	down := down0.scale(cr).add(right0.scale(-sr))

	return right.scale(cam.x).add(down.scale(cam.y)).add(forward.scale(cam.z)).norm()
}

// intersectFlat intersects the ray with a local flat-earth tangent plane at
// sea level. Valid for low camera altitudes where earth curvature is noise.
func (r *Resolver) intersectFlat(in models.InputDetection, dir vec3) (Position, error) {
	if dir.z >= 0 || in.CameraElevation <= 0 {
		return Position{}, ErrNoGroundIntersection
	}

	t := in.CameraElevation / -dir.z
	east := dir.x * t
	north := dir.y * t

	lat0 := radians(in.CameraLatitude)
	lat := in.CameraLatitude + degrees(north/wgs84A)
	lon := in.CameraLongitude + degrees(east/(wgs84A*math.Cos(lat0)))
	lat, lon = foldLatitude(lat, lon)

	return Position{
		Latitude:  lat,
		Longitude: wrapLongitude(lon),
		SlantM:    t,
	}, nil
}

// intersectEllipsoid intersects the ray with the WGS84 ellipsoid surface in
// ECEF coordinates. Used above the altitude threshold, where a tangent plane
// is no longer a usable ground model.
func (r *Resolver) intersectEllipsoid(in models.InputDetection, dir vec3) (Position, error) {
	origin := geodeticToECEF(in.CameraLatitude, in.CameraLongitude, in.CameraElevation)
	d := enuToECEF(dir, in.CameraLatitude, in.CameraLongitude)

	t, ok := rayEllipsoid(origin, d)
	if !ok {
		return Position{}, ErrNoGroundIntersection
	}

	point := origin.add(d.scale(t))
	lat, lon := ecefToGeodetic(point)

	return Position{
		Latitude:  lat,
		Longitude: wrapLongitude(lon),
		SlantM:    t,
	}, nil
}

// accuracy grows monotonically with slant range and with obliqueness (the
// angle between the ray and the local vertical). Coefficients are policy.
func (r *Resolver) accuracy(slantM float64, dir vec3) float64 {
	cosObl := -dir.z
	if cosObl < 0.02 {
		cosObl = 0.02
	}
	sec := 1 / cosObl
	return r.cfg.AccuracyBaseM + slantM*(r.cfg.AccuracyRangeCoeff+r.cfg.AccuracyObliqueCoeff*(sec-1))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// foldLatitude reflects a latitude that walked over a pole back into
// [-90, 90], flipping the longitude to the antimeridian side.
func foldLatitude(lat, lon float64) (float64, float64) {
	if lat > 90 {
		return 180 - lat, lon + 180
	}
	if lat < -90 {
		return -180 - lat, lon + 180
	}
	return lat, lon
}

func wrapLongitude(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
