package geo

import "math"

// WGS84 reference ellipsoid.
const (
	wgs84A  = 6378137.0           // semi-major axis, meters
	wgs84F  = 1 / 298.257223563   // flattening
	wgs84B  = wgs84A * (1 - wgs84F)
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// geodeticToECEF converts a geodetic position (degrees, meters above the
// ellipsoid) to earth-centered earth-fixed coordinates.
func geodeticToECEF(latDeg, lonDeg, h float64) vec3 {
	lat := radians(latDeg)
	lon := radians(lonDeg)

	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return vec3{
		(n + h) * cosLat * cosLon,
		(n + h) * cosLat * sinLon,
		(n*(1-wgs84E2) + h) * sinLat,
	}
}

// enuToECEF rotates a direction from the local east-north-up frame at the
// given geodetic position into the ECEF frame.
func enuToECEF(enu vec3, latDeg, lonDeg float64) vec3 {
	lat := radians(latDeg)
	lon := radians(lonDeg)

	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	east := vec3{-sinLon, cosLon, 0}
	north := vec3{-sinLat * cosLon, -sinLat * sinLon, cosLat}
	up := vec3{cosLat * cosLon, cosLat * sinLon, sinLat}

	return east.scale(enu.x).add(north.scale(enu.y)).add(up.scale(enu.z)).norm()
}

// rayEllipsoid returns the distance along the ray o + t*d to the nearest
// forward intersection with the WGS84 surface, or false if the ray misses.
func rayEllipsoid(o, d vec3) (float64, bool) {
	a2 := wgs84A * wgs84A
	b2 := wgs84B * wgs84B

	qa := d.x*d.x/a2 + d.y*d.y/a2 + d.z*d.z/b2
	qb := 2 * (o.x*d.x/a2 + o.y*d.y/a2 + o.z*d.z/b2)
	qc := o.x*o.x/a2 + o.y*o.y/a2 + o.z*o.z/b2 - 1

	disc := qb*qb - 4*qa*qc
	if disc < 0 {
		return 0, false
	}

	t := (-qb - math.Sqrt(disc)) / (2 * qa)
	if t <= 0 {
		return 0, false
	}
	return t, true
}

// ecefToGeodetic converts ECEF coordinates back to geodetic latitude and
// longitude in degrees, using Bowring's closed-form approximation.
func ecefToGeodetic(p vec3) (latDeg, lonDeg float64) {
	ep2 := (wgs84A*wgs84A - wgs84B*wgs84B) / (wgs84B * wgs84B)

	rho := math.Hypot(p.x, p.y)
	theta := math.Atan2(p.z*wgs84A, rho*wgs84B)
	sinT, cosT := math.Sincos(theta)

	lat := math.Atan2(
		p.z+ep2*wgs84B*sinT*sinT*sinT,
		rho-wgs84E2*wgs84A*cosT*cosT*cosT,
	)
	lon := math.Atan2(p.y, p.x)

	return degrees(lat), degrees(lon)
}
