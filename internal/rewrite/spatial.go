package rewrite

import (
	"fmt"
	"math"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

const earthRadiusM = 6378137.0

// CircleWKT approximates a lat/lon/radius circle as a WKT polygon with
// the given number of segments.
func CircleWKT(lat, lon, radiusKm float64, segments int) string {
	if segments < 3 {
		segments = 36
	}
	coords := make([]geom.Coord, 0, segments+1)
	for i := 0; i <= segments; i++ {
		heading := 360.0 * float64(i%segments) / float64(segments)
		x, y := offset(lat, lon, radiusKm*1000, heading)
		coords = append(coords, geom.Coord{x, y})
	}

	poly := geom.NewPolygon(geom.XY)
	poly.MustSetCoords([][]geom.Coord{coords})
	out, err := wkt.Marshal(poly)
	if err != nil {
		return ""
	}
	return out
}

// offset returns the lon/lat of the point at the given distance and
// heading from the origin, on a spherical earth.
func offset(lat, lon, distM, headingDeg float64) (x, y float64) {
	latR := lat * math.Pi / 180
	lonR := lon * math.Pi / 180
	hdg := headingDeg * math.Pi / 180
	ad := distM / earthRadiusM

	lat2 := math.Asin(math.Sin(latR)*math.Cos(ad) + math.Cos(latR)*math.Sin(ad)*math.Cos(hdg))
	lon2 := lonR + math.Atan2(
		math.Sin(hdg)*math.Sin(ad)*math.Cos(latR),
		math.Cos(ad)-math.Sin(latR)*math.Sin(lat2),
	)
	return lon2 * 180 / math.Pi, lat2 * 180 / math.Pi
}

// ValidWKT reports whether text parses as a WKT geometry.
func ValidWKT(text string) bool {
	_, err := wkt.Unmarshal(text)
	return err == nil
}

// spatialFilter builds the index filter selecting records whose point
// intersects the geometry.
func spatialFilter(field, geometry string) string {
	return fmt.Sprintf("%s:\"Intersects(%s)\"", field, geometry)
}

// describeGeometry builds the human-readable display form of a spatial
// constraint.
func describeGeometry(text string) string {
	switch {
	case strings.HasPrefix(text, "POLYGON"), strings.HasPrefix(text, "MULTIPOLYGON"):
		return "within user defined polygon"
	case strings.HasPrefix(text, "LINESTRING"), strings.HasPrefix(text, "MULTILINESTRING"):
		return "along user defined line"
	case strings.HasPrefix(text, "ENVELOPE"):
		return "within user defined bounding box"
	default:
		return "within user defined area"
	}
}

func describeCircle(lat, lon, radiusKm float64) string {
	return fmt.Sprintf("within %s km of point(%s, %s)",
		trimFloat(radiusKm), trimFloat(lat), trimFloat(lon))
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.4f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
