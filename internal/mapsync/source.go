package mapsync

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
)

// SourceData converts the located records of fs into the source's
// FeatureCollection. Records without a location are left out.
func SourceData(fs domain.FeatureSet) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, h := range fs {
		if !h.HasLocation() {
			continue
		}
		f := geojson.NewFeature(*h.Location)
		if h.ID != "" {
			f.ID = h.ID
		}
		f.Properties = domain.MapProperties(h)
		fc.Append(f)
	}
	return fc
}

// locatedPoints returns the locations of fs in arrival order.
func locatedPoints(fs domain.FeatureSet) orb.MultiPoint {
	var points orb.MultiPoint
	for _, h := range fs {
		if h.HasLocation() {
			points = append(points, *h.Location)
		}
	}
	return points
}
