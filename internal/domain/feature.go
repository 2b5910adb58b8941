package domain

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// rawFeature keeps the geometry undecoded so a bad geometry only marks the
// record as unlocated instead of failing the whole page.
type rawFeature struct {
	ID         json.RawMessage `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties Properties      `json:"properties"`
}

// ParseFeature decodes one GeoJSON feature into a Hotspot. Only an invalid
// properties object is an error; a missing or non-Point geometry yields a
// Hotspot without a location.
func ParseFeature(data []byte) (Hotspot, error) {
	var rf rawFeature
	if err := json.Unmarshal(data, &rf); err != nil {
		return Hotspot{}, fmt.Errorf("parse feature: %w", err)
	}

	h := Hotspot{
		ID:         featureID(rf.ID),
		Properties: rf.Properties,
	}
	if p, ok := parsePoint(rf.Geometry); ok {
		h.Location = &p
	}
	return h, nil
}

func parsePoint(data json.RawMessage) (orb.Point, bool) {
	if len(data) == 0 || string(data) == "null" {
		return orb.Point{}, false
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil || g == nil {
		return orb.Point{}, false
	}
	p, ok := g.Geometry().(orb.Point)
	if !ok {
		return orb.Point{}, false
	}
	if p.Lon() < -180 || p.Lon() > 180 || p.Lat() < -90 || p.Lat() > 90 {
		return orb.Point{}, false
	}
	return p, true
}

func featureID(data json.RawMessage) string {
	if len(data) == 0 || string(data) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}
