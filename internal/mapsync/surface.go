// Package mapsync keeps a map's hotspot layers in step with the filtered
// FeatureSet. The Controller owns the layer lifecycle and the camera; the
// Surface is whatever actually draws the map.
package mapsync

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Source and layer identifiers shared with the view.
const (
	SourceID       = "heat"
	HeatmapLayerID = "heatmap-layer"
	PointLayerID   = "heatmap-point-layer"
)

// LayerSpec describes one style layer bound to a source.
type LayerSpec struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	MinZoom float64        `json:"minzoom,omitempty"`
	MaxZoom float64        `json:"maxzoom,omitempty"`
	Paint   map[string]any `json:"paint"`
}

// SourceSpec is a GeoJSON source together with the layers that render it.
type SourceSpec struct {
	ID     string                     `json:"id"`
	Data   *geojson.FeatureCollection `json:"data,omitempty"`
	Layers []LayerSpec                `json:"layers"`
}

// CameraOptions bounds a fit-to-bounds camera move.
type CameraOptions struct {
	Padding float64 `json:"padding"`
	MaxZoom float64 `json:"max_zoom"`
}

// ClickHandler receives the feature under a click on a layer.
type ClickHandler func(f *geojson.Feature)

// Surface is the drawing side of the map.
type Surface interface {
	// StyleLoaded reports whether sources can be added yet.
	StyleLoaded() bool
	// OnStyleLoad registers fn to run once when the style finishes loading.
	OnStyleLoad(fn func())

	CreateSource(spec SourceSpec) error
	UpdateSource(id string, data *geojson.FeatureCollection) error
	RemoveSource(id string) error
	OnPointClick(layerID string, h ClickHandler)

	FitBounds(b orb.Bound, opts CameraOptions) error
	CenterOn(p orb.Point, zoom float64) error
	RotateBy(degrees float64) error
}

// Layers returns the two layers rendering the hotspot source: a heatmap
// weighted by intensity, and near-transparent circles that take clicks.
func Layers() []LayerSpec {
	return []LayerSpec{
		{
			ID:      HeatmapLayerID,
			Type:    "heatmap",
			MaxZoom: 15,
			Paint: map[string]any{
				"heatmap-weight":    []any{"interpolate", []any{"linear"}, []any{"get", "intensity"}, 0, 0, 100, 1},
				"heatmap-intensity": 1.2,
				"heatmap-color": []any{
					"interpolate", []any{"linear"}, []any{"heatmap-density"},
					0, "rgba(33,102,172,0)",
					0.2, "rgb(103,169,207)",
					0.4, "rgb(209,229,240)",
					0.6, "rgb(253,219,199)",
					0.8, "rgb(239,138,98)",
					1, "rgb(178,24,43)",
				},
				"heatmap-radius":  20,
				"heatmap-opacity": 0.8,
			},
		},
		{
			ID:      PointLayerID,
			Type:    "circle",
			MinZoom: 5,
			Paint: map[string]any{
				"circle-radius":  6,
				"circle-color":   "#fff",
				"circle-opacity": 0.01,
			},
		},
	}
}
