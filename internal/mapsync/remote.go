package mapsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
	"github.com/couchcryptid/hotspot-sync-service/internal/observability"
)

// CommandType names a map mutation sent to the view.
type CommandType string

const (
	CmdCreateSource CommandType = "create_source"
	CmdUpdateSource CommandType = "update_source"
	CmdRemoveSource CommandType = "remove_source"
	CmdFitBounds    CommandType = "fit_bounds"
	CmdCenterOn     CommandType = "center_on"
	CmdRotateBy     CommandType = "rotate_by"
	CmdShowPopup    CommandType = "show_popup"
)

// Command is one map mutation. Only the fields relevant to Type are set.
//
// Source commands never carry feature data. They name a Version of the
// source, and the view fetches that version's GeoJSON from the service.
type Command struct {
	Type     CommandType    `json:"type"`
	SourceID string         `json:"source_id,omitempty"`
	Source   *SourceSpec    `json:"source,omitempty"`
	Version  uint64         `json:"version,omitempty"`
	Features int            `json:"features,omitempty"`
	Bounds   *[2]orb.Point  `json:"bounds,omitempty"` // [southwest, northeast]
	Camera   *CameraOptions `json:"camera,omitempty"`
	Center   *orb.Point     `json:"center,omitempty"`
	Zoom     float64        `json:"zoom,omitempty"`
	Degrees  float64        `json:"degrees,omitempty"`
	Popup    *domain.Popup  `json:"popup,omitempty"`
}

// CommandSink delivers commands to the view.
type CommandSink interface {
	PublishCommand(ctx context.Context, cmd Command) error
}

// ErrNoClickHandler is returned by DispatchClick for layers nobody listens on.
var ErrNoClickHandler = errors.New("no click handler for layer")

// ErrUnknownSource is returned by Source for ids with no live source.
var ErrUnknownSource = errors.New("unknown source")

// RemoteSurface is a Surface for a map rendered elsewhere. Mutations become
// Commands on a sink; style-load and click events arrive through
// MarkStyleLoaded and DispatchClick. Source data stays here and is served
// to the view by Source.
type RemoteSurface struct {
	sink           CommandSink
	publishTimeout time.Duration
	metrics        *observability.Metrics
	logger         *slog.Logger

	mu     sync.Mutex
	loaded bool
	onLoad []func()
	clicks map[string]ClickHandler

	version uint64
	sources map[string]sourceVersion
}

type sourceVersion struct {
	data    *geojson.FeatureCollection
	version uint64
}

// NewRemoteSurface creates a surface whose style has not loaded yet.
func NewRemoteSurface(sink CommandSink, publishTimeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *RemoteSurface {
	return &RemoteSurface{
		sink:           sink,
		publishTimeout: publishTimeout,
		metrics:        metrics,
		logger:         logger,
		clicks:         make(map[string]ClickHandler),
		sources:        make(map[string]sourceVersion),
	}
}

func (s *RemoteSurface) StyleLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// OnStyleLoad runs fn immediately when the style is already loaded.
func (s *RemoteSurface) OnStyleLoad(fn func()) {
	s.mu.Lock()
	if !s.loaded {
		s.onLoad = append(s.onLoad, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// MarkStyleLoaded records that the view finished loading its style and runs
// the callbacks registered so far. Repeated calls are no-ops.
func (s *RemoteSurface) MarkStyleLoaded() {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return
	}
	s.loaded = true
	callbacks := s.onLoad
	s.onLoad = nil
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// ResetStyle marks the style as not loaded, as after a style switch in the view.
func (s *RemoteSurface) ResetStyle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
}

// DispatchClick delivers a click on layerID to its handler.
func (s *RemoteSurface) DispatchClick(layerID string, f *geojson.Feature) error {
	s.mu.Lock()
	h, ok := s.clicks[layerID]
	s.mu.Unlock()
	if !ok {
		return ErrNoClickHandler
	}
	h(f)
	return nil
}

func (s *RemoteSurface) OnPointClick(layerID string, h ClickHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks[layerID] = h
}

// CreateSource announces the source and its layers. The data goes out by
// reference like UpdateSource.
func (s *RemoteSurface) CreateSource(spec SourceSpec) error {
	version, count := s.store(spec.ID, spec.Data)
	announced := spec
	announced.Data = nil
	return s.publish(Command{Type: CmdCreateSource, SourceID: spec.ID, Source: &announced, Version: version, Features: count})
}

func (s *RemoteSurface) UpdateSource(id string, data *geojson.FeatureCollection) error {
	version, count := s.store(id, data)
	return s.publish(Command{Type: CmdUpdateSource, SourceID: id, Version: version, Features: count})
}

// RemoveSource also forgets click handlers, which the view drops with its layers.
func (s *RemoteSurface) RemoveSource(id string) error {
	s.mu.Lock()
	clear(s.clicks)
	delete(s.sources, id)
	s.mu.Unlock()
	return s.publish(Command{Type: CmdRemoveSource, SourceID: id})
}

// Source returns the latest data of a live source and its version.
func (s *RemoteSurface) Source(id string) (*geojson.FeatureCollection, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.sources[id]
	if !ok {
		return nil, 0, ErrUnknownSource
	}
	return sv.data, sv.version, nil
}

// store records data as the next version of source id.
func (s *RemoteSurface) store(id string, data *geojson.FeatureCollection) (uint64, int) {
	if data == nil {
		data = geojson.NewFeatureCollection()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	s.sources[id] = sourceVersion{data: data, version: s.version}
	return s.version, len(data.Features)
}

func (s *RemoteSurface) FitBounds(b orb.Bound, opts CameraOptions) error {
	return s.publish(Command{Type: CmdFitBounds, SourceID: SourceID, Bounds: &[2]orb.Point{b.Min, b.Max}, Camera: &opts})
}

func (s *RemoteSurface) CenterOn(p orb.Point, zoom float64) error {
	return s.publish(Command{Type: CmdCenterOn, SourceID: SourceID, Center: &p, Zoom: zoom})
}

func (s *RemoteSurface) RotateBy(degrees float64) error {
	return s.publish(Command{Type: CmdRotateBy, Degrees: degrees})
}

// ShowPopup forwards a popup to the view. It satisfies PopupSink.
func (s *RemoteSurface) ShowPopup(p domain.Popup) {
	if err := s.publish(Command{Type: CmdShowPopup, Popup: &p}); err != nil {
		s.logger.Warn("publish popup failed", "error", err)
	}
}

func (s *RemoteSurface) publish(cmd Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
	defer cancel()

	if err := s.sink.PublishCommand(ctx, cmd); err != nil {
		return err
	}
	s.metrics.MapCommands.WithLabelValues(string(cmd.Type)).Inc()
	return nil
}
