package mapsync

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
)

// State is the lifecycle of the hotspot source on the surface.
type State int

const (
	Uninitialized State = iota
	SourceCreated
	SourceUpdated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case SourceCreated:
		return "source_created"
	case SourceUpdated:
		return "source_updated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PopupSink receives the display payload for a clicked hotspot.
type PopupSink interface {
	ShowPopup(p domain.Popup)
}

// Options configures camera behaviour and popup rendering.
type Options struct {
	Camera          CameraOptions
	SinglePointZoom float64
	Popup           domain.PopupOptions
}

// DefaultOptions matches the stock display profile.
func DefaultOptions() Options {
	return Options{
		Camera:          CameraOptions{Padding: 40, MaxZoom: 8},
		SinglePointZoom: 6,
		Popup:           domain.PopupOptions{DetailedCountry: "Thailand"},
	}
}

// Controller drives a Surface from successive FeatureSets. The source is
// created on the first non-empty set and updated in place afterwards. The
// camera moves at most once per active date.
type Controller struct {
	surface Surface
	popups  PopupSink
	opts    Options
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	date       string
	fitted     bool
	pending    domain.FeatureSet
	hasPending bool
	waiting    bool   // an OnStyleLoad callback is registered
	epoch      uint64 // bumped by Close to orphan outstanding callbacks
}

// NewController creates a Controller. popups may be nil when clicks are not wired.
func NewController(surface Surface, popups PopupSink, opts Options, logger *slog.Logger) *Controller {
	return &Controller{
		surface: surface,
		popups:  popups,
		opts:    opts,
		logger:  logger,
	}
}

// Sync brings the surface in line with fs. While the style is still loading
// the latest set is parked and applied once, when loading completes.
func (c *Controller) Sync(fs domain.FeatureSet) error {
	c.mu.Lock()
	if !c.surface.StyleLoaded() {
		c.pending = fs
		c.hasPending = true
		register := !c.waiting
		c.waiting = true
		epoch := c.epoch
		c.mu.Unlock()

		if register {
			c.logger.Debug("map style not loaded, deferring sync", "features", len(fs))
			c.surface.OnStyleLoad(func() { c.flushPending(epoch) })
		}
		return nil
	}
	defer c.mu.Unlock()

	// A direct apply supersedes anything parked.
	c.pending, c.hasPending = nil, false
	return c.apply(fs)
}

// SetDate records the active date. A different date re-arms the camera fit.
func (c *Controller) SetDate(date string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if date != c.date {
		c.date = date
		c.fitted = false
	}
}

// RotateBy turns the map bearing by degrees.
func (c *Controller) RotateBy(degrees float64) error {
	return c.surface.RotateBy(degrees)
}

// Close removes the source from the surface, drops parked work, and returns
// the controller to Uninitialized.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.pending, c.hasPending, c.waiting = nil, false, false
	c.fitted = false

	if c.state == Uninitialized {
		return nil
	}
	c.state = Uninitialized
	if err := c.surface.RemoveSource(SourceID); err != nil {
		return fmt.Errorf("remove source: %w", err)
	}
	return nil
}

// State returns the current source lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Fitted reports whether the camera has already moved for the active date.
func (c *Controller) Fitted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fitted
}

func (c *Controller) flushPending(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return
	}
	c.waiting = false
	if !c.hasPending {
		return
	}
	fs := c.pending
	c.pending, c.hasPending = nil, false
	if err := c.apply(fs); err != nil {
		c.logger.Error("deferred map sync failed", "error", err)
	}
}

// apply must be called with mu held.
func (c *Controller) apply(fs domain.FeatureSet) error {
	switch c.state {
	case Uninitialized:
		if len(fs) == 0 {
			return nil
		}
		spec := SourceSpec{ID: SourceID, Data: SourceData(fs), Layers: Layers()}
		if err := c.surface.CreateSource(spec); err != nil {
			return fmt.Errorf("create source: %w", err)
		}
		c.surface.OnPointClick(PointLayerID, c.handleClick)
		c.state = SourceCreated
	default:
		if err := c.surface.UpdateSource(SourceID, SourceData(fs)); err != nil {
			return fmt.Errorf("update source: %w", err)
		}
		c.state = SourceUpdated
	}
	return c.moveCamera(fs)
}

// moveCamera must be called with mu held.
func (c *Controller) moveCamera(fs domain.FeatureSet) error {
	if c.fitted {
		return nil
	}
	points := locatedPoints(fs)
	switch len(points) {
	case 0:
		return nil
	case 1:
		if err := c.surface.CenterOn(points[0], c.opts.SinglePointZoom); err != nil {
			return fmt.Errorf("center camera: %w", err)
		}
	default:
		if err := c.surface.FitBounds(points.Bound(), c.opts.Camera); err != nil {
			return fmt.Errorf("fit camera: %w", err)
		}
	}
	c.fitted = true
	return nil
}

func (c *Controller) handleClick(f *geojson.Feature) {
	popup, ok := domain.PopupFromFeature(f, c.opts.Popup)
	if !ok {
		c.logger.Debug("ignoring click without point geometry")
		return
	}
	if c.popups != nil {
		c.popups.ShowPopup(popup)
	}
}
