package mapsync

import (
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
)

// PopupRelay forwards popups to another sink and lets a caller capture the
// popup produced while it dispatches a click.
type PopupRelay struct {
	next PopupSink

	captureMu sync.Mutex // serializes Capture calls

	mu        sync.Mutex
	capturing bool
	captured  *domain.Popup
}

// NewPopupRelay creates a relay. next may be nil.
func NewPopupRelay(next PopupSink) *PopupRelay {
	return &PopupRelay{next: next}
}

func (r *PopupRelay) ShowPopup(p domain.Popup) {
	r.mu.Lock()
	if r.capturing {
		r.captured = &p
	}
	r.mu.Unlock()

	if r.next != nil {
		r.next.ShowPopup(p)
	}
}

// Capture runs fn and returns the last popup shown while it ran.
func (r *PopupRelay) Capture(fn func() error) (domain.Popup, bool, error) {
	r.captureMu.Lock()
	defer r.captureMu.Unlock()

	r.mu.Lock()
	r.capturing, r.captured = true, nil
	r.mu.Unlock()

	err := fn()

	r.mu.Lock()
	p := r.captured
	r.capturing, r.captured = false, nil
	r.mu.Unlock()

	if p == nil {
		return domain.Popup{}, false, err
	}
	return *p, true, err
}

// ViewBridge delivers view events to a RemoteSurface.
type ViewBridge struct {
	surface *RemoteSurface
	popups  *PopupRelay
}

// NewViewBridge pairs a remote surface with the relay its controller reports popups to.
func NewViewBridge(surface *RemoteSurface, popups *PopupRelay) *ViewBridge {
	return &ViewBridge{surface: surface, popups: popups}
}

// MarkStyleLoaded reports that the view's style finished loading.
func (b *ViewBridge) MarkStyleLoaded() {
	b.surface.MarkStyleLoaded()
}

// Click dispatches a click on the point layer and returns the resulting popup.
func (b *ViewBridge) Click(f *geojson.Feature) (domain.Popup, bool, error) {
	return b.popups.Capture(func() error {
		return b.surface.DispatchClick(PointLayerID, f)
	})
}

// Source returns the data the view should render for a source command.
func (b *ViewBridge) Source(id string) (*geojson.FeatureCollection, uint64, error) {
	return b.surface.Source(id)
}
