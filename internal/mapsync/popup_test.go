package mapsync

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
)

func TestPopupRelay_ForwardsAndCaptures(t *testing.T) {
	next := &popupRecorder{}
	relay := NewPopupRelay(next)

	relay.ShowPopup(domain.Popup{Satellite: "outside"})

	p, ok, err := relay.Capture(func() error {
		relay.ShowPopup(domain.Popup{Satellite: "first"})
		relay.ShowPopup(domain.Popup{Satellite: "second"})
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", p.Satellite)
	assert.Len(t, next.popups, 3)

	_, ok, err = relay.Capture(func() error { return errors.New("boom") })
	assert.False(t, ok)
	require.EqualError(t, err, "boom")
}

func TestViewBridge_Click(t *testing.T) {
	sink := &recordingSink{}
	surface, _ := newTestRemote(sink)
	relay := NewPopupRelay(surface)
	c := NewController(surface, relay, DefaultOptions(), discardLogger())
	bridge := NewViewBridge(surface, relay)

	f := SourceData(threePoints()).Features[2]
	_, ok, err := bridge.Click(f)
	require.ErrorIs(t, err, ErrNoClickHandler, "no layer before the first sync")
	assert.False(t, ok)

	require.NoError(t, c.Sync(threePoints()))
	bridge.MarkStyleLoaded()

	p, ok, err := bridge.Click(f)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 102.1, p.Longitude, 1e-9)
	assert.Contains(t, sink.types(), CmdShowPopup)

	_, ok, err = bridge.Click(geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}}))
	require.NoError(t, err)
	assert.False(t, ok)
}
