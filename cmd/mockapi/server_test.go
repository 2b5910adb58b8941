package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hotspot-sync-service/internal/adapter/featureapi"
	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
	"github.com/couchcryptid/hotspot-sync-service/internal/ingest"
	"github.com/couchcryptid/hotspot-sync-service/internal/observability"
)

func fixture(dates ...string) []byte {
	features := make([]string, len(dates))
	for i, d := range dates {
		features[i] = fmt.Sprintf(
			`{"type":"Feature","id":"f%d","geometry":{"type":"Point","coordinates":[100.%d,14.0]},"properties":{"th_date":%q,"th_time":"1200","bright_ti4":330}}`,
			i, i, d)
	}
	return []byte(`{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newMockServer(t *testing.T, opts handlerOptions, dates ...string) *httptest.Server {
	t.Helper()
	s, err := loadStore(fixture(dates...))
	require.NoError(t, err)
	srv := httptest.NewServer(newHandler(s, opts, discard()))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandler_PagesWithNextLinks(t *testing.T) {
	srv := newMockServer(t, handlerOptions{DateParam: "th_date", DefaultLimit: 2},
		"2024-01-07", "2024-01-06", "2024-01-07", "2024-01-07")

	resp, err := http.Get(srv.URL + "/collections/hotspots/items")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page pageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Equal(t, 4, page.NumberMatched)
	assert.Equal(t, 2, page.NumberReturned)
	require.Len(t, page.Links, 2)
	assert.Equal(t, "next", page.Links[1].Rel)
	assert.Contains(t, page.Links[1].Href, "offset=2")
}

func TestHandler_RejectsBadParams(t *testing.T) {
	srv := newMockServer(t, handlerOptions{DateParam: "th_date", DefaultLimit: 2, APIKey: "secret"}, "2024-01-07")

	tests := map[string]int{
		"/collections/hotspots/items":                                   http.StatusUnauthorized,
		"/collections/hotspots/items?api_key=secret&limit=0":            http.StatusBadRequest,
		"/collections/hotspots/items?api_key=secret&limit=x":            http.StatusBadRequest,
		"/collections/hotspots/items?api_key=secret&offset=-1":          http.StatusBadRequest,
		"/collections/hotspots/items?api_key=secret&offset=9&limit=100": http.StatusOK,
	}
	for path, want := range tests {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestHandler_ServesFeatureClientEndToEnd(t *testing.T) {
	srv := newMockServer(t, handlerOptions{DateParam: "th_date", DefaultLimit: 1000, APIKey: "secret"},
		"2024-01-07", "2024-01-06", "2024-01-07", "2024-01-07", "2024-01-07")

	metrics := observability.NewMetricsForTesting()
	client, err := featureapi.NewClient(featureapi.Settings{
		BaseURL:   srv.URL + "/collections/hotspots/items",
		APIKey:    "secret",
		DateParam: "th_date",
		Timeout:   5 * time.Second,
	}, metrics, discard())
	require.NoError(t, err)

	ingestor := ingest.New(client, 2, 100, metrics, discard())
	var snapshots []int
	all, err := ingestor.Ingest(context.Background(), domain.Query{Date: "2024-01-07"}, func(fs domain.FeatureSet) {
		snapshots = append(snapshots, len(fs))
	})
	require.NoError(t, err)

	ids := make([]string, len(all))
	for i, h := range all {
		ids[i] = h.ID
	}
	assert.Equal(t, []string{"f0", "f2", "f3", "f4"}, ids)
	assert.Equal(t, []int{2, 4}, snapshots)
}

func TestLoadStore_RejectsInvalidFixture(t *testing.T) {
	_, err := loadStore([]byte(`{"features": [{not json}]}`))
	require.Error(t, err)
}
