package featureapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
	"github.com/couchcryptid/hotspot-sync-service/internal/observability"
)

const (
	testKey           = "test-key"
	contentTypeJSON   = "application/geo+json"
	headerContentType = "Content-Type"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, baseURL string, mutate ...func(*Settings)) *Client {
	t.Helper()
	s := Settings{BaseURL: baseURL, APIKey: testKey, Timeout: 5 * time.Second}
	for _, m := range mutate {
		m(&s)
	}
	c, err := NewClient(s, observability.NewMetricsForTesting(), discardLogger())
	require.NoError(t, err)
	return c
}

const twoFeaturePage = `{
	"type": "FeatureCollection",
	"features": [
		{"type": "Feature", "id": "a", "geometry": {"type": "Point", "coordinates": [100.5, 13.7]},
		 "properties": {"th_date": "2024-01-07", "th_time": "0130", "bright_t31": 301.2}},
		{"type": "Feature", "id": "b", "geometry": null,
		 "properties": {"th_date": "2024-01-07", "bright_ti4": "330.1"}}
	],
	"links": [
		{"rel": "self", "href": "ignored"},
		{"rel": "next", "href": "?page=2&limit=2"}
	]
}`

func TestClient_FirstPageURL(t *testing.T) {
	c := testClient(t, "https://api.example.test/collections/hotspots/items?f=json")

	raw, err := c.FirstPageURL(domain.Query{Date: "2024-01-07", Limit: 500})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/collections/hotspots/items", u.Path)
	q := u.Query()
	assert.Equal(t, "json", q.Get("f"))
	assert.Equal(t, "500", q.Get("limit"))
	assert.Equal(t, "2024-01-07", q.Get("th_date"))
	assert.Equal(t, testKey, q.Get("api_key"))
}

func TestClient_FirstPageURL_NoDateNoKey(t *testing.T) {
	c := testClient(t, "https://api.example.test/items", func(s *Settings) {
		s.APIKey = ""
		s.DateParam = "acq_date"
	})

	raw, err := c.FirstPageURL(domain.Query{})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.test/items", raw)

	raw, err = c.FirstPageURL(domain.Query{Date: "2024-01-08"})
	require.NoError(t, err)
	assert.Contains(t, raw, "acq_date=2024-01-08")
}

func TestClient_FetchPage_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testKey, r.URL.Query().Get("api_key"))
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = io.WriteString(w, twoFeaturePage)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL+"/items")
	first, err := c.FirstPageURL(domain.Query{Limit: 2})
	require.NoError(t, err)

	page, err := c.FetchPage(context.Background(), first)
	require.NoError(t, err)

	require.Len(t, page.Features, 2)
	assert.Equal(t, "a", page.Features[0].ID)
	assert.True(t, page.Features[0].HasLocation())
	assert.Equal(t, "b", page.Features[1].ID)
	assert.False(t, page.Features[1].HasLocation(), "null geometry is kept as an unlocated record")

	next, err := url.Parse(page.Next)
	require.NoError(t, err)
	assert.Equal(t, "/items", next.Path)
	assert.Equal(t, "2", next.Query().Get("page"))
	assert.Equal(t, testKey, next.Query().Get("api_key"), "api key re-applied to next link")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.FeatureAPIRequests.WithLabelValues("success")))
}

func TestClient_FetchPage_AbsoluteNextKeepsServerKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"features": [], "links": [{"rel": "next", "href": "https://other.example.test/items?page=3&api_key=server"}]}`)
	}))
	defer srv.Close()

	page, err := testClient(t, srv.URL).FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.test/items?page=3&api_key=server", page.Next)
	assert.Empty(t, page.Features)
}

func TestClient_FetchPage_LastPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"type": "FeatureCollection", "features": [{"geometry": {"type": "Point", "coordinates": [1, 2]}, "properties": {}}]}`)
	}))
	defer srv.Close()

	page, err := testClient(t, srv.URL).FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Empty(t, page.Next)
	assert.Len(t, page.Features, 1)
}

func TestClient_FetchPage_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "upstream down")
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.FetchPage(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.FeatureAPIRequests.WithLabelValues("error")))
}

func TestClient_FetchPage_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"features": [`)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).FetchPage(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestClient_FetchPage_InvalidFeature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"features": [{"properties": {"th_date": 7}}]}`)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).FetchPage(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature 0")
}

func TestClient_FetchPage_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, twoFeaturePage)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, func(s *Settings) { s.MaxBodyBytes = 64 })
	_, err := c.FetchPage(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestClient_FetchPage_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, twoFeaturePage)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(t, srv.URL).FetchPage(ctx, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClient_RejectsNonHTTP(t *testing.T) {
	_, err := NewClient(Settings{BaseURL: "ftp://example.test/items"}, observability.NewMetricsForTesting(), discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http or https")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://x.test/items?page=2", redact("https://x.test/items?api_key=secret&page=2"))
	assert.Equal(t, "https://x.test/items?page=2", redact("https://x.test/items?page=2"))
	assert.False(t, strings.Contains(redact(fmt.Sprintf("https://x.test/?api_key=%s", testKey)), testKey))
}
