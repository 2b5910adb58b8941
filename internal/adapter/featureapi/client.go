package featureapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
	"github.com/couchcryptid/hotspot-sync-service/internal/observability"
)

const (
	apiKeyParam = "api_key"
	limitParam  = "limit"

	// DefaultMaxBodyBytes caps a single page response.
	DefaultMaxBodyBytes int64 = 256 << 20
)

// ErrResponseTooLarge is returned when a page exceeds the body size cap.
var ErrResponseTooLarge = errors.New("feature api response exceeds size limit")

// Settings configures a Client.
type Settings struct {
	BaseURL      string
	APIKey       string
	DateParam    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Client implements domain.PageFetcher against an OGC API Features style
// endpoint that returns GeoJSON pages linked by rel=next.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	dateParam  string
	maxBody    int64
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a feature API client.
func NewClient(s Settings, metrics *observability.Metrics, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse feature api url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("feature api url must be http or https, got %q", s.BaseURL)
	}
	maxBody := s.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	dateParam := s.DateParam
	if dateParam == "" {
		dateParam = "th_date"
	}
	return &Client{
		baseURL:   base,
		apiKey:    s.APIKey,
		dateParam: dateParam,
		maxBody:   maxBody,
		httpClient: &http.Client{
			Timeout: s.Timeout,
		},
		metrics: metrics,
		logger:  logger,
	}, nil
}

// FirstPageURL builds the first page URL for q on top of the configured base URL.
func (c *Client) FirstPageURL(q domain.Query) (string, error) {
	u := *c.baseURL
	params := u.Query()
	if q.Limit > 0 {
		params.Set(limitParam, strconv.Itoa(q.Limit))
	}
	if q.Date != "" {
		params.Set(c.dateParam, q.Date)
	}
	if c.apiKey != "" {
		params.Set(apiKeyParam, c.apiKey)
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// FetchPage retrieves one page and resolves its next link.
func (c *Client) FetchPage(ctx context.Context, pageURL string) (domain.Page, error) {
	page, err := c.fetch(ctx, pageURL)
	if err != nil {
		c.metrics.FeatureAPIRequests.WithLabelValues("error").Inc()
		return domain.Page{}, err
	}
	c.metrics.FeatureAPIRequests.WithLabelValues("success").Inc()
	return page, nil
}

func (c *Client) fetch(ctx context.Context, pageURL string) (domain.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return domain.Page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			uerr.URL = redact(uerr.URL)
		}
		return domain.Page{}, fmt.Errorf("feature request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Page{}, fmt.Errorf("feature API error: status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return domain.Page{}, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return domain.Page{}, ErrResponseTooLarge
	}

	var fc response
	if err := json.Unmarshal(body, &fc); err != nil {
		return domain.Page{}, fmt.Errorf("decode response: %w", err)
	}

	features := make(domain.FeatureSet, 0, len(fc.Features))
	for i, raw := range fc.Features {
		h, err := domain.ParseFeature(raw)
		if err != nil {
			return domain.Page{}, fmt.Errorf("feature %d: %w", i, err)
		}
		features = append(features, h)
	}

	next, err := c.nextURL(resp.Request.URL, fc.Links)
	if err != nil {
		return domain.Page{}, err
	}

	c.logger.Debug("feature page fetched", "url", redact(pageURL), "features", len(features), "has_next", next != "")
	return domain.Page{Features: features, Next: next}, nil
}

// nextURL resolves the rel=next link against the request URL and carries the
// API key over when the server dropped it.
func (c *Client) nextURL(base *url.URL, links []link) (string, error) {
	for _, l := range links {
		if l.Rel != "next" || l.Href == "" {
			continue
		}
		ref, err := url.Parse(l.Href)
		if err != nil {
			return "", fmt.Errorf("parse next link: %w", err)
		}
		next := base.ResolveReference(ref)
		if c.apiKey != "" {
			params := next.Query()
			if params.Get(apiKeyParam) == "" {
				params.Set(apiKeyParam, c.apiKey)
				next.RawQuery = params.Encode()
			}
		}
		return next.String(), nil
	}
	return "", nil
}

// redact strips the API key from a URL for logs and cache keys.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	params := u.Query()
	if !params.Has(apiKeyParam) {
		return raw
	}
	params.Del(apiKeyParam)
	u.RawQuery = params.Encode()
	return u.String()
}

// Feature API response types.

type response struct {
	Features []json.RawMessage `json:"features"`
	Links    []link            `json:"links"`
}

type link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// withAPIKey copies the API key of from onto raw when raw carries none.
func withAPIKey(raw, from string) string {
	if raw == "" {
		return raw
	}
	src, err := url.Parse(from)
	if err != nil {
		return raw
	}
	key := src.Query().Get(apiKeyParam)
	if key == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	params := u.Query()
	if params.Get(apiKeyParam) != "" {
		return raw
	}
	params.Set(apiKeyParam, key)
	u.RawQuery = params.Encode()
	return u.String()
}
