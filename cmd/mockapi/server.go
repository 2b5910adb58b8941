package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
)

const maxLimit = 10000

// store holds the fixture's raw features alongside their dates.
type store struct {
	features []json.RawMessage
	dates    []string
}

func loadStore(data []byte) (*store, error) {
	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	s := &store{features: fc.Features, dates: make([]string, len(fc.Features))}
	for i, raw := range fc.Features {
		h, err := domain.ParseFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		s.dates[i] = domain.Str(h.Properties.Date)
	}
	return s, nil
}

func (s *store) Len() int { return len(s.features) }

// matching returns the features for date, or all of them when date is empty.
func (s *store) matching(date string) []json.RawMessage {
	if date == "" {
		return s.features
	}
	var out []json.RawMessage
	for i, d := range s.dates {
		if d == date {
			out = append(out, s.features[i])
		}
	}
	return out
}

type handlerOptions struct {
	DateParam    string
	APIKey       string
	DefaultLimit int
	Latency      time.Duration
}

type pageLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

type pageResponse struct {
	Type           string            `json:"type"`
	Features       []json.RawMessage `json:"features"`
	NumberMatched  int               `json:"numberMatched"`
	NumberReturned int               `json:"numberReturned"`
	Links          []pageLink        `json:"links"`
}

func newHandler(s *store, opts handlerOptions, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /collections/hotspots/items", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if opts.APIKey != "" && q.Get("api_key") != opts.APIKey {
			sharedobs.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api_key"})
			return
		}

		limit, err := intParam(q, "limit", opts.DefaultLimit)
		if err != nil || limit < 1 || limit > maxLimit {
			sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		offset, err := intParam(q, "offset", 0)
		if err != nil || offset < 0 {
			sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offset"})
			return
		}

		if opts.Latency > 0 {
			select {
			case <-time.After(opts.Latency):
			case <-r.Context().Done():
				return
			}
		}

		all := s.matching(q.Get(opts.DateParam))
		start := min(offset, len(all))
		end := min(start+limit, len(all))

		resp := pageResponse{
			Type:           "FeatureCollection",
			Features:       all[start:end],
			NumberMatched:  len(all),
			NumberReturned: end - start,
			Links:          []pageLink{{Rel: "self", Href: r.URL.RequestURI(), Type: "application/geo+json"}},
		}
		if resp.Features == nil {
			resp.Features = []json.RawMessage{}
		}
		if end < len(all) {
			next := *r.URL
			params := next.Query()
			params.Set("limit", strconv.Itoa(limit))
			params.Set("offset", strconv.Itoa(end))
			params.Del("api_key")
			next.RawQuery = params.Encode()
			resp.Links = append(resp.Links, pageLink{Rel: "next", Href: next.RequestURI(), Type: "application/geo+json"})
		}

		logger.Debug("page served", "offset", start, "returned", resp.NumberReturned, "matched", resp.NumberMatched)
		w.Header().Set("Content-Type", "application/geo+json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp) //nolint:errcheck // client may have gone away
	})
	return mux
}

func intParam(q url.Values, key string, fallback int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
