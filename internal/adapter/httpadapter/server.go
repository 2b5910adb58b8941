package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
	"github.com/couchcryptid/hotspot-sync-service/internal/mapsync"
	"github.com/couchcryptid/hotspot-sync-service/internal/pipeline"
)

const (
	defaultRotation = 45.0
	maxRequestBytes = 1 << 20
)

// Session is the filter session the API drives.
type Session interface {
	sharedobs.ReadinessChecker
	SetFilter(next domain.FilterState) error
	FilterState() domain.FilterState
	Status() pipeline.RunStatus
	Snapshot() pipeline.Snapshot
	FilteredGeoJSON() *geojson.FeatureCollection
	Rotate(degrees float64) error
	Reload() error
}

// View receives events from the rendering client.
type View interface {
	MarkStyleLoaded()
	Click(f *geojson.Feature) (domain.Popup, bool, error)
	Source(id string) (*geojson.FeatureCollection, uint64, error)
}

// Server exposes health, readiness, metrics, and the session API.
type Server struct {
	httpServer *http.Server
	session    Session
	view       View
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// the /api routes.
func NewServer(addr string, session Session, view View, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		session: session,
		view:    view,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(session))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/filter", s.handleGetFilter)
	mux.HandleFunc("PUT /api/filter", s.handlePutFilter)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/features", s.handleFeatures)
	mux.HandleFunc("POST /api/reload", s.handleReload)
	mux.HandleFunc("GET /api/map/sources/{id}", s.handleSource)
	mux.HandleFunc("POST /api/map/style-loaded", s.handleStyleLoaded)
	mux.HandleFunc("POST /api/map/click", s.handleClick)
	mux.HandleFunc("POST /api/map/rotate", s.handleRotate)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type rotateRequest struct {
	Degrees *float64 `json:"degrees"`
}

func (s *Server) handleGetFilter(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, s.session.FilterState())
}

// handlePutFilter accepts a partial filter; omitted fields keep their value.
func (s *Server) handlePutFilter(w http.ResponseWriter, r *http.Request) {
	next := s.session.FilterState()
	if err := decodeJSON(r, &next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.session.SetFilter(next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, s.session.FilterState())
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleFeatures(w http.ResponseWriter, _ *http.Request) {
	s.writeGeoJSON(w, s.session.FilteredGeoJSON())
}

// handleSource serves the data a create_source or update_source command
// refers to. The ETag carries the source version.
func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	fc, version, err := s.view.Source(r.PathValue("id"))
	if errors.Is(err, mapsync.ErrUnknownSource) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.FormatUint(version, 10)))
	s.writeGeoJSON(w, fc)
}

// writeGeoJSON encodes fc fully before sending any of the response.
func (s *Server) writeGeoJSON(w http.ResponseWriter, fc *geojson.FeatureCollection) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(fc); err != nil {
		s.logger.Error("encode feature collection failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("feature collection could not be encoded"))
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck // client may have gone away
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	if err := s.session.Reload(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusAccepted, s.session.Status())
}

func (s *Server) handleStyleLoaded(w http.ResponseWriter, _ *http.Request) {
	s.view.MarkStyleLoaded()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f, err := geojson.UnmarshalFeature(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	popup, ok, err := s.view.Click(f)
	switch {
	case errors.Is(err, mapsync.ErrNoClickHandler):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		s.logger.Warn("click dispatch failed", "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	case !ok:
		writeError(w, http.StatusUnprocessableEntity, errors.New("feature has no point geometry"))
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, popup)
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	degrees := defaultRotation
	if req.Degrees != nil {
		degrees = *req.Degrees
	}
	if err := s.session.Rotate(degrees); err != nil {
		s.logger.Warn("rotate failed", "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]float64{"degrees": degrees})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}
