package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
	"github.com/couchcryptid/hotspot-sync-service/internal/mapsync"
	"github.com/couchcryptid/hotspot-sync-service/internal/observability"
)

// Ingester loads the hotspot collection for a query, reporting snapshots.
type Ingester interface {
	Ingest(ctx context.Context, q domain.Query, onSnapshot func(domain.FeatureSet)) (domain.FeatureSet, error)
}

// MapSync keeps the map in step with the filtered view.
type MapSync interface {
	Sync(fs domain.FeatureSet) error
	SetDate(date string)
	RotateBy(degrees float64) error
	Close() error
}

// SummarySink receives a summary each time the filtered view changes.
type SummarySink interface {
	PublishSummary(ctx context.Context, report domain.SummaryReport) error
}

// Status is the state of the latest ingestion run.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusLoaded  Status = "loaded"
	StatusFailed  Status = "failed"
)

// RunStatus describes the latest ingestion run.
type RunStatus struct {
	State     Status    `json:"state"`
	RunID     string    `json:"run_id,omitempty"`
	Date      string    `json:"date"`
	Features  int       `json:"features"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// Snapshot is a consistent view of the session: the filter, the run that
// feeds it, and the summary computed for exactly that filter.
type Snapshot struct {
	Status  RunStatus          `json:"status"`
	Filter  domain.FilterState `json:"filter"`
	Summary domain.Summary     `json:"summary"`

	filtered domain.FeatureSet
}

// Options configures a Session.
type Options struct {
	DefaultDate string
	// QueryByDate sends the active date to the feature API instead of
	// fetching the whole collection.
	QueryByDate    bool
	Summary        domain.SummaryOptions
	PublishTimeout time.Duration
}

// Session owns the filter state and the current data, and recomputes the
// filtered view, summary, and map whenever either changes. A date change
// cancels the in-flight ingestion and starts a new one.
//
// Readers see the Snapshot last published under mu and never wait for a
// recompute or its map and summary publishes.
type Session struct {
	ingester  Ingester
	mapper    MapSync
	summaries SummarySink
	opts      Options
	metrics   *observability.Metrics
	logger    *slog.Logger
	ready     atomic.Bool
	current   atomic.Pointer[Snapshot]

	mu         sync.Mutex
	baseCtx    context.Context // nil until Start
	state      domain.FilterState
	raw        domain.FeatureSet
	filtered   domain.FeatureSet
	summary    domain.Summary
	status     RunStatus
	generation uint64
	cancelRun  context.CancelFunc
	runs       sync.WaitGroup
}

// New creates a Session. summaries may be nil.
func New(ingester Ingester, mapper MapSync, summaries SummarySink, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Session {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	s := &Session{
		ingester:  ingester,
		mapper:    mapper,
		summaries: summaries,
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
		state:     domain.DefaultFilterState(opts.DefaultDate),
		raw:       domain.FeatureSet{},
		filtered:  domain.FeatureSet{},
		status:    RunStatus{State: StatusIdle, Date: opts.DefaultDate},
	}
	s.summary = domain.Summarize(s.filtered, opts.Summary)
	s.storeSnapshotLocked()
	return s
}

// CheckReadiness returns nil once an ingestion run has completed.
func (s *Session) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no ingestion run has completed yet")
	}
	return nil
}

// Start begins the first ingestion for the current filter state. Runs are
// bound to ctx. Calling Start again has no effect.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return
	}
	s.baseCtx = ctx
	s.mapper.SetDate(s.state.Date)
	s.startRunLocked()
	s.storeSnapshotLocked()
}

// Run starts the session and blocks until ctx is cancelled, then stops the
// in-flight run and tears down the map.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("session started", "date", s.FilterState().Date, "query_by_date", s.opts.QueryByDate)
	s.metrics.SessionRunning.Set(1)
	defer s.metrics.SessionRunning.Set(0)

	s.Start(ctx)
	<-ctx.Done()
	s.logger.Info("session stopping", "reason", ctx.Err())

	s.mu.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.generation++
	s.mu.Unlock()

	s.runs.Wait()
	if err := s.mapper.Close(); err != nil {
		s.logger.Warn("map teardown failed", "error", err)
	}
	return nil
}

// SetFilter replaces the filter state.
func (s *Session) SetFilter(next domain.FilterState) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setFilterLocked(next)
	return nil
}

// SetDate changes the active date, re-fetching and re-arming the camera fit
// when it differs from the current one.
func (s *Session) SetDate(date string) error {
	return s.update(func(fs *domain.FilterState) { fs.Date = date })
}

// SetPeriod changes the time-of-day selection.
func (s *Session) SetPeriod(p domain.Period) error {
	return s.update(func(fs *domain.FilterState) { fs.Period = p })
}

// SetSensor changes the sensor selection.
func (s *Session) SetSensor(sensor domain.Sensor) error {
	return s.update(func(fs *domain.FilterState) { fs.Sensor = sensor })
}

// Reload re-runs ingestion for the active date, e.g. after a failed run.
func (s *Session) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx == nil {
		return errors.New("session not started")
	}
	s.startRunLocked()
	s.storeSnapshotLocked()
	return nil
}

// Rotate turns the map bearing by degrees.
func (s *Session) Rotate(degrees float64) error {
	return s.mapper.RotateBy(degrees)
}

// Snapshot returns the filter, run status, and summary as one consistent value.
func (s *Session) Snapshot() Snapshot {
	return *s.current.Load()
}

// FilterState returns the current selection.
func (s *Session) FilterState() domain.FilterState {
	return s.current.Load().Filter
}

// Status returns the state of the latest ingestion run.
func (s *Session) Status() RunStatus {
	return s.current.Load().Status
}

// Summary returns the aggregates of the current filtered view.
func (s *Session) Summary() domain.Summary {
	return s.current.Load().Summary
}

// Filtered returns the current filtered view. Callers must not modify it.
func (s *Session) Filtered() domain.FeatureSet {
	return s.current.Load().filtered
}

// FilteredGeoJSON renders the located records of the filtered view.
func (s *Session) FilteredGeoJSON() *geojson.FeatureCollection {
	return mapsync.SourceData(s.Filtered())
}

func (s *Session) update(mutate func(*domain.FilterState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state
	mutate(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	s.setFilterLocked(next)
	return nil
}

func (s *Session) setFilterLocked(next domain.FilterState) {
	dateChanged := next.Date != s.state.Date
	s.state = next
	if dateChanged {
		s.mapper.SetDate(next.Date)
		if s.baseCtx != nil {
			s.startRunLocked()
		}
	}
	s.recomputeLocked()
}

// startRunLocked supersedes any in-flight run with a new one for the active date.
func (s *Session) startRunLocked() {
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.generation++
	gen := s.generation

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancelRun = cancel

	date := s.state.Date
	q := domain.Query{}
	if s.opts.QueryByDate {
		q.Date = date
	}

	runID := uuid.NewString()
	s.status = RunStatus{State: StatusLoading, RunID: runID, Date: date, StartedAt: time.Now()}

	s.runs.Add(1)
	go s.ingest(ctx, cancel, gen, runID, q)
}

func (s *Session) ingest(ctx context.Context, cancel context.CancelFunc, gen uint64, runID string, q domain.Query) {
	defer s.runs.Done()
	defer cancel()

	logger := s.logger.With("run_id", runID, "date", q.Date)
	logger.Info("ingestion started")

	all, err := s.ingester.Ingest(ctx, q, func(snapshot domain.FeatureSet) {
		s.applySnapshot(gen, snapshot)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.metrics.IngestionRuns.WithLabelValues("canceled").Inc()
		logger.Info("ingestion superseded")
		return
	}
	if err != nil {
		s.metrics.IngestionRuns.WithLabelValues("failed").Inc()
		s.status.State = StatusFailed
		s.status.Error = err.Error()
		s.storeSnapshotLocked()
		logger.Error("ingestion failed", "error", err)
		return
	}

	s.metrics.IngestionRuns.WithLabelValues("loaded").Inc()
	s.status.State = StatusLoaded
	s.status.Features = len(all)
	s.storeSnapshotLocked()
	s.ready.Store(true)
	logger.Info("ingestion loaded", "features", len(all), "filtered", len(s.filtered))
}

func (s *Session) applySnapshot(gen uint64, snapshot domain.FeatureSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.metrics.StaleSnapshots.Inc()
		return
	}
	s.raw = snapshot
	s.recomputeLocked()
}

// recomputeLocked rebuilds the filtered view and pushes it to the map and the
// summary sink. Must be called with mu held.
func (s *Session) recomputeLocked() {
	s.filtered = domain.Filter(s.raw, s.state)
	s.summary = domain.Summarize(s.filtered, s.opts.Summary)
	s.metrics.FilteredFeatures.Set(float64(len(s.filtered)))
	s.storeSnapshotLocked()

	if err := s.mapper.Sync(s.filtered); err != nil {
		s.logger.Warn("map sync failed", "error", err, "features", len(s.filtered))
	}

	if s.summaries == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PublishTimeout)
	defer cancel()
	report := domain.SummaryReport{Filter: s.state, Summary: s.summary}
	if err := s.summaries.PublishSummary(ctx, report); err != nil {
		s.logger.Warn("publish summary failed", "error", err)
	}
}

// storeSnapshotLocked publishes the current state to readers. Must be called
// with mu held.
func (s *Session) storeSnapshotLocked() {
	s.current.Store(&Snapshot{
		Status:   s.status,
		Filter:   s.state,
		Summary:  s.summary,
		filtered: s.filtered,
	})
}
