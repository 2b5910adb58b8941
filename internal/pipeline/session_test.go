package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
	"github.com/couchcryptid/hotspot-sync-service/internal/observability"
	"github.com/couchcryptid/hotspot-sync-service/internal/pipeline"
)

const (
	day1 = "2024-01-07"
	day2 = "2024-01-08"
)

// --- mocks ---

type ingestFunc func(ctx context.Context, q domain.Query, onSnapshot func(domain.FeatureSet)) (domain.FeatureSet, error)

type scriptedIngester struct {
	mu      sync.Mutex
	queries []domain.Query
	script  ingestFunc
}

func (s *scriptedIngester) Ingest(ctx context.Context, q domain.Query, onSnapshot func(domain.FeatureSet)) (domain.FeatureSet, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	script := s.script
	s.mu.Unlock()
	return script(ctx, q, onSnapshot)
}

func (s *scriptedIngester) calls() []domain.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Query(nil), s.queries...)
}

type fakeMapper struct {
	mu        sync.Mutex
	syncs     []domain.FeatureSet
	dates     []string
	rotations []float64
	closed    bool
}

func (m *fakeMapper) Sync(fs domain.FeatureSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs = append(m.syncs, fs)
	return nil
}

func (m *fakeMapper) SetDate(date string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dates = append(m.dates, date)
}

func (m *fakeMapper) RotateBy(degrees float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotations = append(m.rotations, degrees)
	return nil
}

func (m *fakeMapper) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeMapper) snapshot() (syncs int, dates []string, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.syncs), append([]string(nil), m.dates...), m.closed
}

type recordingSummaries struct {
	mu      sync.Mutex
	reports []domain.SummaryReport
}

func (r *recordingSummaries) PublishSummary(_ context.Context, report domain.SummaryReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *recordingSummaries) last() domain.SummaryReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports[len(r.reports)-1]
}

// --- fixtures ---

func hotspot(id, date, hhmm string, located bool) domain.Hotspot {
	h := domain.Hotspot{
		ID: id,
		Properties: domain.Properties{
			Date:      domain.StrPtr(date),
			Time:      domain.StrPtr(hhmm),
			BrightT31: domain.NewReading(315),
			CountryEN: domain.StrPtr("Thailand"),
		},
	}
	if located {
		h.Location = &orb.Point{100.5, 13.75}
	}
	return h
}

// pagesOf returns a script that emits cumulative snapshots of the given pages.
func pagesOf(pages ...domain.FeatureSet) ingestFunc {
	return func(ctx context.Context, q domain.Query, onSnapshot func(domain.FeatureSet)) (domain.FeatureSet, error) {
		all := domain.FeatureSet{}
		for _, p := range pages {
			if err := ctx.Err(); err != nil {
				return all, err
			}
			all = append(all, p...)
			onSnapshot(domain.ApplyStages(append(domain.FeatureSet(nil), all...), domain.DateStage(q.Date)))
		}
		return all, nil
	}
}

type harness struct {
	session   *pipeline.Session
	ingester  *scriptedIngester
	mapper    *fakeMapper
	summaries *recordingSummaries
	metrics   *observability.Metrics
}

func newHarness(script ingestFunc, mutate ...func(*pipeline.Options)) *harness {
	opts := pipeline.Options{DefaultDate: day1, QueryByDate: true, Summary: domain.SummaryOptions{Unspecified: "n/a"}}
	for _, m := range mutate {
		m(&opts)
	}
	h := &harness{
		ingester:  &scriptedIngester{script: script},
		mapper:    &fakeMapper{},
		summaries: &recordingSummaries{},
		metrics:   observability.NewMetricsForTesting(),
	}
	h.session = pipeline.New(h.ingester, h.mapper, h.summaries, opts, h.metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func waitForState(t *testing.T, s *pipeline.Session, want pipeline.Status) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Status().State == want }, 2*time.Second, 5*time.Millisecond,
		"status never reached %s", want)
}

// --- tests ---

func TestSession_InitialIngestion(t *testing.T) {
	h := newHarness(pagesOf(
		domain.FeatureSet{hotspot("a", day1, "1000", true), hotspot("b", day1, "0200", true)},
		domain.FeatureSet{hotspot("c", day1, "1300", false), hotspot("d", day2, "1300", true)},
	))
	assert.Equal(t, pipeline.StatusIdle, h.session.Status().State)
	require.Error(t, h.session.CheckReadiness(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.session.Start(ctx)
	waitForState(t, h.session, pipeline.StatusLoaded)

	require.NoError(t, h.session.CheckReadiness(context.Background()))
	assert.Equal(t, []domain.Query{{Date: day1}}, h.ingester.calls())

	status := h.session.Status()
	assert.Equal(t, day1, status.Date)
	assert.Equal(t, 4, status.Features)
	_, err := uuid.Parse(status.RunID)
	require.NoError(t, err)

	// Default filter: day period, all sensors.
	got := h.session.Filtered()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	summary := h.session.Summary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Unmapped)
	assert.Equal(t, 2, summary.Histogram.Count(domain.BucketHot))

	syncs, dates, _ := h.mapper.snapshot()
	assert.Equal(t, 2, syncs, "one map sync per page")
	assert.Equal(t, []string{day1}, dates)

	last := h.summaries.last()
	assert.Equal(t, domain.DefaultFilterState(day1), last.Filter)
	assert.Equal(t, 2, last.Summary.Total)

	assert.Len(t, h.session.FilteredGeoJSON().Features, 1, "unlocated records are not drawn")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IngestionRuns.WithLabelValues("loaded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.FilteredFeatures))
}

func TestSession_PeriodAndSensorChangesRecomputeWithoutRefetch(t *testing.T) {
	h := newHarness(pagesOf(domain.FeatureSet{
		hotspot("day", day1, "1000", true),
		hotspot("night", day1, "2200", true),
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.session.Start(ctx)
	waitForState(t, h.session, pipeline.StatusLoaded)

	require.NoError(t, h.session.SetPeriod(domain.PeriodNight))
	got := h.session.Filtered()
	require.Len(t, got, 1)
	assert.Equal(t, "night", got[0].ID)

	require.NoError(t, h.session.SetSensor(domain.SensorVIIRSTI4))
	assert.Empty(t, h.session.Filtered())
	assert.Equal(t, 0, h.session.Summary().Total)

	assert.Len(t, h.ingester.calls(), 1, "no re-ingestion")
	_, dates, _ := h.mapper.snapshot()
	assert.Equal(t, []string{day1}, dates, "camera latch untouched")
	assert.Equal(t, domain.FilterState{Date: day1, Period: domain.PeriodNight, Sensor: domain.SensorVIIRSTI4}, h.summaries.last().Filter)
}

func TestSession_DateChangeSupersedesInFlightRun(t *testing.T) {
	release := make(chan struct{})
	var h *harness
	h = newHarness(func(ctx context.Context, q domain.Query, onSnapshot func(domain.FeatureSet)) (domain.FeatureSet, error) {
		if q.Date == day1 {
			// Stuck on a slow page; a late snapshot arrives after cancellation.
			<-ctx.Done()
			<-release
			onSnapshot(domain.FeatureSet{hotspot("stale", day1, "1000", true)})
			return nil, ctx.Err()
		}
		return pagesOf(domain.FeatureSet{hotspot("fresh", day2, "1000", true)})(ctx, q, onSnapshot)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.session.Start(ctx)
	require.Eventually(t, func() bool { return len(h.ingester.calls()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.session.SetDate(day2))
	waitForState(t, h.session, pipeline.StatusLoaded)
	close(release)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.IngestionRuns.WithLabelValues("canceled")) == 1
	}, time.Second, 5*time.Millisecond)

	got := h.session.Filtered()
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].ID)
	assert.Equal(t, day2, h.session.Status().Date)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StaleSnapshots))
	assert.Equal(t, []domain.Query{{Date: day1}, {Date: day2}}, h.ingester.calls())

	_, dates, _ := h.mapper.snapshot()
	assert.Equal(t, []string{day1, day2}, dates)
}

func TestSession_SameDateDoesNotRefetch(t *testing.T) {
	h := newHarness(pagesOf(domain.FeatureSet{hotspot("a", day1, "1000", true)}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.session.Start(ctx)
	waitForState(t, h.session, pipeline.StatusLoaded)

	require.NoError(t, h.session.SetDate(day1))
	assert.Len(t, h.ingester.calls(), 1)
}

func TestSession_FailureKeepsPreviousResults(t *testing.T) {
	fail := false
	var mu sync.Mutex
	h := newHarness(func(ctx context.Context, q domain.Query, onSnapshot func(domain.FeatureSet)) (domain.FeatureSet, error) {
		mu.Lock()
		shouldFail := fail
		mu.Unlock()
		if shouldFail {
			return nil, errors.New("ingest page 3: status 502")
		}
		return pagesOf(domain.FeatureSet{hotspot("a", day1, "1000", true)})(ctx, q, onSnapshot)
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.session.Start(ctx)
	waitForState(t, h.session, pipeline.StatusLoaded)

	mu.Lock()
	fail = true
	mu.Unlock()
	require.NoError(t, h.session.Reload())
	waitForState(t, h.session, pipeline.StatusFailed)

	status := h.session.Status()
	assert.Contains(t, status.Error, "status 502")
	assert.Len(t, h.session.Filtered(), 1, "previous results are kept")
	require.NoError(t, h.session.CheckReadiness(context.Background()), "readiness survives a later failure")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IngestionRuns.WithLabelValues("failed")))
}

func TestSession_FirstRunFailure(t *testing.T) {
	h := newHarness(func(context.Context, domain.Query, func(domain.FeatureSet)) (domain.FeatureSet, error) {
		return nil, errors.New("connection refused")
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.session.Start(ctx)
	waitForState(t, h.session, pipeline.StatusFailed)

	require.Error(t, h.session.CheckReadiness(context.Background()))
	assert.Empty(t, h.session.Filtered())
}

func TestSession_QueryByDateDisabled(t *testing.T) {
	h := newHarness(pagesOf(domain.FeatureSet{
		hotspot("a", day1, "1000", true),
		hotspot("b", day2, "1000", true),
	}), func(o *pipeline.Options) { o.QueryByDate = false })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.session.Start(ctx)
	waitForState(t, h.session, pipeline.StatusLoaded)

	assert.Equal(t, []domain.Query{{}}, h.ingester.calls())
	got := h.session.Filtered()
	require.Len(t, got, 1, "the date filter still applies locally")
	assert.Equal(t, "a", got[0].ID)
}

func TestSession_InvalidFilterRejected(t *testing.T) {
	h := newHarness(pagesOf())

	err := h.session.SetFilter(domain.FilterState{Date: day1, Period: "dusk", Sensor: domain.SensorAll})
	require.Error(t, err)
	require.Error(t, h.session.SetSensor("goes"))
	require.Error(t, h.session.SetDate("yesterday"))
	assert.Equal(t, domain.DefaultFilterState(day1), h.session.FilterState())
}

func TestSession_FilterBeforeStart(t *testing.T) {
	h := newHarness(pagesOf(domain.FeatureSet{hotspot("b", day2, "2300", true)}))

	require.NoError(t, h.session.SetFilter(domain.FilterState{Date: day2, Period: domain.PeriodNight, Sensor: domain.SensorMODIS}))
	assert.Empty(t, h.ingester.calls(), "nothing is fetched before Start")
	require.Error(t, h.session.Reload())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.session.Start(ctx)
	h.session.Start(ctx)
	waitForState(t, h.session, pipeline.StatusLoaded)

	assert.Equal(t, []domain.Query{{Date: day2}}, h.ingester.calls())
	assert.Len(t, h.session.Filtered(), 1)
}

func TestSession_RunTeardown(t *testing.T) {
	h := newHarness(func(ctx context.Context, _ domain.Query, _ func(domain.FeatureSet)) (domain.FeatureSet, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.session.Run(ctx) }()

	require.Eventually(t, func() bool { return len(h.ingester.calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SessionRunning))
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	_, _, closed := h.mapper.snapshot()
	assert.True(t, closed)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.SessionRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IngestionRuns.WithLabelValues("canceled")))
}

func TestSession_Rotate(t *testing.T) {
	h := newHarness(pagesOf())
	require.NoError(t, h.session.Rotate(45))
	assert.Equal(t, []float64{45}, h.mapper.rotations)
}

// blockingSummaries holds every publish until released, like a sink whose
// broker is unreachable.
type blockingSummaries struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSummaries) PublishSummary(ctx context.Context, _ domain.SummaryReport) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSession_ReadsDoNotWaitForPublish(t *testing.T) {
	sink := &blockingSummaries{entered: make(chan struct{}, 1), release: make(chan struct{})}
	ingester := &scriptedIngester{script: pagesOf(domain.FeatureSet{hotspot("a", day1, "1000", true)})}
	session := pipeline.New(ingester, &fakeMapper{}, sink,
		pipeline.Options{DefaultDate: day1, QueryByDate: true},
		observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.Start(ctx)

	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("summary was never published")
	}

	read := make(chan pipeline.Snapshot, 1)
	go func() {
		_ = session.Status()
		_ = session.FilterState()
		_ = session.FilteredGeoJSON()
		read <- session.Snapshot()
	}()

	select {
	case snap := <-read:
		assert.Equal(t, domain.DefaultFilterState(day1), snap.Filter)
		assert.Equal(t, 1, snap.Summary.Total, "the summary being published is already visible")
	case <-time.After(time.Second):
		t.Fatal("reads blocked behind an in-flight publish")
	}

	close(sink.release)
	waitForState(t, session, pipeline.StatusLoaded)
}

func TestSession_SnapshotPairsFilterWithItsSummary(t *testing.T) {
	h := newHarness(pagesOf(domain.FeatureSet{
		hotspot("day", day1, "1000", true),
		hotspot("night1", day1, "2200", true),
		hotspot("night2", day1, "0300", false),
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.session.Start(ctx)
	waitForState(t, h.session, pipeline.StatusLoaded)

	snap := h.session.Snapshot()
	assert.Equal(t, pipeline.StatusLoaded, snap.Status.State)
	assert.Equal(t, domain.PeriodDay, snap.Filter.Period)
	assert.Equal(t, 1, snap.Summary.Total)

	require.NoError(t, h.session.SetPeriod(domain.PeriodNight))
	snap = h.session.Snapshot()
	assert.Equal(t, domain.PeriodNight, snap.Filter.Period)
	assert.Equal(t, 2, snap.Summary.Total)
	assert.Equal(t, 1, snap.Summary.Unmapped)
	assert.Equal(t, h.summaries.last().Filter, snap.Filter)
}
