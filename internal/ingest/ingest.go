// Package ingest walks the paginated hotspot collection and accumulates it
// into a FeatureSet, reporting a filtered snapshot after every page.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
	"github.com/couchcryptid/hotspot-sync-service/internal/observability"
)

var (
	// ErrPageCycle is returned when a next link points back at a page already read.
	ErrPageCycle = errors.New("next link revisits an earlier page")
	// ErrTooManyPages is returned when a run exceeds the configured page limit.
	ErrTooManyPages = errors.New("page limit exceeded")
)

// IngestionError reports the page at which a run aborted.
type IngestionError struct {
	Page int    // 1-based
	URL  string // may carry credentials; not part of Error()
	Err  error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest page %d: %v", e.Page, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// Ingestor reads every page of a query from a PageFetcher.
type Ingestor struct {
	fetcher  domain.PageFetcher
	pageSize int
	maxPages int
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New creates an Ingestor. pageSize is used when a query leaves Limit unset;
// maxPages <= 0 disables the page limit.
func New(fetcher domain.PageFetcher, pageSize, maxPages int, metrics *observability.Metrics, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		fetcher:  fetcher,
		pageSize: pageSize,
		maxPages: maxPages,
		metrics:  metrics,
		logger:   logger,
	}
}

// Pages returns a lazy sequence over the pages of q. Each iteration starts a
// fresh walk from the first page. The sequence ends after the page without a
// next link, or after yielding a single *IngestionError.
func (i *Ingestor) Pages(ctx context.Context, q domain.Query) iter.Seq2[domain.Page, error] {
	if q.Limit <= 0 {
		q.Limit = i.pageSize
	}
	return func(yield func(domain.Page, error) bool) {
		next, err := i.fetcher.FirstPageURL(q)
		if err != nil {
			yield(domain.Page{}, &IngestionError{Page: 1, Err: err})
			return
		}

		seen := make(map[string]struct{})
		for n := 1; next != ""; n++ {
			if err := ctx.Err(); err != nil {
				yield(domain.Page{}, &IngestionError{Page: n, URL: next, Err: err})
				return
			}
			if i.maxPages > 0 && n > i.maxPages {
				yield(domain.Page{}, &IngestionError{Page: n, URL: next, Err: ErrTooManyPages})
				return
			}
			if _, ok := seen[next]; ok {
				yield(domain.Page{}, &IngestionError{Page: n, URL: next, Err: ErrPageCycle})
				return
			}
			seen[next] = struct{}{}

			start := time.Now()
			page, err := i.fetcher.FetchPage(ctx, next)
			i.metrics.PageFetchDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				yield(domain.Page{}, &IngestionError{Page: n, URL: next, Err: err})
				return
			}
			i.metrics.PagesFetched.Inc()
			i.metrics.FeaturesIngested.Add(float64(len(page.Features)))

			if !yield(page, nil) {
				return
			}
			next = page.Next
		}
	}
}

// Ingest reads all pages of q. After each page, onSnapshot (if non-nil)
// receives the records read so far whose date equals q.Date (all of them when
// q.Date is empty). Snapshots share storage with later ones and must not be
// modified. Ingest returns the complete, unfiltered concatenation; on error it
// returns what was read before the failure alongside the *IngestionError.
func (i *Ingestor) Ingest(ctx context.Context, q domain.Query, onSnapshot func(domain.FeatureSet)) (domain.FeatureSet, error) {
	all := domain.FeatureSet{}
	snapshot := domain.FeatureSet{}
	byDate := domain.DateStage(q.Date)

	pages := 0
	for page, err := range i.Pages(ctx, q) {
		if err != nil {
			i.logger.Warn("ingestion aborted", "date", q.Date, "pages", pages, "error", err)
			return all, err
		}
		pages++
		all = append(all, page.Features...)
		if onSnapshot != nil {
			snapshot = append(snapshot, domain.ApplyStages(page.Features, byDate)...)
			onSnapshot(slices.Clip(snapshot))
		}
	}

	i.logger.Info("ingestion complete", "date", q.Date, "pages", pages, "features", len(all))
	return all, nil
}
