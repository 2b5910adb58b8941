package domain

import "context"

// Query selects what an ingestion run asks the feature API for.
type Query struct {
	Date  string // sent as the date parameter when non-empty
	Limit int    // page size; zero lets the fetcher choose
}

// PageFetcher retrieves pages of the hotspot collection.
type PageFetcher interface {
	// FirstPageURL builds the URL of the first page for q.
	FirstPageURL(q Query) (string, error)

	// FetchPage retrieves and decodes one page. Page.Next is empty on the last page.
	FetchPage(ctx context.Context, url string) (Page, error)
}
