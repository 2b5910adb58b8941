// Command validate performs integrity checks on a hotspot fixture: every
// feature parses, fields are well formed, the filter chain partitions the
// records as expected, and, when -api-url is set, a running feature API
// serves the same records per date.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -fixture data/mock/hotspots_240107.geojson \
//	  -api-url http://localhost:8090/collections/hotspots/items
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/couchcryptid/hotspot-sync-service/internal/adapter/featureapi"
	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
	"github.com/couchcryptid/hotspot-sync-service/internal/ingest"
	"github.com/couchcryptid/hotspot-sync-service/internal/observability"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	fixture := flag.String("fixture", "", "path to the GeoJSON fixture")
	apiURL := flag.String("api-url", "", "feature API items URL to compare against (optional)")
	apiKey := flag.String("api-key", "", "feature API key")
	maxMalformed := flag.Float64("max-malformed", 0.05, "largest tolerated fraction of records without a location")
	flag.Parse()

	if *fixture == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*fixture, *apiURL, *apiKey, *maxMalformed); code != 0 {
		os.Exit(code)
	}
}

func run(fixturePath, apiURL, apiKey string, maxMalformed float64) int {
	fmt.Println("=== Hotspot Fixture Validation ===")
	fmt.Println()

	raws, err := loadFeatures(fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load fixture: %v\n", err)
		return 1
	}

	parsing, records := validateParsing(raws, maxMalformed)
	phases := []*phase{
		parsing,
		validateFields(records),
		validateFilterPartition(records),
	}
	if apiURL != "" {
		phases = append(phases, validateAPIParity(apiURL, apiKey, records))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d fixture features, %d dates\n", len(records), len(datesOf(records)))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadFeatures(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected FeatureCollection, got %q", fc.Type)
	}
	return fc.Features, nil
}

func datesOf(fs domain.FeatureSet) []string {
	seen := map[string]bool{}
	var dates []string
	for _, h := range fs {
		d := domain.Str(h.Properties.Date)
		if d != "" && !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	return dates
}

// ── Phases ──

func validateParsing(raws []json.RawMessage, maxMalformed float64) (*phase, domain.FeatureSet) {
	p := &phase{name: "Phase 1: Feature parsing"}
	records := make(domain.FeatureSet, 0, len(raws))
	ids := map[string]int{}
	unlocated := 0

	for i, raw := range raws {
		h, err := domain.ParseFeature(raw)
		if err != nil {
			p.errorf("feature %d: %v", i, err)
			continue
		}
		if !h.HasLocation() {
			unlocated++
		}
		if h.ID != "" {
			if prev, dup := ids[h.ID]; dup {
				p.errorf("feature %d: duplicate id %q (first at %d)", i, h.ID, prev)
			}
			ids[h.ID] = i
		}
		records = append(records, h)
	}

	if len(raws) > 0 {
		ratio := float64(unlocated) / float64(len(raws))
		fmt.Printf("  parsed %d features, %d without a location (%.2f%%)\n", len(records), unlocated, ratio*100)
		if ratio > maxMalformed {
			p.errorf("%.2f%% of features lack a location, limit %.2f%%", ratio*100, maxMalformed*100)
		}
	}
	return p, records
}

func validateFields(records domain.FeatureSet) *phase {
	p := &phase{name: "Phase 2: Field integrity"}
	for _, h := range records {
		props := h.Properties
		if d := domain.Str(props.Date); d != "" {
			if _, err := time.Parse(time.DateOnly, d); err != nil {
				p.errorf("%s: th_date %q is not YYYY-MM-DD", h.ID, d)
			}
		} else {
			p.errorf("%s: missing th_date", h.ID)
		}
		if t := domain.Str(props.Time); t == "" {
			p.errorf("%s: missing th_time", h.ID)
		} else if _, ok := domain.ParseHour(t); !ok {
			p.errorf("%s: th_time %q is not HHMM", h.ID, t)
		}
		if domain.ResolveBrightness(props) == 0 {
			fmt.Printf("  note: %s has no numeric brightness (classified %s)\n", h.ID, domain.BucketNormal)
		}
		if domain.Str(props.Satellite) == "" {
			p.errorf("%s: missing satellite", h.ID)
		}
	}
	return p
}

func validateFilterPartition(records domain.FeatureSet) *phase {
	p := &phase{name: "Phase 3: Filter partition and aggregates"}
	for _, date := range datesOf(records) {
		all := domain.ApplyStages(records, domain.DateStage(date))
		var timed int
		for _, h := range all {
			if _, ok := domain.ParseHour(domain.Str(h.Properties.Time)); ok {
				timed++
			}
		}

		day := domain.Filter(records, domain.FilterState{Date: date, Period: domain.PeriodDay, Sensor: domain.SensorAll})
		night := domain.Filter(records, domain.FilterState{Date: date, Period: domain.PeriodNight, Sensor: domain.SensorAll})
		if len(day)+len(night) != timed {
			p.errorf("%s: day (%d) + night (%d) != records with a valid time (%d)", date, len(day), len(night), timed)
		}

		for _, period := range []domain.Period{domain.PeriodDay, domain.PeriodNight} {
			for _, sensor := range []domain.Sensor{domain.SensorAll, domain.SensorMODIS, domain.SensorVIIRSTI4, domain.SensorVIIRSTI5} {
				state := domain.FilterState{Date: date, Period: period, Sensor: sensor}
				filtered := domain.Filter(records, state)
				s := domain.Summarize(filtered, domain.SummaryOptions{})
				if s.Histogram.Total() != len(filtered) || s.Countries.Total() != len(filtered) || s.LandUse.Total() != len(filtered) {
					p.errorf("%s/%s/%s: aggregate totals disagree with %d filtered records", date, period, sensor, len(filtered))
				}
			}
		}
		fmt.Printf("  %s: %d records, %d day, %d night\n", date, len(all), len(day), len(night))
	}
	return p
}

func validateAPIParity(apiURL, apiKey string, records domain.FeatureSet) *phase {
	p := &phase{name: "Phase 4: Feature API parity"}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	client, err := featureapi.NewClient(featureapi.Settings{
		BaseURL: apiURL,
		APIKey:  apiKey,
		Timeout: 30 * time.Second,
	}, metrics, logger)
	if err != nil {
		p.errorf("client: %v", err)
		return p
	}
	ingestor := ingest.New(client, 1000, 10000, metrics, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for _, date := range datesOf(records) {
		want := idsOf(domain.ApplyStages(records, domain.DateStage(date)))
		got, err := ingestor.Ingest(ctx, domain.Query{Date: date}, nil)
		if err != nil {
			p.errorf("%s: ingest: %v", date, err)
			continue
		}
		gotIDs := idsOf(domain.ApplyStages(got, domain.DateStage(date)))
		if !slices.Equal(want, gotIDs) {
			p.errorf("%s: fixture has %d records, API served %d matching", date, len(want), len(gotIDs))
		}
	}
	return p
}

func idsOf(fs domain.FeatureSet) []string {
	ids := make([]string, len(fs))
	for i, h := range fs {
		ids[i] = h.ID
	}
	sort.Strings(ids)
	return ids
}
