package domain

import (
	"encoding/json"
	"time"
)

// brightnessFields lists the brightness readings in resolution priority order.
var brightnessFields = []struct {
	name string
	get  func(Properties) Reading
}{
	{"viirs_bright_ti4", func(p Properties) Reading { return p.ViirsTI4 }},
	{"viirs_bright_ti5", func(p Properties) Reading { return p.ViirsTI5 }},
	{"brightness", func(p Properties) Reading { return p.Brightness }},
	{"bright_t31", func(p Properties) Reading { return p.BrightT31 }},
	{"bright_ti4", func(p Properties) Reading { return p.BrightTI4 }},
	{"bright_ti5", func(p Properties) Reading { return p.BrightTI5 }},
}

// BrightnessFieldOrder returns the JSON names of the brightness fields in
// resolution priority order.
func BrightnessFieldOrder() []string {
	names := make([]string, len(brightnessFields))
	for i, f := range brightnessFields {
		names[i] = f.name
	}
	return names
}

// ResolveBrightness returns the first present and numeric brightness reading
// in priority order, or 0 when none qualifies.
func ResolveBrightness(p Properties) float64 {
	for _, f := range brightnessFields {
		if v, ok := f.get(p).Float(); ok {
			return v
		}
	}
	return 0
}

// Bucket is an intensity class.
type Bucket string

const (
	BucketVeryHot  Bucket = "very_hot" // > 320
	BucketHot      Bucket = "hot"      // > 310
	BucketModerate Bucket = "moderate" // >= 295
	BucketNormal   Bucket = "normal"   // everything else
)

// Buckets lists the intensity classes in evaluation order.
var Buckets = []Bucket{BucketVeryHot, BucketHot, BucketModerate, BucketNormal}

// Classify maps a resolved brightness to its bucket; the first matching
// threshold in descending order wins.
func Classify(brightness float64) Bucket {
	switch {
	case brightness > 320:
		return BucketVeryHot
	case brightness > 310:
		return BucketHot
	case brightness >= 295:
		return BucketModerate
	default:
		return BucketNormal
	}
}

// BucketCount is one histogram bar.
type BucketCount struct {
	Bucket Bucket `json:"bucket"`
	Count  int    `json:"count"`
}

// Histogram holds one count per bucket, in Buckets order.
type Histogram []BucketCount

func newHistogram() Histogram {
	h := make(Histogram, len(Buckets))
	for i, b := range Buckets {
		h[i] = BucketCount{Bucket: b}
	}
	return h
}

func (h Histogram) add(b Bucket) {
	for i := range h {
		if h[i].Bucket == b {
			h[i].Count++
			return
		}
	}
}

// Count returns the count for a bucket.
func (h Histogram) Count(b Bucket) int {
	for _, bc := range h {
		if bc.Bucket == b {
			return bc.Count
		}
	}
	return 0
}

// Total sums all buckets.
func (h Histogram) Total() int {
	n := 0
	for _, bc := range h {
		n += bc.Count
	}
	return n
}

// GroupCount is one category of a grouped count.
type GroupCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// GroupCounts counts records per category, keeping first-seen order.
type GroupCounts struct {
	order []string
	index map[string]int
}

// NewGroupCounts returns an empty grouping.
func NewGroupCounts() *GroupCounts {
	return &GroupCounts{index: make(map[string]int)}
}

// Add counts one record under name.
func (g *GroupCounts) Add(name string) {
	if _, ok := g.index[name]; !ok {
		g.order = append(g.order, name)
	}
	g.index[name]++
}

// Get returns the count for name.
func (g *GroupCounts) Get(name string) int { return g.index[name] }

// Entries returns the categories in first-seen order.
func (g *GroupCounts) Entries() []GroupCount {
	out := make([]GroupCount, len(g.order))
	for i, name := range g.order {
		out[i] = GroupCount{Name: name, Count: g.index[name]}
	}
	return out
}

// Total sums all categories.
func (g *GroupCounts) Total() int {
	n := 0
	for _, c := range g.index {
		n += c
	}
	return n
}

func (g *GroupCounts) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Entries())
}

// DefaultUnspecified labels records without a value for a grouping key.
const DefaultUnspecified = "unspecified"

// SummaryOptions tunes display-name resolution.
type SummaryOptions struct {
	Unspecified string
}

// Summary is the aggregate view of a filtered set.
type Summary struct {
	Total       int          `json:"total"`
	Unmapped    int          `json:"unmapped"`
	Histogram   Histogram    `json:"histogram"`
	Countries   *GroupCounts `json:"countries"`
	LandUse     *GroupCounts `json:"land_use"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Summarize derives the histogram and grouped counts from scratch. Every record
// of fs is counted exactly once in the histogram and in each grouping.
func Summarize(fs FeatureSet, opts SummaryOptions) Summary {
	unspecified := opts.Unspecified
	if unspecified == "" {
		unspecified = DefaultUnspecified
	}

	s := Summary{
		Total:       len(fs),
		Histogram:   newHistogram(),
		Countries:   NewGroupCounts(),
		LandUse:     NewGroupCounts(),
		GeneratedAt: clock.Now(),
	}
	for _, h := range fs {
		if !h.HasLocation() {
			s.Unmapped++
		}
		s.Histogram.add(Classify(ResolveBrightness(h.Properties)))
		s.Countries.Add(orDefault(CountryName(h.Properties), unspecified))
		s.LandUse.Add(orDefault(Str(h.Properties.LandUse), unspecified))
	}
	return s
}

// CountryName resolves the display name of a record's country: Thai name
// first, then English. Returns "" when neither is set.
func CountryName(p Properties) string {
	return firstNonEmpty(p.CountryTH, p.CountryEN)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// SummaryReport pairs a summary with the filter state it was computed for.
type SummaryReport struct {
	Filter  FilterState `json:"filter"`
	Summary Summary     `json:"summary"`
}
