// Command genmock generates a synthetic hotspot fixture for the mock feature
// API and the test suites. It runs the generated records through the domain
// filter and aggregation code and prints the counts tests assert on.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock/hotspots_240107.geojson \
//	  -dates 2024-01-06,2024-01-07 -count 5000 -seed 7
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/hotspot-sync-service/internal/domain"
)

type country struct {
	en, th    string
	bound     orb.Bound
	provinces []string
}

var countries = []country{
	{en: "Thailand", th: "ประเทศไทย", bound: orb.Bound{Min: orb.Point{97.5, 5.7}, Max: orb.Point{105.6, 20.4}},
		provinces: []string{"เชียงใหม่", "เชียงราย", "ลำปาง", "แม่ฮ่องสอน", "น่าน", "ตาก"}},
	{en: "Myanmar", th: "เมียนมา", bound: orb.Bound{Min: orb.Point{94.0, 16.0}, Max: orb.Point{98.5, 24.0}}},
	{en: "Laos", th: "ลาว", bound: orb.Bound{Min: orb.Point{100.2, 14.0}, Max: orb.Point{107.0, 22.4}}},
	{en: "Cambodia", th: "กัมพูชา", bound: orb.Bound{Min: orb.Point{102.4, 10.5}, Max: orb.Point{107.6, 14.6}}},
}

var landUses = []string{"พื้นที่เกษตร", "ป่าสงวนแห่งชาติ", "พื้นที่ชุมชนและอื่นๆ", "เขตสปก.", ""}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the GeoJSON fixture")
	datesFlag := flag.String("dates", "2024-01-07", "comma-separated th_date values to spread records over")
	count := flag.Int("count", 2000, "number of records")
	seed := flag.Uint64("seed", 7, "random seed")
	malformed := flag.Float64("malformed", 0.01, "fraction of records without a usable geometry")
	flag.Parse()

	if *out == "" || *count <= 0 {
		flag.Usage()
		return fmt.Errorf("missing required flags: -out, -count > 0")
	}
	dates := strings.Split(*datesFlag, ",")
	for _, d := range dates {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return fmt.Errorf("invalid date %q: %w", d, err)
		}
	}

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	fc := geojson.NewFeatureCollection()
	for i := range *count {
		fc.Append(generate(rng, i, dates[i%len(dates)], *malformed))
	}

	if err := writeJSON(*out, fc); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote fixture: %s (%d records)", *out, *count)

	// Fixed clock so the printed summaries are reproducible.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	return printStats(fc, dates)
}

func generate(rng *rand.Rand, i int, date string, malformed float64) *geojson.Feature {
	c := countries[rng.IntN(len(countries))]
	pt := orb.Point{
		c.bound.Min.Lon() + rng.Float64()*(c.bound.Max.Lon()-c.bound.Min.Lon()),
		c.bound.Min.Lat() + rng.Float64()*(c.bound.Max.Lat()-c.bound.Min.Lat()),
	}

	f := geojson.NewFeature(pt)
	if rng.Float64() < malformed {
		f.Geometry = nil
	}
	f.ID = fmt.Sprintf("hs-%06d", i)

	props := geojson.Properties{
		"th_date": date,
		"th_time": fmt.Sprintf("%02d%02d", rng.IntN(24), rng.IntN(60)),
		"ct_en":   c.en,
		"ct_tn":   c.th,
	}
	brightness := 290 + rng.NormFloat64()*12

	// Roughly a third MODIS, the rest VIIRS.
	if rng.IntN(3) == 0 {
		props["satellite"] = []string{"Terra", "Aqua"}[rng.IntN(2)]
		props["bright_t31"] = round(brightness)
		props["brightness"] = round(brightness + 15)
	} else {
		props["satellite"] = []string{"N", "N20", "N21"}[rng.IntN(3)]
		props["bright_ti4"] = round(brightness + 25)
		props["bright_ti5"] = round(brightness)
		if rng.IntN(50) == 0 {
			props["bright_ti4"] = "n/a"
		}
	}

	if c.en == "Thailand" {
		props["pv_tn"] = c.provinces[rng.IntN(len(c.provinces))]
		props["ap_en"] = fmt.Sprintf("District %d", rng.IntN(20)+1)
		props["tb_tn"] = fmt.Sprintf("ตำบล %d", rng.IntN(50)+1)
		props["village"] = fmt.Sprintf("บ้าน %d", rng.IntN(200)+1)
		if lu := landUses[rng.IntN(len(landUses))]; lu != "" {
			props["lu_name"] = lu
		}
	}
	f.Properties = props
	return f
}

func round(v float64) float64 {
	return float64(int(v*100)) / 100
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(fc *geojson.FeatureCollection, dates []string) error {
	fs := make(domain.FeatureSet, 0, len(fc.Features))
	for i, f := range fc.Features {
		raw, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshal feature %d: %w", i, err)
		}
		h, err := domain.ParseFeature(raw)
		if err != nil {
			return fmt.Errorf("parse feature %d: %w", i, err)
		}
		fs = append(fs, h)
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d\n", len(fs))
	for _, date := range dates {
		for _, period := range []domain.Period{domain.PeriodDay, domain.PeriodNight} {
			for _, sensor := range []domain.Sensor{domain.SensorAll, domain.SensorMODIS, domain.SensorVIIRSTI4, domain.SensorVIIRSTI5} {
				state := domain.FilterState{Date: date, Period: period, Sensor: sensor}
				s := domain.Summarize(domain.Filter(fs, state), domain.SummaryOptions{})
				fmt.Printf("%s %-5s %-9s total=%-5d unmapped=%-3d", date, period, sensor, s.Total, s.Unmapped)
				for _, b := range s.Histogram {
					fmt.Printf(" %s=%d", b.Bucket, b.Count)
				}
				fmt.Println()
			}
		}
	}
	return nil
}
