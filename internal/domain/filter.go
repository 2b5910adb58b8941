package domain

import (
	"fmt"
	"time"
)

// Period selects daytime or nighttime observations.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodNight Period = "night"
)

// Sensor selects observations carrying a given brightness field.
type Sensor string

const (
	SensorAll      Sensor = "all"
	SensorMODIS    Sensor = "modis"     // bright_t31
	SensorVIIRSTI4 Sensor = "viirs_ti4" // bright_ti4
	SensorVIIRSTI5 Sensor = "viirs_ti5" // bright_ti5
)

// Day boundaries in local hours: day is [dayStartHour, dayEndHour).
const (
	dayStartHour = 6
	dayEndHour   = 18
)

// FilterState is the current user selection.
type FilterState struct {
	Date   string `json:"date"` // empty disables the date filter
	Period Period `json:"period"`
	Sensor Sensor `json:"sensor"`
}

// DefaultFilterState returns the initial selection for the given default date.
func DefaultFilterState(date string) FilterState {
	return FilterState{Date: date, Period: PeriodDay, Sensor: SensorAll}
}

// Validate checks that the date is empty or YYYY-MM-DD and that the period
// and sensor are known.
func (s FilterState) Validate() error {
	if s.Date != "" {
		if _, err := time.Parse(time.DateOnly, s.Date); err != nil {
			return fmt.Errorf("invalid date %q: want YYYY-MM-DD", s.Date)
		}
	}
	if _, err := ParsePeriod(string(s.Period)); err != nil {
		return err
	}
	if _, err := ParseSensor(string(s.Sensor)); err != nil {
		return err
	}
	return nil
}

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodDay, PeriodNight:
		return Period(s), nil
	default:
		return "", fmt.Errorf("unknown period %q", s)
	}
}

// ParseSensor validates a sensor selector name.
func ParseSensor(s string) (Sensor, error) {
	switch Sensor(s) {
	case SensorAll, SensorMODIS, SensorVIIRSTI4, SensorVIIRSTI5:
		return Sensor(s), nil
	default:
		return "", fmt.Errorf("unknown sensor %q", s)
	}
}

// Stage is one filter predicate. Stages are independent, so their order only
// affects how quickly the set narrows, never the result.
type Stage func(Hotspot) bool

// DateStage keeps records whose th_date equals date. An empty date keeps everything.
func DateStage(date string) Stage {
	if date == "" {
		return nil
	}
	return func(h Hotspot) bool {
		return h.Properties.Date != nil && *h.Properties.Date == date
	}
}

// PeriodStage keeps records observed during the selected period. Records whose
// th_time is not exactly four digits (or has an hour above 23) are excluded
// from both periods.
func PeriodStage(p Period) Stage {
	return func(h Hotspot) bool {
		hour, ok := ParseHour(Str(h.Properties.Time))
		if !ok {
			return false
		}
		isDay := hour >= dayStartHour && hour < dayEndHour
		if p == PeriodNight {
			return !isDay
		}
		return isDay
	}
}

// SensorStage keeps records whose brightness field for the selected sensor is
// present (non-null), regardless of whether it is numeric.
func SensorStage(s Sensor) Stage {
	var field func(Properties) Reading
	switch s {
	case SensorMODIS:
		field = func(p Properties) Reading { return p.BrightT31 }
	case SensorVIIRSTI4:
		field = func(p Properties) Reading { return p.BrightTI4 }
	case SensorVIIRSTI5:
		field = func(p Properties) Reading { return p.BrightTI5 }
	default:
		return nil
	}
	return func(h Hotspot) bool { return field(h.Properties).Present() }
}

// Stages returns the filter chain for a state in its canonical order:
// date, time of day, sensor. Disabled stages are omitted.
func (f FilterState) Stages() []Stage {
	stages := make([]Stage, 0, 3)
	for _, s := range []Stage{DateStage(f.Date), PeriodStage(f.Period), SensorStage(f.Sensor)} {
		if s != nil {
			stages = append(stages, s)
		}
	}
	return stages
}

// Filter applies the full filter chain for state. It never fails; a selection
// matching nothing yields an empty set.
func Filter(fs FeatureSet, state FilterState) FeatureSet {
	return ApplyStages(fs, state.Stages()...)
}

// ApplyStages narrows fs through each stage in the given order.
func ApplyStages(fs FeatureSet, stages ...Stage) FeatureSet {
	out := fs
	for _, stage := range stages {
		if stage == nil {
			continue
		}
		next := make(FeatureSet, 0, len(out))
		for _, h := range out {
			if stage(h) {
				next = append(next, h)
			}
		}
		out = next
	}
	if out == nil {
		return FeatureSet{}
	}
	return out
}

// ParseHour extracts the hour from an HHMM string. It requires exactly four
// ASCII digits and an hour in [0, 23].
func ParseHour(hhmm string) (int, bool) {
	if len(hhmm) != 4 {
		return 0, false
	}
	for i := 0; i < 4; i++ {
		if hhmm[i] < '0' || hhmm[i] > '9' {
			return 0, false
		}
	}
	hour := int(hhmm[0]-'0')*10 + int(hhmm[1]-'0')
	if hour > 23 {
		return 0, false
	}
	return hour, true
}
