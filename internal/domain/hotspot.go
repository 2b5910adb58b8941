package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Reading is a brightness value as delivered by the feature API. It keeps the
// distinction between absent/null (not present) and present-but-unparseable.
type Reading struct {
	raw     json.RawMessage
	value   float64
	numeric bool
}

// NewReading returns a present, numeric reading.
func NewReading(v float64) Reading {
	return Reading{
		raw:     json.RawMessage(strconv.FormatFloat(v, 'f', -1, 64)),
		value:   v,
		numeric: true,
	}
}

// Present reports whether the field carried a non-null value.
func (r Reading) Present() bool { return len(r.raw) > 0 }

// Float returns the numeric value and whether the reading parsed as a number.
func (r Reading) Float() (float64, bool) { return r.value, r.numeric }

// UnmarshalJSON accepts numbers, numeric strings, null, and arbitrary other
// values (kept as present but non-numeric).
func (r *Reading) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = Reading{}
		return nil
	}

	*r = Reading{raw: append(json.RawMessage(nil), data...)}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if v, ok := parseNumeric(s); ok {
			r.value, r.numeric = v, true
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if v, ok := parseNumeric(string(data)); ok {
			r.value, r.numeric = v, true
		}
	}
	return nil
}

// MarshalJSON re-emits the value exactly as it was received.
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Present() {
		return []byte("null"), nil
	}
	return r.raw, nil
}

// parseNumeric parses a trimmed numeric string. Empty input, NaN, and
// infinities are not numeric.
func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Properties is the fixed-shape property record of a hotspot. Every field is
// optional; nil pointers and non-present readings mean the API omitted the
// value or sent null.
type Properties struct {
	Date *string `json:"th_date,omitempty"`
	Time *string `json:"th_time,omitempty"`

	ViirsTI4   Reading `json:"viirs_bright_ti4"`
	ViirsTI5   Reading `json:"viirs_bright_ti5"`
	Brightness Reading `json:"brightness"`
	BrightT31  Reading `json:"bright_t31"`
	BrightTI4  Reading `json:"bright_ti4"`
	BrightTI5  Reading `json:"bright_ti5"`

	Satellite *string `json:"satellite,omitempty"`

	CountryTH     *string `json:"ct_tn,omitempty"`
	CountryEN     *string `json:"ct_en,omitempty"`
	ProvinceTH    *string `json:"pv_tn,omitempty"`
	ProvinceEN    *string `json:"pv_en,omitempty"`
	DistrictTH    *string `json:"ap_tn,omitempty"`
	DistrictEN    *string `json:"ap_en,omitempty"`
	SubDistrictTH *string `json:"tb_tn,omitempty"`
	SubDistrictEN *string `json:"tb_en,omitempty"`
	Village       *string `json:"village,omitempty"`
	LandUse       *string `json:"lu_name,omitempty"`
}

// Hotspot is one thermal-anomaly observation.
type Hotspot struct {
	ID         string     `json:"id,omitempty"`
	Location   *orb.Point `json:"location,omitempty"` // nil when the geometry is missing or not a valid Point
	Properties Properties `json:"properties"`
}

// HasLocation reports whether the record can be placed on the map.
func (h Hotspot) HasLocation() bool { return h.Location != nil }

// FeatureSet is an ordered, non-deduplicated sequence of hotspots in arrival order.
type FeatureSet []Hotspot

// Page is one response page of the feature API.
type Page struct {
	Features FeatureSet `json:"features"`
	Next     string     `json:"next,omitempty"` // empty on the last page
}

// Str returns the pointed-to string or "" when nil.
func Str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StrPtr is a convenience for building Properties in code and tests.
func StrPtr(s string) *string { return &s }

// firstNonEmpty returns the first non-empty string, mirroring "a || b" on optional names.
func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if s := Str(v); s != "" {
			return s
		}
	}
	return ""
}
