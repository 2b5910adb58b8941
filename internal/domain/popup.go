package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	placeholder     = "-"
	timestampLayout = "2 January 2006 15:04"
)

// PopupOptions controls how a clicked point is rendered for display.
type PopupOptions struct {
	// DetailedCountry enables the location hierarchy for records of this
	// country (matched against both the Thai and English names).
	DetailedCountry string
	// Location is the time zone th_date/th_time are expressed in.
	Location *time.Location
}

// LocationDetails is the administrative hierarchy shown for detailed countries.
type LocationDetails struct {
	Country     string `json:"country"`
	Province    string `json:"province"`
	District    string `json:"district"`
	SubDistrict string `json:"sub_district"`
	Village     string `json:"village"`
	LandUse     string `json:"land_use"`
}

// Popup is the display payload for a clicked hotspot.
type Popup struct {
	Timestamp string           `json:"timestamp"`
	Satellite string           `json:"satellite"`
	Intensity string           `json:"intensity"`
	Longitude float64          `json:"longitude"`
	Latitude  float64          `json:"latitude"`
	Details   *LocationDetails `json:"details,omitempty"`
}

// MapProperties flattens a hotspot into the property bag carried by the map
// source, which is all a click handler gets back.
func MapProperties(h Hotspot) geojson.Properties {
	p := h.Properties
	props := geojson.Properties{
		"intensity": ResolveBrightness(p),
	}
	set := func(key string, v *string) {
		if s := Str(v); s != "" {
			props[key] = s
		}
	}
	set("satellite", p.Satellite)
	set("th_date", p.Date)
	set("th_time", p.Time)
	set("ct_tn", p.CountryTH)
	set("ct_en", p.CountryEN)
	set("pv_tn", p.ProvinceTH)
	set("pv_en", p.ProvinceEN)
	set("ap_tn", p.DistrictTH)
	set("ap_en", p.DistrictEN)
	set("tb_tn", p.SubDistrictTH)
	set("tb_en", p.SubDistrictEN)
	set("village", p.Village)
	set("lu_name", p.LandUse)
	return props
}

// PopupFromFeature builds the display payload for a feature clicked on the
// point layer. It returns false when the feature has no point geometry.
func PopupFromFeature(f *geojson.Feature, opts PopupOptions) (Popup, bool) {
	if f == nil {
		return Popup{}, false
	}
	pt, ok := f.Geometry.(orb.Point)
	if !ok {
		return Popup{}, false
	}

	props := f.Properties
	popup := Popup{
		Timestamp: FormatTimestamp(props.MustString("th_date", ""), props.MustString("th_time", ""), opts.Location),
		Satellite: orDefault(props.MustString("satellite", ""), placeholder),
		Intensity: formatIntensity(props.MustFloat64("intensity", 0)),
		Longitude: pt.Lon(),
		Latitude:  pt.Lat(),
	}

	if isDetailedCountry(props, opts.DetailedCountry) {
		name := func(th, en string) string {
			return orDefault(firstNonEmpty(StrPtr(props.MustString(th, "")), StrPtr(props.MustString(en, ""))), placeholder)
		}
		popup.Details = &LocationDetails{
			Country:     name("ct_tn", "ct_en"),
			Province:    name("pv_tn", "pv_en"),
			District:    name("ap_tn", "ap_en"),
			SubDistrict: name("tb_tn", "tb_en"),
			Village:     orDefault(props.MustString("village", ""), placeholder),
			LandUse:     orDefault(props.MustString("lu_name", ""), placeholder),
		}
	}
	return popup, true
}

// FormatTimestamp combines th_date and th_time into a display string in loc,
// or "-" when either part is missing or malformed.
func FormatTimestamp(date, hhmm string, loc *time.Location) string {
	if date == "" || len(hhmm) != 4 {
		return placeholder
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02 1504", date+" "+hhmm, loc)
	if err != nil {
		return placeholder
	}
	return t.Format(timestampLayout)
}

func formatIntensity(v float64) string {
	if v == 0 {
		return placeholder
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isDetailedCountry(props geojson.Properties, country string) bool {
	if country == "" {
		return false
	}
	return strings.EqualFold(props.MustString("ct_en", ""), country) ||
		props.MustString("ct_tn", "") == country
}
