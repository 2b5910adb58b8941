// Package domain models satellite-detected thermal anomaly ("hotspot") observations
// and the pure filter and aggregation logic applied to them.
//
// # Data Source
//
// Hotspots are served by a paged feature-collection endpoint in the style of
// OGC API - Features. Each page is a GeoJSON FeatureCollection with a "links"
// array; the entry with rel "next" points at the following page. Every feature
// is a Point in WGS-84 longitude/latitude order.
//
// # Property Conventions
//
// Date and time:
//
//	th_date  local calendar date, "YYYY-MM-DD"
//	th_time  local time of day, "HHMM" in 24-hour notation, e.g. "1342".
//	         Three-digit values ("930") are NOT padded;
//	         anything other than exactly four digits is treated as malformed.
//
// Brightness (Kelvin) comes from different sensor families, and a record
// usually carries only one of them:
//
//	viirs_bright_ti4, viirs_bright_ti5   reprocessed VIIRS 375 m sub-fields
//	brightness                           generic brightness temperature
//	bright_t31                           MODIS channel 31
//	bright_ti4, bright_ti5               VIIRS I-4 / I-5 bands
//
// Values arrive as JSON numbers, numeric strings, or null. A null or absent
// value is "not present"; a present value that does not parse as a number is
// skipped during brightness resolution (see [ResolveBrightness]).
//
// Location hierarchy (Thai name "_tn" preferred over English "_en"):
//
//	ct_*  country, pv_*  province, ap_*  district, tb_*  sub-district,
//	village, lu_name (land use)
//
// # Intensity Buckets
//
// Resolved brightness is classified into four ordered buckets, first match wins:
//
//	very_hot  > 320 K
//	hot       > 310 K
//	moderate  >= 295 K
//	normal    everything else (including records with no usable brightness)
//
// Note the gap between 294 and 295: values in [294, 295) fall into "normal".
package domain
