package models

import (
	"bytes"
	"math"
	"strconv"
	"time"
)

// Representable bounds for stored timestamps. Values outside this window are
// rejected on write and clamped on read.
var (
	MinTimestamp = time.Date(1970, 1, 1, 0, 0, 1, 0, time.UTC)
	MaxTimestamp = time.Date(2038, 1, 19, 3, 14, 7, 0, time.UTC)
)

// Float is a float64 whose JSON form maps NaN to null in both directions,
// so missing measurements survive a round trip through the API.
type Float float64

// MarshalJSON renders NaN as null.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

// UnmarshalJSON parses null as NaN.
func (f *Float) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = Float(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// ObservationValue is one measured point of an observation series.
type ObservationValue struct {
	Timestamp   time.Time `json:"timestamp"`
	Value       Float     `json:"value"`
	QualityFlag int       `json:"quality_flag"`
}

// ForecastValue is one predicted point of a forecast series.
type ForecastValue struct {
	Timestamp time.Time `json:"timestamp"`
	Value     Float     `json:"value"`
}

// TimeRange reports the first and last stored timestamps of a series.
// Both are nil when the series holds no values.
type TimeRange struct {
	MinTimestamp *time.Time `json:"min_timestamp"`
	MaxTimestamp *time.Time `json:"max_timestamp"`
}

// ValueGap marks two adjacent stored timestamps further apart than the
// series interval length.
type ValueGap struct {
	Timestamp     time.Time `json:"timestamp"`
	NextTimestamp time.Time `json:"next_timestamp"`
}

// FindGaps scans ascending timestamps and returns every adjacent pair whose
// spacing exceeds interval. Series with fewer than two points have no gaps.
func FindGaps(timestamps []time.Time, interval time.Duration) []ValueGap {
	gaps := []ValueGap{}
	for i := 1; i < len(timestamps); i++ {
		if timestamps[i].Sub(timestamps[i-1]) > interval {
			gaps = append(gaps, ValueGap{Timestamp: timestamps[i-1], NextTimestamp: timestamps[i]})
		}
	}
	return gaps
}

// checkQualityFlag validates a raw quality flag into errs under field.
// Only 0 (ok) and 1 (user flagged) may be supplied on write.
func checkQualityFlag(errs FieldErrors, field string, flag int) {
	if flag != 0 && flag != 1 {
		errs.Add(field, "Quality flag must be 0 or 1.")
	}
}

// ValidateObservationValues checks a batch of observation points before
// storage: every timestamp inside the representable window, strictly
// ascending, consistent with interval spacing, and aligned with previous
// when the series already holds data. The index of the offending point is
// part of each error so clients can find it in large uploads.
func ValidateObservationValues(values []ObservationValue, interval time.Duration, previous *time.Time) error {
	errs := FieldErrors{}
	if len(values) == 0 {
		errs.Add("values", "Must provide at least one value.")
		return errs.OrNil()
	}
	timestamps := make([]time.Time, len(values))
	for i, v := range values {
		timestamps[i] = v.Timestamp
		checkQualityFlag(errs, indexedField("values", i, "quality_flag"), v.QualityFlag)
	}
	checkSeriesTimestamps(errs, timestamps, interval, previous)
	return errs.OrNil()
}

// ValidateForecastValues checks a batch of forecast points before storage.
func ValidateForecastValues(values []ForecastValue, interval time.Duration, previous *time.Time) error {
	errs := FieldErrors{}
	if len(values) == 0 {
		errs.Add("values", "Must provide at least one value.")
		return errs.OrNil()
	}
	timestamps := make([]time.Time, len(values))
	for i, v := range values {
		timestamps[i] = v.Timestamp
	}
	checkSeriesTimestamps(errs, timestamps, interval, previous)
	return errs.OrNil()
}

func checkSeriesTimestamps(errs FieldErrors, timestamps []time.Time, interval time.Duration, previous *time.Time) {
	for i, ts := range timestamps {
		if ts.Before(MinTimestamp) || ts.After(MaxTimestamp) {
			errs.Add(indexedField("values", i, "timestamp"),
				"Timestamp must be between 1970-01-01T00:00:01Z and 2038-01-19T03:14:07Z.")
		}
		if i > 0 && !timestamps[i-1].Before(ts) {
			errs.Add(indexedField("values", i, "timestamp"),
				"Timestamps must be strictly increasing.")
		}
	}
	// A batch misaligned with what is already stored would create phantom
	// gaps, so the first new point must land a whole number of intervals
	// after the most recent stored point.
	if previous != nil && len(timestamps) > 0 {
		offset := timestamps[0].Sub(*previous)
		if offset <= 0 || offset%interval != 0 {
			errs.Add("values", "Timestamps do not align with the stored series interval.")
		}
	}
	for i := 1; i < len(timestamps); i++ {
		if d := timestamps[i].Sub(timestamps[i-1]); d > 0 && d%interval != 0 {
			errs.Add(indexedField("values", i, "timestamp"),
				"Timestamp spacing must be a multiple of the interval length.")
		}
	}
}

func indexedField(prefix string, i int, field string) string {
	return prefix + "." + strconv.Itoa(i) + "." + field
}
