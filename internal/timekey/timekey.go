// Package timekey maps points in time onto the provider's 6-hour
// publication grid and formats grid points as cache keys.
package timekey

import (
	"fmt"
	"time"
)

// Interval is the provider's publication cadence.
const Interval = 6 * time.Hour

// keyLayout is the compact date+hour form used as the cache filename stem.
const keyLayout = "2006010215"

// Truncate floors t to the nearest grid point at or before it: the hour
// component is reduced to the largest multiple of six not exceeding it,
// minutes and smaller are zeroed. The result is always UTC.
func Truncate(t time.Time) time.Time {
	u := t.UTC()
	hour := u.Hour() - u.Hour()%6
	return time.Date(u.Year(), u.Month(), u.Day(), hour, 0, 0, 0, time.UTC)
}

// Format renders a grid point as its YYYYMMDDHH cache key.
// The input is truncated first, so any instant yields a valid key.
func Format(t time.Time) string {
	return Truncate(t).Format(keyLayout)
}

// Parse converts a YYYYMMDDHH cache key back to its grid point.
func Parse(key string) (time.Time, error) {
	t, err := time.ParseInLocation(keyLayout, key, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid snapshot key %q: %w", key, err)
	}
	if t.Hour()%6 != 0 {
		return time.Time{}, fmt.Errorf("invalid snapshot key %q: hour not on publication grid", key)
	}
	return t, nil
}

// LatestAvailable returns the newest grid point the provider can be
// expected to have published by now. Publication lags the nominal cycle
// time, modeled as one full interval.
func LatestAvailable(now time.Time) time.Time {
	return Truncate(now).Add(-Interval)
}
