package models

import (
	"math"
	"time"
)

// Granularity is the resolution of a consumption series.
type Granularity string

const (
	Hourly Granularity = "hourly"
	Daily  Granularity = "daily"
)

// Reading is an instantaneous meter reading.
type Reading struct {
	Value      float64
	Unit       string
	CapturedAt time.Time
}

// ConsumptionEntry is one measured interval in a series. Start is the
// beginning of the interval. Missing marks intervals the provider had no
// data for; Value is meaningless when Missing is set. Missing data is
// never coerced to zero.
type ConsumptionEntry struct {
	Start   time.Time
	Value   float64
	Unit    string
	Missing bool
}

// ConsumptionSeries is a chronologically ordered sequence of consumption
// entries at a single granularity.
type ConsumptionSeries struct {
	Granularity Granularity
	Unit        string
	Entries     []ConsumptionEntry
}

// NormalizeHourEnding converts a raw portal hourly label to the start of
// the measured interval. The portal labels each row with the hour the
// interval *ends* at, so the exposed timestamp is one hour earlier.
func NormalizeHourEnding(raw time.Time) time.Time {
	return raw.Add(-time.Hour)
}

// RawHourLabel is the inverse of NormalizeHourEnding: it restores the
// portal's hour-ending label from a normalized interval start.
func RawHourLabel(start time.Time) time.Time {
	return start.Add(time.Hour)
}

// Append adds an entry keeping insertion order. Callers are responsible
// for appending in chronological order.
func (s *ConsumptionSeries) Append(e ConsumptionEntry) {
	s.Entries = append(s.Entries, e)
}

// Merge appends all entries of other that start at or after the last
// entry of s, preserving chronological order across day boundaries.
func (s *ConsumptionSeries) Merge(other ConsumptionSeries) {
	for _, e := range other.Entries {
		if n := len(s.Entries); n > 0 && !e.Start.After(s.Entries[n-1].Start) {
			continue
		}
		s.Entries = append(s.Entries, e)
	}
}

// TotalConsumption sums the non-missing values of the series, rounded to
// three decimal places.
func (s ConsumptionSeries) TotalConsumption() float64 {
	var total float64
	for _, e := range s.Entries {
		if e.Missing {
			continue
		}
		total += e.Value
	}
	return round3(total)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
