package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHourEnding(t *testing.T) {
	// A row labelled 14:00 measures the 13:00-14:00 interval.
	raw := time.Date(2026, 8, 20, 14, 0, 0, 0, BruneiTZ)
	start := NormalizeHourEnding(raw)

	assert.Equal(t, time.Date(2026, 8, 20, 13, 0, 0, 0, BruneiTZ), start)
}

func TestNormalizeHourEndingCrossesMidnight(t *testing.T) {
	// Hour-ending 24 belongs to the previous day's last interval.
	raw := time.Date(2026, 8, 21, 0, 0, 0, 0, BruneiTZ)
	assert.Equal(t, time.Date(2026, 8, 20, 23, 0, 0, 0, BruneiTZ), NormalizeHourEnding(raw))
}

func TestRawHourLabelRoundTrip(t *testing.T) {
	raw := time.Date(2026, 8, 20, 9, 0, 0, 0, BruneiTZ)
	assert.Equal(t, raw, RawHourLabel(NormalizeHourEnding(raw)))
}

func TestMergeSkipsOverlap(t *testing.T) {
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, BruneiTZ)

	var s ConsumptionSeries
	s.Append(ConsumptionEntry{Start: day, Value: 1})
	s.Append(ConsumptionEntry{Start: day.Add(time.Hour), Value: 2})

	var other ConsumptionSeries
	other.Append(ConsumptionEntry{Start: day.Add(time.Hour), Value: 99})
	other.Append(ConsumptionEntry{Start: day.Add(2 * time.Hour), Value: 3})

	s.Merge(other)

	assert.Len(t, s.Entries, 3)
	assert.Equal(t, 2.0, s.Entries[1].Value)
	assert.Equal(t, 3.0, s.Entries[2].Value)
}

func TestTotalConsumptionSkipsMissing(t *testing.T) {
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, BruneiTZ)

	var s ConsumptionSeries
	s.Append(ConsumptionEntry{Start: day, Value: 0.1})
	s.Append(ConsumptionEntry{Start: day.Add(time.Hour), Missing: true, Value: 999})
	s.Append(ConsumptionEntry{Start: day.Add(2 * time.Hour), Value: 0.2})

	assert.Equal(t, 0.3, s.TotalConsumption())
}

func TestTotalConsumptionEmpty(t *testing.T) {
	var s ConsumptionSeries
	assert.Equal(t, 0.0, s.TotalConsumption())
}
