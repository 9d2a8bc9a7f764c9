// Package cache is the freshness layer between the data model and the
// portal. Each (meter, metric) pair has one entry stamped with when its
// value was captured and when a refresh was last attempted; two
// independent thresholds decide when a network fetch is warranted.
// Replacement is atomic per entry and a failed fetch never evicts data:
// stale-but-valid beats nothing.
package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/smartmeterbn/usms/pkg/models"
)

// Key addresses one cache entry.
type Key struct {
	Meter  string
	Metric string
}

// Intervals are the two freshness thresholds for a metric. Refresh is
// the full-reload cadence: data younger than this is served from cache
// unconditionally. Check is the cheaper staleness-poll cadence: after a
// fetch attempt (successful or not) no new attempt is made until it has
// passed, so a flapping portal is not hammered.
type Intervals struct {
	Refresh time.Duration
	Check   time.Duration
}

// Metric is one cached value. CapturedAt is the provider's timestamp for
// the value and is monotonically non-decreasing across replacements;
// CheckedAt is the local time of the last fetch attempt.
type Metric struct {
	Value      any
	Unit       string
	CapturedAt time.Time
	CheckedAt  time.Time
}

// SeriesEntry is one cached consumption series window (a day of hourly
// data or a month of daily data).
type SeriesEntry struct {
	Series    models.ConsumptionSeries
	CheckedAt time.Time
}

// FetchFunc loads a fresh metric from the portal.
type FetchFunc func(ctx context.Context) (Metric, error)

// Store holds the cache for one client instance.
type Store struct {
	mu      sync.Mutex
	metrics map[Key]Metric
	series  *lru.Cache
	now     func() time.Time
}

// DefaultSeriesSize bounds the number of cached series windows. A year
// of hourly days plus months of daily data fits comfortably.
const DefaultSeriesSize = 512

// New builds an empty store. size bounds the series cache; zero means
// DefaultSeriesSize.
func New(size int) (*Store, error) {
	if size <= 0 {
		size = DefaultSeriesSize
	}
	series, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Store{
		metrics: make(map[Key]Metric),
		series:  series,
		now:     time.Now,
	}, nil
}

// GetOrRefresh returns the cached metric if it is fresh enough,
// otherwise fetches a replacement. On fetch failure the previous entry
// is returned unchanged alongside the error; if there is no previous
// entry, the zero Metric is returned with the error.
func (s *Store) GetOrRefresh(ctx context.Context, key Key, iv Intervals, fetch FetchFunc) (Metric, error) {
	now := s.now()

	s.mu.Lock()
	entry, ok := s.metrics[key]
	s.mu.Unlock()

	if ok {
		if iv.Refresh > 0 && now.Sub(entry.CapturedAt) < iv.Refresh {
			return entry, nil
		}
		if iv.Check > 0 && now.Sub(entry.CheckedAt) < iv.Check {
			return entry, nil
		}
	}

	return s.refresh(ctx, key, fetch)
}

// ForceRefresh bypasses the interval checks unconditionally.
func (s *Store) ForceRefresh(ctx context.Context, key Key, fetch FetchFunc) (Metric, error) {
	return s.refresh(ctx, key, fetch)
}

func (s *Store) refresh(ctx context.Context, key Key, fetch FetchFunc) (Metric, error) {
	fresh, err := fetch(ctx)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.metrics[key]
	if err != nil {
		// Record the attempt so the check interval applies, but keep the
		// stale value intact for the caller.
		if had {
			prev.CheckedAt = now
			s.metrics[key] = prev
			return prev, err
		}
		return Metric{}, err
	}

	fresh.CheckedAt = now
	if had && fresh.CapturedAt.Before(prev.CapturedAt) {
		// CapturedAt never goes backwards, even if the portal serves an
		// older snapshot.
		fresh.Value = prev.Value
		fresh.Unit = prev.Unit
		fresh.CapturedAt = prev.CapturedAt
	}
	s.metrics[key] = fresh
	return fresh, nil
}

// Peek returns the cached metric without any freshness logic.
func (s *Store) Peek(key Key) (Metric, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.metrics[key]
	return entry, ok
}

// GetSeries returns the cached series window for key.
func (s *Store) GetSeries(key Key) (SeriesEntry, bool) {
	v, ok := s.series.Get(key)
	if !ok {
		return SeriesEntry{}, false
	}
	return v.(SeriesEntry), true
}

// PutSeries replaces the series window for key, stamping the attempt
// time.
func (s *Store) PutSeries(key Key, entry SeriesEntry) {
	entry.CheckedAt = s.now()
	s.series.Add(key, entry)
}

// SeriesFresh reports whether the cached window for key can be served
// without a fetch. A window whose end is older than settled is immutable
// on the portal and always fresh once present; otherwise the check
// interval applies.
func (s *Store) SeriesFresh(key Key, windowEnd time.Time, iv Intervals, settled time.Duration) bool {
	entry, ok := s.GetSeries(key)
	if !ok || len(entry.Series.Entries) == 0 {
		return false
	}
	now := s.now()
	if settled > 0 && now.Sub(windowEnd) > settled {
		return true
	}
	return iv.Check > 0 && now.Sub(entry.CheckedAt) < iv.Check
}
