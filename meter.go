package usms

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smartmeterbn/usms/internal/cache"
	"github.com/smartmeterbn/usms/internal/pipeline"
	"github.com/smartmeterbn/usms/internal/portal"
	"github.com/smartmeterbn/usms/pkg/models"
)

// Meter is the blocking façade over one physical meter. Meters are
// created during Account.Initialize and share the account's session and
// cache.
type Meter struct {
	account *Account
	nodeNo  string

	mu     sync.Mutex
	info   models.MeterInfo
	handle models.MeterHandle
}

func (m *Meter) commitInfo(info models.MeterInfo) {
	m.mu.Lock()
	m.info = info
	m.handle = info.Handle()
	m.mu.Unlock()
}

// Handle returns the meter's immutable identity.
func (m *Meter) Handle() models.MeterHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// No returns the meter number.
func (m *Meter) No() string { return m.Handle().No }

// Type returns the commodity the meter measures.
func (m *Meter) Type() models.MeterType { return m.Handle().Type }

// Unit returns the consumption unit for the meter.
func (m *Meter) Unit() string { return m.Handle().Type.Unit() }

// Info returns the last fetched meter info snapshot.
func (m *Meter) Info() models.MeterInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// RemainingCredit returns the last recorded credit balance.
func (m *Meter) RemainingCredit() float64 { return m.Info().RemainingCredit }

// LastUpdated returns the provider's timestamp for the last recorded
// reading.
func (m *Meter) LastUpdated() time.Time { return m.Info().LastUpdate }

// IsActive reports whether the meter is active on the portal.
func (m *Meter) IsActive() bool { return m.Info().IsActive() }

// Instantaneous returns the meter's current reading, served from cache
// while fresh. When a refresh fails and a previous reading exists, the
// stale reading is returned alongside the error; callers get data or a
// reason, never a silent zero.
func (m *Meter) Instantaneous(ctx context.Context) (models.Reading, error) {
	var reading models.Reading
	err := pipeline.Run(ctx, m.instantaneousOp(&reading, false))
	return reading, err
}

// ForceRefresh fetches a fresh reading, bypassing the freshness
// intervals.
func (m *Meter) ForceRefresh(ctx context.Context) (models.Reading, error) {
	var reading models.Reading
	err := pipeline.Run(ctx, m.instantaneousOp(&reading, true))
	return reading, err
}

// HourlyConsumption returns hourly consumption entries with interval
// starts in [from, to]. Timestamps are normalized to the start of the
// measured interval; the portal's raw labels mark the end.
func (m *Meter) HourlyConsumption(ctx context.Context, from, to time.Time) (models.ConsumptionSeries, error) {
	var series models.ConsumptionSeries
	err := pipeline.Run(ctx, m.hourlyOp(&series, from, to))
	return series, err
}

// DailyConsumption returns daily consumption entries with days in
// [from, to].
func (m *Meter) DailyConsumption(ctx context.Context, from, to time.Time) (models.ConsumptionSeries, error) {
	var series models.ConsumptionSeries
	err := pipeline.Run(ctx, m.dailyOp(&series, from, to))
	return series, err
}

// LastNDaysHourly returns hourly consumption from n days ago until now.
func (m *Meter) LastNDaysHourly(ctx context.Context, n int) (models.ConsumptionSeries, error) {
	now := time.Now().In(models.BruneiTZ)
	return m.HourlyConsumption(ctx, dayStart(now.AddDate(0, 0, -n)), now)
}

// PreviousMonthDaily returns daily consumption for the month n months
// before the current one; n=0 is the current month.
func (m *Meter) PreviousMonthDaily(ctx context.Context, n int) (models.ConsumptionSeries, error) {
	now := time.Now().In(models.BruneiTZ)
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, models.BruneiTZ).AddDate(0, -n, 0)
	return m.DailyConsumption(ctx, month, month.AddDate(0, 1, -1))
}

// TotalCost prices a series against the published tariff for this
// meter's type.
func (m *Meter) TotalCost(series models.ConsumptionSeries) float64 {
	return models.TotalCost(m.Type(), series)
}

// instantaneousOp is the shared fetch-instantaneous sequence: guard,
// valid session, then a cache-mediated info refresh committed in the
// final step.
func (m *Meter) instantaneousOp(dst *models.Reading, force bool) pipeline.Sequence {
	steps := []pipeline.Step{
		{Name: "guard", Run: func(ctx context.Context) error {
			return m.account.guard("instantaneous reading")
		}},
		{Name: "ensure session", Run: m.account.session.EnsureValid},
		{Name: "refresh reading", Run: func(ctx context.Context) error {
			key := cache.Key{Meter: m.No(), Metric: "reading"}
			fetch := func(ctx context.Context) (cache.Metric, error) {
				info, err := fetchMeterInfo(ctx, m.account.session, m.nodeNo)
				if err != nil {
					return cache.Metric{}, err
				}
				return cache.Metric{
					Value:      info,
					Unit:       info.Handle().Type.Unit(),
					CapturedAt: info.LastUpdate,
				}, nil
			}

			var (
				metric cache.Metric
				err    error
			)
			if force {
				metric, err = m.account.cache.ForceRefresh(ctx, key, fetch)
			} else {
				metric, err = m.account.cache.GetOrRefresh(ctx, key, m.account.intervals(), fetch)
			}
			if info, ok := metric.Value.(models.MeterInfo); ok {
				m.commitInfo(info)
				*dst = models.Reading{
					Value:      info.RemainingUnit,
					Unit:       metric.Unit,
					CapturedAt: metric.CapturedAt,
				}
			}
			return err
		}},
	}
	return pipeline.Sequence{Name: "instantaneous " + m.nodeNo, Steps: steps}
}

// hourlyOp fetches one day per step so cooperative callers can
// interleave and cancel between days without partial cache writes.
func (m *Meter) hourlyOp(dst *models.ConsumptionSeries, from, to time.Time) pipeline.Sequence {
	from, to = from.In(models.BruneiTZ), to.In(models.BruneiTZ)

	steps := []pipeline.Step{
		{Name: "guard", Run: func(ctx context.Context) error {
			if err := m.account.guard("hourly consumption"); err != nil {
				return err
			}
			return validateRange(from, to)
		}},
		{Name: "ensure session", Run: m.account.session.EnsureValid},
	}

	for day := dayStart(from); !day.After(to); day = day.AddDate(0, 0, 1) {
		day := day
		steps = append(steps, pipeline.Step{
			Name: "fetch day " + day.Format("2006-01-02"),
			Run: func(ctx context.Context) error {
				entry, err := m.dayConsumptions(ctx, day)
				if err != nil {
					return err
				}
				mergeWindow(dst, entry.Series, from, to)
				return nil
			},
		})
	}

	return pipeline.Sequence{Name: "hourly " + m.nodeNo, Steps: steps}
}

// dailyOp fetches one month per step.
func (m *Meter) dailyOp(dst *models.ConsumptionSeries, from, to time.Time) pipeline.Sequence {
	from, to = from.In(models.BruneiTZ), to.In(models.BruneiTZ)

	steps := []pipeline.Step{
		{Name: "guard", Run: func(ctx context.Context) error {
			if err := m.account.guard("daily consumption"); err != nil {
				return err
			}
			return validateRange(from, to)
		}},
		{Name: "ensure session", Run: m.account.session.EnsureValid},
	}

	for month := monthStart(from); !month.After(to); month = month.AddDate(0, 1, 0) {
		month := month
		steps = append(steps, pipeline.Step{
			Name: "fetch month " + month.Format("2006-01"),
			Run: func(ctx context.Context) error {
				entry, err := m.monthConsumptions(ctx, month)
				if err != nil {
					return err
				}
				mergeWindow(dst, entry.Series, from, to)
				return nil
			},
		})
	}

	return pipeline.Sequence{Name: "daily " + m.nodeNo, Steps: steps}
}

// dayConsumptions returns one day of hourly consumption, from cache
// when fresh. Days older than the settled window never refetch.
func (m *Meter) dayConsumptions(ctx context.Context, day time.Time) (cache.SeriesEntry, error) {
	key := cache.Key{Meter: m.No(), Metric: "hourly:" + day.Format("2006-01-02")}
	windowEnd := day.AddDate(0, 0, 1)

	if m.account.cache.SeriesFresh(key, windowEnd, m.account.intervals(), m.account.opts.settledAfter) {
		entry, _ := m.account.cache.GetSeries(key)
		return entry, nil
	}

	reportPath := portal.UsageHistoryQuery(m.Handle().ID)
	if _, err := m.account.session.Get(ctx, reportPath); err != nil {
		return cache.SeriesEntry{}, err
	}
	resp, err := m.account.session.PostForm(ctx, reportPath, portal.HourlyReportForm(day))
	if err != nil {
		return cache.SeriesEntry{}, err
	}

	if msg := portal.ParseReportError(resp.Body); msg != "" && msg != portal.NoHistoryMessage {
		m.account.logger.WithField("meter", m.No()).WithField("error", msg).Warn("report page error")
	}
	hours, err := portal.ParseHourlyGrid(resp.Body)
	if err != nil {
		if prev, ok := m.account.cache.GetSeries(key); ok {
			return prev, err
		}
		return cache.SeriesEntry{}, err
	}

	entry := cache.SeriesEntry{Series: hourlySeries(hours, day, m.Unit())}
	m.account.cache.PutSeries(key, entry)
	return entry, nil
}

// monthConsumptions returns one month of daily consumption, from cache
// when fresh.
func (m *Meter) monthConsumptions(ctx context.Context, month time.Time) (cache.SeriesEntry, error) {
	key := cache.Key{Meter: m.No(), Metric: "daily:" + month.Format("2006-01")}
	windowEnd := month.AddDate(0, 1, 0)

	if m.account.cache.SeriesFresh(key, windowEnd, m.account.intervals(), m.account.opts.settledAfter) {
		entry, _ := m.account.cache.GetSeries(key)
		return entry, nil
	}

	reportPath := portal.UsageHistoryQuery(m.Handle().ID)
	now := time.Now().In(models.BruneiTZ)
	if _, err := m.account.session.Get(ctx, reportPath); err != nil {
		return cache.SeriesEntry{}, err
	}
	resp, err := m.account.session.PostForm(ctx, reportPath, portal.DailyReportForm(month, now))
	if err != nil {
		return cache.SeriesEntry{}, err
	}

	if msg := portal.ParseReportError(resp.Body); msg != "" && msg != portal.NoHistoryMessage {
		m.account.logger.WithField("meter", m.No()).WithField("error", msg).Warn("report page error")
	}
	days, err := portal.ParseDailyGrid(resp.Body)
	if err != nil {
		if prev, ok := m.account.cache.GetSeries(key); ok {
			return prev, err
		}
		return cache.SeriesEntry{}, err
	}

	entry := cache.SeriesEntry{Series: dailySeries(days, m.Unit())}
	m.account.cache.PutSeries(key, entry)
	return entry, nil
}

// hourlySeries converts the portal's hour-ending grid for one day into a
// normalized series. Gaps between the first and last reported hour
// become explicit missing entries, never zeros.
func hourlySeries(hours map[int]float64, day time.Time, unit string) models.ConsumptionSeries {
	series := models.ConsumptionSeries{Granularity: models.Hourly, Unit: unit}
	if len(hours) == 0 {
		return series
	}

	first, last := 25, 0
	for h := range hours {
		if h < first {
			first = h
		}
		if h > last {
			last = h
		}
	}

	for h := first; h <= last; h++ {
		raw := day.Add(time.Duration(h) * time.Hour)
		entry := models.ConsumptionEntry{
			Start: models.NormalizeHourEnding(raw),
			Unit:  unit,
		}
		if v, ok := hours[h]; ok {
			entry.Value = v
		} else {
			entry.Missing = true
		}
		series.Append(entry)
	}
	return series
}

// dailySeries converts the portal's daily grid into a chronological
// series. Day labels use the portal's dd/mm/yyyy format.
func dailySeries(days map[string]float64, unit string) models.ConsumptionSeries {
	series := models.ConsumptionSeries{Granularity: models.Daily, Unit: unit}

	type record struct {
		day   time.Time
		value float64
	}
	records := make([]record, 0, len(days))
	for label, v := range days {
		day, err := time.ParseInLocation("02/01/2006", label, models.BruneiTZ)
		if err != nil {
			continue
		}
		records = append(records, record{day: day, value: v})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].day.Before(records[j].day) })

	for _, r := range records {
		series.Append(models.ConsumptionEntry{Start: r.day, Value: r.value, Unit: unit})
	}
	return series
}

func (a *Account) intervals() cache.Intervals {
	return cache.Intervals{Refresh: a.opts.refreshInterval, Check: a.opts.checkInterval}
}

func mergeWindow(dst *models.ConsumptionSeries, src models.ConsumptionSeries, from, to time.Time) {
	if dst.Unit == "" {
		dst.Unit = src.Unit
		dst.Granularity = src.Granularity
	}
	window := models.ConsumptionSeries{}
	for _, e := range src.Entries {
		if e.Start.Before(from) || e.Start.After(to) {
			continue
		}
		window.Append(e)
	}
	dst.Merge(window)
}

func validateRange(from, to time.Time) error {
	if from.After(to) {
		return fmt.Errorf("invalid range: %s is after %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	if now := time.Now().In(models.BruneiTZ); from.After(now) {
		return fmt.Errorf("%s is in the future", from.Format("2006-01-02"))
	}
	return nil
}

func dayStart(t time.Time) time.Time {
	t = t.In(models.BruneiTZ)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, models.BruneiTZ)
}

func monthStart(t time.Time) time.Time {
	t = t.In(models.BruneiTZ)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, models.BruneiTZ)
}
