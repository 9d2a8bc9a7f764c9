package usms

import (
	"context"
	"time"

	"github.com/smartmeterbn/usms/internal/pipeline"
	"github.com/smartmeterbn/usms/pkg/models"
)

// AsyncAccount is the cooperative façade over an Account. Operations are
// submitted to a single scheduler goroutine that interleaves them one
// step at a time, yielding at every I/O boundary. Because all operations
// run on that one goroutine, concurrent logical operations on the same
// client are safe without external locking, and cancelling a pending
// operation aborts it before its next step with no partial cache writes.
type AsyncAccount struct {
	account *Account
	sched   *pipeline.Scheduler
}

// Future is the pending result of a cooperative operation. Both façades
// run the same step sequence, so waiting on a Future yields exactly what
// the blocking call would have returned.
type Future[T any] struct {
	handle *pipeline.Handle
	out    *T
}

// Done is closed when the operation has finished or been cancelled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.handle.Done()
}

// Wait blocks until the operation finishes or ctx is cancelled. On a
// refresh failure the value may still carry the last cached data
// alongside the error, mirroring the blocking façade.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	err := f.handle.Wait(ctx)
	return *f.out, err
}

func submit[T any](aa *AsyncAccount, ctx context.Context, seq pipeline.Sequence, out *T) *Future[T] {
	return &Future[T]{handle: aa.sched.Submit(ctx, seq), out: out}
}

// Initialize logs in and discovers meters, cooperatively.
func (aa *AsyncAccount) Initialize(ctx context.Context) *Future[struct{}] {
	out := new(struct{})
	return submit(aa, ctx, aa.account.initializeOp(), out)
}

// Info returns the account details fetched at initialization.
func (aa *AsyncAccount) Info() (models.AccountInfo, error) {
	return aa.account.Info()
}

// Meters returns the cooperative handles for the account's meters.
func (aa *AsyncAccount) Meters() ([]*AsyncMeter, error) {
	meters, err := aa.account.Meters()
	if err != nil {
		return nil, err
	}
	async := make([]*AsyncMeter, len(meters))
	for i, m := range meters {
		async[i] = &AsyncMeter{meter: m, aa: aa}
	}
	return async, nil
}

// Meter finds a cooperative meter handle by meter number.
func (aa *AsyncAccount) Meter(no string) (*AsyncMeter, error) {
	m, err := aa.account.Meter(no)
	if err != nil {
		return nil, err
	}
	return &AsyncMeter{meter: m, aa: aa}, nil
}

// AsyncMeter is the cooperative façade over a Meter.
type AsyncMeter struct {
	meter *Meter
	aa    *AsyncAccount
}

// Handle returns the meter's immutable identity.
func (am *AsyncMeter) Handle() models.MeterHandle { return am.meter.Handle() }

// No returns the meter number.
func (am *AsyncMeter) No() string { return am.meter.No() }

// Instantaneous fetches the current reading cooperatively.
func (am *AsyncMeter) Instantaneous(ctx context.Context) *Future[models.Reading] {
	out := new(models.Reading)
	return submit(am.aa, ctx, am.meter.instantaneousOp(out, false), out)
}

// ForceRefresh fetches a fresh reading, bypassing freshness intervals.
func (am *AsyncMeter) ForceRefresh(ctx context.Context) *Future[models.Reading] {
	out := new(models.Reading)
	return submit(am.aa, ctx, am.meter.instantaneousOp(out, true), out)
}

// HourlyConsumption fetches hourly consumption cooperatively, one day
// per scheduler step.
func (am *AsyncMeter) HourlyConsumption(ctx context.Context, from, to time.Time) *Future[models.ConsumptionSeries] {
	out := new(models.ConsumptionSeries)
	return submit(am.aa, ctx, am.meter.hourlyOp(out, from, to), out)
}

// DailyConsumption fetches daily consumption cooperatively, one month
// per scheduler step.
func (am *AsyncMeter) DailyConsumption(ctx context.Context, from, to time.Time) *Future[models.ConsumptionSeries] {
	out := new(models.ConsumptionSeries)
	return submit(am.aa, ctx, am.meter.dailyOp(out, from, to), out)
}
