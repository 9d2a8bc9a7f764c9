package pipeline

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Scheduler executes submitted sequences cooperatively on a single
// goroutine. It round-robins one step at a time across pending
// operations, so logical operations interleave at I/O boundaries without
// ever running concurrently. Because only the scheduler goroutine touches
// client state, interleaved operations on one client are safe without
// external locking.
type Scheduler struct {
	submit chan *task
	stop   chan struct{}
	done   chan struct{}
	logger *logrus.Logger
}

type task struct {
	ctx  context.Context
	seq  Sequence
	next int
	err  error
	done chan struct{}
}

// Handle tracks a submitted operation.
type Handle struct {
	t *task
}

// NewScheduler starts the scheduler goroutine.
func NewScheduler(logger *logrus.Logger) *Scheduler {
	s := &Scheduler{
		submit: make(chan *task),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.loop()
	return s
}

// Submit queues a sequence for cooperative execution. The returned handle
// reports completion. Cancelling ctx aborts the operation before its next
// step; steps already completed are not rolled back, which is why
// sequences defer shared-state commits to their final step.
func (s *Scheduler) Submit(ctx context.Context, seq Sequence) *Handle {
	t := &task{ctx: ctx, seq: seq, done: make(chan struct{})}
	select {
	case s.submit <- t:
	case <-s.done:
		t.err = errors.New("pipeline: scheduler closed")
		close(t.done)
	}
	return &Handle{t: t}
}

// Close stops the scheduler after the current step finishes. Pending
// operations fail with a cancellation error.
func (s *Scheduler) Close() {
	select {
	case <-s.done:
	default:
		close(s.stop)
		<-s.done
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)

	var runnable []*task
	for {
		if len(runnable) == 0 {
			select {
			case t := <-s.submit:
				runnable = append(runnable, t)
			case <-s.stop:
				return
			}
		}

		// Drain any newly submitted work so it joins the rotation.
		for {
			select {
			case t := <-s.submit:
				runnable = append(runnable, t)
				continue
			case <-s.stop:
				for _, t := range runnable {
					t.finish(errors.New("pipeline: scheduler closed"))
				}
				return
			default:
			}
			break
		}

		t := runnable[0]
		runnable = runnable[1:]

		if err := t.ctx.Err(); err != nil {
			t.finish(err)
			continue
		}

		step := t.seq.Steps[t.next]
		s.logger.WithFields(logrus.Fields{
			"operation": t.seq.Name,
			"step":      step.Name,
		}).Debug("running step")

		err := step.Run(t.ctx)
		switch {
		case errors.Is(err, Stop):
			t.finish(nil)
		case err != nil:
			t.finish(err)
		default:
			t.next++
			if t.next >= len(t.seq.Steps) {
				t.finish(nil)
			} else {
				runnable = append(runnable, t)
			}
		}
	}
}

func (t *task) finish(err error) {
	t.err = err
	close(t.done)
}

// Done is closed when the operation has finished or been cancelled.
func (h *Handle) Done() <-chan struct{} {
	return h.t.done
}

// Err returns the operation outcome. Only valid after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.t.done:
		return h.t.err
	default:
		return errors.New("pipeline: operation still running")
	}
}

// Wait blocks until the operation finishes or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.t.done:
		return h.t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
