// Package pipeline defines operations as sequences of suspend-capable
// steps. One sequence describes the business logic exactly once; a
// blocking driver (Run) and a cooperative driver (Scheduler) execute the
// same sequence, so both call surfaces share one behavioral core.
package pipeline

import (
	"context"
	"errors"
)

// Stop is returned by a step to finish the sequence early and
// successfully, e.g. when a freshness check decides no fetch is needed.
var Stop = errors.New("pipeline: stop")

// Step is one unit of an operation. A step runs to completion once
// started; drivers only suspend or cancel between steps, so a step that
// mutates shared state must leave it consistent before returning.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Sequence is an ordered operation pipeline.
type Sequence struct {
	Name  string
	Steps []Step
}

// Run executes the sequence to completion on the calling goroutine,
// blocking on I/O inside each step. The context is checked at every step
// boundary; cancellation between steps aborts without running the next
// step.
func Run(ctx context.Context, seq Sequence) error {
	for _, step := range seq.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.Run(ctx); err != nil {
			if errors.Is(err, Stop) {
				return nil
			}
			return err
		}
	}
	return nil
}
