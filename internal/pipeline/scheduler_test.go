package pipeline

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSchedulerRunsToCompletion(t *testing.T) {
	s := NewScheduler(testLogger())
	defer s.Close()

	var trace []string
	seq := Sequence{Name: "op", Steps: []Step{
		step("a", &trace, nil),
		step("b", &trace, nil),
	}}

	h := s.Submit(context.Background(), seq)
	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, []string{"a", "b"}, trace)
}

func TestSchedulerInterleavesOperations(t *testing.T) {
	s := NewScheduler(testLogger())
	defer s.Close()

	var mu sync.Mutex
	var trace []string
	record := func(name string) Step {
		return Step{Name: name, Run: func(ctx context.Context) error {
			mu.Lock()
			trace = append(trace, name)
			mu.Unlock()
			return nil
		}}
	}

	// The first step parks long enough for the second operation's
	// submission to be pending, so both join the rotation together.
	submitting := make(chan struct{})
	first := Sequence{Name: "first", Steps: []Step{
		{Name: "first-0", Run: func(ctx context.Context) error {
			<-submitting
			time.Sleep(100 * time.Millisecond)
			mu.Lock()
			trace = append(trace, "first-0")
			mu.Unlock()
			return nil
		}},
		record("first-1"),
		record("first-2"),
	}}
	second := Sequence{Name: "second", Steps: []Step{
		record("second-0"),
		record("second-1"),
	}}

	h1 := s.Submit(context.Background(), first)
	var h2 *Handle
	done := make(chan struct{})
	go func() {
		close(submitting)
		h2 = s.Submit(context.Background(), second)
		close(done)
	}()

	require.NoError(t, h1.Wait(context.Background()))
	<-done
	require.NoError(t, h2.Wait(context.Background()))

	// A step of the second operation ran before the first one finished.
	assert.Len(t, trace, 5)
	idx := func(name string) int {
		for i, s := range trace {
			if s == name {
				return i
			}
		}
		return -1
	}
	assert.Less(t, idx("second-0"), idx("first-2"))
}

func TestSchedulerCancelsBetweenSteps(t *testing.T) {
	s := NewScheduler(testLogger())
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())

	var trace []string
	seq := Sequence{Name: "op", Steps: []Step{
		{Name: "a", Run: func(ctx context.Context) error {
			trace = append(trace, "a")
			cancel()
			return nil
		}},
		step("b", &trace, nil),
	}}

	h := s.Submit(ctx, seq)
	assert.ErrorIs(t, h.Wait(context.Background()), context.Canceled)
	assert.Equal(t, []string{"a"}, trace)
}

func TestSchedulerStopSentinel(t *testing.T) {
	s := NewScheduler(testLogger())
	defer s.Close()

	var trace []string
	seq := Sequence{Name: "op", Steps: []Step{
		step("a", &trace, Stop),
		step("b", &trace, nil),
	}}

	h := s.Submit(context.Background(), seq)
	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, []string{"a"}, trace)
}

func TestSchedulerClosedRejectsSubmissions(t *testing.T) {
	s := NewScheduler(testLogger())
	s.Close()

	h := s.Submit(context.Background(), Sequence{Name: "op", Steps: []Step{
		{Name: "a", Run: func(ctx context.Context) error { return nil }},
	}})

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle never finished after scheduler close")
	}
	assert.Error(t, h.Err())
}

func TestHandleErrBeforeDone(t *testing.T) {
	s := NewScheduler(testLogger())
	defer s.Close()

	release := make(chan struct{})
	h := s.Submit(context.Background(), Sequence{Name: "op", Steps: []Step{
		{Name: "a", Run: func(ctx context.Context) error {
			<-release
			return nil
		}},
	}})

	assert.Error(t, h.Err())
	close(release)
	require.NoError(t, h.Wait(context.Background()))
	assert.NoError(t, h.Err())
}
