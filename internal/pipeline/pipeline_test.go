package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(name string, trace *[]string, err error) Step {
	return Step{Name: name, Run: func(ctx context.Context) error {
		*trace = append(*trace, name)
		return err
	}}
}

func TestRunExecutesInOrder(t *testing.T) {
	var trace []string
	seq := Sequence{Name: "op", Steps: []Step{
		step("a", &trace, nil),
		step("b", &trace, nil),
		step("c", &trace, nil),
	}}

	require.NoError(t, Run(context.Background(), seq))
	assert.Equal(t, []string{"a", "b", "c"}, trace)
}

func TestRunStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	var trace []string
	seq := Sequence{Name: "op", Steps: []Step{
		step("a", &trace, nil),
		step("b", &trace, boom),
		step("c", &trace, nil),
	}}

	assert.ErrorIs(t, Run(context.Background(), seq), boom)
	assert.Equal(t, []string{"a", "b"}, trace)
}

func TestRunStopIsEarlySuccess(t *testing.T) {
	var trace []string
	seq := Sequence{Name: "op", Steps: []Step{
		step("a", &trace, nil),
		step("b", &trace, Stop),
		step("c", &trace, nil),
	}}

	assert.NoError(t, Run(context.Background(), seq))
	assert.Equal(t, []string{"a", "b"}, trace)
}

func TestRunChecksContextBetweenSteps(t *testing.T) {
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

	assert.ErrorIs(t, Run(ctx, seq), context.Canceled)
	assert.Equal(t, []string{"a"}, trace)
}
