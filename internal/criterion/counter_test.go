package criterion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedOracle struct {
	counts []int
	calls  []string
	err    error
}

func (o *scriptedOracle) CountMatching(_ context.Context, predicate string) (int, error) {
	o.calls = append(o.calls, predicate)
	if o.err != nil && len(o.calls) == len(o.counts) {
		return 0, o.err
	}
	return o.counts[len(o.calls)-1], nil
}

func TestTallyBookkeeping(t *testing.T) {
	list := []Instance{anchor(), step("even", OpIntersect), step("odd", OpUnion), step("even", OpSubtract)}
	oracle := &scriptedOracle{counts: []int{4, 9, 2, 7}}

	windows, maxEnd, err := Tally(context.Background(), oracle, list)
	require.NoError(t, err)
	assert.Equal(t, Prefixes(list), oracle.calls)
	assert.Equal(t, []Window{{4, 4}, {4, 9}, {9, 2}, {2, 7}}, windows)
	assert.Equal(t, 9, maxEnd)

	ApplyWindows(list, windows, maxEnd)
	for idx, inst := range list {
		assert.Equal(t, windows[idx].Start, inst.Start)
		assert.Equal(t, windows[idx].End, inst.End)
		assert.Equal(t, 9, inst.Max)
	}
}

func TestTallyStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	oracle := &scriptedOracle{counts: []int{3, 0}, err: boom}
	_, _, err := Tally(context.Background(), oracle, []Instance{anchor(), step("even", OpIntersect), step("odd", OpUnion)})
	require.ErrorIs(t, err, boom)
	assert.Len(t, oracle.calls, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	oracle = &scriptedOracle{counts: []int{1}}
	_, _, err = Tally(ctx, oracle, []Instance{anchor()})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, oracle.calls)
}

func TestTrackerInvalidatesOlderTokens(t *testing.T) {
	var tracker Tracker
	first := tracker.Current()
	assert.True(t, tracker.IsCurrent(first))

	second := tracker.Advance()
	assert.False(t, tracker.IsCurrent(first))
	assert.True(t, tracker.IsCurrent(second))
	assert.Equal(t, second, tracker.Current())
}
