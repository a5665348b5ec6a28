package training

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d, hour int) time.Time {
	return time.Date(2024, 1, d, hour, 0, 0, 0, time.UTC)
}

func TestPreprocess(t *testing.T) {
	ds := &Dataset{
		Clickstream: []Interaction{
			{Cookie: 1, Node: 10, Event: 100, EventDate: day(1, 0)},
			{Cookie: 2, Node: 11, Event: 100, EventDate: day(2, 0)},
			{Cookie: 2, Node: 12, Event: 100, EventDate: day(4, 0)},  // on the threshold, trains
			{Cookie: 1, Node: 11, Event: 100, EventDate: day(4, 12)}, // kept
			{Cookie: 1, Node: 11, Event: 100, EventDate: day(5, 0)},  // duplicate pair
			{Cookie: 1, Node: 10, Event: 100, EventDate: day(5, 0)},  // already in train
			{Cookie: 2, Node: 10, Event: 101, EventDate: day(5, 0)},  // not a contact event
			{Cookie: 3, Node: 10, Event: 100, EventDate: day(5, 0)},  // unseen cookie
			{Cookie: 2, Node: 99, Event: 100, EventDate: day(5, 0)},  // unseen node
			{Cookie: 2, Node: 10, Event: 100, EventDate: day(5, 0)},  // kept
		},
		ContactEvents: map[int64]bool{100: true},
	}

	split, err := Preprocess(ds, 1)
	require.NoError(t, err)

	assert.Equal(t, day(4, 0), split.Threshold)
	assert.Len(t, split.Train, 3)
	assert.Equal(t, []Pair{{Cookie: 1, Node: 11}, {Cookie: 2, Node: 10}}, split.Eval)
}

func TestPreprocess_Empty(t *testing.T) {
	_, err := Preprocess(&Dataset{}, 14)
	require.ErrorIs(t, err, ErrEmptyDataset)
}

func TestPreprocess_NothingHeldOut(t *testing.T) {
	ds := &Dataset{
		Clickstream: []Interaction{
			{Cookie: 1, Node: 10, Event: 100, EventDate: day(1, 0)},
			{Cookie: 1, Node: 11, Event: 100, EventDate: day(1, 0)},
		},
		ContactEvents: map[int64]bool{100: true},
	}

	split, err := Preprocess(ds, 0)
	require.NoError(t, err)
	assert.Len(t, split.Train, 2)
	assert.Empty(t, split.Eval)
}
