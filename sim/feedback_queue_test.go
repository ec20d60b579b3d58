package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedbackQueue_ReleasesInTimeOrder(t *testing.T) {
	// GIVEN entries enqueued out of arrival order
	q := NewFeedbackQueue(1000)
	require.NoError(t, q.Enqueue(1, 0, 50))
	require.NoError(t, q.Enqueue(2, 10, 20))
	require.NoError(t, q.Enqueue(3, 10, 50))
	require.NoError(t, q.Enqueue(4, 30, 30))

	// WHEN advancing past all of them
	out, err := q.AdvanceTo(100)
	require.NoError(t, err)

	// THEN they come out by time, then seq
	require.Len(t, out, 4)
	var seqs []int64
	for i, r := range out {
		seqs = append(seqs, r.Seq)
		if i > 0 {
			assert.LessOrEqual(t, out[i-1].Time, r.Time)
		}
	}
	assert.Equal(t, []int64{2, 4, 1, 3}, seqs)
	assert.Equal(t, 0, q.Len())
}

func TestFeedbackQueue_AdvanceToIsIdempotent(t *testing.T) {
	q := NewFeedbackQueue(1000)
	require.NoError(t, q.Enqueue(1, 0, 10))
	require.NoError(t, q.Enqueue(2, 0, 30))

	first, err := q.AdvanceTo(20)
	require.NoError(t, err)
	second, err := q.AdvanceTo(20)
	require.NoError(t, err)

	assert.Len(t, first, 1)
	assert.Empty(t, second, "same time releases nothing new")

	// A new entry due at the current time is released by the next call
	require.NoError(t, q.Enqueue(3, 20, 20))
	third, err := q.AdvanceTo(20)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, int64(3), third[0].Seq)
}

func TestFeedbackQueue_CensorsLateAndUnresolved(t *testing.T) {
	// GIVEN a maximum wait of 100 ticks
	q := NewFeedbackQueue(100)
	require.NoError(t, q.Enqueue(1, 0, 500))       // arrives too late
	require.NoError(t, q.Enqueue(2, 0, 100))       // exactly at the limit: not censored
	require.NoError(t, q.EnqueueUnresolved(3, 50)) // never arrives

	// WHEN time passes the censoring deadlines
	out, err := q.AdvanceTo(1000)
	require.NoError(t, err)

	// THEN late and missing outcomes are released at decidedAt+maxWait, censored
	require.Len(t, out, 3)
	assert.Equal(t, Release{Seq: 1, DecidedAt: 0, Time: 100, Censored: true}, out[0])
	assert.Equal(t, Release{Seq: 2, DecidedAt: 0, Time: 100, Censored: false}, out[1])
	assert.Equal(t, Release{Seq: 3, DecidedAt: 50, Time: 150, Censored: true}, out[2])
}

func TestFeedbackQueue_RejectsDecreasingTime(t *testing.T) {
	q := NewFeedbackQueue(100)
	_, err := q.AdvanceTo(50)
	require.NoError(t, err)

	_, err = q.AdvanceTo(49)

	var regress *ClockRegressionError
	require.True(t, errors.As(err, &regress))
	assert.Equal(t, int64(49), regress.Now)
	assert.Equal(t, int64(50), regress.Last)
	assert.True(t, IsStructural(err))
}

func TestFeedbackQueue_RejectsArrivalBeforeDecision(t *testing.T) {
	q := NewFeedbackQueue(100)
	err := q.Enqueue(7, 10, 5)

	var early *FeedbackBeforeDecisionError
	require.True(t, errors.As(err, &early))
	assert.Equal(t, int64(7), early.Seq)
	assert.Equal(t, 0, q.Len())
}

func TestFeedbackQueue_DrainAndPeek(t *testing.T) {
	q := NewFeedbackQueue(100)
	_, ok := q.Peek()
	assert.False(t, ok)

	require.NoError(t, q.Enqueue(1, 0, 40))
	require.NoError(t, q.EnqueueUnresolved(2, 10))
	next, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, int64(1), next.Seq)

	out, err := q.Drain()
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, int64(110), q.Clock())

	out, err = q.Drain()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFeedbackQueue_RejectsEntryDueBeforeClock(t *testing.T) {
	// GIVEN a queue advanced to 100
	q := NewFeedbackQueue(1000)
	require.NoError(t, q.Enqueue(1, 0, 150))
	_, err := q.AdvanceTo(100)
	require.NoError(t, err)

	// WHEN entries due before 100 are enqueued
	lateArrival := q.Enqueue(2, 10, 20)
	lateDeadline := NewFeedbackQueue(50)
	_, err = lateDeadline.AdvanceTo(100)
	require.NoError(t, err)
	lateUnresolved := lateDeadline.EnqueueUnresolved(3, 10)

	// THEN both are rejected and the queue is unchanged
	for _, err := range []error{lateArrival, lateUnresolved} {
		var regress *ClockRegressionError
		require.True(t, errors.As(err, &regress), "got %v", err)
		assert.Equal(t, int64(100), regress.Last)
		assert.True(t, IsStructural(err))
	}
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 0, lateDeadline.Len())

	// AND an entry due exactly at the clock is still accepted, then released in order
	require.NoError(t, q.Enqueue(4, 100, 100))
	out, err := q.AdvanceTo(200)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []int64{4, 1}, []int64{out[0].Seq, out[1].Seq})
}

func TestNewFeedbackQueue_PanicsOnNonPositiveWait(t *testing.T) {
	assert.Panics(t, func() { NewFeedbackQueue(0) })
}
