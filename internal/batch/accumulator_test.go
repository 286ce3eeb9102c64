package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssw-egress-sink/pkg/sinkcore"
)

type testEvent struct {
	size int
	fin  *testFinalizer
}

func (e testEvent) Finalizer() sinkcore.Finalizer { return e.fin }
func (e testEvent) EncodedLen() int               { return e.size }

type testFinalizer struct {
	status sinkcore.Status
	set    bool
}

func (f *testFinalizer) UpdateStatus(status sinkcore.Status) {
	f.status = status
	f.set = true
}

func countingEncoder(events []sinkcore.Event) (any, int) {
	total := 0
	for _, ev := range events {
		total += ev.EncodedLen()
	}
	return len(events), total
}

// R2: Fresh() yields an empty, non-full batch.
func TestAccumulator_FreshIsEmptyAndNotFull(t *testing.T) {
	a := New(Limits{MaxEvents: 2}, countingEncoder)
	fresh := a.Fresh()
	assert.True(t, fresh.IsEmpty())
	assert.False(t, fresh.WasFull())
	assert.Equal(t, 0, fresh.NumItems())
}

// R1: push-then-overflow leaves the batch unchanged and returns the event.
func TestAccumulator_OverflowLeavesBatchUnchanged(t *testing.T) {
	a := New(Limits{MaxEvents: 1}, countingEncoder)
	ev1 := testEvent{size: 1, fin: &testFinalizer{}}
	ev2 := testEvent{size: 1, fin: &testFinalizer{}}

	require.Equal(t, sinkcore.Fits, a.Push(ev1))
	assert.Equal(t, 1, a.NumItems())

	result := a.Push(ev2)
	assert.True(t, result.Overflowed)
	assert.Equal(t, ev2, result.Rejected)
	assert.Equal(t, 1, a.NumItems(), "batch must be unchanged after overflow")
	assert.True(t, a.WasFull())
}

// B1: max_events=1 means the batch is full after exactly one push.
func TestAccumulator_MaxEventsOneFullsImmediately(t *testing.T) {
	a := New(Limits{MaxEvents: 1}, countingEncoder)
	ev := testEvent{size: 1, fin: &testFinalizer{}}
	require.Equal(t, sinkcore.Fits, a.Push(ev))
	assert.True(t, a.WasFull())
}

func TestAccumulator_EmptyBatchNeverReportsFull(t *testing.T) {
	a := New(Limits{MaxEvents: 4}, countingEncoder)
	assert.False(t, a.WasFull())
}

func TestAccumulator_ByteLimitOverflows(t *testing.T) {
	a := New(Limits{MaxEvents: 100, MaxBytes: 10}, countingEncoder)
	require.Equal(t, sinkcore.Fits, a.Push(testEvent{size: 8, fin: &testFinalizer{}}))
	result := a.Push(testEvent{size: 8, fin: &testFinalizer{}})
	assert.True(t, result.Overflowed)
}

func TestAccumulator_FirstEventAlwaysAcceptedRegardlessOfSize(t *testing.T) {
	a := New(Limits{MaxEvents: 100, MaxBytes: 1}, countingEncoder)
	result := a.Push(testEvent{size: 999, fin: &testFinalizer{}})
	assert.False(t, result.Overflowed, "a zero-item batch must accept its first event regardless of size")
}

// P2: Finish's aggregate finalizer propagates one status to every event in
// the batch.
func TestAccumulator_FinishPropagatesStatusToAllEvents(t *testing.T) {
	a := New(Limits{MaxEvents: 3}, countingEncoder)
	f1, f2, f3 := &testFinalizer{}, &testFinalizer{}, &testFinalizer{}
	require.Equal(t, sinkcore.Fits, a.Push(testEvent{size: 1, fin: f1}))
	require.Equal(t, sinkcore.Fits, a.Push(testEvent{size: 1, fin: f2}))
	require.Equal(t, sinkcore.Fits, a.Push(testEvent{size: 1, fin: f3}))

	eb := a.Finish()
	assert.Equal(t, 3, eb.NumItems)

	eb.Finalizer.UpdateStatus(sinkcore.Delivered)
	assert.True(t, f1.set)
	assert.Equal(t, sinkcore.Delivered, f1.status)
	assert.Equal(t, sinkcore.Delivered, f2.status)
	assert.Equal(t, sinkcore.Delivered, f3.status)
}
