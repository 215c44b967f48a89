package queue

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m, err := NewManager(db, "relay", time.Hour, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestQueue_DequeueOrderedByScore(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, "job_c", 3, 0))
	require.NoError(t, m.Enqueue(ctx, "job_a", 1, 0))
	require.NoError(t, m.Enqueue(ctx, "job_b", 2, 0))

	for _, expected := range []string{"job_a", "job_b", "job_c"} {
		jobID, err := m.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, expected, jobID)
	}

	_, err := m.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestQueue_DelayedJobNotDue(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, "job_later", 0, time.Hour))

	_, err := m.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrNoJob)

	length, err := m.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func TestQueue_DueDelayedJobDequeues(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// A zero delay scores by priority, which is always due
	require.NoError(t, m.Enqueue(ctx, "job_now", 0, 0))

	jobID, err := m.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_now", jobID)
}

func TestQueue_ReenqueueReplacesScore(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, "job_x", 0, time.Hour))
	require.NoError(t, m.Enqueue(ctx, "job_x", 1, 0))

	length, err := m.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	// The second enqueue made it immediately due
	jobID, err := m.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_x", jobID)

	_, err = m.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestQueue_RemoveDropsEntry(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, "job_x", 1, 0))
	require.NoError(t, m.Remove(ctx, "job_x"))

	length, err := m.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, length)

	_, err = m.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestQueue_RemoveMissingIsNoop(t *testing.T) {
	m := newTestManager(t)
	assert.NoError(t, m.Remove(context.Background(), "job_never_queued"))
}

func TestQueue_EnqueueRejectsNegativeScore(t *testing.T) {
	m := newTestManager(t)
	err := m.Enqueue(context.Background(), "job_x", -1, 0)
	assert.Error(t, err)
}

func TestCounters_IncrementAndDecrement(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	value, err := m.IncrCounter(ctx, "ep_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)

	value, err = m.IncrCounter(ctx, "ep_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), value)

	value, err = m.GetCounter(ctx, "ep_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), value)

	value, err = m.DecrCounter(ctx, "ep_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)
}

func TestCounters_ClampAtZero(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	value, err := m.DecrCounter(ctx, "ep_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), value)

	value, err = m.GetCounter(ctx, "ep_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), value)
}

func TestCounters_MissingReadsZero(t *testing.T) {
	m := newTestManager(t)

	value, err := m.GetCounter(context.Background(), "ep_unseen")
	require.NoError(t, err)
	assert.Equal(t, int64(0), value)
}

func TestCounters_ResetClears(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.IncrCounter(ctx, "ep_1")
	require.NoError(t, err)
	require.NoError(t, m.ResetCounter(ctx, "ep_1"))

	value, err := m.GetCounter(ctx, "ep_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), value)
}

func TestCounters_IndependentPerEndpoint(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.IncrCounter(ctx, "ep_1")
	require.NoError(t, err)

	value, err := m.GetCounter(ctx, "ep_2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), value)
}

func TestJobStatus_RoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	status := map[string]interface{}{
		"id":     "job_1",
		"status": "completed",
	}
	require.NoError(t, m.SetJobStatus(ctx, "job_1", status))

	var loaded map[string]interface{}
	require.NoError(t, m.GetJobStatus(ctx, "job_1", &loaded))
	assert.Equal(t, "completed", loaded["status"])
}

func TestJobStatus_MissingReturnsErrNoJob(t *testing.T) {
	m := newTestManager(t)

	var loaded map[string]interface{}
	err := m.GetJobStatus(context.Background(), "job_unseen", &loaded)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestJobStatus_DeleteDropsEntry(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetJobStatus(ctx, "job_1", map[string]string{"status": "running"}))
	require.NoError(t, m.DeleteJobStatus(ctx, "job_1"))

	var loaded map[string]string
	err := m.GetJobStatus(ctx, "job_1", &loaded)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestPubSub_PublishReachesSubscriber(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	ch, cancel := m.Subscribe("job_status")
	defer cancel()

	require.NoError(t, m.Publish(ctx, "job_status", map[string]string{"id": "job_1"}))

	select {
	case data := <-ch:
		assert.Contains(t, string(data), "job_1")
	case <-time.After(time.Second):
		t.Fatal("expected a published event")
	}
}

func TestPubSub_CancelStopsDelivery(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	ch, cancel := m.Subscribe("job_status")
	cancel()

	require.NoError(t, m.Publish(ctx, "job_status", map[string]string{"id": "job_1"}))

	_, open := <-ch
	assert.False(t, open)
}

func TestEncodeScore_PreservesOrder(t *testing.T) {
	low := encodeScore(1)
	mid := encodeScore(5)
	high := encodeScore(1756000000)

	assert.Less(t, low, mid)
	assert.Less(t, mid, high)
}
