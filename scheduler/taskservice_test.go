package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskServiceOneShotRunsOnNextReadyCycle(t *testing.T) {
	r := NewRegistrar()
	ts, d := NewTaskService("tasks")
	require.NoError(t, r.Register(d))
	require.NoError(t, r.Initialize())

	var ran int32
	ts.Submit(func() { atomic.AddInt32(&ran, 1) })

	n, err := r.Execute()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	assert.False(t, d.IsReady(), "delegate with no remaining work and no intervals goes back to sleep")
}

func TestTaskServiceSubmitFromOffThreadIsObserved(t *testing.T) {
	r := NewRegistrar()
	ts, d := NewTaskService("tasks")
	require.NoError(t, r.Register(d))
	require.NoError(t, r.Initialize())

	var wg sync.WaitGroup
	var ran int32
	wg.Add(1)
	go func() {
		defer wg.Done()
		ts.Submit(func() { atomic.AddInt32(&ran, 1) })
	}()
	wg.Wait()

	require.True(t, r.AwaitTask(time.Second))
	n, err := r.Execute()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestTaskServiceIntervalFiresOnModuloMatch(t *testing.T) {
	r := NewRegistrar()
	ts, d := NewTaskService("tasks")
	require.NoError(t, r.Register(d))
	require.NoError(t, r.Initialize())

	var fired int32
	ts.SubmitInterval("heartbeat", 3, func() { atomic.AddInt32(&fired, 1) })

	for i := 0; i < 9; i++ {
		_, err := r.Execute()
		require.NoError(t, err)
	}
	// frames 3, 6, 9 -> three firings.
	assert.Equal(t, int32(3), atomic.LoadInt32(&fired))
}

func TestTaskServiceStaysReadyWhileIntervalRegistered(t *testing.T) {
	r := NewRegistrar()
	ts, d := NewTaskService("tasks")
	require.NoError(t, r.Register(d))
	require.NoError(t, r.Initialize())

	ts.SubmitInterval("tick", 5, func() {})

	for i := 0; i < 4; i++ {
		assert.True(t, d.IsReady(), "delegate must stay ready every cycle while an interval task exists")
		_, err := r.Execute()
		require.NoError(t, err)
	}
}

func TestTaskServiceCancelIntervalStopsFutureFirings(t *testing.T) {
	r := NewRegistrar()
	ts, d := NewTaskService("tasks")
	require.NoError(t, r.Register(d))
	require.NoError(t, r.Initialize())

	var fired int32
	ts.SubmitInterval("tick", 1, func() { atomic.AddInt32(&fired, 1) })

	_, err := r.Execute()
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))

	ts.CancelInterval("tick")

	_, err = r.Execute()
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired), "cancelled interval must not fire again")
}

func TestTaskServiceSubmitIntervalWithZeroIntervalIsIgnored(t *testing.T) {
	r := NewRegistrar()
	ts, d := NewTaskService("tasks")
	require.NoError(t, r.Register(d))
	require.NoError(t, r.Initialize())

	ts.SubmitInterval("never", 0, func() { t.Fatal("a zero interval must never fire") })

	_, err := r.Execute()
	require.NoError(t, err)
	assert.False(t, d.IsReady())
}

func TestTaskServicePendingOneShotReflectsQueueDepth(t *testing.T) {
	_, _ = NewTaskService("tasks")
	ts, _ := NewTaskService("tasks2")
	ts.Submit(func() {})
	ts.Submit(func() {})
	assert.Equal(t, 2, ts.PendingOneShot())
}
