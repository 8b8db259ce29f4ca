package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLane_SubmitRunsTask(t *testing.T) {
	l := New("test")
	defer l.ShutdownNow()

	var ran int32
	h, err := l.Submit(func(ctx context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestLane_SubmitPropagatesError(t *testing.T) {
	l := New("test")
	defer l.ShutdownNow()

	boom := assert.AnError
	h, err := l.Submit(func(ctx context.Context) error { return boom })
	require.NoError(t, err)
	assert.Equal(t, boom, h.Wait(context.Background()))
}

func TestLane_TasksNeverOverlap(t *testing.T) {
	l := New("test")
	defer l.ShutdownNow()

	var running int32
	var maxObserved int32
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		_, err := l.Submit(func(ctx context.Context) error {
			defer wg.Done()
			cur := atomic.AddInt32(&running, 1)
			for {
				max := atomic.LoadInt32(&maxObserved)
				if cur <= max || atomic.CompareAndSwapInt32(&maxObserved, max, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxObserved))
}

func TestLane_ScheduleRunsAfterDelay(t *testing.T) {
	l := New("test")
	defer l.ShutdownNow()

	start := time.Now()
	var elapsed time.Duration
	h, err := l.Schedule(func(ctx context.Context) error {
		elapsed = time.Since(start)
		return nil
	}, 30*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
}

func TestLane_ScheduleAtFixedRate_ArmsFromNominalStart(t *testing.T) {
	l := New("test")
	defer l.ShutdownNow()

	var mu sync.Mutex
	var fireTimes []time.Time

	rh, err := l.ScheduleAtFixedRate(func(ctx context.Context) error {
		mu.Lock()
		fireTimes = append(fireTimes, time.Now())
		n := len(fireTimes)
		mu.Unlock()
		if n == 1 {
			// First occurrence runs long; the second occurrence should
			// still be armed relative to the first's nominal start, not
			// its finish.
			time.Sleep(60 * time.Millisecond)
		}
		return nil
	}, 10*time.Millisecond, 40*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fireTimes) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	rh.Cancel()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(fireTimes), 3)
	// The second occurrence queues behind the overrunning first (no overlap
	// skip) and starts when it finishes (~70ms); the third keeps its
	// nominal slot (~90ms). Arming from each finish instead would put the
	// third at ~150ms, 140ms after the first.
	gap := fireTimes[2].Sub(fireTimes[0])
	assert.Less(t, gap, 100*time.Millisecond)
}

func TestLane_ScheduleAtFixedRate_CancelStopsFutureOccurrences(t *testing.T) {
	l := New("test")
	defer l.ShutdownNow()

	var count int32
	rh, err := l.ScheduleAtFixedRate(func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	}, 5*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) >= 1
	}, time.Second, time.Millisecond)

	rh.Cancel()
	time.Sleep(20 * time.Millisecond)
	observed := atomic.LoadInt32(&count)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, observed, atomic.LoadInt32(&count))
}

func TestLane_ShutdownRejectsNewSubmissions(t *testing.T) {
	l := New("test")
	l.Shutdown()
	_, err := l.Submit(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLaneShutdown)
}

func TestLane_ShutdownLetsQueuedTaskFinish(t *testing.T) {
	l := New("test")

	var ran int32
	h, err := l.Submit(func(ctx context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	})
	require.NoError(t, err)
	l.Shutdown()

	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	assert.True(t, l.AwaitTermination(time.Second))
}

func TestLane_ShutdownNowCancelsRunningTask(t *testing.T) {
	l := New("test")

	started := make(chan struct{})
	h, err := l.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	l.ShutdownNow()
	assert.Equal(t, context.Canceled, h.Wait(context.Background()))
	assert.True(t, l.AwaitTermination(time.Second))
}

func TestLane_ShutdownNowDropsQueuedTasks(t *testing.T) {
	l := New("test")

	block := make(chan struct{})
	_, err := l.Submit(func(ctx context.Context) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	var queuedRan int32
	h2, err := l.Submit(func(ctx context.Context) error {
		atomic.StoreInt32(&queuedRan, 1)
		return nil
	})
	require.NoError(t, err)

	l.ShutdownNow()
	close(block)

	assert.Equal(t, context.Canceled, h2.Wait(context.Background()))
	assert.Equal(t, int32(0), atomic.LoadInt32(&queuedRan))
}

func TestLane_PanicInTaskDoesNotKillLane(t *testing.T) {
	l := New("test")
	defer l.ShutdownNow()

	h1, err := l.Submit(func(ctx context.Context) error {
		panic("boom")
	})
	require.NoError(t, err)
	err1 := h1.Wait(context.Background())
	assert.Error(t, err1)

	var ranAfter int32
	h2, err := l.Submit(func(ctx context.Context) error {
		atomic.StoreInt32(&ranAfter, 1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, h2.Wait(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ranAfter))
}
