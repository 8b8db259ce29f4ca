package speculative

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ledgerwatch/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExecutor resolves IssueSpeculativeRequest with the next entry in
// results, one call at a time, and records the wall-clock time of each
// call so tests can infer the delay the chain actually scheduled.
type scriptedExecutor struct {
	mu       sync.Mutex
	results  []Result
	idx      int
	calledAt []time.Time
	done     chan struct{}
}

func newScriptedExecutor(results ...Result) *scriptedExecutor {
	return &scriptedExecutor{results: results, done: make(chan struct{})}
}

func (s *scriptedExecutor) IssueSpeculativeRequest() <-chan Result {
	ch := make(chan Result, 1)

	s.mu.Lock()
	i := s.idx
	s.idx++
	s.calledAt = append(s.calledAt, time.Now())
	last := i == len(s.results)-1
	var res Result
	if i < len(s.results) {
		res = s.results[i]
	} else {
		res = Result{Satisfied: false}
	}
	s.mu.Unlock()

	ch <- res
	if last {
		close(s.done)
	}
	return ch
}

func (s *scriptedExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calledAt)
}

// gaps returns the wall-clock intervals between successive calls, with
// the first call's interval measured from start.
func (s *scriptedExecutor) gaps(start time.Time) []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.calledAt))
	prev := start
	for i, ts := range s.calledAt {
		out[i] = ts.Sub(prev)
		prev = ts
	}
	return out
}

func TestNewPolicy_RejectsInvalidMultiplier(t *testing.T) {
	_, err := NewPolicy(100*time.Millisecond, 400*time.Millisecond, 0)
	assert.Error(t, err)
}

func TestNewPolicy_RejectsOverflow(t *testing.T) {
	_, err := NewPolicy(time.Millisecond, time.Duration(1<<62), 1<<10)
	assert.ErrorIs(t, err, ErrPolicyOverflow)
}

func TestNewPolicy_AcceptsValidPolicy(t *testing.T) {
	p, err := NewPolicy(100*time.Millisecond, 400*time.Millisecond, 2)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestChain_DelaysGrowAndCap(t *testing.T) {
	// first=10, max=40, multiplier=2, executor returns true for the first
	// four calls then false: observed gaps should track 10, 20, 40, 40, 40
	// (scaled down from the spec's 100/200/400/400/400 example to keep
	// the test fast).
	p, err := NewPolicy(10*time.Millisecond, 40*time.Millisecond, 2)
	require.NoError(t, err)

	exec := newScriptedExecutor(
		Result{Satisfied: true},
		Result{Satisfied: true},
		Result{Satisfied: true},
		Result{Satisfied: true},
		Result{Satisfied: false},
	)
	lane := scheduler.New("test-speculative")
	defer lane.ShutdownNow()

	start := time.Now()
	p.Initiate(lane, exec)
	select {
	case <-exec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("chain did not reach terminal state in time")
	}
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, 5, exec.callCount())
	gaps := exec.gaps(start)
	assertApprox(t, 10*time.Millisecond, gaps[0])
	assertApprox(t, 20*time.Millisecond, gaps[1])
	assertApprox(t, 40*time.Millisecond, gaps[2])
	assertApprox(t, 40*time.Millisecond, gaps[3])
	assertApprox(t, 40*time.Millisecond, gaps[4])
}

func TestChain_EarlyStopOnFalse(t *testing.T) {
	// first=10, max=40, multiplier=2, executor returns true, true, false:
	// only three calls ever happen; the chain must not schedule a fourth.
	p, err := NewPolicy(10*time.Millisecond, 40*time.Millisecond, 2)
	require.NoError(t, err)

	exec := newScriptedExecutor(
		Result{Satisfied: true},
		Result{Satisfied: true},
		Result{Satisfied: false},
	)
	lane := scheduler.New("test-speculative")
	defer lane.ShutdownNow()

	p.Initiate(lane, exec)
	select {
	case <-exec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("chain did not reach terminal state in time")
	}
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 3, exec.callCount())
}

func TestChain_StopsOnFutureFailure(t *testing.T) {
	p, err := NewPolicy(5*time.Millisecond, 40*time.Millisecond, 2)
	require.NoError(t, err)

	exec := newScriptedExecutor(Result{Err: errors.New("boom")})
	lane := scheduler.New("test-speculative")
	defer lane.ShutdownNow()

	p.Initiate(lane, exec)
	select {
	case <-exec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("chain did not reach terminal state in time")
	}
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, exec.callCount())
}

func TestChain_StopsOnRejectedSubmission(t *testing.T) {
	p, err := NewPolicy(10*time.Millisecond, 40*time.Millisecond, 2)
	require.NoError(t, err)

	exec := newScriptedExecutor(Result{Satisfied: true}, Result{Satisfied: true})
	lane := scheduler.New("test-speculative")

	p.Initiate(lane, exec)
	// Shut the lane down right after the first request is in flight so the
	// chain's second submission is rejected; the chain must stop quietly.
	require.Eventually(t, func() bool { return exec.callCount() >= 1 }, time.Second, time.Millisecond)
	lane.ShutdownNow()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, exec.callCount())
}

func assertApprox(t *testing.T, want, got time.Duration) {
	t.Helper()
	tolerance := 30 * time.Millisecond
	diff := want - got
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqualf(t, diff, tolerance, "want ~%v, got %v", want, got)
}
