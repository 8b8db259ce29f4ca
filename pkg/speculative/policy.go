package speculative

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cuemby/ledgerwatch/pkg/log"
	"github.com/cuemby/ledgerwatch/pkg/metrics"
	"github.com/cuemby/ledgerwatch/pkg/scheduler"
)

// ErrPolicyOverflow is returned by NewPolicy when maxTimeout * multiplier
// would overflow the range of a time.Duration (an int64 count of
// nanoseconds).
var ErrPolicyOverflow = errors.New("speculative: maxTimeout * multiplier overflows time.Duration")

// Result is the outcome of one speculative request: Satisfied true makes
// the chain schedule another speculative request, false ends the chain;
// Err carries a failed future, which also ends the chain.
type Result struct {
	Satisfied bool
	Err       error
}

// RequestExecutor issues one speculative request and resolves it
// asynchronously. The returned channel receives exactly one Result and is
// never written to again.
type RequestExecutor interface {
	IssueSpeculativeRequest() <-chan Result
}

// Scheduler is the minimal scheduling surface a Policy chain needs;
// *scheduler.Lane satisfies it.
type Scheduler interface {
	Schedule(task scheduler.Task, delay time.Duration) (*scheduler.Handle, error)
}

// Policy describes a hedge-request backoff: the first request fires after
// firstTimeout; each subsequent one fires after min(maxTimeout, previous
// delay * multiplier).
type Policy struct {
	firstTimeout time.Duration
	maxTimeout   time.Duration
	multiplier   int64
}

// NewPolicy validates and builds a Policy. multiplier must be >= 1;
// construction fails if maxTimeout * multiplier would overflow.
func NewPolicy(firstTimeout, maxTimeout time.Duration, multiplier int) (*Policy, error) {
	if multiplier < 1 {
		return nil, fmt.Errorf("speculative: multiplier must be >= 1, got %d", multiplier)
	}
	if maxTimeout > 0 && int64(multiplier) > math.MaxInt64/int64(maxTimeout) {
		return nil, ErrPolicyOverflow
	}
	return &Policy{
		firstTimeout: firstTimeout,
		maxTimeout:   maxTimeout,
		multiplier:   int64(multiplier),
	}, nil
}

// Initiate starts a new self-rescheduling hedge-request chain: the first
// request is scheduled firstTimeout in the future on sched. Initiate
// returns immediately; the chain continues on its own until the executor
// returns false, the future fails, or a submission is rejected.
func (p *Policy) Initiate(sched Scheduler, executor RequestExecutor) {
	c := &chain{
		policy:    p,
		sched:     sched,
		executor:  executor,
		lastDelay: p.firstTimeout,
	}
	c.scheduleNext(p.firstTimeout)
}

// chain is one run of a Policy's state machine: Idle -> Scheduled ->
// Firing -> (Scheduled | Terminated). Terminated is absorbing; sched and
// executor are nilled out on entry to it so nothing downstream of the
// chain is kept alive by a dead chain.
type chain struct {
	policy    *Policy
	sched     Scheduler
	executor  RequestExecutor
	lastDelay time.Duration
}

func (c *chain) scheduleNext(delay time.Duration) {
	sched := c.sched
	if sched == nil {
		return
	}
	if _, err := sched.Schedule(c.fire, delay); err != nil {
		// Submission rejected (lane shut down): log and stop per §4.6.
		log.WithComponent("speculative").Warn().Err(err).Msg("speculative request submission rejected, stopping chain")
		c.terminate()
	}
}

// fire is the scheduled lane task. It issues the speculative request and
// returns immediately — the chain's continuation runs on whatever thread
// resolves the returned future, which may not be a lane thread at all.
func (c *chain) fire(ctx context.Context) error {
	executor := c.executor
	if executor == nil {
		return nil
	}
	metrics.SpeculativeRequestsIssuedTotal.Inc()
	resultCh := executor.IssueSpeculativeRequest()
	go c.awaitResult(resultCh)
	return nil
}

// awaitResult is the future's completion handler (I2). It must tolerate
// running on any thread and be idempotent with respect to a chain that
// has already terminated.
func (c *chain) awaitResult(resultCh <-chan Result) {
	res, ok := <-resultCh
	if !ok || res.Err != nil || !res.Satisfied {
		c.terminate()
		return
	}
	c.scheduleNext(c.advanceDelay())
}

// advanceDelay computes and records the next delay: min(maxTimeout,
// lastDelay * multiplier). Once a delay reaches maxTimeout it stays there,
// since multiplier >= 1.
func (c *chain) advanceDelay() time.Duration {
	next := c.lastDelay * time.Duration(c.policy.multiplier)
	if c.policy.maxTimeout > 0 && (next > c.policy.maxTimeout || next < 0) {
		next = c.policy.maxTimeout
	}
	c.lastDelay = next
	return next
}

func (c *chain) terminate() {
	c.sched = nil
	c.executor = nil
}
