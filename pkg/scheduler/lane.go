package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/ledgerwatch/pkg/log"
	"github.com/rs/zerolog"
)

// ErrLaneShutdown is returned by Submit, Schedule and ScheduleAtFixedRate
// once the lane has been shut down. Callers must treat it as a rejected
// submission, not a process-ending error.
var ErrLaneShutdown = errors.New("scheduler: lane is shut down")

// Task is a unit of work run on a Lane. Its context is cancelled by
// ShutdownNow for whichever task happens to be running when it is called;
// a task should check ctx.Err() at any natural suspension point.
type Task func(ctx context.Context) error

// Handle is returned by Submit and Schedule and lets a caller wait for the
// outcome of that one submission.
type Handle struct {
	resultCh chan error
}

// Wait blocks until the task completes, the lane drops it (shutdown), or
// ctx is done, whichever happens first.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case err, ok := <-h.resultCh:
		if !ok {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type taskItem struct {
	fn       Task
	resultCh chan error
}

// Lane is a single-worker serial executor: at most one task body runs at
// a time, and a fixed-rate task never overlaps itself — the next
// occurrence simply waits behind the queue until the current run finishes.
type Lane struct {
	logger zerolog.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []*taskItem
	timers     map[*time.Timer]struct{}
	shutdown   bool
	curCancel  context.CancelFunc
	workerDone chan struct{}
}

// New creates and starts a Lane. name is used for its component logger.
func New(name string) *Lane {
	l := &Lane{
		logger:     log.WithComponent(name),
		timers:     make(map[*time.Timer]struct{}),
		workerDone: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *Lane) run() {
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.shutdown {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.shutdown {
			l.mu.Unlock()
			close(l.workerDone)
			return
		}
		item := l.queue[0]
		l.queue = l.queue[1:]
		ctx, cancel := context.WithCancel(context.Background())
		l.curCancel = cancel
		l.mu.Unlock()

		err := l.execute(ctx, item)

		l.mu.Lock()
		l.curCancel = nil
		l.mu.Unlock()
		cancel()

		item.resultCh <- err
		close(item.resultCh)
	}
}

// execute runs a task body, converting a panic into an error so that one
// misbehaving task never takes down the lane (§4.1: "exceptions never
// terminate the lane").
func (l *Lane) execute(ctx context.Context, item *taskItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lane task panicked: %v", r)
			l.logger.Error().Interface("panic", r).Msg("task panicked")
		}
	}()
	return item.fn(ctx)
}

// Submit enqueues task to run as soon as the worker is free.
func (l *Lane) Submit(task Task) (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown {
		return nil, ErrLaneShutdown
	}
	item := &taskItem{fn: task, resultCh: make(chan error, 1)}
	l.queue = append(l.queue, item)
	l.cond.Signal()
	return &Handle{resultCh: item.resultCh}, nil
}

// Schedule enqueues task to run once, after delay.
func (l *Lane) Schedule(task Task, delay time.Duration) (*Handle, error) {
	if delay <= 0 {
		return l.Submit(task)
	}

	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return nil, ErrLaneShutdown
	}
	h := &Handle{resultCh: make(chan error, 1)}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		l.mu.Lock()
		delete(l.timers, timer)
		if l.shutdown {
			l.mu.Unlock()
			close(h.resultCh)
			return
		}
		item := &taskItem{fn: task, resultCh: h.resultCh}
		l.queue = append(l.queue, item)
		l.cond.Signal()
		l.mu.Unlock()
	})
	l.timers[timer] = struct{}{}
	l.mu.Unlock()
	return h, nil
}

// RecurringHandle represents a chain of fixed-rate occurrences scheduled
// by ScheduleAtFixedRate. Cancel stops future occurrences; it does not
// affect an occurrence already queued or running.
type RecurringHandle struct {
	lane   *Lane
	period time.Duration
	task   Task

	mu        sync.Mutex
	cancelled bool
	timer     *time.Timer
}

// Cancel stops scheduling further occurrences of this recurring task.
func (rh *RecurringHandle) Cancel() {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.cancelled = true
	if rh.timer != nil {
		rh.timer.Stop()
	}
}

func (rh *RecurringHandle) armNext(delay time.Duration, scheduledAt time.Time) {
	rh.mu.Lock()
	if rh.cancelled {
		rh.mu.Unlock()
		return
	}
	rh.timer = time.AfterFunc(delay, func() { rh.fire(scheduledAt) })
	rh.mu.Unlock()
}

// fire is invoked once per nominal occurrence. It schedules the *next*
// occurrence relative to this occurrence's own nominal start time — not
// relative to when the task body actually finishes — before submitting
// this occurrence to the lane. Overlap with a still-running previous
// occurrence is prevented by the lane's single-worker queue, not by this
// method: the submission simply waits.
func (rh *RecurringHandle) fire(scheduledAt time.Time) {
	rh.mu.Lock()
	cancelled := rh.cancelled
	rh.mu.Unlock()
	if cancelled {
		return
	}

	nextAt := scheduledAt.Add(rh.period)
	delay := time.Until(nextAt)
	if delay < 0 {
		delay = 0
	}
	rh.armNext(delay, nextAt)

	if _, err := rh.lane.Submit(rh.task); err != nil {
		rh.lane.logger.Warn().Err(err).Msg("recurring task rejected, lane is shut down")
		rh.Cancel()
	}
}

// ScheduleAtFixedRate runs task once after initialDelay, then every period
// thereafter, measured from each occurrence's nominal start rather than its
// end. A slow occurrence delays (but never skips) the next one.
func (l *Lane) ScheduleAtFixedRate(task Task, initialDelay, period time.Duration) (*RecurringHandle, error) {
	if l.IsShutdown() {
		return nil, ErrLaneShutdown
	}
	rh := &RecurringHandle{lane: l, period: period, task: task}
	rh.armNext(initialDelay, time.Now().Add(initialDelay))
	return rh, nil
}

// IsShutdown reports whether Shutdown or ShutdownNow has been called.
func (l *Lane) IsShutdown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shutdown
}

// Shutdown stops accepting new work and cancels Schedule timers that have
// not fired yet, but lets whatever is already queued or running finish.
// A ScheduleAtFixedRate chain ends at its next occurrence, which the lane
// rejects.
func (l *Lane) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown {
		return
	}
	l.shutdown = true
	for t := range l.timers {
		t.Stop()
	}
	l.timers = nil
	l.cond.Broadcast()
}

// ShutdownNow does everything Shutdown does, additionally interrupting
// whatever task is currently running (by cancelling its context) and
// discarding any task still waiting in the queue.
func (l *Lane) ShutdownNow() {
	l.mu.Lock()
	if !l.shutdown {
		l.shutdown = true
		for t := range l.timers {
			t.Stop()
		}
		l.timers = nil
	}
	dropped := l.queue
	l.queue = nil
	cancel := l.curCancel
	l.mu.Unlock()

	for _, item := range dropped {
		item.resultCh <- context.Canceled
		close(item.resultCh)
	}
	if cancel != nil {
		cancel()
	}
	l.cond.Broadcast()
}

// AwaitTermination blocks until the worker goroutine has exited (the queue
// is empty and the lane is shut down) or timeout elapses, whichever comes
// first. It returns true iff the lane terminated before the timeout.
func (l *Lane) AwaitTermination(timeout time.Duration) bool {
	select {
	case <-l.workerDone:
		return true
	case <-time.After(timeout):
		return false
	}
}
