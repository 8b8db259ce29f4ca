package auditor

import (
	"context"
	"time"

	"github.com/cuemby/ledgerwatch/pkg/scheduler"
)

// shutdownSlice is how long Shutdown waits for graceful termination before
// escalating to a forced interrupt, repeating until termination completes
// or Shutdown's ctx is done (§4.5).
const shutdownSlice = 30 * time.Second

// Start is idempotent in effect but not re-entrant: calling it once the
// lane is already shut down is a no-op. It starts the cluster manager
// (fatal on failure: the Auditor cannot operate without membership
// visibility) and schedules the three periodic tasks.
func (s *State) Start(ctx context.Context) error {
	if s.bookieLane.IsShutdown() {
		return nil
	}

	if err := s.clusterManager.Start(ctx); err != nil {
		s.logger.Error().Err(err).Msg("cluster manager failed to start, shutting down")
		_ = s.SubmitShutdownTask()
		return err
	}
	s.clusterManager.EnableStats()

	if s.cfg.BookieAuditInterval == 0 {
		if _, err := s.bookieLane.Submit(s.runBookieAudit); err != nil {
			s.logger.Warn().Err(err).Msg("failed to submit initial bookie audit")
		}
	} else {
		if _, err := s.bookieLane.ScheduleAtFixedRate(s.runBookieAudit, 0, s.cfg.BookieAuditInterval); err != nil {
			s.logger.Warn().Err(err).Msg("failed to schedule bookie audit")
		}
	}

	if s.cfg.LedgerCheckInterval > 0 {
		if _, err := s.bookieLane.ScheduleAtFixedRate(s.runLedgerCheck, s.cfg.LedgerCheckInterval, s.cfg.LedgerCheckInterval); err != nil {
			s.logger.Warn().Err(err).Msg("failed to schedule ledger check")
		}
	}

	if s.cfg.URSnapshotInterval > 0 {
		if _, err := s.urLane.ScheduleAtFixedRate(s.runUnderReplicatedSnapshot, 0, s.cfg.URSnapshotInterval); err != nil {
			s.logger.Warn().Err(err).Msg("failed to schedule under-replication snapshot")
		}
	}

	return nil
}

// SubmitAuditTask enqueues a one-shot bookie audit onto bookieLane. It
// exists for external triggers (tests, membership-change hooks). If the
// lane is shut down it returns ErrAuditorShutdown without scheduling
// anything.
func (s *State) SubmitAuditTask() (*scheduler.Handle, error) {
	h, err := s.bookieLane.Submit(s.runBookieAudit)
	if err != nil {
		return nil, ErrAuditorShutdown
	}
	return h, nil
}

// SubmitShutdownTask is idempotent: if the lane is already shut down it
// is a no-op; otherwise it enqueues a task that performs the shutdown
// from inside a lane task, so no running audit ever observes a
// half-shut-down lane.
func (s *State) SubmitShutdownTask() error {
	if s.bookieLane.IsShutdown() {
		return nil
	}
	_, err := s.bookieLane.Submit(func(ctx context.Context) error {
		s.doShutdown()
		return nil
	})
	if err != nil {
		// Lane was shut down concurrently between the check above and
		// this submission; the shutdown this call wanted has already
		// happened (or is happening) by another path.
		return nil
	}
	return nil
}

// Shutdown requests shutdown and waits for it, in shutdownSlice slices,
// escalating to a cooperative interrupt (ShutdownNow) on both lanes if a
// slice elapses without termination. If ctx is done when a slice elapses,
// it interrupts both lanes and returns without waiting further.
func (s *State) Shutdown(ctx context.Context) {
	if err := s.SubmitShutdownTask(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to submit shutdown task")
	}

	for {
		if s.bookieLane.AwaitTermination(shutdownSlice) {
			return
		}
		select {
		case <-ctx.Done():
			s.bookieLane.ShutdownNow()
			s.urLane.ShutdownNow()
			return
		default:
		}
		s.logger.Warn().Msg("bookie lane did not terminate within a slice, escalating to forced shutdown")
		s.bookieLane.ShutdownNow()
		s.urLane.ShutdownNow()
	}
}

// doShutdown performs the actual teardown, run as a lane task so it is
// totally ordered with respect to in-flight audits (§4.5).
func (s *State) doShutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.mu.Unlock()

	s.urLane.Shutdown()
	s.bookieLane.Shutdown()

	if s.cfg.OwnsClusterManager {
		if err := s.clusterManager.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close self-constructed cluster manager")
		}
	}
}

// IsRunning returns !bookieLane.IsShutdown().
func (s *State) IsRunning() bool {
	return !s.bookieLane.IsShutdown()
}
