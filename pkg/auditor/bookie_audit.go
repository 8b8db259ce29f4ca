package auditor

import (
	"context"
	"fmt"

	"github.com/cuemby/ledgerwatch/pkg/metrics"
	"github.com/cuemby/ledgerwatch/pkg/types"
	"github.com/google/uuid"
)

// runBookieAudit is one pass of "detect lost bookies and publish their
// ledgers as under-replicated" (§4.2). It is always invoked as a task body
// on bookieLane, so it never overlaps itself or a LedgerCheckCycle.
func (s *State) runBookieAudit(ctx context.Context) error {
	timer := metrics.NewTimer()
	outcome := "ok"
	cycleLogger := s.logger.With().Str("cycleID", uuid.New().String()).Logger()
	defer func() {
		timer.ObserveDuration(metrics.BookieAuditCycleDuration)
		metrics.BookieAuditCyclesTotal.WithLabelValues(outcome).Inc()
	}()

	// Step 1: gate on replication-enabled.
	enabled, err := s.urManager.IsLedgerReplicationEnabled(ctx)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("replication-enabled check failed, skipping cycle")
		outcome = "skipped"
		return nil
	}
	if !enabled {
		if err := s.awaitReplicationEnabled(ctx); err != nil {
			outcome = "interrupted"
			return err
		}
	}

	// Step 2: build the per-cycle bookie-to-ledger index (data model
	// invariant 2: never reused across cycles).
	index, err := s.indexer.GetBookieToLedgerIndex(ctx)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("failed to build bookie-to-ledger index")
		outcome = "skipped"
		return nil
	}

	// Step 3: re-gate. A disable-during-indexing race requeues a fresh
	// audit task rather than proceeding on a stale toggle.
	enabled, err = s.urManager.IsLedgerReplicationEnabled(ctx)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("replication-enabled re-check failed, skipping cycle")
		outcome = "skipped"
		return nil
	}
	if !enabled {
		cycleLogger.Warn().Msg("replication disabled after indexing, requeuing bookie audit")
		outcome = "requeued"
		if _, err := s.bookieLane.Submit(s.runBookieAudit); err != nil {
			cycleLogger.Warn().Err(err).Msg("failed to requeue bookie audit")
		}
		return nil
	}

	// Step 4: compute the lost-bookie set and notify the cluster manager.
	lost, err := s.computeLostBookies(ctx, index)
	if err != nil {
		outcome = "fatal"
		cycleLogger.Error().Err(err).Msg("cluster manager failed to produce a view, shutting down")
		if subErr := s.SubmitShutdownTask(); subErr != nil {
			cycleLogger.Warn().Err(subErr).Msg("failed to submit shutdown task")
		}
		return fmt.Errorf("%w: %v", ErrClusterView, err)
	}
	s.clusterManager.LostBookiesChanged(lost)
	metrics.LostBookiesLastCycle.Set(float64(len(lost)))

	// Step 5: reset the per-cycle counter, then publish.
	s.resetCyclePublishCounter()
	for _, bookie := range lost.Slice() {
		ledgers, ok := index[bookie]
		if !ok || len(ledgers) == 0 {
			continue
		}
		if err := s.publishLedgersForBookie(ctx, bookie, ledgers); err != nil {
			outcome = "publish-failed"
			return fmt.Errorf("%w: %v", ErrPublishFailed, err)
		}
	}
	return nil
}

// awaitReplicationEnabled blocks until the under-replication manager
// signals replication is enabled, or ctx is cancelled.
func (s *State) awaitReplicationEnabled(ctx context.Context) error {
	notified := make(chan struct{})
	s.urManager.NotifyLedgerReplicationEnabled(func() {
		close(notified)
	})
	select {
	case <-notified:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// computeLostBookies implements invariant 4: lost = stale ∪ (indexed −
// active), exactly.
func (s *State) computeLostBookies(ctx context.Context, index types.BookieLedgerIndex) (types.BookieIDSet, error) {
	active, err := s.clusterManager.GetActiveBookies(ctx)
	if err != nil {
		return nil, err
	}
	stale, err := s.clusterManager.FetchStaleBookies(ctx)
	if err != nil {
		return nil, err
	}

	lost := make(types.BookieIDSet, len(stale))
	for b := range stale {
		lost[b] = struct{}{}
	}
	for b := range index.Keys() {
		if !active.Contains(b) {
			lost[b] = struct{}{}
		}
	}
	return lost, nil
}

// publishLedgersForBookie publishes every ledger known to reside on
// bookie as under-replicated. A publish failure aborts the remaining
// publishes for this bookie and the cycle (§4.2 error handling); bookies
// already processed in this cycle keep their published records.
func (s *State) publishLedgersForBookie(ctx context.Context, bookie types.BookieID, ledgers types.LedgerIDSet) error {
	for _, ledgerID := range ledgers.Slice() {
		if err := s.urManager.MarkLedgerUnderreplicated(ctx, ledgerID, bookie); err != nil {
			return err
		}
		s.recordPublish()
	}
	return nil
}
