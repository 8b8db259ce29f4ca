package auditor

import (
	"context"
	"strconv"
	"strings"

	"github.com/cuemby/ledgerwatch/pkg/metrics"
	"github.com/cuemby/ledgerwatch/pkg/types"
)

// runUnderReplicatedSnapshot is the periodic task on urLane (§4.4). It
// reads the under-replication manager's path listing, parses out the
// ledger ids, and atomically swaps the result into State.underreplicated.
// A gauge sample of the new set's size follows the swap.
func (s *State) runUnderReplicatedSnapshot(ctx context.Context) error {
	paths, err := s.urManager.GetAllUnderreplicatedLedgers(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list under-replicated ledgers")
		return err
	}

	snapshot := types.NewLedgerIDSet()
	for _, p := range paths {
		id, ok := parseLedgerPath(p, s.cfg.UnderReplicationRoot)
		if !ok {
			continue
		}
		snapshot.Add(id)
	}

	s.underreplicated.Store(&snapshot)
	metrics.UnderreplicatedLedgers.Set(float64(len(snapshot)))
	return nil
}

// parseLedgerPath extracts a ledger id from a path of shape
// ".../<root>/ledgers/<HEX>", per §6's persisted state layout. It is the
// inverse of formatLedgerPath (invariant 5: parse(format(L)) == L).
func parseLedgerPath(path, root string) (types.LedgerID, bool) {
	marker := "/" + root + "/ledgers/"
	idx := strings.Index(path, marker)
	if idx < 0 {
		return 0, false
	}
	hex := path[idx+len(marker):]
	if hex == "" || strings.ContainsRune(hex, '/') {
		return 0, false
	}
	id, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, false
	}
	return types.LedgerID(id), true
}

// formatLedgerPath renders the canonical path for ledgerID under root,
// the format parseLedgerPath must be able to invert.
func formatLedgerPath(root string, ledgerID types.LedgerID) string {
	return "/" + root + "/ledgers/" + strconv.FormatUint(uint64(ledgerID), 16)
}
