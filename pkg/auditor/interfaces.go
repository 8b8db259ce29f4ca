package auditor

import (
	"context"
	"time"

	"github.com/cuemby/ledgerwatch/pkg/types"
)

// ItemResult is the outcome of processing a single ledger during a
// LedgerCheckCycle traversal.
type ItemResult int

const (
	// ItemResultOK means the ledger checked clean, or was gone by the time
	// it was opened (deletion between enumeration and open is success).
	ItemResultOK ItemResult = iota
	// ItemResultBookieHandleUnavailable means opening or checking the
	// ledger failed for a reason other than "no such ledger".
	ItemResultBookieHandleUnavailable
	// ItemResultInterrupted means the cycle was cancelled while this item
	// was in flight; no further per-item work was attempted for it.
	ItemResultInterrupted
)

// String renders the result code for logging.
func (r ItemResult) String() string {
	switch r {
	case ItemResultOK:
		return "ok"
	case ItemResultBookieHandleUnavailable:
		return "bookie-handle-unavailable"
	case ItemResultInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// LedgerManager enumerates every ledger the metadata store currently
// knows about. AsyncProcessLedgers pushes each ledger id to processor —
// concurrently, in unspecified order — and invokes completion exactly
// once, after every processor call has signalled completion through its
// done callback. This collapses the source traversal's aggregate
// ok/error result code to a plain signal: per-item outcomes are tracked
// by the driver (checkAllLedgers), not by the manager.
type LedgerManager interface {
	AsyncProcessLedgers(ctx context.Context, processor func(ledgerID types.LedgerID, done func()), completion func())
}

// LedgerUnderReplicationManager is the durable external queue of ledgers
// pending repair.
type LedgerUnderReplicationManager interface {
	// IsLedgerReplicationEnabled reports the cluster-wide replication
	// toggle. An error means the check itself could not be performed
	// (transient upstream unavailable).
	IsLedgerReplicationEnabled(ctx context.Context) (bool, error)
	// NotifyLedgerReplicationEnabled registers a one-shot watcher invoked
	// the next time replication becomes enabled.
	NotifyLedgerReplicationEnabled(cb func())
	// MarkLedgerUnderreplicated records that ledgerID is missing a replica
	// on missingBookie.
	MarkLedgerUnderreplicated(ctx context.Context, ledgerID types.LedgerID, missingBookie types.BookieID) error
	// GetAllUnderreplicatedLedgers returns the raw path strings currently
	// queued, of shape ".../<underReplicationRoot>/ledgers/<HEX>".
	GetAllUnderreplicatedLedgers(ctx context.Context) ([]string, error)
}

// BookieClusterManager discovers cluster membership and liveness.
type BookieClusterManager interface {
	// Start begins membership tracking. Called once at LifecycleController
	// start; a failure here is fatal to the Auditor.
	Start(ctx context.Context) error
	// EnableStats wires the manager's own internal counters into the
	// metrics surface; a no-op for managers with nothing to export.
	EnableStats()
	// GetActiveBookies returns the currently live membership set.
	GetActiveBookies(ctx context.Context) (types.BookieIDSet, error)
	// FetchStaleBookies returns members whose liveness signal has not
	// refreshed within the configured staleness window.
	FetchStaleBookies(ctx context.Context) (types.BookieIDSet, error)
	// LostBookiesChanged notifies the manager of the set judged lost by
	// the most recent bookie audit cycle.
	LostBookiesChanged(lost types.BookieIDSet)
	// Close releases the manager's resources. Only called by the Auditor
	// when it constructed the manager itself (ownership is tracked by the
	// caller of New, not by this interface).
	Close() error
}

// BookieLedgerIndexer builds the per-cycle view of what ledgers live on
// what bookies.
type BookieLedgerIndexer interface {
	GetBookieToLedgerIndex(ctx context.Context) (types.BookieLedgerIndex, error)
}

// LedgerHandle is an open, read-only ledger reference acquired for the
// duration of one check.
type LedgerHandle interface {
	ID() types.LedgerID
	Close() error
}

// LedgerChecker asynchronously verifies a ledger's fragments and reports
// which ones are missing replicas.
type LedgerChecker interface {
	// CheckLedger verifies handle and invokes callback exactly once with
	// the result code and the fragments judged lost (empty if none or on
	// non-OK result codes).
	CheckLedger(ctx context.Context, handle LedgerHandle, callback func(ItemResult, []types.LedgerFragment))
}

// AdminClient opens ledgers for the LedgerCheckCycle.
type AdminClient interface {
	// OpenLedgerNoRecovery opens ledgerID read-only without triggering
	// recovery. Returns ErrNoSuchLedger if it no longer exists.
	OpenLedgerNoRecovery(ctx context.Context, ledgerID types.LedgerID) (LedgerHandle, error)
	// Close releases this cycle's dedicated admin handle.
	Close() error
}

// MetadataStoreClient is a connection to the external coordination
// service backing cluster membership and ledger metadata.
type MetadataStoreClient interface {
	Connect(ctx context.Context, endpoints []string, timeout time.Duration) error
	Close() error
}

// ResourceFactory opens the per-cycle metadata-store connection and admin
// handle a LedgerCheckCycle needs. Every resource it returns is closed by
// the cycle on every exit path (§5 resource lifecycles).
type ResourceFactory interface {
	Open(ctx context.Context) (MetadataStoreClient, AdminClient, error)
}
