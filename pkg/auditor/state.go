package auditor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/ledgerwatch/pkg/log"
	"github.com/cuemby/ledgerwatch/pkg/metrics"
	"github.com/cuemby/ledgerwatch/pkg/scheduler"
	"github.com/cuemby/ledgerwatch/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds the Auditor's tunable intervals. A zero interval disables
// the corresponding periodic task, except BookieAuditInterval, whose zero
// value means "run once at start, then no periodic".
type Config struct {
	Name string

	BookieAuditInterval time.Duration
	LedgerCheckInterval time.Duration
	URSnapshotInterval  time.Duration

	// UnderReplicationRoot is the root path segment under which ledger
	// under-replication markers live, e.g. "underreplication".
	UnderReplicationRoot string

	// OwnsClusterManager is true when the caller constructed ClusterManager
	// specifically for this Auditor and wants it closed on shutdown.
	// Injected, shared managers must be left running.
	OwnsClusterManager bool
}

// State is the Auditor's control-plane instance (data model's
// AuditorState). It owns two serial lanes and the last under-replication
// snapshot; every other collaborator is a shared, externally-owned
// reference.
type State struct {
	cfg    Config
	logger zerolog.Logger

	ledgerManager   LedgerManager
	urManager       LedgerUnderReplicationManager
	clusterManager  BookieClusterManager
	indexer         BookieLedgerIndexer
	checker         LedgerChecker
	resourceFactory ResourceFactory

	bookieLane *scheduler.Lane
	urLane     *scheduler.Lane

	// underreplicated is swapped atomically by the snapshotter (writer)
	// and read through UnderreplicatedLedgerCount and
	// UnderreplicatedLedgers (readers); the snapshotter sets the gauge
	// itself after each swap. Never mutated in place.
	underreplicated atomic.Pointer[types.LedgerIDSet]

	// lastCyclePublished is the per-cycle publish counter (invariants 3/8),
	// distinct from the cumulative Prometheus counter.
	lastCyclePublished atomic.Int64

	mu       sync.Mutex
	shutdown bool
}

// New constructs a State. No periodic work starts until Start is called.
func New(
	cfg Config,
	ledgerManager LedgerManager,
	urManager LedgerUnderReplicationManager,
	clusterManager BookieClusterManager,
	indexer BookieLedgerIndexer,
	checker LedgerChecker,
	resourceFactory ResourceFactory,
) *State {
	s := &State{
		cfg:             cfg,
		logger:          log.WithComponent("auditor").With().Str("auditor", cfg.Name).Logger(),
		ledgerManager:   ledgerManager,
		urManager:       urManager,
		clusterManager:  clusterManager,
		indexer:         indexer,
		checker:         checker,
		resourceFactory: resourceFactory,
		bookieLane:      scheduler.New(cfg.Name + "-bookie-lane"),
		urLane:          scheduler.New(cfg.Name + "-ur-lane"),
	}
	empty := types.NewLedgerIDSet()
	s.underreplicated.Store(&empty)
	return s
}

// UnderreplicatedLedgerCount returns the size of the most recent
// under-replication snapshot; 0 before the first snapshot (§4.4).
func (s *State) UnderreplicatedLedgerCount() int {
	set := s.underreplicated.Load()
	if set == nil {
		return 0
	}
	return len(*set)
}

// UnderreplicatedLedgers returns the most recent snapshot set. Callers
// must treat the returned set as read-only.
func (s *State) UnderreplicatedLedgers() types.LedgerIDSet {
	set := s.underreplicated.Load()
	if set == nil {
		return types.NewLedgerIDSet()
	}
	return *set
}

// LastCyclePublishedCount returns the publish counter for the most
// recently completed bookie audit cycle only (invariants 3/8); it is
// reset to zero at the start of every cycle, before any publish.
func (s *State) LastCyclePublishedCount() int64 {
	return s.lastCyclePublished.Load()
}

func (s *State) resetCyclePublishCounter() {
	s.lastCyclePublished.Store(0)
}

// recordPublish accounts for a publish made by a bookie audit cycle: it
// advances both the cumulative metric and the per-cycle counter that
// invariants 3/8 describe.
func (s *State) recordPublish() {
	s.lastCyclePublished.Add(1)
	metrics.PublishedUnderreplicatedLedgersTotal.Inc()
}

// recordLedgerCheckPublish accounts for a publish made by a ledger check
// cycle: only the cumulative metric advances. The per-cycle counter is
// scoped to bookie audit cycles only (§8 invariants 3/8).
func (s *State) recordLedgerCheckPublish() {
	metrics.PublishedUnderreplicatedLedgersTotal.Inc()
}
