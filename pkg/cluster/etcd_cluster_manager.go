package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/ledgerwatch/pkg/log"
	"github.com/cuemby/ledgerwatch/pkg/types"
	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const availableSegment = "available/"

// EtcdClusterManager implements auditor.BookieClusterManager against an
// etcd cluster used as the ZK-like strongly-consistent metadata store.
// Bookies register ephemeral, leased keys at
// "<prefix>/available/<bookieID>" whose value is their last-refresh
// timestamp (RFC3339Nano); this manager only reads that state.
type EtcdClusterManager struct {
	client          *clientv3.Client
	prefix          string
	stalenessWindow time.Duration
	probe           *GRPCProbe
	logger          zerolog.Logger

	mu       sync.Mutex
	lastLost types.BookieIDSet
}

// NewEtcdClusterManager builds a manager over an already-connected etcd
// client. probe may be nil to disable the active health-check refinement.
func NewEtcdClusterManager(client *clientv3.Client, prefix string, stalenessWindow time.Duration, probe *GRPCProbe) *EtcdClusterManager {
	return &EtcdClusterManager{
		client:          client,
		prefix:          strings.TrimSuffix(prefix, "/"),
		stalenessWindow: stalenessWindow,
		probe:           probe,
		logger:          log.WithComponent("cluster"),
	}
}

func (m *EtcdClusterManager) availablePrefix() string {
	return m.prefix + "/" + availableSegment
}

// Start verifies connectivity to the registration prefix. A failure here
// is fatal to the Auditor per §4.5.
func (m *EtcdClusterManager) Start(ctx context.Context) error {
	_, err := m.client.Get(ctx, m.availablePrefix(), clientv3.WithCountOnly(), clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("cluster: failed to reach etcd at startup: %w", err)
	}
	return nil
}

// EnableStats is a no-op: this manager keeps no internal counters to
// export.
func (m *EtcdClusterManager) EnableStats() {}

// GetActiveBookies lists every bookie with a live registration key.
func (m *EtcdClusterManager) GetActiveBookies(ctx context.Context) (types.BookieIDSet, error) {
	resp, err := m.client.Get(ctx, m.availablePrefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("cluster: list active bookies: %w", err)
	}
	active := make(types.BookieIDSet, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), m.availablePrefix())
		active[types.BookieID(id)] = struct{}{}
	}
	return active, nil
}

// FetchStaleBookies returns registrations whose last-refresh timestamp is
// older than the staleness window. A bookie that looks stale by
// timestamp is spared if an active gRPC health probe still reports it
// healthy — a transient heartbeat-write delay shouldn't condemn a live
// bookie.
func (m *EtcdClusterManager) FetchStaleBookies(ctx context.Context) (types.BookieIDSet, error) {
	resp, err := m.client.Get(ctx, m.availablePrefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("cluster: fetch stale bookies: %w", err)
	}

	now := time.Now()
	stale := make(types.BookieIDSet)
	for _, kv := range resp.Kvs {
		id := types.BookieID(strings.TrimPrefix(string(kv.Key), m.availablePrefix()))

		lastRefresh, err := time.Parse(time.RFC3339Nano, string(kv.Value))
		if err != nil {
			m.logger.Warn().Str("bookie", string(id)).Err(err).Msg("unparseable heartbeat timestamp, treating as stale")
			stale[id] = struct{}{}
			continue
		}
		if now.Sub(lastRefresh) <= m.stalenessWindow {
			continue
		}
		if m.probe != nil && m.probe.IsHealthy(ctx, id) {
			m.logger.Debug().Str("bookie", string(id)).Msg("heartbeat stale but health probe succeeded, not marking stale")
			continue
		}
		stale[id] = struct{}{}
	}
	return stale, nil
}

// LostBookiesChanged records the most recently computed lost set.
func (m *EtcdClusterManager) LostBookiesChanged(lost types.BookieIDSet) {
	m.mu.Lock()
	m.lastLost = lost
	m.mu.Unlock()
	m.logger.Info().Int("lostCount", len(lost)).Msg("lost bookie set updated")
}

// LastLostBookies returns the most recent set passed to LostBookiesChanged.
func (m *EtcdClusterManager) LastLostBookies() types.BookieIDSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLost
}

// Close releases the etcd client. Only call this when the Auditor
// constructed the client itself (Config.OwnsClusterManager).
func (m *EtcdClusterManager) Close() error {
	return m.client.Close()
}

// RegisterBookie writes a leased heartbeat key for bookieID and keeps it
// refreshed until ctx is cancelled. It is not used by the Auditor itself
// (bookie registration belongs to the bookie process, out of scope per
// spec.md §1) but is provided so tests and fixtures can stand up a
// realistic-looking registration without a real bookie binary.
func RegisterBookie(ctx context.Context, client *clientv3.Client, prefix string, bookieID types.BookieID, ttl time.Duration) error {
	lease, err := client.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("cluster: grant lease: %w", err)
	}
	key := strings.TrimSuffix(prefix, "/") + "/" + availableSegment + string(bookieID)
	if _, err := client.Put(ctx, key, time.Now().Format(time.RFC3339Nano), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("cluster: register bookie: %w", err)
	}
	keepAlive, err := client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("cluster: keep lease alive: %w", err)
	}
	go func() {
		for range keepAlive {
			// Each keepalive response also rewrites the heartbeat
			// timestamp, until ctx is cancelled or the lease is revoked,
			// at which point the channel closes.
			_, _ = client.Put(ctx, key, time.Now().Format(time.RFC3339Nano), clientv3.WithLease(lease.ID))
		}
	}()
	return nil
}
