package auditortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/ledgerwatch/pkg/types"
	"go.etcd.io/bbolt"
)

var underReplicationBucket = []byte("underreplication")

// BoltUnderReplicationManager is a bbolt-backed
// LedgerUnderReplicationManager for integration-style tests that want a
// persistent-looking queue without standing up etcd. It is test
// scaffolding only: the Auditor itself persists no state of its own
// (spec.md §1 non-goals) — this fixture exists to exercise the same
// external-collaborator contract against real durable storage.
type BoltUnderReplicationManager struct {
	db   *bbolt.DB
	root string

	mu                 sync.Mutex
	replicationEnabled bool
	watchers           []func()
}

// OpenBoltFixture creates (or opens) a bbolt database at path and
// prepares its under-replication bucket. Callers must Close the
// returned manager when done.
func OpenBoltFixture(path, root string) (*BoltUnderReplicationManager, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("auditortest: open bbolt fixture: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(underReplicationBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("auditortest: init bbolt fixture bucket: %w", err)
	}
	return &BoltUnderReplicationManager{db: db, root: root, replicationEnabled: true}, nil
}

// Close releases the underlying bbolt database.
func (m *BoltUnderReplicationManager) Close() error {
	return m.db.Close()
}

// SetReplicationEnabled toggles the availability flag, firing any
// registered watchers on a false-to-true transition.
func (m *BoltUnderReplicationManager) SetReplicationEnabled(enabled bool) {
	m.mu.Lock()
	wasEnabled := m.replicationEnabled
	m.replicationEnabled = enabled
	var watchers []func()
	if enabled && !wasEnabled {
		watchers = m.watchers
		m.watchers = nil
	}
	m.mu.Unlock()
	for _, w := range watchers {
		w()
	}
}

// IsLedgerReplicationEnabled implements auditor.LedgerUnderReplicationManager.
func (m *BoltUnderReplicationManager) IsLedgerReplicationEnabled(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replicationEnabled, nil
}

// NotifyLedgerReplicationEnabled implements auditor.LedgerUnderReplicationManager.
func (m *BoltUnderReplicationManager) NotifyLedgerReplicationEnabled(cb func()) {
	m.mu.Lock()
	if m.replicationEnabled {
		m.mu.Unlock()
		cb()
		return
	}
	m.watchers = append(m.watchers, cb)
	m.mu.Unlock()
}

// MarkLedgerUnderreplicated implements auditor.LedgerUnderReplicationManager,
// persisting one key per (ledger, bookie) pair under the bucket.
func (m *BoltUnderReplicationManager) MarkLedgerUnderreplicated(ctx context.Context, ledgerID types.LedgerID, missingBookie types.BookieID) error {
	key := []byte(fmt.Sprintf("/%s/ledgers/%x/%s", m.root, uint64(ledgerID), missingBookie))
	return m.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(underReplicationBucket).Put(key, []byte{1})
	})
}

// GetAllUnderreplicatedLedgers implements auditor.LedgerUnderReplicationManager,
// returning the distinct ledger paths (without the trailing bookie
// suffix) currently persisted.
func (m *BoltUnderReplicationManager) GetAllUnderreplicatedLedgers(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var paths []string
	err := m.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(underReplicationBucket).ForEach(func(k, _ []byte) error {
			path, ledgerOnly := splitLedgerPath(string(k))
			if !ledgerOnly {
				return nil
			}
			if _, ok := seen[path]; ok {
				return nil
			}
			seen[path] = struct{}{}
			paths = append(paths, path)
			return nil
		})
	})
	return paths, err
}

// splitLedgerPath strips a trailing "/<bookie>" suffix from a persisted
// key, returning the ".../ledgers/<HEX>" portion the snapshotter expects.
func splitLedgerPath(key string) (string, bool) {
	marker := "/ledgers/"
	idx := indexAfter(key, marker)
	if idx < 0 {
		return "", false
	}
	rest := key[idx:]
	for i, r := range rest {
		if r == '/' {
			return key[:idx+i], true
		}
	}
	return key, true
}

func indexAfter(s, marker string) int {
	for i := 0; i+len(marker) <= len(s); i++ {
		if s[i:i+len(marker)] == marker {
			return i + len(marker)
		}
	}
	return -1
}
