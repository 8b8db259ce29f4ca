// Package auditortest provides in-memory fakes for every collaborator
// interface pkg/auditor consumes, plus a BoltDB-backed fixture for
// integration-style tests that want a persistent-looking
// under-replication queue without standing up etcd.
package auditortest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/ledgerwatch/pkg/auditor"
	"github.com/cuemby/ledgerwatch/pkg/types"
)

// FakeLedgerManager enumerates a fixed in-memory ledger id list.
type FakeLedgerManager struct {
	mu      sync.Mutex
	Ledgers []types.LedgerID
}

// NewFakeLedgerManager builds a manager enumerating the given ledgers.
func NewFakeLedgerManager(ledgers ...types.LedgerID) *FakeLedgerManager {
	return &FakeLedgerManager{Ledgers: ledgers}
}

// AsyncProcessLedgers implements auditor.LedgerManager.
func (f *FakeLedgerManager) AsyncProcessLedgers(ctx context.Context, processor func(types.LedgerID, func()), completion func()) {
	f.mu.Lock()
	ledgers := append([]types.LedgerID(nil), f.Ledgers...)
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ledgers {
		wg.Add(1)
		processor(id, wg.Done)
	}
	go func() {
		wg.Wait()
		completion()
	}()
}

// FakeUnderReplicationManager is an in-memory under-replication queue and
// replication-enabled toggle.
type FakeUnderReplicationManager struct {
	mu                 sync.Mutex
	replicationEnabled bool
	available          error
	markFails          error
	records            []types.UnderReplicationRecord
	root               string
	watchers           []func()
}

// NewFakeUnderReplicationManager builds a manager with replication
// enabled and no records published yet. root is the path segment
// snapshotted paths are rendered under (see GetAllUnderreplicatedLedgers).
func NewFakeUnderReplicationManager(root string) *FakeUnderReplicationManager {
	return &FakeUnderReplicationManager{replicationEnabled: true, root: root}
}

// SetReplicationEnabled toggles the manager's availability flag. If it
// transitions to true, any registered watchers fire.
func (f *FakeUnderReplicationManager) SetReplicationEnabled(enabled bool) {
	f.mu.Lock()
	wasEnabled := f.replicationEnabled
	f.replicationEnabled = enabled
	var watchers []func()
	if enabled && !wasEnabled {
		watchers = f.watchers
		f.watchers = nil
	}
	f.mu.Unlock()
	for _, w := range watchers {
		w()
	}
}

// SetAvailabilityError makes IsLedgerReplicationEnabled fail with err
// until cleared (pass nil to clear).
func (f *FakeUnderReplicationManager) SetAvailabilityError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = err
}

// SetMarkFailure makes MarkLedgerUnderreplicated fail with err until
// cleared (pass nil to clear).
func (f *FakeUnderReplicationManager) SetMarkFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markFails = err
}

// IsLedgerReplicationEnabled implements auditor.LedgerUnderReplicationManager.
func (f *FakeUnderReplicationManager) IsLedgerReplicationEnabled(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.available != nil {
		return false, f.available
	}
	return f.replicationEnabled, nil
}

// NotifyLedgerReplicationEnabled implements auditor.LedgerUnderReplicationManager.
func (f *FakeUnderReplicationManager) NotifyLedgerReplicationEnabled(cb func()) {
	f.mu.Lock()
	if f.replicationEnabled {
		f.mu.Unlock()
		cb()
		return
	}
	f.watchers = append(f.watchers, cb)
	f.mu.Unlock()
}

// MarkLedgerUnderreplicated implements auditor.LedgerUnderReplicationManager.
func (f *FakeUnderReplicationManager) MarkLedgerUnderreplicated(ctx context.Context, ledgerID types.LedgerID, missingBookie types.BookieID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markFails != nil {
		return f.markFails
	}
	f.records = append(f.records, types.UnderReplicationRecord{LedgerID: ledgerID, Missing: missingBookie})
	return nil
}

// GetAllUnderreplicatedLedgers implements auditor.LedgerUnderReplicationManager.
func (f *FakeUnderReplicationManager) GetAllUnderreplicatedLedgers(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[types.LedgerID]struct{}, len(f.records))
	paths := make([]string, 0, len(f.records))
	for _, r := range f.records {
		if _, ok := seen[r.LedgerID]; ok {
			continue
		}
		seen[r.LedgerID] = struct{}{}
		paths = append(paths, fmt.Sprintf("/%s/ledgers/%x", f.root, uint64(r.LedgerID)))
	}
	return paths, nil
}

// Records returns every record published so far, for test assertions.
func (f *FakeUnderReplicationManager) Records() []types.UnderReplicationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.UnderReplicationRecord(nil), f.records...)
}

// FakeClusterManager is an in-memory bookie membership view.
type FakeClusterManager struct {
	mu           sync.Mutex
	active       types.BookieIDSet
	stale        types.BookieIDSet
	startErr     error
	viewErr      error
	started      bool
	closed       bool
	lastLostSeen types.BookieIDSet
}

// NewFakeClusterManager builds a manager with the given active and stale
// sets.
func NewFakeClusterManager(active, stale types.BookieIDSet) *FakeClusterManager {
	return &FakeClusterManager{active: active, stale: stale}
}

// SetStartError makes Start fail with err.
func (f *FakeClusterManager) SetStartError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// SetViewError makes GetActiveBookies and FetchStaleBookies fail with err.
func (f *FakeClusterManager) SetViewError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewErr = err
}

// Start implements auditor.BookieClusterManager.
func (f *FakeClusterManager) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

// EnableStats implements auditor.BookieClusterManager.
func (f *FakeClusterManager) EnableStats() {}

// GetActiveBookies implements auditor.BookieClusterManager.
func (f *FakeClusterManager) GetActiveBookies(ctx context.Context) (types.BookieIDSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.viewErr != nil {
		return nil, f.viewErr
	}
	return f.active, nil
}

// FetchStaleBookies implements auditor.BookieClusterManager.
func (f *FakeClusterManager) FetchStaleBookies(ctx context.Context) (types.BookieIDSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.viewErr != nil {
		return nil, f.viewErr
	}
	return f.stale, nil
}

// LostBookiesChanged implements auditor.BookieClusterManager.
func (f *FakeClusterManager) LostBookiesChanged(lost types.BookieIDSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLostSeen = lost
}

// LastLostSeen returns the most recent set reported via LostBookiesChanged.
func (f *FakeClusterManager) LastLostSeen() types.BookieIDSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastLostSeen
}

// Close implements auditor.BookieClusterManager.
func (f *FakeClusterManager) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (f *FakeClusterManager) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeIndexer returns a fixed BookieLedgerIndex.
type FakeIndexer struct {
	Index types.BookieLedgerIndex
	Err   error
	// OnGet, if set, runs synchronously before GetBookieToLedgerIndex
	// returns — useful for scripting a state change that a test wants to
	// land between index-build and the caller's next step (e.g. the
	// disable-during-indexing race in scenario 2).
	OnGet func()
}

// GetBookieToLedgerIndex implements auditor.BookieLedgerIndexer.
func (f *FakeIndexer) GetBookieToLedgerIndex(ctx context.Context) (types.BookieLedgerIndex, error) {
	if f.OnGet != nil {
		f.OnGet()
	}
	return f.Index, f.Err
}

// FakeLedgerHandle is a trivial LedgerHandle.
type FakeLedgerHandle struct {
	LedgerIDValue types.LedgerID
	CloseErr      error
}

// ID implements auditor.LedgerHandle.
func (h *FakeLedgerHandle) ID() types.LedgerID { return h.LedgerIDValue }

// Close implements auditor.LedgerHandle.
func (h *FakeLedgerHandle) Close() error { return h.CloseErr }

// FakeAdminClient opens ledgers from a fixed set, failing for any id not
// present (as auditor.ErrNoSuchLedger).
type FakeAdminClient struct {
	mu          sync.Mutex
	Exists      map[types.LedgerID]bool
	OpenErr     map[types.LedgerID]error
	closed      bool
	openedCount int
}

// NewFakeAdminClient builds an admin client that can open exactly the
// given ledger ids.
func NewFakeAdminClient(existing ...types.LedgerID) *FakeAdminClient {
	exists := make(map[types.LedgerID]bool, len(existing))
	for _, id := range existing {
		exists[id] = true
	}
	return &FakeAdminClient{Exists: exists, OpenErr: make(map[types.LedgerID]error)}
}

// OpenLedgerNoRecovery implements auditor.AdminClient.
func (a *FakeAdminClient) OpenLedgerNoRecovery(ctx context.Context, ledgerID types.LedgerID) (auditor.LedgerHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.openedCount++
	if err, ok := a.OpenErr[ledgerID]; ok {
		return nil, err
	}
	if !a.Exists[ledgerID] {
		return nil, auditor.ErrNoSuchLedger
	}
	return &FakeLedgerHandle{LedgerIDValue: ledgerID}, nil
}

// Close implements auditor.AdminClient.
func (a *FakeAdminClient) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (a *FakeAdminClient) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// FakeMetadataStoreClient is a no-op MetadataStoreClient.
type FakeMetadataStoreClient struct {
	mu     sync.Mutex
	closed bool
}

// Connect implements auditor.MetadataStoreClient.
func (c *FakeMetadataStoreClient) Connect(ctx context.Context, endpoints []string, timeout time.Duration) error {
	return nil
}

// Close implements auditor.MetadataStoreClient.
func (c *FakeMetadataStoreClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *FakeMetadataStoreClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FakeResourceFactory hands out a fresh metadata-store client each time
// but shares a single admin client instance, so tests can assert the
// cycle closed it.
type FakeResourceFactory struct {
	Admin *FakeAdminClient
	Err   error
}

// Open implements auditor.ResourceFactory.
func (f *FakeResourceFactory) Open(ctx context.Context) (auditor.MetadataStoreClient, auditor.AdminClient, error) {
	if f.Err != nil {
		return nil, nil, f.Err
	}
	return &FakeMetadataStoreClient{}, f.Admin, nil
}

// FakeChecker resolves CheckLedger using a scripted per-ledger result.
type FakeChecker struct {
	mu        sync.Mutex
	Results   map[types.LedgerID]auditor.ItemResult
	Fragments map[types.LedgerID][]types.LedgerFragment
}

// NewFakeChecker builds a checker with no scripted results; every ledger
// not explicitly scripted checks OK with no fragments.
func NewFakeChecker() *FakeChecker {
	return &FakeChecker{
		Results:   make(map[types.LedgerID]auditor.ItemResult),
		Fragments: make(map[types.LedgerID][]types.LedgerFragment),
	}
}

// ScriptResult sets the result and fragments CheckLedger reports for id.
func (c *FakeChecker) ScriptResult(id types.LedgerID, result auditor.ItemResult, fragments []types.LedgerFragment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Results[id] = result
	c.Fragments[id] = fragments
}

// CheckLedger implements auditor.LedgerChecker.
func (c *FakeChecker) CheckLedger(ctx context.Context, handle auditor.LedgerHandle, callback func(auditor.ItemResult, []types.LedgerFragment)) {
	c.mu.Lock()
	result, ok := c.Results[handle.ID()]
	fragments := c.Fragments[handle.ID()]
	c.mu.Unlock()
	if !ok {
		result = auditor.ItemResultOK
	}
	go callback(result, fragments)
}
