package auditor

import (
	"context"
	"testing"

	"github.com/cuemby/ledgerwatch/pkg/auditor/auditortest"
	"github.com/cuemby/ledgerwatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSnapshotTestState(t *testing.T, urMgr *auditortest.FakeUnderReplicationManager) *State {
	t.Helper()
	cluster := auditortest.NewFakeClusterManager(types.NewBookieIDSet(), types.NewBookieIDSet())
	s := New(
		Config{Name: "test", UnderReplicationRoot: "underreplication"},
		auditortest.NewFakeLedgerManager(),
		urMgr,
		cluster,
		&auditortest.FakeIndexer{Index: types.BookieLedgerIndex{}},
		auditortest.NewFakeChecker(),
		&auditortest.FakeResourceFactory{Admin: auditortest.NewFakeAdminClient()},
	)
	t.Cleanup(func() { s.bookieLane.ShutdownNow(); s.urLane.ShutdownNow() })
	return s
}

func TestUnderreplicatedLedgerCount_ZeroBeforeFirstSnapshot(t *testing.T) {
	urMgr := auditortest.NewFakeUnderReplicationManager("underreplication")
	s := newSnapshotTestState(t, urMgr)
	assert.Equal(t, 0, s.UnderreplicatedLedgerCount())
}

// Scenario 6: manager returns ["…/ledgers/0a", "…/ledgers/ff", "garbage"];
// expect underreplicatedLedgers = {10, 255}, gauge = 2.
func TestRunUnderReplicatedSnapshot_ParsesAndSkipsGarbage(t *testing.T) {
	urMgr := auditortest.NewFakeUnderReplicationManager("underreplication")
	require.NoError(t, urMgr.MarkLedgerUnderreplicated(context.Background(), 0x0a, "A"))
	require.NoError(t, urMgr.MarkLedgerUnderreplicated(context.Background(), 0xff, "B"))

	s := newSnapshotTestState(t, urMgr)
	// Inject a path the fake wouldn't produce itself, to exercise the
	// "unparseable paths are silently ignored" rule directly.
	s.urManager = &garbageInjectingManager{FakeUnderReplicationManager: urMgr}

	require.NoError(t, s.runUnderReplicatedSnapshot(context.Background()))

	snap := s.UnderreplicatedLedgers()
	assert.Equal(t, types.NewLedgerIDSet(10, 255), snap)
	assert.Equal(t, 2, s.UnderreplicatedLedgerCount())
}

type garbageInjectingManager struct {
	*auditortest.FakeUnderReplicationManager
}

func (g *garbageInjectingManager) GetAllUnderreplicatedLedgers(ctx context.Context) ([]string, error) {
	paths, err := g.FakeUnderReplicationManager.GetAllUnderreplicatedLedgers(ctx)
	if err != nil {
		return nil, err
	}
	return append(paths, "garbage"), nil
}

// Invariant 5: parse(format(L)) == L for any ledger id, and parse(x) ==
// null for strings not matching the documented shape.
func TestParseLedgerPath_RoundTripsAndRejectsGarbage(t *testing.T) {
	cases := []types.LedgerID{0, 1, 10, 255, 0xDEADBEEF, 1 << 40}
	for _, id := range cases {
		path := formatLedgerPath("underreplication", id)
		parsed, ok := parseLedgerPath(path, "underreplication")
		require.True(t, ok, "path %q should parse", path)
		assert.Equal(t, id, parsed)
	}

	for _, bad := range []string{"garbage", "", "/underreplication/ledgers/", "/underreplication/ledgers/not-hex", "/wrong-root/ledgers/0a"} {
		_, ok := parseLedgerPath(bad, "underreplication")
		assert.False(t, ok, "path %q should be rejected", bad)
	}
}
