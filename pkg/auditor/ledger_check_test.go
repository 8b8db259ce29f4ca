package auditor

import (
	"context"
	"testing"

	"github.com/cuemby/ledgerwatch/pkg/auditor/auditortest"
	"github.com/cuemby/ledgerwatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheckTestState(t *testing.T, lm *auditortest.FakeLedgerManager, admin *auditortest.FakeAdminClient, checker *auditortest.FakeChecker, urMgr *auditortest.FakeUnderReplicationManager) *State {
	t.Helper()
	cluster := auditortest.NewFakeClusterManager(types.NewBookieIDSet(), types.NewBookieIDSet())
	s := New(
		Config{Name: "test", UnderReplicationRoot: "underreplication"},
		lm,
		urMgr,
		cluster,
		&auditortest.FakeIndexer{Index: types.BookieLedgerIndex{}},
		checker,
		&auditortest.FakeResourceFactory{Admin: admin},
	)
	t.Cleanup(func() { s.bookieLane.ShutdownNow(); s.urLane.ShutdownNow() })
	return s
}

// Scenario 5: ledger deleted mid-check. Enumeration yields {10, 11};
// opening 10 fails as "no such ledger"; 11 completes normally with no
// lost fragments. Overall result is OK with zero publishes and no hang.
func TestCheckAllLedgers_LedgerDeletedMidCheck(t *testing.T) {
	lm := auditortest.NewFakeLedgerManager(10, 11)
	admin := auditortest.NewFakeAdminClient(11) // 10 does not exist
	checker := auditortest.NewFakeChecker()
	urMgr := auditortest.NewFakeUnderReplicationManager("underreplication")
	s := newCheckTestState(t, lm, admin, checker, urMgr)

	err := s.checkAllLedgers(context.Background())
	require.NoError(t, err)

	assert.Empty(t, urMgr.Records())
	assert.True(t, admin.Closed())
}

func TestCheckAllLedgers_PublishesDistinctBookiesPerLostFragment(t *testing.T) {
	lm := auditortest.NewFakeLedgerManager(1)
	admin := auditortest.NewFakeAdminClient(1)
	checker := auditortest.NewFakeChecker()
	checker.ScriptResult(1, ItemResultOK, []types.LedgerFragment{
		{FirstEntryID: 0, Bookies: types.NewBookieIDSet("A", "B")},
		{FirstEntryID: 10, Bookies: types.NewBookieIDSet("B", "C")},
	})
	urMgr := auditortest.NewFakeUnderReplicationManager("underreplication")
	s := newCheckTestState(t, lm, admin, checker, urMgr)

	require.NoError(t, s.checkAllLedgers(context.Background()))

	records := urMgr.Records()
	bookies := make(map[types.BookieID]bool)
	for _, r := range records {
		assert.Equal(t, types.LedgerID(1), r.LedgerID)
		bookies[r.Missing] = true
	}
	assert.Len(t, records, 3)
	assert.True(t, bookies["A"] && bookies["B"] && bookies["C"])
}

func TestCheckAllLedgers_OpenFailureOtherThanNoSuchLedger(t *testing.T) {
	lm := auditortest.NewFakeLedgerManager(1)
	admin := auditortest.NewFakeAdminClient()
	admin.OpenErr[1] = assert.AnError
	checker := auditortest.NewFakeChecker()
	urMgr := auditortest.NewFakeUnderReplicationManager("underreplication")
	s := newCheckTestState(t, lm, admin, checker, urMgr)

	require.NoError(t, s.checkAllLedgers(context.Background()))
	assert.Empty(t, urMgr.Records())
}

func TestCheckAllLedgers_ResourcesAlwaysClosed(t *testing.T) {
	lm := auditortest.NewFakeLedgerManager(1, 2, 3)
	admin := auditortest.NewFakeAdminClient(1, 2, 3)
	checker := auditortest.NewFakeChecker()
	urMgr := auditortest.NewFakeUnderReplicationManager("underreplication")
	s := newCheckTestState(t, lm, admin, checker, urMgr)

	require.NoError(t, s.checkAllLedgers(context.Background()))
	assert.True(t, admin.Closed())
}
