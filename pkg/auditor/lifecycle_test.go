package auditor

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/ledgerwatch/pkg/auditor/auditortest"
	"github.com/cuemby/ledgerwatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLifecycleTestState(t *testing.T, cfg Config, cluster *auditortest.FakeClusterManager) *State {
	t.Helper()
	urMgr := auditortest.NewFakeUnderReplicationManager("underreplication")
	s := New(
		cfg,
		auditortest.NewFakeLedgerManager(),
		urMgr,
		cluster,
		&auditortest.FakeIndexer{Index: types.BookieLedgerIndex{}},
		auditortest.NewFakeChecker(),
		&auditortest.FakeResourceFactory{Admin: auditortest.NewFakeAdminClient()},
	)
	return s
}

func TestLifecycle_IsRunningTrueAfterStart(t *testing.T) {
	cluster := auditortest.NewFakeClusterManager(types.NewBookieIDSet(), types.NewBookieIDSet())
	s := newLifecycleTestState(t, Config{Name: "test"}, cluster)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	s.Shutdown(context.Background())
}

// Invariant 6: after shutdown() returns, isRunning() is false and no
// subsequent submission succeeds.
func TestLifecycle_ShutdownIsTerminal(t *testing.T) {
	cluster := auditortest.NewFakeClusterManager(types.NewBookieIDSet(), types.NewBookieIDSet())
	s := newLifecycleTestState(t, Config{Name: "test"}, cluster)
	require.NoError(t, s.Start(context.Background()))

	s.Shutdown(context.Background())

	assert.False(t, s.IsRunning())
	_, err := s.SubmitAuditTask()
	assert.ErrorIs(t, err, ErrAuditorShutdown)
}

func TestLifecycle_StartFailsWhenClusterManagerFailsToStart(t *testing.T) {
	cluster := auditortest.NewFakeClusterManager(types.NewBookieIDSet(), types.NewBookieIDSet())
	cluster.SetStartError(assert.AnError)
	s := newLifecycleTestState(t, Config{Name: "test"}, cluster)

	err := s.Start(context.Background())
	assert.Error(t, err)

	require.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, time.Millisecond)
}

func TestLifecycle_ShutdownClosesOwnedClusterManager(t *testing.T) {
	cluster := auditortest.NewFakeClusterManager(types.NewBookieIDSet(), types.NewBookieIDSet())
	s := newLifecycleTestState(t, Config{Name: "test", OwnsClusterManager: true}, cluster)
	require.NoError(t, s.Start(context.Background()))

	s.Shutdown(context.Background())

	assert.True(t, cluster.Closed())
}

func TestLifecycle_ShutdownDoesNotCloseInjectedClusterManager(t *testing.T) {
	cluster := auditortest.NewFakeClusterManager(types.NewBookieIDSet(), types.NewBookieIDSet())
	s := newLifecycleTestState(t, Config{Name: "test", OwnsClusterManager: false}, cluster)
	require.NoError(t, s.Start(context.Background()))

	s.Shutdown(context.Background())

	assert.False(t, cluster.Closed())
}

func TestLifecycle_SubmitShutdownTaskIsIdempotent(t *testing.T) {
	cluster := auditortest.NewFakeClusterManager(types.NewBookieIDSet(), types.NewBookieIDSet())
	s := newLifecycleTestState(t, Config{Name: "test"}, cluster)
	require.NoError(t, s.Start(context.Background()))

	s.Shutdown(context.Background())
	assert.NoError(t, s.SubmitShutdownTask())
}
