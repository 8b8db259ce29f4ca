package auditor

import "errors"

// Sentinel errors for the taxonomy in §7. They are kinds, not exhaustive
// types: production collaborators may wrap arbitrary causes, but every
// lane task that observes one of these treats it according to the rule
// named here.
var (
	// ErrReplicationUnavailable means the under-replication manager's
	// availability check itself failed. Transient: log, skip the current
	// cycle, rely on the next tick.
	ErrReplicationUnavailable = errors.New("auditor: under-replication manager unavailable")

	// ErrClusterView means the cluster manager failed to produce a
	// membership view. Fatal: triggers a shutdown request.
	ErrClusterView = errors.New("auditor: cluster manager failed to produce a view")

	// ErrPublishFailed means a publish to the under-replication manager
	// failed mid-cycle. The remaining publishes for that cycle are
	// abandoned; the next tick retries.
	ErrPublishFailed = errors.New("auditor: publish to under-replication manager failed")

	// ErrNoSuchLedger means the ledger was deleted between enumeration and
	// open. Treated as a successful item outcome, not a failure.
	ErrNoSuchLedger = errors.New("auditor: ledger no longer exists")

	// ErrAuditorShutdown means a submission was rejected because the
	// lane backing it has already been shut down.
	ErrAuditorShutdown = errors.New("auditor: shut down, submission rejected")
)
