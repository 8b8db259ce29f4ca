// Package scheduler provides Lane, a named, single-worker serial task
// executor. ledgerwatch's auditor owns two independent lanes — one for
// bookie/ledger audits, one for under-replication snapshotting — so that
// neither blocks the other's cadence while tasks within a single lane
// never run concurrently with themselves.
package scheduler
