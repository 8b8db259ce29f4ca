// Package auditor implements the ledger store's Auditor control plane:
// two independently-scheduled cycles that detect under-replicated ledgers
// (lost bookies, and suspect fragments found during full ledger checks)
// and publish repair records to an external under-replication queue.
package auditor
