// Package types defines the core value types shared across the auditor's
// packages: bookie and ledger identifiers, the per-cycle cluster and index
// snapshots, and the records the auditor publishes to the under-replication
// queue.
package types

import "fmt"

// BookieID is the opaque address (host+port) of a storage node.
type BookieID string

// String satisfies fmt.Stringer so BookieID prints as its bare address.
func (b BookieID) String() string {
	return string(b)
}

// LedgerID is the 64-bit identifier of an immutable replicated log.
type LedgerID uint64

// LedgerIDSet is a set of ledger identifiers.
type LedgerIDSet map[LedgerID]struct{}

// NewLedgerIDSet builds a set from the given ids.
func NewLedgerIDSet(ids ...LedgerID) LedgerIDSet {
	s := make(LedgerIDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id into the set.
func (s LedgerIDSet) Add(id LedgerID) {
	s[id] = struct{}{}
}

// Slice returns the set's members in no particular order.
func (s LedgerIDSet) Slice() []LedgerID {
	out := make([]LedgerID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// BookieIDSet is a set of bookie identifiers.
type BookieIDSet map[BookieID]struct{}

// NewBookieIDSet builds a set from the given ids.
func NewBookieIDSet(ids ...BookieID) BookieIDSet {
	s := make(BookieIDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is a member of the set.
func (s BookieIDSet) Contains(id BookieID) bool {
	_, ok := s[id]
	return ok
}

// Union returns a new set containing the members of s and other.
func (s BookieIDSet) Union(other BookieIDSet) BookieIDSet {
	out := make(BookieIDSet, len(s)+len(other))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Slice returns the set's members in no particular order.
func (s BookieIDSet) Slice() []BookieID {
	out := make([]BookieID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// BookieLedgerIndex maps each bookie to the ledgers known to reside on it.
// Built fresh for a single bookie audit cycle and discarded afterward —
// it is never reused across cycles (data model invariant 2).
type BookieLedgerIndex map[BookieID]LedgerIDSet

// Keys returns the bookies present in the index.
func (idx BookieLedgerIndex) Keys() BookieIDSet {
	out := make(BookieIDSet, len(idx))
	for b := range idx {
		out[b] = struct{}{}
	}
	return out
}

// ClusterView is a point-in-time snapshot of cluster membership as seen by
// the bookie cluster manager.
type ClusterView struct {
	Active BookieIDSet
	Stale  BookieIDSet
}

// LedgerFragment is a contiguous portion of a ledger, identified by its
// first entry id within the ensemble, together with the bookies currently
// hosting it.
type LedgerFragment struct {
	FirstEntryID int64
	Bookies      BookieIDSet
}

// UnderReplicationRecord is a single (ledger, missing bookie) pair the
// auditor publishes to the external under-replication queue.
type UnderReplicationRecord struct {
	LedgerID LedgerID
	Missing  BookieID
}

func (r UnderReplicationRecord) String() string {
	return fmt.Sprintf("ledger=%d missing=%s", r.LedgerID, r.Missing)
}
