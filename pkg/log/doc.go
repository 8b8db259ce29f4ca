// Package log wraps zerolog to give every component in ledgerwatch a
// structured, leveled logger with consistent component/bookie/ledger
// context fields.
package log
