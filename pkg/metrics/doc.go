// Package metrics registers ledgerwatch's Prometheus metrics and exposes
// them over HTTP, plus a small Timer helper for histogram observations.
package metrics
