// Package cluster provides the default, etcd-backed implementations of
// the auditor's BookieClusterManager and MetadataStoreClient
// collaborators: bookie membership is tracked via leased keys under a
// configurable prefix, and staleness is judged by comparing each
// registration's last-refresh timestamp against a configured window,
// optionally refined by an active gRPC health probe.
package cluster
