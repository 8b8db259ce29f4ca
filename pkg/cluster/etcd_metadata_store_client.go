package cluster

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdMetadataStoreClient implements auditor.MetadataStoreClient: a thin
// connect-by-endpoints-and-timeout wrapper, matching spec.md §6's
// "connect by endpoints + timeout" contract exactly.
type EtcdMetadataStoreClient struct {
	client *clientv3.Client
}

// Connect dials endpoints with timeout and keeps the resulting client for
// Close. Safe to call once per instance.
func (c *EtcdMetadataStoreClient) Connect(ctx context.Context, endpoints []string, timeout time.Duration) error {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
		Context:     ctx,
	})
	if err != nil {
		return fmt.Errorf("cluster: connect to metadata store: %w", err)
	}
	c.client = client
	return nil
}

// Client returns the underlying etcd client, for collaborators that need
// to issue their own reads/writes against it (e.g. a ResourceFactory
// building a per-cycle AdminClient).
func (c *EtcdMetadataStoreClient) Client() *clientv3.Client {
	return c.client
}

// Close disconnects from the metadata store.
func (c *EtcdMetadataStoreClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
