package cluster

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/ledgerwatch/pkg/types"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdBookieLedgerIndexer implements auditor.BookieLedgerIndexer by
// reading a per-bookie ledger ownership index maintained under
// "<prefix>/<bookieID>/<ledgerID>" (ledgerID in decimal) — one key per
// (bookie, ledger) pair a bookie is known to host a fragment of. This
// index is maintained by the replication worker, out of scope here; the
// Auditor only reads it.
type EtcdBookieLedgerIndexer struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdBookieLedgerIndexer builds an indexer rooted at prefix (e.g.
// "/ledgerwatch/ledger-index").
func NewEtcdBookieLedgerIndexer(client *clientv3.Client, prefix string) *EtcdBookieLedgerIndexer {
	return &EtcdBookieLedgerIndexer{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
	}
}

// GetBookieToLedgerIndex reads the full index in one range read.
func (idx *EtcdBookieLedgerIndexer) GetBookieToLedgerIndex(ctx context.Context) (types.BookieLedgerIndex, error) {
	resp, err := idx.client.Get(ctx, idx.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("cluster: read bookie-ledger index: %w", err)
	}

	out := make(types.BookieLedgerIndex)
	for _, kv := range resp.Kvs {
		rest := strings.TrimPrefix(string(kv.Key), idx.prefix+"/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			continue
		}
		bookieID := types.BookieID(parts[0])
		ledgerID, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			continue
		}
		if out[bookieID] == nil {
			out[bookieID] = types.NewLedgerIDSet()
		}
		out[bookieID].Add(types.LedgerID(ledgerID))
	}
	return out, nil
}
