package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/ledgerwatch/pkg/log"
	"github.com/cuemby/ledgerwatch/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCProbe performs an active liveness check against a bookie's gRPC
// health endpoint, supplementing lease-based staleness detection — a
// bookie whose heartbeat write is merely slow can still prove itself
// alive here before EtcdClusterManager condemns it.
type GRPCProbe struct {
	timeout time.Duration
	logger  zerolog.Logger

	// dial is overridable in tests; defaults to a real insecure gRPC dial.
	dial func(ctx context.Context, target string) (grpc_health_v1.HealthClient, func() error, error)
}

// NewGRPCProbe builds a probe that dials each target fresh per call and
// times out after timeout.
func NewGRPCProbe(timeout time.Duration) *GRPCProbe {
	return &GRPCProbe{
		timeout: timeout,
		logger:  log.WithComponent("cluster-grpcprobe"),
		dial:    dialHealthClient,
	}
}

func dialHealthClient(ctx context.Context, target string) (grpc_health_v1.HealthClient, func() error, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("cluster: dial bookie health endpoint: %w", err)
	}
	return grpc_health_v1.NewHealthClient(conn), conn.Close, nil
}

// IsHealthy reports whether bookieID's gRPC health endpoint (its
// BookieID is used directly as the dial target, host:port) reports
// SERVING. Any error, including a dial failure or timeout, is treated as
// unhealthy.
func (p *GRPCProbe) IsHealthy(ctx context.Context, bookieID types.BookieID) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, closeConn, err := p.dial(ctx, string(bookieID))
	if err != nil {
		p.logger.Debug().Str("bookie", string(bookieID)).Err(err).Msg("health probe dial failed")
		return false
	}
	defer closeConn()

	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		p.logger.Debug().Str("bookie", string(bookieID)).Err(err).Msg("health probe check failed")
		return false
	}
	return resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING
}
