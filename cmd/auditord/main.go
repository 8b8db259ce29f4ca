package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/ledgerwatch/pkg/auditor"
	"github.com/cuemby/ledgerwatch/pkg/auditor/auditortest"
	"github.com/cuemby/ledgerwatch/pkg/cluster"
	"github.com/cuemby/ledgerwatch/pkg/config"
	"github.com/cuemby/ledgerwatch/pkg/log"
	"github.com/cuemby/ledgerwatch/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "auditord",
	Short:   "ledgerwatch auditor: detects under-replicated bookies and ledgers",
	Version: Version,
	RunE:    runAuditord,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("auditord version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to auditord.yaml (optional)")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("metrics-addr", "", "Address for the /metrics HTTP endpoint")
	rootCmd.Flags().String("auditor-name", "", "Name tag for this auditor instance")
	rootCmd.Flags().StringSlice("metadata-store-endpoints", nil, "Metadata store (etcd) endpoints")
	rootCmd.Flags().Int("bookie-staleness-window", 0, "Seconds of silence before a bookie is judged stale")
	rootCmd.Flags().Bool("bookie-health-probe", false, "Refine staleness detection with an active gRPC health probe")
}

func runAuditord(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("auditord")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metadataClient := &cluster.EtcdMetadataStoreClient{}
	if err := metadataClient.Connect(ctx, cfg.MetadataStoreEndpoints, cfg.MetadataStoreDialTimeout()); err != nil {
		return fmt.Errorf("connect to metadata store: %w", err)
	}
	defer metadataClient.Close()

	var probe *cluster.GRPCProbe
	if cfg.BookieHealthProbeEnabled {
		probe = cluster.NewGRPCProbe(cfg.BookieHealthProbeTimeout())
	}
	clusterManager := cluster.NewEtcdClusterManager(
		metadataClient.Client(),
		cfg.BookieRegistrationPrefix,
		cfg.BookieStalenessWindow(),
		probe,
	)

	state := auditor.New(
		auditor.Config{
			Name:                 cfg.AuditorName,
			BookieAuditInterval:  cfg.BookieAuditInterval(),
			LedgerCheckInterval:  cfg.LedgerCheckInterval(),
			URSnapshotInterval:   cfg.URSnapshotInterval(),
			UnderReplicationRoot: cfg.UnderReplicationRoot,
			OwnsClusterManager:   true,
		},
		cluster.NewEtcdLedgerManager(metadataClient.Client(), cfg.LedgerRegistrationPrefix),
		cluster.NewEtcdUnderReplicationManager(metadataClient.Client(), "/"+cfg.UnderReplicationRoot),
		clusterManager,
		cluster.NewEtcdBookieLedgerIndexer(metadataClient.Client(), cfg.LedgerIndexPrefix),
		newLedgerChecker(),
		newResourceFactory(),
	)

	metrics.SetVersion(Version)
	metrics.RegisterComponent("metadata-store", true, "connected")
	metrics.RegisterComponent("cluster-manager", false, "starting")

	if err := state.Start(ctx); err != nil {
		metrics.RegisterComponent("cluster-manager", false, err.Error())
		return fmt.Errorf("start auditor: %w", err)
	}
	metrics.RegisterComponent("cluster-manager", true, "running")
	logger.Info().Str("auditor", cfg.AuditorName).Msg("auditor started")

	metricsAddr := cfg.MetricsAddr
	srv := &http.Server{Addr: metricsAddr, Handler: metricsMux()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	state.Shutdown(shutdownCtx)

	_ = srv.Close()
	logger.Info().Msg("shutdown complete")
	return nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	return mux
}

// newLedgerChecker and newResourceFactory stand in for a real bookie
// storage RPC client, which is genuinely out of this repository's scope:
// verifying a ledger's fragments requires talking to live bookie storage
// nodes, not the metadata store. Wire a real implementation of
// auditor.LedgerChecker/auditor.AdminClient here once that client
// exists.
func newLedgerChecker() auditor.LedgerChecker {
	return auditortest.NewFakeChecker()
}

func newResourceFactory() auditor.ResourceFactory {
	return &auditortest.FakeResourceFactory{Admin: auditortest.NewFakeAdminClient()}
}
