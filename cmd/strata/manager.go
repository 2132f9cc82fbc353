package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/strata/pkg/api"
	"github.com/cuemby/strata/pkg/config"
	"github.com/cuemby/strata/pkg/dispatch"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/manager"
	"github.com/cuemby/strata/pkg/metrics"
	"github.com/cuemby/strata/pkg/nodestate"
	"github.com/cuemby/strata/pkg/pendingops"
	"github.com/cuemby/strata/pkg/placement"
	"github.com/cuemby/strata/pkg/reconciler"
	"github.com/cuemby/strata/pkg/replication"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// Manager commands
var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Run the storage container manager",
}

var managerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a Strata manager",
	Long: `Start a Strata manager with this node as the only Raft voter.

The manager loads cluster metadata from its data directory, runs the
replication loop while it leads and serves health, readiness and metrics
endpoints. Datanodes register, heartbeat for commands and report replicas
over the gRPC address. Flags override values from the config file.`,
	RunE: runManagerStart,
}

func init() {
	managerCmd.AddCommand(managerStartCmd)

	managerStartCmd.Flags().StringP("config", "c", "", "Path to YAML config file")
	managerStartCmd.Flags().String("node-id", "", "Unique node ID (default: hostname)")
	managerStartCmd.Flags().String("bind-addr", "", "Address for Raft communication")
	managerStartCmd.Flags().String("data-dir", "", "Data directory for cluster state")
	managerStartCmd.Flags().String("http-addr", "", "Address for health and metrics endpoints")
	managerStartCmd.Flags().String("grpc-addr", "", "Address for the gRPC datanode and health services")
	managerStartCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	managerStartCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
}

// loadConfig reads the config file if one is given and applies flag
// overrides on top
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overrides := map[string]*string{
		"node-id":   &cfg.NodeID,
		"bind-addr": &cfg.BindAddr,
		"data-dir":  &cfg.DataDir,
		"http-addr": &cfg.HTTPAddr,
		"grpc-addr": &cfg.GRPCAddr,
		"log-level": &cfg.Log.Level,
	}
	for flag, field := range overrides {
		if cmd.Flags().Changed(flag) {
			*field, _ = cmd.Flags().GetString(flag)
		}
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runManagerStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	metrics.SetVersion(Version)
	logger := log.WithComponent("cli")

	containerSize, err := cfg.Replication.ContainerSizeBytes()
	if err != nil {
		return err
	}

	// Create manager
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   cfg.NodeID,
		BindAddr: cfg.BindAddr,
		DataDir:  cfg.DataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	if err := mgr.Bootstrap(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}
	if err := mgr.WaitForLeader(30 * time.Second); err != nil {
		logger.Warn().Err(err).Msg("Starting without leadership")
	}

	broker := mgr.GetEventBroker()

	// Node registry, seeded from persisted membership
	registry := nodestate.NewRegistry(nodestate.Config{
		StaleInterval: cfg.Nodes.StaleInterval.Std(),
		DeadInterval:  cfg.Nodes.DeadInterval.Std(),
	}, broker, mgr)
	nodes, err := mgr.ListNodes()
	if err != nil {
		return fmt.Errorf("failed to load nodes: %w", err)
	}
	registry.Load(nodes)

	ledger := pendingops.NewLedger(cfg.Replication.PendingOpExpiry.Std(), broker)
	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		ReplicationLimit: cfg.Replication.DatanodeReplicationLimit,
		CommandDeadline:  cfg.Replication.CommandDeadline.Std(),
		Push:             cfg.Replication.Push,
	}, mgr, ledger, broker)

	policy := placement.NewRackScatter(registry)
	replMetrics := metrics.NewReplicationMetrics(prometheus.DefaultRegisterer)
	handlerCfg := replication.Config{ContainerSize: containerSize}

	recon := reconciler.NewReconciler(reconciler.Config{
		Interval:       cfg.Replication.Interval.Std(),
		Parallelism:    cfg.Replication.Parallelism,
		BackoffInitial: cfg.Replication.BackoffInitial.Std(),
		BackoffMax:     cfg.Replication.BackoffMax.Std(),
	}, reconciler.Deps{
		Store:     mgr,
		Pending:   ledger,
		Ratis:     replication.NewRatisMisReplicationHandler(policy, registry, dispatcher, replMetrics, handlerCfg),
		EC:        replication.NewECMisReplicationHandler(policy, registry, dispatcher, replMetrics, handlerCfg),
		Leader:    mgr,
		Nodes:     registry,
		Commands:  dispatcher.Queue(),
		Publisher: broker,
	})
	recon.Start()
	logger.Info().Dur("interval", cfg.Replication.Interval.Std()).Msg("Reconciler started")

	collector := manager.NewMetricsCollector(mgr)
	collector.Start()

	// Start API servers in background
	healthServer := api.NewHealthServer(mgr, Version)
	grpcServer := api.NewServer(mgr)
	grpcServer.RegisterDatanodeService(api.NewDatanodeService(registry, dispatcher.Queue(), mgr, ledger))
	errCh := make(chan error, 2)
	go func() {
		if err := healthServer.Start(cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Start(cfg.GRPCAddr); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	logger.Info().
		Str("node_id", cfg.NodeID).
		Str("http_addr", cfg.HTTPAddr).
		Str("grpc_addr", cfg.GRPCAddr).
		Msg("Manager is running")

	// Wait for interrupt signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("Server failed, shutting down")
	}

	// Shutdown
	recon.Stop()
	collector.Stop()
	grpcServer.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Health server shutdown failed")
	}
	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown: %w", err)
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}
