package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/raftnode/pkg/agent"
	"github.com/cuemby/raftnode/pkg/log"
	"github.com/cuemby/raftnode/pkg/metrics"
)

var errRequireListen = errors.New("raftnode: --listen is required when --config is not set")

var (
	flagConfig          string
	flagNodeID          uint64
	flagListen          string
	flagDataDir         string
	flagInMemory        bool
	flagElectionTimeout time.Duration
	flagRequestTimeout  time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run this node's raft agent until terminated",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagConfig, "config", "", "Path to a YAML config file (overrides other flags when set)")
	serveCmd.Flags().Uint64Var(&flagNodeID, "node-id", 0, "This node's numeric id")
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Address this node's raft RPC server binds to")
	serveCmd.Flags().StringVar(&flagDataDir, "data-dir", "./raftnode-data", "Directory for durable raft storage")
	serveCmd.Flags().BoolVar(&flagInMemory, "in-memory", false, "Keep raft state in memory only (for testing)")
	serveCmd.Flags().DurationVar(&flagElectionTimeout, "election-timeout", 0, "Base election timeout (0 uses the core's default)")
	serveCmd.Flags().DurationVar(&flagRequestTimeout, "request-timeout", 0, "Per-RPC timeout (0 uses the core's default)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	a, err := agent.New(cfg)
	if err != nil {
		return err
	}

	nodeLog := log.WithNode(cfg.NodeID)
	nodeLog.Info().Str("listen", cfg.Listen).Int("peers", len(cfg.Peers)).Msg("starting raftnode agent")

	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			nodeLog.Error().Err(err).Msg("metrics server failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		nodeLog.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	case err := <-errCh:
		cancel()
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	return <-errCh
}

func loadServeConfig() (agent.Config, error) {
	if flagConfig != "" {
		return agent.LoadConfig(flagConfig)
	}

	cfg := agent.Config{
		NodeID:          flagNodeID,
		Listen:          flagListen,
		DataDir:         flagDataDir,
		InMemory:        flagInMemory,
		ElectionTimeout: flagElectionTimeout,
		RequestTimeout:  flagRequestTimeout,
	}
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	cfg.LogLevel = logLevel
	cfg.LogJSON = logJSON
	cfg.Defaults()
	if cfg.Listen == "" {
		return agent.Config{}, errRequireListen
	}
	return cfg, nil
}
