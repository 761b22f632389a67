// Command harvest loads PDS product labels into the registry index.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"harvest/internal/config"
	"harvest/internal/home"
	"harvest/internal/logging"
	"harvest/internal/orchestrator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// Allow all levels in the base handler; filtering is done by ComponentFilterHandler.
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:           "harvest",
		Short:         "PDS registry ingestion service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyLogLevels(cmd, filterHandler); err != nil {
				return err
			}
			pprofAddr, _ := cmd.Flags().GetString("pprof")
			if pprofAddr != "" {
				go func() {
					logger.Info("pprof server listening", "addr", pprofAddr)
					if err := http.ListenAndServe(pprofAddr, nil); err != nil { //nolint:gosec // G114: debug endpoint
						logger.Error("pprof server error", "error", err)
					}
				}()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("home", "", "home directory (default: platform config dir)")
	rootCmd.PersistentFlags().String("config", "", "config file (default: <home>/harvest.toml if present)")
	rootCmd.PersistentFlags().String("log-level", "info", "default log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringSlice("log-component-level", nil, "per-component log level, e.g. broker=debug")
	rootCmd.PersistentFlags().String("pprof", "", "pprof HTTP server address (e.g. localhost:6060). Bind to loopback only")
	config.RegisterFlags(rootCmd.PersistentFlags())

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Consume product, collection and command messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := loadConfig(cmd, logger)
			if err != nil {
				return err
			}
			return run(ctx, logger, cfg)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, logger)
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serverCmd, checkCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("harvest failed", "error", err)
		os.Exit(1)
	}
}

func applyLogLevels(cmd *cobra.Command, h *logging.ComponentFilterHandler) error {
	levelName, _ := cmd.Flags().GetString("log-level")
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	h.SetDefaultLevel(level)

	overrides, _ := cmd.Flags().GetStringSlice("log-component-level")
	for _, o := range overrides {
		component, level, err := logging.ParseComponentLevel(o)
		if err != nil {
			return err
		}
		h.SetLevel(component, level)
	}
	return nil
}

func loadConfig(cmd *cobra.Command, logger *slog.Logger) (config.Config, error) {
	homeFlag, _ := cmd.Flags().GetString("home")
	hd, err := resolveHome(homeFlag)
	if err != nil {
		return config.Config{}, fmt.Errorf("resolve home directory: %w", err)
	}

	file, _ := cmd.Flags().GetString("config")
	if file == "" {
		file = hd.ExistingConfigPath()
	}
	logger.Info("loading config", "home", hd.Root(), "file", file)

	cfg, err := config.Load(file, cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	if err := applyHome(&cfg, hd); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(logger); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// applyHome fills settings that default to files in the home directory.
// The node name falls back to the persistent node identity.
func applyHome(cfg *config.Config, hd home.Dir) error {
	if cfg.Registry.AuthFile == "" {
		cfg.Registry.AuthFile = existing(hd.AuthPath())
	}
	if cfg.Schema.DataTypesFile == "" {
		cfg.Schema.DataTypesFile = existing(hd.DataTypesPath())
	}
	if cfg.Harvest.NodeName == "" {
		if err := hd.EnsureExists(); err != nil {
			return err
		}
		id, err := hd.NodeID()
		if err != nil {
			return fmt.Errorf("node identity: %w", err)
		}
		cfg.Harvest.NodeName = id
	}
	return nil
}

func existing(p string) string {
	if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
		return p
	}
	return ""
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	orch, err := orchestrator.New(orchestrator.Config{
		Service:    cfg,
		Registerer: reg,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if err := orch.Start(ctx); err != nil {
		shutdownMetrics(logger, metricsSrv)
		if ctx.Err() != nil {
			logger.Info("shutdown before the broker connected")
			return nil
		}
		return fmt.Errorf("start orchestrator: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	stopErr := orch.Stop()
	shutdownMetrics(logger, metricsSrv)
	if stopErr != nil {
		return fmt.Errorf("stop orchestrator: %w", stopErr)
	}
	logger.Info("shutdown complete")
	return nil
}

func shutdownMetrics(logger *slog.Logger, srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
	}
}

func printConfig(w io.Writer, cfg config.Config) {
	_, _ = fmt.Fprintf(w, "broker.type = %s\n", cfg.Broker.Type)
	_, _ = fmt.Fprintf(w, "broker.hosts = %v\n", cfg.Broker.Hosts)
	_, _ = fmt.Fprintf(w, "broker.queues = %s, %s, %s\n",
		cfg.Broker.Queues.Products, cfg.Broker.Queues.Collections, cfg.Broker.Queues.Commands)
	_, _ = fmt.Fprintf(w, "registry.url = %s\n", cfg.Registry.URL)
	_, _ = fmt.Fprintf(w, "registry.index = %s\n", cfg.Registry.Index)
	_, _ = fmt.Fprintf(w, "registry.auth_file = %s\n", cfg.Registry.AuthFile)
	_, _ = fmt.Fprintf(w, "schema.update = %t\n", cfg.Schema.Update)
	_, _ = fmt.Fprintf(w, "schema.on_update_failure = %s\n", cfg.Schema.OnUpdateFailure)
	_, _ = fmt.Fprintf(w, "harvest.node_name = %s\n", cfg.Harvest.NodeName)
	_, _ = fmt.Fprintf(w, "metrics.addr = %s\n", cfg.Metrics.Addr)
}

func resolveHome(flagValue string) (home.Dir, error) {
	if flagValue != "" {
		return home.New(flagValue), nil
	}
	return home.Default()
}
