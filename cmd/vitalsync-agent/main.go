// Package main is the entrypoint for the vitalsync client CLI.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	vitalsync "github.com/vitalmed/vitalsync"
	"github.com/vitalmed/vitalsync/internal/config"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vitalsync-agent",
		Short: "VitalSync offline sync client for the dispatch network",
		Long: `VitalSync keeps a local cache of critical dispatch data and a queue of
actions taken while offline, synchronizing them with the dispatch server
whenever a connection is available.

Run 'vitalsync-agent start' to run the sync daemon.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newStatusCmd(),
		newSyncCmd(),
		newClearCmd(),
		newStartCmd(),
	)

	return rootCmd
}

func newLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("VitalSync Agent %s\n", Version)
			fmt.Printf("  Commit: %s\n", Commit)
			fmt.Printf("  Built: %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
		},
	}
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage client configuration",
	}
	configCmd.AddCommand(newConfigShowCmd(), newConfigSetServerCmd())
	return configCmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDefault()
			if err != nil {
				return err
			}
			fmt.Printf("Server URL:       %s\n", valueOrUnset(cfg.ServerURL))
			fmt.Printf("API key:          %s\n", maskSecret(cfg.APIKey))
			fmt.Printf("Storage backend:  %s\n", cfg.StorageBackend)
			if cfg.DataDir != "" {
				fmt.Printf("Data directory:   %s\n", cfg.DataDir)
			}
			if cfg.RedisAddr != "" {
				fmt.Printf("Redis address:    %s\n", cfg.RedisAddr)
			}
			fmt.Printf("Compression:      %t\n", cfg.Compression)
			fmt.Printf("Encrypted:        %t\n", cfg.EncryptionKey != "")
			fmt.Printf("Max queue size:   %d\n", cfg.MaxQueueSize)
			fmt.Printf("Max retries:      %d\n", cfg.MaxRetries)
			fmt.Printf("Cache TTL:        %s\n", cfg.CacheTTL)
			if cfg.SyncSchedule != "" {
				fmt.Printf("Sync schedule:    %s\n", cfg.SyncSchedule)
			}
			return nil
		},
	}
}

func newConfigSetServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-server <url>",
		Short: "Set the dispatch server URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDefault()
			if err != nil {
				return err
			}
			cfg.ServerURL = strings.TrimRight(args[0], "/")
			if err := cfg.SaveDefault(); err != nil {
				return err
			}
			fmt.Printf("Server URL set to %s\n", cfg.ServerURL)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync backlog and connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			stats := client.Stats()
			fmt.Printf("Pending actions:  %d\n", stats.PendingCount)
			fmt.Printf("Failed items:     %t\n", stats.HasFailedItems)
			if stats.OldestPending != nil {
				fmt.Printf("Oldest pending:   %s\n", stats.OldestPending.Format("2006-01-02 15:04:05"))
			}
			if stats.SyncAgeMinutes != nil {
				fmt.Printf("Last sync:        %.1f minutes ago\n", *stats.SyncAgeMinutes)
			} else {
				fmt.Println("Last sync:        never")
			}

			for _, item := range client.PendingPreview(5) {
				fmt.Printf("  - %s %s (retries: %d)\n", item.ID, item.Action.Type, item.RetryCount)
			}
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			client.SetOnline(true)
			res := client.SyncNow(cmd.Context())
			if res.Reason != "" {
				fmt.Printf("Sync not started: %s\n", res.Reason)
				return nil
			}
			fmt.Printf("Synced %d action(s), %d failed\n", res.SyncedCount, res.FailedCount)
			return nil
		},
	}
}

func newClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Erase all cached data and pending actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("this deletes unsynced actions; re-run with --yes to confirm")
			}
			client, err := loadClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.ClearAll(cmd.Context(), true); err != nil {
				return err
			}
			fmt.Println("All offline data cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion of unsynced data")
	return cmd
}

func newStartCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.LoadDefault()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			opts := []vitalsync.Option{vitalsync.WithLogger(logger)}
			registry := prometheus.NewRegistry()
			if metricsAddr != "" {
				opts = append(opts, vitalsync.WithMetrics(registry))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := vitalsync.New(ctx, cfg, opts...)
			if err != nil {
				return err
			}
			defer client.Close()

			if metricsAddr != "" {
				go serveMetrics(metricsAddr, registry, logger)
			}

			client.Start(ctx)
			<-ctx.Done()
			logger.Info().Msg("shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9109)")
	return cmd
}

func serveMetrics(addr string, registry *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics endpoint failed")
	}
}

// loadClient builds a client from the default config for one-shot commands.
func loadClient(ctx context.Context) (*vitalsync.Client, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("client is not configured: %w", err)
	}
	return vitalsync.New(ctx, cfg, vitalsync.WithLogger(newLogger()))
}

func valueOrUnset(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}

func maskSecret(v string) string {
	if v == "" {
		return "(not set)"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}
