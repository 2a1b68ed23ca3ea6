package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/config"
	"github.com/latticehq/hostd/pkg/host"
	"github.com/latticehq/hostd/pkg/localcache"
	"github.com/latticehq/hostd/pkg/log"
)

var (
	// Version information, set via ldflags during build.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "hostd",
	Short:   "hostd runs one lattice host process",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("hostd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().String("config", "", "Path to a host config YAML file")
	startCmd.Flags().String("host-id", "", "This host's public identifier (generated if empty)")
	startCmd.Flags().String("lattice", "default", "Lattice prefix to join")
	startCmd.Flags().String("bus-url", "nats://127.0.0.1:4222", "Bus server URL")
	startCmd.Flags().String("bus-seed-file", "", "nkeys seed file for bus authentication")
	startCmd.Flags().String("data-dir", "./lattice-data", "Local data directory")
	startCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	startCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	startCmd.Flags().String("secrets-passphrase", "", "Override the derived secrets-sealing key")
	startCmd.Flags().StringToString("label", nil, "Placement label key=value, repeatable")
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the host and join its lattice",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()

		if path, _ := cmd.Flags().GetString("config"); path != "" {
			loaded, err := config.Load(path)
			if err != nil {
				return err
			}
			cfg = loaded
		}

		if v, _ := cmd.Flags().GetString("host-id"); v != "" {
			cfg.HostID = v
		}
		if v, _ := cmd.Flags().GetString("lattice"); cmd.Flags().Changed("lattice") && v != "" {
			cfg.Lattice = v
		}
		if v, _ := cmd.Flags().GetString("bus-url"); cmd.Flags().Changed("bus-url") && v != "" {
			cfg.BusURL = v
		}
		if v, _ := cmd.Flags().GetString("bus-seed-file"); v != "" {
			cfg.BusSeedFile = v
		}
		if v, _ := cmd.Flags().GetString("data-dir"); cmd.Flags().Changed("data-dir") && v != "" {
			cfg.DataDir = v
		}
		if v, _ := cmd.Flags().GetString("log-level"); cmd.Flags().Changed("log-level") && v != "" {
			cfg.LogLevel = v
		}
		if v, _ := cmd.Flags().GetBool("log-json"); v {
			cfg.LogJSON = v
		}
		if v, _ := cmd.Flags().GetString("secrets-passphrase"); v != "" {
			cfg.SecretsPassphrase = v
		}
		if labels, _ := cmd.Flags().GetStringToString("label"); len(labels) > 0 {
			cfg.Labels = labels
		}
		if cfg.HostID == "" {
			cfg.HostID = "HOST" + uuid.NewString()
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})

		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data dir %s: %w", cfg.DataDir, err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		b, err := bus.NewNats(ctx, bus.NatsConfig{
			URL:      cfg.BusURL,
			SeedFile: cfg.BusSeedFile,
		})
		if err != nil {
			return fmt.Errorf("connecting to bus: %w", err)
		}
		defer b.Close()

		localCache, err := localcache.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("opening local cache: %w", err)
		}

		h, err := host.New(cfg, b, localCache, host.LocalFileFetcher{})
		if err != nil {
			return fmt.Errorf("constructing host: %w", err)
		}

		if err := h.Start(ctx); err != nil {
			return fmt.Errorf("starting host: %w", err)
		}

		fmt.Printf("hostd %s joined lattice %q as %s\n", Version, cfg.Lattice, cfg.HostID)
		fmt.Println("Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		if err := h.StopHost(context.Background(), 10*time.Second); err != nil {
			return fmt.Errorf("stopping host: %w", err)
		}
		fmt.Println("Shutdown complete")
		return nil
	},
}
