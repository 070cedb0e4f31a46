package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/corralhq/corral/pkg/config"
	"github.com/corralhq/corral/pkg/events"
	"github.com/corralhq/corral/pkg/log"
	"github.com/corralhq/corral/pkg/mail"
	"github.com/corralhq/corral/pkg/metrics"
	"github.com/corralhq/corral/pkg/policy"
	"github.com/corralhq/corral/pkg/ports"
	"github.com/corralhq/corral/pkg/reconciler"
	"github.com/corralhq/corral/pkg/runtime"
	"github.com/corralhq/corral/pkg/storage"
	"github.com/corralhq/corral/pkg/types"
)

var (
	// Version information (set via ldflags during build)
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
	Use:   "corral",
	Short: "Corral - Hardware reservation agent for shared compute machines",
	Long: `Corral turns a shared machine into a reservable resource: users book
CPU, RAM and GPUs for a time window and get an SSH-reachable container
with exactly that hardware while the window is open.

The agent runs on each managed machine and reconciles local Docker
state against the reservation table.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Corral version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(configCmd)
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the reservation agent on this machine",
	Long: `Run the reservation agent. The agent opens the local store, connects
to Docker, resolves its computer row by the configured server name and
starts the reconciliation loop. Metrics and health endpoints are served
on the configured metrics address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runAgent(cfg)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Work with agent configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if _, err := config.Load(configPath); err != nil {
			return err
		}
		fmt.Println("Configuration is valid")
		return nil
	},
}

func init() {
	agentCmd.Flags().String("config", "/etc/corral/config.yaml", "Path to the configuration file")
	configCheckCmd.Flags().String("config", "/etc/corral/config.yaml", "Path to the configuration file")
	configCmd.AddCommand(configCheckCmd)
}

func runAgent(cfg *config.Config) error {
	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	metrics.SetVersion(Version)
	logger := log.WithComponent("agent")

	store, err := storage.NewBoltStore(cfg.Node.DataDir)
	if err != nil {
		metrics.RegisterComponent("store", false, err.Error())
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "")

	engine, err := runtime.NewDockerEngine()
	if err != nil {
		metrics.RegisterComponent("docker", false, err.Error())
		return fmt.Errorf("creating docker client: %w", err)
	}
	defer engine.Close()

	if err := pingDocker(engine); err != nil {
		metrics.RegisterComponent("docker", false, err.Error())
		return fmt.Errorf("docker is not reachable: %w", err)
	}
	metrics.RegisterComponent("docker", true, "")
	logger.Info().Msg("docker is reachable")

	computer, err := resolveComputer(store, cfg.Node.ServerName)
	if err != nil {
		return err
	}
	logger.Info().Str("computer", computer.Name).Int64("id", computer.ID).
		Msg("resolved node identity")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	resolver := policy.NewResolver(store, policy.Defaults{
		MinDurationHours:      cfg.Reservations.DefaultMinDurationHours,
		MaxDurationHours:      cfg.Reservations.DefaultMaxDurationHours,
		AdminMaxDurationHours: cfg.Reservations.AdminMaxDurationHours,
		MaxActiveReservations: cfg.Reservations.DefaultMaxActive,
		AdminMaxActive:        cfg.Reservations.AdminMaxActive,
	})
	allocator := ports.NewAllocator(store, cfg.Docker.PortRangeStart, cfg.Docker.PortRangeEnd, nil)

	var mailer mail.Mailer = mail.LogMailer{}
	if cfg.Email.Enabled {
		mailer = mail.NewSMTPMailer(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.From)
	}

	recon := reconciler.New(store, engine, allocator, resolver, mailer, broker, reconciler.Config{
		ComputerID:       computer.ID,
		TickInterval:     time.Duration(cfg.Reconciler.TickSeconds) * time.Second,
		SweepEveryNTicks: cfg.Reconciler.SweepEveryNTicks,
		OrphanGrace:      time.Duration(cfg.Reconciler.OrphanGraceMinutes) * time.Minute,
		RegistryAddress:  cfg.Docker.RegistryAddress,
		DockerTimeout:    time.Duration(cfg.Docker.TimeoutSeconds) * time.Second,
		MountOwnerUID:    cfg.Docker.MountOwnerUID,
		MountOwnerGID:    cfg.Docker.MountOwnerGID,
		EmailEnabled:     cfg.Email.Enabled,
		HelpAddress:      cfg.Email.HelpAddress,
		ClientURL:        cfg.Email.ClientURL,
	})
	recon.Start()
	metrics.RegisterComponent("reconciler", true, "")
	logger.Info().Msg("reconciler started")

	collector := metrics.NewCollector(store)
	collector.Start()

	httpServer := serveMetrics(cfg.Metrics.Address)
	logger.Info().Str("address", cfg.Metrics.Address).Msg("metrics and health endpoints up")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	recon.Stop()
	collector.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("shutdown complete")
	return nil
}

// pingDocker waits for the Docker daemon with exponential backoff. The
// agent often races dockerd at boot.
func pingDocker(engine runtime.Engine) error {
	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 2 * time.Minute

	return backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return engine.Ping(ctx)
	}, retry)
}

// resolveComputer finds this node's computer row by its configured
// name, retrying while the row has not been created yet.
func resolveComputer(store storage.Store, serverName string) (*types.Computer, error) {
	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 5 * time.Minute

	var computer *types.Computer
	err := backoff.Retry(func() error {
		found, err := store.GetComputerByName(serverName)
		if err != nil {
			return err
		}
		if found.Removed {
			return backoff.Permanent(fmt.Errorf("computer %q is marked removed", serverName))
		}
		computer = found
		return nil
	}, retry)
	if err != nil {
		return nil, fmt.Errorf("resolving computer %q: %w", serverName, err)
	}
	return computer, nil
}

// serveMetrics starts the metrics and health HTTP listener.
func serveMetrics(address string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	server := &http.Server{Addr: address, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger := log.WithComponent("agent")
			logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()
	return server
}
