package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"igmonitor/internal/httpapi"
	"igmonitor/pkg/auth"
	"igmonitor/pkg/cleanup"
	"igmonitor/pkg/config"
	"igmonitor/pkg/delivery"
	"igmonitor/pkg/health"
	"igmonitor/pkg/logger"
	"igmonitor/pkg/monitor"
	"igmonitor/pkg/source"
	"igmonitor/pkg/store"
)

var (
	runTarget    string
	runNoAPI     bool
	runStartNow  bool
	runChannelID string
)

var runCmd = &cobra.Command{
	Use:   "run [target]",
	Short: "Run the monitor service",
	Long: `Run the monitor service against a tracked account.

The target can be given as an argument, via --target, in the config file,
or later through the operator API. Credentials come from stored auth
(see "igmonitor auth") or the environment.`,
	Example: `  # Monitor an account and start polling immediately
  igmonitor run natgeo

  # Start idle; set a target and start via the operator API
  igmonitor run --no-start`,
	Args: cobra.MaximumNArgs(1),
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runTarget, "target", "", "account to monitor")
	runCmd.Flags().StringVar(&runChannelID, "channel", "", "delivery channel ID")
	runCmd.Flags().BoolVar(&runNoAPI, "no-api", false, "disable the operator HTTP API")
	runCmd.Flags().BoolVar(&runStartNow, "no-start", false, "do not start polling until told to")
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(args) == 1 {
		cfg.Source.Target = strings.TrimSpace(args[0])
	}
	if runTarget != "" {
		cfg.Source.Target = runTarget
	}
	if runChannelID != "" {
		cfg.Delivery.ChannelID = runChannelID
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := applyCredentials(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failover, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer failover.Close()

	queue := cleanup.NewQueue(cfg.Retention.QueuePause, log)
	queue.Start(ctx)
	defer queue.Stop()
	cleaner := cleanup.NewManager(failover, queue, &cfg.Retention, log)

	fetcher := source.NewClient(&cfg.Source, log)
	sink := delivery.NewTelegram(&cfg.Delivery, cfg.RateLimit.MaxRetries, log)
	mon := monitor.New(cfg, fetcher, sink, failover, cleaner, log)

	supervisor := health.NewSupervisor(&cfg.Health, []health.Check{
		{Name: "scheduler", Probe: func(ctx context.Context) error {
			if mon.PollingIntended() && !mon.Scheduler().TimerPending() {
				return fmt.Errorf("no poll cycle pending")
			}
			return nil
		}},
		{Name: "store", Probe: failover.Ping},
	}, mon.Restart, log)
	go supervisor.Run(ctx)

	var api *httpapi.Server
	if !runNoAPI {
		api = httpapi.New(cfg, mon, supervisor, log)
		go func() {
			if err := api.ListenAndServe(); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("operator API failed")
			}
		}()
	}

	if cfg.Source.Target != "" && !runStartNow {
		if err := mon.Start(ctx); err != nil {
			return err
		}
	} else {
		log.Info("monitor idle, waiting for target via API")
	}

	<-ctx.Done()
	log.Info("shutting down")
	mon.Stop()
	if api != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = api.Shutdown(shutdownCtx)
	}
	return nil
}

// applyCredentials fills secrets the config is missing from stored auth.
func applyCredentials(cfg *config.Config) error {
	if cfg.Source.SessionID != "" && cfg.Delivery.BotToken != "" {
		return nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("open credential stores: %w", err)
	}
	cred, err := manager.RetrieveDefault()
	if err != nil {
		// Run unauthenticated and let the upstream complain; some public
		// profiles work without a session.
		return nil
	}

	if cfg.Source.SessionID == "" {
		cfg.Source.SessionID = cred.SessionID
	}
	if cfg.Delivery.BotToken == "" {
		cfg.Delivery.BotToken = cred.BotToken
	}
	if cred.UserAgent != "" {
		cfg.Source.UserAgent = cred.UserAgent
	}
	return nil
}

// openStores builds the failover chain: Postgres when configured, SQLite
// when a path is set, memory-only otherwise.
func openStores(ctx context.Context, cfg *config.Config, log logger.Logger) (*store.Failover, error) {
	var primary, secondary store.Backend

	if cfg.Storage.PostgresURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			log.WithError(err).Warn("postgres unavailable, continuing without primary")
		} else {
			primary = pg
		}
	}

	if cfg.Storage.SQLitePath != "" {
		sq, err := store.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			log.WithError(err).Warn("sqlite unavailable, continuing without fallback")
		} else {
			secondary = sq
		}
	}

	if primary == nil && secondary == nil {
		log.Warn("no durable backend available, running memory-only")
	}
	if primary == nil {
		primary, secondary = secondary, nil
	}
	return store.NewFailover(primary, secondary, cfg.Storage.SnapshotPath, log), nil
}
